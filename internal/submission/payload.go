package submission

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/uniconfirm/confirm/internal/common/constants"
)

// TokenStatusConfirmed is the status sent with every submission.
const TokenStatusConfirmed = constants.TokenStatusConfirmed

// Payload is the JSON document posted to the automation webhook.
type Payload struct {
	InviteToken   string    `json:"invite_token"`
	TokenStatus   string    `json:"token_status"`
	ConfirmedFrom string    `json:"confirmed_from"`
	ConfirmedAt   time.Time `json:"confirmed_at"`

	UniversityName *string `json:"university_name"`
	UniversityLogo *string `json:"university_logo"`

	City    *string `json:"city"`
	State   *string `json:"state"`
	Country *string `json:"country"`

	RepresentativeName        *string `json:"representative_name"`
	RepresentativeDesignation *string `json:"representative_designation"`
	RepresentativeEmail       *string `json:"representative_email"`
	RepresentativePhoneNumber *string `json:"representative_phone_number"`
	RepresentativeHeadshot    *string `json:"representative_headshot_file"`

	SubmitterName    *string `json:"submitter_name"`
	SubmitterContact *string `json:"submitter_contact"`

	LevelsRecruitingFor []string `json:"levels_recruiting_for"`
	MultiEventSelection []string `json:"multi_event_selection"`
	PreferredTimeSlots  []string `json:"preferred_time_slots"`

	HighlightsOrFocus *string `json:"highlights_or_focus"`
	DepositLink       *string `json:"deposit_link"`
	Remarks           *string `json:"remarks"`

	AttachmentFile          *string  `json:"attachment_file"`
	AdditionalDocumentsList []string `json:"additional_documents_list"`

	ContactConsent bool `json:"contact_consent"`

	ClientMetadata ClientMetadata `json:"client_metadata"`
	SystemMetadata SystemMetadata `json:"system_metadata"`
}

// ClientMetadata describes the browser that submitted the form.
type ClientMetadata struct {
	SubmittedAt time.Time `json:"submitted_at"`
	UserAgent   *string   `json:"user_agent"`
	Platform    *string   `json:"platform"`
	IP          *string   `json:"ip"`
}

// SystemMetadata describes the form that produced the payload.
type SystemMetadata struct {
	FormVersion      string  `json:"form_version"`
	SourceCampaignID *string `json:"source_campaign_id"`
	RawFormData      any     `json:"raw_form_data"`
	IdempotencyKey   string  `json:"idempotency_key"`
}

// ClientInfo is what is known of the submitting browser.
type ClientInfo struct {
	UserAgent string
	Platform  string
	IP        string
}

// Resolved holds the public URLs of each file slot.
type Resolved struct {
	Logo       string
	Headshot   string
	Attachment string
	Documents  []string
}

// BuildPayload assembles the payload of a submission whose files are all resolved.
func BuildPayload(token string, in Input, files Resolved, client ClientInfo, formVersion string, now time.Time) Payload {
	now = now.UTC()

	confirmedFrom := strings.TrimSpace(in.ConfirmedFrom)
	if confirmedFrom == "" {
		confirmedFrom = "unknown"
	}

	var docs []string
	if len(files.Documents) > 0 {
		docs = append([]string(nil), files.Documents...)
	}

	timeSlots := append([]string{}, in.TimeSlots...)

	return Payload{
		InviteToken:   token,
		TokenStatus:   TokenStatusConfirmed,
		ConfirmedFrom: confirmedFrom,
		ConfirmedAt:   now,

		UniversityName: nullable(in.UniversityName),
		UniversityLogo: nullable(files.Logo),

		City:    nullable(in.City),
		State:   nullable(in.State),
		Country: nullable(in.Country),

		RepresentativeName:        nullable(in.RepName),
		RepresentativeDesignation: nullable(in.RepDesignation),
		RepresentativeEmail:       nullable(in.RepEmail),
		RepresentativePhoneNumber: nullable(in.RepPhone),
		RepresentativeHeadshot:    nullable(files.Headshot),

		SubmitterName:    nullable(in.SubmitterName),
		SubmitterContact: nullable(in.SubmitterContact),

		LevelsRecruitingFor: append([]string{}, in.Levels...),
		MultiEventSelection: append([]string{}, in.Events...),
		PreferredTimeSlots:  timeSlots,

		HighlightsOrFocus: nullable(in.Highlights),
		DepositLink:       nullable(in.DepositLink),
		Remarks:           nullable(in.Remarks),

		AttachmentFile:          nullable(files.Attachment),
		AdditionalDocumentsList: docs,

		ContactConsent: in.Consent,

		ClientMetadata: ClientMetadata{
			SubmittedAt: now,
			UserAgent:   nullable(client.UserAgent),
			Platform:    nullable(client.Platform),
			IP:          nullable(client.IP),
		},
		SystemMetadata: SystemMetadata{
			FormVersion:      formVersion,
			SourceCampaignID: nullable(in.SourceCampaignID),
			IdempotencyKey:   IdempotencyKey(token, in.Nonce),
		},
	}
}

// IdempotencyKey derives the key shared by every attempt made from the same rendered form.
func IdempotencyKey(token, nonce string) string {
	sum := sha256.Sum256([]byte(token + ":" + nonce))
	return hex.EncodeToString(sum[:])
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
