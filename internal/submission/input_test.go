package submission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniconfirm/confirm/internal/selection"
	"github.com/uniconfirm/confirm/internal/submission"
)

func TestDecodeInput(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		values map[string][]string

		want submission.Input
	}{
		"Scalar fields take the first trimmed value": {
			values: map[string][]string{
				"university_name": {"  Example University ", "ignored"},
				"rep_email":       {"rep@example.edu"},
				"remarks":         {""},
			},
			want: submission.Input{UniversityName: "Example University", RepEmail: "rep@example.edu"},
		},
		"Array fields accept bracket names and drop blanks and duplicates": {
			values: map[string][]string{
				"levels_recruiting_for[]": {"Masters", " ", "Masters", "Diploma"},
				"multi_event_selection":   {"Webinar"},
				"preferred_time_slots[]":  {"2 PM - 3 PM"},
			},
			want: submission.Input{
				Levels:    []string{"Masters", "Diploma"},
				Events:    []string{"Webinar"},
				TimeSlots: []string{"2 PM - 3 PM"},
			},
		},
		"Checkbox on is consent": {
			values: map[string][]string{"consent": {"on"}},
			want:   submission.Input{Consent: true},
		},
		"Checkbox true is consent": {
			values: map[string][]string{"consent": {"true"}},
			want:   submission.Input{Consent: true},
		},
		"Anything else is no consent": {
			values: map[string][]string{"consent": {"off"}},
			want:   submission.Input{},
		},
		"Metadata fields are decoded": {
			values: map[string][]string{
				"confirmed_from":     {"email"},
				"source_campaign_id": {"spring-25"},
				"submission_nonce":   {"nonce-1"},
			},
			want: submission.Input{ConfirmedFrom: "email", SourceCampaignID: "spring-25", Nonce: "nonce-1"},
		},
		"Pre-resolved URLs are attached to their slot": {
			values: map[string][]string{
				"logo_url":                 {"https://cdn/logo.png", "https://cdn/other.png"},
				"additional_documents_url": {"https://cdn/a.pdf", "https://cdn/b.pdf"},
				"attachment_url":           {""},
			},
			want: submission.Input{Files: map[selection.Slot]submission.SlotInput{
				selection.SlotLogo:                {URLs: []string{"https://cdn/logo.png"}},
				selection.SlotAdditionalDocuments: {URLs: []string{"https://cdn/a.pdf", "https://cdn/b.pdf"}},
			}},
		},
		"Unknown fields are ignored": {
			values: map[string][]string{"password": {"hunter2"}},
			want:   submission.Input{},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := submission.DecodeInput(tc.values)
			require.NoError(t, err, "DecodeInput should not fail")

			if tc.want.Levels == nil {
				tc.want.Levels = []string{}
			}
			if tc.want.Events == nil {
				tc.want.Events = []string{}
			}
			if tc.want.TimeSlots == nil {
				tc.want.TimeSlots = []string{}
			}
			if tc.want.Files == nil {
				tc.want.Files = map[selection.Slot]submission.SlotInput{}
			}
			assert.Equal(t, tc.want, got, "Unexpected decoded input")
		})
	}
}

func TestAttachFiles(t *testing.T) {
	t.Parallel()

	var in submission.Input
	in.AttachFiles(selection.SlotAttachment, []selection.File{{Name: "a.pdf"}})
	in.AttachFiles(selection.SlotAttachment, []selection.File{{Name: "b.pdf"}})

	require.Len(t, in.Files[selection.SlotAttachment].Files, 2, "Files should accumulate")
	assert.False(t, in.Files[selection.SlotAttachment].Empty(), "Slot should not be empty")
	assert.True(t, in.Files[selection.SlotLogo].Empty(), "Other slots should be empty")
}
