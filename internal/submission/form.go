// Package submission turns a confirmation form into uploaded files and a single webhook post.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uniconfirm/confirm/internal/common/config"
	"github.com/uniconfirm/confirm/internal/common/constants"
	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/selection"
)

// Messages shown to the visitor.
const (
	MsgLevelsRequired = "Please choose at least one level you are recruiting for."
	MsgEventsRequired = "Please choose at least one event you will attend."
	MsgFailed         = "Failed to submit the form. Try again or contact admin."
	MsgSucceeded      = "Confirmation submitted successfully."
)

// State is a step of a submission attempt.
type State int

// Submission states. An attempt always returns the form to Editing.
const (
	Editing State = iota
	Validating
	Uploading
	Posting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case Validating:
		return "validating"
	case Uploading:
		return "uploading"
	case Posting:
		return "posting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Uploader stores one file under a folder and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, file selection.File, folder string) (string, error)
}

// Poster delivers a payload.
type Poster interface {
	Post(ctx context.Context, p Payload) error
}

// Result is the outcome of a submission attempt.
type Result struct {
	// Outcome is Succeeded, Failed, or Editing when validation blocked the attempt.
	Outcome State
	// FieldErrors maps form field names to their message.
	FieldErrors map[string]string
	Message     string
	// Payload is the document that was posted, if any.
	Payload *Payload
	// Input is the content to render back: retained on failure, empty on success.
	Input Input
}

// Service holds the dependencies shared by every form.
type Service struct {
	catalog  config.Provider
	uploader Uploader
	webhook  Poster

	validate    *validator.Validate
	now         func() time.Time
	submissions *prometheus.CounterVec
	log         *slog.Logger
}

type options struct {
	now        func() time.Time
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// Options represents an optional function to override Service default values.
type Options func(*options)

// WithRegisterer sets the registry the submission counter is registered with.
func WithRegisterer(reg prometheus.Registerer) Options {
	return func(o *options) {
		o.registerer = reg
	}
}

// New returns a Service. A nil uploader or webhook makes every submission fail.
func New(catalog config.Provider, uploader Uploader, webhook Poster, args ...Options) *Service {
	opts := options{
		now:        time.Now,
		registerer: prometheus.NewRegistry(),
		logger:     slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		catalog:  catalog,
		uploader: uploader,
		webhook:  webhook,
		validate: v,
		now:      opts.now,
		submissions: promauto.With(opts.registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirm_submissions_total",
				Help: "Tracks the number of confirmation form submissions by result.",
			}, []string{"result"},
		),
		log: opts.logger,
	}
}

// Form is the confirmation form of one invite token.
type Form struct {
	svc   *Service
	token string

	state   State
	history []State
}

// Form returns an editable form for token, which must have passed the token gate.
func (s *Service) Form(token string) *Form {
	return &Form{svc: s, token: token, state: Editing}
}

// State returns the current state of the form.
func (f *Form) State() State { return f.state }

// History returns every state the form went through.
func (f *Form) History() []State { return slices.Clone(f.history) }

// NewNonce returns a submission nonce for a freshly rendered form.
func NewNonce() string {
	return uuid.NewString()
}

func (f *Form) enter(s State) {
	f.state = s
	f.history = append(f.history, s)
}

// Submit runs one submission attempt: validation, uploads of unresolved files, then one webhook post.
// The attempt is never retried.
func (f *Form) Submit(ctx context.Context, in Input, client ClientInfo) Result {
	log := f.svc.log.With("token_hash", gate.TokenHash(f.token))
	if in.Nonce == "" {
		in.Nonce = NewNonce()
	}
	in.Files = maps.Clone(in.Files)
	if in.Files == nil {
		in.Files = make(map[selection.Slot]SlotInput)
	}

	f.enter(Validating)
	if errs := f.svc.validateInput(in); len(errs) > 0 {
		f.svc.submissions.WithLabelValues("invalid").Inc()
		f.enter(Editing)
		return Result{Outcome: Editing, FieldErrors: errs, Message: firstMessage(errs), Input: in}
	}

	if f.svc.uploader == nil || f.svc.webhook == nil {
		log.Error("Submission is not possible: storage and webhook must be configured")
		return f.fail(in, nil)
	}

	f.enter(Uploading)
	folder := constants.InviteFolderPrefix + "/" + f.token
	var resolved Resolved
	for _, slot := range selection.Slots() {
		urls, err := f.resolveSlot(ctx, &in, slot, folder)
		if err != nil {
			log.Error("Upload failed, aborting submission", "slot", slot, "err", err)
			return f.fail(in, nil)
		}
		switch slot {
		case selection.SlotLogo:
			resolved.Logo = first(urls)
		case selection.SlotHeadshot:
			resolved.Headshot = first(urls)
		case selection.SlotAttachment:
			resolved.Attachment = first(urls)
		case selection.SlotAdditionalDocuments:
			resolved.Documents = urls
		}
	}

	f.enter(Posting)
	p := BuildPayload(f.token, in, resolved, client, f.svc.catalog.FormVersion(), f.svc.now())
	if err := f.svc.webhook.Post(ctx, p); err != nil {
		var statusErr *WebhookStatusError
		switch {
		case errors.As(err, &statusErr):
			log.Error("Webhook rejected the submission", "status", statusErr.StatusCode, "body", statusErr.Body)
		case errors.Is(err, ErrNetworkFailure):
			log.Error("Webhook unreachable", "err", err)
		default:
			log.Error("Webhook post failed", "err", err)
		}
		return f.fail(in, &p)
	}

	f.enter(Succeeded)
	f.svc.submissions.WithLabelValues("succeeded").Inc()
	log.Info("Confirmation submitted", "idempotency_key", p.SystemMetadata.IdempotencyKey)
	f.enter(Editing)
	return Result{Outcome: Succeeded, Message: MsgSucceeded, Payload: &p, Input: Input{Nonce: NewNonce()}}
}

// resolveSlot uploads the files of slot and returns every URL of the slot.
// Uploaded files are turned into URLs in the input, so that a retry does not upload them again.
func (f *Form) resolveSlot(ctx context.Context, in *Input, slot selection.Slot, folder string) ([]string, error) {
	s := in.Files[slot]
	if s.Empty() {
		return nil, nil
	}

	multiple := slot.Config().Multiple
	if !multiple && len(s.URLs) > 0 {
		s.Files = nil
		in.Files[slot] = s
		return s.URLs[:1], nil
	}

	for len(s.Files) > 0 {
		url, err := f.svc.uploader.Upload(ctx, s.Files[0], folder)
		if err != nil {
			in.Files[slot] = s
			return nil, err
		}
		s.URLs = append(s.URLs, url)
		s.Files = s.Files[1:]
		if !multiple {
			s.Files = nil
		}
	}
	in.Files[slot] = s
	return slices.Clone(s.URLs), nil
}

func (f *Form) fail(in Input, p *Payload) Result {
	f.enter(Failed)
	f.svc.submissions.WithLabelValues("failed").Inc()
	f.enter(Editing)
	return Result{Outcome: Failed, Message: MsgFailed, Payload: p, Input: in}
}

// validateInput returns field errors keyed by form field name. Levels and events are checked first.
func (s *Service) validateInput(in Input) map[string]string {
	errs := make(map[string]string)
	if len(in.Levels) == 0 {
		errs["levels_recruiting_for"] = MsgLevelsRequired
		return errs
	}
	if len(in.Events) == 0 {
		errs["multi_event_selection"] = MsgEventsRequired
		return errs
	}

	checkOptions(errs, "levels_recruiting_for", in.Levels, s.catalog.Levels())
	checkOptions(errs, "multi_event_selection", in.Events, s.catalog.Events())
	checkOptions(errs, "preferred_time_slots", in.TimeSlots, s.catalog.TimeSlots())

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs["form"] = "The form could not be validated."
			return errs
		}
		for _, fe := range verrs {
			errs[fe.Field()] = fieldMessage(fe)
		}
	}
	return errs
}

func checkOptions(errs map[string]string, field string, picked, offered []string) {
	for _, v := range picked {
		if !slices.Contains(offered, v) {
			errs[field] = fmt.Sprintf("%q is not one of the available options.", v)
			return
		}
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "email":
		return "Please enter a valid email address."
	case "url":
		return "Please enter a valid link, starting with https://."
	case "max":
		return "This value is too long."
	default:
		return "This value is not valid."
	}
}

// firstMessage returns the message of the first field error, in form order.
func firstMessage(errs map[string]string) string {
	for _, field := range fieldOrder {
		if msg, ok := errs[field]; ok {
			return msg
		}
	}
	for _, msg := range errs {
		return msg
	}
	return ""
}

var fieldOrder = []string{
	"university_name", "city", "state", "country",
	"rep_name", "rep_designation", "rep_email", "rep_phone",
	"submitter_name", "submitter_contact",
	"levels_recruiting_for", "multi_event_selection", "preferred_time_slots",
	"highlights", "deposit_link", "remarks",
}

func first(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
