package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/uniconfirm/confirm/internal/common/config"
	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/selection"
	"github.com/uniconfirm/confirm/internal/submission"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("pages").ParseFS(templateFS, "templates/*.html"))

// render writes the named page. Nothing is written to w if the page fails to render.
func render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Failed to render page", "page", name, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write JSON response", "err", err)
	}
}

type noticeView struct {
	Title   string
	Message string
	Kind    string
}

func renderNotice(w http.ResponseWriter, d gate.Decision) {
	kind := "error"
	if d.Outcome == gate.AlreadyConfirmed {
		kind = "info"
	}
	render(w, noticeStatus(d.Outcome), "notice", noticeView{
		Title:   "University Confirmation Form",
		Message: d.Outcome.Message(),
		Kind:    kind,
	})
}

type textField struct {
	Name        string
	Placeholder string
	Type        string
	Value       string
	Error       string
	Required    bool
	Textarea    bool
}

type option struct {
	Value   string
	Checked bool
}

type optionGroup struct {
	Name    string
	Label   string
	Options []option
	Error   string
}

type slotView struct {
	Name     string
	Label    string
	Accept   string
	Multiple bool
	MaxSize  string
	URLField string
	URLs     []string
	Error    string
	Warning  string
}

type formView struct {
	Title      string
	Action     string
	UploadBase string
	Notice     string
	NoticeKind string

	Fields map[string]textField
	Levels optionGroup
	Events optionGroup
	Slots  optionGroup
	Files  map[string]slotView

	Consent          bool
	ConfirmedFrom    string
	SourceCampaignID string
	Nonce            string
}

// newFormView builds the form page of token, filled with in.
func newFormView(token string, catalog config.Provider, in submission.Input, fieldErrs map[string]string, slotErrs, slotWarnings map[selection.Slot]string) formView {
	action := "/confirm/" + url.PathEscape(token)
	v := formView{
		Title:      "University Confirmation Form",
		Action:     action,
		UploadBase: action + "/uploads/",
		Fields:     make(map[string]textField),
		Files:      make(map[string]slotView),

		Consent:          in.Consent,
		ConfirmedFrom:    in.ConfirmedFrom,
		SourceCampaignID: in.SourceCampaignID,
		Nonce:            in.Nonce,
	}

	for _, f := range []textField{
		{Name: "university_name", Placeholder: "University Name", Value: in.UniversityName, Required: true},
		{Name: "city", Placeholder: "City", Value: in.City, Required: true},
		{Name: "state", Placeholder: "State", Value: in.State, Required: true},
		{Name: "country", Placeholder: "Country", Value: in.Country, Required: true},
		{Name: "rep_name", Placeholder: "Representative Name", Value: in.RepName, Required: true},
		{Name: "rep_designation", Placeholder: "Designation", Value: in.RepDesignation, Required: true},
		{Name: "rep_email", Placeholder: "Email", Type: "email", Value: in.RepEmail, Required: true},
		{Name: "rep_phone", Placeholder: "Phone Number", Value: in.RepPhone, Required: true},
		{Name: "submitter_name", Placeholder: "Submitter Name", Value: in.SubmitterName},
		{Name: "submitter_contact", Placeholder: "Submitter Contact", Value: in.SubmitterContact},
		{Name: "highlights", Placeholder: "Paste your focus areas", Value: in.Highlights, Textarea: true},
		{Name: "deposit_link", Placeholder: "Paste your official application or deposit payment link", Type: "url", Value: in.DepositLink},
		{Name: "remarks", Placeholder: "Paste your additional remarks", Value: in.Remarks, Textarea: true},
	} {
		if f.Type == "" {
			f.Type = "text"
		}
		f.Error = fieldErrs[f.Name]
		v.Fields[f.Name] = f
	}

	v.Levels = newOptionGroup("levels_recruiting_for", "Levels Recruiting For *", catalog.Levels(), in.Levels, fieldErrs)
	v.Events = newOptionGroup("multi_event_selection", "Events You Will Attend *", catalog.Events(), in.Events, fieldErrs)
	v.Slots = newOptionGroup("preferred_time_slots", "Preferred Time Slots (optional)", catalog.TimeSlots(), in.TimeSlots, fieldErrs)

	for _, slot := range selection.Slots() {
		cfg := slot.Config()
		sv := slotView{
			Name:     string(slot),
			Label:    cfg.Label,
			Accept:   cfg.Accept,
			Multiple: cfg.Multiple,
			MaxSize:  cfg.MaxSizeLabel(),
			URLField: slot.URLField(),
			Error:    slotErrs[slot],
			Warning:  slotWarnings[slot],
		}
		if s, ok := in.Files[slot]; ok {
			sv.URLs = slices.Clone(s.URLs)
		}
		v.Files[string(slot)] = sv
	}

	return v
}

func newOptionGroup(name, label string, offered, picked []string, fieldErrs map[string]string) optionGroup {
	g := optionGroup{Name: name, Label: label, Error: fieldErrs[name]}
	for _, o := range offered {
		g.Options = append(g.Options, option{Value: o, Checked: slices.Contains(picked, o)})
	}
	return g
}
