package submission

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/uniconfirm/confirm/internal/selection"
)

// Input is the typed content of a submitted confirmation form.
type Input struct {
	UniversityName string `mapstructure:"university_name" validate:"max=200"`
	City           string `mapstructure:"city" validate:"max=100"`
	State          string `mapstructure:"state" validate:"max=100"`
	Country        string `mapstructure:"country" validate:"max=100"`

	RepName        string `mapstructure:"rep_name" validate:"max=200"`
	RepDesignation string `mapstructure:"rep_designation" validate:"max=200"`
	RepEmail       string `mapstructure:"rep_email" validate:"omitempty,email,max=254"`
	RepPhone       string `mapstructure:"rep_phone" validate:"omitempty,max=40"`

	SubmitterName    string `mapstructure:"submitter_name" validate:"max=200"`
	SubmitterContact string `mapstructure:"submitter_contact" validate:"max=200"`

	Levels    []string `mapstructure:"levels_recruiting_for"`
	Events    []string `mapstructure:"multi_event_selection"`
	TimeSlots []string `mapstructure:"preferred_time_slots"`

	Highlights  string `mapstructure:"highlights" validate:"max=5000"`
	DepositLink string `mapstructure:"deposit_link" validate:"omitempty,url,max=2000"`
	Remarks     string `mapstructure:"remarks" validate:"max=5000"`

	Consent bool `mapstructure:"consent"`

	ConfirmedFrom    string `mapstructure:"confirmed_from" validate:"max=100"`
	SourceCampaignID string `mapstructure:"source_campaign_id" validate:"max=100"`
	Nonce            string `mapstructure:"submission_nonce" validate:"max=100"`

	// Files holds the file inputs, keyed by slot.
	Files map[selection.Slot]SlotInput `mapstructure:"-"`
}

// SlotInput is the content of one file input: URLs already uploaded, and files still to upload.
type SlotInput struct {
	URLs  []string
	Files []selection.File
}

// Empty reports whether the slot holds nothing.
func (s SlotInput) Empty() bool {
	return len(s.URLs) == 0 && len(s.Files) == 0
}

// DecodeInput decodes multipart form values into an Input.
//
// Array fields may be posted as "name" or "name[]". Pre-resolved URLs of each slot are read from
// the slot URL field. Files are not part of values and have to be attached by the caller.
func DecodeInput(values map[string][]string) (Input, error) {
	normalized := make(map[string][]string, len(values))
	for k, v := range values {
		k = strings.TrimSuffix(k, "[]")
		normalized[k] = append(normalized[k], v...)
	}

	var in Input
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.DecodeHookFuncType(formValueHook),
		Result:     &in,
	})
	if err != nil {
		return Input{}, fmt.Errorf("could not create form decoder: %v", err)
	}
	if err := dec.Decode(normalized); err != nil {
		return Input{}, fmt.Errorf("could not decode form: %v", err)
	}

	in.Levels = cleanList(in.Levels)
	in.Events = cleanList(in.Events)
	in.TimeSlots = cleanList(in.TimeSlots)

	in.Files = make(map[selection.Slot]SlotInput)
	for _, slot := range selection.Slots() {
		urls := cleanList(normalized[slot.URLField()])
		if len(urls) == 0 {
			continue
		}
		if !slot.Config().Multiple {
			urls = urls[:1]
		}
		in.Files[slot] = SlotInput{URLs: urls}
	}

	return in, nil
}

// AttachFiles adds files picked for slot.
func (in *Input) AttachFiles(slot selection.Slot, files []selection.File) {
	if in.Files == nil {
		in.Files = make(map[selection.Slot]SlotInput)
	}
	s := in.Files[slot]
	s.Files = append(s.Files, files...)
	in.Files[slot] = s
}

// formValueHook maps posted value lists onto scalar fields.
func formValueHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	vals, ok := data.([]string)
	if !ok {
		return data, nil
	}

	switch to.Kind() {
	case reflect.String:
		if len(vals) == 0 {
			return "", nil
		}
		return strings.TrimSpace(vals[0]), nil
	case reflect.Bool:
		if len(vals) == 0 {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(vals[0])) {
		case "on", "true", "1", "yes":
			return true, nil
		default:
			return false, nil
		}
	default:
		return data, nil
	}
}

// cleanList trims values and drops blanks and duplicates, keeping the first occurrence.
func cleanList(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
