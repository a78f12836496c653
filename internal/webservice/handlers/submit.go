package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"

	"github.com/uniconfirm/confirm/internal/common/config"
	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/selection"
	"github.com/uniconfirm/confirm/internal/submission"
	"github.com/uniconfirm/confirm/internal/webservice/middleware"
)

// MsgSelectionRejected is shown when a file selection blocks the submission.
const MsgSelectionRejected = "Please fix the highlighted files before submitting."

// Submit handles confirmation form submissions.
type Submit struct {
	gate           Gate
	forms          Forms
	catalog        config.Provider
	maxUploadBytes int64
}

// NewSubmit creates a new Submit handler.
func NewSubmit(g Gate, forms Forms, catalog config.Provider, maxUploadBytes int64) *Submit {
	return &Submit{
		gate:           g,
		forms:          forms,
		catalog:        catalog,
		maxUploadBytes: maxUploadBytes,
	}
}

// ServeHTTP handles POST /confirm/{token}.
func (h *Submit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d := h.gate.Check(r.Context(), r.PathValue("token"))
	if d.Outcome != gate.Valid {
		renderNotice(w, d)
		return
	}
	log := slog.With("req_id", middleware.RequestIDFrom(r.Context()), "token_hash", gate.TokenHash(d.Token))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Info("Submission rejected, request too large", "limit", tooLarge.Limit)
			http.Error(w, "The submission is too large.", http.StatusRequestEntityTooLarge)
			return
		}
		log.Info("Submission rejected, malformed form", "err", err)
		http.Error(w, "Invalid form submission.", http.StatusBadRequest)
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	in, err := submission.DecodeInput(r.PostForm)
	if err != nil {
		log.Info("Submission rejected, undecodable form", "err", err)
		http.Error(w, "Invalid form submission.", http.StatusBadRequest)
		return
	}

	slotErrs, warnings := attachFiles(&in, r.MultipartForm)
	if len(slotErrs) > 0 {
		log.Info("Submission blocked by file selection", "slots", len(slotErrs))
		v := newFormView(d.Token, h.catalog, in, nil, slotErrs, warnings)
		v.Notice, v.NoticeKind = MsgSelectionRejected, "error"
		render(w, http.StatusUnprocessableEntity, "form", v)
		return
	}

	res := h.forms.Form(d.Token).Submit(r.Context(), in, clientInfo(r))

	status, kind := http.StatusUnprocessableEntity, "error"
	switch res.Outcome {
	case submission.Succeeded:
		status, kind = http.StatusOK, "success"
		warnings = nil
	case submission.Failed:
		status = http.StatusBadGateway
	}
	v := newFormView(d.Token, h.catalog, res.Input, res.FieldErrors, nil, warnings)
	v.Notice, v.NoticeKind = res.Message, kind
	render(w, status, "form", v)
}

// attachFiles runs the file selection of every slot on the posted files and attaches the accepted ones to in.
// A rejected selection leaves its slot untouched and is reported by slot.
func attachFiles(in *submission.Input, form *multipart.Form) (errs, warnings map[selection.Slot]string) {
	errs = make(map[selection.Slot]string)
	warnings = make(map[selection.Slot]string)
	if form == nil {
		return errs, warnings
	}

	for _, slot := range selection.Slots() {
		headers := slices.Concat(form.File[string(slot)], form.File[string(slot)+"[]"])
		if len(headers) == 0 {
			continue
		}
		files := make([]selection.File, 0, len(headers))
		for _, fh := range headers {
			files = append(files, selection.FromMultipart(fh))
		}

		var picked selection.Value
		field := selection.NewField(slot.Config(), func(v selection.Value) { picked = v }, selection.WithPreviewer(nil))
		field.Pick(files)
		if err := field.Err(); err != nil {
			errs[slot] = err.Error()
			continue
		}
		if w := field.Warning(); w != "" {
			warnings[slot] = w
		}
		if picked.Kind() == selection.None {
			continue
		}

		if !slot.Config().Multiple {
			// A newly picked file supersedes a file uploaded earlier.
			in.Files[slot] = submission.SlotInput{}
		}
		in.AttachFiles(slot, picked.Files())
	}
	return errs, warnings
}
