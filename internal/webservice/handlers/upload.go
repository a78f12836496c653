package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/uniconfirm/confirm/internal/common/constants"
	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/selection"
	"github.com/uniconfirm/confirm/internal/submission"
	"github.com/uniconfirm/confirm/internal/webservice/middleware"
)

// Messages of the slot upload endpoint.
const (
	MsgUnknownSlot     = "Unknown file field."
	MsgNoFile          = "No file was selected."
	MsgUploadFailed    = "Upload failed. Try again or contact admin."
	MsgUploadsDisabled = "Uploads are not available. Please contact support."
)

// SlotUploadResponse is the JSON response of the slot upload endpoint.
type SlotUploadResponse struct {
	URLs    []string `json:"urls,omitempty"`
	Warning string   `json:"warning,omitempty"`
	Preview string   `json:"preview,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// SlotUpload uploads the selection of one file slot right away, so that the form only carries its URLs.
type SlotUpload struct {
	gate           Gate
	uploader       submission.Uploader
	maxUploadBytes int64
}

// NewSlotUpload creates a new SlotUpload handler. A nil uploader makes every upload fail.
func NewSlotUpload(g Gate, uploader submission.Uploader, maxUploadBytes int64) *SlotUpload {
	return &SlotUpload{
		gate:           g,
		uploader:       uploader,
		maxUploadBytes: maxUploadBytes,
	}
}

// ServeHTTP handles POST /confirm/{token}/uploads/{slot}.
func (h *SlotUpload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d := h.gate.Check(r.Context(), r.PathValue("token"))
	if d.Outcome != gate.Valid {
		writeJSON(w, noticeStatus(d.Outcome), SlotUploadResponse{Error: d.Outcome.Message()})
		return
	}
	slot, ok := selection.ParseSlot(r.PathValue("slot"))
	if !ok {
		writeJSON(w, http.StatusNotFound, SlotUploadResponse{Error: MsgUnknownSlot})
		return
	}
	log := slog.With("req_id", middleware.RequestIDFrom(r.Context()), "token_hash", gate.TokenHash(d.Token), "slot", slot)

	if h.uploader == nil {
		log.Error("Upload is not possible: storage is not configured")
		writeJSON(w, http.StatusServiceUnavailable, SlotUploadResponse{Error: MsgUploadsDisabled})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, SlotUploadResponse{Error: "The upload is too large."})
			return
		}
		log.Info("Upload rejected, malformed form", "err", err)
		writeJSON(w, http.StatusBadRequest, SlotUploadResponse{Error: MsgNoFile})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, SlotUploadResponse{Error: MsgNoFile})
		return
	}
	files := make([]selection.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, selection.FromMultipart(fh))
	}

	var picked selection.Value
	field := selection.NewField(slot.Config(), func(v selection.Value) { picked = v })
	defer field.Clear()
	field.Pick(files)
	if err := field.Err(); err != nil {
		log.Info("Upload rejected by file selection", "err", err)
		writeJSON(w, http.StatusUnprocessableEntity, SlotUploadResponse{Error: err.Error()})
		return
	}

	folder := constants.InviteFolderPrefix + "/" + d.Token
	resp := SlotUploadResponse{Warning: field.Warning(), Preview: field.Preview()}
	for _, f := range picked.Files() {
		url, err := h.uploader.Upload(r.Context(), f, folder)
		if err != nil {
			log.Error("Upload failed", "file", f.Name, "err", err)
			writeJSON(w, http.StatusBadGateway, SlotUploadResponse{URLs: resp.URLs, Error: MsgUploadFailed})
			return
		}
		resp.URLs = append(resp.URLs, url)
	}
	log.Info("Files uploaded", "count", len(resp.URLs))
	writeJSON(w, http.StatusOK, resp)
}
