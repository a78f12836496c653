package selection

import (
	"encoding/base64"
	"io"
	"log/slog"
	"strings"
)

// maxPreviewBytes bounds the images inlined into the page.
const maxPreviewBytes = 512 * 1024

// DataURIPreview inlines small images as a data URI. Larger or unreadable images get no preview.
func DataURIPreview(file File) (string, func()) {
	if file.Open == nil || file.Size <= 0 || file.Size > maxPreviewBytes {
		return "", nil
	}

	r, err := file.Open()
	if err != nil {
		slog.Debug("Could not open file for preview", "file", file.Name, "err", err)
		return "", nil
	}
	defer r.Close()

	b, err := io.ReadAll(io.LimitReader(r, maxPreviewBytes+1))
	if err != nil || len(b) > maxPreviewBytes {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("data:")
	sb.WriteString(file.ContentType)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(b))
	return sb.String(), nil
}
