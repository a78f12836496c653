package handlers

import (
	"net/http"

	"github.com/uniconfirm/confirm/internal/common/constants"
)

// VersionHandler handles requests to the /version endpoint.
func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": constants.Version})
}
