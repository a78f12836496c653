package handlers

import (
	"log/slog"
	"net/http"

	"github.com/uniconfirm/confirm/internal/common/config"
	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/submission"
	"github.com/uniconfirm/confirm/internal/webservice/middleware"
)

// Page renders the confirmation page of a token: a notice, or an empty form.
type Page struct {
	gate    Gate
	catalog config.Provider
}

// NewPage creates a new Page handler.
func NewPage(g Gate, catalog config.Provider) *Page {
	return &Page{gate: g, catalog: catalog}
}

// ServeHTTP handles GET /confirm/{token}.
func (h *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d := h.gate.Check(r.Context(), r.PathValue("token"))
	slog.Debug("Confirmation page requested",
		"req_id", middleware.RequestIDFrom(r.Context()),
		"token_hash", gate.TokenHash(d.Token),
		"outcome", d.Outcome)
	if d.Outcome != gate.Valid {
		renderNotice(w, d)
		return
	}

	q := r.URL.Query()
	in := submission.Input{
		ConfirmedFrom:    q.Get("from"),
		SourceCampaignID: q.Get("campaign"),
		Nonce:            submission.NewNonce(),
	}
	render(w, http.StatusOK, "form", newFormView(d.Token, h.catalog, in, nil, nil, nil))
}
