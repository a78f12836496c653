package handlers

import "net/http"

// LandingHandler explains visitors that confirmations go through invite links.
func LandingHandler(w http.ResponseWriter, _ *http.Request) {
	render(w, http.StatusOK, "landing", nil)
}
