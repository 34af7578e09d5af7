package handlers

import (
	"net/http"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/lifecycle"
)

// HealthHandler reports process liveness.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// ReadyHandler reports readiness for new interviews; draining flips it to 503.
func ReadyHandler(state *lifecycle.State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if state.Draining() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}
