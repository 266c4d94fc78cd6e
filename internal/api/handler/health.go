package handler

import (
	"net/http"

	"github.com/kavarel/gigpilot/internal/api/response"
	"github.com/kavarel/gigpilot/internal/storage"
)

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including storage health
func ReadyCheck(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store.Invalidated() {
			response.Error(w, http.StatusServiceUnavailable, "storage degraded to cache-only")
			return
		}

		response.OK(w, map[string]string{
			"status": "ready",
		})
	}
}
