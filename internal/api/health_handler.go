package api

import (
	"encoding/json"
	"net/http"

	"github.com/vikasavnish/autotrade/internal/handlers"
)

// HealthHandler responds to health check requests
func HealthHandler(feed handlers.ConnectionReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feedStatus := "disconnected"
		if feed != nil && feed.Connected() {
			feedStatus = "connected"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": "1.0.0",
			"feed":    feedStatus,
		})
	}
}
