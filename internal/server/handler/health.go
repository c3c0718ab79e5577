package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes. It reports process uptime only;
// dependency failures surface through the API's error responses rather than
// flipping this endpoint.
type HealthHandler struct {
	logger    *slog.Logger
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger:    logHandler(logger, "health"),
		startedAt: time.Now().UTC(),
	}
}

// HealthCheck reports the server alive with its uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
