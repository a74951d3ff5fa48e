package api

import (
	"net/http"
	"time"

	"github.com/wednesday-solutions/my-memories-sub001/internal/api/respond"
	"github.com/wednesday-solutions/my-memories-sub001/internal/pipeline"
)

type HealthHandler struct {
	pipeline StatusReporter
	health   ComponentHealth
}

// CheckHealth handles GET /api/health.
// Always returns 200; the body reports healthy, degraded, failed or unhealthy.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	resp := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}

	if h.health != nil {
		resp["components"] = h.health.Components()
		if !h.health.IsHealthy() {
			status = "unhealthy"
		}
	}
	if h.pipeline != nil {
		st := h.pipeline.Status()
		resp["pipeline"] = st
		switch st {
		case pipeline.StatusFailed:
			status = "failed"
			resp["reason"] = h.pipeline.Reason()
		case pipeline.StatusDegraded:
			status = "degraded"
			resp["reason"] = h.pipeline.Reason()
		}
	}
	resp["status"] = status
	respond.WriteJSON(w, http.StatusOK, resp)
}
