package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wednesday-solutions/my-memories-sub001/internal/api/respond"
)

type TriggerHandler struct {
	trigger Triggerer
}

type triggerRequest struct {
	App string `json:"app"`
}

// Trigger handles POST /api/triggers. The desktop shell calls it when a
// watched application gains focus.
func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	app := strings.TrimSpace(req.App)
	if app == "" {
		respond.WriteBadRequest(w, "app is required")
		return
	}
	if !h.trigger.Trigger(app) {
		respond.WriteError(w, http.StatusTooManyRequests, "capture for "+app+" not accepted")
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, map[string]any{"app": app, "accepted": true})
}
