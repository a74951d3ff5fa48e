package api

import (
	"net/http"

	"github.com/wednesday-solutions/my-memories-sub001/internal/api/respond"
)

type GraphHandler struct {
	graph GraphReader
}

// GetGraph handles GET /api/graph?limit=.
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 200)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	g, err := h.graph.Snapshot(r.Context(), limit)
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, g)
}
