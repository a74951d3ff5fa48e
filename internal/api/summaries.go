package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wednesday-solutions/my-memories-sub001/internal/api/respond"
	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
)

type SummaryHandler struct {
	store store.Store
}

// GetMaster returns the master memory, or an empty revision 0 before the first merge.
func (h *SummaryHandler) GetMaster(w http.ResponseWriter, r *http.Request) {
	mm, err := h.store.Summaries().GetMaster(r.Context())
	if errors.Is(err, model.ErrNotFound) {
		mm, err = &model.MasterMemory{}, nil
	}
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, mm)
}

func (h *SummaryHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	cs, err := h.store.Summaries().GetChat(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, cs)
}
