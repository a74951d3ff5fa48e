package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/api/respond"
	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 500
	maxQueryLen  = 2000
)

type MemoryHandler struct {
	store    store.Store
	embedder QueryEmbedder
	log      zerolog.Logger
}

// parseLimit reads ?limit=, defaulting when absent.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
	}
	return n, nil
}

func (h *MemoryHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	frags, err := h.store.Fragments().ListRecent(r.Context(), limit)
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	if frags == nil {
		frags = []*model.MemoryFragment{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"memories": frags, "count": len(frags)})
}

func (h *MemoryHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	f, err := h.store.Fragments().Get(r.Context(), mux.Vars(r)["memoryId"])
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, f)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func decodeSearchRequest(w http.ResponseWriter, r *http.Request) (searchRequest, error) {
	var req searchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid JSON body: %v", err)
	}
	req.Query = strings.TrimSpace(req.Query)
	switch {
	case req.Query == "":
		return req, fmt.Errorf("query is required")
	case len(req.Query) > maxQueryLen:
		return req, fmt.Errorf("query exceeds %d characters", maxQueryLen)
	case req.Limit < 0 || req.Limit > maxLimit:
		return req, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	case req.Limit == 0:
		req.Limit = 10
	}
	return req, nil
}

// Search handles POST /api/search. It ranks by embedding similarity and falls
// back to text matching when the embedder is unavailable.
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSearchRequest(w, r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	q := model.Query{Text: req.Query, Limit: req.Limit}
	mode := "text"
	if h.embedder != nil {
		vec, err := h.embedder.EmbedQuery(r.Context(), req.Query)
		if err == nil {
			q.Embedding = vec
			mode = "embedding"
		} else {
			h.log.Warn().Err(err).Msg("query embedding failed, using text match")
		}
	}

	hits, err := h.store.Fragments().Query(r.Context(), q)
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	if hits == nil {
		hits = []model.ScoredFragment{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"results": hits, "count": len(hits), "mode": mode})
}
