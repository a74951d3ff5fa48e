// Package api serves the read-only query surface consumed by the desktop UI.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/api/recovery"
	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/pipeline"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type GraphReader interface {
	Snapshot(ctx context.Context, limit int) (*model.Graph, error)
}

type StatusReporter interface {
	Status() pipeline.Status
	Reason() string
}

// Triggerer queues an out-of-schedule capture, e.g. on a focus change.
type Triggerer interface {
	Trigger(app string) bool
}

type ComponentHealth interface {
	IsHealthy() bool
	Components() map[string]bool
}

// Deps are the collaborators of the router. Embedder may be nil, in which case
// search falls back to text matching. Without a Trigger the triggers route is not served.
type Deps struct {
	Store    store.Store
	Embedder QueryEmbedder
	Graph    GraphReader
	Pipeline StatusReporter
	Trigger  Triggerer
	Health   ComponentHealth
	Log      zerolog.Logger
}

func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(recovery.Middleware(d.Log))

	health := &HealthHandler{pipeline: d.Pipeline, health: d.Health}
	memories := &MemoryHandler{store: d.Store, embedder: d.Embedder, log: d.Log}
	graph := &GraphHandler{graph: d.Graph}
	summaries := &SummaryHandler{store: d.Store}

	r.HandleFunc("/api/health", health.CheckHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/memories/recent", memories.ListRecent).Methods(http.MethodGet)
	r.HandleFunc("/api/memories/{memoryId}", memories.GetMemory).Methods(http.MethodGet)
	r.HandleFunc("/api/search", memories.Search).Methods(http.MethodPost)
	r.HandleFunc("/api/graph", graph.GetGraph).Methods(http.MethodGet)
	r.HandleFunc("/api/summaries/master", summaries.GetMaster).Methods(http.MethodGet)
	r.HandleFunc("/api/summaries/{sessionId:.+}", summaries.GetChat).Methods(http.MethodGet)
	if d.Trigger != nil {
		triggers := &TriggerHandler{trigger: d.Trigger}
		r.HandleFunc("/api/triggers", triggers.Trigger).Methods(http.MethodPost)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}
