package store

import (
	"context"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

// Store exposes persistence operations required by the pipeline and the query surface.
// Implementations live under internal/store/<impl>/.
type Store interface {
	Fragments() Fragments
	Entities() Entities
	Edges() Edges
	Summaries() Summaries

	HealthPing(ctx context.Context) error
	Close() error
}

// Fragments holds committed memory fragments.
type Fragments interface {
	// Commit persists the batch atomically. Every fragment must carry an
	// embedding; fragments whose id already exists are left untouched.
	// Returns the number of newly inserted fragments.
	Commit(ctx context.Context, frags []model.MemoryFragment) (int, error)
	Get(ctx context.Context, id string) (*model.MemoryFragment, error)
	// Query ranks by cosine similarity when q.Embedding is set, otherwise by
	// recency among case-insensitive substring matches of q.Text.
	Query(ctx context.Context, q model.Query) ([]model.ScoredFragment, error)
	ListRecent(ctx context.Context, limit int) ([]*model.MemoryFragment, error)
	// ListBySession returns the newest limit fragments of a session in
	// chronological order.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.MemoryFragment, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
	SoftDelete(ctx context.Context, id string) error
}

type Entities interface {
	Get(ctx context.Context, id string) (*model.Entity, error)
	// Commit inserts or fully replaces the entity row.
	Commit(ctx context.Context, e *model.Entity) error
	List(ctx context.Context, limit int) ([]*model.Entity, error)
}

type Edges interface {
	Get(ctx context.Context, id string) (*model.EntityEdge, error)
	Commit(ctx context.Context, e *model.EntityEdge) error
	// List returns edges ordered by weight, heaviest first.
	List(ctx context.Context, limit int) ([]*model.EntityEdge, error)
	// Among returns every edge whose endpoints are both in entityIDs.
	Among(ctx context.Context, entityIDs []string) ([]*model.EntityEdge, error)
}

type Summaries interface {
	GetChat(ctx context.Context, sessionID string) (*model.ChatSummary, error)
	PutChat(ctx context.Context, s *model.ChatSummary) error
	GetMaster(ctx context.Context) (*model.MasterMemory, error)
	// PutMaster writes m only if the stored revision equals expectedRevision
	// (0 when no row exists yet). A lost race returns model.ErrStoreRejected.
	PutMaster(ctx context.Context, m *model.MasterMemory, expectedRevision int) error
}
