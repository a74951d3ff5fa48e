// Package graph merges extracted entities and relations into the persistent
// entity graph and owns the summary commit path.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
)

// UnknownKind is assigned to entities first seen only as a relation endpoint.
const UnknownKind = "unknown"

// MergeResult counts the rows written by one Merge call.
type MergeResult struct {
	Entities int
	Edges    int
	// Dropped counts entity or edge updates that failed and were skipped.
	Dropped int
}

// Merger resolves entities by exact normalized name. Merges are serialized so
// concurrent cycles never lose a read-modify-write.
type Merger struct {
	store store.Store
	log   zerolog.Logger

	mu       sync.Mutex
	masterMu sync.Mutex
}

func NewMerger(s store.Store, log zerolog.Logger) *Merger {
	return &Merger{store: s, log: log.With().Str("component", "graph").Logger()}
}

// Merge folds the entities and relations carried by frags into the graph.
// Re-merging fragments that already contributed changes nothing.
func (m *Merger) Merge(ctx context.Context, frags []model.MemoryFragment) (MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res MergeResult
	for i := range frags {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m.mergeFragment(ctx, &frags[i], &res)
	}
	return res, nil
}

func (m *Merger) mergeFragment(ctx context.Context, f *model.MemoryFragment, res *MergeResult) {
	at := f.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	for _, ce := range f.Entities {
		if _, err := m.upsertEntity(ctx, ce.Name, ce.Kind, ce.Fact, f.ID, at, res); err != nil {
			res.Dropped++
			m.log.Warn().Err(err).Str("entity", ce.Name).Str("fragment_id", f.ID).Msg("entity update dropped")
		}
	}

	for _, cr := range f.Relations {
		rel := model.NormalizeRelation(cr.Relation)
		if rel == "" || model.NormalizeName(cr.Source) == model.NormalizeName(cr.Target) {
			continue
		}
		src, err := m.upsertEntity(ctx, cr.Source, "", "", f.ID, at, res)
		if err != nil {
			res.Dropped++
			m.log.Warn().Err(err).Str("entity", cr.Source).Msg("edge dropped: source unresolved")
			continue
		}
		tgt, err := m.upsertEntity(ctx, cr.Target, "", "", f.ID, at, res)
		if err != nil {
			res.Dropped++
			m.log.Warn().Err(err).Str("entity", cr.Target).Msg("edge dropped: target unresolved")
			continue
		}
		if err := m.upsertEdge(ctx, src.ID, tgt.ID, rel, f.ID, at, res); err != nil {
			res.Dropped++
			m.log.Warn().Err(err).Str("source", src.Name).Str("target", tgt.Name).Str("relation", rel).Msg("edge update dropped")
		}
	}
}

func (m *Merger) upsertEntity(ctx context.Context, name, kind, fact, fragmentID string, at time.Time, res *MergeResult) (*model.Entity, error) {
	norm := model.NormalizeName(name)
	if norm == "" {
		return nil, fmt.Errorf("%w: blank entity name", model.ErrValidation)
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	fact = strings.TrimSpace(fact)
	id := model.EntityID(name)

	e, err := m.store.Entities().Get(ctx, id)
	changed := false
	switch {
	case errors.Is(err, model.ErrNotFound):
		if kind == "" {
			kind = UnknownKind
		}
		e = &model.Entity{
			ID:             id,
			Name:           strings.Join(strings.Fields(name), " "),
			NormalizedName: norm,
			Kind:           kind,
			FirstSeen:      at,
			LastSeen:       at,
		}
		changed = true
	case err != nil:
		return nil, err
	default:
		if kind != "" && kind != UnknownKind && e.Kind == UnknownKind {
			e.Kind = kind
			changed = true
		}
		if at.After(e.LastSeen) {
			e.LastSeen = at
			changed = true
		}
	}

	if fact != "" && !e.HasFact(fact) {
		e.Facts = append(e.Facts, model.Fact{Text: fact, FragmentID: fragmentID, AddedAt: at})
		changed = true
	}
	if !changed {
		return e, nil
	}
	if err := m.store.Entities().Commit(ctx, e); err != nil {
		return nil, err
	}
	res.Entities++
	return e, nil
}

func (m *Merger) upsertEdge(ctx context.Context, srcID, tgtID, rel, fragmentID string, at time.Time, res *MergeResult) error {
	id := model.EdgeID(srcID, tgtID, rel)
	edge, err := m.store.Edges().Get(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		edge = &model.EntityEdge{
			ID:         id,
			SourceID:   srcID,
			TargetID:   tgtID,
			Relation:   rel,
			Weight:     1,
			Provenance: []string{fragmentID},
			FirstSeen:  at,
			LastSeen:   at,
		}
	case err != nil:
		return err
	default:
		if edge.HasProvenance(fragmentID) {
			return nil
		}
		edge.Weight++
		edge.Provenance = append(edge.Provenance, fragmentID)
		if at.After(edge.LastSeen) {
			edge.LastSeen = at
		}
	}
	if err := m.store.Edges().Commit(ctx, edge); err != nil {
		return err
	}
	res.Edges++
	return nil
}

// CommitChatSummary replaces the summary of one session.
func (m *Merger) CommitChatSummary(ctx context.Context, cs *model.ChatSummary) error {
	if cs.UpdatedAt.IsZero() {
		cs.UpdatedAt = time.Now().UTC()
	}
	return m.store.Summaries().PutChat(ctx, cs)
}

// MergeFunc produces the next master summary from the current one ("" when none exists).
type MergeFunc func(ctx context.Context, current string) (string, error)

const masterAttempts = 3

// MergeMasterMemory advances the master memory by one revision using merge.
// The row is never reset: a blank merge result keeps the current summary.
func (m *Merger) MergeMasterMemory(ctx context.Context, merge MergeFunc) (*model.MasterMemory, error) {
	m.masterMu.Lock()
	defer m.masterMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < masterAttempts; attempt++ {
		cur, err := m.store.Summaries().GetMaster(ctx)
		if errors.Is(err, model.ErrNotFound) {
			cur, err = &model.MasterMemory{}, nil
		}
		if err != nil {
			return nil, err
		}

		next, err := merge(ctx, cur.Summary)
		if err != nil {
			return nil, err
		}
		next = strings.TrimSpace(next)
		if next == "" || next == cur.Summary {
			return cur, nil
		}

		mm := &model.MasterMemory{Summary: next, Revision: cur.Revision + 1, UpdatedAt: time.Now().UTC()}
		err = m.store.Summaries().PutMaster(ctx, mm, cur.Revision)
		if err == nil {
			m.log.Info().Int("revision", mm.Revision).Msg("master memory updated")
			return mm, nil
		}
		if !errors.Is(err, model.ErrStoreRejected) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Snapshot returns up to limit entities and the edges among them.
func (m *Merger) Snapshot(ctx context.Context, limit int) (*model.Graph, error) {
	ents, err := m.store.Entities().List(ctx, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(ents))
	for i, e := range ents {
		ids[i] = e.ID
	}
	edges, err := m.store.Edges().Among(ctx, ids)
	if err != nil {
		return nil, err
	}
	g := &model.Graph{Entities: ents, Edges: edges}
	if g.Edges == nil {
		g.Edges = []*model.EntityEdge{}
	}
	if g.Entities == nil {
		g.Entities = []*model.Entity{}
	}
	return g, nil
}
