package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

type entities struct{ s *Store }

const entityColumns = `id, name, normalized_name, kind, facts, first_seen, last_seen`

func scanEntity(r rowScanner) (*model.Entity, error) {
	var (
		out         model.Entity
		facts       string
		first, last int64
	)
	if err := r.Scan(&out.ID, &out.Name, &out.NormalizedName, &out.Kind, &facts, &first, &last); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(facts), &out.Facts); err != nil {
		return nil, fmt.Errorf("entity %s facts: %w", out.ID, err)
	}
	out.FirstSeen, out.LastSeen = fromNanos(first), fromNanos(last)
	return &out, nil
}

func (e *entities) Get(ctx context.Context, id string) (*model.Entity, error) {
	row := e.s.db.QueryRowContext(ctx, e.s.rebind(`SELECT `+entityColumns+` FROM entities WHERE id = ?`), id)
	ent, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return ent, err
}

func (e *entities) Commit(ctx context.Context, ent *model.Entity) error {
	if ent == nil || ent.ID == "" || ent.NormalizedName == "" {
		return fmt.Errorf("%w: entity id and normalized name are required", model.ErrValidation)
	}
	facts, err := json.Marshal(nonNil(ent.Facts))
	if err != nil {
		return fmt.Errorf("%w: encode facts: %v", model.ErrStoreRejected, err)
	}
	_, err = e.s.db.ExecContext(ctx, e.s.rebind(`INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			facts = excluded.facts,
			last_seen = excluded.last_seen`),
		ent.ID, ent.Name, ent.NormalizedName, ent.Kind, string(facts), toNanos(ent.FirstSeen), toNanos(ent.LastSeen))
	if err != nil {
		return fmt.Errorf("%w: entity %s: %v", model.ErrStoreRejected, ent.ID, err)
	}
	return nil
}

func (e *entities) List(ctx context.Context, limit int) ([]*model.Entity, error) {
	rows, err := e.s.db.QueryContext(ctx, e.s.rebind(`SELECT `+entityColumns+` FROM entities
		ORDER BY last_seen DESC, id LIMIT ?`), limitOr(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

type edges struct{ s *Store }

const edgeColumns = `id, source_id, target_id, relation, weight, provenance, first_seen, last_seen`

func scanEdge(r rowScanner) (*model.EntityEdge, error) {
	var (
		out         model.EntityEdge
		prov        string
		first, last int64
	)
	if err := r.Scan(&out.ID, &out.SourceID, &out.TargetID, &out.Relation, &out.Weight, &prov, &first, &last); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(prov), &out.Provenance); err != nil {
		return nil, fmt.Errorf("edge %s provenance: %w", out.ID, err)
	}
	out.FirstSeen, out.LastSeen = fromNanos(first), fromNanos(last)
	return &out, nil
}

func (e *edges) Get(ctx context.Context, id string) (*model.EntityEdge, error) {
	row := e.s.db.QueryRowContext(ctx, e.s.rebind(`SELECT `+edgeColumns+` FROM entity_edges WHERE id = ?`), id)
	edge, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return edge, err
}

func (e *edges) Commit(ctx context.Context, edge *model.EntityEdge) error {
	if edge == nil || edge.ID == "" || edge.SourceID == "" || edge.TargetID == "" || edge.Relation == "" {
		return fmt.Errorf("%w: edge id, endpoints and relation are required", model.ErrValidation)
	}
	prov, err := json.Marshal(nonNil(edge.Provenance))
	if err != nil {
		return fmt.Errorf("%w: encode provenance: %v", model.ErrStoreRejected, err)
	}
	_, err = e.s.db.ExecContext(ctx, e.s.rebind(`INSERT INTO entity_edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			weight = excluded.weight,
			provenance = excluded.provenance,
			last_seen = excluded.last_seen`),
		edge.ID, edge.SourceID, edge.TargetID, edge.Relation, edge.Weight, string(prov),
		toNanos(edge.FirstSeen), toNanos(edge.LastSeen))
	if err != nil {
		return fmt.Errorf("%w: edge %s: %v", model.ErrStoreRejected, edge.ID, err)
	}
	return nil
}

func (e *edges) List(ctx context.Context, limit int) ([]*model.EntityEdge, error) {
	return e.list(ctx, `SELECT `+edgeColumns+` FROM entity_edges
		ORDER BY weight DESC, last_seen DESC, id LIMIT ?`, limitOr(limit, 200))
}

func (e *edges) Among(ctx context.Context, entityIDs []string) ([]*model.EntityEdge, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	in := strings.TrimSuffix(strings.Repeat("?, ", len(entityIDs)), ", ")
	args := make([]any, 0, 2*len(entityIDs))
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, args...)
	return e.list(ctx, `SELECT `+edgeColumns+` FROM entity_edges
		WHERE source_id IN (`+in+`) AND target_id IN (`+in+`)
		ORDER BY weight DESC, last_seen DESC, id`, args...)
}

func (e *edges) list(ctx context.Context, q string, args ...any) ([]*model.EntityEdge, error) {
	rows, err := e.s.db.QueryContext(ctx, e.s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.EntityEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}
