package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

const fragmentColumns = `id, content, source_app, session_id, capture_id, created_at, embedding, entities, relations, deleted_at`

type fragments struct{ s *Store }

func (f *fragments) Commit(ctx context.Context, frags []model.MemoryFragment) (int, error) {
	if len(frags) == 0 {
		return 0, nil
	}
	for i := range frags {
		if len(frags[i].Embedding) == 0 {
			return 0, fmt.Errorf("%w: fragment %s", model.ErrMissingEmbedding, frags[i].ID)
		}
		if frags[i].ID == "" || strings.TrimSpace(frags[i].Content) == "" {
			return 0, fmt.Errorf("%w: fragment id and content are required", model.ErrValidation)
		}
	}

	tx, err := f.s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", model.ErrStoreRejected, err)
	}
	defer func() { _ = tx.Rollback() }()

	q := f.s.rebind(`INSERT INTO memories (` + fragmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (id) DO NOTHING`)
	inserted := 0
	for i := range frags {
		fr := &frags[i]
		ents, err := json.Marshal(nonNil(fr.Entities))
		if err != nil {
			return 0, fmt.Errorf("%w: encode entities: %v", model.ErrStoreRejected, err)
		}
		rels, err := json.Marshal(nonNil(fr.Relations))
		if err != nil {
			return 0, fmt.Errorf("%w: encode relations: %v", model.ErrStoreRejected, err)
		}
		res, err := tx.ExecContext(ctx, q,
			fr.ID, fr.Content, fr.SourceApp, fr.SessionID, fr.CaptureID,
			toNanos(fr.CreatedAt), encodeVector(fr.Embedding), string(ents), string(rels))
		if err != nil {
			return 0, fmt.Errorf("%w: insert fragment %s: %v", model.ErrStoreRejected, fr.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", model.ErrStoreRejected, err)
	}
	return inserted, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(r rowScanner) (*model.MemoryFragment, error) {
	var (
		out        model.MemoryFragment
		created    int64
		blob       []byte
		ents, rels string
		deleted    sql.NullInt64
	)
	if err := r.Scan(&out.ID, &out.Content, &out.SourceApp, &out.SessionID, &out.CaptureID,
		&created, &blob, &ents, &rels, &deleted); err != nil {
		return nil, err
	}
	out.CreatedAt = fromNanos(created)
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("fragment %s: %w", out.ID, err)
	}
	out.Embedding = vec
	if err := json.Unmarshal([]byte(ents), &out.Entities); err != nil {
		return nil, fmt.Errorf("fragment %s entities: %w", out.ID, err)
	}
	if err := json.Unmarshal([]byte(rels), &out.Relations); err != nil {
		return nil, fmt.Errorf("fragment %s relations: %w", out.ID, err)
	}
	if deleted.Valid {
		t := fromNanos(deleted.Int64)
		out.DeletedAt = &t
	}
	return &out, nil
}

func (f *fragments) list(ctx context.Context, q string, args ...any) ([]*model.MemoryFragment, error) {
	rows, err := f.s.db.QueryContext(ctx, f.s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.MemoryFragment
	for rows.Next() {
		fr, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

func (f *fragments) Get(ctx context.Context, id string) (*model.MemoryFragment, error) {
	row := f.s.db.QueryRowContext(ctx, f.s.rebind(`SELECT `+fragmentColumns+` FROM memories WHERE id = ?`), id)
	fr, err := scanFragment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return fr, err
}

func (f *fragments) ListRecent(ctx context.Context, limit int) ([]*model.MemoryFragment, error) {
	return f.list(ctx, `SELECT `+fragmentColumns+` FROM memories
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id
		LIMIT ?`, limitOr(limit, 20))
}

// ListBySession returns the newest limit fragments of the session, oldest first.
func (f *fragments) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.MemoryFragment, error) {
	return f.list(ctx, `SELECT `+fragmentColumns+` FROM (
			SELECT `+fragmentColumns+` FROM memories
			WHERE deleted_at IS NULL AND session_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) recent
		ORDER BY created_at, id`, sessionID, limitOr(limit, 200))
}

func (f *fragments) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := f.s.db.QueryRowContext(ctx,
		f.s.rebind(`SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL AND session_id = ?`), sessionID).Scan(&n)
	return n, err
}

func (f *fragments) SoftDelete(ctx context.Context, id string) error {
	res, err := f.s.db.ExecContext(ctx,
		f.s.rebind(`UPDATE memories SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`), toNanos(f.s.now()), id)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreRejected, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (f *fragments) Query(ctx context.Context, q model.Query) ([]model.ScoredFragment, error) {
	limit := limitOr(q.Limit, 10)
	if len(q.Embedding) > 0 {
		return f.queryByEmbedding(ctx, q.Embedding, limit)
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: query needs text or embedding", model.ErrValidation)
	}
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	frs, err := f.list(ctx, `SELECT `+fragmentColumns+` FROM memories
		WHERE deleted_at IS NULL AND LOWER(content) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id
		LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoredFragment, len(frs))
	for i, fr := range frs {
		out[i] = model.ScoredFragment{Fragment: fr, Score: 1}
	}
	return out, nil
}

// queryByEmbedding ranks every live fragment in process.
func (f *fragments) queryByEmbedding(ctx context.Context, emb []float32, limit int) ([]model.ScoredFragment, error) {
	frs, err := f.list(ctx, `SELECT `+fragmentColumns+` FROM memories WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	scored := make([]model.ScoredFragment, 0, len(frs))
	for _, fr := range frs {
		if len(fr.Embedding) != len(emb) {
			continue
		}
		scored = append(scored, model.ScoredFragment{Fragment: fr, Score: cosine(emb, fr.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Fragment.CreatedAt.After(scored[j].Fragment.CreatedAt)
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
