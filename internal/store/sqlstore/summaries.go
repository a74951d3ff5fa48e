package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

type summaries struct{ s *Store }

func (m *summaries) GetChat(ctx context.Context, sessionID string) (*model.ChatSummary, error) {
	var (
		out     model.ChatSummary
		updated int64
	)
	err := m.s.db.QueryRowContext(ctx, m.s.rebind(`SELECT session_id, source_app, summary, fragment_count, updated_at
		FROM chat_summaries WHERE session_id = ?`), sessionID).
		Scan(&out.SessionID, &out.SourceApp, &out.Summary, &out.FragmentCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out.UpdatedAt = fromNanos(updated)
	return &out, nil
}

func (m *summaries) PutChat(ctx context.Context, cs *model.ChatSummary) error {
	if cs == nil || cs.SessionID == "" {
		return fmt.Errorf("%w: session id is required", model.ErrValidation)
	}
	_, err := m.s.db.ExecContext(ctx, m.s.rebind(`INSERT INTO chat_summaries (session_id, source_app, summary, fragment_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			summary = excluded.summary,
			fragment_count = excluded.fragment_count,
			updated_at = excluded.updated_at`),
		cs.SessionID, cs.SourceApp, cs.Summary, cs.FragmentCount, toNanos(cs.UpdatedAt))
	if err != nil {
		return fmt.Errorf("%w: chat summary %s: %v", model.ErrStoreRejected, cs.SessionID, err)
	}
	return nil
}

func (m *summaries) GetMaster(ctx context.Context) (*model.MasterMemory, error) {
	var (
		out     model.MasterMemory
		updated int64
	)
	err := m.s.db.QueryRowContext(ctx, `SELECT summary, revision, updated_at FROM master_memory WHERE id = 1`).
		Scan(&out.Summary, &out.Revision, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out.UpdatedAt = fromNanos(updated)
	return &out, nil
}

func (m *summaries) PutMaster(ctx context.Context, mm *model.MasterMemory, expectedRevision int) error {
	if mm == nil || mm.Revision <= expectedRevision {
		return fmt.Errorf("%w: master revision must advance", model.ErrValidation)
	}
	var (
		res sql.Result
		err error
	)
	if expectedRevision == 0 {
		res, err = m.s.db.ExecContext(ctx, m.s.rebind(`INSERT INTO master_memory (id, summary, revision, updated_at)
			VALUES (1, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			mm.Summary, mm.Revision, toNanos(mm.UpdatedAt))
	} else {
		res, err = m.s.db.ExecContext(ctx, m.s.rebind(`UPDATE master_memory SET summary = ?, revision = ?, updated_at = ?
			WHERE id = 1 AND revision = ?`),
			mm.Summary, mm.Revision, toNanos(mm.UpdatedAt), expectedRevision)
	}
	if err != nil {
		return fmt.Errorf("%w: master memory: %v", model.ErrStoreRejected, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: master memory revision %d is stale", model.ErrStoreRejected, expectedRevision)
	}
	return nil
}
