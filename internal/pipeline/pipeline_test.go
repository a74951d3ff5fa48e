package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wednesday-solutions/my-memories-sub001/internal/graph"
	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/shardqueue"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store/sqlstore"
)

var capturedAt = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeCapture struct {
	text  string
	calls atomic.Int32
	block chan struct{}
}

func (f *fakeCapture) Capture(ctx context.Context, app string) (model.CaptureRecord, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.CaptureRecord{}, ctx.Err()
		}
	}
	return model.CaptureRecord{ID: "cap-1", SourceApp: app, Text: f.text, CapturedAt: capturedAt}, nil
}

// fakeExtractor returns the Alice/Bob statement for any non-empty capture.
type fakeExtractor struct {
	err   error
	none  bool
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(_ context.Context, rec model.CaptureRecord) ([]model.MemoryFragment, error) {
	f.calls.Add(1)
	if f.err != nil || f.none {
		return nil, f.err
	}
	stmt := "Alice discussed the Rust borrow checker with Bob"
	return []model.MemoryFragment{{
		ID:        model.FragmentID(rec.SourceApp, stmt),
		Content:   stmt,
		SourceApp: rec.SourceApp,
		SessionID: model.SessionID(rec.SourceApp, rec.CapturedAt),
		CaptureID: rec.ID,
		CreatedAt: rec.CapturedAt,
		Entities: []model.CandidateEntity{
			{Name: "Alice", Kind: "person"}, {Name: "Bob", Kind: "person"}, {Name: "Rust borrow checker", Kind: "topic"},
		},
		Relations: []model.CandidateRelation{{Source: "Alice", Target: "Bob", Relation: "discussed_with"}},
	}}, nil
}

type fakeEmbedder struct{ fail bool }

func (f fakeEmbedder) EmbedFragments(_ context.Context, frags []model.MemoryFragment) ([]model.MemoryFragment, error) {
	if f.fail {
		return nil, nil
	}
	out := make([]model.MemoryFragment, len(frags))
	for i, fr := range frags {
		fr.Embedding = []float32{float32(len(fr.Content)), 1}
		out[i] = fr
	}
	return out, nil
}

type fakeSummarizer struct {
	mu       sync.Mutex
	sessions []string
}

func (f *fakeSummarizer) Refresh(_ context.Context, sessionID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	return true, nil
}

type gate struct{ up atomic.Bool }

func (g *gate) Name() string    { return "inference-server" }
func (g *gate) IsHealthy() bool { return g.up.Load() }

type fixture struct {
	p    *Pipeline
	st   store.Store
	src  *fakeCapture
	ext  *fakeExtractor
	sum  *fakeSummarizer
	gate *gate
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	st, err := sqlstore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{st: st, src: &fakeCapture{text: "alice: did you see the borrow checker error?"}, ext: &fakeExtractor{}, sum: &fakeSummarizer{}, gate: &gate{}}
	f.gate.up.Store(true)
	deps := Deps{
		Capture:    f.src,
		Extractor:  f.ext,
		Embedder:   fakeEmbedder{},
		Store:      st,
		Merger:     graph.NewMerger(st, zerolog.Nop()),
		Summarizer: f.sum,
		Gate:       f.gate,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.p = New(Config{Apps: []string{"slack"}, Interval: time.Hour, Queue: shardqueue.Config{Shards: 2, QueueSize: 4}}, deps, zerolog.Nop())
	t.Cleanup(f.p.Stop)
	return f
}

func (f *fixture) countFragments(t *testing.T) int {
	t.Helper()
	got, err := f.st.Fragments().ListRecent(context.Background(), 100)
	require.NoError(t, err)
	return len(got)
}

func TestRunCycle_CommitsAndMerges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.p.RunCycle(ctx, "slack")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, 1, res.Committed)
	assert.Equal(t, 3, res.Merge.Entities)
	assert.Equal(t, 1, res.Merge.Edges)
	assert.Equal(t, []string{"slack/2026-03-04"}, f.sum.sessions)

	edge, err := f.st.Edges().Get(ctx, model.EdgeID(model.EntityID("Alice"), model.EntityID("Bob"), "discussed_with"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, edge.Weight)
}

func TestRunCycle_SameCaptureTwiceKeepsWeight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.p.RunCycle(ctx, "slack")
	require.NoError(t, err)
	res, err := f.p.RunCycle(ctx, "slack")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Committed)
	assert.Equal(t, graph.MergeResult{}, res.Merge)
	assert.Len(t, f.sum.sessions, 1, "no summary refresh without new fragments")

	edge, err := f.st.Edges().Get(ctx, model.EdgeID(model.EntityID("Alice"), model.EntityID("Bob"), "discussed_with"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, edge.Weight)
	assert.Equal(t, 1, f.countFragments(t))
}

func TestRunCycle_EmptyCaptureCommitsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.src.text = "   "

	res, err := f.p.RunCycle(context.Background(), "slack")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Zero(t, f.ext.calls.Load())
	assert.Zero(t, f.countFragments(t))
}

func TestRunCycle_MalformedOutputCommitsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.ext.none = true

	res, err := f.p.RunCycle(context.Background(), "slack")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Zero(t, f.countFragments(t))
}

func TestRunCycle_EmbeddingFailureCommitsNothing(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Embedder = fakeEmbedder{fail: true} })

	res, err := f.p.RunCycle(context.Background(), "slack")
	assert.ErrorIs(t, err, model.ErrEmbeddingFailed)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, f.countFragments(t))
}

func TestRunCycle_ServerErrorReported(t *testing.T) {
	f := newFixture(t, nil)
	f.ext.err = model.ErrServerUnavailable

	res, err := f.p.RunCycle(context.Background(), "slack")
	assert.ErrorIs(t, err, model.ErrServerUnavailable)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, f.countFragments(t))
}

func TestRunCycle_UnhealthyServerDropsCapture(t *testing.T) {
	f := newFixture(t, nil)
	f.gate.up.Store(false)

	assert.Equal(t, StatusDegraded, f.p.Status())
	assert.Equal(t, "inference-server unhealthy", f.p.Reason())

	res, err := f.p.RunCycle(context.Background(), "slack")
	assert.ErrorIs(t, err, model.ErrServerUnavailable)
	assert.Equal(t, OutcomeDropped, res.Outcome)
	assert.Zero(t, f.src.calls.Load(), "dropped captures are not taken")
	assert.Zero(t, f.countFragments(t))

	f.gate.up.Store(true)
	assert.Equal(t, StatusReady, f.p.Status())
}

func TestMarkDegraded(t *testing.T) {
	f := newFixture(t, nil)
	f.p.MarkDegraded(errors.New("server never became ready"))
	assert.Equal(t, StatusDegraded, f.p.Status())
	assert.Equal(t, "server never became ready", f.p.Reason())

	f.p.ClearDegraded()
	assert.Equal(t, StatusReady, f.p.Status())
	assert.Empty(t, f.p.Reason())
}

func TestRunCycle_CanceledCaptureCommitsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.src.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.p.RunCycle(ctx, "slack")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.Zero(t, f.countFragments(t))
}

func TestSubmit_RunsInOrderPerApp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.p.Submit(ctx, "slack"))
	require.NoError(t, f.p.Submit(ctx, "slack"))
	require.NoError(t, f.p.Wait(ctx, "slack"))

	assert.Equal(t, int32(2), f.src.calls.Load())
	assert.Equal(t, 1, f.countFragments(t))
}

func TestTrigger_RateLimited(t *testing.T) {
	f := newFixture(t, nil)
	f.p.cfg.TriggerRate = 0.001
	f.p.cfg.TriggerBurst = 1

	assert.True(t, f.p.Trigger("discord"))
	assert.False(t, f.p.Trigger("discord"), "second trigger inside the window is rejected")
	assert.True(t, f.p.Trigger("slack"), "limits are per app")

	require.NoError(t, f.p.Wait(context.Background(), "discord"))
	require.NoError(t, f.p.Wait(context.Background(), "slack"))
	assert.Equal(t, int32(2), f.src.calls.Load())
}

func TestRun_TicksAndStops(t *testing.T) {
	f := newFixture(t, nil)
	f.p.cfg.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	require.Eventually(t, func() bool { return f.src.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StatusStopped, f.p.Status())
	assert.ErrorIs(t, f.p.Submit(context.Background(), "slack"), shardqueue.ErrExecutorClosed)
}
