// Package pipeline runs capture cycles: capture, extract, embed, commit, merge
// and summarize. Cycles of one application run in order on a shard of the
// executor; different applications run concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wednesday-solutions/my-memories-sub001/internal/graph"
	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/shardqueue"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
)

type Capturer interface {
	Capture(ctx context.Context, app string) (model.CaptureRecord, error)
}

type Extractor interface {
	Extract(ctx context.Context, rec model.CaptureRecord) ([]model.MemoryFragment, error)
}

type Embedder interface {
	EmbedFragments(ctx context.Context, frags []model.MemoryFragment) ([]model.MemoryFragment, error)
}

type Merger interface {
	Merge(ctx context.Context, frags []model.MemoryFragment) (graph.MergeResult, error)
}

// Gate reports whether the inference server may receive requests.
type Gate interface {
	Name() string
	IsHealthy() bool
}

type Summarizer interface {
	Refresh(ctx context.Context, sessionID, sourceApp string) (bool, error)
}

// Deps are the collaborators of a Pipeline. Summarizer and Gate are optional.
type Deps struct {
	Capture    Capturer
	Extractor  Extractor
	Embedder   Embedder
	Store      store.Store
	Merger     Merger
	Summarizer Summarizer
	// Gate reports inference-server readiness. Captures are dropped while it is unhealthy.
	Gate Gate
}

type Config struct {
	Apps         []string
	Interval     time.Duration
	TriggerRate  float64
	TriggerBurst int
	Queue        shardqueue.Config
}

type Status string

const (
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
	// StatusFailed means the inference server could not be spawned at all.
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeEmpty     Outcome = "empty"
	OutcomeDropped   Outcome = "dropped"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// CycleResult describes one capture cycle.
type CycleResult struct {
	App       string
	CaptureID string
	Outcome   Outcome
	Extracted int
	Committed int
	Merge     graph.MergeResult
}

type Pipeline struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	exec *shardqueue.ShardExecutor

	degraded atomic.Bool
	reason   atomic.Value
	stopped  atomic.Bool
	fatal    atomic.Pointer[error]

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	base     context.Context
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.TriggerRate <= 0 {
		cfg.TriggerRate = 0.2
	}
	if cfg.TriggerBurst < 1 {
		cfg.TriggerBurst = 1
	}
	log = log.With().Str("component", "pipeline").Logger()

	qcfg := cfg.Queue
	// A cycle is never retried: a failed capture is stale by the next tick.
	qcfg.MaxAttempts = 1
	if qcfg.Logger == nil {
		qcfg.Logger = &log
	}
	if qcfg.ErrorHandler == nil {
		qcfg.ErrorHandler = func(err error) {
			log.Warn().Err(err).Msg("cycle job failed")
		}
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		exec:     shardqueue.NewShardExecutor(qcfg),
		limiters: make(map[string]*rate.Limiter),
		base:     context.Background(),
	}
}

// MarkDegraded switches the pipeline into degraded mode until ClearDegraded.
func (p *Pipeline) MarkDegraded(err error) {
	reason := "degraded"
	if err != nil {
		reason = err.Error()
	}
	p.reason.Store(reason)
	if p.degraded.CompareAndSwap(false, true) {
		p.log.Error().Err(err).Msg("pipeline degraded: captures will be dropped")
	}
}

func (p *Pipeline) ClearDegraded() {
	if p.degraded.CompareAndSwap(true, false) {
		p.reason.Store("")
		p.log.Info().Msg("pipeline recovered")
	}
}

// Fail records an unrecoverable startup error. The pipeline stays failed and
// Run returns err.
func (p *Pipeline) Fail(err error) {
	if err == nil {
		return
	}
	if p.fatal.CompareAndSwap(nil, &err) {
		p.log.Error().Stack().Err(err).Msg("pipeline failed")
	}
}

// Err returns the error recorded by Fail, if any.
func (p *Pipeline) Err() error {
	if e := p.fatal.Load(); e != nil {
		return *e
	}
	return nil
}

func (p *Pipeline) Status() Status {
	switch {
	case p.stopped.Load():
		return StatusStopped
	case p.fatal.Load() != nil:
		return StatusFailed
	case p.degraded.Load():
		return StatusDegraded
	case p.deps.Gate != nil && !p.deps.Gate.IsHealthy():
		return StatusDegraded
	default:
		return StatusReady
	}
}

// Reason explains a failed or degraded status. Empty otherwise.
func (p *Pipeline) Reason() string {
	if err := p.Err(); err != nil {
		return err.Error()
	}
	if p.degraded.Load() {
		r, _ := p.reason.Load().(string)
		return r
	}
	if p.deps.Gate != nil && !p.deps.Gate.IsHealthy() {
		return p.deps.Gate.Name() + " unhealthy"
	}
	return ""
}

// RunCycle runs one capture cycle for app synchronously. A cycle commits all
// of its embedded fragments or none of them.
func (p *Pipeline) RunCycle(ctx context.Context, app string) (res CycleResult, err error) {
	start := time.Now()
	res.App = app
	log := p.log.With().Str("app", app).Logger()
	defer func() {
		cyclesTotal.WithLabelValues(app, string(res.Outcome)).Inc()
		cycleDuration.WithLabelValues(app).Observe(time.Since(start).Seconds())
	}()

	if st := p.Status(); st != StatusReady {
		res.Outcome = OutcomeDropped
		capturesDropped.WithLabelValues(app, string(st)).Inc()
		return res, fmt.Errorf("%w: pipeline %s", model.ErrServerUnavailable, st)
	}

	rec, err := p.deps.Capture.Capture(ctx, app)
	if err != nil {
		res.Outcome = outcomeFor(ctx)
		return res, fmt.Errorf("capture: %w", err)
	}
	res.CaptureID = rec.ID
	if rec.IsEmpty() {
		res.Outcome = OutcomeEmpty
		return res, nil
	}

	frags, err := p.deps.Extractor.Extract(ctx, rec)
	if err != nil {
		res.Outcome = outcomeFor(ctx)
		return res, fmt.Errorf("extract: %w", err)
	}
	res.Extracted = len(frags)
	if len(frags) == 0 {
		res.Outcome = OutcomeEmpty
		return res, nil
	}

	embedded, err := p.deps.Embedder.EmbedFragments(ctx, frags)
	if err != nil {
		res.Outcome = outcomeFor(ctx)
		return res, fmt.Errorf("embed: %w", err)
	}
	if len(embedded) == 0 {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("%w: no fragment of capture %s was embedded", model.ErrEmbeddingFailed, rec.ID)
	}
	if dropped := len(frags) - len(embedded); dropped > 0 {
		log.Warn().Int("dropped", dropped).Str("capture_id", rec.ID).Msg("fragments without embedding dropped")
	}
	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeCanceled
		return res, err
	}

	n, err := p.deps.Store.Fragments().Commit(ctx, embedded)
	if err != nil {
		res.Outcome = outcomeFor(ctx)
		return res, fmt.Errorf("commit: %w", err)
	}
	res.Committed = n
	res.Outcome = OutcomeCommitted
	fragmentsCommitted.WithLabelValues(app).Add(float64(n))

	// Committed fragments are always merged, even when the cycle is being canceled.
	mctx := context.WithoutCancel(ctx)
	res.Merge, err = p.deps.Merger.Merge(mctx, embedded)
	if err != nil {
		log.Error().Stack().Err(err).Str("capture_id", rec.ID).Msg("graph merge failed")
	}
	if n > 0 && p.deps.Summarizer != nil {
		p.refreshSummaries(mctx, embedded)
	}

	log.Info().
		Str("capture_id", rec.ID).
		Int("extracted", res.Extracted).
		Int("committed", n).
		Int("entities", res.Merge.Entities).
		Int("edges", res.Merge.Edges).
		Dur("elapsed", time.Since(start)).
		Msg("cycle committed")
	return res, nil
}

func (p *Pipeline) refreshSummaries(ctx context.Context, frags []model.MemoryFragment) {
	done := make(map[string]bool)
	for _, f := range frags {
		if f.SessionID == "" || done[f.SessionID] {
			continue
		}
		done[f.SessionID] = true
		if _, err := p.deps.Summarizer.Refresh(ctx, f.SessionID, f.SourceApp); err != nil {
			p.log.Warn().Err(err).Str("session_id", f.SessionID).Msg("summary refresh failed")
		}
	}
}

func outcomeFor(ctx context.Context) Outcome {
	if ctx.Err() != nil {
		return OutcomeCanceled
	}
	return OutcomeFailed
}

// Submit queues a cycle for app behind any cycle already queued for it.
func (p *Pipeline) Submit(ctx context.Context, app string) error {
	if p.Status() == StatusStopped {
		return shardqueue.ErrExecutorClosed
	}
	err := p.exec.Submit(ctx, app, shardqueue.JobFunc(func(ctx context.Context) error {
		res, err := p.RunCycle(ctx, app)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrServerUnavailable):
			p.log.Debug().Err(err).Str("app", app).Msg("capture dropped")
		case res.Outcome == OutcomeCanceled:
			p.log.Debug().Err(err).Str("app", app).Msg("cycle canceled")
		default:
			p.log.Warn().Err(err).Str("app", app).Str("outcome", string(res.Outcome)).Msg("cycle failed")
		}
		return nil
	}))
	if errors.Is(err, shardqueue.ErrQueueFull) {
		capturesDropped.WithLabelValues(app, "queue_full").Inc()
	}
	return err
}

// Trigger requests an out-of-schedule cycle, e.g. on a focus change. It
// reports whether the request was accepted by the per-app rate limit and queued.
func (p *Pipeline) Trigger(app string) bool {
	if !p.limiter(app).Allow() {
		capturesDropped.WithLabelValues(app, "rate_limited").Inc()
		return false
	}
	p.mu.Lock()
	ctx := p.base
	p.mu.Unlock()
	if err := p.Submit(ctx, app); err != nil {
		p.log.Warn().Err(err).Str("app", app).Msg("trigger rejected")
		return false
	}
	return true
}

func (p *Pipeline) limiter(app string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[app]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.cfg.TriggerRate), p.cfg.TriggerBurst)
		p.limiters[app] = l
	}
	return l
}

// Run schedules a cycle per configured app every Interval until ctx is done,
// then stops the executor. A failed pipeline returns its error at once.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	p.base = ctx
	p.mu.Unlock()
	defer p.Stop()
	if err := p.Err(); err != nil {
		return err
	}

	p.log.Info().Strs("apps", p.cfg.Apps).Dur("interval", p.cfg.Interval).Msg("pipeline running")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Triggers may still arrive when no application is scheduled.
		<-gctx.Done()
		return nil
	})
	for _, app := range p.cfg.Apps {
		g.Go(func() error {
			t := time.NewTicker(p.cfg.Interval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					if err := p.Submit(gctx, app); err != nil && !errors.Is(err, context.Canceled) {
						p.log.Warn().Err(err).Str("app", app).Msg("scheduled cycle not queued")
					}
				}
			}
		})
	}
	return g.Wait()
}

// Wait blocks until every cycle queued for app before the call has finished.
func (p *Pipeline) Wait(ctx context.Context, app string) error {
	return p.exec.Barrier(ctx, app)
}

// Stop drains queued cycles and stops the executor. Idempotent.
func (p *Pipeline) Stop() {
	p.stopped.Store(true)
	p.exec.Stop()
}
