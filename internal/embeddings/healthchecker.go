package embeddings

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/health"
)

var errEmptyProbe = errors.New("empty probe embedding")

// ProviderHealthChecker monitors an embeddings provider.
type ProviderHealthChecker struct {
	provider     Provider
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

func NewProviderHealthChecker(p Provider, log zerolog.Logger, probeTimeout time.Duration) *ProviderHealthChecker {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &ProviderHealthChecker{provider: p, log: log, probeTimeout: probeTimeout}
}

func (c *ProviderHealthChecker) Name() string    { return "embedder" }
func (c *ProviderHealthChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Probe runs one check. Providers implementing health.HealthPinger are pinged;
// others must embed a short probe text.
func (c *ProviderHealthChecker) Probe(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	var err error
	if p, ok := c.provider.(health.HealthPinger); ok {
		err = p.HealthPing(checkCtx)
	} else {
		var vec []float32
		vec, err = c.provider.Embed(checkCtx, "health-check")
		if err == nil && len(vec) == 0 {
			err = errEmptyProbe
		}
	}
	if err != nil {
		if c.healthy.Swap(0) == 1 {
			c.log.Error().Stack().Str("checker", c.Name()).Err(err).Msg("embedder health check failed")
		}
		return false
	}
	if c.healthy.Swap(1) == 0 {
		c.log.Info().Str("checker", c.Name()).Msg("embedder healthy")
	}
	return true
}

func (c *ProviderHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Probe(ctx)
		}
	}
}
