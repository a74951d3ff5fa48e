package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/supervisor"
)

// ServerStarter brings up a supervised child and waits for it to become healthy.
type ServerStarter interface {
	StartHealthy(ctx context.Context, spec supervisor.Spec, timeout time.Duration, attempts int) (*supervisor.Handle, error)
}

// StartServer launches the inference server. A binary that cannot be spawned
// fails the pipeline; a server that is still not ready after the retry budget
// marks it degraded.
func (p *Pipeline) StartServer(ctx context.Context, sup ServerStarter, spec supervisor.Spec, timeout time.Duration, attempts int) (*supervisor.Handle, error) {
	h, err := sup.StartHealthy(ctx, spec, timeout, attempts)
	if errors.Is(err, model.ErrProcessLaunch) {
		p.Fail(err)
		return nil, err
	}
	if err != nil {
		p.MarkDegraded(err)
		return nil, err
	}
	p.ClearDegraded()
	p.log.Info().Int("pid", h.PID()).Str("url", h.BaseURL()).Msg("inference server ready")
	return h, nil
}
