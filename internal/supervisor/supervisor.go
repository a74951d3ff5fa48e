// Package supervisor launches and watches local child processes, chiefly the
// multimodal inference server.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

// Status is the outcome of AwaitHealthy.
type Status int

const (
	StatusFailed Status = iota
	StatusReady
)

func (s Status) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "failed"
}

// Spec describes a child process. Role identifies the slot; at most one live
// child exists per role.
type Spec struct {
	Role       string
	Binary     string
	Args       []string
	Env        []string
	Dir        string
	Port       int
	HealthPath string

	PollInterval time.Duration
	StopTimeout  time.Duration
	// StderrLines bounds the retained stderr tail.
	StderrLines int
}

func (s Spec) withDefaults() Spec {
	if s.Role == "" {
		s.Role = s.Binary
	}
	if s.HealthPath == "" {
		s.HealthPath = "/health"
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 500 * time.Millisecond
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = 5 * time.Second
	}
	if s.StderrLines <= 0 {
		s.StderrLines = 50
	}
	return s
}

func (s Spec) baseURL() string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port))
}

// Supervisor owns the live children, one per role.
type Supervisor struct {
	log    zerolog.Logger
	client *resty.Client

	mu   sync.Mutex
	live map[string]*Handle
}

func New(log zerolog.Logger) *Supervisor {
	return &Supervisor{
		log:    log.With().Str("component", "supervisor").Logger(),
		client: resty.New().SetTimeout(2 * time.Second),
		live:   make(map[string]*Handle),
	}
}

// Start launches the child described by spec. It does not wait for readiness.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.live[spec.Role]; ok && !h.Exited() {
		return nil, fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, spec.Role, h.pid)
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Grandchildren may hold the output pipes open after the child dies.
	cmd.WaitDelay = time.Second

	h := &Handle{
		role:   spec.Role,
		spec:   spec,
		cmd:    cmd,
		stderr: newTailBuffer(spec.StderrLines),
		done:   make(chan struct{}),
	}
	plog := s.log.With().Str("role", spec.Role).Logger()
	stdout := &lineWriter{fn: func(line string) { plog.Debug().Str("stream", "stdout").Msg(line) }}
	stderr := &lineWriter{fn: func(line string) {
		h.stderr.add(line)
		plog.Debug().Str("stream", "stderr").Msg(line)
	}}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	h.flush = func() {
		stdout.flush()
		stderr.flush()
	}

	if err := cmd.Start(); err != nil {
		plog.Error().Err(err).Str("binary", spec.Binary).Msg("launch failed")
		return nil, &LaunchError{Binary: spec.Binary, Err: err}
	}
	h.pid = cmd.Process.Pid
	h.started = time.Now()
	s.live[spec.Role] = h

	go func() {
		h.wait()
		code, _ := h.ExitCode()
		plog.Info().Int("pid", h.pid).Int("exit_code", code).Msg("process exited")
	}()

	plog.Info().Int("pid", h.pid).Str("binary", spec.Binary).Int("port", spec.Port).Msg("process started")
	return h, nil
}

// AwaitHealthy polls the child's liveness endpoint until it answers 2xx,
// the child exits, ctx ends, or timeout elapses. On StatusFailed the caller
// must Stop the handle.
func (s *Supervisor) AwaitHealthy(ctx context.Context, h *Handle, timeout time.Duration) Status {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probe := &ServerProbe{client: s.client, url: h.BaseURL() + h.spec.HealthPath}
	ticker := time.NewTicker(h.spec.PollInterval)
	defer ticker.Stop()

	for {
		if err := probe.HealthPing(ctx); err == nil {
			s.log.Info().Str("role", h.role).Dur("after", time.Since(h.started)).Msg("server ready")
			return StatusReady
		}
		select {
		case <-ctx.Done():
			s.log.Warn().Str("role", h.role).Dur("timeout", timeout).Msg("server not ready before deadline")
			return StatusFailed
		case <-h.done:
			code, _ := h.ExitCode()
			s.log.Warn().Str("role", h.role).Int("exit_code", code).Str("stderr_tail", h.StderrTail()).Msg("server exited before ready")
			return StatusFailed
		case <-ticker.C:
		}
	}
}

// Stop sends SIGTERM, waits StopTimeout, then kills. Stopping an exited child is a no-op.
func (s *Supervisor) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	defer s.release(h)

	if h.Exited() {
		return nil
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Debug().Err(err).Str("role", h.role).Msg("terminate signal failed, killing")
	}

	timer := time.NewTimer(h.spec.StopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	}

	s.log.Warn().Str("role", h.role).Int("pid", h.pid).Msg("process ignored terminate, killing")
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", h.role, err)
	}
	<-h.done
	return nil
}

// StopAll stops every live child.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.live))
	for _, h := range s.live {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	for _, h := range handles {
		if err := s.Stop(h); err != nil {
			s.log.Error().Err(err).Str("role", h.role).Msg("stop failed")
		}
	}
}

func (s *Supervisor) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.live[h.role]; ok && cur == h {
		delete(s.live, h.role)
	}
}

// StartHealthy starts the child and waits for readiness, retrying with
// exponential backoff up to attempts times. Every failed attempt is stopped
// before the next one. Launch failures are returned immediately.
func (s *Supervisor) StartHealthy(ctx context.Context, spec Spec, timeout time.Duration, attempts int) (*Handle, error) {
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 250 * time.Millisecond
	exp.MaxInterval = 5 * time.Second
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	var ready *Handle
	attempt := 0
	op := func() error {
		attempt++
		h, err := s.Start(ctx, spec)
		if err != nil {
			var le *LaunchError
			if errors.As(err, &le) || errors.Is(err, ErrAlreadyRunning) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if s.AwaitHealthy(ctx, h, timeout) == StatusReady {
			ready = h
			return nil
		}
		tail := h.StderrTail()
		if err := s.Stop(h); err != nil {
			s.log.Error().Err(err).Msg("stop after failed start")
		}
		return fmt.Errorf("%w: attempt %d/%d: %s", model.ErrServerNotReady, attempt, attempts, tail)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("server start failed")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return ready, nil
}

// ServerProbe pings a liveness URL. It implements health.HealthPinger.
type ServerProbe struct {
	client *resty.Client
	url    string
}

// NewServerProbe probes baseURL+healthPath.
func NewServerProbe(baseURL, healthPath string) *ServerProbe {
	return &ServerProbe{client: resty.New().SetTimeout(2 * time.Second), url: baseURL + healthPath}
}

// HealthPing returns nil on a 2xx answer.
func (p *ServerProbe) HealthPing(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%s: status %d", p.url, resp.StatusCode())
	}
	return nil
}
