// Package capture pulls on-screen content from the OS through an external
// text-extraction helper and an optional screenshot command.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

// ErrScreenshotUnavailable is returned when no screenshot command is configured
// or it produced no image.
var ErrScreenshotUnavailable = errors.New("screenshot unavailable")

// TextResult is the outcome of one helper run. Helper failures are reported
// here rather than as errors.
type TextResult struct {
	Text      string
	Available bool
	TimedOut  bool
	ExitCode  int
}

// Err returns model.ErrCaptureTimeout for a timed-out run, nil otherwise.
func (r TextResult) Err() error {
	if r.TimedOut {
		return model.ErrCaptureTimeout
	}
	return nil
}

type Config struct {
	HelperPath        string
	ScreenshotCommand []string
	Timeout           time.Duration
	// KillGrace bounds how long output collection may outlive a killed helper.
	KillGrace time.Duration
}

// Source runs the helper. Calls for different apps run concurrently; calls for
// the same app are serialized.
type Source struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewSource(cfg Config, log zerolog.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 200 * time.Millisecond
	}
	return &Source{
		cfg:   cfg,
		log:   log.With().Str("component", "capture").Logger(),
		locks: make(map[string]chan struct{}),
	}
}

func (s *Source) appLock(app string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[app]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[app] = l
	}
	return l
}

// CaptureText runs `helper <app>` with its own deadline. On deadline the helper
// is killed and whatever it had written so far is returned with TimedOut set.
func (s *Source) CaptureText(ctx context.Context, app string, timeout time.Duration) TextResult {
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	lock := s.appLock(app)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return TextResult{ExitCode: -1}
	}
	defer func() { <-lock }()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr lockedBuffer
	cmd := exec.CommandContext(runCtx, s.cfg.HelperPath, app)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = s.cfg.KillGrace

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return TextResult{ExitCode: -1}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		text := strings.TrimSpace(stdout.String())
		s.log.Warn().Str("app", app).Dur("timeout", timeout).Int("partial_bytes", len(text)).Msg("helper timed out")
		return TextResult{Text: text, Available: text != "", TimedOut: true, ExitCode: -1}
	}
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		s.log.Debug().Err(err).Str("app", app).Int("exit_code", code).Str("stderr", strings.TrimSpace(stderr.String())).Msg("helper unavailable")
		return TextResult{ExitCode: code}
	}

	text := strings.TrimSpace(stdout.String())
	s.log.Debug().Str("app", app).Dur("elapsed", elapsed).Int("bytes", len(text)).Msg("helper finished")
	return TextResult{Text: text, Available: text != "", ExitCode: 0}
}

// CaptureScreenshot runs the configured screenshot command and returns the PNG
// it writes to stdout.
func (s *Source) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if len(s.cfg.ScreenshotCommand) == 0 {
		return nil, ErrScreenshotUnavailable
	}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var stdout lockedBuffer
	cmd := exec.CommandContext(runCtx, s.cfg.ScreenshotCommand[0], s.cfg.ScreenshotCommand[1:]...)
	cmd.Stdout = &stdout
	cmd.WaitDelay = s.cfg.KillGrace
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	img := stdout.Bytes()
	if len(img) == 0 {
		return nil, ErrScreenshotUnavailable
	}
	if ct := http.DetectContentType(img); ct != "image/png" {
		return nil, fmt.Errorf("%w: unexpected content type %s", ErrScreenshotUnavailable, ct)
	}
	return img, nil
}

// Capture builds one CaptureRecord for app. Text and screenshot are taken
// concurrently; a failed screenshot never blocks the text.
func (s *Source) Capture(ctx context.Context, app string) (model.CaptureRecord, error) {
	rec := model.CaptureRecord{
		ID:         uuid.NewString(),
		SourceApp:  app,
		CapturedAt: time.Now().UTC(),
	}

	var (
		text TextResult
		img  []byte
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text = s.CaptureText(gctx, app, s.cfg.Timeout)
		return nil
	})
	g.Go(func() error {
		b, err := s.CaptureScreenshot(gctx)
		if err != nil {
			if !errors.Is(err, ErrScreenshotUnavailable) {
				s.log.Debug().Err(err).Str("app", app).Msg("screenshot failed")
			}
			return nil
		}
		img = b
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return model.CaptureRecord{}, err
	}
	if text.Available {
		rec.Text = text.Text
	}
	if len(img) > 0 {
		rec.Image = img
		rec.ImageMIME = "image/png"
	}
	return rec, nil
}

// lockedBuffer is a bytes.Buffer safe for the exec copy goroutine and a reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
