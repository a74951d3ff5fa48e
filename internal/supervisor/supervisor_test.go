//go:build !windows

package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

// healthServer answers the liveness path with the status held in code.
func healthServer(t *testing.T, code *atomic.Int32) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(int(code.Load()))
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func testSpec(bin string, port int) Spec {
	return Spec{
		Role:         "inference",
		Binary:       bin,
		Port:         port,
		HealthPath:   "/health",
		PollInterval: 20 * time.Millisecond,
		StopTimeout:  300 * time.Millisecond,
	}
}

func TestStart_LaunchFailureIsImmediate(t *testing.T) {
	s := New(zerolog.Nop())
	_, err := s.Start(context.Background(), testSpec("/nonexistent/llama-server", 1))

	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, model.ErrProcessLaunch)
	assert.Equal(t, "/nonexistent/llama-server", le.Binary)
}

func TestAwaitHealthy_ReadyThenStop(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	port := healthServer(t, &code)

	s := New(zerolog.Nop())
	h, err := s.Start(context.Background(), testSpec(writeScript(t, "exec sleep 30"), port))
	require.NoError(t, err)
	assert.Greater(t, h.PID(), 0)

	assert.Equal(t, StatusReady, s.AwaitHealthy(context.Background(), h, 2*time.Second))
	assert.False(t, h.Exited())

	require.NoError(t, s.Stop(h))
	assert.True(t, h.Exited())
	_, ok := h.ExitCode()
	assert.True(t, ok)
}

func TestAwaitHealthy_TimeoutFails(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)
	port := healthServer(t, &code)

	s := New(zerolog.Nop())
	h, err := s.Start(context.Background(), testSpec(writeScript(t, "exec sleep 30"), port))
	require.NoError(t, err)
	defer s.Stop(h)

	start := time.Now()
	assert.Equal(t, StatusFailed, s.AwaitHealthy(context.Background(), h, 200*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAwaitHealthy_ChildExitKeepsStderrTail(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)
	port := healthServer(t, &code)

	s := New(zerolog.Nop())
	h, err := s.Start(context.Background(), testSpec(writeScript(t, "echo 'model file missing' >&2; exit 3"), port))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, s.AwaitHealthy(context.Background(), h, 5*time.Second))
	exit, ok := h.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 3, exit)
	assert.Contains(t, h.StderrTail(), "model file missing")
	assert.NoError(t, s.Stop(h))
}

func TestStart_OneLiveChildPerRole(t *testing.T) {
	s := New(zerolog.Nop())
	spec := testSpec(writeScript(t, "exec sleep 30"), 1)

	h, err := s.Start(context.Background(), spec)
	require.NoError(t, err)

	_, err = s.Start(context.Background(), spec)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, s.Stop(h))
	h2, err := s.Start(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEqual(t, h.PID(), h2.PID())
	require.NoError(t, s.Stop(h2))
}

func TestStop_KillsChildIgnoringTerminate(t *testing.T) {
	s := New(zerolog.Nop())
	h, err := s.Start(context.Background(), testSpec(writeScript(t, "trap '' TERM\nexec sleep 30"), 1))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(h))
	assert.True(t, h.Exited())
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	code, _ := h.ExitCode()
	assert.Equal(t, -1, code)
}

func TestStartHealthy_RetriesThenNotReady(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)
	port := healthServer(t, &code)

	launches := filepath.Join(t.TempDir(), "launches")
	bin := writeScript(t, "echo started >> "+launches+"\nexec sleep 30")

	s := New(zerolog.Nop())
	_, err := s.StartHealthy(context.Background(), testSpec(bin, port), 150*time.Millisecond, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrServerNotReady)

	data, err := os.ReadFile(launches)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "started"))

	s.mu.Lock()
	assert.Empty(t, s.live, "failed attempts must be stopped")
	s.mu.Unlock()
}

func TestStartHealthy_LaunchErrorNotRetried(t *testing.T) {
	s := New(zerolog.Nop())
	start := time.Now()
	_, err := s.StartHealthy(context.Background(), testSpec("/nonexistent/bin", 1), time.Second, 5)
	assert.ErrorIs(t, err, model.ErrProcessLaunch)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestStartHealthy_Ready(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	port := healthServer(t, &code)

	s := New(zerolog.Nop())
	h, err := s.StartHealthy(context.Background(), testSpec(writeScript(t, "exec sleep 30"), port), time.Second, 3)
	require.NoError(t, err)
	require.NotNil(t, h)
	s.StopAll()
	assert.True(t, h.Exited())
}

func TestServerHealthChecker(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	port := healthServer(t, &code)

	c := NewServerHealthChecker("http://127.0.0.1:"+strconv.Itoa(port), "/health", zerolog.Nop())
	assert.True(t, c.Check(context.Background()))
	code.Store(http.StatusInternalServerError)
	assert.False(t, c.Check(context.Background()))
	assert.False(t, c.IsHealthy())
}
