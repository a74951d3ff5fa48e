//go:build !windows

package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/supervisor"
)

func serverSpec(t *testing.T, code *atomic.Int32) supervisor.Spec {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	bin := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	return supervisor.Spec{
		Role:         "inference",
		Binary:       bin,
		Port:         port,
		HealthPath:   "/health",
		PollInterval: 20 * time.Millisecond,
		StopTimeout:  300 * time.Millisecond,
	}
}

func TestStartServer_ExhaustedRetriesDegradePipeline(t *testing.T) {
	f := newFixture(t, nil)
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)

	sup := supervisor.New(zerolog.Nop())
	t.Cleanup(sup.StopAll)

	_, err := f.p.StartServer(context.Background(), sup, serverSpec(t, &code), 150*time.Millisecond, 2)
	require.ErrorIs(t, err, model.ErrServerNotReady)
	assert.Equal(t, StatusDegraded, f.p.Status())

	res, err := f.p.RunCycle(context.Background(), "slack")
	assert.ErrorIs(t, err, model.ErrServerUnavailable)
	assert.Equal(t, OutcomeDropped, res.Outcome)
	assert.Zero(t, f.countFragments(t))
}

func TestStartServer_MissingBinaryFailsPipeline(t *testing.T) {
	f := newFixture(t, nil)
	var code atomic.Int32
	code.Store(http.StatusOK)
	spec := serverSpec(t, &code)
	spec.Binary = filepath.Join(t.TempDir(), "no-such-server")

	sup := supervisor.New(zerolog.Nop())
	t.Cleanup(sup.StopAll)

	_, err := f.p.StartServer(context.Background(), sup, spec, time.Second, 3)
	require.ErrorIs(t, err, model.ErrProcessLaunch)
	assert.Equal(t, StatusFailed, f.p.Status())
	assert.Contains(t, f.p.Reason(), "no-such-server")
	assert.ErrorIs(t, f.p.Err(), model.ErrProcessLaunch)

	// Recovery of the server health gate does not clear a launch failure.
	f.p.ClearDegraded()
	assert.Equal(t, StatusFailed, f.p.Status())

	res, err := f.p.RunCycle(context.Background(), "slack")
	assert.ErrorIs(t, err, model.ErrServerUnavailable)
	assert.Equal(t, OutcomeDropped, res.Outcome)
	assert.Zero(t, f.src.calls.Load())

	done := make(chan error, 1)
	go func() { done <- f.p.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, model.ErrProcessLaunch)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return the launch failure")
	}
}

func TestStartServer_ReadyClearsDegraded(t *testing.T) {
	f := newFixture(t, nil)
	f.p.MarkDegraded(model.ErrServerNotReady)
	var code atomic.Int32
	code.Store(http.StatusOK)

	sup := supervisor.New(zerolog.Nop())
	t.Cleanup(sup.StopAll)

	h, err := f.p.StartServer(context.Background(), sup, serverSpec(t, &code), time.Second, 1)
	require.NoError(t, err)
	assert.Positive(t, h.PID())
	assert.Equal(t, StatusReady, f.p.Status())
}
