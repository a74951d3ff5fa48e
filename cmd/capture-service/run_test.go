//go:build !windows

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wednesday-solutions/my-memories-sub001/internal/pipeline"
	"github.com/wednesday-solutions/my-memories-sub001/internal/supervisor"
)

func TestRunPipeline_StopsServerOnCancel(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	sup := supervisor.New(zerolog.Nop())
	t.Cleanup(sup.StopAll)
	h, err := sup.Start(context.Background(), supervisor.Spec{
		Role:        "inference",
		Binary:      bin,
		Port:        1,
		HealthPath:  "/health",
		StopTimeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, syscall.Kill(h.PID(), 0), "server should be running")

	pipe := pipeline.New(pipeline.Config{Interval: time.Hour}, pipeline.Deps{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runPipeline(ctx, pipe, sup, zerolog.Nop()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	assert.True(t, h.Exited())
	assert.Equal(t, pipeline.StatusStopped, pipe.Status())
	err = syscall.Kill(h.PID(), 0)
	assert.True(t, errors.Is(err, syscall.ESRCH), "server pid still present: %v", err)
}
