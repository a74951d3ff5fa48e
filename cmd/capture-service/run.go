package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/api"
	"github.com/wednesday-solutions/my-memories-sub001/internal/capture"
	"github.com/wednesday-solutions/my-memories-sub001/internal/config"
	"github.com/wednesday-solutions/my-memories-sub001/internal/embeddings"
	"github.com/wednesday-solutions/my-memories-sub001/internal/graph"
	"github.com/wednesday-solutions/my-memories-sub001/internal/health"
	"github.com/wednesday-solutions/my-memories-sub001/internal/inference"
	"github.com/wednesday-solutions/my-memories-sub001/internal/localstate"
	"github.com/wednesday-solutions/my-memories-sub001/internal/logger"
	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/pipeline"
	"github.com/wednesday-solutions/my-memories-sub001/internal/shardqueue"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store/sqlstore"
	"github.com/wednesday-solutions/my-memories-sub001/internal/summary"
	"github.com/wednesday-solutions/my-memories-sub001/internal/supervisor"
)

// Run starts the pipeline and the HTTP query surface and blocks until shutdown or error.
func Run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(os.Stdout, "capture-service", cfg.LogLevel)

	ctx, stop := newServerContext()
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Error().Stack().Err(err).Msg("store unavailable")
		return err
	}
	defer func() { _ = st.Close() }()

	sup := supervisor.New(log)
	defer sup.StopAll()

	serverHealth := supervisor.NewServerHealthChecker(cfg.ServerURL(), cfg.ServerHealthPath, log)
	infer := inference.New(inference.Config{
		BaseURL:   cfg.ServerURL(),
		Model:     cfg.InferenceModel,
		Timeout:   cfg.InferenceTimeout,
		MaxTokens: cfg.MaxTokens,
	}, serverHealth, log)

	provider, err := embeddings.NewProvider(cfg.EmbedProvider, cfg.EmbedURL, cfg.EmbedModel)
	if err != nil {
		return err
	}
	engine := embeddings.NewEngine(provider, cfg.EmbedDimension, log)
	merger := graph.NewMerger(st, log)

	queueCfg, err := shardqueue.LoadConfig()
	if err != nil {
		return fmt.Errorf("shard queue config: %w", err)
	}
	pipe := pipeline.New(pipeline.Config{
		Apps:         cfg.Apps,
		Interval:     cfg.CaptureInterval,
		TriggerRate:  cfg.TriggerRate,
		TriggerBurst: cfg.TriggerBurst,
		Queue:        queueCfg,
	}, pipeline.Deps{
		Capture: capture.NewSource(capture.Config{
			HelperPath:        cfg.HelperPath,
			ScreenshotCommand: cfg.ScreenshotCommand,
			Timeout:           cfg.CaptureTimeout,
		}, log),
		Extractor:  infer,
		Embedder:   engine,
		Store:      st,
		Merger:     merger,
		Summarizer: summary.New(st, merger, infer, summary.Config{Every: cfg.SummaryEvery}, log),
		Gate:       serverHealth,
	}, log)

	if !cfg.ServerExternal {
		err := startServer(ctx, cfg, sup, pipe)
		switch {
		case errors.Is(err, model.ErrProcessLaunch):
			log.Error().Stack().Err(err).Msg("inference server could not be launched")
			return err
		case err != nil:
			log.Error().Stack().Err(err).Msg("inference server not ready, running degraded")
		}
	}
	serverHealth.Check(ctx)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, provider, serverHealth)

	router := api.NewRouter(api.Deps{
		Store:    st,
		Embedder: engine,
		Graph:    merger,
		Pipeline: pipe,
		Trigger:  pipe,
		Health:   svcHealth,
		Log:      log,
	})
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	pipeDone := make(chan error, 1)
	go func() { pipeDone <- runPipeline(ctx, pipe, sup, log) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		stop()
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(ctxShutdown); serr != nil {
		log.Error().Stack().Err(serr).Msg("server forced to shutdown")
	}
	<-pipeDone
	log.Info().Msg("capture service exited")
	return err
}

// runPipeline runs the pipeline until ctx is done. Queued cycles drain first,
// then every supervised child is stopped.
func runPipeline(ctx context.Context, pipe *pipeline.Pipeline, sup *supervisor.Supervisor, log zerolog.Logger) error {
	defer sup.StopAll()
	err := pipe.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("pipeline stopped with error")
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	target := cfg.PostgresDSN
	if cfg.DBDriver == "sqlite" {
		target = cfg.SQLitePath
		if target == "" {
			p, err := localstate.DBPath()
			if err != nil {
				return nil, err
			}
			target = p
		}
	}
	return sqlstore.Open(ctx, cfg.DBDriver, target)
}

func startServer(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor, pipe *pipeline.Pipeline) error {
	spec := supervisor.Spec{
		Role:        "inference",
		Binary:      cfg.ServerBinary,
		Args:        cfg.ServerArgs,
		Port:        cfg.ServerPort,
		HealthPath:  cfg.ServerHealthPath,
		StopTimeout: cfg.ServerStopTimeout,
	}
	if dir, err := localstate.DataDir(); err == nil {
		spec.Dir = dir
	}
	_, err := pipe.StartServer(ctx, sup, spec, cfg.ServerStartTimeout, cfg.ServerStartRetries)
	return err
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, provider embeddings.Provider, serverHealth *health.PingChecker) *health.ServiceHealthChecker {
	interval := cfg.HealthInterval

	storeChecker := store.NewHealthChecker(st, log, 2*time.Second)
	go storeChecker.Start(ctx, interval)

	embChecker := embeddings.NewProviderHealthChecker(provider, log, 5*time.Second)
	go embChecker.Start(ctx, interval)

	go serverHealth.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker, embChecker, serverHealth)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.GetHTTPAddr()).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a context cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
