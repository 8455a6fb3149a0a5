// Command contribd serves the contribution ledger and moderation queue.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contribledger/internal/allocation"
	"contribledger/internal/api"
	"contribledger/internal/auth"
	"contribledger/internal/blob"
	"contribledger/internal/config"
	"contribledger/internal/core"
	"contribledger/internal/logging"
)

const (
	countdownInterval = time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, config.Load, os.Stderr))
}

// run returns the process exit code. It blocks until ctx is cancelled or the
// listener fails.
func run(ctx context.Context, load func() (config.Config, error), stderr io.Writer) int {
	cfg, err := load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logging: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Close() }()

	app, err := assemble(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer app.close()

	go app.svc.RunCountdown(ctx, countdownInterval, func(c core.Countdown) {
		if c.Closed {
			logger.Info("submission window closed", "deadline", c.Deadline)
		}
	})
	go app.svc.RunHealthChecks(ctx, cfg.HealthInterval)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "storage", string(cfg.Storage.Driver), "deadline", app.svc.Deadline())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}
	logger.Info("stopped")
	return 0
}

type application struct {
	svc     *core.Service
	handler http.Handler
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// assemble opens every backend named by cfg and builds the HTTP handler.
func assemble(ctx context.Context, cfg config.Config, logger *logging.Logger) (_ *application, retErr error) {
	app := &application{}
	defer func() {
		if retErr != nil {
			app.close()
		}
	}()

	store, closeStore, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.closers = append(app.closers, func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", "error", err)
		}
	})

	opts := []core.ServiceOption{
		core.WithLogger(logger.With("component", "core")),
		core.WithFallbackCap(cfg.FallbackCap),
		core.WithMinimumContribution(cfg.MinimumContribution),
		core.WithQueueWindow(cfg.QueueWindow),
	}
	if !cfg.Deadline.IsZero() {
		opts = append(opts, core.WithDeadline(cfg.Deadline))
	}

	switch {
	case cfg.AllocationsFile != "":
		dir, err := allocation.LoadFile(cfg.AllocationsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("allocation table loaded", "entries", dir.Len())
		opts = append(opts, core.WithAllocationDirectory(dir))
	case cfg.AllocationsDSN != "":
		pool, err := allocation.Connect(ctx, cfg.AllocationsDSN)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pool.Close)
		opts = append(opts, core.WithAllocationDirectory(allocation.NewPostgresDirectory(pool)))
	default:
		logger.Warn("no allocation table configured; every handle gets the fallback cap", "cap", cfg.FallbackCap)
	}

	blobs, err := blob.Open(ctx, cfg.BlobDriver, cfg.BlobS3)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	archiver := core.NewBlobArchiver(blobs, nil)
	opts = append(opts, core.WithArchiver(archiver))

	var metricsHandler http.Handler
	switch cfg.Metrics {
	case config.MetricsPrometheus:
		rec, err := core.NewPrometheusMetricsRecorder()
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
		metricsHandler = rec.Handler()
	case config.MetricsExpvar:
		opts = append(opts, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("")))
		metricsHandler = expvar.Handler()
	}

	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		app.closers = append(app.closers, func() { _ = f.Close() })
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}

	app.svc = core.NewService(store, opts...)
	server := api.New(app.svc,
		auth.NewTokenRegistry(cfg.ModeratorTokens),
		core.NewEmailAllowlist(cfg.ModeratorEmails...),
		api.WithLogger(logger.With("component", "api")),
		api.WithMetricsHandler(metricsHandler),
		api.WithArchive(archiver),
	)
	app.handler = server.Routes()
	return app, nil
}
