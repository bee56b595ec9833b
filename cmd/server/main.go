package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/tiara/internal/adapters/http/api"
	"github.com/okian/tiara/internal/adapters/http/swagger"
	"github.com/okian/tiara/internal/adapters/repository"
	app "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/config"
	"github.com/okian/tiara/internal/domain/registry"
	"github.com/okian/tiara/pkg/logger"
	"github.com/okian/tiara/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Configure(os.Stdout, cfg.LogLevel, cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to configure logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	if err := run(ctx, cfg); err != nil {
		log.Error(ctx, "server exited", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// application is everything run starts and later tears down.
type application struct {
	svc     *app.Service
	stores  *repository.Stores
	handler http.Handler
}

// build loads the candidate registry, opens storage and wires the service
// and the HTTP routes. The service is started.
func build(ctx context.Context, cfg *config.Config) (*application, error) {
	log := logger.Get()

	reg, err := registry.LoadFile(cfg.CandidatesFile)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	stores, err := repository.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if stores.Candidates != nil {
		if err := stores.Candidates.UpsertCandidates(ctx, reg.List()); err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("sync candidates: %w", err)
		}
	}

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithCatalog(reg),
		app.WithStores(stores),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithJobMaxAttempts(cfg.JobMaxAttempts),
		app.WithRetryRate(cfg.RetryRatePerSec, cfg.RetryBurst),
		app.WithRecomputeConcurrency(cfg.RecomputeConcurrency),
		app.WithRecomputeMode(cfg.RecomputeMode),
	)
	if err := svc.Start(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("start service: %w", err)
	}

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	apiServer := api.NewServer(svc,
		api.WithAdminKey(cfg.AdminKey),
		api.WithMaxLimit(cfg.MaxLeaderboardLimit),
		api.WithLogger(log.Named("api")),
	)
	apiServer.Register(ctx, mux)

	if cfg.AdminKey == "" {
		log.Warn(ctx, "admin_key is not set; admin routes are disabled")
	}
	log.Info(ctx, "application wired",
		logger.String("storage", cfg.Storage.Driver),
		logger.Int("candidates", len(reg.List())),
	)
	return &application{svc: svc, stores: stores, handler: apiServer.Handler(mux)}, nil
}

func (a *application) close() {
	a.svc.Stop()
	if err := a.stores.Close(); err != nil {
		logger.Get().Warn(context.Background(), "close storage", logger.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, a.svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges GetStats does not touch.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if n, ok := stats["rankedUsers"].(int); ok {
		metrics.UpdateLeaderboardSize(n)
	}
	if n, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(n)
	}
}
