// Package service wires the scoring engine, the official result state
// machine and the stores into the operations the HTTP API exposes.
package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/okian/tiara/internal/adapters/mq/queue"
	"github.com/okian/tiara/internal/adapters/mq/worker"
	"github.com/okian/tiara/internal/adapters/repository"
	"github.com/okian/tiara/internal/domain/dedupe"
	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/registry"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/internal/domain/scoring"
	"github.com/okian/tiara/pkg/logger"
	"github.com/okian/tiara/pkg/metrics"
)

const (
	tracerName      = "github.com/okian/tiara/internal/app"
	conflictRetries = 3
	stopTimeout     = 10 * time.Second
)

// Catalog is the candidate registry as seen by the service.
type Catalog interface {
	Get(id string) (model.Candidate, error)
	List() []model.Candidate
	Search(query string, limit int) []model.Candidate
	CheckKnown(ids ...string) error
}

// Service implements the API dependencies of the prediction system.
type Service struct {
	mu sync.RWMutex

	catalog  Catalog
	stores   *repository.Stores
	deduper  dedupe.Deduper
	inflight singleflight.Group
	queue    *queue.InMemoryQueue
	pool     *worker.Pool
	tracer   trace.Tracer

	workerCount          int
	queueSize            int
	dedupeSize           int
	jobMaxAttempts       int
	recomputeConcurrency int
	recomputeMode        string
	retryLimiter         *rate.Limiter
	now                  func() time.Time

	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:          runtime.NumCPU(),
		queueSize:            10000,
		dedupeSize:           50000,
		jobMaxAttempts:       3,
		recomputeConcurrency: runtime.NumCPU() * 4,
		recomputeMode:        RecomputeAsync,
		retryLimiter:         rate.NewLimiter(20, 5),
		now:                  time.Now,
		tracer:               otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stores == nil {
		s.stores = repository.NewMemoryStores()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start launches the result change loop and the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.catalog == nil {
		return ErrMissingCatalog
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s,
		worker.WithMaxAttempts(s.jobMaxAttempts),
		worker.WithRetryLimiter(s.retryLimiter),
		worker.WithRetryable(retryable),
	)
	s.pool.Start(runCtx)

	s.loopDone = make(chan struct{})
	changes := s.stores.Results.Subscribe(runCtx)
	go s.watchResults(runCtx, changes)

	if r, err := s.stores.Results.Current(ctx); err == nil {
		metrics.UpdateResultVersion(r.Version)
	}

	s.started = true
	s.logger.Info(ctx, "prediction service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("recomputeMode", s.recomputeMode),
		logger.Int("candidates", len(s.catalog.List())),
	)
	return nil
}

// Stop drains the worker pool and stops the change loop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping prediction service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.cancel()
	select {
	case <-s.loopDone:
	case <-ctx.Done():
		s.logger.Warn(ctx, "result watcher did not stop in time")
	}

	s.started = false
	s.logger.Info(ctx, "prediction service stopped")
}

// Candidates lists candidates, fuzzy-matched by name when query is set.
func (s *Service) Candidates(query string, limit int) []model.Candidate {
	if query == "" {
		all := s.catalog.List()
		if limit > 0 && limit < len(all) {
			all = all[:limit]
		}
		return all
	}
	return s.catalog.Search(query, limit)
}

// Candidate returns one candidate.
func (s *Service) Candidate(id string) (model.Candidate, error) {
	return s.catalog.Get(id)
}

// TopN returns the top N leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]repository.Entry, error) {
	return s.stores.Leaderboard.TopN(ctx, n)
}

// Rank returns the leaderboard entry of a user.
func (s *Service) Rank(ctx context.Context, userID string) (repository.Entry, error) {
	return s.stores.Leaderboard.Rank(ctx, userID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"dedupeEntries": s.deduper.Size(),
		"recomputeMode": s.recomputeMode,
		"rankedUsers":   s.stores.Leaderboard.Count(ctx),
	}
	if s.catalog != nil {
		stats["candidates"] = len(s.catalog.List())
	}
	if r, err := s.stores.Results.Current(ctx); err == nil {
		stats["resultVersion"] = r.Version
		stats["stage"] = results.StageOf(&r)
	}
	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}

// Size returns the number of remembered idempotency keys.
func (s *Service) Size() int64 {
	return s.deduper.Size()
}

// retryable reports whether a failed recompute may succeed on retry.
func retryable(err error) bool {
	switch {
	case errors.Is(err, scoring.ErrDataIntegrityViolation),
		errors.Is(err, scoring.ErrInvalidPredictionShape),
		errors.Is(err, registry.ErrUnknownCandidate),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
