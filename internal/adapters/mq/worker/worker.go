// Package worker runs recompute jobs taken from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okian/tiara/internal/adapters/mq/queue"
	"github.com/okian/tiara/pkg/logger"
	"github.com/okian/tiara/pkg/metrics"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryRate    = 20
	defaultRetryBurst   = 5
	poolShutdownTimeout = 30 * time.Second
)

// Job is what workers read off the queue.
type Job = queue.Job

// Recomputer re-derives the score of one user.
type Recomputer interface {
	RecomputeUser(ctx context.Context, userID string) error
}

// Queue is the part of the queue a worker needs: it consumes jobs and
// puts failed ones back.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
	Enqueue(ctx context.Context, j Job) error
}

// InMemoryWorker processes recompute jobs.
type InMemoryWorker struct {
	queue       Queue
	recomputer  Recomputer
	name        string
	maxAttempts int
	limiter     *rate.Limiter
	retryable   func(error) bool

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, r Recomputer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		recomputer:  r,
		name:        "worker",
		maxAttempts: defaultMaxAttempts,
		retryable:   func(error) bool { return true },
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.limiter == nil {
		w.limiter = rate.NewLimiter(defaultRetryRate, defaultRetryBurst)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run consumes jobs until ctx ends, Shutdown is called, or the queue
// is closed and drained.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown stops the worker after its current job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job Job) {
	start := time.Now()
	err := w.recomputer.RecomputeUser(ctx, job.UserID)
	if err == nil {
		metrics.RecordJobProcessed(float64(time.Since(start).Microseconds()) / 1000)
		return
	}

	fields := []logger.Field{
		logger.String("user_id", job.UserID),
		logger.Int64("version", job.Version),
		logger.Int("attempt", job.Attempt+1),
		logger.Error(err),
	}
	switch {
	case !w.retryable(err):
		metrics.RecordJobDropped("permanent")
		w.logger.Error(ctx, "recompute failed permanently", fields...)
		return
	case job.Attempt+1 >= w.maxAttempts:
		metrics.RecordJobDropped("exhausted")
		w.logger.Error(ctx, "recompute attempts exhausted", fields...)
		return
	}

	if err := w.limiter.Wait(ctx); err != nil {
		metrics.RecordJobDropped("cancelled")
		return
	}
	job.Attempt++
	if err := w.queue.Enqueue(ctx, job); err != nil {
		reason := "queue_full"
		if errors.Is(err, queue.ErrClosed) {
			reason = "queue_closed"
		}
		metrics.RecordJobDropped(reason)
		w.logger.Warn(ctx, "recompute retry dropped", append(fields, logger.String("reason", reason))...)
		return
	}
	metrics.RecordJobRetried()
	w.logger.Debug(ctx, "recompute retry scheduled", fields...)
}

// Pool manages a fixed set of workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	group   *errgroup.Group
	logger  logger.Logger
}

// NewPool creates workerCount workers sharing one retry limiter.
// A non-positive count uses one worker per CPU.
func NewPool(workerCount int, q Queue, r Recomputer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	shared := rate.NewLimiter(defaultRetryRate, defaultRetryBurst)
	base := slices.Clip(append([]Option{WithRetryLimiter(shared)}, opts...))

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(q, r, append(base, WithName("worker-"+strconv.Itoa(i)))...)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches all workers.
func (p *Pool) Start(ctx context.Context) {
	p.group = &errgroup.Group{}
	for _, w := range p.workers {
		p.group.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	metrics.UpdateWorkerCount(len(p.workers))
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue, lets workers drain it and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if p.group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	select {
	case <-done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-shutdownCtx.Done():
		for _, w := range p.workers {
			_ = w.Shutdown(shutdownCtx)
		}
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
}
