package worker

import (
	"golang.org/x/time/rate"

	"github.com/okian/tiara/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxAttempts bounds how often one job is tried.
func WithMaxAttempts(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryLimiter paces re-enqueued jobs. Workers of a pool share it.
func WithRetryLimiter(l *rate.Limiter) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.limiter = l
		}
	}
}

// WithRetryable decides which errors are worth another attempt.
func WithRetryable(fn func(error) bool) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.retryable = fn
		}
	}
}
