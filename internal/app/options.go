package service

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/tiara/internal/adapters/repository"
	"github.com/okian/tiara/pkg/logger"
)

// Recompute modes.
const (
	RecomputeAsync = "async"
	RecomputeSync  = "sync"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithCatalog sets the candidate catalog.
func WithCatalog(c Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithStores sets the storage backend. Defaults to memory stores.
func WithStores(st *repository.Stores) Option {
	return func(s *Service) {
		if st != nil {
			s.stores = st
		}
	}
}

// WithWorkerCount sets the number of recompute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the recompute queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the idempotency key cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithJobMaxAttempts bounds tries per recompute job.
func WithJobMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.jobMaxAttempts = n
		}
	}
}

// WithRetryRate paces job retries with a token bucket.
func WithRetryRate(perSecond float64, burst int) Option {
	return func(s *Service) {
		if perSecond > 0 && burst > 0 {
			s.retryLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithRecomputeConcurrency bounds parallel users in a bulk recompute.
func WithRecomputeConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recomputeConcurrency = n
		}
	}
}

// WithRecomputeMode selects how result changes reach scores:
// RecomputeAsync through the job queue, RecomputeSync inline.
func WithRecomputeMode(mode string) Option {
	return func(s *Service) {
		if mode == RecomputeAsync || mode == RecomputeSync {
			s.recomputeMode = mode
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
