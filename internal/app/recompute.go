package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/pkg/logger"
	"github.com/okian/tiara/pkg/metrics"
)

// RecomputeReport summarises a bulk recompute.
type RecomputeReport struct {
	Version   int64         `json:"version"`
	Users     int           `json:"users"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// RecomputeAll rescores every user against the current result. A
// corrupt result aborts before any score is written; single user
// failures are counted and do not stop the others.
func (s *Service) RecomputeAll(ctx context.Context) (RecomputeReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.RecomputeAll")
	defer span.End()
	start := time.Now()

	report, err := s.recomputeAll(ctx)
	report.Duration = time.Since(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "aborted"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case report.Failed > 0:
		outcome = "partial"
	}
	span.SetAttributes(
		attribute.Int64("result.version", report.Version),
		attribute.Int("users", report.Users),
		attribute.Int("failed", report.Failed),
	)
	metrics.RecordRecomputeRun(outcome, float64(report.Duration.Microseconds())/1000)
	s.logger.Info(ctx, "bulk recompute finished",
		logger.String("outcome", outcome),
		logger.Int64("version", report.Version),
		logger.Int("users", report.Users),
		logger.Int("failed", report.Failed),
		logger.Duration("duration", report.Duration),
	)
	return report, err
}

func (s *Service) recomputeAll(ctx context.Context) (RecomputeReport, error) {
	r, err := s.stores.Results.Current(ctx)
	if err != nil {
		return RecomputeReport{}, err
	}
	report := RecomputeReport{Version: r.Version}
	if err := results.Validate(&r); err != nil {
		metrics.RecordIntegrityViolation()
		return report, err
	}
	if r.IsEmpty() {
		return report, s.stores.Scores.ClearAll(ctx, r.Version)
	}

	preds, err := s.stores.Predictions.All(ctx)
	if err != nil {
		return report, err
	}
	report.Users = len(preds)

	var ok, failed atomic.Int64
	g := &errgroup.Group{}
	g.SetLimit(s.recomputeConcurrency)
	for _, p := range preds {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := s.recomputeUser(ctx, p.UserID); err != nil {
				failed.Add(1)
				s.logger.Warn(ctx, "recompute failed", logger.String("user_id", p.UserID), logger.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Succeeded = int(ok.Load())
	report.Failed = int(failed.Load())
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// watchResults turns committed result changes into recompute work.
func (s *Service) watchResults(ctx context.Context, changes <-chan model.ResultChange) {
	defer close(s.loopDone)
	for change := range changes {
		if s.recomputeMode != RecomputeAsync {
			continue
		}
		s.handleChange(ctx, change)
	}
}

func (s *Service) handleChange(ctx context.Context, change model.ResultChange) {
	r, err := s.stores.Results.Current(ctx)
	if err != nil {
		s.logger.Error(ctx, "read result after change", logger.Error(err))
		return
	}
	if r.IsEmpty() {
		if err := s.stores.Scores.ClearAll(ctx, r.Version); err != nil {
			s.logger.Error(ctx, "clear scores", logger.Error(err))
		}
		return
	}
	if change.Cleared {
		// the result was refilled since the reset
		if err := s.stores.Scores.ClearAll(ctx, change.Version); err != nil {
			s.logger.Error(ctx, "clear scores", logger.Error(err))
		}
	}
	if err := results.Validate(&r); err != nil {
		metrics.RecordIntegrityViolation()
		s.logger.Error(ctx, "skipping recompute of corrupt result", logger.Error(err))
		return
	}

	preds, err := s.stores.Predictions.All(ctx)
	if err != nil {
		s.logger.Error(ctx, "list predictions", logger.Error(err))
		return
	}
	inline := 0
	for _, p := range preds {
		job := model.RecomputeJob{UserID: p.UserID, Version: change.Version}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			// queue full or closing: keep the score consistent anyway
			inline++
			_ = s.RecomputeUser(ctx, p.UserID)
		}
	}
	s.logger.Debug(ctx, "recompute scheduled",
		logger.Int64("version", change.Version),
		logger.Int("users", len(preds)),
		logger.Int("inline", inline),
	)
}
