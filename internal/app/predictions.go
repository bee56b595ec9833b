package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/tiara/internal/adapters/repository"
	"github.com/okian/tiara/internal/domain/dedupe"
	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/internal/domain/scoring"
	"github.com/okian/tiara/pkg/logger"
	"github.com/okian/tiara/pkg/metrics"
)

// Submission is the outcome of SubmitPrediction.
type Submission struct {
	Prediction model.Prediction `json:"prediction"`
	// Score is nil while no official result exists or when scoring was
	// deferred to the recompute queue.
	Score     *model.Score `json:"score,omitempty"`
	Duplicate bool         `json:"duplicate"`
}

// PredictionView is a user's latest prediction with its cached score.
type PredictionView struct {
	Prediction model.Prediction `json:"prediction"`
	Score      *model.Score     `json:"score,omitempty"`
}

// Preview is a score computed without storing anything.
type Preview struct {
	scoring.Result
	ResultVersion int64         `json:"result_version"`
	Stage         results.Stage `json:"stage"`
}

// SubmitPrediction validates, stores and scores a user's prediction. A
// repeated idempotency key for the same user replays the stored outcome;
// concurrent submissions with one key share a single store.
func (s *Service) SubmitPrediction(ctx context.Context, userID string, ranked []string, idempotencyKey string) (Submission, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		metrics.RecordPredictionRejected("invalid_user")
		return Submission{}, ErrInvalidUser
	}
	if err := s.checkPrediction(ranked); err != nil {
		return Submission{}, err
	}
	if idempotencyKey == "" {
		return s.submit(ctx, userID, ranked)
	}

	key := dedupe.Key(userID, idempotencyKey)
	leader := false
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		leader = true
		if p, ok := s.deduper.Outcome(ctx, key); ok {
			return s.replay(ctx, p)
		}
		sub, err := s.submit(ctx, userID, ranked)
		if err != nil {
			return nil, err
		}
		s.deduper.Record(ctx, key, sub.Prediction)
		return sub, nil
	})
	if err != nil {
		return Submission{}, err
	}
	sub := v.(Submission)
	if !leader {
		metrics.RecordPredictionDuplicate()
		sub.Duplicate = true
	}
	return sub, nil
}

// replay rebuilds the outcome of an earlier submission. The cached score
// is only attached while it still belongs to that submission.
func (s *Service) replay(ctx context.Context, p model.Prediction) (Submission, error) {
	metrics.RecordPredictionDuplicate()
	sub := Submission{Prediction: p, Duplicate: true}
	sc, err := s.stores.Scores.Get(ctx, p.UserID)
	switch {
	case err == nil:
		if sc.SubmittedAt.Equal(p.SubmittedAt) {
			sub.Score = &sc
		}
	case !errors.Is(err, repository.ErrNotFound):
		return Submission{}, err
	}
	return sub, nil
}

func (s *Service) submit(ctx context.Context, userID string, ranked []string) (Submission, error) {
	p := model.Prediction{
		UserID: userID,
		Ranked: slices.Clone(ranked),
		// stores keep microseconds; truncate so the leaderboard tiebreak
		// survives a rebuild
		SubmittedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.stores.Predictions.Save(ctx, p); err != nil {
		metrics.RecordError("service", "save_prediction")
		return Submission{}, err
	}
	metrics.RecordPredictionSubmitted()

	sc, err := s.recomputeUser(ctx, userID)
	if err == nil {
		return Submission{Prediction: p, Score: sc}, nil
	}
	if !retryable(err) {
		s.logger.Warn(ctx, "prediction stored unscored", logger.String("user_id", userID), logger.Error(err))
		return Submission{Prediction: p}, nil
	}
	if q := s.queue; q != nil {
		qerr := q.Enqueue(ctx, model.RecomputeJob{UserID: userID})
		if qerr == nil {
			s.logger.Warn(ctx, "scoring deferred", logger.String("user_id", userID), logger.Error(err))
			return Submission{Prediction: p}, nil
		}
		s.logger.Warn(ctx, "recompute queue refused job, scoring inline",
			logger.String("user_id", userID), logger.Error(qerr))
	}

	// nobody else will rescore this user: the cached score would still
	// belong to the previous prediction
	for attempt := 1; attempt < s.jobMaxAttempts && retryable(err); attempt++ {
		if werr := s.retryLimiter.Wait(ctx); werr != nil {
			err = werr
			break
		}
		sc, err = s.recomputeUser(ctx, userID)
	}
	if err != nil {
		metrics.RecordError("service", "score_prediction")
		return Submission{}, fmt.Errorf("score prediction of %s: %w", userID, err)
	}
	return Submission{Prediction: p, Score: sc}, nil
}

// Prediction returns the latest prediction of a user.
func (s *Service) Prediction(ctx context.Context, userID string) (PredictionView, error) {
	p, err := s.stores.Predictions.Latest(ctx, userID)
	if err != nil {
		return PredictionView{}, err
	}
	view := PredictionView{Prediction: p}
	sc, err := s.stores.Scores.Get(ctx, userID)
	switch {
	case err == nil:
		view.Score = &sc
	case !errors.Is(err, repository.ErrNotFound):
		return PredictionView{}, err
	}
	return view, nil
}

// PredictionHistory returns every submission of a user, oldest first.
func (s *Service) PredictionHistory(ctx context.Context, userID string) ([]model.Prediction, error) {
	return s.stores.Predictions.History(ctx, userID)
}

// Preview scores ranked against the current official result.
func (s *Service) Preview(ctx context.Context, ranked []string) (Preview, error) {
	ctx, span := s.tracer.Start(ctx, "service.Preview")
	defer span.End()

	if err := s.checkPrediction(ranked); err != nil {
		span.RecordError(err)
		return Preview{}, err
	}
	r, err := s.stores.Results.Current(ctx)
	if err != nil {
		span.RecordError(err)
		return Preview{}, err
	}
	res, err := scoring.Score(ranked, &r)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, scoring.ErrDataIntegrityViolation) {
			metrics.RecordIntegrityViolation()
		}
		return Preview{}, err
	}
	span.SetAttributes(attribute.Int("score", res.Score), attribute.Int64("result.version", r.Version))
	metrics.RecordScorePreview()
	return Preview{Result: res, ResultVersion: r.Version, Stage: results.StageOf(&r)}, nil
}

func (s *Service) checkPrediction(ranked []string) error {
	if err := scoring.ValidateShape(ranked); err != nil {
		metrics.RecordPredictionRejected("invalid_prediction")
		return err
	}
	if err := s.catalog.CheckKnown(ranked...); err != nil {
		metrics.RecordPredictionRejected("unknown_candidate")
		return fmt.Errorf("%w: %w", scoring.ErrInvalidPredictionShape, err)
	}
	return nil
}

// RecomputeUser re-derives and stores the score of one user from the
// latest prediction and the current result.
func (s *Service) RecomputeUser(ctx context.Context, userID string) error {
	_, err := s.recomputeUser(ctx, userID)
	return err
}

func (s *Service) recomputeUser(ctx context.Context, userID string) (*model.Score, error) {
	ctx, span := s.tracer.Start(ctx, "service.RecomputeUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()
	start := time.Now()

	sc, err := s.scoreUser(ctx, userID)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
		span.RecordError(err)
		if errors.Is(err, scoring.ErrDataIntegrityViolation) {
			metrics.RecordIntegrityViolation()
		}
	case sc == nil:
		outcome = "skipped"
	}
	metrics.RecordRecomputeUser(outcome, float64(time.Since(start).Microseconds())/1000)
	return sc, err
}

// scoreUser returns nil without error when there is no result to score
// against.
func (s *Service) scoreUser(ctx context.Context, userID string) (*model.Score, error) {
	p, err := s.stores.Predictions.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	r, err := s.stores.Results.Current(ctx)
	if err != nil {
		return nil, err
	}
	if r.IsEmpty() {
		return nil, nil
	}
	res, err := scoring.Score(p.Ranked, &r)
	if err != nil {
		return nil, err
	}
	sc := model.Score{
		UserID:        userID,
		Score:         res.Score,
		PerfectMatch:  res.PerfectMatch,
		ResultVersion: r.Version,
		SubmittedAt:   p.SubmittedAt,
		ScoredAt:      s.now().UTC(),
	}
	stored, err := s.stores.Scores.Upsert(ctx, sc)
	if err != nil {
		return nil, err
	}
	if !stored {
		// a fresher score landed first
		cur, err := s.stores.Scores.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &cur, nil
	}
	return &sc, nil
}
