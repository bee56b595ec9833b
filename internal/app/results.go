package service

import (
	"context"
	"errors"

	"github.com/okian/tiara/internal/adapters/repository"
	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/registry"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/pkg/logger"
	"github.com/okian/tiara/pkg/metrics"
)

// ResultView is the official result with its derived stage.
type ResultView struct {
	Result model.OfficialResult `json:"result"`
	Stage  results.Stage        `json:"stage"`
}

// TransitionOutcome is returned by admin mutations. Recompute is set
// when scores were recomputed inline.
type TransitionOutcome struct {
	ResultView
	Recompute *RecomputeReport `json:"recompute,omitempty"`
}

// CurrentResult returns the official result.
func (s *Service) CurrentResult(ctx context.Context) (ResultView, error) {
	r, err := s.stores.Results.Current(ctx)
	if err != nil {
		return ResultView{}, err
	}
	return ResultView{Result: r, Stage: results.StageOf(&r)}, nil
}

// CandidateState returns where a candidate stands in the official result.
func (s *Service) CandidateState(ctx context.Context, candidateID string) (results.CandidateState, error) {
	if _, err := s.catalog.Get(candidateID); err != nil {
		return results.CandidateState{}, err
	}
	r, err := s.stores.Results.Current(ctx)
	if err != nil {
		return results.CandidateState{}, err
	}
	return results.StateOf(&r, candidateID), nil
}

// ApplyTransition runs one guarded state machine transition and commits
// it. Concurrent commits are retried against the fresh result.
func (s *Service) ApplyTransition(ctx context.Context, cmd results.Command) (TransitionOutcome, error) {
	if cmd.NeedsCandidate() {
		if err := s.catalog.CheckKnown(cmd.CandidateID); err != nil {
			metrics.RecordTransition(string(cmd.Transition), "rejected")
			return TransitionOutcome{}, err
		}
	}

	var (
		r   model.OfficialResult
		err error
	)
	for attempt := 0; attempt < conflictRetries; attempt++ {
		r, err = s.stores.Results.Update(ctx, cmd.Apply)
		if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
		s.logger.Debug(ctx, "result commit conflict, retrying", logger.Int("attempt", attempt+1))
	}
	if err != nil {
		outcome := "failed"
		if results.IsPrecondition(err) || registry.IsUnknown(err) {
			outcome = "rejected"
		}
		metrics.RecordTransition(string(cmd.Transition), outcome)
		return TransitionOutcome{}, err
	}
	metrics.RecordTransition(string(cmd.Transition), "applied")
	metrics.UpdateResultVersion(r.Version)
	s.logger.Info(ctx, "official result updated",
		logger.String("transition", string(cmd.Transition)),
		logger.String("candidate_id", cmd.CandidateID),
		logger.Int("position", cmd.Position),
		logger.Int64("version", r.Version),
	)

	out := TransitionOutcome{ResultView: ResultView{Result: r, Stage: results.StageOf(&r)}}
	if s.recomputeMode == RecomputeSync {
		report, err := s.RecomputeAll(ctx)
		if err != nil {
			return out, err
		}
		out.Recompute = &report
	}
	return out, nil
}

// ClearResults empties the official result and deletes every score.
func (s *Service) ClearResults(ctx context.Context) (ResultView, error) {
	r, err := s.stores.Results.Reset(ctx)
	if err != nil {
		return ResultView{}, err
	}
	if err := s.stores.Scores.ClearAll(ctx, r.Version); err != nil {
		return ResultView{}, err
	}
	metrics.RecordResultCleared()
	metrics.UpdateResultVersion(r.Version)
	s.logger.Info(ctx, "official result cleared", logger.Int64("version", r.Version))
	return ResultView{Result: r, Stage: results.StageOf(&r)}, nil
}
