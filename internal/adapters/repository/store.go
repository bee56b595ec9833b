// Package repository holds the storage contracts of the prediction
// service and their memory and SQL implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/tiara/internal/domain/model"
)

// Entry represents a leaderboard row.
type Entry struct {
	Rank         int       `json:"rank"`
	UserID       string    `json:"user_id"`
	Score        int       `json:"score"`
	PerfectMatch bool      `json:"perfect_match"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// PredictionStore keeps user predictions. Only the latest prediction of
// a user is returned by reads.
type PredictionStore interface {
	Save(ctx context.Context, p model.Prediction) error
	// Latest returns ErrNotFound when the user never submitted.
	Latest(ctx context.Context, userID string) (model.Prediction, error)
	// All returns the latest prediction of every user.
	All(ctx context.Context) ([]model.Prediction, error)
	// History returns every submission of a user, oldest first, or
	// ErrNotFound when the user never submitted.
	History(ctx context.Context, userID string) ([]model.Prediction, error)
}

// ResultStore keeps the singleton official result.
type ResultStore interface {
	// Current returns the committed result; an empty result with
	// version 0 before the first mutation.
	Current(ctx context.Context) (model.OfficialResult, error)
	// Update applies fn to a copy of the current result and commits it
	// with an incremented version. An fn error aborts without changes.
	// A mutation that leaves the result unchanged is not committed.
	Update(ctx context.Context, fn func(*model.OfficialResult) error) (model.OfficialResult, error)
	// Reset empties the result and commits it with a new version.
	Reset(ctx context.Context) (model.OfficialResult, error)
	// Subscribe delivers a change after every commit until ctx ends.
	// Slow subscribers only see the latest pending change.
	Subscribe(ctx context.Context) <-chan model.ResultChange
}

// noFence is the clear mark of a score store that was never cleared.
// Result version 0 is the empty result, so scores at version 0 are
// still accepted.
const noFence = -1

// ScoreStore caches computed scores.
type ScoreStore interface {
	// Upsert stores s unless the stored score is newer: computed from a
	// later result version, or from a later prediction under the same
	// version. Reports whether s was stored.
	Upsert(ctx context.Context, s model.Score) (bool, error)
	// Get returns ErrNotFound for users without a score.
	Get(ctx context.Context, userID string) (model.Score, error)
	All(ctx context.Context) ([]model.Score, error)
	// ClearAll deletes every score computed from result version or
	// earlier and refuses later upserts of such scores.
	ClearAll(ctx context.Context, version int64) error
}

// Leaderboard is the ranked read side over the score store.
type Leaderboard interface {
	// TopN returns the top-N entries ordered by rank.
	TopN(ctx context.Context, n int) ([]Entry, error)
	// Rank returns ErrNotFound when the user has no score.
	Rank(ctx context.Context, userID string) (Entry, error)
	Count(ctx context.Context) int
}

// CandidateStore mirrors the candidate registry into a database so
// that SQL consumers can join against it.
type CandidateStore interface {
	UpsertCandidates(ctx context.Context, cands []model.Candidate) error
	Candidates(ctx context.Context) ([]model.Candidate, error)
}

// Stores bundles one storage backend.
type Stores struct {
	Predictions PredictionStore
	Results     ResultStore
	Scores      ScoreStore
	Leaderboard Leaderboard
	// Candidates is nil for the memory driver.
	Candidates CandidateStore

	closeFn func() error
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
