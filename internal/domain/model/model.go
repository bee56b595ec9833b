// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"time"
)

// Domain sizes. The pageant format is fixed: a top-15 semi-final pool,
// a top five, and five ordered final positions.
const (
	MaxSemiFinalists = 15
	MaxTopFive       = 5
	FinalPositions   = 5
	PredictionSize   = 5
)

// Position labels indexed by final position.
var PositionNames = [FinalPositions]string{
	"winner",
	"1st runner-up",
	"2nd runner-up",
	"3rd runner-up",
	"4th runner-up",
}

// Candidate is an entrant eligible for prediction and ranking.
// Only ID matters for scoring; the rest is presentation data.
type Candidate struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Region string `json:"region" yaml:"region"`
	Number int    `json:"number" yaml:"number"`
}

// OfficialResult is the single administrator-curated ground truth.
//
// SemiFinalists and TopFive are sets kept in promotion order so that
// serialised output is stable. FinalRanking holds one candidate id per
// position; an empty string marks an unassigned position.
type OfficialResult struct {
	SemiFinalists []string               `json:"semi_finalists"`
	TopFive       []string               `json:"top_five"`
	FinalRanking  [FinalPositions]string `json:"final_ranking"`
	Version       int64                  `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Clone returns a deep copy safe to mutate.
func (r OfficialResult) Clone() OfficialResult {
	out := r
	out.SemiFinalists = slices.Clone(r.SemiFinalists)
	out.TopFive = slices.Clone(r.TopFive)
	return out
}

// IsSemiFinalist reports whether id is in the semi-final pool.
func (r *OfficialResult) IsSemiFinalist(id string) bool {
	return slices.Contains(r.SemiFinalists, id)
}

// IsTopFive reports whether id is in the top five.
func (r *OfficialResult) IsTopFive(id string) bool {
	return slices.Contains(r.TopFive, id)
}

// PositionOf returns the final position held by id, or -1.
func (r *OfficialResult) PositionOf(id string) int {
	if id == "" {
		return -1
	}
	for i, holder := range r.FinalRanking {
		if holder == id {
			return i
		}
	}
	return -1
}

// AssignedPositions counts the final positions that hold a candidate.
func (r *OfficialResult) AssignedPositions() int {
	n := 0
	for _, id := range r.FinalRanking {
		if id != "" {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no result has been recorded yet.
func (r *OfficialResult) IsEmpty() bool {
	return len(r.SemiFinalists) == 0 && len(r.TopFive) == 0 && r.AssignedPositions() == 0
}

// Prediction is a user's ordered Top-5 pick. Ranked[0] is the predicted
// winner. Only the most recent prediction of a user counts.
type Prediction struct {
	UserID      string    `json:"user_id"`
	Ranked      []string  `json:"ranked"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Score is the cached scoring output for a user. It must always equal
// what the scoring engine returns for the user's current prediction and
// the current official result.
type Score struct {
	UserID        string    `json:"user_id"`
	Score         int       `json:"score"`
	PerfectMatch  bool      `json:"perfect_match"`
	ResultVersion int64     `json:"result_version"`
	SubmittedAt   time.Time `json:"submitted_at"`
	ScoredAt      time.Time `json:"scored_at"`
}

// ResultChange is emitted by result stores after every committed mutation.
type ResultChange struct {
	Version int64
	Cleared bool
	At      time.Time
}

// RecomputeJob asks a worker to re-derive one user's score.
type RecomputeJob struct {
	UserID  string
	Version int64 // result version that triggered the job
	Attempt int
}
