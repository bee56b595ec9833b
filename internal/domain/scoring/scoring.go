// Package scoring computes a user's points from a Top-5 prediction and the
// official result.
//
// Every caller (submission, preview, bulk recompute) goes through Score;
// there is no other copy of the rule table.
package scoring

import (
	"fmt"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/results"
)

// Point rules.
const (
	PointsSemiFinalist  = 10
	PointsTopFive       = 20
	PointsExactPosition = 50
	PointsWinnerBonus   = 50
	PointsPerfectMatch  = 200

	MaxScore = model.PredictionSize*(PointsSemiFinalist+PointsTopFive+PointsExactPosition) +
		PointsWinnerBonus + PointsPerfectMatch
)

// Breakdown splits a score by rule. The fields always sum to Result.Score.
type Breakdown struct {
	SemiFinalist int `json:"semi_finalist"`
	TopFive      int `json:"top_five"`
	Position     int `json:"position"`
	WinnerBonus  int `json:"winner_bonus"`
	PerfectBonus int `json:"perfect_bonus"`
}

// Total sums the breakdown.
func (b Breakdown) Total() int {
	return b.SemiFinalist + b.TopFive + b.Position + b.WinnerBonus + b.PerfectBonus
}

// Result is the scoring output for one prediction.
type Result struct {
	Score            int       `json:"score"`
	PerfectMatch     bool      `json:"perfect_match"`
	CorrectPositions int       `json:"correct_positions"`
	Breakdown        Breakdown `json:"breakdown"`
}

// ValidateShape checks that ranked holds exactly five distinct non-empty ids.
func ValidateShape(ranked []string) error {
	if len(ranked) != model.PredictionSize {
		return fmt.Errorf("%w: want %d candidates, got %d", ErrInvalidPredictionShape, model.PredictionSize, len(ranked))
	}
	seen := make(map[string]struct{}, len(ranked))
	for i, id := range ranked {
		if id == "" {
			return fmt.Errorf("%w: empty candidate at position %d", ErrInvalidPredictionShape, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: candidate %s listed twice", ErrInvalidPredictionShape, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Score applies the point rules:
//
//	+10 per predicted candidate in the semi-final pool
//	+20 per predicted candidate in the top five
//	+50 per exact position match
//	+50 when the predicted winner is the official winner
//	+200 when all five positions match (perfect match)
//
// An unassigned official position never matches. The result is rejected
// with ErrDataIntegrityViolation before any points are computed if r
// breaks the containment invariants.
func Score(ranked []string, r *model.OfficialResult) (Result, error) {
	if err := ValidateShape(ranked); err != nil {
		return Result{}, err
	}
	if err := results.Validate(r); err != nil {
		return Result{}, err
	}

	var out Result
	for i, id := range ranked {
		if r.IsSemiFinalist(id) {
			out.Breakdown.SemiFinalist += PointsSemiFinalist
		}
		if r.IsTopFive(id) {
			out.Breakdown.TopFive += PointsTopFive
		}
		if r.FinalRanking[i] == id {
			out.Breakdown.Position += PointsExactPosition
			out.CorrectPositions++
		}
	}
	if r.FinalRanking[0] == ranked[0] {
		out.Breakdown.WinnerBonus = PointsWinnerBonus
	}
	if out.CorrectPositions == model.PredictionSize {
		out.Breakdown.PerfectBonus = PointsPerfectMatch
		out.PerfectMatch = true
	}
	out.Score = out.Breakdown.Total()
	return out, nil
}
