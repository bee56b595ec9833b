// Package results implements the official result state machine.
//
// A candidate moves monotonically through
// unranked -> semi_finalist -> top_five -> final_position, and every
// upgrade is gated on the previous tier. Demotions cascade downwards.
// All transitions operate on a model.OfficialResult in place and return
// a *TransitionError when a precondition is not met, leaving the
// aggregate untouched.
package results

import (
	"slices"

	"github.com/okian/tiara/internal/domain/model"
)

// Transition names a guarded mutation of the official result.
type Transition string

// Supported transitions.
const (
	PromoteSemiFinalist Transition = "promote_semi_finalist"
	DemoteSemiFinalist  Transition = "demote_semi_finalist"
	PromoteTopFive      Transition = "promote_top_five"
	DemoteTopFive       Transition = "demote_top_five"
	AssignPosition      Transition = "assign_position"
	ClearPosition       Transition = "clear_position"
)

// Command is a single transition request.
// Position is only read by AssignPosition and ClearPosition.
type Command struct {
	Transition  Transition
	CandidateID string
	Position    int
}

// NeedsCandidate reports whether the command references a candidate id.
func (c Command) NeedsCandidate() bool {
	return c.Transition != ClearPosition
}

// Apply runs the command against r.
func (c Command) Apply(r *model.OfficialResult) error {
	switch c.Transition {
	case PromoteSemiFinalist:
		return PromoteToSemiFinal(r, c.CandidateID)
	case DemoteSemiFinalist:
		return DemoteFromSemiFinal(r, c.CandidateID)
	case PromoteTopFive:
		return PromoteToTopFive(r, c.CandidateID)
	case DemoteTopFive:
		return DemoteFromTopFive(r, c.CandidateID)
	case AssignPosition:
		return Assign(r, c.Position, c.CandidateID)
	case ClearPosition:
		return Clear(r, c.Position)
	default:
		return &TransitionError{Transition: c.Transition, CandidateID: c.CandidateID, Position: -1, Err: ErrUnknownTransition}
	}
}

// PromoteToSemiFinal adds id to the semi-final pool. Promoting an
// existing semi-finalist is a no-op.
func PromoteToSemiFinal(r *model.OfficialResult, id string) error {
	if id == "" {
		return reject(PromoteSemiFinalist, id, -1, ErrEmptyCandidate)
	}
	if r.IsSemiFinalist(id) {
		return nil
	}
	if len(r.SemiFinalists) >= model.MaxSemiFinalists {
		return reject(PromoteSemiFinalist, id, -1, ErrSemiFinalistsFull)
	}
	r.SemiFinalists = append(r.SemiFinalists, id)
	return nil
}

// DemoteFromSemiFinal removes id from the pool along with any top five
// membership and final position it holds.
func DemoteFromSemiFinal(r *model.OfficialResult, id string) error {
	if id == "" {
		return reject(DemoteSemiFinalist, id, -1, ErrEmptyCandidate)
	}
	if !r.IsSemiFinalist(id) {
		return reject(DemoteSemiFinalist, id, -1, ErrNotSemiFinalist)
	}
	r.SemiFinalists = remove(r.SemiFinalists, id)
	r.TopFive = remove(r.TopFive, id)
	vacate(r, id)
	return nil
}

// PromoteToTopFive adds a semi-finalist to the top five.
func PromoteToTopFive(r *model.OfficialResult, id string) error {
	if id == "" {
		return reject(PromoteTopFive, id, -1, ErrEmptyCandidate)
	}
	if !r.IsSemiFinalist(id) {
		return reject(PromoteTopFive, id, -1, ErrNotSemiFinalist)
	}
	if r.IsTopFive(id) {
		return nil
	}
	if len(r.TopFive) >= model.MaxTopFive {
		return reject(PromoteTopFive, id, -1, ErrTopFiveFull)
	}
	r.TopFive = append(r.TopFive, id)
	return nil
}

// DemoteFromTopFive removes id from the top five and clears its final
// position. Semi-finalist status is kept.
func DemoteFromTopFive(r *model.OfficialResult, id string) error {
	if id == "" {
		return reject(DemoteTopFive, id, -1, ErrEmptyCandidate)
	}
	if !r.IsTopFive(id) {
		return reject(DemoteTopFive, id, -1, ErrNotTopFive)
	}
	r.TopFive = remove(r.TopFive, id)
	vacate(r, id)
	return nil
}

// Assign places id at final position pos. The previous holder of pos is
// evicted (last write wins per position) and id leaves any position it
// held before, so no candidate ever occupies two positions.
func Assign(r *model.OfficialResult, pos int, id string) error {
	if id == "" {
		return reject(AssignPosition, id, pos, ErrEmptyCandidate)
	}
	if pos < 0 || pos >= model.FinalPositions {
		return reject(AssignPosition, id, pos, ErrInvalidPosition)
	}
	if !r.IsTopFive(id) {
		return reject(AssignPosition, id, pos, ErrNotTopFive)
	}
	vacate(r, id)
	r.FinalRanking[pos] = id
	return nil
}

// Clear empties final position pos.
func Clear(r *model.OfficialResult, pos int) error {
	if pos < 0 || pos >= model.FinalPositions {
		return reject(ClearPosition, "", pos, ErrInvalidPosition)
	}
	r.FinalRanking[pos] = ""
	return nil
}

// Reset empties the aggregate. Version and timestamps are owned by the store.
func Reset(r *model.OfficialResult) {
	r.SemiFinalists = nil
	r.TopFive = nil
	r.FinalRanking = [model.FinalPositions]string{}
}

// Validate checks the size and containment invariants of a stored result:
// |positions| <= |top five| <= |semi-finalists| <= 15, every top five
// member is a semi-finalist, every ranked candidate is in the top five,
// and no id appears twice within a tier.
func Validate(r *model.OfficialResult) error {
	if len(r.SemiFinalists) > model.MaxSemiFinalists {
		return integrityf("%d semi-finalists exceeds %d", len(r.SemiFinalists), model.MaxSemiFinalists)
	}
	if len(r.TopFive) > model.MaxTopFive {
		return integrityf("%d top five members exceeds %d", len(r.TopFive), model.MaxTopFive)
	}
	if id, dup := firstDuplicate(r.SemiFinalists); dup {
		return integrityf("semi-finalist %s listed twice", id)
	}
	if id, dup := firstDuplicate(r.TopFive); dup {
		return integrityf("top five member %s listed twice", id)
	}
	for _, id := range r.TopFive {
		if id == "" {
			return integrityf("empty top five member")
		}
		if !r.IsSemiFinalist(id) {
			return integrityf("top five member %s is not a semi-finalist", id)
		}
	}
	seen := make(map[string]int, model.FinalPositions)
	for pos, id := range r.FinalRanking {
		if id == "" {
			continue
		}
		if prev, ok := seen[id]; ok {
			return integrityf("candidate %s holds positions %d and %d", id, prev, pos)
		}
		seen[id] = pos
		if !r.IsTopFive(id) {
			return integrityf("position %d holder %s is not in the top five", pos, id)
		}
	}
	return nil
}

func reject(t Transition, id string, pos int, err error) error {
	return &TransitionError{Transition: t, CandidateID: id, Position: pos, Err: err}
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}

func vacate(r *model.OfficialResult, id string) {
	for i, holder := range r.FinalRanking {
		if holder == id {
			r.FinalRanking[i] = ""
		}
	}
}

func firstDuplicate(ids []string) (string, bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}
