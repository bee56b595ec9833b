package results

import "github.com/okian/tiara/internal/domain/model"

// Stage is the broadcast stage derived from the aggregate.
type Stage string

// Broadcast stages in order of progression.
const (
	StagePending    Stage = "pending"
	StageSemiFinals Stage = "semi_finals"
	StageTopFive    Stage = "top_five"
	StageRanking    Stage = "ranking"
	StageFinal      Stage = "final"
)

// StageOf derives the current stage. StageFinal is the terminal state:
// all five positions hold distinct candidates and the top five is
// exactly that set.
func StageOf(r *model.OfficialResult) Stage {
	switch {
	case IsFinal(r):
		return StageFinal
	case r.AssignedPositions() > 0:
		return StageRanking
	case len(r.TopFive) > 0:
		return StageTopFive
	case len(r.SemiFinalists) > 0:
		return StageSemiFinals
	default:
		return StagePending
	}
}

// IsFinal reports whether r is a complete, consistent final ranking.
func IsFinal(r *model.OfficialResult) bool {
	if r.AssignedPositions() != model.FinalPositions || len(r.TopFive) != model.MaxTopFive {
		return false
	}
	return Validate(r) == nil
}

// Tier is a candidate's place in the state machine.
type Tier string

// Candidate tiers.
const (
	TierUnranked      Tier = "unranked"
	TierSemiFinalist  Tier = "semi_finalist"
	TierTopFive       Tier = "top_five"
	TierFinalPosition Tier = "final_position"
)

// CandidateState is the per-candidate view of the aggregate.
type CandidateState struct {
	CandidateID string `json:"candidate_id"`
	Tier        Tier   `json:"tier"`
	Position    int    `json:"position"` // -1 unless Tier is final_position
	Label       string `json:"label,omitempty"`
}

// StateOf returns the tier and position of id.
func StateOf(r *model.OfficialResult, id string) CandidateState {
	st := CandidateState{CandidateID: id, Tier: TierUnranked, Position: -1}
	switch pos := r.PositionOf(id); {
	case pos >= 0:
		st.Tier = TierFinalPosition
		st.Position = pos
		st.Label = model.PositionNames[pos]
	case r.IsTopFive(id):
		st.Tier = TierTopFive
	case r.IsSemiFinalist(id):
		st.Tier = TierSemiFinalist
	}
	return st
}
