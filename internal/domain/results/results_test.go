package results_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/results"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTransitions_Promotion(t *testing.T) {
	Convey("Given an empty official result", t, func() {
		r := &model.OfficialResult{}

		Convey("When promoting to the top five without semi-final status", func() {
			err := results.PromoteToTopFive(r, "A")

			Convey("Then the missing precondition is named", func() {
				So(errors.Is(err, results.ErrNotSemiFinalist), ShouldBeTrue)
				So(results.IsPrecondition(err), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "not a semi-finalist")
				So(r.TopFive, ShouldBeEmpty)
			})
		})

		Convey("When assigning a position to a mere semi-finalist", func() {
			So(results.PromoteToSemiFinal(r, "A"), ShouldBeNil)
			err := results.Assign(r, 0, "A")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, results.ErrNotTopFive), ShouldBeTrue)
				So(r.AssignedPositions(), ShouldEqual, 0)
			})
		})

		Convey("When promoting sixteen semi-finalists", func() {
			for i := 0; i < model.MaxSemiFinalists; i++ {
				So(results.PromoteToSemiFinal(r, fmt.Sprintf("c%d", i)), ShouldBeNil)
			}
			err := results.PromoteToSemiFinal(r, "c15")

			Convey("Then the pool is capped at fifteen", func() {
				So(errors.Is(err, results.ErrSemiFinalistsFull), ShouldBeTrue)
				So(len(r.SemiFinalists), ShouldEqual, 15)
			})

			Convey("And re-promoting an existing member is a no-op", func() {
				So(results.PromoteToSemiFinal(r, "c3"), ShouldBeNil)
				So(len(r.SemiFinalists), ShouldEqual, 15)
			})
		})

		Convey("When promoting six candidates to the top five", func() {
			for i := 0; i < 6; i++ {
				So(results.PromoteToSemiFinal(r, fmt.Sprintf("c%d", i)), ShouldBeNil)
			}
			for i := 0; i < 5; i++ {
				So(results.PromoteToTopFive(r, fmt.Sprintf("c%d", i)), ShouldBeNil)
			}
			err := results.PromoteToTopFive(r, "c5")

			Convey("Then the top five is capped", func() {
				So(errors.Is(err, results.ErrTopFiveFull), ShouldBeTrue)
				So(r.TopFive, ShouldResemble, []string{"c0", "c1", "c2", "c3", "c4"})
			})
		})

		Convey("When promoting an empty id", func() {
			err := results.PromoteToSemiFinal(r, "")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, results.ErrEmptyCandidate), ShouldBeTrue)
			})
		})
	})
}

func TestTransitions_Positions(t *testing.T) {
	Convey("Given a top five", t, func() {
		r := &model.OfficialResult{}
		for _, id := range []string{"A", "B", "C", "D", "E"} {
			So(results.PromoteToSemiFinal(r, id), ShouldBeNil)
			So(results.PromoteToTopFive(r, id), ShouldBeNil)
		}

		Convey("When two candidates are assigned the same position", func() {
			So(results.Assign(r, 0, "A"), ShouldBeNil)
			So(results.Assign(r, 0, "B"), ShouldBeNil)

			Convey("Then the last write wins and the previous holder is evicted", func() {
				So(r.FinalRanking[0], ShouldEqual, "B")
				So(r.PositionOf("A"), ShouldEqual, -1)
			})
		})

		Convey("When a ranked candidate moves to another position", func() {
			So(results.Assign(r, 0, "A"), ShouldBeNil)
			So(results.Assign(r, 3, "A"), ShouldBeNil)

			Convey("Then the old position is vacated", func() {
				So(r.FinalRanking[0], ShouldEqual, "")
				So(r.FinalRanking[3], ShouldEqual, "A")
				So(results.Validate(r), ShouldBeNil)
			})
		})

		Convey("When assigning out of range", func() {
			err := results.Assign(r, 5, "A")

			Convey("Then the position is rejected", func() {
				So(errors.Is(err, results.ErrInvalidPosition), ShouldBeTrue)
			})
		})

		Convey("When clearing a position", func() {
			So(results.Assign(r, 1, "C"), ShouldBeNil)
			So(results.Clear(r, 1), ShouldBeNil)

			Convey("Then it is empty", func() {
				So(r.FinalRanking[1], ShouldEqual, "")
				So(results.Clear(r, -1), ShouldNotBeNil)
			})
		})

		Convey("When every position is filled", func() {
			for pos, id := range []string{"E", "D", "C", "B", "A"} {
				So(results.Assign(r, pos, id), ShouldBeNil)
			}

			Convey("Then the result is final", func() {
				So(results.IsFinal(r), ShouldBeTrue)
				So(results.StageOf(r), ShouldEqual, results.StageFinal)
				st := results.StateOf(r, "E")
				So(st.Tier, ShouldEqual, results.TierFinalPosition)
				So(st.Position, ShouldEqual, 0)
				So(st.Label, ShouldEqual, "winner")
			})
		})
	})
}

func TestTransitions_Demotion(t *testing.T) {
	Convey("Given a ranked candidate", t, func() {
		r := &model.OfficialResult{}
		for _, id := range []string{"A", "B"} {
			So(results.PromoteToSemiFinal(r, id), ShouldBeNil)
			So(results.PromoteToTopFive(r, id), ShouldBeNil)
		}
		So(results.Assign(r, 2, "A"), ShouldBeNil)

		Convey("When removing semi-final status", func() {
			So(results.DemoteFromSemiFinal(r, "A"), ShouldBeNil)

			Convey("Then top five membership and position go with it", func() {
				So(r.IsSemiFinalist("A"), ShouldBeFalse)
				So(r.IsTopFive("A"), ShouldBeFalse)
				So(r.PositionOf("A"), ShouldEqual, -1)
				So(results.Validate(r), ShouldBeNil)
				So(results.StateOf(r, "A").Tier, ShouldEqual, results.TierUnranked)
			})
		})

		Convey("When removing top five status", func() {
			So(results.DemoteFromTopFive(r, "A"), ShouldBeNil)

			Convey("Then the position is cleared but semi-final status stays", func() {
				So(r.IsSemiFinalist("A"), ShouldBeTrue)
				So(r.PositionOf("A"), ShouldEqual, -1)
				So(results.StateOf(r, "A").Tier, ShouldEqual, results.TierSemiFinalist)
			})
		})

		Convey("When demoting a candidate that is not a semi-finalist", func() {
			err := results.DemoteFromSemiFinal(r, "Z")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, results.ErrNotSemiFinalist), ShouldBeTrue)
			})
		})

		Convey("When resetting", func() {
			results.Reset(r)

			Convey("Then everything is empty", func() {
				So(r.IsEmpty(), ShouldBeTrue)
				So(results.StageOf(r), ShouldEqual, results.StagePending)
			})
		})
	})
}

func TestCommand_Apply(t *testing.T) {
	Convey("Given commands for each transition", t, func() {
		r := &model.OfficialResult{}
		cmds := []results.Command{
			{Transition: results.PromoteSemiFinalist, CandidateID: "A"},
			{Transition: results.PromoteTopFive, CandidateID: "A"},
			{Transition: results.AssignPosition, CandidateID: "A", Position: 4},
		}

		Convey("Then applying them in order succeeds", func() {
			for _, c := range cmds {
				So(c.Apply(r), ShouldBeNil)
			}
			So(r.FinalRanking[4], ShouldEqual, "A")
			So(results.StageOf(r), ShouldEqual, results.StageRanking)
		})

		Convey("Then an unknown transition is rejected", func() {
			err := results.Command{Transition: "crown"}.Apply(r)
			So(errors.Is(err, results.ErrUnknownTransition), ShouldBeTrue)
		})

		Convey("Then clear position does not need a candidate", func() {
			So(results.Command{Transition: results.ClearPosition}.NeedsCandidate(), ShouldBeFalse)
			So(cmds[0].NeedsCandidate(), ShouldBeTrue)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given corrupted stored results", t, func() {
		cases := []*model.OfficialResult{
			{SemiFinalists: []string{"A", "A"}},
			{SemiFinalists: []string{"A"}, TopFive: []string{"A", "B"}},
			{SemiFinalists: []string{"A", "B"}, TopFive: []string{"A", "B"}, FinalRanking: [5]string{"A", "A"}},
			{SemiFinalists: []string{"A", "B"}, TopFive: []string{"A"}, FinalRanking: [5]string{"", "B"}},
			{SemiFinalists: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12", "13", "14", "15", "16"}},
		}

		Convey("Then each one is an integrity violation", func() {
			for _, r := range cases {
				So(errors.Is(results.Validate(r), results.ErrDataIntegrityViolation), ShouldBeTrue)
			}
		})
	})
}
