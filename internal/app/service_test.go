package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tiara/internal/adapters/repository"
	service "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/registry"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/internal/domain/scoring"
)

func newSyncService() *service.Service {
	return service.New(
		service.WithCatalog(testRegistry()),
		service.WithRecomputeMode(service.RecomputeSync),
		service.WithWorkerCount(2),
		service.WithClock(tickingClock()),
	)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service without a catalog", t, func() {
		svc := service.New()

		Convey("Start refuses to run", func() {
			So(errors.Is(svc.Start(context.Background()), service.ErrMissingCatalog), ShouldBeTrue)
		})
	})

	Convey("Given a configured service", t, func() {
		svc := service.New(
			service.WithCatalog(testRegistry()),
			service.WithWorkerCount(3),
			service.WithQueueSize(100),
			service.WithDedupeSize(10),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("It starts, reports stats and stops", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 3)
			So(stats["candidates"], ShouldEqual, 20)
			So(stats["stage"], ShouldEqual, results.StagePending)

			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
			svc.Stop()
		})
	})
}

func TestService_SubmitPrediction(t *testing.T) {
	Convey("Given a started service in sync mode", t, func() {
		svc := newSyncService()
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Malformed predictions are rejected", func() {
			_, err := svc.SubmitPrediction(ctx, "u1", ids(1, 2, 3, 4), "")
			So(errors.Is(err, scoring.ErrInvalidPredictionShape), ShouldBeTrue)

			_, err = svc.SubmitPrediction(ctx, "u1", ids(1, 1, 2, 3, 4), "")
			So(errors.Is(err, scoring.ErrInvalidPredictionShape), ShouldBeTrue)

			_, err = svc.SubmitPrediction(ctx, "u1", []string{"c01", "c02", "c03", "c04", "ghost"}, "")
			So(errors.Is(err, registry.ErrUnknownCandidate), ShouldBeTrue)
			So(errors.Is(err, scoring.ErrInvalidPredictionShape), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "ghost")

			_, err = svc.Preview(ctx, []string{"a", "b", "c", "d", "e"})
			So(errors.Is(err, registry.ErrUnknownCandidate), ShouldBeTrue)
			So(errors.Is(err, scoring.ErrInvalidPredictionShape), ShouldBeTrue)

			_, err = svc.SubmitPrediction(ctx, "  ", ids(1, 2, 3, 4, 5), "")
			So(errors.Is(err, service.ErrInvalidUser), ShouldBeTrue)

			_, err = svc.Prediction(ctx, "u1")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Before any result exists the prediction is stored unscored", func() {
			sub, err := svc.SubmitPrediction(ctx, "u1", ids(1, 2, 3, 4, 5), "")
			So(err, ShouldBeNil)
			So(sub.Score, ShouldBeNil)
			So(sub.Prediction.Ranked, ShouldResemble, ids(1, 2, 3, 4, 5))

			view, err := svc.Prediction(ctx, "u1")
			So(err, ShouldBeNil)
			So(view.Score, ShouldBeNil)
			So(svc.GetStats()["rankedUsers"], ShouldEqual, 0)
		})

		Convey("An idempotency key replays the first submission", func() {
			first, err := svc.SubmitPrediction(ctx, "u1", ids(1, 2, 3, 4, 5), "k1")
			So(err, ShouldBeNil)
			So(first.Duplicate, ShouldBeFalse)

			again, err := svc.SubmitPrediction(ctx, "u1", ids(5, 4, 3, 2, 1), "k1")
			So(err, ShouldBeNil)
			So(again.Duplicate, ShouldBeTrue)
			So(again.Prediction.Ranked, ShouldResemble, ids(1, 2, 3, 4, 5))
			So(svc.Size(), ShouldEqual, 1)

			other, err := svc.SubmitPrediction(ctx, "u2", ids(5, 4, 3, 2, 1), "k1")
			So(err, ShouldBeNil)
			So(other.Duplicate, ShouldBeFalse)

			Convey("even after a later submission without a key", func() {
				_, err := svc.SubmitPrediction(ctx, "u1", ids(6, 7, 8, 9, 10), "")
				So(err, ShouldBeNil)

				replay, err := svc.SubmitPrediction(ctx, "u1", ids(6, 7, 8, 9, 10), "k1")
				So(err, ShouldBeNil)
				So(replay.Duplicate, ShouldBeTrue)
				So(replay.Prediction.Ranked, ShouldResemble, ids(1, 2, 3, 4, 5))
				So(replay.Prediction.SubmittedAt.Equal(first.Prediction.SubmittedAt), ShouldBeTrue)
			})
		})

		Convey("Concurrent submissions with one key store once", func() {
			const callers = 20
			subs := make([]service.Submission, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					subs[i], errs[i] = svc.SubmitPrediction(ctx, "u1", ids(1, 2, 3, 4, 5), "burst")
				}()
			}
			wg.Wait()

			fresh := 0
			for i := range callers {
				So(errs[i], ShouldBeNil)
				So(subs[i].Prediction.Ranked, ShouldResemble, ids(1, 2, 3, 4, 5))
				So(subs[i].Prediction.SubmittedAt.Equal(subs[0].Prediction.SubmittedAt), ShouldBeTrue)
				if !subs[i].Duplicate {
					fresh++
				}
			}
			So(fresh, ShouldEqual, 1)

			history, err := svc.PredictionHistory(ctx, "u1")
			So(err, ShouldBeNil)
			So(len(history), ShouldEqual, 1)
		})

		Convey("Once results are final a submission is scored immediately", func() {
			So(publishFinal(ctx, svc), ShouldBeNil)

			sub, err := svc.SubmitPrediction(ctx, "perfect", ids(1, 2, 3, 4, 5), "")
			So(err, ShouldBeNil)
			So(sub.Score, ShouldNotBeNil)
			So(sub.Score.Score, ShouldEqual, scoring.MaxScore)
			So(sub.Score.PerfectMatch, ShouldBeTrue)

			Convey("and a resubmission replaces the score", func() {
				sub, err := svc.SubmitPrediction(ctx, "perfect", ids(2, 1, 3, 4, 5), "")
				So(err, ShouldBeNil)
				So(sub.Score.Score, ShouldEqual, 300)
				So(sub.Score.PerfectMatch, ShouldBeFalse)

				e, err := svc.Rank(ctx, "perfect")
				So(err, ShouldBeNil)
				So(e.Score, ShouldEqual, 300)
			})
		})
	})
}

func TestService_Results(t *testing.T) {
	Convey("Given users who predicted before the show", t, func() {
		svc := newSyncService()
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, _ = svc.SubmitPrediction(ctx, "alice", ids(1, 2, 3, 4, 5), "")
		_, _ = svc.SubmitPrediction(ctx, "bob", ids(2, 1, 3, 4, 5), "")
		_, _ = svc.SubmitPrediction(ctx, "carol", ids(1, 9, 10, 11, 12), "")
		_, _ = svc.SubmitPrediction(ctx, "dave", ids(2, 1, 3, 4, 5), "")

		Convey("Each semi-final promotion recomputes every user", func() {
			out, err := svc.ApplyTransition(ctx, results.Command{Transition: results.PromoteSemiFinalist, CandidateID: "c01"})
			So(err, ShouldBeNil)
			So(out.Stage, ShouldEqual, results.StageSemiFinals)
			So(out.Recompute, ShouldNotBeNil)
			So(out.Recompute.Users, ShouldEqual, 4)
			So(out.Recompute.Failed, ShouldEqual, 0)

			top, err := svc.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, 4)
			for _, e := range top {
				So(e.Score, ShouldEqual, 10)
				So(e.Rank, ShouldEqual, 1)
			}
			// equal scores keep submission order
			So(top[0].UserID, ShouldEqual, "alice")
			So(top[3].UserID, ShouldEqual, "dave")
		})

		Convey("The final ranking produces the documented scores", func() {
			So(publishFinal(ctx, svc), ShouldBeNil)

			view, err := svc.CurrentResult(ctx)
			So(err, ShouldBeNil)
			So(view.Stage, ShouldEqual, results.StageFinal)

			top, err := svc.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(top[0].UserID, ShouldEqual, "alice")
			So(top[0].Score, ShouldEqual, 650)
			So(top[1].UserID, ShouldEqual, "bob")
			So(top[1].Score, ShouldEqual, 300)
			So(top[2].UserID, ShouldEqual, "dave")
			So(top[2].Rank, ShouldEqual, 2)
			So(top[3].UserID, ShouldEqual, "carol")
			So(top[3].Score, ShouldEqual, 130)

			e, err := svc.Rank(ctx, "dave")
			So(err, ShouldBeNil)
			So(e.Rank, ShouldEqual, 2)

			Convey("and clearing removes every score", func() {
				cleared, err := svc.ClearResults(ctx)
				So(err, ShouldBeNil)
				So(cleared.Stage, ShouldEqual, results.StagePending)
				So(cleared.Result.Version, ShouldBeGreaterThan, view.Result.Version)

				top, err := svc.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldBeEmpty)
				_, err = svc.Rank(ctx, "alice")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

				p, err := svc.Prediction(ctx, "alice")
				So(err, ShouldBeNil)
				So(p.Score, ShouldBeNil)
			})
		})

		Convey("Rejected transitions name their precondition", func() {
			_, err := svc.ApplyTransition(ctx, results.Command{Transition: results.PromoteTopFive, CandidateID: "c01"})
			So(results.IsPrecondition(err), ShouldBeTrue)
			So(errors.Is(err, results.ErrNotSemiFinalist), ShouldBeTrue)

			_, err = svc.ApplyTransition(ctx, results.Command{Transition: results.PromoteSemiFinalist, CandidateID: "nobody"})
			So(errors.Is(err, registry.ErrUnknownCandidate), ShouldBeTrue)

			_, err = svc.ApplyTransition(ctx, results.Command{Transition: results.ClearPosition, Position: 9})
			So(errors.Is(err, results.ErrInvalidPosition), ShouldBeTrue)

			view, _ := svc.CurrentResult(ctx)
			So(view.Result.Version, ShouldEqual, 0)
		})

		Convey("Candidate state follows the result", func() {
			_, _ = svc.ApplyTransition(ctx, results.Command{Transition: results.PromoteSemiFinalist, CandidateID: "c03"})
			st, err := svc.CandidateState(ctx, "c03")
			So(err, ShouldBeNil)
			So(st.Tier, ShouldEqual, results.TierSemiFinalist)

			_, err = svc.CandidateState(ctx, "nobody")
			So(errors.Is(err, registry.ErrUnknownCandidate), ShouldBeTrue)
		})

		Convey("Preview scores without storing", func() {
			So(publishFinal(ctx, svc), ShouldBeNil)
			pv, err := svc.Preview(ctx, ids(1, 2, 3, 4, 5))
			So(err, ShouldBeNil)
			So(pv.Score, ShouldEqual, 650)
			So(pv.Breakdown.Total(), ShouldEqual, 650)
			So(pv.Stage, ShouldEqual, results.StageFinal)

			_, err = svc.Preview(ctx, ids(1, 2))
			So(errors.Is(err, scoring.ErrInvalidPredictionShape), ShouldBeTrue)

			_, err = svc.Rank(ctx, "nobody-previewed")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Bulk recompute is repeatable", func() {
			So(publishFinal(ctx, svc), ShouldBeNil)
			first, err := svc.RecomputeAll(ctx)
			So(err, ShouldBeNil)
			before, _ := svc.TopN(ctx, 10)

			second, err := svc.RecomputeAll(ctx)
			So(err, ShouldBeNil)
			after, _ := svc.TopN(ctx, 10)

			So(second.Users, ShouldEqual, first.Users)
			So(second.Succeeded, ShouldEqual, 4)
			So(len(after), ShouldEqual, len(before))
			for i := range after {
				So(after[i].UserID, ShouldEqual, before[i].UserID)
				So(after[i].Score, ShouldEqual, before[i].Score)
			}
		})

		Convey("Demoting every candidate empties the leaderboard", func() {
			_, _ = svc.ApplyTransition(ctx, results.Command{Transition: results.PromoteSemiFinalist, CandidateID: "c01"})
			So(len(mustTop(ctx, svc)), ShouldEqual, 4)

			_, err := svc.ApplyTransition(ctx, results.Command{Transition: results.DemoteSemiFinalist, CandidateID: "c01"})
			So(err, ShouldBeNil)
			So(mustTop(ctx, svc), ShouldBeEmpty)
		})
	})
}

func mustTop(ctx context.Context, svc *service.Service) []repository.Entry {
	top, err := svc.TopN(ctx, 100)
	if err != nil {
		panic(err)
	}
	return top
}

// flakyScores fails the next n upserts with a transient error.
type flakyScores struct {
	repository.ScoreStore
	failures atomic.Int32
}

func (f *flakyScores) Upsert(ctx context.Context, sc model.Score) (bool, error) {
	if f.failures.Add(-1) >= 0 {
		return false, repository.ErrTransient
	}
	return f.ScoreStore.Upsert(ctx, sc)
}

func TestService_ScoringWithoutQueue(t *testing.T) {
	Convey("Given a stopped service whose recompute queue is closed", t, func() {
		ctx := context.Background()
		stores := repository.NewMemoryStores()
		flaky := &flakyScores{ScoreStore: stores.Scores}
		stores.Scores = flaky
		svc := service.New(
			service.WithCatalog(testRegistry()),
			service.WithStores(stores),
			service.WithRecomputeMode(service.RecomputeSync),
			service.WithJobMaxAttempts(3),
			service.WithRetryRate(1000, 10),
			service.WithClock(tickingClock()),
		)
		So(svc.Start(ctx), ShouldBeNil)
		So(publishFinal(ctx, svc), ShouldBeNil)

		first, err := svc.SubmitPrediction(ctx, "fan", ids(5, 4, 3, 2, 1), "")
		So(err, ShouldBeNil)
		So(first.Score, ShouldNotBeNil)
		svc.Stop()

		Convey("A resubmission whose first scoring fails is rescored inline", func() {
			flaky.failures.Store(1)
			sub, err := svc.SubmitPrediction(ctx, "fan", ids(1, 2, 3, 4, 5), "")
			So(err, ShouldBeNil)
			So(sub.Score, ShouldNotBeNil)
			So(sub.Score.Score, ShouldEqual, scoring.MaxScore)

			view, err := svc.Prediction(ctx, "fan")
			So(err, ShouldBeNil)
			So(view.Score.Score, ShouldEqual, scoring.MaxScore)
			So(view.Score.SubmittedAt.Equal(sub.Prediction.SubmittedAt), ShouldBeTrue)

			e, err := svc.Rank(ctx, "fan")
			So(err, ShouldBeNil)
			So(e.Score, ShouldEqual, scoring.MaxScore)
		})

		Convey("Exhausted retries are reported instead of keeping the old score silently", func() {
			flaky.failures.Store(10)
			_, err := svc.SubmitPrediction(ctx, "fan", ids(1, 2, 3, 4, 5), "")
			So(errors.Is(err, repository.ErrTransient), ShouldBeTrue)
		})
	})
}
