package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/results"
)

func fixedClock() func() time.Time {
	return func() time.Time { return base }
}

func TestMemoryPredictionStore_LatestWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPredictionStore()

	if _, err := s.Latest(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := model.Prediction{UserID: "u1", Ranked: []string{"a", "b", "c", "d", "e"}, SubmittedAt: base}
	second := model.Prediction{UserID: "u1", Ranked: []string{"e", "d", "c", "b", "a"}, SubmittedAt: base.Add(time.Minute)}
	_ = s.Save(ctx, first)
	_ = s.Save(ctx, second)
	_ = s.Save(ctx, model.Prediction{UserID: "u0", Ranked: []string{"a", "b", "c", "d", "e"}, SubmittedAt: base})

	got, err := s.Latest(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Ranked[0] != "e" {
		t.Errorf("expected latest prediction, got %v", got.Ranked)
	}
	got.Ranked[0] = "mutated"
	if again, _ := s.Latest(ctx, "u1"); again.Ranked[0] != "e" {
		t.Error("store leaked its internal slice")
	}

	all, _ := s.All(ctx)
	if len(all) != 2 || all[0].UserID != "u0" || all[1].Ranked[0] != "e" {
		t.Errorf("unexpected All result %+v", all)
	}
	h, err := s.History(ctx, "u1")
	if err != nil || len(h) != 2 || h[0].Ranked[0] != "a" || h[1].Ranked[0] != "e" {
		t.Errorf("unexpected history %+v (%v)", h, err)
	}
	if _, err := s.History(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryScoreStore_ClearFence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryScoreStore()

	old := score("old", 10, 0)
	old.ResultVersion = 3
	kept := score("kept", 20, 0)
	kept.ResultVersion = 5
	_, _ = s.Upsert(ctx, old)
	_, _ = s.Upsert(ctx, kept)

	if err := s.ClearAll(ctx, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected score at version 3 to be cleared, got %v", err)
	}
	if _, err := s.Get(ctx, "kept"); err != nil {
		t.Errorf("score from a later version was cleared: %v", err)
	}

	late := score("late", 30, 0)
	late.ResultVersion = 4
	if stored, _ := s.Upsert(ctx, late); stored {
		t.Error("score at the cleared version was stored")
	}
	late.ResultVersion = 6
	if stored, _ := s.Upsert(ctx, late); !stored {
		t.Error("score after the cleared version was refused")
	}

	// an older clear never lowers the fence
	_ = s.ClearAll(ctx, 2)
	late.UserID = "later"
	late.ResultVersion = 3
	if stored, _ := s.Upsert(ctx, late); stored {
		t.Error("fence moved backwards")
	}
}

func TestMemoryResultStore_UpdateAndNotify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryResultStore(WithClock(fixedClock()))
	changes := s.Subscribe(ctx)

	r, err := s.Update(ctx, func(r *model.OfficialResult) error {
		return results.PromoteToSemiFinal(r, "a")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Version != 1 || !r.CreatedAt.Equal(base) {
		t.Errorf("unexpected committed result %+v", r)
	}
	select {
	case c := <-changes:
		if c.Version != 1 || c.Cleared {
			t.Errorf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	// idempotent mutation does not commit
	r, _ = s.Update(ctx, func(r *model.OfficialResult) error {
		return results.PromoteToSemiFinal(r, "a")
	})
	if r.Version != 1 {
		t.Errorf("expected unchanged version 1, got %d", r.Version)
	}

	// failed mutation leaves the result untouched
	_, err = s.Update(ctx, func(r *model.OfficialResult) error {
		return results.PromoteToTopFive(r, "zzz")
	})
	if !results.IsPrecondition(err) {
		t.Errorf("expected precondition error, got %v", err)
	}

	// corrupting mutation is refused
	_, err = s.Update(ctx, func(r *model.OfficialResult) error {
		r.TopFive = append(r.TopFive, "not-a-semi")
		return nil
	})
	if !errors.Is(err, results.ErrDataIntegrityViolation) {
		t.Errorf("expected integrity violation, got %v", err)
	}
	cur, _ := s.Current(ctx)
	if len(cur.TopFive) != 0 || cur.Version != 1 {
		t.Errorf("store changed after refused mutation: %+v", cur)
	}

	r, _ = s.Reset(ctx)
	if r.Version != 2 || !r.IsEmpty() {
		t.Errorf("unexpected reset result %+v", r)
	}
	select {
	case c := <-changes:
		if !c.Cleared || c.Version != 2 {
			t.Errorf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no reset change delivered")
	}
}

func TestBroadcaster_CoalescesAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := newBroadcaster()
	ch := b.subscribe(ctx)

	for v := int64(1); v <= 5; v++ {
		b.publish(model.ResultChange{Version: v})
	}
	if c := <-ch; c.Version != 5 {
		t.Errorf("expected newest change 5, got %d", c.Version)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryStores_Bundle(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, DriverMemory, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()

	_, _ = st.Scores.Upsert(ctx, score("u1", 120, 0))
	if st.Leaderboard.Count(ctx) != 1 {
		t.Error("score upsert did not reach the leaderboard")
	}
	if _, err := Open(ctx, "mysql", ""); !errors.Is(err, ErrUnsupportedDriver) {
		t.Errorf("expected ErrUnsupportedDriver, got %v", err)
	}
}
