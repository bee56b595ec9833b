package repository

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/pkg/metrics"
)

// NewMemoryStores returns the in-process backend. Scores are projected
// into a treap leaderboard.
func NewMemoryStores(opts ...Option) *Stores {
	board := NewTreapLeaderboard()
	return &Stores{
		Predictions: NewMemoryPredictionStore(),
		Results:     NewMemoryResultStore(opts...),
		Scores:      newProjection(NewMemoryScoreStore(), board),
		Leaderboard: board,
	}
}

// MemoryPredictionStore keeps every submission per user in memory.
type MemoryPredictionStore struct {
	mu     sync.RWMutex
	byUser map[string][]model.Prediction
}

// NewMemoryPredictionStore creates an empty store.
func NewMemoryPredictionStore() *MemoryPredictionStore {
	return &MemoryPredictionStore{byUser: make(map[string][]model.Prediction)}
}

func (s *MemoryPredictionStore) Save(_ context.Context, p model.Prediction) error {
	p.Ranked = slices.Clone(p.Ranked)
	s.mu.Lock()
	s.byUser[p.UserID] = append(s.byUser[p.UserID], p)
	s.mu.Unlock()
	return nil
}

func (s *MemoryPredictionStore) Latest(_ context.Context, userID string) (model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.byUser[userID]
	if len(history) == 0 {
		return model.Prediction{}, ErrNotFound
	}
	p := history[len(history)-1]
	p.Ranked = slices.Clone(p.Ranked)
	return p, nil
}

func (s *MemoryPredictionStore) All(_ context.Context) ([]model.Prediction, error) {
	s.mu.RLock()
	out := make([]model.Prediction, 0, len(s.byUser))
	for _, history := range s.byUser {
		p := history[len(history)-1]
		p.Ranked = slices.Clone(p.Ranked)
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryPredictionStore) History(_ context.Context, userID string) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.byUser[userID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	out := make([]model.Prediction, len(history))
	for i, p := range history {
		p.Ranked = slices.Clone(p.Ranked)
		out[i] = p
	}
	return out, nil
}

// MemoryResultStore holds the official result behind a mutex.
type MemoryResultStore struct {
	mu      sync.Mutex
	current model.OfficialResult
	opts    options
	notify  *broadcaster
}

// NewMemoryResultStore creates a store holding an empty result.
func NewMemoryResultStore(opts ...Option) *MemoryResultStore {
	return &MemoryResultStore{opts: buildOptions(opts), notify: newBroadcaster()}
}

func (s *MemoryResultStore) Current(_ context.Context) (model.OfficialResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone(), nil
}

func (s *MemoryResultStore) Update(_ context.Context, fn func(*model.OfficialResult) error) (model.OfficialResult, error) {
	s.mu.Lock()
	next := s.current.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return s.current.Clone(), err
	}
	if sameResult(&s.current, &next) {
		out := s.current.Clone()
		s.mu.Unlock()
		return out, nil
	}
	if err := results.Validate(&next); err != nil {
		s.mu.Unlock()
		metrics.RecordIntegrityViolation()
		return s.current.Clone(), err
	}
	s.stamp(&next)
	s.current = next
	out := next.Clone()
	s.mu.Unlock()

	s.notify.publish(model.ResultChange{Version: out.Version, At: out.UpdatedAt})
	return out, nil
}

func (s *MemoryResultStore) Reset(_ context.Context) (model.OfficialResult, error) {
	s.mu.Lock()
	next := s.current.Clone()
	results.Reset(&next)
	s.stamp(&next)
	s.current = next
	out := next.Clone()
	s.mu.Unlock()

	s.notify.publish(model.ResultChange{Version: out.Version, Cleared: true, At: out.UpdatedAt})
	return out, nil
}

func (s *MemoryResultStore) Subscribe(ctx context.Context) <-chan model.ResultChange {
	return s.notify.subscribe(ctx)
}

func (s *MemoryResultStore) stamp(r *model.OfficialResult) {
	now := s.opts.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version++
}

// MemoryScoreStore is a map of scores by user.
type MemoryScoreStore struct {
	mu     sync.RWMutex
	byUser map[string]model.Score
	// cleared is the highest result version passed to ClearAll.
	cleared int64
}

// NewMemoryScoreStore creates an empty store.
func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{byUser: make(map[string]model.Score), cleared: noFence}
}

func (s *MemoryScoreStore) Upsert(_ context.Context, sc model.Score) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ResultVersion <= s.cleared {
		return false, nil
	}
	if old, ok := s.byUser[sc.UserID]; ok && newer(old, sc) {
		return false, nil
	}
	s.byUser[sc.UserID] = sc
	return true, nil
}

// newer reports whether a was derived from fresher inputs than b.
func newer(a, b model.Score) bool {
	if a.ResultVersion != b.ResultVersion {
		return a.ResultVersion > b.ResultVersion
	}
	return a.SubmittedAt.After(b.SubmittedAt)
}

func (s *MemoryScoreStore) Get(_ context.Context, userID string) (model.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.byUser[userID]
	if !ok {
		return model.Score{}, ErrNotFound
	}
	return sc, nil
}

func (s *MemoryScoreStore) All(_ context.Context) ([]model.Score, error) {
	s.mu.RLock()
	out := make([]model.Score, 0, len(s.byUser))
	for _, sc := range s.byUser {
		out = append(out, sc)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryScoreStore) ClearAll(_ context.Context, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sc := range s.byUser {
		if sc.ResultVersion <= version {
			delete(s.byUser, id)
		}
	}
	s.cleared = max(s.cleared, version)
	return nil
}

func sameResult(a, b *model.OfficialResult) bool {
	return slices.Equal(a.SemiFinalists, b.SemiFinalists) &&
		slices.Equal(a.TopFive, b.TopFive) &&
		a.FinalRanking == b.FinalRanking
}
