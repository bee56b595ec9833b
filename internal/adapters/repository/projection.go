package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/pkg/metrics"
)

// Projection is a ScoreStore that writes through to a TreapLeaderboard.
// Writes to the wrapped store and the board happen under one lock so the
// board always holds what the store holds.
type Projection struct {
	mu    sync.Mutex
	inner ScoreStore
	board *TreapLeaderboard
	// result version of each ranked user's score
	versions map[string]int64
}

func newProjection(inner ScoreStore, board *TreapLeaderboard) *Projection {
	return &Projection{inner: inner, board: board, versions: make(map[string]int64)}
}

// NewProjection wraps inner and rebuilds board from its contents.
func NewProjection(ctx context.Context, inner ScoreStore, board *TreapLeaderboard) (*Projection, error) {
	p := newProjection(inner, board)
	if err := p.Rebuild(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Rebuild reloads the leaderboard from the wrapped store.
func (p *Projection) Rebuild(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	all, err := p.inner.All(ctx)
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}
	p.board.Clear()
	p.versions = make(map[string]int64, len(all))
	for _, sc := range all {
		p.board.Upsert(sc)
		p.versions[sc.UserID] = sc.ResultVersion
	}
	metrics.UpdateCachedScores(len(all))
	return nil
}

func (p *Projection) Upsert(ctx context.Context, sc model.Score) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := p.inner.Upsert(ctx, sc)
	if err != nil || !stored {
		return stored, err
	}
	p.board.Upsert(sc)
	p.versions[sc.UserID] = sc.ResultVersion
	metrics.UpdateCachedScores(len(p.versions))
	return true, nil
}

func (p *Projection) Get(ctx context.Context, userID string) (model.Score, error) {
	return p.inner.Get(ctx, userID)
}

func (p *Projection) All(ctx context.Context) ([]model.Score, error) {
	return p.inner.All(ctx)
}

func (p *Projection) ClearAll(ctx context.Context, version int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.inner.ClearAll(ctx, version); err != nil {
		return err
	}
	for id, v := range p.versions {
		if v <= version {
			p.board.Remove(id)
			delete(p.versions, id)
		}
	}
	metrics.UpdateCachedScores(len(p.versions))
	return nil
}
