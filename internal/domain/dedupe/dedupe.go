// Package dedupe tracks idempotency keys of prediction submissions.
package dedupe

import (
	"context"
	"slices"
	"sync"

	"github.com/okian/tiara/internal/domain/model"
)

const defaultMaxSize = 50_000

// Deduper remembers the stored prediction of each idempotency key so a
// retried submission replays it instead of storing twice.
type Deduper interface {
	// Outcome returns the prediction recorded under key.
	Outcome(ctx context.Context, key string) (model.Prediction, bool)

	// Record remembers p as the outcome of key. Only successful
	// submissions are recorded, so a failed one can be retried.
	Record(ctx context.Context, key string, p model.Prediction)

	Size() int64
}

// Key scopes an idempotency key to a user so two users cannot collide.
func Key(userID, idempotencyKey string) string {
	return userID + "\x00" + idempotencyKey
}

type entry struct {
	slot int // position in the ring, -1 when unbounded
	p    model.Prediction
}

// inMemoryDeduper keeps outcomes in a map plus a ring of insertion order
// for FIFO eviction in bounded mode.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]entry
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]entry)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) Outcome(_ context.Context, key string) (model.Prediction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.seen[key]
	if !ok {
		return model.Prediction{}, false
	}
	p := e.p
	p.Ranked = slices.Clone(p.Ranked)
	return p, true
}

func (d *inMemoryDeduper) Record(_ context.Context, key string, p model.Prediction) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p.Ranked = slices.Clone(p.Ranked)
	if e, ok := d.seen[key]; ok {
		e.p = p
		d.seen[key] = e
		return
	}
	if d.maxSize <= 0 {
		d.seen[key] = entry{slot: -1, p: p}
		return
	}
	// Evict whatever occupies the slot we are about to reuse.
	if old := d.ring[d.next]; old != "" {
		if e, ok := d.seen[old]; ok && e.slot == d.next {
			delete(d.seen, old)
		}
	}
	d.ring[d.next] = key
	d.seen[key] = entry{slot: d.next, p: p}
	d.next = (d.next + 1) % d.maxSize
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
