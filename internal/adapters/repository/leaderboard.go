package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/pkg/metrics"
)

// Treap-based, in-memory Leaderboard.
//
// Ordering: score DESC, then submission time ASC, then userID ASC.
// "less" means ranks earlier, so in-order traversal yields the
// leaderboard from best to worst. Priorities come from a hash of the
// user id, which keeps the tree balanced in expectation and makes its
// shape reproducible across rebuilds.

type boardKey struct {
	score     int
	submitted int64 // unix nanos
	id        string
}

func less(a, b boardKey) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.submitted != b.submitted {
		return a.submitted < b.submitted
	}
	return a.id < b.id
}

type node struct {
	key     boardKey
	perfect bool
	prio    uint64
	left    *node
	right   *node
	size    int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, nn *node) *node {
	if n == nil {
		return nn
	}
	if less(nn.key, n.key) {
		n.left = insert(n.left, nn)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, nn)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, k boardKey) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.key == k:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, k)
		}
	case less(k, n.key):
		n.left = deleteNode(n.left, k)
	default:
		n.right = deleteNode(n.right, k)
	}
	fix(n)
	return n
}

// countHigher returns how many entries have a strictly higher score.
func countHigher(n *node, score int) int {
	count := 0
	for n != nil {
		if n.key.score > score {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.entry())
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

func (n *node) entry() Entry {
	return Entry{
		UserID:       n.key.id,
		Score:        n.key.score,
		PerfectMatch: n.perfect,
		SubmittedAt:  time.Unix(0, n.key.submitted).UTC(),
	}
}

// TreapLeaderboard ranks scores with O(log n) expected updates and rank
// lookups.
type TreapLeaderboard struct {
	mu   sync.RWMutex
	root *node
	byID map[string]*node
}

// NewTreapLeaderboard creates an empty leaderboard.
func NewTreapLeaderboard() *TreapLeaderboard {
	return &TreapLeaderboard{byID: make(map[string]*node)}
}

// Upsert places or moves a user according to the score.
func (b *TreapLeaderboard) Upsert(sc model.Score) {
	nn := &node{
		key:     boardKey{score: sc.Score, submitted: sc.SubmittedAt.UnixNano(), id: sc.UserID},
		perfect: sc.PerfectMatch,
		prio:    priority(sc.UserID),
		size:    1,
	}
	b.mu.Lock()
	if old, ok := b.byID[sc.UserID]; ok {
		b.root = deleteNode(b.root, old.key)
	}
	b.byID[sc.UserID] = nn
	b.root = insert(b.root, nn)
	count := len(b.byID)
	b.mu.Unlock()

	metrics.UpdateLeaderboardSize(count)
}

// Remove drops a user from the leaderboard.
func (b *TreapLeaderboard) Remove(userID string) {
	b.mu.Lock()
	if old, ok := b.byID[userID]; ok {
		b.root = deleteNode(b.root, old.key)
		delete(b.byID, userID)
	}
	count := len(b.byID)
	b.mu.Unlock()

	metrics.UpdateLeaderboardSize(count)
}

// Clear empties the leaderboard.
func (b *TreapLeaderboard) Clear() {
	b.mu.Lock()
	b.root = nil
	b.byID = make(map[string]*node)
	b.mu.Unlock()

	metrics.UpdateLeaderboardSize(0)
}

// TopN returns the first n entries with competition ranks.
func (b *TreapLeaderboard) TopN(_ context.Context, n int) ([]Entry, error) {
	if n < 1 {
		metrics.RecordError("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	b.mu.RLock()
	out := make([]Entry, 0, min(n, len(b.byID)))
	collectTopN(b.root, n, &out)
	b.mu.RUnlock()

	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
			continue
		}
		out[i].Rank = i + 1
	}
	return out, nil
}

// Rank returns the entry of one user.
func (b *TreapLeaderboard) Rank(_ context.Context, userID string) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.byID[userID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e := n.entry()
	e.Rank = countHigher(b.root, n.key.score) + 1
	return e, nil
}

// Count returns the number of ranked users.
func (b *TreapLeaderboard) Count(_ context.Context) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}
