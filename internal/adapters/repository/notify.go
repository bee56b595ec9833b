package repository

import (
	"context"
	"sync"

	"github.com/okian/tiara/internal/domain/model"
)

// broadcaster fans result changes out to subscribers. Each subscriber
// has a one-slot buffer that always holds the newest pending change.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan model.ResultChange]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan model.ResultChange]struct{})}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan model.ResultChange {
	ch := make(chan model.ResultChange, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

func (b *broadcaster) publish(c model.ResultChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- c:
			continue
		default:
		}
		// replace the stale pending change
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c:
		default:
		}
	}
}
