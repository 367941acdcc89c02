package app

import (
	"sync"

	"ctf-flag-service/internal/domain"
)

// Broadcaster fans scoreboard snapshots out to live subscribers (the admin
// dashboard feed). Slow consumers never block a publish.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan domain.Scoreboard]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan domain.Scoreboard]struct{}),
	}
}

// Subscribe registers a listener and delivers initial as its first message.
// The returned cancel must be called to release the subscription.
func (b *Broadcaster) Subscribe(initial domain.Scoreboard) (<-chan domain.Scoreboard, func()) {
	ch := make(chan domain.Scoreboard, 8)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	ch <- initial

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber, dropping the stale entry
// when a subscriber's buffer is full.
func (b *Broadcaster) Publish(sb domain.Scoreboard) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- sb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- sb
		}
	}
}
