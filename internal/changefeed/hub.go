// Package changefeed fans record-store change notifications out to
// per-user subscribers.
package changefeed

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Feed publishes changes and delivers them to subscribers of the same user.
type Feed interface {
	Publish(ctx context.Context, c domain.Change) error
	Subscribe(ctx context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error)
}

// Hub is an in-process Feed. Each subscriber gets its own delivery
// goroutine so a slow subscriber never blocks Publish.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*subscriber // userID -> id -> subscriber
}

type subscriber struct {
	ch   chan domain.Change
	done chan struct{}
	once sync.Once
}

// subscriberBuffer bounds queued changes per subscriber. Excess changes
// are coalesced: one queued change already forces a reload.
const subscriberBuffer = 16

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*subscriber)}
}

// Publish delivers c to every subscriber of c.UserID.
func (h *Hub) Publish(_ context.Context, c domain.Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs[c.UserID] {
		select {
		case s.ch <- c:
		default:
			// queue full: a reload is already pending for this subscriber
		}
	}
	return nil
}

// Subscribe registers fn for c.UserID changes until Unsubscribe.
func (h *Hub) Subscribe(_ context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error) {
	s := &subscriber{
		ch:   make(chan domain.Change, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]*subscriber)
	}
	h.subs[userID][id] = s
	h.mu.Unlock()

	go func() {
		for {
			select {
			case c := <-s.ch:
				fn(c)
			case <-s.done:
				return
			}
		}
	}()

	return domain.SubscriptionFunc(func() error {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(s.done)
		})
		return nil
	}), nil
}

// Subscribers returns how many live subscriptions userID has.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
