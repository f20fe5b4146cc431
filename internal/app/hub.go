package app

import (
	"context"
	"sync"

	"quizmaster/internal/domain"
)

// Broadcaster delivers events to viewers. Delivery is fire-and-forget:
// implementations must not block the caller and never report failure.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev domain.Event)
}

// Hub fans events out to in-process subscribers, grouped by game.
type Hub struct {
	buffer int

	mu          sync.RWMutex
	subscribers map[string]map[chan domain.Event]struct{}
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer:      buffer,
		subscribers: make(map[string]map[chan domain.Event]struct{}),
	}
}

// Subscribe returns a channel receiving every event of a game. The caller
// must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(gameID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, h.buffer)

	h.mu.Lock()
	subs, ok := h.subscribers[gameID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.subscribers[gameID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[gameID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, gameID)
		}
	}
	return ch, cancel
}

// Broadcast implements Broadcaster. A subscriber whose buffer is full loses
// its oldest pending event.
func (h *Hub) Broadcast(_ context.Context, ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[ev.GameID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

// Subscribers reports how many subscribers a game has.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[gameID])
}
