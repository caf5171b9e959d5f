package fanout

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Subscriber is one live listener's feed of its owner's events.
type Subscriber struct {
	OwnerID string
	C       chan Event

	hub *Hub
	id  uint64
}

// Close detaches the subscriber from the hub. Safe to call once per
// subscriber; pending buffered events are discarded.
func (s *Subscriber) Close() {
	s.hub.unsubscribe(s)
}

// Hub is the in-process pub/sub bus, keyed by owner identity. One listener
// receives updates for all of that owner's jobs and never for anyone else's.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscriber
	nextID uint64
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[uint64]*Subscriber),
		logger: logger,
	}
}

// Subscribe registers a listener under ownerID for the lifetime of its
// connection.
func (h *Hub) Subscribe(ownerID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		OwnerID: ownerID,
		C:       make(chan Event, subscriberBuffer),
		hub:     h,
		id:      h.nextID,
	}

	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[uint64]*Subscriber)
	}
	h.subs[ownerID][sub.id] = sub

	h.logger.Debug("Listener subscribed",
		slog.String("owner_id", ownerID),
	)

	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	owned := h.subs[sub.OwnerID]
	if owned == nil {
		return
	}
	if _, ok := owned[sub.id]; !ok {
		return
	}
	delete(owned, sub.id)
	if len(owned) == 0 {
		delete(h.subs, sub.OwnerID)
	}
	close(sub.C)
}

// Publish delivers an event to every listener of its owner without blocking.
// A listener whose buffer is full drops the event; the job store stays the
// source of truth for final state.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[ev.OwnerID] {
		select {
		case sub.C <- ev:
		default:
			h.logger.Warn("Dropping event for slow listener",
				slog.String("owner_id", ev.OwnerID),
				slog.String("type", ev.Type),
			)
		}
	}
}

// ListenerCount returns the number of live listeners for an owner.
func (h *Hub) ListenerCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}
