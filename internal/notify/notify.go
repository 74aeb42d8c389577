// Package notify fans out account lifecycle events to in-process subscribers.
// Client applications registered with a notification URI can be serviced by a
// subscriber that relays events outward.
package notify

import (
	"context"
	"sync"
	"time"
)

// Event types published by the identity and oauth engines.
const (
	EventLogin        = "login"
	EventLogout       = "logout"
	EventRegistration = "registration"
	EventUserMerged   = "user.merged"
	EventTokenIssued  = "token.issued"
	EventTokenRevoked = "token.revoked"
)

// Event describes a change to a user account or its authorizations.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fan-outs events to all active subscribers (SSE clients, relays).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func New() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
