// Package hub fans out session events to real-time listeners.
package hub

import (
	"log/slog"
	"sync"
	"time"
)

// EventType enumerates the events pushed to listeners.
type EventType string

const (
	EventQR          EventType = "qr"
	EventConnected   EventType = "connected"
	EventMessage     EventType = "message"
	EventMessageSent EventType = "message-sent"
)

// Event is one fan-out payload.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Code      string    `json:"code,omitempty"`
	Status    string    `json:"status,omitempty"`
	Connected bool      `json:"connected"`
	MessageID string    `json:"messageId,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives events on a buffered channel. Slow subscribers
// lose events rather than blocking publishers.
type Subscriber struct {
	C chan Event
}

// Hub is the in-process fan-out point.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan Event, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.C)
}

// Publish delivers an event to every subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.C <- ev:
		default:
			slog.Debug("Hub dropped event for slow subscriber", "type", ev.Type, "session_id", ev.SessionID)
		}
	}
}

// SubscriberCount returns the number of registered listeners.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
