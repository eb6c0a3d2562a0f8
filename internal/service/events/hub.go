package events

import (
	"sync"
	"time"

	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

// Event names delivered to session subscribers.
const (
	TypeAlert            = "alert"
	TypeTranscriptUpdate = "transcript_update"
)

// Event is one message fanned out to the subscribers of a session.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptUpdate is the payload of a transcript_update event.
type TranscriptUpdate struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTranscriptEvent wraps an appended transcript entry.
func NewTranscriptEvent(sessionID string, entry call.TranscriptEntry) Event {
	return Event{
		Type:      TypeTranscriptUpdate,
		SessionID: sessionID,
		Data:      TranscriptUpdate{Text: entry.Text, Timestamp: entry.Timestamp},
		Timestamp: entry.Timestamp,
	}
}

// NewAlertEvent wraps an emitted alert.
func NewAlertEvent(sessionID string, alert call.Alert) Event {
	return Event{
		Type:      TypeAlert,
		SessionID: sessionID,
		Data:      alert,
		Timestamp: alert.Timestamp,
	}
}

// Publisher is the write side of the hub used by the pipeline.
type Publisher interface {
	Publish(sessionID string, ev Event) int
}

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 64

// Hub delivers events to per-session subscribers. Delivery is best effort:
// a subscriber whose queue is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives the events of one session until closed.
type Subscription struct {
	hub       *Hub
	sessionID string
	ch        chan Event
	once      sync.Once
}

// Events returns the receive channel. It is closed when the subscription
// or its session is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// SessionID returns the subscribed session.
func (s *Subscription) SessionID() string { return s.sessionID }

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe registers a new subscriber for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		ch:        make(chan Event, h.buffer),
	}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish delivers ev to every current subscriber of sessionID and returns
// how many received it.
func (h *Hub) Publish(sessionID string, ev Event) int {
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			logging.Warnw("subscriber queue full, dropping event", "session_id", sessionID, "event", ev.Type)
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// CloseSession closes and forgets every subscriber of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	set := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()

	for sub := range set {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	h.mu.Unlock()

	sub.once.Do(func() { close(sub.ch) })
}
