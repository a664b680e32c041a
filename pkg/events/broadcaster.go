// Package events provides the in-process lifecycle broadcaster the engine
// and reconciler publish to. Subscribers (e.g. a real-time push bridge
// owned by the out-of-scope HTTP surface) receive call and agent lifecycle
// signals over buffered channels.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a lifecycle signal.
type Type string

// Lifecycle signal types.
const (
	TypeCallStarted        Type = "call_started"
	TypeCallRinging        Type = "call_ringing"
	TypeCallAnswered       Type = "call_answered"
	TypeCallEnded          Type = "call_ended"
	TypeAgentStatusChanged Type = "agent_status_changed"
	TypeEngineDegraded     Type = "engine_degraded"
)

// Event is one lifecycle signal. Zero-valued id fields mean "not
// applicable" for the signal type.
type Event struct {
	Type       Type           `json:"type"`
	CampaignID int            `json:"campaign_id,omitempty"`
	CallID     int            `json:"call_id,omitempty"`
	AgentID    int            `json:"agent_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Broadcaster fans lifecycle events out to subscribers. Sends never block:
// a subscriber that falls behind its buffer drops events (logged), so a
// stalled consumer cannot stall the reconciler.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns the receive channel plus an unsubscribe function. Unsubscribing
// closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Broadcast delivers an event to every subscriber. The subscriber list is
// snapshotted under the lock, then sends happen outside it.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	channels := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- event:
		default:
			slog.Warn("Dropping lifecycle event for slow subscriber",
				"type", event.Type, "call_id", event.CallID)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
