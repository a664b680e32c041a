// Package models defines the persisted and in-memory data types shared by the
// dialer engine: calls, call events, leads, campaigns, assignments, agent
// state, and the daily rollups backing statistics.
package models

import "time"

// CallStatus is the lifecycle status of a call.
type CallStatus string

// Call status values. The lattice is
// initiated → ringing → answered → completed, with terminal shortcuts to
// busy / no_answer / failed.
const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusBusy      CallStatus = "busy"
	CallStatusNoAnswer  CallStatus = "no_answer"
	CallStatusFailed    CallStatus = "failed"
	CallStatusCompleted CallStatus = "completed"
)

// Terminal reports whether the status is terminal. A call in a terminal
// status is never mutated again.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusBusy, CallStatusNoAnswer, CallStatusFailed, CallStatusCompleted:
		return true
	}
	return false
}

// CallDirection distinguishes inbound from outbound legs. The engine only
// places outbound calls.
type CallDirection string

// Call directions.
const (
	CallDirectionOutbound CallDirection = "outbound"
)

// Call is the unit of work: one attempt to reach a lead, owned by the
// repository. After creation the reconciler advances it; the engine also
// marks it failed when the originate submission fails.
type Call struct {
	ID          int           `json:"id"`
	LeadID      int           `json:"lead_id"`
	CampaignID  int           `json:"campaign_id"`
	AgentID     int           `json:"agent_id,omitempty"` // 0 until assigned
	PhoneNumber string        `json:"phone_number"`
	Direction   CallDirection `json:"call_direction"`
	Status      CallStatus    `json:"call_status"`
	Outcome     string        `json:"call_outcome,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	DispositionCode string `json:"disposition_code,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// CalculateDuration sets DurationSeconds from StartedAt/EndedAt.
// No-op unless both timestamps are present.
func (c *Call) CalculateDuration() {
	if c.EndedAt == nil || c.StartedAt.IsZero() {
		return
	}
	c.DurationSeconds = int(c.EndedAt.Sub(c.StartedAt).Seconds())
}

// CallEvent is one row of the append-only per-call audit log. Immutable
// after insert.
type CallEvent struct {
	ID        int               `json:"id"`
	CallID    int               `json:"call_id"`
	EventType string            `json:"event_type"`
	Payload   map[string]string `json:"event_data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Audit event types written by the engine and reconciler.
const (
	EventTypeOriginateResponse = "originate_response"
	EventTypeHangupResponse    = "hangup_response"
	EventTypeNewChannel        = "new_channel"
	EventTypeDialBegin         = "dial_begin"
	EventTypeDialEnd           = "dial_end"
	EventTypeBridge            = "bridge"
	EventTypeHangup            = "hangup"
)
