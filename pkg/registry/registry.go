// Package registry tracks live agent state: availability, current call,
// and per-day counters. The registry is process-wide, in-memory, and owned
// by the engine; the reconciler and dialers read and mutate it through the
// engine.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/models"
)

// Registry errors.
var (
	// ErrAgentBusy indicates an attempt to move an on-call agent to a
	// status only the reconciler may set.
	ErrAgentBusy = errors.New("agent is on an active call")

	// ErrCallRequired indicates on_call was requested without a call id.
	ErrCallRequired = errors.New("on_call status requires a call id")
)

// Registry is the concurrent agent-state table. Exactly one AgentState
// exists per agent id; states are created lazily on first reference and
// live until process shutdown.
type Registry struct {
	mu     sync.Mutex
	agents map[int]*models.AgentState

	// resetHour is the local hour at which daily counters roll over.
	resetHour int
	now       func() time.Time
}

// New creates an empty registry with counters resetting at the given local
// hour (0 = midnight).
func New(resetHour int) *Registry {
	return &Registry{
		agents:    make(map[int]*models.AgentState),
		resetHour: resetHour,
		now:       time.Now,
	}
}

// WithClock overrides the registry's clock. Test hook.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// get returns the live state for an agent, creating it as available on
// first reference. Caller must hold r.mu.
func (r *Registry) get(agentID int) *models.AgentState {
	st, ok := r.agents[agentID]
	if !ok {
		st = &models.AgentState{AgentID: agentID, Status: models.AgentStatusAvailable}
		r.agents[agentID] = st
	}
	r.rollCounters(st)
	return st
}

// rollCounters zeroes the daily counters when the reset boundary has been
// crossed since the last mutation. Caller must hold r.mu.
func (r *Registry) rollCounters(st *models.AgentState) {
	day := r.counterDay(r.now())
	if st.LastCallEnd.IsZero() && st.CallsToday == 0 && st.TalkTimeToday == 0 {
		return
	}
	if !st.LastCallEnd.IsZero() && r.counterDay(st.LastCallEnd) != day {
		st.CallsToday = 0
		st.TalkTimeToday = 0
	}
}

// counterDay maps a timestamp to its counter day, shifted by the reset hour.
func (r *Registry) counterDay(t time.Time) string {
	return t.Add(-time.Duration(r.resetHour) * time.Hour).Format("2006-01-02")
}

// Get returns a snapshot of an agent's state. The second return is false
// when the agent has never been referenced.
func (r *Registry) Get(agentID int) (models.AgentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok {
		return models.AgentState{}, false
	}
	r.rollCounters(st)
	return *st, true
}

// SetStatus updates an agent's status. Setting on_call requires callID;
// setting available clears the current call and stamps last_call_end.
// Moving an on-call agent anywhere but through FinishCall or Release is
// rejected with ErrAgentBusy — the reconciler finishes calls and the engine
// releases agents whose originate failed.
func (r *Registry) SetStatus(agentID int, status models.AgentStatus, callID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.get(agentID)

	if status == models.AgentStatusOnCall && callID == 0 {
		return ErrCallRequired
	}
	if st.Status == models.AgentStatusOnCall && status != models.AgentStatusOnCall {
		return ErrAgentBusy
	}

	st.Status = status
	switch status {
	case models.AgentStatusOnCall:
		st.CurrentCallID = callID
		st.CallStartedAt = r.now()
	case models.AgentStatusAvailable:
		st.CurrentCallID = 0
		st.CallStartedAt = time.Time{}
		st.LastCallEnd = r.now()
	default:
		st.CurrentCallID = 0
		st.CallStartedAt = time.Time{}
	}
	return nil
}

// MarkOnCall transitions an agent onto a call.
func (r *Registry) MarkOnCall(agentID, callID int) error {
	return r.SetStatus(agentID, models.AgentStatusOnCall, callID)
}

// FinishCall releases an agent from its current call: status available,
// last_call_end stamped, calls_today incremented, and talk time added when
// the call was answered. The reconciler calls this on every terminal call
// transition; it is a no-op for an agent that is not on a call.
func (r *Registry) FinishCall(agentID int, talkTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.get(agentID)
	if st.Status != models.AgentStatusOnCall {
		return
	}
	st.Status = models.AgentStatusAvailable
	st.CurrentCallID = 0
	st.CallStartedAt = time.Time{}
	st.LastCallEnd = r.now()
	st.CallsToday++
	if talkTime > 0 {
		st.TalkTimeToday += int(talkTime.Seconds())
	}
}

// Release reverts an agent to available without touching the daily
// counters. Used by the engine when an originate submission fails before
// the call ever existed on the switch; no-op when the agent is not on a
// call.
func (r *Registry) Release(agentID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.get(agentID)
	if st.Status != models.AgentStatusOnCall {
		return
	}
	st.Status = models.AgentStatusAvailable
	st.CurrentCallID = 0
	st.CallStartedAt = time.Time{}
	st.LastCallEnd = r.now()
}

// AvailableFor filters the given assigned agent ids down to those currently
// available, ordered oldest-idle first so load spreads fairly. Agents never
// seen before are created as available.
func (r *Registry) AvailableFor(assigned []int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	type idleAgent struct {
		id   int
		idle time.Time
	}
	var out []idleAgent
	for _, id := range assigned {
		st := r.get(id)
		if st.Status == models.AgentStatusAvailable {
			out = append(out, idleAgent{id: id, idle: st.LastCallEnd})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].idle.Before(out[j].idle)
	})

	ids := make([]int, len(out))
	for i, a := range out {
		ids[i] = a.id
	}
	return ids
}

// OnCallDuration returns how long the agent's current call has been
// running, or zero when the agent is not on a call.
func (r *Registry) OnCallDuration(agentID int, now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok || st.Status != models.AgentStatusOnCall || st.CallStartedAt.IsZero() {
		return 0
	}
	return now.Sub(st.CallStartedAt)
}

// OnCallCount returns how many of the given agents are currently on a call.
func (r *Registry) OnCallCount(agentIDs []int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range agentIDs {
		if st, ok := r.agents[id]; ok && st.Status == models.AgentStatusOnCall {
			n++
		}
	}
	return n
}
