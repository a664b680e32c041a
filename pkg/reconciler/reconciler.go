// Package reconciler maps asynchronous AMI events onto the lifecycle of
// persisted call records and the agents that own them. One handler per
// event; all handlers are idempotent, so replayed or reordered switch
// events never move a call out of a terminal status.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/ami"
	"github.com/rdesksystems/dialer-engine/pkg/events"
	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
)

// ChannelResolver maps switch channel names onto in-flight call ids. The
// engine owns the underlying map; the reconciler resolves on every event
// and drops entries when calls end.
type ChannelResolver interface {
	CallID(channel string) (int, bool)
	Drop(channel string)
}

// AgentTracker is the registry subset the reconciler needs to release
// agents at call end.
type AgentTracker interface {
	FinishCall(agentID int, talkTime time.Duration)
}

// Subscriber is the AMI session subset the reconciler registers with.
type Subscriber interface {
	Subscribe(event string, h ami.Handler)
}

// Reconciler consumes AMI events and reconciles them into call state.
// Events are dispatched serially on the session's reader goroutine, so
// transitions on a single call are strictly sequential without extra
// locking here.
type Reconciler struct {
	repo        repository.Repository
	agents      AgentTracker
	channels    ChannelResolver
	broadcaster *events.Broadcaster
	now         func() time.Time
	log         *slog.Logger
}

// New creates a reconciler.
func New(repo repository.Repository, agents AgentTracker, channels ChannelResolver, broadcaster *events.Broadcaster) *Reconciler {
	return &Reconciler{
		repo:        repo,
		agents:      agents,
		channels:    channels,
		broadcaster: broadcaster,
		now:         time.Now,
		log:         slog.With("component", "reconciler"),
	}
}

// WithClock overrides the reconciler's clock. Test hook.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Register subscribes the reconciler's handlers with the AMI session.
// Called once on engine startup; subscriptions survive session reconnects.
func (r *Reconciler) Register(s Subscriber) {
	s.Subscribe("Newchannel", r.HandleNewchannel)
	s.Subscribe("DialBegin", r.HandleDialBegin)
	s.Subscribe("DialEnd", r.HandleDialEnd)
	s.Subscribe("Bridge", r.HandleBridge)
	s.Subscribe("Hangup", r.HandleHangup)
}

// resolve finds the in-flight call a message belongs to. Bridge events
// carry two channel legs; either may be ours.
func (r *Reconciler) resolve(msg ami.Message) (int, string, bool) {
	for _, key := range []string{"Channel", "Channel1", "Channel2"} {
		ch := msg.Get(key)
		if ch == "" {
			continue
		}
		if callID, ok := r.channels.CallID(ch); ok {
			return callID, ch, true
		}
	}
	return 0, "", false
}

// loadCall fetches the call row, tolerating a row that has vanished.
func (r *Reconciler) loadCall(ctx context.Context, callID int) *models.Call {
	call, err := r.repo.CallByID(ctx, callID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.log.Error("Failed to load call", "call_id", callID, "error", err)
		}
		return nil
	}
	return call
}

// appendEvent writes one audit row carrying the raw AMI message.
func (r *Reconciler) appendEvent(ctx context.Context, callID int, eventType string, msg ami.Message) {
	if err := r.repo.InsertCallEvent(ctx, &models.CallEvent{
		CallID:    callID,
		EventType: eventType,
		Payload:   map[string]string(msg),
		Timestamp: r.now(),
	}); err != nil {
		r.log.Error("Failed to append call event", "call_id", callID, "event_type", eventType, "error", err)
	}
}

// HandleNewchannel appends an audit row; no status change.
func (r *Reconciler) HandleNewchannel(msg ami.Message) {
	ctx := context.Background()
	callID, _, ok := r.resolve(msg)
	if !ok {
		return
	}
	r.appendEvent(ctx, callID, models.EventTypeNewChannel, msg)
}

// HandleDialBegin transitions initiated → ringing.
func (r *Reconciler) HandleDialBegin(msg ami.Message) {
	ctx := context.Background()
	callID, _, ok := r.resolve(msg)
	if !ok {
		return
	}
	r.appendEvent(ctx, callID, models.EventTypeDialBegin, msg)

	call := r.loadCall(ctx, callID)
	if call == nil || call.Status != models.CallStatusInitiated {
		return
	}
	call.Status = models.CallStatusRinging
	if err := r.repo.UpdateCall(ctx, call); err != nil {
		r.log.Error("Failed to mark call ringing", "call_id", callID, "error", err)
		return
	}
	r.broadcaster.Broadcast(events.Event{
		Type: events.TypeCallRinging, CampaignID: call.CampaignID,
		CallID: call.ID, AgentID: call.AgentID,
	})
}

// HandleDialEnd maps DialStatus onto the call outcome: ANSWER marks the
// call answered; every other status is terminal.
func (r *Reconciler) HandleDialEnd(msg ami.Message) {
	ctx := context.Background()
	callID, channel, ok := r.resolve(msg)
	if !ok {
		return
	}
	r.appendEvent(ctx, callID, models.EventTypeDialEnd, msg)

	call := r.loadCall(ctx, callID)
	if call == nil || call.Status.Terminal() {
		return
	}

	switch msg.Get("DialStatus") {
	case "ANSWER":
		r.markAnswered(ctx, call)
	case "BUSY", "CONGESTION":
		r.finish(ctx, call, channel, models.CallStatusBusy)
	case "NOANSWER", "CANCEL":
		r.finish(ctx, call, channel, models.CallStatusNoAnswer)
	default:
		r.finish(ctx, call, channel, models.CallStatusFailed)
	}
}

// HandleBridge marks the call answered when the legs bridge. Whichever of
// Bridge and DialEnd{ANSWER} arrives first wins; the second is a no-op.
func (r *Reconciler) HandleBridge(msg ami.Message) {
	ctx := context.Background()
	callID, _, ok := r.resolve(msg)
	if !ok {
		return
	}
	r.appendEvent(ctx, callID, models.EventTypeBridge, msg)

	call := r.loadCall(ctx, callID)
	if call == nil || call.Status.Terminal() {
		return
	}
	r.markAnswered(ctx, call)
}

// HandleHangup completes the call: terminal status, duration, agent
// release, channel-map cleanup, and the call_ended broadcast.
func (r *Reconciler) HandleHangup(msg ami.Message) {
	ctx := context.Background()
	callID, channel, ok := r.resolve(msg)
	if !ok {
		return
	}
	r.appendEvent(ctx, callID, models.EventTypeHangup, msg)

	call := r.loadCall(ctx, callID)
	if call == nil || call.Status.Terminal() {
		return
	}
	r.finish(ctx, call, channel, models.CallStatusCompleted)
}

// markAnswered applies the ringing/initiated → answered transition once.
func (r *Reconciler) markAnswered(ctx context.Context, call *models.Call) {
	if call.Status == models.CallStatusAnswered {
		return
	}
	now := r.now()
	call.Status = models.CallStatusAnswered
	call.AnsweredAt = &now
	if err := r.repo.UpdateCall(ctx, call); err != nil {
		r.log.Error("Failed to mark call answered", "call_id", call.ID, "error", err)
		return
	}
	r.broadcaster.Broadcast(events.Event{
		Type: events.TypeCallAnswered, CampaignID: call.CampaignID,
		CallID: call.ID, AgentID: call.AgentID,
	})
}

// finish applies a terminal transition: stamps ended_at and duration,
// releases the agent, updates the daily rollups, drops the channel
// mapping, and broadcasts call_ended. Callers guarantee the call is not
// already terminal.
func (r *Reconciler) finish(ctx context.Context, call *models.Call, channel string, status models.CallStatus) {
	now := r.now()
	call.Status = status
	call.EndedAt = &now
	call.CalculateDuration()
	if err := r.repo.UpdateCall(ctx, call); err != nil {
		r.log.Error("Failed to finish call", "call_id", call.ID, "status", status, "error", err)
		return
	}

	answered := call.AnsweredAt != nil
	talk := time.Duration(0)
	if answered {
		talk = time.Duration(call.DurationSeconds) * time.Second
	}

	if call.AgentID != 0 {
		r.agents.FinishCall(call.AgentID, talk)
		r.updateRollups(ctx, call, answered)
	}
	r.channels.Drop(channel)

	r.broadcaster.Broadcast(events.Event{
		Type: events.TypeCallEnded, CampaignID: call.CampaignID,
		CallID: call.ID, AgentID: call.AgentID,
		Payload: map[string]any{
			"status":           string(status),
			"duration_seconds": call.DurationSeconds,
		},
	})
	r.log.Info("Call finished", "call_id", call.ID, "status", status, "duration_seconds", call.DurationSeconds)
}

// updateRollups increments the per-day agent and campaign aggregates.
func (r *Reconciler) updateRollups(ctx context.Context, call *models.Call, answered bool) {
	day := r.now()

	perf := repository.PerformanceDelta{CallsMade: 1}
	stats := repository.StatisticsDelta{TotalCalls: 1, LeadsContacted: 1}
	if answered {
		perf.CallsAnswered = 1
		perf.TalkTime = call.DurationSeconds
		stats.SuccessfulCalls = 1
		stats.DurationSeconds = call.DurationSeconds
	} else {
		stats.FailedCalls = 1
	}

	if err := r.repo.IncAgentPerformance(ctx, call.AgentID, call.CampaignID, day, perf); err != nil {
		r.log.Error("Failed to update agent performance", "agent_id", call.AgentID, "error", err)
	}
	if err := r.repo.IncCampaignStatistics(ctx, call.CampaignID, day, stats); err != nil {
		r.log.Error("Failed to update campaign statistics", "campaign_id", call.CampaignID, "error", err)
	}
}
