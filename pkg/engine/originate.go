package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rdesksystems/dialer-engine/pkg/ami"
	"github.com/rdesksystems/dialer-engine/pkg/events"
	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
)

// Originate is the single call-placement primitive used by every dialer
// variant: it creates the call row, marks the agent on-call, registers the
// channel mapping, and submits the AMI Originate action.
//
// A call row exists before the action is submitted, so even a failed
// submission leaves an auditable record with terminal status failed.
func (e *Engine) Originate(ctx context.Context, campaign *models.Campaign, lead *models.Lead, agentID int) (int, error) {
	now := e.now()
	call := &models.Call{
		LeadID:      lead.ID,
		CampaignID:  campaign.ID,
		AgentID:     agentID,
		PhoneNumber: lead.PhoneNumber,
		Direction:   models.CallDirectionOutbound,
		Status:      models.CallStatusInitiated,
		StartedAt:   now,
	}
	if err := e.repo.InsertCall(ctx, call); err != nil {
		return 0, fmt.Errorf("creating call record: %w", err)
	}

	if err := e.registry.MarkOnCall(agentID, call.ID); err != nil {
		e.log.Warn("Could not mark agent on-call", "agent_id", agentID, "call_id", call.ID, "error", err)
	}

	channel := fmt.Sprintf("SIP/%s/%s", e.cfg.AMI.Username, lead.PhoneNumber)
	e.channels.Register(channel, call.ID)

	resp, err := e.session.Originate(ctx, ami.OriginateRequest{
		Channel:   channel,
		Context:   "default",
		Extension: lead.PhoneNumber,
		CallerID:  fmt.Sprintf("<%s>", lead.PhoneNumber),
		Variables: map[string]string{
			"CALL_ID":       fmt.Sprint(call.ID),
			"AGENT_CHANNEL": fmt.Sprintf("Agent/%d", agentID),
			"PHONE_NUMBER":  lead.PhoneNumber,
		},
	})

	// Record the action response (or its absence) in the audit log either
	// way; a failed originate stays retrievable from the call history.
	payload := map[string]string(resp)
	if err != nil {
		payload = map[string]string{"error": err.Error()}
	}
	e.appendEvent(ctx, call.ID, models.EventTypeOriginateResponse, payload)

	if err != nil {
		return 0, e.failSubmission(ctx, call, channel, agentID, err)
	}
	if !resp.Success() {
		reason := fmt.Errorf("switch rejected originate: %s", resp.Get("Message"))
		return 0, e.failSubmission(ctx, call, channel, agentID, reason)
	}

	if err := e.repo.UpdateLeadContacted(ctx, lead.ID, now); err != nil {
		e.log.Warn("Could not stamp lead last_contacted", "lead_id", lead.ID, "error", err)
	}

	e.broadcaster.Broadcast(events.Event{
		Type: events.TypeCallStarted, CampaignID: campaign.ID,
		CallID: call.ID, AgentID: agentID,
		Payload: map[string]any{"phone_number": lead.PhoneNumber},
	})
	return call.ID, nil
}

// failSubmission unwinds a failed originate submission. The call is marked
// failed only while still in initiated: a session drop racing with switch
// events must not clobber a call the reconciler has already advanced — a
// ringing call may yet be reconciled normally over a new session.
func (e *Engine) failSubmission(ctx context.Context, call *models.Call, channel string, agentID int, cause error) error {
	current, err := e.repo.CallByID(ctx, call.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			e.log.Error("Could not reload call after failed submission", "call_id", call.ID, "error", err)
		}
		current = call
	}

	if current.Status == models.CallStatusInitiated {
		now := e.now()
		current.Status = models.CallStatusFailed
		current.EndedAt = &now
		current.CalculateDuration()
		if err := e.repo.UpdateCall(ctx, current); err != nil {
			e.log.Error("Could not mark call failed", "call_id", call.ID, "error", err)
		}
		e.registry.Release(agentID)
		e.channels.Drop(channel)
	}

	switch ami.ClassifyError(cause) {
	case ami.Reconnect:
		return WrapError(KindConnectionLost, "originate interrupted by session drop", cause)
	default:
		if errors.Is(cause, ami.ErrActionTimeout) {
			return WrapError(KindAMIActionTimeout, "originate response timed out", cause)
		}
		return fmt.Errorf("originate failed: %w", cause)
	}
}

// HangupCall asks the switch to hang up an in-flight call, recording the
// action response in the audit log.
func (e *Engine) HangupCall(ctx context.Context, callID int) error {
	channel, ok := e.channels.ChannelFor(callID)
	if !ok {
		return NewError(KindDialerNotRunning, "call has no active channel")
	}
	resp, err := e.session.Hangup(ctx, channel)
	if err != nil {
		return fmt.Errorf("hangup action failed: %w", err)
	}
	e.appendEvent(ctx, callID, models.EventTypeHangupResponse, map[string]string(resp))
	return nil
}

// appendEvent writes one audit row, logging instead of failing the caller.
func (e *Engine) appendEvent(ctx context.Context, callID int, eventType string, payload map[string]string) {
	if err := e.repo.InsertCallEvent(ctx, &models.CallEvent{
		CallID:    callID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: e.now(),
	}); err != nil {
		e.log.Error("Could not append call event", "call_id", callID, "event_type", eventType, "error", err)
	}
}
