package dialer

import (
	"context"
	"log/slog"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/models"
)

// Turbo paces sequentially: one call per tick, targeting the oldest-idle
// available agent.
type Turbo struct {
	campaign *models.Campaign
	deps     Deps
	log      *slog.Logger
}

// Mode implements Dialer.
func (t *Turbo) Mode() models.DialerMode { return models.DialerModeTurbo }

// Run implements Dialer.
func (t *Turbo) Run(ctx context.Context) {
	t.log.Info("Turbo dialer started", "delay_seconds", t.campaign.TurboDelaySeconds)
	defer t.log.Info("Turbo dialer stopped")

	delay := t.campaign.TurboDelay()
	if delay <= 0 {
		delay = time.Duration(t.deps.Defaults.TurboDelaySeconds) * time.Second
	}

	for {
		if !sleep(ctx, delay) {
			return
		}
		if err := t.tick(ctx); err != nil {
			t.log.Error("Turbo tick failed", "error", err)
			if !sleep(ctx, time.Second) {
				return
			}
		}
	}
}

// tick performs one pacing step: find an idle agent, find a lead, place
// the call.
func (t *Turbo) tick(ctx context.Context) error {
	if !t.campaign.InDailyWindow(t.deps.now()) {
		return nil
	}

	assigned, err := assignedAgents(ctx, t.deps.Repo, t.campaign.ID)
	if err != nil {
		return err
	}
	agents := t.deps.Agents.AvailableFor(assigned)
	if len(agents) == 0 {
		return nil
	}

	lead, err := t.deps.Leads.NextLead(ctx, t.campaign)
	if err != nil {
		return err
	}
	if lead == nil {
		// Nothing dialable right now; back off harder than the tick delay.
		sleep(ctx, t.deps.Defaults.NoLeadsBackoff)
		return nil
	}

	callID, err := t.deps.Placer.Originate(ctx, t.campaign, lead, agents[0])
	if err != nil {
		t.log.Warn("Turbo originate failed", "lead_id", lead.ID, "agent_id", agents[0], "error", err)
		return nil
	}
	t.log.Info("Turbo call placed", "call_id", callID, "lead_id", lead.ID, "agent_id", agents[0])
	return nil
}
