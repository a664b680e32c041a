package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
)

// Manual is the no-pacing dialer: calls are placed only through
// ManualCall, driven by the external API surface.
type Manual struct {
	campaign *models.Campaign
	deps     Deps
	log      *slog.Logger
}

// Mode implements Dialer.
func (m *Manual) Mode() models.DialerMode { return models.DialerModeManual }

// Run has no pacing loop; it just parks until cancelled so the engine's
// running-set and shutdown handling treat all variants uniformly.
func (m *Manual) Run(ctx context.Context) {
	m.log.Info("Manual dialer started")
	<-ctx.Done()
	m.log.Info("Manual dialer stopped")
}

// ManualCall validates that the lead belongs to this campaign and that the
// agent is assigned and currently available, then places the call.
func (m *Manual) ManualCall(ctx context.Context, leadID, agentID int) (int, error) {
	lead, err := m.deps.Repo.LeadByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrLeadNotInCampaign
		}
		return 0, fmt.Errorf("loading lead %d: %w", leadID, err)
	}
	if lead.CampaignID != m.campaign.ID {
		return 0, ErrLeadNotInCampaign
	}

	assigned, err := assignedAgents(ctx, m.deps.Repo, m.campaign.ID)
	if err != nil {
		return 0, fmt.Errorf("loading assignments: %w", err)
	}
	if !slices.Contains(assigned, agentID) {
		return 0, ErrAgentNotAvailable
	}
	if st, ok := m.deps.Agents.Get(agentID); ok && st.Status != models.AgentStatusAvailable {
		return 0, ErrAgentNotAvailable
	}

	callID, err := m.deps.Placer.Originate(ctx, m.campaign, lead, agentID)
	if err != nil {
		return 0, err
	}
	m.log.Info("Manual call placed", "call_id", callID, "lead_id", leadID, "agent_id", agentID)
	return callID, nil
}
