// Package dialer implements the per-campaign pacing loops: the Manual,
// Turbo, and Predictive variants that decide when and how many calls to
// originate. Each dialer runs as one cancellable goroutine owned by the
// engine and places calls through the engine's originate primitive.
package dialer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/config"
	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
)

// Dialer errors surfaced to the engine façade.
var (
	// ErrUnknownMode indicates a campaign with an unrecognized dialer_mode.
	ErrUnknownMode = errors.New("unknown dialer mode")

	// ErrNotManual indicates a manual call against a non-manual dialer.
	ErrNotManual = errors.New("campaign is not in manual dialer mode")

	// ErrLeadNotInCampaign indicates a manual call for a lead outside the campaign.
	ErrLeadNotInCampaign = errors.New("lead does not belong to campaign")

	// ErrAgentNotAvailable indicates the requested agent is not assigned or not available.
	ErrAgentNotAvailable = errors.New("agent not assigned or not available")
)

// Placer is the engine subset dialers use to place calls. Originate returns
// the created call id.
type Placer interface {
	Originate(ctx context.Context, campaign *models.Campaign, lead *models.Lead, agentID int) (int, error)
}

// LeadSource yields the next eligible lead for a campaign, or nil when none
// qualifies.
type LeadSource interface {
	NextLead(ctx context.Context, campaign *models.Campaign) (*models.Lead, error)
}

// AgentPool is the registry subset dialers consult for pacing decisions.
type AgentPool interface {
	AvailableFor(assigned []int) []int
	OnCallDuration(agentID int, now time.Time) time.Duration
	Get(agentID int) (models.AgentState, bool)
}

// Deps bundles the collaborators every dialer variant shares.
type Deps struct {
	Placer   Placer
	Repo     repository.Repository
	Leads    LeadSource
	Agents   AgentPool
	Defaults *config.DialerDefaults

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dialer is one campaign's pacing task. Run blocks until ctx is cancelled;
// the engine joins it within the shutdown budget.
type Dialer interface {
	Run(ctx context.Context)
	Mode() models.DialerMode
}

// New instantiates the variant matching the campaign's dialer_mode.
func New(campaign *models.Campaign, deps Deps) (Dialer, error) {
	log := slog.With("campaign_id", campaign.ID, "dialer_mode", campaign.DialerMode)
	switch campaign.DialerMode {
	case models.DialerModeManual:
		return &Manual{campaign: campaign, deps: deps, log: log}, nil
	case models.DialerModeTurbo:
		return &Turbo{campaign: campaign, deps: deps, log: log}, nil
	case models.DialerModePredictive:
		return newPredictive(campaign, deps, log), nil
	default:
		return nil, ErrUnknownMode
	}
}

// assignedAgents loads the campaign's agent pool ids.
func assignedAgents(ctx context.Context, repo repository.Repository, campaignID int) ([]int, error) {
	assignments, err := repo.AssignmentsOf(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(assignments))
	for i, a := range assignments {
		ids[i] = a.AgentID
	}
	return ids, nil
}

// sleep waits for d or until ctx is cancelled. Returns false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
