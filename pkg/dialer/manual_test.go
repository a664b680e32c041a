package dialer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdesksystems/dialer-engine/pkg/config"
	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/registry"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
	"github.com/rdesksystems/dialer-engine/pkg/selector"
)

func manualFixture(t *testing.T) (*repository.Memory, *registry.Registry, *fakePlacer, *Manual) {
	t.Helper()

	repo := repository.NewMemory()
	campaign := &models.Campaign{
		ID:         1,
		Status:     models.CampaignStatusActive,
		DialerMode: models.DialerModeManual,
	}
	repo.AddCampaign(campaign)
	repo.AddAssignment(1, 1)
	repo.AddLead(&models.Lead{ID: 10, CampaignID: 1, PhoneNumber: "5551234", Status: models.LeadStatusNew})
	repo.AddLead(&models.Lead{ID: 20, CampaignID: 2, PhoneNumber: "5555678", Status: models.LeadStatusNew})

	reg := registry.New(0)
	placer := &fakePlacer{repo: repo, now: time.Now}
	deps := Deps{
		Placer:   placer,
		Repo:     repo,
		Leads:    selector.New(repo),
		Agents:   reg,
		Defaults: config.DefaultDialerDefaults(),
	}
	return repo, reg, placer, &Manual{campaign: campaign, deps: deps, log: slog.Default()}
}

func TestManualCallHappyPath(t *testing.T) {
	_, _, placer, m := manualFixture(t)

	callID, err := m.ManualCall(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.NotZero(t, callID)

	placed := placer.placed()
	require.Len(t, placed, 1)
	assert.Equal(t, 10, placed[0].LeadID)
	assert.Equal(t, 1, placed[0].AgentID)
}

func TestManualCallLeadOutsideCampaign(t *testing.T) {
	_, _, _, m := manualFixture(t)

	_, err := m.ManualCall(context.Background(), 20, 1)
	assert.ErrorIs(t, err, ErrLeadNotInCampaign)

	_, err = m.ManualCall(context.Background(), 999, 1)
	assert.ErrorIs(t, err, ErrLeadNotInCampaign)
}

func TestManualCallAgentChecks(t *testing.T) {
	_, reg, _, m := manualFixture(t)

	// Not assigned to the campaign.
	_, err := m.ManualCall(context.Background(), 10, 7)
	assert.ErrorIs(t, err, ErrAgentNotAvailable)

	// Assigned but currently busy.
	require.NoError(t, reg.SetStatus(1, models.AgentStatusBusy, 0))
	_, err = m.ManualCall(context.Background(), 10, 1)
	assert.ErrorIs(t, err, ErrAgentNotAvailable)
}

func TestManualRunParksUntilCancelled(t *testing.T) {
	_, _, _, m := manualFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manual dialer did not stop on cancellation")
	}
}
