// Package engine implements the dialer engine façade: the registry of
// running campaign dialers, the single AMI session and its reconnect
// supervision, the originate primitive every dialer variant uses, and the
// command surface the HTTP layer calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/ami"
	"github.com/rdesksystems/dialer-engine/pkg/config"
	"github.com/rdesksystems/dialer-engine/pkg/dialer"
	"github.com/rdesksystems/dialer-engine/pkg/events"
	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/reconciler"
	"github.com/rdesksystems/dialer-engine/pkg/registry"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
	"github.com/rdesksystems/dialer-engine/pkg/selector"
)

// Reconnect supervision constants.
const (
	maxReconnectAttempts = 5
	reconnectBackoff     = 2 * time.Second
)

// statsWindow and statsCap bound the recent-call window the stats command
// aggregates over.
const (
	statsWindow = 24 * time.Hour
	statsCap    = 500
)

// AMISession is the session subset the engine consumes, so tests can run
// against a scripted fake instead of a live switch.
type AMISession interface {
	Connect(ctx context.Context) error
	Originate(ctx context.Context, req ami.OriginateRequest) (ami.Message, error)
	Hangup(ctx context.Context, channel string) (ami.Message, error)
	Subscribe(event string, h ami.Handler)
	Close() error
	State() ami.State
}

// runningDialer is one campaign's pacing task and its cancellation handle.
type runningDialer struct {
	dialer   dialer.Dialer
	campaign *models.Campaign
	cancel   context.CancelFunc
	done     chan struct{}
}

// Engine owns all agent state, the AMI session handle, and the running
// dialers. One Engine value is constructed at process start and passed to
// the HTTP layer; no global is required.
type Engine struct {
	cfg         *config.Config
	repo        repository.Repository
	session     AMISession
	registry    *registry.Registry
	selector    *selector.Selector
	reconciler  *reconciler.Reconciler
	broadcaster *events.Broadcaster
	channels    *ChannelMap
	log         *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	dialers map[int]*runningDialer

	degraded atomic.Bool
	closing  atomic.Bool
}

// New wires an engine over its collaborators. Call Start to connect the
// AMI session and begin accepting commands.
func New(cfg *config.Config, repo repository.Repository, session AMISession) *Engine {
	e := &Engine{
		cfg:         cfg,
		repo:        repo,
		session:     session,
		registry:    registry.New(0),
		selector:    selector.New(repo),
		broadcaster: events.NewBroadcaster(),
		channels:    NewChannelMap(),
		log:         slog.With("component", "engine"),
		now:         time.Now,
		dialers:     make(map[int]*runningDialer),
	}
	e.reconciler = reconciler.New(repo, e.registry, e.channels, e.broadcaster)
	return e
}

// Broadcaster exposes the lifecycle event stream for push bridges.
func (e *Engine) Broadcaster() *events.Broadcaster {
	return e.broadcaster
}

// Start connects and logs in to the switch and registers the reconciler's
// event handlers. Must be called once before any campaign is started.
func (e *Engine) Start(ctx context.Context) error {
	e.reconciler.Register(e.session)
	e.session.Subscribe(ami.EventSessionClosed, func(ami.Message) { e.onSessionClosed() })

	if err := e.session.Connect(ctx); err != nil {
		if errors.Is(err, ami.ErrAuthFailed) {
			return WrapError(KindAMIAuthFailed, "AMI login rejected", err)
		}
		return WrapError(KindAMIUnreachable, "cannot reach AMI", err)
	}
	e.log.Info("Engine started", "ami_host", e.cfg.AMI.Host)
	return nil
}

// Shutdown stops every dialer, then closes the AMI session. Pending action
// futures complete with a cancellation error.
func (e *Engine) Shutdown() {
	e.closing.Store(true)

	e.mu.Lock()
	ids := make([]int, 0, len(e.dialers))
	for id := range e.dialers {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.StopCampaign(id)
	}
	_ = e.session.Close()
	e.log.Info("Engine stopped")
}

// onSessionClosed supervises reconnection after an unexpected session
// drop. Repeated failures past the attempt budget disable all dialers and
// mark the engine degraded until an operator intervenes.
func (e *Engine) onSessionClosed() {
	if e.closing.Load() {
		return
	}
	go func() {
		for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
			time.Sleep(time.Duration(attempt) * reconnectBackoff)
			if e.closing.Load() {
				return
			}
			err := e.session.Connect(context.Background())
			if err == nil {
				e.log.Info("AMI session re-established", "attempt", attempt)
				return
			}
			e.log.Warn("AMI reconnect failed", "attempt", attempt, "error", err)
			if ami.ClassifyError(err) == ami.Fatal {
				break
			}
		}

		e.degraded.Store(true)
		e.log.Error("AMI reconnect budget exhausted; disabling all dialers")
		e.mu.Lock()
		ids := make([]int, 0, len(e.dialers))
		for id := range e.dialers {
			ids = append(ids, id)
		}
		e.mu.Unlock()
		for _, id := range ids {
			_ = e.StopCampaign(id)
		}
		e.broadcaster.Broadcast(events.Event{Type: events.TypeEngineDegraded})
	}()
}

// dialerDeps bundles the engine's collaborators for a new dialer.
func (e *Engine) dialerDeps() dialer.Deps {
	return dialer.Deps{
		Placer:   e,
		Repo:     e.repo,
		Leads:    e.selector,
		Agents:   e.registry,
		Defaults: e.cfg.Dialer,
		Now:      e.now,
	}
}

// applyDefaults fills a campaign's unset pacing knobs from the system-wide
// defaults.
func (e *Engine) applyDefaults(c *models.Campaign) {
	d := e.cfg.Dialer
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelayMinutes <= 0 {
		c.RetryDelayMinutes = d.RetryDelayMinutes
	}
	if c.PredictiveRatio <= 0 {
		c.PredictiveRatio = models.RatioFromFloat(d.PredictiveRatio)
	}
	if c.TurboDelaySeconds <= 0 {
		c.TurboDelaySeconds = d.TurboDelaySeconds
	}
}

// StartCampaign starts the campaign's dialer. Idempotent: starting a
// running campaign is a no-op.
func (e *Engine) StartCampaign(ctx context.Context, campaignID int) error {
	e.mu.Lock()
	if _, running := e.dialers[campaignID]; running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	campaign, err := e.repo.CampaignByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("loading campaign %d: %w", campaignID, err)
	}
	if campaign.Status != models.CampaignStatusActive {
		return NewError(KindCampaignNotActive, "campaign must be active to start dialer")
	}

	assignments, err := e.repo.AssignmentsOf(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("loading assignments: %w", err)
	}
	if len(assignments) == 0 {
		return NewError(KindNoAgentsAssigned, "no agents assigned to campaign")
	}

	leads, err := e.repo.LeadsForSelection(ctx, campaignID, models.DialableLeadStatuses, 1)
	if err != nil {
		return fmt.Errorf("probing leads: %w", err)
	}
	if len(leads) == 0 {
		return NewError(KindNoLeadsAvailable, "no leads available in campaign")
	}

	e.applyDefaults(campaign)
	d, err := dialer.New(campaign, e.dialerDeps())
	if err != nil {
		return WrapError(KindInvalidDialerMode, "unsupported dialer mode", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rd := &runningDialer{dialer: d, campaign: campaign, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	if _, running := e.dialers[campaignID]; running {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.dialers[campaignID] = rd
	e.mu.Unlock()

	go func() {
		defer close(rd.done)
		d.Run(runCtx)
	}()

	e.log.Info("Campaign dialer started", "campaign_id", campaignID, "dialer_mode", campaign.DialerMode)
	return nil
}

// StopCampaign cancels the campaign's dialer and joins it within the
// shutdown budget. Idempotent: stopping a non-running campaign is a no-op.
func (e *Engine) StopCampaign(campaignID int) error {
	e.mu.Lock()
	rd, running := e.dialers[campaignID]
	if running {
		delete(e.dialers, campaignID)
	}
	e.mu.Unlock()
	if !running {
		return nil
	}

	rd.cancel()
	select {
	case <-rd.done:
		e.log.Info("Campaign dialer stopped", "campaign_id", campaignID)
	case <-time.After(e.cfg.Dialer.ShutdownBudget):
		e.log.Error("Campaign dialer did not stop within budget; abandoning task",
			"campaign_id", campaignID, "budget", e.cfg.Dialer.ShutdownBudget)
	}
	return nil
}

// Running reports whether a campaign's dialer is running.
func (e *Engine) Running(campaignID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.dialers[campaignID]
	return ok
}

// RunningCampaigns returns the ids of campaigns with a running dialer.
func (e *Engine) RunningCampaigns() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int, 0, len(e.dialers))
	for id := range e.dialers {
		ids = append(ids, id)
	}
	return ids
}

// ManualCall places one agent-initiated call on a running manual campaign.
func (e *Engine) ManualCall(ctx context.Context, campaignID, leadID, agentID int) (int, error) {
	e.mu.Lock()
	rd, running := e.dialers[campaignID]
	e.mu.Unlock()
	if !running {
		return 0, NewError(KindDialerNotRunning, "dialer is not running for this campaign")
	}

	manual, ok := rd.dialer.(*dialer.Manual)
	if !ok {
		return 0, NewError(KindInvalidDialerMode, "campaign is not in manual dialer mode")
	}

	callID, err := manual.ManualCall(ctx, leadID, agentID)
	switch {
	case err == nil:
		return callID, nil
	case errors.Is(err, dialer.ErrLeadNotInCampaign):
		return 0, WrapError(KindLeadNotInCampaign, "lead not found in specified campaign", err)
	case errors.Is(err, dialer.ErrAgentNotAvailable):
		return 0, WrapError(KindAgentNotAvailable, "agent is not assigned and available", err)
	default:
		return 0, err
	}
}

// UpdateAgentStatus applies an externally-commanded agent status change.
// Valid inputs are available, busy, and offline; an agent on an active
// call cannot be moved — only the reconciler releases it.
func (e *Engine) UpdateAgentStatus(agentID int, status models.AgentStatus) error {
	switch status {
	case models.AgentStatusAvailable, models.AgentStatusBusy, models.AgentStatusOffline:
	default:
		return NewError(KindInvalidStatus, "status must be available, busy, or offline")
	}

	if err := e.registry.SetStatus(agentID, status, 0); err != nil {
		if errors.Is(err, registry.ErrAgentBusy) {
			return WrapError(KindAgentBusy, "agent is on an active call", err)
		}
		return err
	}
	e.broadcaster.Broadcast(events.Event{
		Type: events.TypeAgentStatusChanged, AgentID: agentID,
		Payload: map[string]any{"status": string(status)},
	})
	return nil
}

// AgentStatus returns a snapshot of an agent's live state.
func (e *Engine) AgentStatus(agentID int) (models.AgentState, bool) {
	return e.registry.Get(agentID)
}

// Stats aggregates the rolling counter bundle for a campaign over the
// recent-call window, plus live agent utilization.
func (e *Engine) Stats(ctx context.Context, campaignID int) (*models.DialerStats, error) {
	since := e.now().Add(-statsWindow)
	calls, err := e.repo.RecentCalls(ctx, campaignID, since, statsCap)
	if err != nil {
		return nil, fmt.Errorf("loading recent calls: %w", err)
	}

	stats := &models.DialerStats{}
	durationSum := 0
	durationCount := 0
	for _, c := range calls {
		stats.TotalCalls++
		switch {
		case c.AnsweredAt != nil:
			stats.AnsweredCalls++
			if c.DurationSeconds > 0 {
				durationSum += c.DurationSeconds
				durationCount++
			}
		case c.Status == models.CallStatusBusy:
			stats.BusyCalls++
		case c.Status == models.CallStatusNoAnswer:
			stats.NoAnswerCalls++
		case c.Status == models.CallStatusFailed:
			stats.FailedCalls++
		}
	}
	if stats.TotalCalls > 0 {
		stats.AnswerRate = float64(stats.AnsweredCalls) / float64(stats.TotalCalls)
	}
	if durationCount > 0 {
		stats.AverageCallDuration = float64(durationSum) / float64(durationCount)
	}

	assignments, err := e.repo.AssignmentsOf(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments: %w", err)
	}
	if len(assignments) > 0 {
		ids := make([]int, len(assignments))
		for i, a := range assignments {
			ids[i] = a.AgentID
		}
		stats.AgentUtilization = float64(e.registry.OnCallCount(ids)) / float64(len(ids))
	}
	return stats, nil
}

// CampaignStatistics returns a campaign's persisted daily rollup.
func (e *Engine) CampaignStatistics(ctx context.Context, campaignID int, day time.Time) (*models.CampaignStatistics, error) {
	return e.repo.CampaignStatisticsFor(ctx, campaignID, day)
}

// AgentPerformance returns an agent's persisted daily rollup for a campaign.
func (e *Engine) AgentPerformance(ctx context.Context, agentID, campaignID int, day time.Time) (*models.AgentPerformance, error) {
	return e.repo.AgentPerformanceFor(ctx, agentID, campaignID, day)
}

// HealthStatus is the engine's process-level health summary.
type HealthStatus struct {
	Status           string    `json:"status"`
	AMIState         ami.State `json:"ami_state"`
	RunningCampaigns int       `json:"running_campaigns"`
}

// Health reports engine health: degraded once the reconnect budget is
// exhausted, until an operator intervenes.
func (e *Engine) Health() HealthStatus {
	status := "healthy"
	if e.degraded.Load() {
		status = "degraded"
	}
	e.mu.Lock()
	running := len(e.dialers)
	e.mu.Unlock()
	return HealthStatus{
		Status:           status,
		AMIState:         e.session.State(),
		RunningCampaigns: running,
	}
}
