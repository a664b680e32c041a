package dialer

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/models"
)

// Predictive pacing constants.
const (
	// defaultAnswerRate is assumed when a campaign has no call history.
	defaultAnswerRate = 0.3

	// defaultAvgDuration is assumed when no answered calls exist yet.
	defaultAvgDuration = 180 * time.Second

	// imminentThreshold marks an on-call agent as "becoming free" once its
	// call has run this fraction of the average duration.
	imminentThreshold = 0.8

	// metricsWindow and metricsCap bound the call history the pacing
	// arithmetic considers.
	metricsWindow = 24 * time.Hour
	metricsCap    = 100

	// callsNeededCeiling is the absolute cap on extra calls per cycle.
	callsNeededCeiling = 10
)

// agentPerf is one agent's recent performance over the metrics window.
type agentPerf struct {
	TotalCalls int
	Answered   int
	AnswerRate float64
}

// campaignMetrics is the per-cycle snapshot the pacing arithmetic runs on.
type campaignMetrics struct {
	AnswerRate  float64
	AvgDuration time.Duration
	PerAgent    map[int]agentPerf
}

// Predictive over-dials relative to the free-agent count so call-setup
// latency and unanswered calls don't leave agents idle.
type Predictive struct {
	campaign *models.Campaign
	deps     Deps
	log      *slog.Logger

	// jitter returns the per-score noise in [-0.1, 0.1) that breaks
	// scoring ties and prevents one agent from monopolizing calls.
	jitter func() float64
}

func newPredictive(campaign *models.Campaign, deps Deps, log *slog.Logger) *Predictive {
	return &Predictive{
		campaign: campaign,
		deps:     deps,
		log:      log,
		jitter:   func() float64 { return rand.Float64()*0.2 - 0.1 },
	}
}

// Mode implements Dialer.
func (p *Predictive) Mode() models.DialerMode { return models.DialerModePredictive }

// Run implements Dialer.
func (p *Predictive) Run(ctx context.Context) {
	ratio := p.campaign.PredictiveRatio.Float64()
	if ratio <= 0 {
		ratio = p.deps.Defaults.PredictiveRatio
	}
	p.log.Info("Predictive dialer started", "predictive_ratio", ratio)
	defer p.log.Info("Predictive dialer stopped")

	for {
		if !sleep(ctx, p.deps.Defaults.PredictiveInterval) {
			return
		}
		if err := p.cycle(ctx, ratio); err != nil {
			p.log.Error("Predictive cycle failed", "error", err)
			if !sleep(ctx, time.Second) {
				return
			}
		}
	}
}

// cycle performs one pacing pass: refresh metrics, compute how many calls
// to place, then place them against the best-scoring agents.
func (p *Predictive) cycle(ctx context.Context, ratio float64) error {
	if !p.campaign.InDailyWindow(p.deps.now()) {
		return nil
	}

	assigned, err := assignedAgents(ctx, p.deps.Repo, p.campaign.ID)
	if err != nil {
		return err
	}
	pool := p.deps.Agents.AvailableFor(assigned)
	if len(pool) == 0 {
		return nil
	}

	m, err := p.refreshMetrics(ctx)
	if err != nil {
		return err
	}

	imminent := p.imminentAgents(assigned, m.AvgDuration)
	needed := CalculateCallsNeeded(len(pool), imminent, ratio, m.AnswerRate)
	p.log.Debug("Predictive cycle",
		"available", len(pool), "imminent", imminent,
		"answer_rate", m.AnswerRate, "calls_needed", needed)

	// Each placement consumes its agent from the cycle's candidate pool so
	// one strong agent doesn't take every call; once every candidate has a
	// call the pool refills, since over-dialing past the free-agent count
	// is the whole point of the ratio.
	candidates := slices.Clone(pool)
	for i := 0; i < needed; i++ {
		lead, err := p.deps.Leads.NextLead(ctx, p.campaign)
		if err != nil {
			return err
		}
		if lead == nil {
			break
		}
		if len(candidates) == 0 {
			candidates = slices.Clone(pool)
		}

		agentID := p.selectBestAgent(candidates, m.PerAgent)
		callID, err := p.deps.Placer.Originate(ctx, p.campaign, lead, agentID)
		if err != nil {
			p.log.Warn("Predictive originate failed", "lead_id", lead.ID, "agent_id", agentID, "error", err)
			continue
		}
		p.log.Info("Predictive call placed", "call_id", callID, "lead_id", lead.ID, "agent_id", agentID)

		if idx := slices.Index(candidates, agentID); idx >= 0 {
			candidates = slices.Delete(candidates, idx, idx+1)
		}
	}
	return nil
}

// refreshMetrics rebuilds the pacing snapshot from the recent call window.
func (p *Predictive) refreshMetrics(ctx context.Context) (campaignMetrics, error) {
	since := p.deps.now().Add(-metricsWindow)
	calls, err := p.deps.Repo.RecentCalls(ctx, p.campaign.ID, since, metricsCap)
	if err != nil {
		return campaignMetrics{}, err
	}

	m := campaignMetrics{
		AnswerRate:  defaultAnswerRate,
		AvgDuration: defaultAvgDuration,
		PerAgent:    make(map[int]agentPerf),
	}
	if len(calls) == 0 {
		return m, nil
	}

	answered := 0
	durationSum := 0
	durationCount := 0
	perAgent := make(map[int]*agentPerf)

	for _, c := range calls {
		wasAnswered := c.AnsweredAt != nil
		if wasAnswered {
			answered++
			if c.DurationSeconds > 0 {
				durationSum += c.DurationSeconds
				durationCount++
			}
		}
		if c.AgentID != 0 {
			ap, ok := perAgent[c.AgentID]
			if !ok {
				ap = &agentPerf{}
				perAgent[c.AgentID] = ap
			}
			ap.TotalCalls++
			if wasAnswered {
				ap.Answered++
			}
		}
	}

	m.AnswerRate = float64(answered) / float64(len(calls))
	if durationCount > 0 {
		m.AvgDuration = time.Duration(durationSum/durationCount) * time.Second
	}
	for id, ap := range perAgent {
		ap.AnswerRate = float64(ap.Answered) / float64(ap.TotalCalls)
		m.PerAgent[id] = *ap
	}
	return m, nil
}

// imminentAgents counts assigned agents whose current call has run at
// least imminentThreshold of the average duration.
func (p *Predictive) imminentAgents(assigned []int, avgDuration time.Duration) int {
	now := p.deps.now()
	threshold := time.Duration(imminentThreshold * float64(avgDuration))
	n := 0
	for _, id := range assigned {
		d := p.deps.Agents.OnCallDuration(id, now)
		if d > 0 && d >= threshold {
			n++
		}
	}
	return n
}

// CalculateCallsNeeded computes how many calls to place this cycle beyond
// zero: floor((available + imminent) × ratio / answerRate), capped at
// min(3 × available, 10) and clamped to zero. A non-positive answer rate
// saturates at the cap rather than dividing by zero.
func CalculateCallsNeeded(available, imminent int, ratio, answerRate float64) int {
	if available <= 0 {
		return 0
	}
	maxCalls := 3 * available
	if maxCalls > callsNeededCeiling {
		maxCalls = callsNeededCeiling
	}

	if answerRate <= 0 {
		return maxCalls
	}
	// A small epsilon keeps exact quotients such as 2 × 1.2 / 0.8 = 3 from
	// flooring to 2 through float rounding (2.9999999999999996).
	needed := int(math.Floor(float64(available+imminent)*ratio/answerRate + 1e-9))
	if needed > maxCalls {
		needed = maxCalls
	}
	if needed < 0 {
		needed = 0
	}
	return needed
}

// selectBestAgent scores the candidate pool and returns the winner. The
// score favors high answer rates and some experience, with jitter so one
// strong agent doesn't take every call.
func (p *Predictive) selectBestAgent(pool []int, perf map[int]agentPerf) int {
	if len(pool) == 1 {
		return pool[0]
	}

	best := pool[0]
	bestScore := math.Inf(-1)
	for _, id := range pool {
		rate := defaultAnswerRate
		total := 0
		if ap, ok := perf[id]; ok && ap.TotalCalls > 0 {
			rate = ap.AnswerRate
			total = ap.TotalCalls
		}
		experience := math.Min(float64(total)/10, 1.0)
		score := 0.7*rate + 0.3*experience + p.jitter()
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best
}
