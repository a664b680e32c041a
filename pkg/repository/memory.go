package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/models"
)

// Memory is an in-memory Repository used by tests and local development.
// It mirrors the Postgres implementation's ordering and error semantics.
type Memory struct {
	mu sync.Mutex

	campaigns   map[int]*models.Campaign
	assignments []models.CampaignAssignment
	leads       map[int]*models.Lead
	calls       map[int]*models.Call
	events      []*models.CallEvent

	performance map[perfKey]*models.AgentPerformance
	statistics  map[statKey]*models.CampaignStatistics

	nextCallID  int
	nextEventID int
}

type perfKey struct {
	agentID    int
	campaignID int
	day        string
}

type statKey struct {
	campaignID int
	day        string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		campaigns:   make(map[int]*models.Campaign),
		leads:       make(map[int]*models.Lead),
		calls:       make(map[int]*models.Call),
		performance: make(map[perfKey]*models.AgentPerformance),
		statistics:  make(map[statKey]*models.CampaignStatistics),
		nextCallID:  1,
		nextEventID: 1,
	}
}

// AddCampaign seeds a campaign row.
func (m *Memory) AddCampaign(c *models.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
}

// AddAssignment seeds a campaign assignment.
func (m *Memory) AddAssignment(campaignID, agentID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, models.CampaignAssignment{
		ID:         len(m.assignments) + 1,
		CampaignID: campaignID,
		AgentID:    agentID,
		AssignedAt: time.Now(),
	})
}

// AddLead seeds a lead row.
func (m *Memory) AddLead(l *models.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.leads[l.ID] = &cp
}

// CampaignByID implements Repository.
func (m *Memory) CampaignByID(_ context.Context, id int) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// AssignmentsOf implements Repository.
func (m *Memory) AssignmentsOf(_ context.Context, campaignID int) ([]models.CampaignAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CampaignAssignment
	for _, a := range m.assignments {
		if a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	return out, nil
}

// LeadsForSelection implements Repository with the same ordering the
// Postgres query produces.
func (m *Memory) LeadsForSelection(_ context.Context, campaignID int, statuses []models.LeadStatus, limit int) ([]*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := make(map[models.LeadStatus]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}

	var out []*models.Lead
	for _, l := range m.leads {
		if l.CampaignID != campaignID || !allowed[l.Status] || l.PhoneNumber == "" {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if c := compareTimeAsc(a.NextContactDate, b.NextContactDate, false); c != 0 {
			return c < 0
		}
		if c := compareTimeAsc(a.LastContacted, b.LastContacted, true); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// compareTimeAsc orders two nullable timestamps ascending. nullsFirst
// selects NULLS FIRST vs NULLS LAST.
func compareTimeAsc(a, b *time.Time, nullsFirst bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if nullsFirst {
			return -1
		}
		return 1
	case b == nil:
		if nullsFirst {
			return 1
		}
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}

// LeadByID implements Repository.
func (m *Memory) LeadByID(_ context.Context, id int) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// UpdateLeadContacted implements Repository.
func (m *Memory) UpdateLeadContacted(_ context.Context, leadID int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[leadID]
	if !ok {
		return ErrNotFound
	}
	t := at
	l.LastContacted = &t
	return nil
}

// CallByID implements Repository.
func (m *Memory) CallByID(_ context.Context, id int) (*models.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// CallCount implements Repository.
func (m *Memory) CallCount(_ context.Context, leadID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.LeadID == leadID {
			n++
		}
	}
	return n, nil
}

// LatestCall implements Repository.
func (m *Memory) LatestCall(_ context.Context, leadID int) (*models.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Call
	for _, c := range m.calls {
		if c.LeadID != leadID {
			continue
		}
		if latest == nil || c.StartedAt.After(latest.StartedAt) ||
			(c.StartedAt.Equal(latest.StartedAt) && c.ID > latest.ID) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// RecentCalls implements Repository.
func (m *Memory) RecentCalls(_ context.Context, campaignID int, since time.Time, limit int) ([]*models.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Call
	for _, c := range m.calls {
		if c.CampaignID == campaignID && !c.StartedAt.Before(since) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertCall implements Repository.
func (m *Memory) InsertCall(_ context.Context, call *models.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.ID = m.nextCallID
	m.nextCallID++
	cp := *call
	m.calls[call.ID] = &cp
	return nil
}

// UpdateCall implements Repository.
func (m *Memory) UpdateCall(_ context.Context, call *models.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[call.ID]; !ok {
		return ErrNotFound
	}
	cp := *call
	m.calls[call.ID] = &cp
	return nil
}

// InsertCallEvent implements Repository.
func (m *Memory) InsertCallEvent(_ context.Context, event *models.CallEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.nextEventID
	m.nextEventID++
	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

// EventsFor returns the audit rows recorded for a call, in insert order.
// Test helper; not part of the Repository port.
func (m *Memory) EventsFor(callID int) []*models.CallEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CallEvent
	for _, e := range m.events {
		if e.CallID == callID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// IncAgentPerformance implements Repository.
func (m *Memory) IncAgentPerformance(_ context.Context, agentID, campaignID int, day time.Time, d PerformanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := perfKey{agentID, campaignID, day.Format("2006-01-02")}
	p, ok := m.performance[k]
	if !ok {
		p = &models.AgentPerformance{
			ID:         len(m.performance) + 1,
			AgentID:    agentID,
			CampaignID: campaignID,
			Date:       day.Truncate(24 * time.Hour),
		}
		m.performance[k] = p
	}
	p.CallsMade += d.CallsMade
	p.CallsAnswered += d.CallsAnswered
	p.TotalTalkTime += d.TalkTime
	p.Conversions += d.Conversions
	return nil
}

// IncCampaignStatistics implements Repository.
func (m *Memory) IncCampaignStatistics(_ context.Context, campaignID int, day time.Time, d StatisticsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statKey{campaignID, day.Format("2006-01-02")}
	s, ok := m.statistics[k]
	if !ok {
		s = &models.CampaignStatistics{
			ID:         len(m.statistics) + 1,
			CampaignID: campaignID,
			Date:       day.Truncate(24 * time.Hour),
		}
		m.statistics[k] = s
	}
	s.TotalCalls += d.TotalCalls
	s.SuccessfulCalls += d.SuccessfulCalls
	s.FailedCalls += d.FailedCalls
	s.TotalDurationSeconds += d.DurationSeconds
	s.LeadsContacted += d.LeadsContacted
	s.Conversions += d.Conversions
	return nil
}

// CampaignStatisticsFor implements Repository.
func (m *Memory) CampaignStatisticsFor(_ context.Context, campaignID int, day time.Time) (*models.CampaignStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statistics[statKey{campaignID, day.Format("2006-01-02")}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// AgentPerformanceFor implements Repository.
func (m *Memory) AgentPerformanceFor(_ context.Context, agentID, campaignID int, day time.Time) (*models.AgentPerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.performance[perfKey{agentID, campaignID, day.Format("2006-01-02")}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}
