package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/models"
)

// Postgres implements Repository over a database/sql pool backed by the pgx
// driver (see pkg/database).
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres repository over an existing pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const campaignColumns = `id, name, status, dialer_mode, max_attempts,
	retry_delay_minutes, predictive_ratio, turbo_delay_seconds,
	start_date, end_date,
	COALESCE(daily_start_time, ''), COALESCE(daily_end_time, ''), timezone`

func scanCampaign(row *sql.Row) (*models.Campaign, error) {
	var c models.Campaign
	var ratio float64
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.DialerMode, &c.MaxAttempts,
		&c.RetryDelayMinutes, &ratio, &c.TurboDelaySeconds,
		&c.StartDate, &c.EndDate,
		&c.DailyStartTime, &c.DailyEndTime, &c.Timezone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	c.PredictiveRatio = models.RatioFromFloat(ratio)
	return &c, nil
}

// CampaignByID fetches one campaign.
func (p *Postgres) CampaignByID(ctx context.Context, id int) (*models.Campaign, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// AssignmentsOf returns the agent pool assigned to a campaign.
func (p *Postgres) AssignmentsOf(ctx context.Context, campaignID int) ([]models.CampaignAssignment, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, campaign_id, agent_id, assigned_at
		 FROM campaign_assignments WHERE campaign_id = $1 ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	var out []models.CampaignAssignment
	for rows.Next() {
		var a models.CampaignAssignment
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.AgentID, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LeadsForSelection returns dialable leads in selection order. The ordering
// is pushed into SQL so the selector only has to apply the attempt-cap and
// cooldown filters on top.
func (p *Postgres) LeadsForSelection(ctx context.Context, campaignID int, statuses []models.LeadStatus, limit int) ([]*models.Lead, error) {
	// database/sql has no array bind; build the IN list placeholders.
	args := []any{campaignID}
	placeholders := ""
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(s))
	}
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, campaign_id, COALESCE(first_name, ''), COALESCE(last_name, ''),
		        phone_number, status, priority, last_contacted, next_contact_date
		 FROM leads
		 WHERE campaign_id = $1
		   AND status IN (`+placeholders+`)
		   AND phone_number <> ''
		 ORDER BY priority DESC,
		          next_contact_date ASC NULLS LAST,
		          last_contacted ASC NULLS FIRST,
		          id ASC
		 LIMIT $`+fmt.Sprint(len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying leads: %w", err)
	}
	defer rows.Close()

	var out []*models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.FirstName, &l.LastName,
			&l.PhoneNumber, &l.Status, &l.Priority, &l.LastContacted, &l.NextContactDate); err != nil {
			return nil, fmt.Errorf("scanning lead: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// LeadByID fetches one lead.
func (p *Postgres) LeadByID(ctx context.Context, id int) (*models.Lead, error) {
	var l models.Lead
	err := p.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, COALESCE(first_name, ''), COALESCE(last_name, ''),
		        phone_number, status, priority, last_contacted, next_contact_date
		 FROM leads WHERE id = $1`, id).
		Scan(&l.ID, &l.CampaignID, &l.FirstName, &l.LastName,
			&l.PhoneNumber, &l.Status, &l.Priority, &l.LastContacted, &l.NextContactDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning lead: %w", err)
	}
	return &l, nil
}

// UpdateLeadContacted stamps a lead's last_contacted.
func (p *Postgres) UpdateLeadContacted(ctx context.Context, leadID int, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE leads SET last_contacted = $2, updated_at = now() WHERE id = $1`, leadID, at)
	if err != nil {
		return fmt.Errorf("updating lead contacted: %w", err)
	}
	return nil
}

const callColumns = `id, lead_id, campaign_id, COALESCE(agent_id, 0), phone_number,
	call_direction, call_status, COALESCE(call_outcome, ''),
	started_at, answered_at, ended_at, duration_seconds,
	COALESCE(disposition_code, ''), COALESCE(notes, '')`

func scanCall(s interface{ Scan(...any) error }) (*models.Call, error) {
	var c models.Call
	err := s.Scan(&c.ID, &c.LeadID, &c.CampaignID, &c.AgentID, &c.PhoneNumber,
		&c.Direction, &c.Status, &c.Outcome,
		&c.StartedAt, &c.AnsweredAt, &c.EndedAt, &c.DurationSeconds,
		&c.DispositionCode, &c.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}

// CallByID fetches one call.
func (p *Postgres) CallByID(ctx context.Context, id int) (*models.Call, error) {
	return scanCall(p.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
}

// CallCount returns the number of calls ever placed to a lead.
func (p *Postgres) CallCount(ctx context.Context, leadID int) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM calls WHERE lead_id = $1`, leadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting calls: %w", err)
	}
	return n, nil
}

// LatestCall returns the most recent call to a lead, or ErrNotFound.
func (p *Postgres) LatestCall(ctx context.Context, leadID int) (*models.Call, error) {
	return scanCall(p.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE lead_id = $1 ORDER BY started_at DESC, id DESC LIMIT 1`, leadID))
}

// RecentCalls returns up to limit calls for a campaign started at or after
// since, newest first.
func (p *Postgres) RecentCalls(ctx context.Context, campaignID int, since time.Time, limit int) ([]*models.Call, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE campaign_id = $1 AND started_at >= $2
		 ORDER BY started_at DESC, id DESC LIMIT $3`,
		campaignID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent calls: %w", err)
	}
	defer rows.Close()

	var out []*models.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCall persists a new call and sets call.ID.
func (p *Postgres) InsertCall(ctx context.Context, call *models.Call) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO calls (lead_id, campaign_id, agent_id, phone_number,
		        call_direction, call_status, started_at, duration_seconds)
		 VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, 0)
		 RETURNING id`,
		call.LeadID, call.CampaignID, call.AgentID, call.PhoneNumber,
		call.Direction, call.Status, call.StartedAt).
		Scan(&call.ID)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// UpdateCall writes the mutable call fields back.
func (p *Postgres) UpdateCall(ctx context.Context, call *models.Call) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE calls SET call_status = $2, call_outcome = NULLIF($3, ''),
		        answered_at = $4, ended_at = $5, duration_seconds = $6,
		        disposition_code = NULLIF($7, ''), notes = NULLIF($8, '')
		 WHERE id = $1`,
		call.ID, call.Status, call.Outcome,
		call.AnsweredAt, call.EndedAt, call.DurationSeconds,
		call.DispositionCode, call.Notes)
	if err != nil {
		return fmt.Errorf("updating call: %w", err)
	}
	return nil
}

// InsertCallEvent appends one audit-log row.
func (p *Postgres) InsertCallEvent(ctx context.Context, event *models.CallEvent) error {
	var payload any
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encoding event payload: %w", err)
		}
		payload = string(data)
	}

	err := p.db.QueryRowContext(ctx,
		`INSERT INTO call_events (call_id, event_type, event_data, timestamp)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		event.CallID, event.EventType, payload, event.Timestamp).
		Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("inserting call event: %w", err)
	}
	return nil
}

// IncAgentPerformance upserts and increments an agent's daily rollup.
func (p *Postgres) IncAgentPerformance(ctx context.Context, agentID, campaignID int, day time.Time, d PerformanceDelta) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO agent_performance
		        (agent_id, campaign_id, date, calls_made, calls_answered, total_talk_time, conversions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agent_id, campaign_id, date) DO UPDATE SET
		        calls_made      = agent_performance.calls_made + EXCLUDED.calls_made,
		        calls_answered  = agent_performance.calls_answered + EXCLUDED.calls_answered,
		        total_talk_time = agent_performance.total_talk_time + EXCLUDED.total_talk_time,
		        conversions     = agent_performance.conversions + EXCLUDED.conversions`,
		agentID, campaignID, day.Format("2006-01-02"),
		d.CallsMade, d.CallsAnswered, d.TalkTime, d.Conversions)
	if err != nil {
		return fmt.Errorf("incrementing agent performance: %w", err)
	}
	return nil
}

// IncCampaignStatistics upserts and increments a campaign's daily rollup.
func (p *Postgres) IncCampaignStatistics(ctx context.Context, campaignID int, day time.Time, d StatisticsDelta) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO campaign_statistics
		        (campaign_id, date, total_calls, successful_calls, failed_calls,
		         total_duration_seconds, leads_contacted, conversions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (campaign_id, date) DO UPDATE SET
		        total_calls            = campaign_statistics.total_calls + EXCLUDED.total_calls,
		        successful_calls       = campaign_statistics.successful_calls + EXCLUDED.successful_calls,
		        failed_calls           = campaign_statistics.failed_calls + EXCLUDED.failed_calls,
		        total_duration_seconds = campaign_statistics.total_duration_seconds + EXCLUDED.total_duration_seconds,
		        leads_contacted        = campaign_statistics.leads_contacted + EXCLUDED.leads_contacted,
		        conversions            = campaign_statistics.conversions + EXCLUDED.conversions`,
		campaignID, day.Format("2006-01-02"),
		d.TotalCalls, d.SuccessfulCalls, d.FailedCalls,
		d.DurationSeconds, d.LeadsContacted, d.Conversions)
	if err != nil {
		return fmt.Errorf("incrementing campaign statistics: %w", err)
	}
	return nil
}

// CampaignStatisticsFor fetches one day's campaign rollup, or ErrNotFound.
func (p *Postgres) CampaignStatisticsFor(ctx context.Context, campaignID int, day time.Time) (*models.CampaignStatistics, error) {
	var s models.CampaignStatistics
	err := p.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, date, total_calls, successful_calls, failed_calls,
		        total_duration_seconds, leads_contacted, conversions
		 FROM campaign_statistics WHERE campaign_id = $1 AND date = $2`,
		campaignID, day.Format("2006-01-02")).
		Scan(&s.ID, &s.CampaignID, &s.Date, &s.TotalCalls, &s.SuccessfulCalls,
			&s.FailedCalls, &s.TotalDurationSeconds, &s.LeadsContacted, &s.Conversions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning campaign statistics: %w", err)
	}
	return &s, nil
}

// AgentPerformanceFor fetches one day's agent rollup, or ErrNotFound.
func (p *Postgres) AgentPerformanceFor(ctx context.Context, agentID, campaignID int, day time.Time) (*models.AgentPerformance, error) {
	var a models.AgentPerformance
	err := p.db.QueryRowContext(ctx,
		`SELECT id, agent_id, campaign_id, date, calls_made, calls_answered,
		        total_talk_time, conversions
		 FROM agent_performance WHERE agent_id = $1 AND campaign_id = $2 AND date = $3`,
		agentID, campaignID, day.Format("2006-01-02")).
		Scan(&a.ID, &a.AgentID, &a.CampaignID, &a.Date, &a.CallsMade,
			&a.CallsAnswered, &a.TotalTalkTime, &a.Conversions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning agent performance: %w", err)
	}
	return &a, nil
}
