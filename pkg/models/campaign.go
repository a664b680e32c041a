package models

import (
	"time"
)

// CampaignStatus is the administrative status of a campaign.
type CampaignStatus string

// Campaign status values.
const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// DialerMode selects the pacing strategy for a campaign.
type DialerMode string

// Dialer modes.
const (
	DialerModeManual     DialerMode = "manual"
	DialerModeTurbo      DialerMode = "turbo"
	DialerModePredictive DialerMode = "predictive"
)

// Valid reports whether m is one of the known dialer modes.
func (m DialerMode) Valid() bool {
	switch m {
	case DialerModeManual, DialerModeTurbo, DialerModePredictive:
		return true
	}
	return false
}

// Ratio is a fixed-point decimal in hundredths (1.20 → 120). The pacing
// ratio is stored and compared in this representation; it is converted to
// float64 only at the calls-needed computation.
type Ratio int32

// RatioFromFloat converts a float pacing ratio to fixed-point hundredths.
func RatioFromFloat(f float64) Ratio {
	return Ratio(f*100 + 0.5)
}

// Float64 returns the ratio as a floating-point multiplier.
func (r Ratio) Float64() float64 {
	return float64(r) / 100
}

// Campaign holds a campaign's pacing configuration. Rows are owned by the
// external CRUD surface; the engine only reads them.
type Campaign struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Status      CampaignStatus `json:"status"`
	DialerMode  DialerMode     `json:"dialer_mode"`
	MaxAttempts int            `json:"max_attempts"`

	RetryDelayMinutes int   `json:"retry_delay_minutes"`
	PredictiveRatio   Ratio `json:"predictive_ratio"`
	TurboDelaySeconds int   `json:"turbo_delay_seconds"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Daily dialing window, as "HH:MM" clock times in Timezone.
	// Empty strings mean no window restriction.
	DailyStartTime string `json:"daily_start_time,omitempty"`
	DailyEndTime   string `json:"daily_end_time,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// RetryDelay returns the lead retry cooldown as a duration.
func (c *Campaign) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes) * time.Minute
}

// TurboDelay returns the turbo pacing delay as a duration.
func (c *Campaign) TurboDelay() time.Duration {
	return time.Duration(c.TurboDelaySeconds) * time.Second
}

// InDailyWindow reports whether now falls inside the campaign's daily
// dialing window, evaluated in the campaign's timezone. A campaign with no
// window configured is always dialable. Malformed window values fail open
// so a bad row doesn't silently stall a campaign.
func (c *Campaign) InDailyWindow(now time.Time) bool {
	if c.DailyStartTime == "" || c.DailyEndTime == "" {
		return true
	}

	loc := time.UTC
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	start, err1 := time.ParseInLocation("15:04", c.DailyStartTime, loc)
	end, err2 := time.ParseInLocation("15:04", c.DailyEndTime, loc)
	if err1 != nil || err2 != nil {
		return true
	}

	minutes := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	// Window crosses midnight (e.g. 20:00–06:00).
	return minutes >= startMin || minutes < endMin
}

// CampaignAssignment links an agent to a campaign's dialable pool.
// (campaign, agent) pairs are unique.
type CampaignAssignment struct {
	ID         int       `json:"id"`
	CampaignID int       `json:"campaign_id"`
	AgentID    int       `json:"agent_id"`
	AssignedAt time.Time `json:"assigned_at"`
}
