// Package repository defines the narrow persistence port the dialer engine
// consumes, plus its Postgres and in-memory implementations. The engine,
// selector, and reconciler depend only on the Repository interface so they
// are testable without a database.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// PerformanceDelta is an increment applied to an agent's daily rollup.
type PerformanceDelta struct {
	CallsMade     int
	CallsAnswered int
	TalkTime      int // seconds
	Conversions   int
}

// StatisticsDelta is an increment applied to a campaign's daily rollup.
type StatisticsDelta struct {
	TotalCalls      int
	SuccessfulCalls int
	FailedCalls     int
	DurationSeconds int
	LeadsContacted  int
	Conversions     int
}

// Repository is the persistence port consumed by the engine. Each method is
// a single transaction.
type Repository interface {
	CampaignByID(ctx context.Context, id int) (*models.Campaign, error)
	AssignmentsOf(ctx context.Context, campaignID int) ([]models.CampaignAssignment, error)

	// LeadsForSelection returns up to limit leads in the campaign with one
	// of the given statuses and a non-empty phone number, ordered by
	// (priority desc, next_contact_date asc nulls last,
	// last_contacted asc nulls first, id asc).
	LeadsForSelection(ctx context.Context, campaignID int, statuses []models.LeadStatus, limit int) ([]*models.Lead, error)
	LeadByID(ctx context.Context, id int) (*models.Lead, error)
	UpdateLeadContacted(ctx context.Context, leadID int, at time.Time) error

	CallByID(ctx context.Context, id int) (*models.Call, error)
	CallCount(ctx context.Context, leadID int) (int, error)
	LatestCall(ctx context.Context, leadID int) (*models.Call, error)
	RecentCalls(ctx context.Context, campaignID int, since time.Time, limit int) ([]*models.Call, error)
	InsertCall(ctx context.Context, call *models.Call) error
	UpdateCall(ctx context.Context, call *models.Call) error

	InsertCallEvent(ctx context.Context, event *models.CallEvent) error

	IncAgentPerformance(ctx context.Context, agentID, campaignID int, day time.Time, d PerformanceDelta) error
	IncCampaignStatistics(ctx context.Context, campaignID int, day time.Time, d StatisticsDelta) error
	CampaignStatisticsFor(ctx context.Context, campaignID int, day time.Time) (*models.CampaignStatistics, error)
	AgentPerformanceFor(ctx context.Context, agentID, campaignID int, day time.Time) (*models.AgentPerformance, error)
}
