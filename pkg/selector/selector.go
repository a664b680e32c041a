// Package selector implements the lead-selection policy: which lead a
// campaign dials next, honoring per-lead attempt caps and retry cooldown.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
)

// candidateLimit bounds how many ordered candidates are pulled per
// selection before the attempt-cap and cooldown filters run. Campaigns with
// more than this many leads simultaneously in cooldown will pick them up on
// a later tick.
const candidateLimit = 50

// Selector picks the next eligible lead for a campaign.
type Selector struct {
	repo repository.Repository
	now  func() time.Time
}

// New creates a selector over the given repository.
func New(repo repository.Repository) *Selector {
	return &Selector{repo: repo, now: time.Now}
}

// WithClock overrides the selector's clock. Test hook.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// NextLead returns the next eligible lead for the campaign, or (nil, nil)
// when no lead qualifies.
//
// Candidates are leads with a dialable status and a phone number, ordered
// by (priority desc, next_contact_date asc nulls last, last_contacted asc
// nulls first, id asc). A candidate survives if its call count is below the
// campaign's attempt cap and, when it has been called before, its latest
// call started at least retry_delay_minutes ago.
func (s *Selector) NextLead(ctx context.Context, campaign *models.Campaign) (*models.Lead, error) {
	leads, err := s.repo.LeadsForSelection(ctx, campaign.ID, models.DialableLeadStatuses, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("loading selection candidates: %w", err)
	}

	now := s.now()
	for _, lead := range leads {
		count, err := s.repo.CallCount(ctx, lead.ID)
		if err != nil {
			return nil, fmt.Errorf("counting calls for lead %d: %w", lead.ID, err)
		}
		if count >= campaign.MaxAttempts {
			continue
		}
		if count > 0 {
			latest, err := s.repo.LatestCall(ctx, lead.ID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					// Count said calls exist but the latest vanished;
					// treat the lead as freshly dialable.
					return lead, nil
				}
				return nil, fmt.Errorf("loading latest call for lead %d: %w", lead.ID, err)
			}
			if now.Sub(latest.StartedAt) < campaign.RetryDelay() {
				continue
			}
		}
		return lead, nil
	}
	return nil, nil
}
