package models

import "time"

// LeadStatus is the CRM status of a lead.
type LeadStatus string

// Lead status values.
const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusCallback   LeadStatus = "callback"
	LeadStatusInterested LeadStatus = "interested"
	LeadStatusContacted  LeadStatus = "contacted"
	LeadStatusDoNotCall  LeadStatus = "do_not_call"
	LeadStatusConverted  LeadStatus = "converted"
	LeadStatusInvalid    LeadStatus = "invalid"
)

// DialableLeadStatuses are the statuses the lead selector considers.
var DialableLeadStatuses = []LeadStatus{
	LeadStatusNew,
	LeadStatusCallback,
	LeadStatusInterested,
}

// Lead is a dialable contact belonging to a campaign. The engine stamps
// last_contacted when it originates a call; everything else is owned by the
// external CRM surface.
type Lead struct {
	ID          int        `json:"id"`
	CampaignID  int        `json:"campaign_id"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	PhoneNumber string     `json:"phone_number"`
	Status      LeadStatus `json:"status"`
	Priority    int        `json:"priority"` // higher = sooner

	LastContacted   *time.Time `json:"last_contacted,omitempty"`
	NextContactDate *time.Time `json:"next_contact_date,omitempty"`
}
