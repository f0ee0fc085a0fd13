package model

import "time"

// ScheduleType controls when a campaign fires.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleScheduled ScheduleType = "scheduled"
	ScheduleRecurring ScheduleType = "recurring"
)

// Frequency is the cadence of a recurring campaign.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// CampaignStatus values form the campaign state machine:
// draft -> scheduled -> sending -> {completed, completed_with_errors, failed}.
// A recurring campaign goes sending -> scheduled again with a new date.
type CampaignStatus string

const (
	CampaignDraft               CampaignStatus = "draft"
	CampaignScheduled           CampaignStatus = "scheduled"
	CampaignSending             CampaignStatus = "sending"
	CampaignCompleted           CampaignStatus = "completed"
	CampaignCompletedWithErrors CampaignStatus = "completed_with_errors"
	CampaignFailed              CampaignStatus = "failed"
	CampaignCancelled           CampaignStatus = "cancelled"
)

type Campaign struct {
	ID           int            `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Subject      string         `db:"subject" json:"subject"`
	BodyTemplate string         `db:"body_template" json:"body_template"`
	FromName     string         `db:"from_name" json:"from_name"`
	FromEmail    string         `db:"from_email" json:"from_email"`
	ScheduleType ScheduleType   `db:"schedule_type" json:"schedule_type"`
	ScheduleDate *time.Time     `db:"schedule_date" json:"schedule_date,omitempty"`
	Frequency    Frequency      `db:"frequency" json:"frequency"`
	Status       CampaignStatus `db:"status" json:"status"`
	SentCount    int            `db:"sent_count" json:"sent_count"`
	OpenedCount  int            `db:"opened_count" json:"opened_count"`
	ClickedCount int            `db:"clicked_count" json:"clicked_count"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Deletable reports whether the campaign may still be physically removed.
// Once sends exist the row is the audit trail for the delivery ledger.
func (c *Campaign) Deletable() bool {
	switch c.Status {
	case CampaignSending, CampaignCompleted, CampaignCompletedWithErrors:
		return false
	}
	return true
}
