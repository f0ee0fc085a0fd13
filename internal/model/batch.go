package model

import "time"

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// Batch is a fixed-size partition of deduplicated recipients for one
// campaign. TotalRecipients is frozen at creation; sent/failed counters
// never exceed it.
type Batch struct {
	ID              int         `db:"id" json:"id"`
	CampaignID      int         `db:"campaign_id" json:"campaign_id"`
	BatchNumber     int         `db:"batch_number" json:"batch_number"`
	TotalRecipients int         `db:"total_recipients" json:"total_recipients"`
	SentCount       int         `db:"sent_count" json:"sent_count"`
	FailedCount     int         `db:"failed_count" json:"failed_count"`
	Status          BatchStatus `db:"status" json:"status"`
	StartedAt       *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// BatchStats aggregates batch progress for one campaign.
type BatchStats struct {
	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	TotalRecipients  int `json:"total_recipients"`
	TotalSent        int `json:"total_sent"`
	TotalFailed      int `json:"total_failed"`
}
