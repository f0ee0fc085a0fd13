package model

import "time"

type LedgerStatus string

const (
	LedgerPending LedgerStatus = "pending"
	LedgerSent    LedgerStatus = "sent"
	LedgerFailed  LedgerStatus = "failed"
)

// LedgerEntry is the durable record of one send outcome per
// (campaign, recipient) pair. The email is snapshotted at write time so
// later edits to the recipient row do not rewrite history. At most one
// entry per campaign and lowercased email ever reaches status "sent".
type LedgerEntry struct {
	ID            int          `db:"id" json:"id"`
	CampaignID    int          `db:"campaign_id" json:"campaign_id"`
	RecipientID   int          `db:"recipient_id" json:"recipient_id"`
	Email         string       `db:"email" json:"email"`
	TrackingToken string       `db:"tracking_token" json:"tracking_token"`
	Status        LedgerStatus `db:"status" json:"status"`
	ErrorMessage  string       `db:"error_message" json:"error_message,omitempty"`
	SentAt        *time.Time   `db:"sent_at" json:"sent_at,omitempty"`
	OpenedAt      *time.Time   `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt     *time.Time   `db:"clicked_at" json:"clicked_at,omitempty"`
	OpenCount     int          `db:"open_count" json:"open_count"`
	ClickCount    int          `db:"click_count" json:"click_count"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// LedgerStats aggregates outcomes for one campaign.
type LedgerStats struct {
	TotalSends  int `json:"total_sends"`
	SentCount   int `json:"sent_count"`
	FailedCount int `json:"failed_count"`
	OpenedCount int `json:"opened_count"`
}
