package model

import "time"

type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSending QueueStatus = "sending"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
)

// MaxQueueAttempts bounds delivery attempts per queue item. An item that
// fails this many times stays failed until an operator retries it.
const MaxQueueAttempts = 3

// QueueItem is an ad-hoc outbound email in the retry queue. It has no
// campaign or ledger linkage.
type QueueItem struct {
	ID           int         `db:"id" json:"id"`
	ToEmail      string      `db:"to_email" json:"to_email"`
	ToName       string      `db:"to_name" json:"to_name"`
	FromName     string      `db:"from_name" json:"from_name"`
	FromEmail    string      `db:"from_email" json:"from_email"`
	Subject      string      `db:"subject" json:"subject"`
	Body         string      `db:"body" json:"body"`
	Priority     int         `db:"priority" json:"priority"`
	Attempts     int         `db:"attempts" json:"attempts"`
	Status       QueueStatus `db:"status" json:"status"`
	LastAttempt  *time.Time  `db:"last_attempt" json:"last_attempt,omitempty"`
	SentAt       *time.Time  `db:"sent_at" json:"sent_at,omitempty"`
	ErrorMessage string      `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// CanRetry reports whether the item is still eligible for another attempt.
func (q *QueueItem) CanRetry() bool {
	return q.Status == QueueFailed && q.Attempts < MaxQueueAttempts
}
