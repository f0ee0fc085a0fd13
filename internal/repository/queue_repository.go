package repository

import (
	"database/sql"
	"time"

	"github.com/mailpilot/crm-backend/internal/model"
)

type QueueRepositoryInterface interface {
	Insert(item *model.QueueItem) error
	GetByID(id int) (*model.QueueItem, error)
	SelectDrainable(limit int) ([]*model.QueueItem, error)
	Claim(id int, from, to model.QueueStatus) (bool, error)
	MarkSent(id int) error
	MarkFailed(id int, errorMessage string) error
	RetryFailed() (int, error)
}

type QueueRepository struct {
	DB *sql.DB
}

const queueColumns = `id, to_email, to_name, from_name, from_email, subject, body,
	priority, attempts, status, last_attempt, sent_at, error_message, created_at`

func (r *QueueRepository) Insert(item *model.QueueItem) error {
	item.CreatedAt = time.Now()
	if item.Status == "" {
		item.Status = model.QueuePending
	}
	query := `
        INSERT INTO mail_queue (to_email, to_name, from_name, from_email, subject, body, priority, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		item.ToEmail, item.ToName, item.FromName, item.FromEmail,
		item.Subject, item.Body, item.Priority, item.Status, item.CreatedAt,
	).Scan(&item.ID)
}

func (r *QueueRepository) GetByID(id int) (*model.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM mail_queue WHERE id=$1`
	item, err := scanQueueItem(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// SelectDrainable returns items still eligible for delivery, most urgent
// first: higher priority wins, then oldest.
func (r *QueueRepository) SelectDrainable(limit int) ([]*model.QueueItem, error) {
	query := `
        SELECT ` + queueColumns + `
        FROM mail_queue
        WHERE status IN ('pending', 'failed') AND attempts < $1
        ORDER BY priority DESC, created_at ASC
        LIMIT $2
    `
	rows, err := r.DB.Query(query, model.MaxQueueAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*model.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(row interface{ Scan(...any) error }) (*model.QueueItem, error) {
	var item model.QueueItem
	err := row.Scan(
		&item.ID, &item.ToEmail, &item.ToName, &item.FromName, &item.FromEmail,
		&item.Subject, &item.Body, &item.Priority, &item.Attempts, &item.Status,
		&item.LastAttempt, &item.SentAt, &item.ErrorMessage, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Claim conditionally moves an item between statuses so two overlapping
// drains never deliver the same item.
func (r *QueueRepository) Claim(id int, from, to model.QueueStatus) (bool, error) {
	res, err := r.DB.Exec(`UPDATE mail_queue SET status=$1 WHERE id=$2 AND status=$3`, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepository) MarkSent(id int) error {
	query := `
        UPDATE mail_queue
        SET status='sent', sent_at=NOW(), last_attempt=NOW(), error_message=''
        WHERE id=$1
    `
	_, err := r.DB.Exec(query, id)
	return err
}

func (r *QueueRepository) MarkFailed(id int, errorMessage string) error {
	query := `
        UPDATE mail_queue
        SET status='failed', attempts=attempts+1, last_attempt=NOW(), error_message=$1
        WHERE id=$2
    `
	_, err := r.DB.Exec(query, errorMessage, id)
	return err
}

// RetryFailed re-arms failed items that have attempts left. Attempt
// counts are preserved: an exhausted item stays exhausted.
func (r *QueueRepository) RetryFailed() (int, error) {
	res, err := r.DB.Exec(`
        UPDATE mail_queue
        SET status='pending'
        WHERE status='failed' AND attempts < $1
    `, model.MaxQueueAttempts)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ QueueRepositoryInterface = (*QueueRepository)(nil)
