package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mailpilot/crm-backend/internal/model"
)

type LedgerRepositoryInterface interface {
	RecordOutcome(campaignID, recipientID int, email string, status model.LedgerStatus, errorMessage string) error
	GetStats(campaignID int) (*model.LedgerStats, error)
	GetByToken(token string) (*model.LedgerEntry, error)
	RecordOpen(token string) (campaignID int, first bool, err error)
	RecordClick(token, url string) (campaignID int, first bool, err error)
}

type LedgerRepository struct {
	DB *sql.DB
}

// RecordOutcome upserts the single outcome row for (campaign, recipient).
// A tracking token is assigned when the row is first created. For a given
// campaign at most one row per lowercased email may hold status "sent";
// an attempt to record a second "sent" for the same address is a no-op.
func (r *LedgerRepository) RecordOutcome(campaignID, recipientID int, email string, status model.LedgerStatus, errorMessage string) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if status == model.LedgerSent {
		var exists bool
		err := tx.QueryRow(`
            SELECT EXISTS (
                SELECT 1 FROM delivery_ledger
                WHERE campaign_id=$1 AND LOWER(email)=LOWER($2) AND status='sent' AND recipient_id<>$3
            )
        `, campaignID, email, recipientID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			// already delivered to this address under this campaign
			return tx.Commit()
		}
	}

	var sentAt *time.Time
	if status == model.LedgerSent {
		now := time.Now()
		sentAt = &now
	}

	_, err = tx.Exec(`
        INSERT INTO delivery_ledger (campaign_id, recipient_id, email, tracking_token, status, error_message, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (campaign_id, recipient_id) DO UPDATE
        SET status = CASE WHEN delivery_ledger.status = 'sent' THEN delivery_ledger.status ELSE EXCLUDED.status END,
            error_message = CASE WHEN delivery_ledger.status = 'sent' THEN delivery_ledger.error_message ELSE EXCLUDED.error_message END,
            sent_at = COALESCE(delivery_ledger.sent_at, EXCLUDED.sent_at)
    `, campaignID, recipientID, email, uuid.NewString(), status, errorMessage, sentAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *LedgerRepository) GetStats(campaignID int) (*model.LedgerStats, error) {
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status='sent'),
               COUNT(*) FILTER (WHERE status='failed'),
               COUNT(*) FILTER (WHERE opened_at IS NOT NULL)
        FROM delivery_ledger
        WHERE campaign_id=$1
    `
	var s model.LedgerStats
	err := r.DB.QueryRow(query, campaignID).Scan(&s.TotalSends, &s.SentCount, &s.FailedCount, &s.OpenedCount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *LedgerRepository) GetByToken(token string) (*model.LedgerEntry, error) {
	query := `
        SELECT id, campaign_id, recipient_id, email, tracking_token, status, error_message,
               sent_at, opened_at, clicked_at, open_count, click_count, created_at
        FROM delivery_ledger
        WHERE tracking_token=$1
    `
	var e model.LedgerEntry
	err := r.DB.QueryRow(query, token).Scan(
		&e.ID, &e.CampaignID, &e.RecipientID, &e.Email, &e.TrackingToken, &e.Status, &e.ErrorMessage,
		&e.SentAt, &e.OpenedAt, &e.ClickedAt, &e.OpenCount, &e.ClickCount, &e.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// RecordOpen bumps the open counter for the entry behind the token and
// stamps opened_at on the first open. first reports whether this was the
// first open, so the caller can bump the campaign-level unique counter.
func (r *LedgerRepository) RecordOpen(token string) (int, bool, error) {
	var campaignID int
	var openCount int
	err := r.DB.QueryRow(`
        UPDATE delivery_ledger
        SET open_count = open_count + 1,
            opened_at = COALESCE(opened_at, NOW())
        WHERE tracking_token=$1
        RETURNING campaign_id, open_count
    `, token).Scan(&campaignID, &openCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return campaignID, openCount == 1, nil
}

func (r *LedgerRepository) RecordClick(token, url string) (int, bool, error) {
	var campaignID int
	var clickCount int
	err := r.DB.QueryRow(`
        UPDATE delivery_ledger
        SET click_count = click_count + 1,
            clicked_at = COALESCE(clicked_at, NOW())
        WHERE tracking_token=$1
        RETURNING campaign_id, click_count
    `, token).Scan(&campaignID, &clickCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return campaignID, clickCount == 1, nil
}

var _ LedgerRepositoryInterface = (*LedgerRepository)(nil)
