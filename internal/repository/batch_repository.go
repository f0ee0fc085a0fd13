package repository

import (
	"database/sql"
	"time"

	"github.com/mailpilot/crm-backend/internal/model"
)

type BatchRepositoryInterface interface {
	CreateBatch(campaignID, batchNumber int, recipientIDs []int) (*model.Batch, error)
	ListByCampaign(campaignID int) ([]*model.Batch, error)
	ListMemberIDs(batchID int) ([]int, error)
	ClaimBatch(batchID int, from, to model.BatchStatus) (bool, error)
	FinishBatch(batchID, sentCount, failedCount int) error
	ResetBatches(campaignID int) error
	DeleteByCampaign(campaignID int) error
	Stats(campaignID int) (*model.BatchStats, error)
}

type BatchRepository struct {
	DB *sql.DB
}

// CreateBatch inserts one batch plus its membership rows in a single
// transaction, so a chunk is either fully persisted or not at all.
func (r *BatchRepository) CreateBatch(campaignID, batchNumber int, recipientIDs []int) (*model.Batch, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	batch := &model.Batch{
		CampaignID:      campaignID,
		BatchNumber:     batchNumber,
		TotalRecipients: len(recipientIDs),
		Status:          model.BatchPending,
	}
	err = tx.QueryRow(`
        INSERT INTO batches (campaign_id, batch_number, total_recipients, status)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `, campaignID, batchNumber, len(recipientIDs), model.BatchPending).Scan(&batch.ID)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.Prepare(`INSERT INTO batch_members (batch_id, recipient_id) VALUES ($1, $2)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, recipientID := range recipientIDs {
		if _, err := stmt.Exec(batch.ID, recipientID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *BatchRepository) ListByCampaign(campaignID int) ([]*model.Batch, error) {
	query := `
        SELECT id, campaign_id, batch_number, total_recipients, sent_count, failed_count, status, started_at, completed_at
        FROM batches
        WHERE campaign_id=$1
        ORDER BY batch_number ASC
    `
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []*model.Batch{}
	for rows.Next() {
		b := &model.Batch{}
		err := rows.Scan(&b.ID, &b.CampaignID, &b.BatchNumber, &b.TotalRecipients,
			&b.SentCount, &b.FailedCount, &b.Status, &b.StartedAt, &b.CompletedAt)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *BatchRepository) ListMemberIDs(batchID int) ([]int, error) {
	rows, err := r.DB.Query(`SELECT recipient_id FROM batch_members WHERE batch_id=$1 ORDER BY recipient_id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimBatch is the conditional pending->processing transition. It also
// stamps started_at on the first successful claim.
func (r *BatchRepository) ClaimBatch(batchID int, from, to model.BatchStatus) (bool, error) {
	query := `
        UPDATE batches
        SET status=$1, started_at=COALESCE(started_at, NOW())
        WHERE id=$2 AND status=$3
    `
	res, err := r.DB.Exec(query, to, batchID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *BatchRepository) FinishBatch(batchID, sentCount, failedCount int) error {
	query := `
        UPDATE batches
        SET sent_count=$1, failed_count=$2, status=$3, completed_at=$4
        WHERE id=$5
    `
	_, err := r.DB.Exec(query, sentCount, failedCount, model.BatchCompleted, time.Now(), batchID)
	return err
}

// ResetBatches re-arms every batch of a campaign for another run:
// membership stays, statuses go back to pending and the counters and
// timestamps are cleared. Used between occurrences of a recurring
// campaign.
func (r *BatchRepository) ResetBatches(campaignID int) error {
	query := `
        UPDATE batches
        SET status=$1, sent_count=0, failed_count=0, started_at=NULL, completed_at=NULL
        WHERE campaign_id=$2
    `
	_, err := r.DB.Exec(query, model.BatchPending, campaignID)
	return err
}

// DeleteByCampaign clears prior batches so a caller can re-partition.
// Membership rows cascade.
func (r *BatchRepository) DeleteByCampaign(campaignID int) error {
	_, err := r.DB.Exec(`DELETE FROM batches WHERE campaign_id=$1`, campaignID)
	return err
}

func (r *BatchRepository) Stats(campaignID int) (*model.BatchStats, error) {
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status='completed'),
               COALESCE(SUM(total_recipients), 0),
               COALESCE(SUM(sent_count), 0),
               COALESCE(SUM(failed_count), 0)
        FROM batches
        WHERE campaign_id=$1
    `
	var s model.BatchStats
	err := r.DB.QueryRow(query, campaignID).Scan(
		&s.TotalBatches, &s.CompletedBatches, &s.TotalRecipients, &s.TotalSent, &s.TotalFailed,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var _ BatchRepositoryInterface = (*BatchRepository)(nil)
