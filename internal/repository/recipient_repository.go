package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/mailpilot/crm-backend/internal/model"
)

// RecipientRepositoryInterface defines the reads the dispatch engine needs.
// Recipients are a shared pool across campaigns and treated as read-mostly.
type RecipientRepositoryInterface interface {
	GetByID(id int) (*model.Recipient, error)
	ListAll() ([]model.Recipient, error)
	ListByCampaign(campaignID int) ([]model.Recipient, error)
	ListByIDs(ids []int) ([]model.Recipient, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, email, name, company, campaign_id`

func (r *RecipientRepository) GetByID(id int) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id=$1`
	var rec model.Recipient
	err := r.DB.QueryRow(query, id).Scan(&rec.ID, &rec.Email, &rec.Name, &rec.Company, &rec.CampaignID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) ListAll() ([]model.Recipient, error) {
	return r.queryRecipients(`SELECT ` + recipientColumns + ` FROM recipients ORDER BY id`)
}

func (r *RecipientRepository) ListByCampaign(campaignID int) ([]model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE campaign_id=$1 ORDER BY id`
	return r.queryRecipients(query, campaignID)
}

func (r *RecipientRepository) ListByIDs(ids []int) ([]model.Recipient, error) {
	if len(ids) == 0 {
		return []model.Recipient{}, nil
	}
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = ANY($1) ORDER BY id`
	return r.queryRecipients(query, pq.Array(ids))
}

func (r *RecipientRepository) queryRecipients(query string, args ...any) ([]model.Recipient, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(&rec.ID, &rec.Email, &rec.Name, &rec.Company, &rec.CampaignID); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
