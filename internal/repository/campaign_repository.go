package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/mailpilot/crm-backend/internal/errors"
	"github.com/mailpilot/crm-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
	ListDue(now time.Time) ([]*model.Campaign, error)
	ListScheduled() ([]*model.Campaign, error)
	UpdateStatus(campaignID int, status model.CampaignStatus) error
	ClaimStatus(campaignID int, from, to model.CampaignStatus) (bool, error)
	UpdateSchedule(campaignID int, scheduleType model.ScheduleType, scheduleDate *time.Time, frequency model.Frequency, status model.CampaignStatus) error
	AddSent(campaignID, delta int) error
	IncrementOpened(campaignID int) error
	IncrementClicked(campaignID int) error
	Delete(campaignID int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, subject, body_template, from_name, from_email,
	schedule_type, schedule_date, frequency, status,
	sent_count, opened_count, clicked_count, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.BodyTemplate, &c.FromName, &c.FromEmail,
		&c.ScheduleType, &c.ScheduleDate, &c.Frequency, &c.Status,
		&c.SentCount, &c.OpenedCount, &c.ClickedCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.ScheduleType == "" {
		c.ScheduleType = model.ScheduleImmediate
	}
	if c.Frequency == "" {
		c.Frequency = model.FrequencyOnce
	}
	query := `
        INSERT INTO campaigns (name, subject, body_template, from_name, from_email,
            schedule_type, schedule_date, frequency, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		c.Name, c.Subject, c.BodyTemplate, c.FromName, c.FromEmail,
		c.ScheduleType, c.ScheduleDate, c.Frequency, c.Status, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []any{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListDue returns scheduled campaigns whose schedule_date has passed.
func (r *CampaignRepository) ListDue(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status=$1 AND schedule_date IS NOT NULL AND schedule_date <= $2
        ORDER BY schedule_date ASC`
	return r.queryCampaigns(query, model.CampaignScheduled, now)
}

func (r *CampaignRepository) ListScheduled() ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status=$1
        ORDER BY schedule_date ASC NULLS LAST`
	return r.queryCampaigns(query, model.CampaignScheduled)
}

func (r *CampaignRepository) queryCampaigns(query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, status, campaignID)
	return err
}

// ClaimStatus transitions the campaign status only if it still has the
// expected prior value. Overlapping scheduler runs race on this update;
// the loser sees zero rows and skips the campaign.
func (r *CampaignRepository) ClaimStatus(campaignID int, from, to model.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := r.DB.Exec(query, to, campaignID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) UpdateSchedule(campaignID int, scheduleType model.ScheduleType, scheduleDate *time.Time, frequency model.Frequency, status model.CampaignStatus) error {
	query := `
        UPDATE campaigns
        SET schedule_type=$1, schedule_date=$2, frequency=$3, status=$4, updated_at=NOW()
        WHERE id=$5
    `
	_, err := r.DB.Exec(query, scheduleType, scheduleDate, frequency, status, campaignID)
	return err
}

func (r *CampaignRepository) AddSent(campaignID, delta int) error {
	query := `UPDATE campaigns SET sent_count=sent_count+$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, delta, campaignID)
	return err
}

func (r *CampaignRepository) IncrementOpened(campaignID int) error {
	query := `UPDATE campaigns SET opened_count=opened_count+1, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.Exec(query, campaignID)
	return err
}

func (r *CampaignRepository) IncrementClicked(campaignID int) error {
	query := `UPDATE campaigns SET clicked_count=clicked_count+1, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.Exec(query, campaignID)
	return err
}

func (r *CampaignRepository) Delete(campaignID int) error {
	_, err := r.DB.Exec(`DELETE FROM campaigns WHERE id=$1`, campaignID)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
