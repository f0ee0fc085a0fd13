package service

import (
	"fmt"
	"log/slog"
	"time"

	appErrors "github.com/mailpilot/crm-backend/internal/errors"
	"github.com/mailpilot/crm-backend/internal/model"
	"github.com/mailpilot/crm-backend/internal/repository"
)

// CampaignService covers the CRUD surface around the dispatch engine:
// create/list/detail/delete plus preview rendering and the tracking
// counter callbacks.
type CampaignService struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Batches    repository.BatchRepositoryInterface
	Ledger     repository.LedgerRepositoryInterface
	Log        *slog.Logger
}

type CampaignDetails struct {
	Campaign *model.Campaign    `json:"campaign"`
	Stats    *model.LedgerStats `json:"stats"`
	Batches  *model.BatchStats  `json:"batches"`
}

type CreateCampaignRequest struct {
	Name         string `json:"name"`
	Subject      string `json:"subject"`
	BodyTemplate string `json:"body_template"`
	FromName     string `json:"from_name"`
	FromEmail    string `json:"from_email"`
}

func (s *CampaignService) CreateCampaign(req CreateCampaignRequest) (*model.Campaign, error) {
	if req.Name == "" {
		return nil, appErrors.NewValidation("campaign name is required")
	}
	if req.FromEmail == "" {
		return nil, appErrors.NewValidation("sender email is required")
	}

	c := &model.Campaign{
		Name:         req.Name,
		Subject:      req.Subject,
		BodyTemplate: req.BodyTemplate,
		FromName:     req.FromName,
		FromEmail:    req.FromEmail,
		Status:       model.CampaignDraft,
	}
	if err := s.Campaigns.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination.
func (s *CampaignService) ListCampaigns(page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.Campaigns.ListCampaigns(offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetails(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Ledger.GetStats(campaignID)
	if err != nil {
		return nil, err
	}
	batchStats, err := s.Batches.Stats(campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats, Batches: batchStats}, nil
}

// DeleteCampaign refuses deletion once sends exist; the campaign row is
// the anchor for the delivery ledger.
func (s *CampaignService) DeleteCampaign(campaignID int) error {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if !campaign.Deletable() {
		return appErrors.NewValidation("campaign in status %q cannot be deleted", campaign.Status)
	}
	return s.Campaigns.Delete(campaignID)
}

// RenderPreview renders a campaign's subject and body for one recipient.
func (s *CampaignService) RenderPreview(campaignID, recipientID int) (subject, body string, err error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return "", "", err
	}
	recipient, err := s.Recipients.GetByID(recipientID)
	if err != nil {
		return "", "", err
	}
	if recipient == nil {
		return "", "", fmt.Errorf("recipient %d not found", recipientID)
	}

	fields := MergeFields(recipient)
	return RenderTemplate(campaign.Subject, fields), RenderTemplate(campaign.BodyTemplate, fields), nil
}

// RecordOpen is the tracking collaborator callback for an open event.
// The first open of a ledger entry bumps the campaign's unique counter.
func (s *CampaignService) RecordOpen(token string) error {
	campaignID, first, err := s.Ledger.RecordOpen(token)
	if err != nil {
		return err
	}
	if campaignID == 0 {
		return nil // unknown token, swallow
	}
	if first {
		if err := s.Campaigns.IncrementOpened(campaignID); err != nil {
			return err
		}
	}
	s.Log.Debug("open recorded", "campaign_id", campaignID, "first", first, "at", time.Now())
	return nil
}

// RecordClick mirrors RecordOpen for click events.
func (s *CampaignService) RecordClick(token, url string) error {
	campaignID, first, err := s.Ledger.RecordClick(token, url)
	if err != nil {
		return err
	}
	if campaignID == 0 {
		return nil
	}
	if first {
		if err := s.Campaigns.IncrementClicked(campaignID); err != nil {
			return err
		}
	}
	s.Log.Debug("click recorded", "campaign_id", campaignID, "url", url, "first", first)
	return nil
}
