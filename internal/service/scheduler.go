package service

import (
	"fmt"
	"log/slog"
	"time"

	appErrors "github.com/mailpilot/crm-backend/internal/errors"
	"github.com/mailpilot/crm-backend/internal/model"
	"github.com/mailpilot/crm-backend/internal/queue"
	"github.com/mailpilot/crm-backend/internal/repository"
)

// TriggerTopic is the broker queue the worker listens on for wake-ups.
const TriggerTopic = "dispatch.triggers"

// Scheduler owns the campaign state machine: it validates schedule
// requests, claims due campaigns and drives the batch send loop.
type Scheduler struct {
	Campaigns   repository.CampaignRepositoryInterface
	Recipients  repository.RecipientRepositoryInterface
	Batches     repository.BatchRepositoryInterface
	Partitioner *Partitioner
	Executor    *SendExecutor
	Broker      queue.Broker // optional wake-up channel, may be nil

	SendDelay  time.Duration
	BatchDelay time.Duration
	Topic      string // trigger topic, TriggerTopic when empty

	Now func() time.Time // overridable for tests
	Log *slog.Logger
}

func (s *Scheduler) triggerTopic() string {
	if s.Topic != "" {
		return s.Topic
	}
	return TriggerTopic
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ScheduleRequest carries the user's scheduling decision for a campaign.
type ScheduleRequest struct {
	ScheduleType model.ScheduleType `json:"schedule_type"`
	ScheduleDate *time.Time         `json:"schedule_date,omitempty"`
	Frequency    model.Frequency    `json:"frequency,omitempty"`
	BatchSize    int                `json:"batch_size,omitempty"`
	Scope        DedupScope         `json:"scope,omitempty"`
	RecipientIDs []int              `json:"recipient_ids,omitempty"`
}

// RunSummary reports one execution of a campaign.
type RunSummary struct {
	Sent   int                  `json:"sent"`
	Failed int                  `json:"failed"`
	Status model.CampaignStatus `json:"status"`
}

// ScheduleResult is returned to the campaign-management API.
type ScheduleResult struct {
	CampaignID int         `json:"campaign_id"`
	Message    string      `json:"message"`
	Run        *RunSummary `json:"run,omitempty"`
}

// RunReport aggregates one ProcessDueCampaigns invocation.
type RunReport struct {
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Errors    []string `json:"errors,omitempty"`
}

// ScheduleCampaign validates the request, partitions recipients into
// batches and either executes inline (immediate) or parks the campaign
// as scheduled for the periodic driver. Validation failures mutate
// nothing.
func (s *Scheduler) ScheduleCampaign(campaignID int, req ScheduleRequest) (*ScheduleResult, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case model.CampaignDraft, model.CampaignScheduled, model.CampaignCancelled:
	default:
		return nil, appErrors.NewValidation("campaign cannot be scheduled in status %q", campaign.Status)
	}

	frequency := req.Frequency
	if frequency == "" {
		frequency = model.FrequencyOnce
	}

	switch req.ScheduleType {
	case model.ScheduleImmediate:
		frequency = model.FrequencyOnce
	case model.ScheduleScheduled:
		if req.ScheduleDate == nil || !req.ScheduleDate.After(s.now()) {
			return nil, appErrors.NewValidation("schedule date must be in the future")
		}
		frequency = model.FrequencyOnce
	case model.ScheduleRecurring:
		switch frequency {
		case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
		default:
			return nil, appErrors.NewValidation("recurring campaign requires frequency daily, weekly or monthly")
		}
		if req.ScheduleDate == nil || !req.ScheduleDate.After(s.now()) {
			return nil, appErrors.NewValidation("schedule date must be in the future")
		}
	default:
		return nil, appErrors.NewValidation("unknown schedule type %q", req.ScheduleType)
	}

	// re-partition from scratch; the campaign is not sending yet
	if err := s.Partitioner.ClearBatches(campaignID); err != nil {
		return nil, err
	}
	partition, err := s.Partitioner.Partition(campaignID, req.RecipientIDs, PartitionOptions{
		BatchSize: req.BatchSize,
		Scope:     req.Scope,
	})
	if err != nil {
		return nil, err
	}

	if req.ScheduleType == model.ScheduleImmediate {
		if err := s.Campaigns.UpdateSchedule(campaignID, req.ScheduleType, nil, frequency, model.CampaignSending); err != nil {
			return nil, err
		}
		campaign.ScheduleType = req.ScheduleType
		campaign.ScheduleDate = nil
		campaign.Frequency = frequency
		summary := s.run(campaign)
		return &ScheduleResult{
			CampaignID: campaignID,
			Message:    fmt.Sprintf("campaign sent to %d recipients in %d batches", partition.TotalRecipients, partition.BatchCount),
			Run:        summary,
		}, nil
	}

	err = s.Campaigns.UpdateSchedule(campaignID, req.ScheduleType, req.ScheduleDate, frequency, model.CampaignScheduled)
	if err != nil {
		return nil, err
	}

	if s.Broker != nil {
		if err := s.Broker.Publish(s.triggerTopic(), map[string]any{"campaign_id": campaignID}); err != nil {
			s.Log.Warn("trigger publish failed", "campaign_id", campaignID, "error", err)
		}
	}

	return &ScheduleResult{
		CampaignID: campaignID,
		Message: fmt.Sprintf("campaign scheduled for %s (%d recipients, %d batches)",
			req.ScheduleDate.Format(time.RFC3339), partition.TotalRecipients, partition.BatchCount),
	}, nil
}

// ProcessDueCampaigns selects scheduled campaigns whose date has passed
// and executes each one. The scheduled->sending transition is a
// conditional update; a campaign claimed by a concurrent trigger is
// skipped silently.
func (s *Scheduler) ProcessDueCampaigns() (*RunReport, error) {
	due, err := s.Campaigns.ListDue(s.now())
	if err != nil {
		return nil, err
	}

	report := &RunReport{}
	for _, campaign := range due {
		claimed, err := s.Campaigns.ClaimStatus(campaign.ID, model.CampaignScheduled, model.CampaignSending)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("campaign %d: claim: %v", campaign.ID, err))
			continue
		}
		if !claimed {
			// another trigger got here first
			continue
		}

		summary := s.run(campaign)
		report.Processed++
		report.Sent += summary.Sent
		if summary.Status == model.CampaignFailed {
			report.Errors = append(report.Errors, fmt.Sprintf("campaign %d: no messages sent", campaign.ID))
		}
	}
	return report, nil
}

// run executes a campaign already claimed into the sending state and
// drives it to a terminal status. Systemic failures mark the campaign
// failed and are logged; they never propagate as a panic or error to the
// periodic trigger.
func (s *Scheduler) run(campaign *model.Campaign) *RunSummary {
	summary, err := s.runBatches(campaign)
	if err != nil {
		s.Log.Error("campaign run aborted", "campaign_id", campaign.ID, "error", err)
		if uerr := s.Campaigns.UpdateStatus(campaign.ID, model.CampaignFailed); uerr != nil {
			s.Log.Error("failed to mark campaign failed", "campaign_id", campaign.ID, "error", uerr)
		}
		return &RunSummary{Status: model.CampaignFailed}
	}

	final := model.CampaignFailed
	switch {
	case summary.Sent > 0 && summary.Failed == 0:
		final = model.CampaignCompleted
	case summary.Sent > 0:
		final = model.CampaignCompletedWithErrors
	}
	summary.Status = final

	if summary.Sent > 0 {
		if err := s.Campaigns.AddSent(campaign.ID, summary.Sent); err != nil {
			s.Log.Error("failed to bump sent counter", "campaign_id", campaign.ID, "error", err)
		}
	}

	if campaign.ScheduleType == model.ScheduleRecurring && final != model.CampaignFailed {
		// next occurrence is anchored to the previous schedule date, not
		// to the actual run time; a late run does not shift the cadence
		prev := s.now()
		if campaign.ScheduleDate != nil {
			prev = *campaign.ScheduleDate
		}
		next := NextOccurrence(prev, campaign.Frequency)

		// re-arm the batches; otherwise the next occurrence finds only
		// completed ones and sends nothing
		if err := s.Batches.ResetBatches(campaign.ID); err != nil {
			s.Log.Error("failed to reset batches for next occurrence", "campaign_id", campaign.ID, "error", err)
		} else if err := s.Campaigns.UpdateSchedule(campaign.ID, model.ScheduleRecurring, &next, campaign.Frequency, model.CampaignScheduled); err != nil {
			s.Log.Error("failed to reschedule recurring campaign", "campaign_id", campaign.ID, "error", err)
		} else {
			s.Log.Info("recurring campaign rescheduled",
				"campaign_id", campaign.ID, "next", next.Format(time.RFC3339))
			return summary
		}
		// reschedule did not stick; fall through to the terminal status
	}

	if err := s.Campaigns.UpdateStatus(campaign.ID, final); err != nil {
		s.Log.Error("failed to update campaign status", "campaign_id", campaign.ID, "error", err)
	}
	return summary
}

func (s *Scheduler) runBatches(campaign *model.Campaign) (*RunSummary, error) {
	batches, err := s.Batches.ListByCampaign(campaign.ID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{}
	for i, batch := range batches {
		if batch.Status == model.BatchCompleted {
			continue
		}
		claimed, err := s.Batches.ClaimBatch(batch.ID, model.BatchPending, model.BatchProcessing)
		if err != nil {
			return summary, err
		}
		if !claimed {
			continue
		}

		memberIDs, err := s.Batches.ListMemberIDs(batch.ID)
		if err != nil {
			return summary, err
		}
		recipients, err := s.Recipients.ListByIDs(memberIDs)
		if err != nil {
			return summary, err
		}

		sent, failed := 0, 0
		for j := range recipients {
			ok, err := s.Executor.Send(campaign, &recipients[j])
			if err != nil {
				return summary, err
			}
			if ok {
				sent++
			} else {
				failed++
			}
			if s.SendDelay > 0 && j < len(recipients)-1 {
				time.Sleep(s.SendDelay)
			}
		}

		if err := s.Batches.FinishBatch(batch.ID, sent, failed); err != nil {
			return summary, err
		}
		summary.Sent += sent
		summary.Failed += failed

		s.Log.Info("batch completed",
			"campaign_id", campaign.ID, "batch_number", batch.BatchNumber,
			"sent", sent, "failed", failed)

		if s.BatchDelay > 0 && i < len(batches)-1 {
			time.Sleep(s.BatchDelay)
		}
	}
	return summary, nil
}

// NextOccurrence computes the next schedule date one interval after the
// previous one.
func NextOccurrence(prev time.Time, frequency model.Frequency) time.Time {
	switch frequency {
	case model.FrequencyDaily:
		return prev.AddDate(0, 0, 1)
	case model.FrequencyWeekly:
		return prev.AddDate(0, 0, 7)
	case model.FrequencyMonthly:
		return prev.AddDate(0, 1, 0)
	}
	return prev
}

// CancelScheduledCampaign cancels a campaign that has not started
// sending. The scheduled->cancelled transition is conditional, so a
// campaign claimed by a concurrent run cannot be cancelled mid-flight.
func (s *Scheduler) CancelScheduledCampaign(campaignID int) error {
	claimed, err := s.Campaigns.ClaimStatus(campaignID, model.CampaignScheduled, model.CampaignCancelled)
	if err != nil {
		return err
	}
	if claimed {
		return nil
	}

	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	return appErrors.NewValidation("campaign in status %q cannot be cancelled", campaign.Status)
}

func (s *Scheduler) GetScheduledCampaigns() ([]*model.Campaign, error) {
	return s.Campaigns.ListScheduled()
}

func (s *Scheduler) GetCampaignBatchStats(campaignID int) (*model.BatchStats, error) {
	if _, err := s.Campaigns.GetByID(campaignID); err != nil {
		return nil, err
	}
	return s.Batches.Stats(campaignID)
}
