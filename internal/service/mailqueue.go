package service

import (
	"log/slog"
	"strings"

	appErrors "github.com/mailpilot/crm-backend/internal/errors"
	"github.com/mailpilot/crm-backend/internal/mailer"
	"github.com/mailpilot/crm-backend/internal/model"
	"github.com/mailpilot/crm-backend/internal/queue"
	"github.com/mailpilot/crm-backend/internal/repository"
)

// MailQueue is the retry buffer for ad-hoc outbound email. It shares the
// mail transport with the campaign path but has no ledger or batch
// linkage.
type MailQueue struct {
	Repo   repository.QueueRepositoryInterface
	Mailer mailer.Mailer
	Broker queue.Broker // optional wake-up channel, may be nil
	Topic  string       // trigger topic, TriggerTopic when empty
	Log    *slog.Logger
}

func (m *MailQueue) triggerTopic() string {
	if m.Topic != "" {
		return m.Topic
	}
	return TriggerTopic
}

type EnqueueRequest struct {
	ToEmail   string `json:"to_email"`
	ToName    string `json:"to_name"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Priority  int    `json:"priority"`
}

// DrainReport summarizes one Drain invocation.
type DrainReport struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Enqueue validates and stores a queue item, then pokes the worker.
func (m *MailQueue) Enqueue(req EnqueueRequest) (int, error) {
	if strings.TrimSpace(req.ToEmail) == "" {
		return 0, appErrors.NewValidation("recipient email is required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return 0, appErrors.NewValidation("subject is required")
	}

	item := &model.QueueItem{
		ToEmail:   req.ToEmail,
		ToName:    req.ToName,
		FromName:  req.FromName,
		FromEmail: req.FromEmail,
		Subject:   req.Subject,
		Body:      req.Body,
		Priority:  req.Priority,
		Status:    model.QueuePending,
	}
	if err := m.Repo.Insert(item); err != nil {
		return 0, err
	}

	if m.Broker != nil {
		if err := m.Broker.Publish(m.triggerTopic(), map[string]any{"queue_item_id": item.ID}); err != nil {
			m.Log.Warn("queue trigger publish failed", "queue_item_id", item.ID, "error", err)
		}
	}

	return item.ID, nil
}

// Drain delivers up to limit eligible items (pending or failed with
// attempts left), highest priority first. Each item is claimed with a
// conditional update before delivery so overlapping drains never send
// the same item twice.
func (m *MailQueue) Drain(limit int) (*DrainReport, error) {
	items, err := m.Repo.SelectDrainable(limit)
	if err != nil {
		return nil, err
	}

	report := &DrainReport{}
	for _, item := range items {
		claimed, err := m.Repo.Claim(item.ID, item.Status, model.QueueSending)
		if err != nil {
			return report, err
		}
		if !claimed {
			continue
		}
		report.Processed++

		sendErr := m.Mailer.Send(item.ToEmail, item.Subject, item.Body, item.FromName, item.FromEmail)
		if sendErr != nil {
			if err := m.Repo.MarkFailed(item.ID, sendErr.Error()); err != nil {
				return report, err
			}
			report.Failed++
			m.Log.Warn("queue item failed",
				"queue_item_id", item.ID, "attempt", item.Attempts+1, "error", sendErr)
			continue
		}

		if err := m.Repo.MarkSent(item.ID); err != nil {
			return report, err
		}
		report.Sent++
	}
	return report, nil
}

// RetryFailed re-arms failed items that still have attempts left and
// returns how many were reset. Attempt counters are preserved.
func (m *MailQueue) RetryFailed() (int, error) {
	return m.Repo.RetryFailed()
}
