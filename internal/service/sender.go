package service

import (
	"log/slog"

	"github.com/mailpilot/crm-backend/internal/mailer"
	"github.com/mailpilot/crm-backend/internal/model"
	"github.com/mailpilot/crm-backend/internal/repository"
)

// SendExecutor delivers one campaign email to one recipient: renders the
// merge fields, hands the message to the transport and records exactly
// one ledger outcome. It never retries and never sleeps; rate shaping is
// the caller's job.
type SendExecutor struct {
	Ledger repository.LedgerRepositoryInterface
	Mailer mailer.Mailer
	Log    *slog.Logger
}

// Send reports whether the transport accepted the message. A transport
// failure is recorded in the ledger and returned as success=false, not as
// an error; the error return is reserved for systemic failures (the
// ledger write itself).
func (e *SendExecutor) Send(campaign *model.Campaign, recipient *model.Recipient) (bool, error) {
	fields := MergeFields(recipient)
	subject := RenderTemplate(campaign.Subject, fields)
	body := RenderTemplate(campaign.BodyTemplate, fields)

	sendErr := e.Mailer.Send(recipient.Email, subject, body, campaign.FromName, campaign.FromEmail)

	status := model.LedgerSent
	errorMessage := ""
	if sendErr != nil {
		status = model.LedgerFailed
		errorMessage = sendErr.Error()
		e.Log.Warn("send failed",
			"campaign_id", campaign.ID, "recipient_id", recipient.ID, "error", sendErr)
	}

	if err := e.Ledger.RecordOutcome(campaign.ID, recipient.ID, recipient.Email, status, errorMessage); err != nil {
		e.Log.Error("ledger write failed",
			"campaign_id", campaign.ID, "recipient_id", recipient.ID, "error", err)
		return false, err
	}

	return sendErr == nil, nil
}
