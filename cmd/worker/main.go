package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mailpilot/crm-backend/internal/config"
	"github.com/mailpilot/crm-backend/internal/db"
	"github.com/mailpilot/crm-backend/internal/mailer"
	"github.com/mailpilot/crm-backend/internal/queue"
	"github.com/mailpilot/crm-backend/internal/repository"
	"github.com/mailpilot/crm-backend/internal/service"
)

// The worker is the periodic trigger for the dispatch engine: every poll
// interval it runs ProcessDueCampaigns and drains the ad-hoc mail queue.
// AMQP trigger messages published by the API wake it up early.
func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))

	conn, err := db.Open(cfg.Psql.Addr)
	if err != nil {
		logger.Error("database connection error", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	batchRepo := &repository.BatchRepository{DB: conn}
	ledgerRepo := &repository.LedgerRepository{DB: conn}
	queueRepo := &repository.QueueRepository{DB: conn}

	smtpMailer := mailer.NewSMTPMailer(cfg.SMTP)

	scheduler := &service.Scheduler{
		Campaigns:  campaignRepo,
		Recipients: recipientRepo,
		Batches:    batchRepo,
		Partitioner: &service.Partitioner{
			Recipients:  recipientRepo,
			Batches:     batchRepo,
			DefaultSize: cfg.Dispatch.BatchSize,
			Log:         logger,
		},
		Executor: &service.SendExecutor{
			Ledger: ledgerRepo,
			Mailer: smtpMailer,
			Log:    logger,
		},
		SendDelay:  cfg.Dispatch.SendDelay,
		BatchDelay: cfg.Dispatch.BatchDelay,
		Log:        logger,
	}
	mailQueue := &service.MailQueue{
		Repo:   queueRepo,
		Mailer: smtpMailer,
		Log:    logger,
	}

	wake := make(chan struct{}, 1)

	topic := cfg.AMQP.Queue
	if topic == "" {
		topic = service.TriggerTopic
	}

	if cfg.AMQP.URL != "" {
		broker, err := queue.DialAMQP(cfg.AMQP.URL, logger)
		if err != nil {
			logger.Warn("amqp unavailable, running on poll interval only", "error", err)
		} else {
			defer broker.Close()
			err = broker.Subscribe(topic, func(payload any) error {
				select {
				case wake <- struct{}{}:
				default: // a wake-up is already pending
				}
				return nil
			})
			if err != nil {
				logger.Warn("subscribe failed", "error", err)
			}
		}
	}

	ticker := time.NewTicker(cfg.Dispatch.PollInterval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("worker running", "poll_interval", cfg.Dispatch.PollInterval)

	for {
		select {
		case <-quit:
			logger.Info("worker stopping")
			return
		case <-wake:
		case <-ticker.C:
		}

		report, err := scheduler.ProcessDueCampaigns()
		if err != nil {
			logger.Error("process due campaigns failed", "error", err)
		} else if report.Processed > 0 {
			logger.Info("campaigns processed",
				"processed", report.Processed, "sent", report.Sent, "errors", len(report.Errors))
		}

		drain, err := mailQueue.Drain(cfg.Dispatch.DrainLimit)
		if err != nil {
			logger.Error("queue drain failed", "error", err)
		} else if drain.Processed > 0 {
			logger.Info("queue drained",
				"processed", drain.Processed, "sent", drain.Sent, "failed", drain.Failed)
		}
	}
}
