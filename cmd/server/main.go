package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/mailpilot/crm-backend/internal/config"
	"github.com/mailpilot/crm-backend/internal/controller"
	"github.com/mailpilot/crm-backend/internal/db"
	"github.com/mailpilot/crm-backend/internal/mailer"
	"github.com/mailpilot/crm-backend/internal/queue"
	"github.com/mailpilot/crm-backend/internal/repository"
	"github.com/mailpilot/crm-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	if cfg.Psql.RunMigrations {
		if err := db.Migrate(cfg.Psql.Addr); err != nil {
			logger.Error("migration error", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

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

	// the broker only wakes the worker; a broker outage degrades to
	// ticker-driven dispatch
	var broker queue.Broker
	if cfg.AMQP.URL != "" {
		b, err := queue.DialAMQP(cfg.AMQP.URL, logger)
		if err != nil {
			logger.Warn("amqp unavailable, triggers disabled", "error", err)
		} else {
			broker = b
			defer b.Close()
		}
	}

	smtpMailer := mailer.NewSMTPMailer(cfg.SMTP)

	partitioner := &service.Partitioner{
		Recipients:  recipientRepo,
		Batches:     batchRepo,
		DefaultSize: cfg.Dispatch.BatchSize,
		Log:         logger,
	}
	executor := &service.SendExecutor{
		Ledger: ledgerRepo,
		Mailer: smtpMailer,
		Log:    logger,
	}
	scheduler := &service.Scheduler{
		Campaigns:   campaignRepo,
		Recipients:  recipientRepo,
		Batches:     batchRepo,
		Partitioner: partitioner,
		Executor:    executor,
		Broker:      broker,
		SendDelay:   cfg.Dispatch.SendDelay,
		BatchDelay:  cfg.Dispatch.BatchDelay,
		Topic:       cfg.AMQP.Queue,
		Log:         logger,
	}
	campaignService := &service.CampaignService{
		Campaigns:  campaignRepo,
		Recipients: recipientRepo,
		Batches:    batchRepo,
		Ledger:     ledgerRepo,
		Log:        logger,
	}
	mailQueue := &service.MailQueue{
		Repo:   queueRepo,
		Mailer: smtpMailer,
		Broker: broker,
		Topic:  cfg.AMQP.Queue,
		Log:    logger,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Scheduler:       scheduler,
	}
	mailController := &controller.MailController{
		Queue:           mailQueue,
		CampaignService: campaignService,
	}

	r := chi.NewRouter()

	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/scheduled", campaignController.GetScheduledCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Delete("/campaigns/{id}", campaignController.DeleteCampaign)
	r.Post("/campaigns/{id}/schedule", campaignController.ScheduleCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelScheduledCampaign)
	r.Get("/campaigns/{id}/batches", campaignController.GetCampaignBatchStats)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	r.Post("/mail/enqueue", mailController.Enqueue)
	r.Post("/mail/drain", mailController.Drain)
	r.Post("/mail/retry-failed", mailController.RetryFailed)

	r.Get("/t/open/{token}", mailController.TrackOpen)
	r.Get("/t/click/{token}", mailController.TrackClick)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	logger.Info("server listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Logger) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
