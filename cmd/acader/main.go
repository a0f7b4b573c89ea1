package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/config"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/database"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/finlog"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/fraud"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/jobs"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/notification"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/payment"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/reconciliation"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/server"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/webhook"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/withdrawal"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("ACADER_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	notifier := notification.NewService(zapLogger, 256, &notification.LogSink{Logger: zapLogger})

	ledgerSvc := ledger.NewService(db, zapLogger)
	finlogSvc := finlog.NewService(db, zapLogger)
	fraudSvc := fraud.NewService(db, zapLogger, fraud.DefaultConfig())
	paymentSvc := payment.NewService(db, zapLogger, ledgerSvc, finlogSvc, notifier, payment.Config{
		FeePercent:      cfg.Platform.FeePercent,
		SystemAccountID: cfg.Platform.SystemAccountID,
	})
	provider := withdrawal.NewHTTPProvider(cfg.Provider, zapLogger)
	withdrawalSvc := withdrawal.NewService(db, zapLogger, ledgerSvc, fraudSvc, finlogSvc, notifier, provider)
	reconciliationSvc := reconciliation.NewService(db, zapLogger, ledgerSvc)
	webhookHandler := webhook.NewHandler(db, zapLogger, paymentSvc, withdrawalSvc, cfg.Provider.WebhookSecret)

	scheduler := jobs.NewScheduler(zapLogger)
	scheduler.Register(jobs.NewReconciliationJob(reconciliationSvc, cfg.Jobs.ReconciliationInterval))
	scheduler.Register(jobs.NewSettlementReportJob(ledgerSvc, scheduler, zapLogger, cfg.Jobs.SettlementReportInterval))
	scheduler.Register(jobs.NewStalledTransferJob(withdrawalSvc, zapLogger, time.Hour, 2*time.Hour))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go notifier.Start(ctx)
	scheduler.Start(ctx, cfg.Jobs.RunAtStartup)

	srv := server.New(cfg, zapLogger, server.Deps{
		Payments:       paymentSvc,
		Withdrawals:    withdrawalSvc,
		Ledger:         ledgerSvc,
		Fraud:          fraudSvc,
		Finlog:         finlogSvc,
		Reconciliation: reconciliationSvc,
		Scheduler:      scheduler,
		Webhooks:       webhookHandler,
	})

	if err := srv.Start(ctx); err != nil {
		zapLogger.Error("server exited with error", zap.Error(err))
	}

	scheduler.Stop()
	notifier.Close()
	zapLogger.Info("shutdown complete")
}
