package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/config"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// NewPostgres opens a pooled PostgreSQL connection.
func NewPostgres(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// Migrate creates or updates the schema for all persisted models. The
// partial unique indexes declared in the model tags carry the
// load-bearing invariants: idempotency keys, one open dispute per
// payment, one pending review per trigger tuple, one open flag per
// wallet, and the globally unique chain hash.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Application{},
		&models.LedgerEntry{},
		&models.WalletCache{},
		&models.Payment{},
		&models.Dispute{},
		&models.Withdrawal{},
		&models.FraudReview{},
		&models.UserRiskProfile{},
		&models.RiskAssessment{},
		&models.WalletRestriction{},
		&models.ReconciliationLog{},
		&models.ReconciliationFlag{},
		&models.FinancialEventLogEntry{},
		&models.WebhookEvent{},
	)
}
