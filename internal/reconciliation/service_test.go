package reconciliation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

func newTestService(t *testing.T) (*Service, *ledger.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.LedgerEntry{}, &models.WalletCache{},
		&models.ReconciliationLog{}, &models.ReconciliationFlag{},
	))
	ledgerSvc := ledger.NewService(db, zap.NewNop())
	return NewService(db, zap.NewNop(), ledgerSvc), ledgerSvc, db
}

// seedWallet funds the ledger and syncs the cache, leaving a consistent
// wallet behind.
func seedWallet(t *testing.T, ledgerSvc *ledger.Service, amount string) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	_, err := ledgerSvc.CreateEntry(context.Background(), nil, &models.LedgerEntry{
		UserID:         &userID,
		Amount:         decimal.RequireFromString(amount),
		Direction:      models.DirectionCredit,
		BalanceType:    models.BalanceAvailable,
		Type:           "release",
		Reference:      "seed-" + userID.String(),
		IdempotencyKey: "seed:" + userID.String(),
	})
	require.NoError(t, err)
	require.NoError(t, ledgerSvc.SyncWalletCache(context.Background(), nil, []uuid.UUID{userID}))
	return userID
}

// corruptCache drifts the cached available balance away from the ledger.
func corruptCache(t *testing.T, db *gorm.DB, userID uuid.UUID, available string) {
	t.Helper()
	require.NoError(t, db.Model(&models.WalletCache{}).
		Where("user_id = ?", userID).
		Update("available", decimal.RequireFromString(available)).Error)
}

func TestRunCleanWalletsNoFlags(t *testing.T) {
	svc, ledgerSvc, _ := newTestService(t)
	seedWallet(t, ledgerSvc, "100.00")
	seedWallet(t, ledgerSvc, "250.00")

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Wallets)
	assert.Zero(t, summary.Mismatches)
	assert.Zero(t, summary.NewFlags)

	logs, total, err := svc.ListLogs(context.Background(), false, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, log := range logs {
		assert.False(t, log.Mismatch)
	}
}

func TestRunDetectsDriftAndFlagsOnce(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	userID := seedWallet(t, ledgerSvc, "100.00")
	corruptCache(t, db, userID, "150.00")

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mismatches)
	assert.Equal(t, 1, summary.NewFlags)

	// A second run sees the same drift but does not stack flags.
	summary, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mismatches)
	assert.Zero(t, summary.NewFlags)

	flags, total, err := svc.ListFlags(context.Background(), true, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, flags, 1)
	assert.Equal(t, userID, flags[0].UserID)
	assert.Contains(t, flags[0].Details, "available expected 100.00 cached 150.00")
}

func TestCentToleranceIsNotDrift(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	userID := seedWallet(t, ledgerSvc, "100.00")
	corruptCache(t, db, userID, "100.01")

	log, err := svc.RunForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, log.Mismatch)
}

func TestCleanRunDoesNotAutoResolveFlag(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	userID := seedWallet(t, ledgerSvc, "100.00")
	corruptCache(t, db, userID, "150.00")

	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	// Repair the cache; the wallet reconciles clean, but the open flag
	// stays until an operator resolves it.
	require.NoError(t, ledgerSvc.SyncWalletCache(context.Background(), nil, []uuid.UUID{userID}))
	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Mismatches)

	_, total, err := svc.ListFlags(context.Background(), true, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestResolveFlag(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	userID := seedWallet(t, ledgerSvc, "100.00")
	corruptCache(t, db, userID, "150.00")

	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	flags, _, err := svc.ListFlags(context.Background(), true, 10, 0)
	require.NoError(t, err)
	require.Len(t, flags, 1)

	adminID := uuid.New()
	require.NoError(t, svc.ResolveFlag(context.Background(), flags[0].ID, adminID))

	_, total, err := svc.ListFlags(context.Background(), true, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	// Resolving twice is rejected.
	assert.ErrorIs(t, svc.ResolveFlag(context.Background(), flags[0].ID, adminID), ErrFlagNotOpen)
}

func TestRunForUserRecordsComparison(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	userID := seedWallet(t, ledgerSvc, "75.50")
	corruptCache(t, db, userID, "80.00")

	log, err := svc.RunForUser(context.Background(), userID)
	require.NoError(t, err)

	assert.True(t, log.Mismatch)
	assert.True(t, log.ExpectedAvailable.Equal(decimal.RequireFromString("75.50")))
	assert.True(t, log.CachedAvailable.Equal(decimal.RequireFromString("80.00")))

	flags, _, err := svc.ListFlags(context.Background(), true, 10, 0)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, userID, flags[0].UserID)
}
