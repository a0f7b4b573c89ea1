package ledger

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

	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.LedgerEntry{}, &models.WalletCache{}))
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	return NewService(db, zap.NewNop()), db
}

func TestCreateDoubleEntryMovesBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	inserted, err := svc.CreateDoubleEntry(ctx, nil,
		Side{BalanceType: models.BalancePlatform},
		Side{UserID: &userID, BalanceType: models.BalanceEscrow},
		decimal.NewFromInt(100), "escrow", "ref-1", "pay:1:escrow")
	require.NoError(t, err)
	assert.True(t, inserted)

	escrow, err := svc.GetBalance(ctx, &userID, models.BalanceEscrow)
	require.NoError(t, err)
	assert.True(t, escrow.Equal(decimal.NewFromInt(100)))

	platform, err := svc.GetBalance(ctx, nil, models.BalancePlatform)
	require.NoError(t, err)
	assert.True(t, platform.Equal(decimal.NewFromInt(-100)))
}

func TestCreateDoubleEntryIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		inserted, err := svc.CreateDoubleEntry(ctx, nil,
			Side{BalanceType: models.BalancePlatform},
			Side{UserID: &userID, BalanceType: models.BalanceEscrow},
			decimal.NewFromInt(50), "escrow", "ref-1", "pay:1:escrow")
		require.NoError(t, err)
		assert.Equal(t, i == 0, inserted)
	}

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	escrow, err := svc.GetBalance(ctx, &userID, models.BalanceEscrow)
	require.NoError(t, err)
	assert.True(t, escrow.Equal(decimal.NewFromInt(50)))
}

func TestCreateDoubleEntryHalfMismatchIsCorruption(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	// Pre-insert only the credit half of the pair.
	_, err := svc.CreateEntry(ctx, nil, &models.LedgerEntry{
		UserID:         &userID,
		Amount:         decimal.NewFromInt(50),
		Direction:      models.DirectionCredit,
		BalanceType:    models.BalanceEscrow,
		Type:           "escrow",
		Reference:      "ref-1",
		IdempotencyKey: "pay:1:escrow:credit",
	})
	require.NoError(t, err)

	_, err = svc.CreateDoubleEntry(ctx, nil,
		Side{BalanceType: models.BalancePlatform},
		Side{UserID: &userID, BalanceType: models.BalanceEscrow},
		decimal.NewFromInt(50), "escrow", "ref-1", "pay:1:escrow")
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestCreateEntryValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	cases := []struct {
		name  string
		entry models.LedgerEntry
	}{
		{"zero amount", models.LedgerEntry{UserID: &userID, Amount: decimal.Zero, Direction: models.DirectionCredit, BalanceType: models.BalanceAvailable, Type: "t", IdempotencyKey: "k1"}},
		{"negative amount", models.LedgerEntry{UserID: &userID, Amount: decimal.NewFromInt(-1), Direction: models.DirectionCredit, BalanceType: models.BalanceAvailable, Type: "t", IdempotencyKey: "k2"}},
		{"bad direction", models.LedgerEntry{UserID: &userID, Amount: decimal.NewFromInt(1), Direction: "sideways", BalanceType: models.BalanceAvailable, Type: "t", IdempotencyKey: "k3"}},
		{"bad balance type", models.LedgerEntry{UserID: &userID, Amount: decimal.NewFromInt(1), Direction: models.DirectionCredit, BalanceType: "slush", Type: "t", IdempotencyKey: "k4"}},
		{"missing type", models.LedgerEntry{UserID: &userID, Amount: decimal.NewFromInt(1), Direction: models.DirectionCredit, BalanceType: models.BalanceAvailable, IdempotencyKey: "k5"}},
		{"missing idempotency key", models.LedgerEntry{UserID: &userID, Amount: decimal.NewFromInt(1), Direction: models.DirectionCredit, BalanceType: models.BalanceAvailable, Type: "t"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := tc.entry
			_, err := svc.CreateEntry(ctx, nil, &entry)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestReferenceBalance(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreateDoubleEntry(ctx, nil,
		Side{UserID: &userID, BalanceType: models.BalanceEscrow},
		Side{BalanceType: models.BalanceRevenue},
		decimal.NewFromInt(10), "release", "pay-1", "pay:1:fee")
	require.NoError(t, err)
	_, err = svc.CreateDoubleEntry(ctx, nil,
		Side{UserID: &userID, BalanceType: models.BalanceEscrow},
		Side{BalanceType: models.BalanceRevenue},
		decimal.NewFromInt(7), "release", "pay-2", "pay:2:fee")
	require.NoError(t, err)

	got, err := svc.ReferenceBalance(db, nil, models.BalanceRevenue, "pay-1")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(10)))
}

func TestSyncWalletCache(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreateDoubleEntry(ctx, nil,
		Side{BalanceType: models.BalancePlatform},
		Side{UserID: &userID, BalanceType: models.BalanceAvailable},
		decimal.NewFromInt(75), "release", "pay-1", "pay:1:release")
	require.NoError(t, err)

	require.NoError(t, svc.SyncWalletCache(ctx, nil, []uuid.UUID{userID}))

	var cache models.WalletCache
	require.NoError(t, db.First(&cache, "user_id = ?", userID).Error)
	assert.True(t, cache.Available.Equal(decimal.NewFromInt(75)))
	assert.True(t, cache.Escrow.Equal(decimal.Zero))

	// A second sync overwrites rather than duplicates.
	require.NoError(t, svc.SyncWalletCache(ctx, nil, []uuid.UUID{userID}))
	var count int64
	require.NoError(t, db.Model(&models.WalletCache{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEntriesReport(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()

	_, err := svc.CreateDoubleEntry(ctx, nil,
		Side{BalanceType: models.BalancePlatform},
		Side{UserID: &userID, BalanceType: models.BalanceEscrow},
		decimal.NewFromInt(30), "escrow", "pay-1", "pay:1:escrow")
	require.NoError(t, err)
	_, err = svc.CreateDoubleEntry(ctx, nil,
		Side{BalanceType: models.BalancePlatform},
		Side{UserID: &other, BalanceType: models.BalanceEscrow},
		decimal.NewFromInt(40), "escrow", "pay-2", "pay:2:escrow")
	require.NoError(t, err)

	entries, total, err := svc.EntriesReport(ctx, ReportFilter{UserID: &userID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "pay-1", entries[0].Reference)

	entries, total, err = svc.EntriesReport(ctx, ReportFilter{Type: "escrow"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, entries, 4)
}
