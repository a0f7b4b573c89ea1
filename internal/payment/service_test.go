package payment

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

	"github.com/acaderofficial-code/acader-backend-sub000/internal/finlog"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

type fixture struct {
	db      *gorm.DB
	ledger  *ledger.Service
	finlog  *finlog.Service
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Project{}, &models.Application{},
		&models.LedgerEntry{}, &models.WalletCache{},
		&models.Payment{}, &models.Dispute{},
		&models.FinancialEventLogEntry{},
	))

	logger := zap.NewNop()
	ledgerSvc := ledger.NewService(db, logger)
	finlogSvc := finlog.NewService(db, logger)
	svc := NewService(db, logger, ledgerSvc, finlogSvc, nil, Config{
		FeePercent:      decimal.NewFromInt(10),
		SystemAccountID: uuid.New(),
	})
	return &fixture{db: db, ledger: ledgerSvc, finlog: finlogSvc, service: svc}
}

func (f *fixture) newPayment(t *testing.T, amount string) *models.Payment {
	t.Helper()
	amt, err := decimal.NewFromString(amount)
	require.NoError(t, err)
	p := &models.Payment{
		PayerID:     uuid.New(),
		CompanyID:   uuid.New(),
		ProjectID:   uuid.New(),
		Amount:      amt,
		ProviderRef: "prov-" + uuid.NewString(),
	}
	require.NoError(t, f.service.Create(context.Background(), p))
	return p
}

func (f *fixture) acceptStudent(t *testing.T, projectID uuid.UUID) uuid.UUID {
	t.Helper()
	studentID := uuid.New()
	require.NoError(t, f.db.Create(&models.Application{
		ID:        uuid.New(),
		ProjectID: projectID,
		StudentID: studentID,
		Status:    models.ApplicationStatusAccepted,
	}).Error)
	return studentID
}

func (f *fixture) balance(t *testing.T, userID *uuid.UUID, bt models.BalanceType) decimal.Decimal {
	t.Helper()
	total, err := f.ledger.GetBalance(context.Background(), userID, bt)
	require.NoError(t, err)
	return total
}

func (f *fixture) markPaid(t *testing.T, p *models.Payment) *models.Payment {
	t.Helper()
	paid, err := f.service.MarkPaid(context.Background(), p.ProviderRef)
	require.NoError(t, err)
	return paid
}

func TestMarkPaidFundsEscrow(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")

	paid := f.markPaid(t, p)
	assert.Equal(t, models.PaymentPaid, paid.Status)
	assert.True(t, paid.Escrow)
	require.NotNil(t, paid.PaidAt)

	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceEscrow).Equal(decimal.NewFromInt(100)))
	assert.True(t, f.balance(t, nil, models.BalancePlatform).Equal(decimal.NewFromInt(-100)))

	var cache models.WalletCache
	require.NoError(t, f.db.First(&cache, "user_id = ?", p.CompanyID).Error)
	assert.True(t, cache.Escrow.Equal(decimal.NewFromInt(100)))
}

func TestReleaseSplitsFeeExactly(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "99.99")
	studentID := f.acceptStudent(t, p.ProjectID)
	f.markPaid(t, p)

	released, err := f.service.Release(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReleased, released.Status)
	require.NotNil(t, released.StudentID)
	assert.Equal(t, studentID, *released.StudentID)

	var rows []models.LedgerEntry
	require.NoError(t, f.db.Where("type = ?", "release").Find(&rows).Error)
	assert.Len(t, rows, 3)

	fee := f.balance(t, nil, models.BalanceRevenue)
	net := f.balance(t, &studentID, models.BalanceAvailable)
	assert.True(t, fee.Equal(decimal.RequireFromString("10.00")), "fee %s", fee)
	assert.True(t, net.Equal(decimal.RequireFromString("89.99")), "net %s", net)
	assert.True(t, fee.Add(net).Equal(p.Amount))
	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceEscrow).IsZero())
}

func TestReleaseWithoutRecipientAborts(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	f.markPaid(t, p)

	_, err := f.service.Release(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrMissingRecipient)

	// Zero partial writes: status unchanged, no release rows.
	reloaded, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, reloaded.Status)

	var count int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Where("type = ?", "release").Count(&count).Error)
	assert.Zero(t, count)
	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceEscrow).Equal(decimal.NewFromInt(100)))
}

func TestIllegalTransitionRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")

	_, err := f.service.Release(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	reloaded, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, reloaded.Status)

	var count int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPaidRefundReturnsEscrow(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	f.markPaid(t, p)

	refunded, err := f.service.Refund(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundedAt)

	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceEscrow).IsZero())
	assert.True(t, f.balance(t, nil, models.BalancePlatform).IsZero())
}

func TestReleasedRefundClawsBackRevenueFirst(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	studentID := f.acceptStudent(t, p.ProjectID)
	f.markPaid(t, p)
	_, err := f.service.Release(context.Background(), p.ID)
	require.NoError(t, err)

	_, err = f.service.Refund(context.Background(), p.ID)
	require.NoError(t, err)

	// The full gross returned toward the platform: recognized revenue
	// reversed first, the rest from the student's available funds.
	assert.True(t, f.balance(t, nil, models.BalanceRevenue).IsZero())
	assert.True(t, f.balance(t, &studentID, models.BalanceAvailable).IsZero())
	assert.True(t, f.balance(t, nil, models.BalancePlatform).IsZero())
}

func TestDisputeGateBlocksTransitions(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	f.acceptStudent(t, p.ProjectID)
	f.markPaid(t, p)

	dispute, err := f.service.OpenDispute(context.Background(), p.ID, p.PayerID, "work not delivered")
	require.NoError(t, err)

	disputed, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentDisputed, disputed.Status)
	assert.True(t, disputed.Disputed)

	// Escrow is frozen into the company's locked balance.
	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceEscrow).IsZero())
	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceLocked).Equal(decimal.NewFromInt(100)))

	_, err = f.service.Release(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrDisputedLocked)
	_, err = f.service.Refund(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrDisputedLocked)

	// A second dispute cannot be opened while one is outstanding.
	_, err = f.service.OpenDispute(context.Background(), p.ID, p.PayerID, "again")
	assert.ErrorIs(t, err, ErrDisputedLocked)
	_ = dispute
}

func TestResolveDisputeToRelease(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	studentID := f.acceptStudent(t, p.ProjectID)
	f.markPaid(t, p)

	dispute, err := f.service.OpenDispute(context.Background(), p.ID, p.PayerID, "quality concerns")
	require.NoError(t, err)

	adminID := uuid.New()
	resolved, err := f.service.ResolveDispute(context.Background(), dispute.ID, adminID, models.PaymentReleased, "work verified")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReleased, resolved.Status)
	assert.False(t, resolved.Disputed)

	// Same fee split as a normal release, sourced from locked funds.
	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceLocked).IsZero())
	assert.True(t, f.balance(t, &studentID, models.BalanceAvailable).Equal(decimal.NewFromInt(90)))
	assert.True(t, f.balance(t, nil, models.BalanceRevenue).Equal(decimal.NewFromInt(10)))

	var reloaded models.Dispute
	require.NoError(t, f.db.First(&reloaded, "id = ?", dispute.ID).Error)
	assert.Equal(t, models.DisputeResolved, reloaded.Status)
	require.NotNil(t, reloaded.ResolvedBy)
	assert.Equal(t, adminID, *reloaded.ResolvedBy)
}

func TestResolveDisputeToRefund(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	f.markPaid(t, p)

	dispute, err := f.service.OpenDispute(context.Background(), p.ID, p.PayerID, "never delivered")
	require.NoError(t, err)

	resolved, err := f.service.ResolveDispute(context.Background(), dispute.ID, uuid.New(), models.PaymentRefunded, "refund approved")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, resolved.Status)
	assert.False(t, resolved.Disputed)

	assert.True(t, f.balance(t, &p.CompanyID, models.BalanceLocked).IsZero())
	assert.True(t, f.balance(t, nil, models.BalancePlatform).IsZero())
}

func TestDisputeAfterReleaseFreezesNet(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	studentID := f.acceptStudent(t, p.ProjectID)
	f.markPaid(t, p)
	_, err := f.service.Release(context.Background(), p.ID)
	require.NoError(t, err)

	dispute, err := f.service.OpenDispute(context.Background(), p.ID, p.PayerID, "result unusable")
	require.NoError(t, err)

	// Only the net is frozen; the fee stays recognized revenue.
	assert.True(t, f.balance(t, &studentID, models.BalanceAvailable).IsZero())
	assert.True(t, f.balance(t, &studentID, models.BalanceLocked).Equal(decimal.NewFromInt(90)))
	assert.True(t, f.balance(t, nil, models.BalanceRevenue).Equal(decimal.NewFromInt(10)))

	// Resolving back to released unlocks the net.
	_, err = f.service.ResolveDispute(context.Background(), dispute.ID, uuid.New(), models.PaymentReleased, "dispute dismissed")
	require.NoError(t, err)
	assert.True(t, f.balance(t, &studentID, models.BalanceAvailable).Equal(decimal.NewFromInt(90)))
	assert.True(t, f.balance(t, &studentID, models.BalanceLocked).IsZero())
}

func TestTransitionsAppendAuditEvents(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	f.acceptStudent(t, p.ProjectID)
	f.markPaid(t, p)
	_, err := f.service.Release(context.Background(), p.ID)
	require.NoError(t, err)

	result, err := f.finlog.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.EqualValues(t, 2, result.Checked)

	var types []string
	require.NoError(t, f.db.Model(&models.FinancialEventLogEntry{}).
		Order("id ASC").Pluck("event_type", &types).Error)
	assert.Equal(t, []string{models.FinEventPaymentEscrowed, models.FinEventPaymentReleased}, types)
}

func TestMarkFailedIsTerminalWithoutLedger(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")

	failed, err := f.service.MarkFailed(context.Background(), p.ProviderRef)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, failed.Status)

	var count int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTransferFailureRoundTrip(t *testing.T) {
	f := newFixture(t)
	p := f.newPayment(t, "100.00")
	f.acceptStudent(t, p.ProjectID)
	f.markPaid(t, p)
	_, err := f.service.Release(context.Background(), p.ID)
	require.NoError(t, err)

	var before int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Count(&before).Error)

	failed, err := f.service.MarkTransferFailed(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentTransferFailed, failed.Status)

	retried, err := f.service.RetryTransfer(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReleased, retried.Status)

	var after int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Count(&after).Error)
	assert.Equal(t, before, after)
}
