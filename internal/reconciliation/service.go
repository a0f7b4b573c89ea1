package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// tolerance is the cent-level threshold under which a cache deviation
// is treated as a match.
var tolerance = decimal.NewFromFloat(0.01)

// ErrFlagNotOpen is returned when resolving a flag that is not open.
var ErrFlagNotOpen = errors.New("reconciliation flag is not open")

// Summary reports one reconciliation run.
type Summary struct {
	Wallets    int `json:"wallets"`
	Mismatches int `json:"mismatches"`
	NewFlags   int `json:"new_flags"`
}

// ReconciliationService detects drift between the wallet cache and the
// ledger-derived balances.
type ReconciliationService interface {
	Run(ctx context.Context) (*Summary, error)
	RunForUser(ctx context.Context, userID uuid.UUID) (*models.ReconciliationLog, error)
	ResolveFlag(ctx context.Context, flagID, adminID uuid.UUID) error
	ListLogs(ctx context.Context, mismatchOnly bool, limit, offset int) ([]*models.ReconciliationLog, int64, error)
	ListFlags(ctx context.Context, openOnly bool, limit, offset int) ([]*models.ReconciliationFlag, int64, error)
}

// Service implements ReconciliationService.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	ledger ledger.LedgerService
}

// NewService creates a new ReconciliationService.
func NewService(db *gorm.DB, logger *zap.Logger, ledgerSvc ledger.LedgerService) *Service {
	return &Service{db: db, logger: logger, ledger: ledgerSvc}
}

// Run reconciles every cached wallet against a full ledger replay.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	var wallets []*models.WalletCache
	if err := s.db.WithContext(ctx).Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	summary := &Summary{}
	for _, wallet := range wallets {
		entry, err := s.reconcileWallet(ctx, wallet.UserID)
		if err != nil {
			return nil, err
		}
		summary.Wallets++
		if entry.Mismatch {
			summary.Mismatches++
			flagged, err := s.raiseFlag(ctx, entry)
			if err != nil {
				return nil, err
			}
			if flagged {
				summary.NewFlags++
			}
		}
	}

	s.logger.Info("reconciliation run finished",
		zap.Int("wallets", summary.Wallets),
		zap.Int("mismatches", summary.Mismatches),
		zap.Int("new_flags", summary.NewFlags))
	return summary, nil
}

// RunForUser reconciles a single wallet on demand, typically right
// after a manual repair.
func (s *Service) RunForUser(ctx context.Context, userID uuid.UUID) (*models.ReconciliationLog, error) {
	entry, err := s.reconcileWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry.Mismatch {
		if _, err := s.raiseFlag(ctx, entry); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// reconcileWallet recomputes the expected balances, compares them to
// the cached row with cent tolerance, and records the comparison.
func (s *Service) reconcileWallet(ctx context.Context, userID uuid.UUID) (*models.ReconciliationLog, error) {
	db := s.db.WithContext(ctx)

	expectedAvailable, err := s.ledger.BalanceIn(db, &userID, models.BalanceAvailable)
	if err != nil {
		return nil, err
	}
	expectedEscrow, err := s.ledger.BalanceIn(db, &userID, models.BalanceEscrow)
	if err != nil {
		return nil, err
	}

	var cache models.WalletCache
	err = db.First(&cache, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load wallet cache: %w", err)
	}

	entry := &models.ReconciliationLog{
		ID:                uuid.New(),
		UserID:            userID,
		ExpectedAvailable: expectedAvailable,
		CachedAvailable:   cache.Available,
		ExpectedEscrow:    expectedEscrow,
		CachedEscrow:      cache.Escrow,
		Mismatch: expectedAvailable.Sub(cache.Available).Abs().GreaterThan(tolerance) ||
			expectedEscrow.Sub(cache.Escrow).Abs().GreaterThan(tolerance),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to record reconciliation log: %w", err)
	}

	if entry.Mismatch {
		s.logger.Warn("wallet cache drift detected",
			zap.String("user_id", userID.String()),
			zap.String("expected_available", expectedAvailable.StringFixed(2)),
			zap.String("cached_available", cache.Available.StringFixed(2)),
			zap.String("expected_escrow", expectedEscrow.StringFixed(2)),
			zap.String("cached_escrow", cache.Escrow.StringFixed(2)))
	}
	return entry, nil
}

// raiseFlag opens a flag for the wallet unless one is already
// outstanding. Returns whether a new flag was created.
func (s *Service) raiseFlag(ctx context.Context, entry *models.ReconciliationLog) (bool, error) {
	db := s.db.WithContext(ctx)

	var open int64
	if err := db.Model(&models.ReconciliationFlag{}).
		Where("user_id = ? AND resolved = ?", entry.UserID, false).
		Count(&open).Error; err != nil {
		return false, fmt.Errorf("failed to check open flags: %w", err)
	}
	if open > 0 {
		return false, nil
	}

	flag := &models.ReconciliationFlag{
		ID:     uuid.New(),
		UserID: entry.UserID,
		Details: fmt.Sprintf("available expected %s cached %s; escrow expected %s cached %s",
			entry.ExpectedAvailable.StringFixed(2), entry.CachedAvailable.StringFixed(2),
			entry.ExpectedEscrow.StringFixed(2), entry.CachedEscrow.StringFixed(2)),
		Resolved:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(flag).Error; err != nil {
		return false, fmt.Errorf("failed to raise reconciliation flag: %w", err)
	}
	return true, nil
}

// ResolveFlag retires an open flag once an operator or repair process
// confirmed convergence. A clean later run never auto-resolves.
func (s *Service) ResolveFlag(ctx context.Context, flagID, adminID uuid.UUID) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.ReconciliationFlag{}).
		Where("id = ? AND resolved = ?", flagID, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_by": adminID,
			"resolved_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve flag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFlagNotOpen
	}
	return nil
}

// ListLogs returns reconciliation comparisons, newest first.
func (s *Service) ListLogs(ctx context.Context, mismatchOnly bool, limit, offset int) ([]*models.ReconciliationLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ReconciliationLog{})
	if mismatchOnly {
		q = q.Where("mismatch = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reconciliation logs: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []*models.ReconciliationLog
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list reconciliation logs: %w", err)
	}
	return logs, total, nil
}

// ListFlags returns reconciliation flags, newest first.
func (s *Service) ListFlags(ctx context.Context, openOnly bool, limit, offset int) ([]*models.ReconciliationFlag, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ReconciliationFlag{})
	if openOnly {
		q = q.Where("resolved = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reconciliation flags: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var flags []*models.ReconciliationFlag
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&flags).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list reconciliation flags: %w", err)
	}
	return flags, total, nil
}
