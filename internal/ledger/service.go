package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

var (
	// ErrCorruption signals that the two halves of a double entry
	// disagree on their insert state. It is an integrity error: the
	// enclosing transaction must be rolled back and never retried
	// automatically.
	ErrCorruption = errors.New("ledger corruption: double entry halves disagree")

	// ErrInvalidEntry is returned for entries that fail validation
	// before any write is attempted.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// Side identifies one side of a transfer: whose balance, and which
// bucket. A nil UserID means the platform-owned side.
type Side struct {
	UserID      *uuid.UUID
	BalanceType models.BalanceType
}

// ReportFilter narrows the operator ledger report.
type ReportFilter struct {
	UserID      *uuid.UUID
	BalanceType models.BalanceType
	Type        string
	Reference   string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// LedgerService is the sole writer of ledger entries and the source of
// truth for balances.
type LedgerService interface {
	CreateEntry(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) (bool, error)
	CreateDoubleEntry(ctx context.Context, tx *gorm.DB, debit, credit Side, amount decimal.Decimal, entryType, reference, idempotencyBase string) (bool, error)
	GetBalance(ctx context.Context, userID *uuid.UUID, balanceType models.BalanceType) (decimal.Decimal, error)
	BalanceIn(tx *gorm.DB, userID *uuid.UUID, balanceType models.BalanceType) (decimal.Decimal, error)
	ReferenceBalance(tx *gorm.DB, userID *uuid.UUID, balanceType models.BalanceType, reference string) (decimal.Decimal, error)
	SyncWalletCache(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) error
	EntriesReport(ctx context.Context, filter ReportFilter) ([]*models.LedgerEntry, int64, error)
}

// Service implements LedgerService on gorm.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a new LedgerService.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CreateEntry inserts one immutable ledger row. The insert is
// conflict-safe on the idempotency key: repeating the same key is a
// no-op, and the return value reports whether the row was newly
// inserted.
func (s *Service) CreateEntry(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	if err := validateEntry(entry); err != nil {
		return false, err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create ledger entry: %w", res.Error)
	}

	return res.RowsAffected == 1, nil
}

// CreateDoubleEntry creates a balanced debit+credit pair sharing the
// idempotency base with ":debit"/":credit" suffixes. Both sides insert
// or neither does; if their insert state disagrees the ledger is
// corrupt and the call fails hard so the enclosing transaction aborts.
func (s *Service) CreateDoubleEntry(ctx context.Context, tx *gorm.DB, debit, credit Side, amount decimal.Decimal, entryType, reference, idempotencyBase string) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	if !amount.IsPositive() {
		return false, fmt.Errorf("%w: amount must be positive", ErrInvalidEntry)
	}

	debitInserted, err := s.CreateEntry(ctx, tx, &models.LedgerEntry{
		UserID:         debit.UserID,
		Amount:         amount,
		Direction:      models.DirectionDebit,
		BalanceType:    debit.BalanceType,
		Type:           entryType,
		Reference:      reference,
		IdempotencyKey: idempotencyBase + ":debit",
	})
	if err != nil {
		return false, err
	}

	creditInserted, err := s.CreateEntry(ctx, tx, &models.LedgerEntry{
		UserID:         credit.UserID,
		Amount:         amount,
		Direction:      models.DirectionCredit,
		BalanceType:    credit.BalanceType,
		Type:           entryType,
		Reference:      reference,
		IdempotencyKey: idempotencyBase + ":credit",
	})
	if err != nil {
		return false, err
	}

	if debitInserted != creditInserted {
		s.logger.Error("double entry halves disagree",
			zap.String("idempotency_base", idempotencyBase),
			zap.Bool("debit_inserted", debitInserted),
			zap.Bool("credit_inserted", creditInserted))
		return false, fmt.Errorf("%w: base %s", ErrCorruption, idempotencyBase)
	}

	return debitInserted, nil
}

// GetBalance reduces all matching entries to a balance. Always
// authoritative; never read from the wallet cache for decisions.
func (s *Service) GetBalance(ctx context.Context, userID *uuid.UUID, balanceType models.BalanceType) (decimal.Decimal, error) {
	return s.BalanceIn(s.db.WithContext(ctx), userID, balanceType)
}

// BalanceIn is GetBalance running on the given transaction handle, for
// callers that need the balance under their own row locks.
func (s *Service) BalanceIn(tx *gorm.DB, userID *uuid.UUID, balanceType models.BalanceType) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal
	}
	q := tx.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0) AS total", models.DirectionCredit).
		Where("balance_type = ?", balanceType)
	q = whereUser(q, userID)
	if err := q.Scan(&out).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute balance: %w", err)
	}
	return out.Total, nil
}

// ReferenceBalance computes the balance contributed by entries carrying
// a specific reference. Used by the released-refund split, which reads
// the revenue recognized against a payment at refund time.
func (s *Service) ReferenceBalance(tx *gorm.DB, userID *uuid.UUID, balanceType models.BalanceType, reference string) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal
	}
	q := tx.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0) AS total", models.DirectionCredit).
		Where("balance_type = ? AND reference = ?", balanceType, reference)
	q = whereUser(q, userID)
	if err := q.Scan(&out).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute reference balance: %w", err)
	}
	return out.Total, nil
}

// SyncWalletCache recomputes and overwrites the cached available/escrow
// totals for each listed user from a full ledger replay.
func (s *Service) SyncWalletCache(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) error {
	if tx == nil {
		tx = s.db
	}
	tx = tx.WithContext(ctx)

	for _, userID := range userIDs {
		uid := userID
		available, err := s.BalanceIn(tx, &uid, models.BalanceAvailable)
		if err != nil {
			return err
		}
		escrow, err := s.BalanceIn(tx, &uid, models.BalanceEscrow)
		if err != nil {
			return err
		}

		cache := &models.WalletCache{
			UserID:    uid,
			Available: available,
			Escrow:    escrow,
			UpdatedAt: time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).Create(cache).Error; err != nil {
			return fmt.Errorf("failed to sync wallet cache for %s: %w", uid, err)
		}
	}

	return nil
}

// EntriesReport returns ledger entries matching the filter, newest
// first, plus the total match count.
func (s *Service) EntriesReport(ctx context.Context, filter ReportFilter) ([]*models.LedgerEntry, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.BalanceType != "" {
		q = q.Where("balance_type = ?", filter.BalanceType)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Reference != "" {
		q = q.Where("reference = ?", filter.Reference)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []*models.LedgerEntry
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	return entries, total, nil
}

func validateEntry(entry *models.LedgerEntry) error {
	if !entry.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEntry)
	}
	if entry.Direction != models.DirectionCredit && entry.Direction != models.DirectionDebit {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidEntry, entry.Direction)
	}
	switch entry.BalanceType {
	case models.BalanceAvailable, models.BalanceEscrow, models.BalanceLocked,
		models.BalancePlatform, models.BalanceRevenue, models.BalancePayout:
	default:
		return fmt.Errorf("%w: unknown balance type %q", ErrInvalidEntry, entry.BalanceType)
	}
	if entry.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidEntry)
	}
	if entry.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidEntry)
	}
	return nil
}

// LockForUpdate adds a row lock on dialects that support it. The
// sqlite driver used in tests serializes writes on its own.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func whereUser(q *gorm.DB, userID *uuid.UUID) *gorm.DB {
	if userID == nil {
		return q.Where("user_id IS NULL")
	}
	return q.Where("user_id = ?", *userID)
}
