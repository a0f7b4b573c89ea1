package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/finlog"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/fraud"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/notification"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

var (
	// ErrWalletRestricted is returned when a standing restriction blocks
	// new withdrawals for the user.
	ErrWalletRestricted = errors.New("wallet is restricted")

	// ErrInsufficientFunds is returned when the ledger-derived available
	// balance does not cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient available balance")

	// ErrIllegalState is returned when an operation does not apply to
	// the withdrawal's current status.
	ErrIllegalState = errors.New("withdrawal is not in a valid state for this operation")

	// ErrStaleWithdrawal means the row changed between the locked read
	// and the guarded update. Integrity error; the transaction aborts.
	ErrStaleWithdrawal = errors.New("withdrawal changed concurrently")
)

// Notifier receives best-effort notifications after committed changes.
type Notifier interface {
	Enqueue(msg notification.Message) bool
}

// WithdrawalService manages user payouts: fraud screening at request
// time, the hold/release/settle ledger primitives, and the provider
// transfer lifecycle.
type WithdrawalService interface {
	Request(ctx context.Context, w *models.Withdrawal) (*fraud.Evaluation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	List(ctx context.Context, userID *uuid.UUID, status models.WithdrawalStatus, limit, offset int) ([]*models.Withdrawal, int64, error)
	ApproveReviewed(ctx context.Context, id, adminID uuid.UUID, note string) (*models.Withdrawal, error)
	RejectReviewed(ctx context.Context, id, adminID uuid.UUID, note string) (*models.Withdrawal, error)
	CompleteTransfer(ctx context.Context, providerRef string) (*models.Withdrawal, error)
	FailTransfer(ctx context.Context, providerRef, reason string) (*models.Withdrawal, error)
	VerifyStalled(ctx context.Context, olderThan time.Duration) (int, error)
}

// Service implements WithdrawalService.
type Service struct {
	db       *gorm.DB
	logger   *zap.Logger
	ledger   ledger.LedgerService
	fraud    *fraud.Service
	finlog   finlog.FinlogService
	notifier Notifier
	provider ProviderClient
	validate *validator.Validate
}

// NewService creates a new WithdrawalService.
func NewService(db *gorm.DB, logger *zap.Logger, ledgerSvc ledger.LedgerService, fraudSvc *fraud.Service, finlogSvc finlog.FinlogService, notifier Notifier, provider ProviderClient) *Service {
	return &Service{
		db:       db,
		logger:   logger,
		ledger:   ledgerSvc,
		fraud:    fraudSvc,
		finlog:   finlogSvc,
		notifier: notifier,
		provider: provider,
		validate: validator.New(),
	}
}

// Request accepts a withdrawal: restriction check, ledger-derived
// balance check, fraud evaluation, then either an immediate hold
// (pending) or a manual review gate (pending_review) with no hold.
func (s *Service) Request(ctx context.Context, w *models.Withdrawal) (*fraud.Evaluation, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.Status = models.WithdrawalPending
	if !w.Amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}
	if err := s.validate.Struct(w); err != nil {
		return nil, fmt.Errorf("invalid withdrawal: %w", err)
	}

	restricted, reason, err := s.fraud.IsRestricted(ctx, nil, w.UserID)
	if err != nil {
		return nil, err
	}
	if restricted {
		return nil, fmt.Errorf("%w: %s", ErrWalletRestricted, reason)
	}

	var eval *fraud.Evaluation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize per-user holds through the wallet cache row.
		var cache models.WalletCache
		if err := ledger.LockForUpdate(tx).
			First(&cache, "user_id = ?", w.UserID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		available, err := s.ledger.BalanceIn(tx, &w.UserID, models.BalanceAvailable)
		if err != nil {
			return err
		}
		if available.LessThan(w.Amount) {
			return fmt.Errorf("%w: available %s, requested %s",
				ErrInsufficientFunds, available.StringFixed(2), w.Amount.StringFixed(2))
		}

		eval, err = s.fraud.EvaluateWithdrawal(ctx, tx, w.UserID, w.Amount, available, &w.ID)
		if err != nil {
			return err
		}

		if eval.Flagged {
			w.Status = models.WithdrawalPendingReview
			if err := tx.Create(w).Error; err != nil {
				return fmt.Errorf("failed to create withdrawal: %w", err)
			}
			for _, flagReason := range eval.Reasons {
				if _, _, err := s.fraud.EnqueueReview(ctx, tx, &models.FraudReview{
					UserID:       w.UserID,
					WithdrawalID: &w.ID,
					RiskScore:    eval.BehavioralScore,
					Reason:       flagReason,
					Status:       models.ReviewPending,
				}); err != nil {
					return err
				}
			}
			return nil
		}

		if err := tx.Create(w).Error; err != nil {
			return fmt.Errorf("failed to create withdrawal: %w", err)
		}
		if err := s.hold(ctx, tx, w); err != nil {
			return err
		}
		return s.ledger.SyncWalletCache(ctx, tx, []uuid.UUID{w.UserID})
	})
	if err != nil {
		return nil, err
	}

	if w.Status == models.WithdrawalPendingReview {
		s.notify(notification.Message{
			Kind:    "withdrawal.review",
			UserID:  &w.UserID,
			Subject: "Withdrawal under review",
			Body:    fmt.Sprintf("Withdrawal %s was routed to manual review.", w.ID),
		})
		return eval, nil
	}

	s.appendEvent(ctx, finlog.Event{
		Type:         models.FinEventWithdrawalHeld,
		UserID:       &w.UserID,
		WithdrawalID: &w.ID,
		Payload: map[string]interface{}{
			"withdrawal_id": w.ID.String(),
			"user_id":       w.UserID.String(),
			"amount":        w.Amount.String(),
		},
	})

	if err := s.initiateTransfer(ctx, w); err != nil {
		// Funds stay held under pending; the stalled-transfer sweep or
		// an operator retry picks it up.
		s.logger.Error("failed to initiate provider transfer",
			zap.String("withdrawal_id", w.ID.String()),
			zap.Error(err))
	}
	return eval, nil
}

// Get loads one withdrawal.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load withdrawal %s: %w", id, err)
	}
	return &w, nil
}

// List returns withdrawals matching the filter, newest first.
func (s *Service) List(ctx context.Context, userID *uuid.UUID, status models.WithdrawalStatus, limit, offset int) ([]*models.Withdrawal, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Withdrawal{})
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count withdrawals: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var withdrawals []*models.Withdrawal
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&withdrawals).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return withdrawals, total, nil
}

// ApproveReviewed moves a reviewed withdrawal back onto the normal
// path: the hold is placed now, then the provider transfer starts.
func (s *Service) ApproveReviewed(ctx context.Context, id, adminID uuid.UUID, note string) (*models.Withdrawal, error) {
	w, err := s.guardedUpdate(ctx, id, models.WithdrawalPendingReview, models.WithdrawalPending, func(tx *gorm.DB, w *models.Withdrawal) error {
		available, err := s.ledger.BalanceIn(tx, &w.UserID, models.BalanceAvailable)
		if err != nil {
			return err
		}
		if available.LessThan(w.Amount) {
			return fmt.Errorf("%w: available %s, requested %s",
				ErrInsufficientFunds, available.StringFixed(2), w.Amount.StringFixed(2))
		}
		if err := s.hold(ctx, tx, w); err != nil {
			return err
		}
		return s.ledger.SyncWalletCache(ctx, tx, []uuid.UUID{w.UserID})
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, finlog.Event{
		Type:         models.FinEventReviewResolved,
		UserID:       &adminID,
		WithdrawalID: &w.ID,
		Payload: map[string]interface{}{
			"withdrawal_id": w.ID.String(),
			"outcome":       "approved",
			"resolved_by":   adminID.String(),
			"note":          note,
		},
	})
	s.appendEvent(ctx, finlog.Event{
		Type:         models.FinEventWithdrawalHeld,
		UserID:       &w.UserID,
		WithdrawalID: &w.ID,
		Payload: map[string]interface{}{
			"withdrawal_id": w.ID.String(),
			"user_id":       w.UserID.String(),
			"amount":        w.Amount.String(),
		},
	})

	if err := s.initiateTransfer(ctx, w); err != nil {
		s.logger.Error("failed to initiate provider transfer",
			zap.String("withdrawal_id", w.ID.String()),
			zap.Error(err))
	}
	return w, nil
}

// RejectReviewed terminates a reviewed withdrawal. No hold was placed,
// so no ledger movement is needed.
func (s *Service) RejectReviewed(ctx context.Context, id, adminID uuid.UUID, note string) (*models.Withdrawal, error) {
	w, err := s.guardedUpdate(ctx, id, models.WithdrawalPendingReview, models.WithdrawalRejected, func(tx *gorm.DB, w *models.Withdrawal) error {
		w.FailureReason = note
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, finlog.Event{
		Type:         models.FinEventReviewResolved,
		UserID:       &adminID,
		WithdrawalID: &w.ID,
		Payload: map[string]interface{}{
			"withdrawal_id": w.ID.String(),
			"outcome":       "rejected",
			"resolved_by":   adminID.String(),
			"note":          note,
		},
	})
	s.notify(notification.Message{
		Kind:    "withdrawal.rejected",
		UserID:  &w.UserID,
		Subject: "Withdrawal rejected",
		Body:    fmt.Sprintf("Withdrawal %s was rejected after review.", w.ID),
	})
	return w, nil
}

// CompleteTransfer settles a confirmed transfer: locked funds move to
// the terminal payout balance. Repeated provider callbacks are absorbed
// by the status guard and the settle idempotency key.
func (s *Service) CompleteTransfer(ctx context.Context, providerRef string) (*models.Withdrawal, error) {
	w, err := s.getByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if w.Status == models.WithdrawalCompleted {
		return w, nil
	}

	w, err = s.guardedUpdate(ctx, w.ID, models.WithdrawalProcessing, models.WithdrawalCompleted, func(tx *gorm.DB, w *models.Withdrawal) error {
		now := time.Now().UTC()
		w.ProcessedAt = &now
		if err := s.settle(ctx, tx, w); err != nil {
			return err
		}
		return s.ledger.SyncWalletCache(ctx, tx, []uuid.UUID{w.UserID})
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, finlog.Event{
		Type:         models.FinEventWithdrawalSettled,
		UserID:       &w.UserID,
		WithdrawalID: &w.ID,
		Payload: map[string]interface{}{
			"withdrawal_id": w.ID.String(),
			"user_id":       w.UserID.String(),
			"amount":        w.Amount.String(),
		},
	})
	s.notify(notification.Message{
		Kind:    "withdrawal.completed",
		UserID:  &w.UserID,
		Subject: "Withdrawal completed",
		Body:    fmt.Sprintf("Your withdrawal of %s was paid out.", w.Amount.StringFixed(2)),
	})
	return w, nil
}

// FailTransfer reverses the hold after a provider transfer failure; the
// funds return to the user's available balance.
func (s *Service) FailTransfer(ctx context.Context, providerRef, reason string) (*models.Withdrawal, error) {
	w, err := s.getByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if w.Status == models.WithdrawalFailed {
		return w, nil
	}

	w, err = s.guardedUpdate(ctx, w.ID, models.WithdrawalProcessing, models.WithdrawalFailed, func(tx *gorm.DB, w *models.Withdrawal) error {
		w.FailureReason = reason
		if err := s.releaseHold(ctx, tx, w); err != nil {
			return err
		}
		return s.ledger.SyncWalletCache(ctx, tx, []uuid.UUID{w.UserID})
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, finlog.Event{
		Type:         models.FinEventWithdrawalReleased,
		UserID:       &w.UserID,
		WithdrawalID: &w.ID,
		Payload: map[string]interface{}{
			"withdrawal_id": w.ID.String(),
			"user_id":       w.UserID.String(),
			"amount":        w.Amount.String(),
			"reason":        reason,
		},
	})
	s.notify(notification.Message{
		Kind:    "withdrawal.failed",
		UserID:  &w.UserID,
		Subject: "Withdrawal failed",
		Body:    fmt.Sprintf("Withdrawal %s failed and the funds were returned.", w.ID),
	})
	return w, nil
}

// VerifyStalled polls the provider for processing withdrawals that have
// not seen a webhook in the given window and applies the authoritative
// answer. Returns the number of withdrawals resolved.
func (s *Service) VerifyStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var stalled []*models.Withdrawal
	if err := s.db.WithContext(ctx).
		Where("status = ? AND provider_ref IS NOT NULL AND updated_at < ?", models.WithdrawalProcessing, cutoff).
		Find(&stalled).Error; err != nil {
		return 0, fmt.Errorf("failed to list stalled withdrawals: %w", err)
	}

	resolved := 0
	for _, w := range stalled {
		status, err := s.provider.VerifyTransfer(ctx, *w.ProviderRef)
		if err != nil {
			s.logger.Warn("failed to verify stalled transfer",
				zap.String("withdrawal_id", w.ID.String()),
				zap.Error(err))
			continue
		}
		switch status {
		case TransferCompleted:
			if _, err := s.CompleteTransfer(ctx, *w.ProviderRef); err != nil {
				s.logger.Error("failed to settle verified transfer",
					zap.String("withdrawal_id", w.ID.String()),
					zap.Error(err))
				continue
			}
			resolved++
		case TransferFailed:
			if _, err := s.FailTransfer(ctx, *w.ProviderRef, "provider verification reported failure"); err != nil {
				s.logger.Error("failed to fail verified transfer",
					zap.String("withdrawal_id", w.ID.String()),
					zap.Error(err))
				continue
			}
			resolved++
		}
	}
	return resolved, nil
}

// hold moves the requested amount out of spendable funds immediately,
// before any provider call.
func (s *Service) hold(ctx context.Context, tx *gorm.DB, w *models.Withdrawal) error {
	_, err := s.ledger.CreateDoubleEntry(ctx, tx,
		ledger.Side{UserID: &w.UserID, BalanceType: models.BalanceAvailable},
		ledger.Side{UserID: &w.UserID, BalanceType: models.BalanceLocked},
		w.Amount, "withdrawal_hold", w.ID.String(),
		fmt.Sprintf("withdrawal:%s:hold", w.ID))
	return err
}

// releaseHold is the exact reverse of hold.
func (s *Service) releaseHold(ctx context.Context, tx *gorm.DB, w *models.Withdrawal) error {
	_, err := s.ledger.CreateDoubleEntry(ctx, tx,
		ledger.Side{UserID: &w.UserID, BalanceType: models.BalanceLocked},
		ledger.Side{UserID: &w.UserID, BalanceType: models.BalanceAvailable},
		w.Amount, "withdrawal_release", w.ID.String(),
		fmt.Sprintf("withdrawal:%s:release", w.ID))
	return err
}

// settle moves the held funds into the terminal payout balance.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, w *models.Withdrawal) error {
	_, err := s.ledger.CreateDoubleEntry(ctx, tx,
		ledger.Side{UserID: &w.UserID, BalanceType: models.BalanceLocked},
		ledger.Side{UserID: &w.UserID, BalanceType: models.BalancePayout},
		w.Amount, "withdrawal_settle", w.ID.String(),
		fmt.Sprintf("withdrawal:%s:settle", w.ID))
	return err
}

// initiateTransfer submits the payout to the provider and moves the
// withdrawal to processing with the provider reference attached.
func (s *Service) initiateTransfer(ctx context.Context, w *models.Withdrawal) error {
	ref, err := s.provider.InitiateTransfer(ctx, w)
	if err != nil {
		return err
	}

	updated, err := s.guardedUpdate(ctx, w.ID, models.WithdrawalPending, models.WithdrawalProcessing, func(tx *gorm.DB, w *models.Withdrawal) error {
		w.ProviderRef = &ref
		return nil
	})
	if err != nil {
		return err
	}
	*w = *updated
	return nil
}

// guardedUpdate is the single mutation path: lock the row, require the
// expected status, run the mutation, and write the new status guarded
// by the old one.
func (s *Service) guardedUpdate(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, mutate func(tx *gorm.DB, w *models.Withdrawal) error) (*models.Withdrawal, error) {
	var out *models.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w models.Withdrawal
		if err := ledger.LockForUpdate(tx).
			First(&w, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to lock withdrawal %s: %w", id, err)
		}
		if w.Status != from {
			return fmt.Errorf("%w: %s is %s, expected %s", ErrIllegalState, id, w.Status, from)
		}

		if mutate != nil {
			if err := mutate(tx, &w); err != nil {
				return err
			}
		}

		w.Status = to
		w.UpdatedAt = time.Now().UTC()
		res := tx.Model(&models.Withdrawal{}).
			Where("id = ? AND status = ?", id, from).
			Select("status", "provider_ref", "failure_reason", "processed_at", "updated_at").
			Updates(&w)
		if res.Error != nil {
			return fmt.Errorf("failed to update withdrawal status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s left %s concurrently", ErrStaleWithdrawal, id, from)
		}

		out = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) getByProviderRef(ctx context.Context, providerRef string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := s.db.WithContext(ctx).First(&w, "provider_ref = ?", providerRef).Error; err != nil {
		return nil, fmt.Errorf("failed to load withdrawal by provider ref: %w", err)
	}
	return &w, nil
}

func (s *Service) appendEvent(ctx context.Context, event finlog.Event) {
	if _, err := s.finlog.Append(ctx, nil, event); err != nil {
		s.logger.Error("failed to append financial event",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}

func (s *Service) notify(msg notification.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.Enqueue(msg)
}
