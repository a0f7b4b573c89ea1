package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/finlog"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/notification"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

var (
	// ErrIllegalTransition is returned for a status pair that is not in
	// the transition table. Nothing has been mutated.
	ErrIllegalTransition = errors.New("illegal payment transition")

	// ErrDisputedLocked is returned when a transition other than dispute
	// resolution is attempted on a disputed payment.
	ErrDisputedLocked = errors.New("payment is locked by an open dispute")

	// ErrMissingRecipient means a release was attempted with no accepted
	// application mapping the project to a student. The enclosing
	// transaction is aborted with zero partial writes.
	ErrMissingRecipient = errors.New("no recipient mapping for release")

	// ErrStaleTransition means the payment row changed under us between
	// the locked read and the guarded update. It indicates a locking
	// fault and is treated as an integrity error.
	ErrStaleTransition = errors.New("payment changed during transition")

	// ErrOpenDispute is returned when a dispute is raised on a payment
	// that already has one open.
	ErrOpenDispute = errors.New("payment already has an open dispute")

	// ErrNoOpenDispute is returned when resolving a dispute that is not
	// open.
	ErrNoOpenDispute = errors.New("dispute is not open")
)

// Config carries the platform-level payment parameters.
type Config struct {
	// FeePercent is the platform fee taken on release, in percent.
	FeePercent decimal.Decimal
	// SystemAccountID attributes system-initiated actions in the audit
	// trail.
	SystemAccountID uuid.UUID
}

// Notifier receives best-effort notifications emitted after a committed
// transition.
type Notifier interface {
	Enqueue(msg notification.Message) bool
}

// PaymentService drives the payment state machine. Every status change
// runs its paired ledger effect in the same database transaction.
type PaymentService interface {
	Create(ctx context.Context, payment *models.Payment) error
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*models.Payment, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Payment, int64, error)
	MarkPaid(ctx context.Context, providerRef string) (*models.Payment, error)
	MarkFailed(ctx context.Context, providerRef string) (*models.Payment, error)
	Release(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	Refund(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	MarkTransferFailed(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	RetryTransfer(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	MarkWithdrawn(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	OpenDispute(ctx context.Context, paymentID, raisedBy uuid.UUID, reason string) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, disputeID, adminID uuid.UUID, outcome models.PaymentStatus, resolution string) (*models.Payment, error)
}

// ListFilter narrows the payment listing.
type ListFilter struct {
	CompanyID *uuid.UUID
	StudentID *uuid.UUID
	ProjectID *uuid.UUID
	Status    models.PaymentStatus
	Limit     int
	Offset    int
}

// Service implements PaymentService.
type Service struct {
	db       *gorm.DB
	logger   *zap.Logger
	ledger   ledger.LedgerService
	finlog   finlog.FinlogService
	notifier Notifier
	cfg      Config
	validate *validator.Validate
}

// NewService creates a new PaymentService.
func NewService(db *gorm.DB, logger *zap.Logger, ledgerSvc ledger.LedgerService, finlogSvc finlog.FinlogService, notifier Notifier, cfg Config) *Service {
	return &Service{
		db:       db,
		logger:   logger,
		ledger:   ledgerSvc,
		finlog:   finlogSvc,
		notifier: notifier,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// transitionContext carries the state one transition's effect operates
// on: the locked payment row, the transaction handle, and the users
// whose wallet caches need a resync after the ledger writes.
type transitionContext struct {
	svc     *Service
	ctx     context.Context
	tx      *gorm.DB
	payment *models.Payment
	touched []uuid.UUID
	events  []finlog.Event
}

// Create registers a new pending payment awaiting provider confirmation.
func (s *Service) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	payment.Status = models.PaymentPending
	payment.Escrow = false
	payment.Disputed = false
	if !payment.Amount.IsPositive() {
		return fmt.Errorf("payment amount must be positive")
	}
	if err := s.validate.Struct(payment); err != nil {
		return fmt.Errorf("invalid payment: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// Get loads one payment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", id, err)
	}
	return &payment, nil
}

// GetByProviderRef loads the payment bound to a provider reference.
func (s *Service) GetByProviderRef(ctx context.Context, providerRef string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "provider_ref = ?", providerRef).Error; err != nil {
		return nil, fmt.Errorf("failed to load payment by provider ref: %w", err)
	}
	return &payment, nil
}

// List returns payments matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*models.Payment, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Payment{})
	if filter.CompanyID != nil {
		q = q.Where("company_id = ?", *filter.CompanyID)
	}
	if filter.StudentID != nil {
		q = q.Where("student_id = ?", *filter.StudentID)
	}
	if filter.ProjectID != nil {
		q = q.Where("project_id = ?", *filter.ProjectID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var payments []*models.Payment
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&payments).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, total, nil
}

// MarkPaid confirms provider capture: pending -> paid, funding escrow.
func (s *Service) MarkPaid(ctx context.Context, providerRef string) (*models.Payment, error) {
	payment, err := s.GetByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	return s.applyTransition(ctx, payment.ID, models.PaymentPaid, false, nil)
}

// MarkFailed records a provider capture failure: pending -> failed.
func (s *Service) MarkFailed(ctx context.Context, providerRef string) (*models.Payment, error) {
	payment, err := s.GetByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	return s.applyTransition(ctx, payment.ID, models.PaymentFailed, false, nil)
}

// Release pays out escrow to the project's accepted student with the
// platform fee split: paid -> released.
func (s *Service) Release(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.applyTransition(ctx, id, models.PaymentReleased, false, nil)
}

// Refund returns funds toward the platform: paid -> refunded, or the
// released claw-back path.
func (s *Service) Refund(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.applyTransition(ctx, id, models.PaymentRefunded, false, nil)
}

// MarkTransferFailed records a failed outbound transfer after release.
// The ledger is untouched; the funds remain in the student's available
// balance until the transfer is retried.
func (s *Service) MarkTransferFailed(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.applyTransition(ctx, id, models.PaymentTransferFailed, false, nil)
}

// RetryTransfer returns a transfer_failed payment to released so the
// payout can be attempted again.
func (s *Service) RetryTransfer(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.applyTransition(ctx, id, models.PaymentReleased, false, nil)
}

// MarkWithdrawn records that the released funds left the platform
// through a settled withdrawal. Pure status change; the withdrawal's
// own ledger entries carry the money movement.
func (s *Service) MarkWithdrawn(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.applyTransition(ctx, id, models.PaymentWithdrawn, false, nil)
}

// OpenDispute raises a dispute on a paid or released payment, freezing
// the disputed funds in the holder's locked balance and gating all
// further transitions.
func (s *Service) OpenDispute(ctx context.Context, paymentID, raisedBy uuid.UUID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("dispute reason is required")
	}

	dispute := &models.Dispute{
		ID:        uuid.New(),
		PaymentID: paymentID,
		RaisedBy:  raisedBy,
		Reason:    reason,
		Status:    models.DisputeOpen,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.applyTransition(ctx, paymentID, models.PaymentDisputed, false, func(tc *transitionContext) error {
		var open int64
		if err := tc.tx.Model(&models.Dispute{}).
			Where("payment_id = ? AND status = ?", paymentID, models.DisputeOpen).
			Count(&open).Error; err != nil {
			return fmt.Errorf("failed to check open disputes: %w", err)
		}
		if open > 0 {
			return ErrOpenDispute
		}
		if err := tc.tx.Create(dispute).Error; err != nil {
			return fmt.Errorf("failed to create dispute: %w", err)
		}

		tc.events = append(tc.events, finlog.Event{
			Type:      models.FinEventPaymentDisputed,
			UserID:    &raisedBy,
			PaymentID: &paymentID,
			DisputeID: &dispute.ID,
			Payload: map[string]interface{}{
				"payment_id": paymentID.String(),
				"dispute_id": dispute.ID.String(),
				"raised_by":  raisedBy.String(),
				"reason":     reason,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(notification.Message{
		Kind:    "dispute.opened",
		UserID:  &raisedBy,
		Subject: "Dispute opened",
		Body:    fmt.Sprintf("A dispute was opened on payment %s.", paymentID),
	})
	return dispute, nil
}

// ResolveDispute closes an open dispute with the given outcome
// (released or refunded). The gate clear, the dispute update, and the
// ledger effect commit atomically.
func (s *Service) ResolveDispute(ctx context.Context, disputeID, adminID uuid.UUID, outcome models.PaymentStatus, resolution string) (*models.Payment, error) {
	if outcome != models.PaymentReleased && outcome != models.PaymentRefunded {
		return nil, fmt.Errorf("%w: dispute outcome must be released or refunded", ErrIllegalTransition)
	}

	var dispute models.Dispute
	if err := s.db.WithContext(ctx).First(&dispute, "id = ?", disputeID).Error; err != nil {
		return nil, fmt.Errorf("failed to load dispute %s: %w", disputeID, err)
	}
	if dispute.Status != models.DisputeOpen {
		return nil, ErrNoOpenDispute
	}

	payment, err := s.applyTransition(ctx, dispute.PaymentID, outcome, true, func(tc *transitionContext) error {
		now := time.Now().UTC()
		res := tc.tx.Model(&models.Dispute{}).
			Where("id = ? AND status = ?", disputeID, models.DisputeOpen).
			Updates(map[string]interface{}{
				"status":      models.DisputeResolved,
				"resolution":  resolution,
				"resolved_by": adminID,
				"resolved_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to resolve dispute: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNoOpenDispute
		}

		tc.events = append(tc.events, finlog.Event{
			Type:      models.FinEventDisputeResolved,
			UserID:    &adminID,
			PaymentID: &dispute.PaymentID,
			DisputeID: &disputeID,
			Payload: map[string]interface{}{
				"payment_id": dispute.PaymentID.String(),
				"dispute_id": disputeID.String(),
				"outcome":    string(outcome),
				"resolution": resolution,
				"resolved_by": adminID.String(),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(notification.Message{
		Kind:    "dispute.resolved",
		Subject: "Dispute resolved",
		Body:    fmt.Sprintf("Dispute %s on payment %s resolved as %s.", disputeID, dispute.PaymentID, outcome),
	})
	return payment, nil
}

// applyTransition is the single path every status change goes through:
// lock the row, consult the table, run the paired ledger effect, update
// the status guarded by the previous one, resync wallet caches, and
// commit. Audit events collected by the effect are appended to the
// financial event log after commit.
func (s *Service) applyTransition(ctx context.Context, paymentID uuid.UUID, to models.PaymentStatus, viaResolution bool, extra func(tc *transitionContext) error) (*models.Payment, error) {
	var (
		payment *models.Payment
		events  []finlog.Event
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		if err := ledger.LockForUpdate(tx).
			First(&p, "id = ?", paymentID).Error; err != nil {
			return fmt.Errorf("failed to lock payment %s: %w", paymentID, err)
		}

		if p.Disputed && !viaResolution {
			return fmt.Errorf("%w: payment %s", ErrDisputedLocked, p.ID)
		}

		eff, err := lookupTransition(p.Status, to)
		if err != nil {
			return err
		}

		from := p.Status
		tc := &transitionContext{svc: s, ctx: ctx, tx: tx, payment: &p}
		if eff != nil {
			if err := eff(tc); err != nil {
				return err
			}
		}
		if extra != nil {
			if err := extra(tc); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		p.Status = to
		p.UpdatedAt = now
		switch to {
		case models.PaymentPaid:
			p.Escrow = true
			p.PaidAt = &now
		case models.PaymentReleased:
			p.Escrow = false
			if p.ReleasedAt == nil {
				p.ReleasedAt = &now
			}
		case models.PaymentRefunded:
			p.Escrow = false
			p.RefundedAt = &now
		case models.PaymentDisputed:
			p.Disputed = true
		}
		if viaResolution {
			p.Disputed = false
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", p.ID, from).
			Select("status", "escrow", "disputed", "student_id", "paid_at", "released_at", "refunded_at", "updated_at").
			Updates(&p)
		if res.Error != nil {
			return fmt.Errorf("failed to update payment status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: payment %s left %s concurrently", ErrStaleTransition, p.ID, from)
		}

		if len(tc.touched) > 0 {
			if err := s.ledger.SyncWalletCache(ctx, tx, dedupe(tc.touched)); err != nil {
				return err
			}
		}

		payment = &p
		events = tc.events
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		if _, err := s.finlog.Append(ctx, nil, event); err != nil {
			s.logger.Error("failed to append financial event",
				zap.String("event_type", event.Type),
				zap.String("payment_id", paymentID.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("payment transition applied",
		zap.String("payment_id", paymentID.String()),
		zap.String("status", string(to)))
	return payment, nil
}

// feeSplit computes the platform fee and the recipient net for a gross
// amount, rounded to the cent with fee + net == gross exactly.
func (s *Service) feeSplit(gross decimal.Decimal) (fee, net decimal.Decimal) {
	fee = gross.Mul(s.cfg.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
	net = gross.Sub(fee)
	return fee, net
}

func (s *Service) notify(msg notification.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.Enqueue(msg)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
