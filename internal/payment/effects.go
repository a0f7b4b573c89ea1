package payment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/finlog"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// escrowFunds backs pending -> paid: the provider confirmed capture, so
// the gross amount moves from the platform float into the company's
// escrow bucket.
func (tc *transitionContext) escrowFunds() error {
	p := tc.payment
	_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
		ledger.Side{BalanceType: models.BalancePlatform},
		ledger.Side{UserID: &p.CompanyID, BalanceType: models.BalanceEscrow},
		p.Amount, "escrow", p.ID.String(),
		fmt.Sprintf("payment:%s:escrow", p.ID))
	if err != nil {
		return err
	}

	tc.touched = append(tc.touched, p.CompanyID)
	tc.events = append(tc.events, finlog.Event{
		Type:      models.FinEventPaymentEscrowed,
		UserID:    &p.CompanyID,
		PaymentID: &p.ID,
		Payload: map[string]interface{}{
			"payment_id": p.ID.String(),
			"company_id": p.CompanyID.String(),
			"amount":     p.Amount.String(),
		},
	})
	return nil
}

// releaseEscrow backs paid -> released: the gross escrow amount splits
// into the student's net and the platform's fee, three rows, with
// fee + net equal to the gross to the cent.
func (tc *transitionContext) releaseEscrow() error {
	p := tc.payment
	studentID, err := tc.resolveStudent()
	if err != nil {
		return err
	}

	fee, net := tc.svc.feeSplit(p.Amount)
	ref := p.ID.String()
	base := fmt.Sprintf("payment:%s:release", p.ID)

	inserted := make([]bool, 0, 3)
	debitOK, err := tc.svc.ledger.CreateEntry(tc.ctx, tc.tx, &models.LedgerEntry{
		UserID:         &p.CompanyID,
		Amount:         p.Amount,
		Direction:      models.DirectionDebit,
		BalanceType:    models.BalanceEscrow,
		Type:           "release",
		Reference:      ref,
		IdempotencyKey: base + ":debit",
	})
	if err != nil {
		return err
	}
	inserted = append(inserted, debitOK)

	netOK, err := tc.svc.ledger.CreateEntry(tc.ctx, tc.tx, &models.LedgerEntry{
		UserID:         &studentID,
		Amount:         net,
		Direction:      models.DirectionCredit,
		BalanceType:    models.BalanceAvailable,
		Type:           "release",
		Reference:      ref,
		IdempotencyKey: base + ":net",
	})
	if err != nil {
		return err
	}
	inserted = append(inserted, netOK)

	if fee.IsPositive() {
		feeOK, err := tc.svc.ledger.CreateEntry(tc.ctx, tc.tx, &models.LedgerEntry{
			Amount:         fee,
			Direction:      models.DirectionCredit,
			BalanceType:    models.BalanceRevenue,
			Type:           "release",
			Reference:      ref,
			IdempotencyKey: base + ":fee",
		})
		if err != nil {
			return err
		}
		inserted = append(inserted, feeOK)
	}

	for _, ok := range inserted[1:] {
		if ok != inserted[0] {
			return fmt.Errorf("%w: base %s", ledger.ErrCorruption, base)
		}
	}

	tc.touched = append(tc.touched, p.CompanyID, studentID)
	tc.events = append(tc.events, finlog.Event{
		Type:      models.FinEventPaymentReleased,
		UserID:    &studentID,
		PaymentID: &p.ID,
		Payload: map[string]interface{}{
			"payment_id": p.ID.String(),
			"student_id": studentID.String(),
			"gross":      p.Amount.String(),
			"fee":        fee.String(),
			"net":        net.String(),
		},
	})
	return nil
}

// freezeFunds backs the two dispute entries. The current holder's
// balance moves into locked: the company's escrow before release, the
// student's available net after.
func (tc *transitionContext) freezeFunds() error {
	p := tc.payment
	ref := p.ID.String()
	base := fmt.Sprintf("payment:%s:dispute:freeze", p.ID)

	if p.Status == models.PaymentPaid {
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{UserID: &p.CompanyID, BalanceType: models.BalanceEscrow},
			ledger.Side{UserID: &p.CompanyID, BalanceType: models.BalanceLocked},
			p.Amount, "dispute_freeze", ref, base)
		if err != nil {
			return err
		}
		tc.touched = append(tc.touched, p.CompanyID)
		return nil
	}

	// Released: the fee already belongs to the platform, so only the
	// recognized net is frozen on the student.
	if p.StudentID == nil {
		return fmt.Errorf("%w: payment %s released without recipient", ErrMissingRecipient, p.ID)
	}
	revenue, err := tc.svc.ledger.ReferenceBalance(tc.tx, nil, models.BalanceRevenue, ref)
	if err != nil {
		return err
	}
	net := p.Amount.Sub(revenue)
	if net.IsPositive() {
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{UserID: p.StudentID, BalanceType: models.BalanceAvailable},
			ledger.Side{UserID: p.StudentID, BalanceType: models.BalanceLocked},
			net, "dispute_freeze", ref, base)
		if err != nil {
			return err
		}
	}
	tc.touched = append(tc.touched, *p.StudentID)
	return nil
}

// refundEscrow backs paid -> refunded: the held escrow returns toward
// the platform, from where the provider refund is issued.
func (tc *transitionContext) refundEscrow() error {
	p := tc.payment
	_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
		ledger.Side{UserID: &p.CompanyID, BalanceType: models.BalanceEscrow},
		ledger.Side{BalanceType: models.BalancePlatform},
		p.Amount, "refund", p.ID.String(),
		fmt.Sprintf("payment:%s:refund", p.ID))
	if err != nil {
		return err
	}

	tc.touched = append(tc.touched, p.CompanyID)
	tc.appendRefundEvent(p.Amount)
	return nil
}

// clawBack backs released -> refunded: reverse the recognized revenue
// first, then the recipient's available balance, totalling exactly the
// original gross amount.
func (tc *transitionContext) clawBack() error {
	p := tc.payment
	ref := p.ID.String()

	revenue, err := tc.svc.ledger.ReferenceBalance(tc.tx, nil, models.BalanceRevenue, ref)
	if err != nil {
		return err
	}
	feePart := decimal.Min(revenue, p.Amount)
	remainder := p.Amount.Sub(feePart)

	if feePart.IsPositive() {
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{BalanceType: models.BalanceRevenue},
			ledger.Side{BalanceType: models.BalancePlatform},
			feePart, "refund", ref,
			fmt.Sprintf("payment:%s:refund:revenue", p.ID))
		if err != nil {
			return err
		}
	}

	if remainder.IsPositive() {
		if p.StudentID == nil {
			return fmt.Errorf("%w: payment %s released without recipient", ErrMissingRecipient, p.ID)
		}
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{UserID: p.StudentID, BalanceType: models.BalanceAvailable},
			ledger.Side{BalanceType: models.BalancePlatform},
			remainder, "refund", ref,
			fmt.Sprintf("payment:%s:refund:available", p.ID))
		if err != nil {
			return err
		}
		tc.touched = append(tc.touched, *p.StudentID)
	}

	tc.appendRefundEvent(p.Amount)
	return nil
}

// resolveToRelease backs disputed -> released: the locked funds release
// with the same fee split as a normal release. A payment disputed after
// an earlier release only has its frozen net unlocked; the fee was
// recognized back then.
func (tc *transitionContext) resolveToRelease() error {
	p := tc.payment
	ref := p.ID.String()

	if p.ReleasedAt == nil {
		studentID, err := tc.resolveStudent()
		if err != nil {
			return err
		}
		fee, net := tc.svc.feeSplit(p.Amount)
		base := fmt.Sprintf("payment:%s:resolve:release", p.ID)

		if _, err := tc.svc.ledger.CreateEntry(tc.ctx, tc.tx, &models.LedgerEntry{
			UserID:         &p.CompanyID,
			Amount:         p.Amount,
			Direction:      models.DirectionDebit,
			BalanceType:    models.BalanceLocked,
			Type:           "release",
			Reference:      ref,
			IdempotencyKey: base + ":debit",
		}); err != nil {
			return err
		}
		if _, err := tc.svc.ledger.CreateEntry(tc.ctx, tc.tx, &models.LedgerEntry{
			UserID:         &studentID,
			Amount:         net,
			Direction:      models.DirectionCredit,
			BalanceType:    models.BalanceAvailable,
			Type:           "release",
			Reference:      ref,
			IdempotencyKey: base + ":net",
		}); err != nil {
			return err
		}
		if fee.IsPositive() {
			if _, err := tc.svc.ledger.CreateEntry(tc.ctx, tc.tx, &models.LedgerEntry{
				Amount:         fee,
				Direction:      models.DirectionCredit,
				BalanceType:    models.BalanceRevenue,
				Type:           "release",
				Reference:      ref,
				IdempotencyKey: base + ":fee",
			}); err != nil {
				return err
			}
		}

		tc.touched = append(tc.touched, p.CompanyID, studentID)
		return nil
	}

	if p.StudentID == nil {
		return fmt.Errorf("%w: payment %s released without recipient", ErrMissingRecipient, p.ID)
	}
	locked, err := tc.svc.ledger.ReferenceBalance(tc.tx, p.StudentID, models.BalanceLocked, ref)
	if err != nil {
		return err
	}
	if locked.IsPositive() {
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{UserID: p.StudentID, BalanceType: models.BalanceLocked},
			ledger.Side{UserID: p.StudentID, BalanceType: models.BalanceAvailable},
			locked, "dispute_release", ref,
			fmt.Sprintf("payment:%s:resolve:unlock", p.ID))
		if err != nil {
			return err
		}
	}
	tc.touched = append(tc.touched, *p.StudentID)
	return nil
}

// resolveToRefund backs disputed -> refunded: the frozen funds reverse
// toward the platform. For a post-release dispute the student's frozen
// net and the recognized revenue both return, totalling the gross.
func (tc *transitionContext) resolveToRefund() error {
	p := tc.payment
	ref := p.ID.String()

	if p.ReleasedAt == nil {
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{UserID: &p.CompanyID, BalanceType: models.BalanceLocked},
			ledger.Side{BalanceType: models.BalancePlatform},
			p.Amount, "refund", ref,
			fmt.Sprintf("payment:%s:resolve:refund", p.ID))
		if err != nil {
			return err
		}
		tc.touched = append(tc.touched, p.CompanyID)
		tc.appendRefundEvent(p.Amount)
		return nil
	}

	if p.StudentID == nil {
		return fmt.Errorf("%w: payment %s released without recipient", ErrMissingRecipient, p.ID)
	}
	lockedNet, err := tc.svc.ledger.ReferenceBalance(tc.tx, p.StudentID, models.BalanceLocked, ref)
	if err != nil {
		return err
	}
	if lockedNet.IsPositive() {
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{UserID: p.StudentID, BalanceType: models.BalanceLocked},
			ledger.Side{BalanceType: models.BalancePlatform},
			lockedNet, "refund", ref,
			fmt.Sprintf("payment:%s:resolve:refund:net", p.ID))
		if err != nil {
			return err
		}
	}

	revenue, err := tc.svc.ledger.ReferenceBalance(tc.tx, nil, models.BalanceRevenue, ref)
	if err != nil {
		return err
	}
	feePart := decimal.Min(revenue, p.Amount.Sub(lockedNet))
	if feePart.IsPositive() {
		_, err := tc.svc.ledger.CreateDoubleEntry(tc.ctx, tc.tx,
			ledger.Side{BalanceType: models.BalanceRevenue},
			ledger.Side{BalanceType: models.BalancePlatform},
			feePart, "refund", ref,
			fmt.Sprintf("payment:%s:resolve:refund:revenue", p.ID))
		if err != nil {
			return err
		}
	}

	tc.touched = append(tc.touched, *p.StudentID)
	tc.appendRefundEvent(p.Amount)
	return nil
}

// resolveStudent finds the accepted application for the payment's
// project and caches the student on the payment row. A release with no
// mapping is a hard failure: the whole transaction aborts.
func (tc *transitionContext) resolveStudent() (uuid.UUID, error) {
	p := tc.payment
	if p.StudentID != nil {
		return *p.StudentID, nil
	}

	var app models.Application
	err := tc.tx.Where("project_id = ? AND status = ?", p.ProjectID, models.ApplicationStatusAccepted).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, fmt.Errorf("%w: project %s has no accepted application", ErrMissingRecipient, p.ProjectID)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}

	p.StudentID = &app.StudentID
	return app.StudentID, nil
}

func (tc *transitionContext) appendRefundEvent(amount decimal.Decimal) {
	p := tc.payment
	tc.events = append(tc.events, finlog.Event{
		Type:      models.FinEventPaymentRefunded,
		UserID:    &p.CompanyID,
		PaymentID: &p.ID,
		Payload: map[string]interface{}{
			"payment_id": p.ID.String(),
			"company_id": p.CompanyID.String(),
			"amount":     amount.String(),
		},
	})
}
