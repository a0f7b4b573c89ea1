package models

import (
	"time"

	"github.com/google/uuid"
)

// Financial event log event types.
const (
	FinEventPaymentEscrowed   = "payment.escrowed"
	FinEventPaymentReleased   = "payment.released"
	FinEventPaymentDisputed   = "payment.disputed"
	FinEventPaymentRefunded   = "payment.refunded"
	FinEventDisputeResolved   = "dispute.resolved"
	FinEventWithdrawalHeld    = "withdrawal.held"
	FinEventWithdrawalSettled = "withdrawal.settled"
	FinEventWithdrawalReleased = "withdrawal.released"
	FinEventWalletRestricted  = "wallet.restricted"
	FinEventReviewResolved    = "review.resolved"
)

// FinancialEventLogEntry is one link of the hash-chained audit trail.
// The auto-incremented ID provides the global chain order; CurrentHash
// commits to PreviousHash and the canonical form of Payload, so any
// retroactive edit is detectable.
type FinancialEventLogEntry struct {
	ID           uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	EventType    string     `json:"event_type" gorm:"not null;index"`
	UserID       *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	PaymentID    *uuid.UUID `json:"payment_id" gorm:"type:uuid;index"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id" gorm:"type:uuid;index"`
	DisputeID    *uuid.UUID `json:"dispute_id" gorm:"type:uuid;index"`
	Payload      string     `json:"payload" gorm:"type:text;not null"`
	PreviousHash string     `json:"previous_hash" gorm:"not null"`
	CurrentHash  string     `json:"current_hash" gorm:"uniqueIndex;not null"`
	CreatedAt    time.Time  `json:"created_at"`
}
