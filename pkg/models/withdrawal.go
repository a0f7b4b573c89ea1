package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle state of a withdrawal.
type WithdrawalStatus string

const (
	WithdrawalPending       WithdrawalStatus = "pending"
	WithdrawalPendingReview WithdrawalStatus = "pending_review"
	WithdrawalProcessing    WithdrawalStatus = "processing"
	WithdrawalCompleted     WithdrawalStatus = "completed"
	WithdrawalRejected      WithdrawalStatus = "rejected"
	WithdrawalFailed        WithdrawalStatus = "failed"
)

// Withdrawal represents a user-initiated payout to a bank account.
// Funds are held (available -> locked) at request time, before any
// provider call, and settled into the payout balance on confirmation.
type Withdrawal struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID        uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(20,2);not null"`
	BankName      string          `json:"bank_name" validate:"required,max=100"`
	AccountHolder string          `json:"account_holder" validate:"required,max=100"`
	IBAN          string          `json:"iban" validate:"required,max=34"`
	Status        WithdrawalStatus `json:"status" gorm:"not null;index" validate:"required,oneof=pending pending_review processing completed rejected failed"`
	ProviderRef   *string         `json:"provider_ref" gorm:"uniqueIndex"`
	FailureReason string          `json:"failure_reason" validate:"omitempty,max=500"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ProcessedAt   *time.Time      `json:"processed_at"`
}
