package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending        PaymentStatus = "pending"
	PaymentPaid           PaymentStatus = "paid"
	PaymentReleased       PaymentStatus = "released"
	PaymentDisputed       PaymentStatus = "disputed"
	PaymentRefunded       PaymentStatus = "refunded"
	PaymentFailed         PaymentStatus = "failed"
	PaymentTransferFailed PaymentStatus = "transfer_failed"
	PaymentWithdrawn      PaymentStatus = "withdrawn"
)

// Payment represents a company's escrow payment for a project. Status is
// mutated only through state machine transitions, each paired with its
// ledger effect in one transaction.
type Payment struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	PayerID     uuid.UUID       `json:"payer_id" gorm:"type:uuid;index" validate:"required"`
	CompanyID   uuid.UUID       `json:"company_id" gorm:"type:uuid;index" validate:"required"`
	ProjectID   uuid.UUID       `json:"project_id" gorm:"type:uuid;index" validate:"required"`
	StudentID   *uuid.UUID      `json:"student_id" gorm:"type:uuid;index"` // resolved from the accepted application at release time
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(20,2);not null"`
	Status      PaymentStatus   `json:"status" gorm:"not null;index" validate:"required,oneof=pending paid released disputed refunded failed transfer_failed withdrawn"`
	Escrow      bool            `json:"escrow"`
	Disputed    bool            `json:"disputed"`
	ProviderRef string          `json:"provider_ref" gorm:"uniqueIndex"`
	PaidAt      *time.Time      `json:"paid_at"`
	ReleasedAt  *time.Time      `json:"released_at"`
	RefundedAt  *time.Time      `json:"refunded_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Dispute is a formal challenge against a payment. At most one open
// dispute may exist per payment.
type Dispute struct {
	ID         uuid.UUID     `json:"id" gorm:"primaryKey;type:uuid"`
	PaymentID  uuid.UUID     `json:"payment_id" gorm:"type:uuid;index;uniqueIndex:ux_open_dispute,where:status = 'open'"`
	RaisedBy   uuid.UUID     `json:"raised_by" gorm:"type:uuid" validate:"required"`
	Reason     string        `json:"reason" validate:"required,max=500"`
	Status     DisputeStatus `json:"status" gorm:"not null;index"`
	Resolution string        `json:"resolution" validate:"omitempty,max=500"`
	ResolvedBy *uuid.UUID    `json:"resolved_by" gorm:"type:uuid"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at"`
}
