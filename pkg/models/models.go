package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a marketplace participant. Identity verification and
// session issuance live in an external service; this record carries only
// what the financial core needs (account age, role attribution).
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	Email     string    `json:"email" gorm:"uniqueIndex" validate:"required,email,max=254"`
	Role      string    `json:"role" gorm:"default:student" validate:"required,oneof=student company admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project represents a company project that payments are made against.
type Project struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	CompanyID uuid.UUID `json:"company_id" gorm:"type:uuid;index" validate:"required"`
	Title     string    `json:"title" validate:"required,max=200"`
	Status    string    `json:"status" gorm:"default:open" validate:"required,oneof=open in_progress completed closed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Application links a student to a project. The accepted application is
// the recipient mapping used when escrow is released.
type Application struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	ProjectID uuid.UUID `json:"project_id" gorm:"type:uuid;index" validate:"required"`
	StudentID uuid.UUID `json:"student_id" gorm:"type:uuid;index" validate:"required"`
	Status    string    `json:"status" gorm:"default:pending" validate:"required,oneof=pending accepted rejected"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplicationStatusAccepted marks the application used as recipient mapping.
const ApplicationStatusAccepted = "accepted"

// EntryDirection is the side of a ledger entry.
type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// BalanceType partitions funds by purpose.
type BalanceType string

const (
	BalanceAvailable BalanceType = "available"
	BalanceEscrow    BalanceType = "escrow"
	BalanceLocked    BalanceType = "locked"
	BalancePlatform  BalanceType = "platform"
	BalanceRevenue   BalanceType = "revenue"
	BalancePayout    BalanceType = "payout"
)

// LedgerEntry is a single-sided, immutable balance movement. Rows are
// never updated or deleted after insertion; the balance of a
// (user, balance_type) pair is always the sum of credits minus debits
// over its entries.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         *uuid.UUID      `json:"user_id" gorm:"type:uuid;index"` // nil means platform-owned
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(20,2);not null"`
	Direction      EntryDirection  `json:"direction" gorm:"not null;index" validate:"required,oneof=credit debit"`
	BalanceType    BalanceType     `json:"balance_type" gorm:"not null;index" validate:"required,oneof=available escrow locked platform revenue payout"`
	Type           string          `json:"type" gorm:"not null;index" validate:"required,max=64"`
	Reference      string          `json:"reference" gorm:"index" validate:"omitempty,max=255"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	CreatedAt      time.Time       `json:"created_at"`
}

// WalletCache is the denormalized per-user balance row. It is a read
// path optimization only; the ledger remains the source of truth and
// reconciliation flags any drift.
type WalletCache struct {
	UserID    uuid.UUID       `json:"user_id" gorm:"primaryKey;type:uuid"`
	Available decimal.Decimal `json:"available" gorm:"type:decimal(20,2);not null"`
	Escrow    decimal.Decimal `json:"escrow" gorm:"type:decimal(20,2);not null"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WebhookEvent persists a provider-assigned event id before any business
// processing, making webhook delivery replay-safe.
type WebhookEvent struct {
	ID              uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	ProviderEventID string    `json:"provider_event_id" gorm:"uniqueIndex;not null"`
	EventType       string    `json:"event_type" gorm:"index;not null"`
	Payload         string    `json:"payload" gorm:"type:text"`
	ReceivedAt      time.Time `json:"received_at"`
}
