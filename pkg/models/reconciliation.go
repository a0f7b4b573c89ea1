package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReconciliationLog is a point-in-time comparison of a wallet's cached
// balances against the ledger-derived values.
type ReconciliationLog struct {
	ID                uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID            uuid.UUID       `json:"user_id" gorm:"type:uuid;index"`
	ExpectedAvailable decimal.Decimal `json:"expected_available" gorm:"type:decimal(20,2)"`
	CachedAvailable   decimal.Decimal `json:"cached_available" gorm:"type:decimal(20,2)"`
	ExpectedEscrow    decimal.Decimal `json:"expected_escrow" gorm:"type:decimal(20,2)"`
	CachedEscrow      decimal.Decimal `json:"cached_escrow" gorm:"type:decimal(20,2)"`
	Mismatch          bool            `json:"mismatch" gorm:"index"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ReconciliationFlag marks a wallet whose cache diverged from the
// ledger. At most one unresolved flag exists per wallet; a flag is
// retired only by explicit resolution after convergence is confirmed.
type ReconciliationFlag struct {
	ID         uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;index;uniqueIndex:ux_open_flag,where:resolved = false"`
	Details    string     `json:"details" gorm:"type:text"`
	Resolved   bool       `json:"resolved" gorm:"index"`
	ResolvedBy *uuid.UUID `json:"resolved_by" gorm:"type:uuid"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}
