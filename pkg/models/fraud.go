package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the lifecycle state of a fraud review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// FraudReview is a human-in-the-loop gate created when automated risk
// scoring crosses a threshold. At most one PENDING review may exist per
// (user, reason, payment, withdrawal) tuple.
type FraudReview struct {
	ID           uuid.UUID    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID       uuid.UUID    `json:"user_id" gorm:"type:uuid;index;uniqueIndex:ux_pending_review,where:status = 'PENDING'"`
	PaymentID    *uuid.UUID   `json:"payment_id" gorm:"type:uuid;uniqueIndex:ux_pending_review,where:status = 'PENDING'"`
	WithdrawalID *uuid.UUID   `json:"withdrawal_id" gorm:"type:uuid;uniqueIndex:ux_pending_review,where:status = 'PENDING'"`
	RiskScore    int          `json:"risk_score" validate:"min=0,max=100"`
	Reason       string       `json:"reason" gorm:"uniqueIndex:ux_pending_review,where:status = 'PENDING'" validate:"required,max=255"`
	Status       ReviewStatus `json:"status" gorm:"not null;index" validate:"required,oneof=PENDING APPROVED REJECTED"`
	ReviewedBy   *uuid.UUID   `json:"reviewed_by" gorm:"type:uuid"`
	AdminNote    string       `json:"admin_note" validate:"omitempty,max=1000"`
	CreatedAt    time.Time    `json:"created_at"`
	ReviewedAt   *time.Time   `json:"reviewed_at"`
}

// UserRiskProfile caches the behavioral features and score for a user.
// It is recomputed on demand and never authoritative; everything in it
// derives from the ledger, withdrawals, and disputes.
type UserRiskProfile struct {
	UserID                uuid.UUID `json:"user_id" gorm:"primaryKey;type:uuid"`
	TotalWithdrawals      int64     `json:"total_withdrawals"`
	Withdrawals48h        int64     `json:"withdrawals_48h"`
	TotalReleases         int64     `json:"total_releases"`
	AvgReleaseToWithdrawMin float64 `json:"avg_release_to_withdraw_min"`
	DisputeRatio          float64   `json:"dispute_ratio"`
	NewAccount            bool      `json:"new_account"`
	Score                 int       `json:"score"`
	ComputedAt            time.Time `json:"computed_at"`
}

// RiskAssessment is one row of the per-user risk audit trail: every
// behavioral scoring or rule evaluation that ran against a transaction.
type RiskAssessment struct {
	ID           uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID       uuid.UUID  `json:"user_id" gorm:"type:uuid;index"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id" gorm:"type:uuid;index"`
	Kind         string     `json:"kind" validate:"required,oneof=behavioral rules"`
	Score        int        `json:"score"`
	Flagged      bool       `json:"flagged"`
	Reasons      string     `json:"reasons" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
}

// WalletRestriction is a standing block on a user's wallet, independent
// of any single review. Checked before any new withdrawal is accepted.
type WalletRestriction struct {
	ID        uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID  `json:"user_id" gorm:"type:uuid;uniqueIndex"`
	Active    bool       `json:"active" gorm:"index"`
	Reason    string     `json:"reason" validate:"required,max=500"`
	CreatedBy *uuid.UUID `json:"created_by" gorm:"type:uuid"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
