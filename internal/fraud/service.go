package fraud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// ErrReviewNotPending is returned when resolving a review that has
// already been decided.
var ErrReviewNotPending = errors.New("fraud review is not pending")

// Config carries the scoring thresholds. Injected at construction; the
// engine never reads process-wide state.
type Config struct {
	BlockThreshold  int // behavioral score at or above which the action is routed to review
	RuleThreshold   int // cumulative rule score at or above which the action is routed to review
	NewAccountDays  int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{BlockThreshold: 70, RuleThreshold: 60, NewAccountDays: 7}
}

// Evaluation is the combined outcome of behavioral scoring and rule
// checks for one transaction attempt.
type Evaluation struct {
	BehavioralScore int
	RuleScore       int
	Flagged         bool
	Reasons         []string
}

// Reason returns the review reason string for a flagged evaluation.
func (e *Evaluation) Reason() string {
	return strings.Join(e.Reasons, "; ")
}

// FraudService computes behavioral risk, runs per-transaction rules,
// and maintains the review queue and standing wallet restrictions.
type FraudService interface {
	ComputeProfile(ctx context.Context, userID uuid.UUID) (*models.UserRiskProfile, error)
	EvaluateWithdrawal(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount, available decimal.Decimal, withdrawalID *uuid.UUID) (*Evaluation, error)
	IsRestricted(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (bool, string, error)
	RestrictWallet(ctx context.Context, userID uuid.UUID, reason string, createdBy *uuid.UUID) error
	LiftRestriction(ctx context.Context, userID uuid.UUID) error
	EnqueueReview(ctx context.Context, tx *gorm.DB, review *models.FraudReview) (*models.FraudReview, bool, error)
	ResolveReview(ctx context.Context, reviewID, adminID uuid.UUID, approve bool, note string) (*models.FraudReview, error)
	ListReviews(ctx context.Context, status models.ReviewStatus, limit, offset int) ([]*models.FraudReview, int64, error)
	RiskAuditTrail(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.RiskAssessment, int64, error)
}

// Service implements FraudService.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

// NewService creates a new FraudService.
func NewService(db *gorm.DB, logger *zap.Logger, cfg Config) *Service {
	return &Service{db: db, logger: logger, cfg: cfg, now: time.Now}
}

// ComputeProfile recomputes the behavioral features and score for a
// user from the ledger, withdrawals, and disputes, and refreshes the
// cached profile. The cache is never authoritative.
func (s *Service) ComputeProfile(ctx context.Context, userID uuid.UUID) (*models.UserRiskProfile, error) {
	return s.computeProfile(s.db.WithContext(ctx), userID)
}

func (s *Service) computeProfile(tx *gorm.DB, userID uuid.UUID) (*models.UserRiskProfile, error) {
	now := s.now().UTC()
	profile := &models.UserRiskProfile{UserID: userID, ComputedAt: now}

	if err := tx.Model(&models.Withdrawal{}).Where("user_id = ?", userID).
		Count(&profile.TotalWithdrawals).Error; err != nil {
		return nil, fmt.Errorf("failed to count withdrawals: %w", err)
	}
	if err := tx.Model(&models.Withdrawal{}).
		Where("user_id = ? AND created_at > ?", userID, now.Add(-48*time.Hour)).
		Count(&profile.Withdrawals48h).Error; err != nil {
		return nil, fmt.Errorf("failed to count recent withdrawals: %w", err)
	}
	if err := tx.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND type = ? AND direction = ? AND balance_type = ?",
			userID, "release", models.DirectionCredit, models.BalanceAvailable).
		Count(&profile.TotalReleases).Error; err != nil {
		return nil, fmt.Errorf("failed to count releases: %w", err)
	}

	lag, err := s.avgReleaseToWithdrawalMinutes(tx, userID)
	if err != nil {
		return nil, err
	}
	profile.AvgReleaseToWithdrawMin = lag

	var disputes int64
	if err := tx.Model(&models.Dispute{}).
		Joins("JOIN payments ON payments.id = disputes.payment_id").
		Where("payments.student_id = ?", userID).
		Count(&disputes).Error; err != nil {
		return nil, fmt.Errorf("failed to count disputes: %w", err)
	}
	if profile.TotalReleases > 0 {
		profile.DisputeRatio = float64(disputes) / float64(profile.TotalReleases)
	}

	var user models.User
	if err := tx.Where("id = ?", userID).First(&user).Error; err == nil {
		profile.NewAccount = now.Sub(user.CreatedAt) < time.Duration(s.cfg.NewAccountDays)*24*time.Hour
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	profile.Score = s.score(profile)

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(profile).Error; err != nil {
		return nil, fmt.Errorf("failed to cache risk profile: %w", err)
	}

	return profile, nil
}

// score is the weighted sum of threshold crossings, clamped to [0,100].
func (s *Service) score(p *models.UserRiskProfile) int {
	score := 0
	if p.TotalWithdrawals > 0 && float64(p.Withdrawals48h)/float64(p.TotalWithdrawals) > 0.5 {
		score += 30
	}
	if p.AvgReleaseToWithdrawMin > 0 && p.AvgReleaseToWithdrawMin < 30 {
		score += 25
	}
	if p.DisputeRatio > 0.2 {
		score += 20
	}
	if p.NewAccount {
		score += 30
	}
	if score > 100 {
		score = 100
	}
	return score
}

// avgReleaseToWithdrawalMinutes averages, over the user's withdrawals,
// the minutes between the most recent prior release credit and the
// withdrawal. Returns 0 when no release/withdrawal pair exists.
func (s *Service) avgReleaseToWithdrawalMinutes(tx *gorm.DB, userID uuid.UUID) (float64, error) {
	var withdrawals []models.Withdrawal
	if err := tx.Where("user_id = ?", userID).Order("created_at ASC").Find(&withdrawals).Error; err != nil {
		return 0, fmt.Errorf("failed to load withdrawals: %w", err)
	}
	if len(withdrawals) == 0 {
		return 0, nil
	}

	var releases []models.LedgerEntry
	if err := tx.Where("user_id = ? AND type = ? AND direction = ? AND balance_type = ?",
		userID, "release", models.DirectionCredit, models.BalanceAvailable).
		Order("created_at ASC").Find(&releases).Error; err != nil {
		return 0, fmt.Errorf("failed to load releases: %w", err)
	}
	if len(releases) == 0 {
		return 0, nil
	}

	total := 0.0
	pairs := 0
	for _, w := range withdrawals {
		var latest *time.Time
		for i := range releases {
			if !releases[i].CreatedAt.After(w.CreatedAt) {
				t := releases[i].CreatedAt
				latest = &t
			} else {
				break
			}
		}
		if latest != nil {
			total += w.CreatedAt.Sub(*latest).Minutes()
			pairs++
		}
	}
	if pairs == 0 {
		return 0, nil
	}
	return total / float64(pairs), nil
}

// IsRestricted reports whether the user's wallet carries a standing
// restriction.
func (s *Service) IsRestricted(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (bool, string, error) {
	if tx == nil {
		tx = s.db
	}
	var restriction models.WalletRestriction
	err := tx.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).First(&restriction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to check wallet restriction: %w", err)
	}
	return true, restriction.Reason, nil
}

// RestrictWallet places (or re-activates) a standing restriction.
func (s *Service) RestrictWallet(ctx context.Context, userID uuid.UUID, reason string, createdBy *uuid.UUID) error {
	now := s.now().UTC()
	restriction := &models.WalletRestriction{
		ID:        uuid.New(),
		UserID:    userID,
		Active:    true,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "reason", "created_by", "updated_at"}),
	}).Create(restriction).Error; err != nil {
		return fmt.Errorf("failed to restrict wallet: %w", err)
	}
	s.logger.Warn("wallet restricted", zap.String("user_id", userID.String()), zap.String("reason", reason))
	return nil
}

// LiftRestriction deactivates a standing restriction.
func (s *Service) LiftRestriction(ctx context.Context, userID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.WalletRestriction{}).
		Where("user_id = ? AND active = ?", userID, true).
		Updates(map[string]interface{}{"active": false, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to lift wallet restriction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no active restriction for user %s", userID)
	}
	return nil
}

// EnqueueReview creates a pending review unless an equivalent one is
// already pending; a duplicate trigger collapses into the existing
// review. Reports whether a new review was created.
func (s *Service) EnqueueReview(ctx context.Context, tx *gorm.DB, review *models.FraudReview) (*models.FraudReview, bool, error) {
	if tx == nil {
		tx = s.db
	}
	tx = tx.WithContext(ctx)

	q := tx.Where("user_id = ? AND reason = ? AND status = ?", review.UserID, review.Reason, models.ReviewPending)
	q = whereNullable(q, "payment_id", review.PaymentID)
	q = whereNullable(q, "withdrawal_id", review.WithdrawalID)

	var existing models.FraudReview
	err := q.First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to check pending reviews: %w", err)
	}

	if review.ID == uuid.Nil {
		review.ID = uuid.New()
	}
	review.Status = models.ReviewPending
	review.CreatedAt = s.now().UTC()
	if err := tx.Create(review).Error; err != nil {
		return nil, false, fmt.Errorf("failed to enqueue fraud review: %w", err)
	}

	s.logger.Info("fraud review enqueued",
		zap.String("user_id", review.UserID.String()),
		zap.Int("risk_score", review.RiskScore),
		zap.String("reason", review.Reason))
	return review, true, nil
}

// ResolveReview records a terminal admin decision with an optional note.
func (s *Service) ResolveReview(ctx context.Context, reviewID, adminID uuid.UUID, approve bool, note string) (*models.FraudReview, error) {
	var review models.FraudReview
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ledger.LockForUpdate(tx).
			Where("id = ?", reviewID).First(&review).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("fraud review not found")
			}
			return fmt.Errorf("failed to load fraud review: %w", err)
		}
		if review.Status != models.ReviewPending {
			return ErrReviewNotPending
		}

		now := s.now().UTC()
		review.Status = models.ReviewApproved
		if !approve {
			review.Status = models.ReviewRejected
		}
		review.ReviewedBy = &adminID
		review.AdminNote = note
		review.ReviewedAt = &now

		res := tx.Model(&models.FraudReview{}).Where("id = ? AND status = ?", reviewID, models.ReviewPending).
			Updates(map[string]interface{}{
				"status":      review.Status,
				"reviewed_by": adminID,
				"admin_note":  note,
				"reviewed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to resolve fraud review: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("fraud review update affected zero rows")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// ListReviews returns reviews filtered by status, newest first.
func (s *Service) ListReviews(ctx context.Context, status models.ReviewStatus, limit, offset int) ([]*models.FraudReview, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.FraudReview{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count fraud reviews: %w", err)
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var reviews []*models.FraudReview
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reviews).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list fraud reviews: %w", err)
	}
	return reviews, total, nil
}

// RiskAuditTrail returns the recorded assessments for a user, newest
// first.
func (s *Service) RiskAuditTrail(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.RiskAssessment, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.RiskAssessment{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count risk assessments: %w", err)
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var assessments []*models.RiskAssessment
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&assessments).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	return assessments, total, nil
}

func whereNullable(q *gorm.DB, column string, id *uuid.UUID) *gorm.DB {
	if id == nil {
		return q.Where(column + " IS NULL")
	}
	return q.Where(column+" = ?", *id)
}
