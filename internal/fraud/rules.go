package fraud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// Fixed scores contributed by each per-transaction rule.
const (
	ruleScoreBalanceRatio   = 25
	ruleScoreVelocity24h    = 20
	ruleScoreNewAccountDrain = 25
	ruleScoreReleaseThenOut = 20
)

// EvaluateWithdrawal runs both fraud mechanisms against a withdrawal
// attempt: the behavioral profile score and the per-transaction rule
// checks. Either crossing its threshold flags the attempt for manual
// review rather than denying it outright. Both evaluations are recorded
// in the user's risk audit trail.
func (s *Service) EvaluateWithdrawal(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount, available decimal.Decimal, withdrawalID *uuid.UUID) (*Evaluation, error) {
	if tx == nil {
		tx = s.db
	}
	tx = tx.WithContext(ctx)

	profile, err := s.computeProfile(tx, userID)
	if err != nil {
		return nil, err
	}

	eval := &Evaluation{BehavioralScore: profile.Score}
	if profile.Score >= s.cfg.BlockThreshold {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("behavioral risk score %d", profile.Score))
	}

	ruleScore, ruleReasons, err := s.runRules(tx, userID, amount, available)
	if err != nil {
		return nil, err
	}
	eval.RuleScore = ruleScore
	if ruleScore >= s.cfg.RuleThreshold {
		eval.Reasons = append(eval.Reasons, ruleReasons...)
	}

	eval.Flagged = profile.Score >= s.cfg.BlockThreshold || ruleScore >= s.cfg.RuleThreshold

	now := s.now().UTC()
	assessments := []*models.RiskAssessment{
		{
			ID: uuid.New(), UserID: userID, WithdrawalID: withdrawalID,
			Kind: "behavioral", Score: profile.Score,
			Flagged: profile.Score >= s.cfg.BlockThreshold,
			Reasons: fmt.Sprintf("score %d", profile.Score), CreatedAt: now,
		},
		{
			ID: uuid.New(), UserID: userID, WithdrawalID: withdrawalID,
			Kind: "rules", Score: ruleScore,
			Flagged: ruleScore >= s.cfg.RuleThreshold,
			Reasons: strings.Join(ruleReasons, "; "), CreatedAt: now,
		},
	}
	if err := tx.Create(&assessments).Error; err != nil {
		return nil, fmt.Errorf("failed to record risk assessments: %w", err)
	}

	return eval, nil
}

// runRules evaluates the per-transaction rule set for a withdrawal
// attempt and returns the cumulative score with the reasons that fired.
func (s *Service) runRules(tx *gorm.DB, userID uuid.UUID, amount, available decimal.Decimal) (int, []string, error) {
	now := s.now().UTC()
	score := 0
	var reasons []string

	// Rule: withdrawal consumes more than 70% of the available balance.
	if available.IsPositive() {
		ratio := amount.Div(available)
		if ratio.GreaterThan(decimal.NewFromFloat(0.7)) {
			score += ruleScoreBalanceRatio
			reasons = append(reasons, "withdrawal exceeds 70% of balance")
		}
	}

	// Rule: more than 3 withdrawals in the last 24 hours.
	var recent int64
	if err := tx.Model(&models.Withdrawal{}).
		Where("user_id = ? AND created_at > ?", userID, now.Add(-24*time.Hour)).
		Count(&recent).Error; err != nil {
		return 0, nil, fmt.Errorf("failed to count 24h withdrawals: %w", err)
	}
	if recent > 3 {
		score += ruleScoreVelocity24h
		reasons = append(reasons, "more than 3 withdrawals in 24h")
	}

	// Rule: first credit is less than 2 days old (new account draining).
	var firstCredit models.LedgerEntry
	err := tx.Where("user_id = ? AND direction = ?", userID, models.DirectionCredit).
		Order("created_at ASC").First(&firstCredit).Error
	if err == nil {
		if now.Sub(firstCredit.CreatedAt) < 48*time.Hour {
			score += ruleScoreNewAccountDrain
			reasons = append(reasons, "new account draining")
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, fmt.Errorf("failed to load first credit: %w", err)
	}

	// Rule: a release landed within the last hour and a withdrawal
	// immediately follows.
	var lastRelease models.LedgerEntry
	err = tx.Where("user_id = ? AND type = ? AND direction = ? AND balance_type = ?",
		userID, "release", models.DirectionCredit, models.BalanceAvailable).
		Order("created_at DESC").First(&lastRelease).Error
	if err == nil {
		if now.Sub(lastRelease.CreatedAt) < time.Hour {
			score += ruleScoreReleaseThenOut
			reasons = append(reasons, "withdrawal immediately after release")
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, fmt.Errorf("failed to load last release: %w", err)
	}

	return score, reasons, nil
}
