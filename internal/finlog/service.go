package finlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// Event is a financial event to append to the log.
type Event struct {
	Type         string
	UserID       *uuid.UUID
	PaymentID    *uuid.UUID
	WithdrawalID *uuid.UUID
	DisputeID    *uuid.UUID
	Payload      map[string]interface{}
}

// VerifyResult reports the outcome of a full chain walk.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Checked  int64  `json:"checked"`
	BrokenID uint64 `json:"broken_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// FinlogService is the hash-chained financial audit trail.
type FinlogService interface {
	Append(ctx context.Context, tx *gorm.DB, event Event) (*models.FinancialEventLogEntry, error)
	Verify(ctx context.Context) (*VerifyResult, error)
	List(ctx context.Context, limit, offset int) ([]*models.FinancialEventLogEntry, int64, error)
}

// Service implements FinlogService. The chain has no partitioning, so
// all appends are serialized through a single exclusive lock; readers
// are unaffected.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// NewService creates a new FinlogService.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Append canonicalizes the payload, links it to the previous entry, and
// inserts the new chain link.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, event Event) (*models.FinancialEventLogEntry, error) {
	if tx == nil {
		tx = s.db
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event type is required")
	}

	canonical, err := CanonicalJSON(event.Payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var last models.FinancialEventLogEntry
	previousHash := ""
	err = tx.WithContext(ctx).Order("id DESC").First(&last).Error
	switch {
	case err == nil:
		previousHash = last.CurrentHash
	case errors.Is(err, gorm.ErrRecordNotFound):
		// genesis entry
	default:
		return nil, fmt.Errorf("failed to load chain head: %w", err)
	}

	entry := &models.FinancialEventLogEntry{
		EventType:    event.Type,
		UserID:       event.UserID,
		PaymentID:    event.PaymentID,
		WithdrawalID: event.WithdrawalID,
		DisputeID:    event.DisputeID,
		Payload:      canonical,
		PreviousHash: previousHash,
		CurrentHash:  chainHash(previousHash, canonical),
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append financial event: %w", err)
	}

	return entry, nil
}

// Verify walks the chain in creation order and fails at the first row
// whose previous hash does not match the running hash, or whose current
// hash does not match the recomputed value.
func (s *Service) Verify(ctx context.Context) (*VerifyResult, error) {
	result := &VerifyResult{Valid: true}
	running := ""

	rows, err := s.db.WithContext(ctx).Model(&models.FinancialEventLogEntry{}).Order("id ASC").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to read financial event log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.FinancialEventLogEntry
		if err := s.db.ScanRows(rows, &entry); err != nil {
			return nil, fmt.Errorf("failed to scan financial event: %w", err)
		}
		result.Checked++

		if entry.PreviousHash != running {
			result.Valid = false
			result.BrokenID = entry.ID
			result.Reason = "previous_hash mismatch"
			return result, nil
		}

		canonical, err := CanonicalizeRaw(entry.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize payload of entry %d: %w", entry.ID, err)
		}
		if entry.CurrentHash != chainHash(entry.PreviousHash, canonical) {
			result.Valid = false
			result.BrokenID = entry.ID
			result.Reason = "current_hash mismatch"
			return result, nil
		}

		running = entry.CurrentHash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate financial event log: %w", err)
	}

	return result, nil
}

// List returns entries in reverse chain order with the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.FinancialEventLogEntry, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.FinancialEventLogEntry{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count financial events: %w", err)
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []*models.FinancialEventLogEntry
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list financial events: %w", err)
	}

	return entries, total, nil
}

func chainHash(previousHash, canonicalPayload string) string {
	sum := sha256.Sum256([]byte(previousHash + canonicalPayload))
	return hex.EncodeToString(sum[:])
}
