package finlog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.FinancialEventLogEntry{}))
	return NewService(db, zap.NewNop()), db
}

func appendEvent(t *testing.T, svc *Service, eventType string, payload map[string]interface{}) *models.FinancialEventLogEntry {
	t.Helper()
	userID := uuid.New()
	entry, err := svc.Append(context.Background(), nil, Event{
		Type:    eventType,
		UserID:  &userID,
		Payload: payload,
	})
	require.NoError(t, err)
	return entry
}

func TestAppendChainsHashes(t *testing.T) {
	svc, _ := newTestService(t)

	first := appendEvent(t, svc, models.FinEventPaymentEscrowed, map[string]interface{}{"amount": "100.00"})
	second := appendEvent(t, svc, models.FinEventPaymentReleased, map[string]interface{}{"amount": "100.00"})
	third := appendEvent(t, svc, models.FinEventWithdrawalHeld, map[string]interface{}{"amount": "90.00"})

	assert.Empty(t, first.PreviousHash)
	assert.Equal(t, first.CurrentHash, second.PreviousHash)
	assert.Equal(t, second.CurrentHash, third.PreviousHash)
	assert.NotEqual(t, first.CurrentHash, second.CurrentHash)
}

func TestVerifyCleanChain(t *testing.T) {
	svc, _ := newTestService(t)
	for i := 0; i < 5; i++ {
		appendEvent(t, svc, models.FinEventPaymentEscrowed, map[string]interface{}{"n": i})
	}

	result, err := svc.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.EqualValues(t, 5, result.Checked)
}

func TestVerifyDetectsPayloadTamper(t *testing.T) {
	svc, db := newTestService(t)
	appendEvent(t, svc, models.FinEventPaymentEscrowed, map[string]interface{}{"amount": "100.00"})
	tampered := appendEvent(t, svc, models.FinEventPaymentReleased, map[string]interface{}{"amount": "100.00"})
	appendEvent(t, svc, models.FinEventWithdrawalHeld, map[string]interface{}{"amount": "90.00"})

	require.NoError(t, db.Model(&models.FinancialEventLogEntry{}).
		Where("id = ?", tampered.ID).
		Update("payload", `{"amount":"999.00"}`).Error)

	result, err := svc.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, tampered.ID, result.BrokenID)
	assert.Equal(t, "current_hash mismatch", result.Reason)
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	svc, db := newTestService(t)
	appendEvent(t, svc, models.FinEventPaymentEscrowed, map[string]interface{}{"amount": "100.00"})
	second := appendEvent(t, svc, models.FinEventPaymentReleased, map[string]interface{}{"amount": "100.00"})

	require.NoError(t, db.Model(&models.FinancialEventLogEntry{}).
		Where("id = ?", second.ID).
		Update("previous_hash", "forged").Error)

	result, err := svc.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, second.ID, result.BrokenID)
	assert.Equal(t, "previous_hash mismatch", result.Reason)
}

func TestCanonicalJSONIsKeyOrderIndependent(t *testing.T) {
	a, err := CanonicalJSON(map[string]interface{}{
		"b": 2, "a": 1,
		"nested": map[string]interface{}{"y": "2", "x": "1"},
	})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]interface{}{
		"nested": map[string]interface{}{"x": "1", "y": "2"},
		"a":      1, "b": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":1,"b":2,"nested":{"x":"1","y":"2"}}`, a)
}

func TestCanonicalizeRawPreservesNumberFormat(t *testing.T) {
	got, err := CanonicalizeRaw(`{"amount": 10.00, "count": 3}`)
	require.NoError(t, err)
	assert.Equal(t, `{"amount":10.00,"count":3}`, got)
}

func TestListNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	appendEvent(t, svc, models.FinEventPaymentEscrowed, map[string]interface{}{"n": 1})
	last := appendEvent(t, svc, models.FinEventPaymentReleased, map[string]interface{}{"n": 2})

	entries, total, err := svc.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, last.ID, entries[0].ID)
}
