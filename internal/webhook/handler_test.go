package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/payment"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/withdrawal"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

const testSecret = "webhook-test-secret"

// paymentStub records dispatched payment callbacks; everything outside
// the webhook surface panics if touched.
type paymentStub struct {
	payment.PaymentService
	paid   []string
	failed []string
}

func (s *paymentStub) MarkPaid(_ context.Context, providerRef string) (*models.Payment, error) {
	s.paid = append(s.paid, providerRef)
	return &models.Payment{}, nil
}

func (s *paymentStub) MarkFailed(_ context.Context, providerRef string) (*models.Payment, error) {
	s.failed = append(s.failed, providerRef)
	return &models.Payment{}, nil
}

// withdrawalStub records dispatched transfer callbacks.
type withdrawalStub struct {
	withdrawal.WithdrawalService
	completed []string
	failed    []string
	err       error
}

func (s *withdrawalStub) CompleteTransfer(_ context.Context, providerRef string) (*models.Withdrawal, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.completed = append(s.completed, providerRef)
	return &models.Withdrawal{}, nil
}

func (s *withdrawalStub) FailTransfer(_ context.Context, providerRef, _ string) (*models.Withdrawal, error) {
	s.failed = append(s.failed, providerRef)
	return &models.Withdrawal{}, nil
}

func newTestHandler(t *testing.T) (*gin.Engine, *paymentStub, *withdrawalStub, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}))

	payments := &paymentStub{}
	withdrawals := &withdrawalStub{}
	handler := NewHandler(db, zap.NewNop(), payments, withdrawals, testSecret)

	router := gin.New()
	handler.Register(router)
	return router, payments, withdrawals, db
}

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func deliver(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMissingSignatureRejected(t *testing.T) {
	router, payments, _, _ := newTestHandler(t)
	body := []byte(`{"id":"evt-1","type":"payment.succeeded","data":{"reference":"pay-1"}}`)

	rec := deliver(router, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, payments.paid)
}

func TestForgedSignatureRejected(t *testing.T) {
	router, payments, _, db := newTestHandler(t)
	body := []byte(`{"id":"evt-1","type":"payment.succeeded","data":{"reference":"pay-1"}}`)

	mac := hmac.New(sha512.New, []byte("wrong-secret"))
	mac.Write(body)
	rec := deliver(router, body, hex.EncodeToString(mac.Sum(nil)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, payments.paid)

	// Nothing recorded before authentication.
	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPaymentSucceededDispatched(t *testing.T) {
	router, payments, _, _ := newTestHandler(t)
	body := []byte(`{"id":"evt-1","type":"payment.succeeded","data":{"reference":"pay-1"}}`)

	rec := deliver(router, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pay-1"}, payments.paid)
}

func TestTransferFailedDispatched(t *testing.T) {
	router, _, withdrawals, _ := newTestHandler(t)
	body := []byte(`{"id":"evt-2","type":"transfer.failed","data":{"reference":"tr-7","reason":"account closed"}}`)

	rec := deliver(router, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tr-7"}, withdrawals.failed)
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	router, payments, _, db := newTestHandler(t)
	body := []byte(`{"id":"evt-1","type":"payment.succeeded","data":{"reference":"pay-1"}}`)

	for i := 0; i < 3; i++ {
		rec := deliver(router, body, sign(body))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, []string{"pay-1"}, payments.paid)

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUnknownEventTypeAcknowledged(t *testing.T) {
	router, payments, withdrawals, _ := newTestHandler(t)
	body := []byte(`{"id":"evt-9","type":"account.updated","data":{}}`)

	rec := deliver(router, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, payments.paid)
	assert.Empty(t, payments.failed)
	assert.Empty(t, withdrawals.completed)
	assert.Empty(t, withdrawals.failed)
}

func TestMalformedPayloadAcknowledged(t *testing.T) {
	router, payments, _, _ := newTestHandler(t)
	body := []byte(`{"id":`)

	rec := deliver(router, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, payments.paid)
}

func TestProcessingErrorStillAcknowledged(t *testing.T) {
	router, _, withdrawals, _ := newTestHandler(t)
	// The dispatch fails internally, but the provider must not retry an
	// authenticated delivery; losses surface via reconciliation.
	withdrawals.err = errors.New("withdrawal not found")
	body := []byte(`{"id":"evt-5","type":"transfer.completed","data":{"reference":"tr-unknown"}}`)

	rec := deliver(router, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, withdrawals.completed)
}
