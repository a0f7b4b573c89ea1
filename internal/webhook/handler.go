package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/payment"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/withdrawal"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// SignatureHeader carries the provider's hex-encoded HMAC-SHA-512 of
// the raw request body.
const SignatureHeader = "X-Provider-Signature"

// Whitelisted provider event types. Everything else is acknowledged and
// dropped.
const (
	EventPaymentSucceeded  = "payment.succeeded"
	EventPaymentFailed     = "payment.failed"
	EventTransferCompleted = "transfer.completed"
	EventTransferFailed    = "transfer.failed"
)

// envelope is the provider's webhook wire format.
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Reference string `json:"reference"`
		Reason    string `json:"reason"`
	} `json:"data"`
}

// Handler terminates the provider webhook boundary. Inbound events are
// verified against the shared secret before any parsing, deduplicated
// on the provider event id, and always acknowledged with 200 once
// authenticated: the provider retrying on our internal failures would
// only amplify them, and true losses are caught by reconciliation and
// the stalled-transfer sweep.
type Handler struct {
	db          *gorm.DB
	logger      *zap.Logger
	payments    payment.PaymentService
	withdrawals withdrawal.WithdrawalService
	secret      []byte
}

// NewHandler creates a webhook handler.
func NewHandler(db *gorm.DB, logger *zap.Logger, payments payment.PaymentService, withdrawals withdrawal.WithdrawalService, secret string) *Handler {
	return &Handler{
		db:          db,
		logger:      logger,
		payments:    payments,
		withdrawals: withdrawals,
		secret:      []byte(secret),
	}
}

// Register mounts the webhook route.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhooks/provider", h.handle)
}

func (h *Handler) handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader(SignatureHeader)) {
		h.logger.Warn("webhook signature verification failed",
			zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var event envelope
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		h.logger.Warn("malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	inserted, err := h.recordEvent(c, &event, body)
	if err != nil {
		h.logger.Error("failed to record webhook event",
			zap.String("provider_event_id", event.ID),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if !inserted {
		// Replayed delivery; already processed.
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.dispatch(c, &event); err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("provider_event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("reference", event.Data.Reference),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// verifySignature runs before any parsing of the body.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, h.secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// recordEvent persists the provider event id with an insert-or-ignore;
// a duplicate id means this delivery is a replay.
func (h *Handler) recordEvent(c *gin.Context, event *envelope, body []byte) (bool, error) {
	res := h.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(&models.WebhookEvent{
		ID:              uuid.New(),
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         string(body),
		ReceivedAt:      time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (h *Handler) dispatch(c *gin.Context, event *envelope) error {
	ctx := c.Request.Context()
	switch event.Type {
	case EventPaymentSucceeded:
		_, err := h.payments.MarkPaid(ctx, event.Data.Reference)
		return err
	case EventPaymentFailed:
		_, err := h.payments.MarkFailed(ctx, event.Data.Reference)
		return err
	case EventTransferCompleted:
		_, err := h.withdrawals.CompleteTransfer(ctx, event.Data.Reference)
		return err
	case EventTransferFailed:
		_, err := h.withdrawals.FailTransfer(ctx, event.Data.Reference, event.Data.Reason)
		return err
	default:
		h.logger.Debug("ignoring webhook event type",
			zap.String("event_type", event.Type))
		return nil
	}
}
