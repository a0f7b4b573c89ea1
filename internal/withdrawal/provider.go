package withdrawal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/config"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// TransferStatus is the provider-side state of an outbound transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// ProviderClient talks to the upstream payment provider. The webhook
// boundary is the primary signal for transfer outcomes; VerifyTransfer
// is the polling fallback for deliveries that never arrive.
type ProviderClient interface {
	InitiateTransfer(ctx context.Context, w *models.Withdrawal) (string, error)
	VerifyTransfer(ctx context.Context, providerRef string) (TransferStatus, error)
}

// HTTPProvider is the production ProviderClient over the provider's
// REST API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider creates a provider client from configuration.
func NewHTTPProvider(cfg config.ProviderConfig, logger *zap.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type transferRequest struct {
	WithdrawalID  string `json:"withdrawal_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	IBAN          string `json:"iban"`
	AccountHolder string `json:"account_holder"`
	BankName      string `json:"bank_name"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// InitiateTransfer submits the payout and returns the provider's
// transfer reference.
func (p *HTTPProvider) InitiateTransfer(ctx context.Context, w *models.Withdrawal) (string, error) {
	body, err := json.Marshal(transferRequest{
		WithdrawalID:  w.ID.String(),
		Amount:        w.Amount.StringFixed(2),
		Currency:      "EUR",
		IBAN:          w.IBAN,
		AccountHolder: w.AccountHolder,
		BankName:      w.BankName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer request: %w", err)
	}

	var resp transferResponse
	if err := p.do(ctx, http.MethodPost, "/v1/transfers", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provider returned empty transfer id")
	}
	return resp.ID, nil
}

// VerifyTransfer polls the provider for the current transfer state.
func (p *HTTPProvider) VerifyTransfer(ctx context.Context, providerRef string) (TransferStatus, error) {
	var resp transferResponse
	if err := p.do(ctx, http.MethodGet, "/v1/transfers/"+providerRef, nil, &resp); err != nil {
		return "", err
	}
	switch resp.Status {
	case "completed", "succeeded":
		return TransferCompleted, nil
	case "failed", "returned":
		return TransferFailed, nil
	default:
		return TransferPending, nil
	}
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Warn("provider returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("path", path),
			zap.ByteString("body", payload))
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
