package errors

import (
	"fmt"
	"net/http"
)

// ProblemDetails implements RFC 7807 problem responses for the API
// surface. Validation-tier failures are reported through these; they
// are rejected before any mutation, so no rollback accompanies them.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetails) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WithTraceID attaches a correlation id to the problem response.
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

const typeBase = "https://acader.dev/problems"

// NewValidationError creates a 400 problem.
func NewValidationError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/validation",
		Title:    "Request validation failed",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: instance,
	}
}

// NewNotFoundError creates a 404 problem.
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/not-found",
		Title:    "Resource not found",
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: instance,
	}
}

// NewConflictError creates a 409 problem for already-processed entities.
func NewConflictError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/conflict",
		Title:    "Entity already processed",
		Status:   http.StatusConflict,
		Detail:   detail,
		Instance: instance,
	}
}

// NewInsufficientFundsError creates a 422 problem for balance shortfalls.
func NewInsufficientFundsError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/insufficient-funds",
		Title:    "Insufficient balance",
		Status:   http.StatusUnprocessableEntity,
		Detail:   detail,
		Instance: instance,
	}
}

// NewIllegalTransitionError creates a 422 problem for disallowed
// payment status transitions.
func NewIllegalTransitionError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/illegal-transition",
		Title:    "Transition not allowed",
		Status:   http.StatusUnprocessableEntity,
		Detail:   detail,
		Instance: instance,
	}
}

// NewDisputedLockError creates a 423 problem for operations blocked by
// an open dispute.
func NewDisputedLockError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/disputed",
		Title:    "Payment is disputed",
		Status:   http.StatusLocked,
		Detail:   detail,
		Instance: instance,
	}
}

// NewWalletRestrictedError creates a 403 problem for restricted wallets.
func NewWalletRestrictedError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/wallet-restricted",
		Title:    "Wallet restricted",
		Status:   http.StatusForbidden,
		Detail:   detail,
		Instance: instance,
	}
}

// NewReviewRequiredError creates a 202-style problem body used when a
// transaction is routed to manual review instead of being denied.
func NewReviewRequiredError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/review-required",
		Title:    "Routed to manual review",
		Status:   http.StatusAccepted,
		Detail:   detail,
		Instance: instance,
	}
}

// NewInternalError creates a 500 problem.
func NewInternalError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     typeBase + "/internal",
		Title:    "Internal server error",
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: instance,
	}
}
