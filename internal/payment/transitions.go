package payment

import (
	"fmt"

	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// transition is one edge of the payment state machine.
type transition struct {
	From models.PaymentStatus
	To   models.PaymentStatus
}

// effect applies the ledger movement paired with a transition. A nil
// effect means the transition is a pure status change.
type effect func(tc *transitionContext) error

// transitionTable is the explicit adjacency table. A request for a pair
// not present here is rejected before any mutation.
var transitionTable = map[transition]effect{
	{models.PaymentPending, models.PaymentPaid}:     (*transitionContext).escrowFunds,
	{models.PaymentPending, models.PaymentFailed}:   nil,
	{models.PaymentPaid, models.PaymentReleased}:    (*transitionContext).releaseEscrow,
	{models.PaymentPaid, models.PaymentDisputed}:    (*transitionContext).freezeFunds,
	{models.PaymentPaid, models.PaymentRefunded}:    (*transitionContext).refundEscrow,
	{models.PaymentReleased, models.PaymentDisputed}: (*transitionContext).freezeFunds,
	{models.PaymentReleased, models.PaymentRefunded}: (*transitionContext).clawBack,
	{models.PaymentReleased, models.PaymentTransferFailed}: nil,
	{models.PaymentReleased, models.PaymentWithdrawn}:      nil,
	{models.PaymentTransferFailed, models.PaymentReleased}: nil,
	{models.PaymentDisputed, models.PaymentReleased}: (*transitionContext).resolveToRelease,
	{models.PaymentDisputed, models.PaymentRefunded}: (*transitionContext).resolveToRefund,
}

// lookupTransition returns the effect for a legal pair, or an error for
// a pair outside the table.
func lookupTransition(from, to models.PaymentStatus) (effect, error) {
	eff, ok := transitionTable[transition{From: from, To: to}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return eff, nil
}
