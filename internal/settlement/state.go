// Package settlement drives a paid order through compliance evaluation,
// on-chain transfer execution and, when anything past payment capture fails,
// the refund flow. One order settles at a time: every claim of an order is a
// compare-and-set on its status, so a second worker observing a stale status
// simply drops the unit of work.
package settlement

import (
	"fmt"

	"github.com/nivant/tokensettle/internal/domain"
)

// orderTransitions is the legal status graph for an order. completed and
// refund_required have no exits; an order that reaches either is closed for
// good.
var orderTransitions = map[string]map[string]struct{}{
	domain.OrderStatusPaymentConfirmed: {
		domain.OrderStatusComplianceChecking: {},
		domain.OrderStatusFailed:             {},
	},
	domain.OrderStatusComplianceChecking: {
		domain.OrderStatusExecuting: {},
		domain.OrderStatusFailed:    {},
		// Requeue edge: when the evaluation itself fails on infrastructure
		// (not a denial) the claim is handed back so a later worker pass can
		// retry instead of refunding a buyer over a transient fault.
		domain.OrderStatusPaymentConfirmed: {},
	},
	domain.OrderStatusExecuting: {
		domain.OrderStatusCompleted: {},
		domain.OrderStatusFailed:    {},
	},
	domain.OrderStatusFailed: {
		domain.OrderStatusRefundRequired: {},
	},
	domain.OrderStatusCompleted:      {},
	domain.OrderStatusRefundRequired: {},
}

func canTransition(current, next string) bool {
	nextStates, ok := orderTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// guardTransition rejects status changes the state machine does not allow.
// The storage layer's compare-and-set enforces atomicity; this enforces
// legality, so a bug that tries to, say, complete a failed order surfaces as
// an error instead of a silent write.
func guardTransition(current, next string) error {
	if !canTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return nil
}

// Failure reasons recorded on orders that enter the refund flow.
const (
	ReasonComplianceDenied    = "compliance_denied"
	ReasonLedgerFailed        = "ledger_failed"
	ReasonConfirmationTimeout = "confirmation_timeout"
	ReasonCancelled           = "cancelled"
)
