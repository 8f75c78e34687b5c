package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies ledger gateway failures so callers can decide
// between retrying and giving up.
type ErrorKind string

const (
	// KindInsufficientBalance means the source wallet cannot cover the
	// transfer. Permanent, never retried.
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	// KindNetworkUnavailable means the RPC node could not be reached or
	// rejected the submission for a recoverable reason. Transient.
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	// KindReverted means the chain accepted and then rejected the
	// transaction. Permanent, never retried.
	KindReverted ErrorKind = "reverted"
)

// Error is a classified ledger gateway failure.
type Error struct {
	Kind   ErrorKind
	Detail string
	cause  error
}

func NewError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ledger %s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("ledger %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Transient reports whether retrying the same call may succeed.
func (e *Error) Transient() bool { return e.Kind == KindNetworkUnavailable }

// IsTransient reports whether err is a gateway error worth retrying.
func IsTransient(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Transient()
}

// KindOf extracts the gateway error kind, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// TransferRequest moves token base units between custody wallets. Reference
// carries the order ID into the chain memo so transfers can be traced back.
type TransferRequest struct {
	Source      string
	Destination string
	Mint        string
	Amount      uint64
	Reference   string
}

// ConfirmationOutcome is the terminal result of waiting on a submitted
// transaction.
type ConfirmationOutcome string

const (
	OutcomeConfirmed ConfirmationOutcome = "confirmed"
	OutcomeFailed    ConfirmationOutcome = "failed"
	OutcomeTimedOut  ConfirmationOutcome = "timed_out"
)

// Confirmation reports how a submitted transaction settled on chain.
type Confirmation struct {
	Outcome       ConfirmationOutcome
	Confirmations int64
	BlockRef      string
	Detail        string
}

// Gateway is the on-chain token ledger the settlement pipeline executes
// against. Implementations must be safe for concurrent use.
type Gateway interface {
	// SubmitTransfer broadcasts a transfer and returns its transaction
	// reference. Failures are classified via *Error.
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)

	// WaitForConfirmation blocks until the transaction reaches
	// minConfirmations, fails on chain, or ctx expires. It never returns
	// an error for an on-chain failure; that is OutcomeFailed.
	WaitForConfirmation(ctx context.Context, txRef string, minConfirmations int64) (Confirmation, error)

	// BalanceOf returns the wallet's balance for mint in base units.
	BalanceOf(ctx context.Context, wallet, mint string) (uint64, error)

	// IsEligible reports whether the wallet holds an initialized,
	// unfrozen token account for mint.
	IsEligible(ctx context.Context, wallet, mint string) (bool, error)

	// IsPaused reports whether transfers of mint are currently halted.
	IsPaused(ctx context.Context, mint string) (bool, error)
}
