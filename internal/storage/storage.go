package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivant/tokensettle/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned when a compare-and-set on an order's
	// status observes a different current status. The caller lost the claim
	// race and must drop the unit of work.
	ErrStatusConflict = errors.New("order status conflict")

	// ErrDuplicateSubmission is returned when appending a submitted ledger
	// transaction for an order that already has one in flight.
	ErrDuplicateSubmission = errors.New("order already has a submitted ledger transaction")

	// ErrLimitExceeded is returned when an investment increment would push
	// current_investment past the identity's limit. The increment is the
	// last write of a settlement, so this is where concurrent orders that
	// each passed the limit check against the same snapshot get caught.
	ErrLimitExceeded = errors.New("investment limit exceeded")
)

// OrderStore persists purchase orders. All status changes are
// compare-and-set: the write succeeds only when the stored status equals the
// expected one, otherwise ErrStatusConflict is returned.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByPaymentReference(ctx context.Context, paymentReference string) (*domain.Order, error)
	ListOrdersByStatus(ctx context.Context, status string, limit int32) ([]domain.Order, error)
	ListStaleExecutingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error)
	ListStaleRefundPendingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error)

	UpdateOrderStatusCAS(ctx context.Context, id uuid.UUID, expected, next string) error
	MarkOrderFailed(ctx context.Context, id uuid.UUID, expected, reason string) error
	MarkOrderCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	MarkOrderRefundRequired(ctx context.Context, id uuid.UUID) error
	SetOrderLedgerTxRef(ctx context.Context, id uuid.UUID, txRef string) error
	SetOrderRefundStatus(ctx context.Context, id uuid.UUID, status string) error
	SetOrderReviewRequired(ctx context.Context, id uuid.UUID, required bool) error
}

// HoldingStore persists book-entry positions.
type HoldingStore interface {
	GetHolding(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error)
	// GetHoldingForUpdate locks the row for the duration of the enclosing
	// transaction. Returns ErrNotFound when the holder has no position yet.
	GetHoldingForUpdate(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error)
	UpsertHolding(ctx context.Context, h *domain.Holding) error
}

// IdentityStore persists investor identities. Settlement only reads them and
// increments CurrentInvestment on completed orders; all other writes belong
// to the external KYC workflow.
type IdentityStore interface {
	GetIdentity(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error)
	GetIdentityForUpdate(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error)
	// AddToCurrentInvestment is a guarded increment: it fails with
	// ErrLimitExceeded instead of pushing current_investment past
	// investment_limit.
	AddToCurrentInvestment(ctx context.Context, holderID uuid.UUID, delta domain.Money) error
	UpsertIdentity(ctx context.Context, id *domain.InvestorIdentity) error
}

// FreezeStore persists administrative freezes.
type FreezeStore interface {
	CreateFreeze(ctx context.Context, f *domain.FreezeRecord) error
	// ListActiveFreezes returns unreleased freezes ordered oldest first.
	ListActiveFreezes(ctx context.Context, holderID, tokenID uuid.UUID) ([]domain.FreezeRecord, error)
	ReleaseFreeze(ctx context.Context, id uuid.UUID, releasedAt time.Time) error
	ReduceFreeze(ctx context.Context, id uuid.UUID, remaining decimal.Decimal) error
}

// DecisionStore persists immutable compliance decisions, one per evaluation.
type DecisionStore interface {
	CreateDecision(ctx context.Context, d *domain.ComplianceDecision) error
	GetLatestDecision(ctx context.Context, orderID uuid.UUID) (*domain.ComplianceDecision, error)
}

// LedgerTransactionStore persists on-chain submission attempts. History is
// append-only: resubmissions add records, outcome updates mutate only the
// status fields of the attempt they belong to.
type LedgerTransactionStore interface {
	AppendLedgerTransaction(ctx context.Context, tx *domain.LedgerTransaction) error
	GetSubmittedLedgerTransaction(ctx context.Context, orderID uuid.UUID) (*domain.LedgerTransaction, error)
	ListLedgerTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerTransaction, error)
	MarkLedgerTransactionConfirmed(ctx context.Context, id uuid.UUID, confirmations int64, blockRef *string, confirmedAt time.Time) error
	MarkLedgerTransactionFailed(ctx context.Context, id uuid.UUID, errorDetail string) error
}

// TokenStore reads the token registry.
type TokenStore interface {
	GetToken(ctx context.Context, id uuid.UUID) (*domain.Token, error)
	UpsertToken(ctx context.Context, t *domain.Token) error
}

// AuditStore persists the append-only audit trail.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, e *domain.AuditEvent) error
	ListAuditEvents(ctx context.Context, entityType string, entityID uuid.UUID, limit int32) ([]domain.AuditEvent, error)
}

// Store is the full data access contract required by services. RunInTx runs
// fn against a transaction-scoped view of the store and commits when fn
// returns nil.
type Store interface {
	OrderStore
	HoldingStore
	IdentityStore
	FreezeStore
	DecisionStore
	LedgerTransactionStore
	TokenStore
	AuditStore

	RunInTx(ctx context.Context, fn func(Store) error) error
}
