package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is a token purchase with a captured off-chain payment. It is created
// when the payment processor confirms capture and is mutated only by the
// settlement orchestrator.
type Order struct {
	ID               uuid.UUID       `json:"id"`
	BuyerID          uuid.UUID       `json:"buyer_id"`
	TokenID          uuid.UUID       `json:"token_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	PricePerUnit     Money           `json:"price_per_unit"`
	PaymentReference string          `json:"payment_reference"`
	Status           string          `json:"status"`
	LedgerTxRef      *string         `json:"ledger_tx_ref,omitempty"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	RefundStatus     string          `json:"refund_status"`
	ReviewRequired   bool            `json:"review_required"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// TotalValue is the order's quantity priced at the per-unit rate.
func (o Order) TotalValue() Money {
	return o.PricePerUnit.Mul(o.Quantity)
}

// Holding is the platform's book-entry position for one holder and token,
// updated only after a confirmed transfer. Quantity must never go negative.
type Holding struct {
	HolderID      uuid.UUID       `json:"holder_id"`
	TokenID       uuid.UUID       `json:"token_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	AverageCost   Money           `json:"average_cost"`
	TotalInvested Money           `json:"total_invested"`
	LastSyncedAt  time.Time       `json:"last_synced_at"`
}

// InvestorIdentity is the KYC snapshot consulted by compliance. It is written
// by the external KYC workflow; settlement only increments CurrentInvestment
// on completed orders.
type InvestorIdentity struct {
	HolderID           uuid.UUID `json:"holder_id"`
	WalletAddress      string    `json:"wallet_address"`
	Category           string    `json:"category"`
	VerificationStatus string    `json:"verification_status"`
	InvestmentLimit    Money     `json:"investment_limit"`
	CurrentInvestment  Money     `json:"current_investment"`
	ExpiresAt          time.Time `json:"expires_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// FreezeRecord is an administrative hold on part of a holder's balance,
// independent of the chain's own frozen-balance bookkeeping. A record with a
// nil ReleasedAt is active.
type FreezeRecord struct {
	ID           uuid.UUID       `json:"id"`
	HolderID     uuid.UUID       `json:"holder_id"`
	TokenID      uuid.UUID       `json:"token_id"`
	FrozenAmount decimal.Decimal `json:"frozen_amount"`
	Reason       string          `json:"reason"`
	FrozenAt     time.Time       `json:"frozen_at"`
	ReleasedAt   *time.Time      `json:"released_at,omitempty"`
}

// Active reports whether the freeze still binds.
func (f FreezeRecord) Active() bool {
	return f.ReleasedAt == nil
}

// ComplianceDecision is the immutable outcome of one compliance evaluation.
// Checks holds the result of every check that was evaluated before the first
// failure short-circuited the run.
type ComplianceDecision struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	Allowed     bool            `json:"allowed"`
	ReasonCode  string          `json:"reason_code,omitempty"`
	Checks      map[string]bool `json:"checks_evaluated"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

// LedgerTransaction is one on-chain submission attempt for an order. At most
// one record per order may be in submitted state at any time.
type LedgerTransaction struct {
	ID            uuid.UUID  `json:"id"`
	OrderID       uuid.UUID  `json:"order_id"`
	TxRef         string     `json:"tx_ref"`
	Status        string     `json:"status"`
	Confirmations int64      `json:"confirmations"`
	BlockRef      *string    `json:"block_ref,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	ErrorDetail   *string    `json:"error_detail,omitempty"`
}

// Token maps a platform token to its on-chain asset.
type Token struct {
	ID          uuid.UUID `json:"id"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	MintAddress string    `json:"mint_address"`
	Decimals    int32     `json:"decimals"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEvent is one append-only audit trail entry.
type AuditEvent struct {
	ID         uuid.UUID  `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  string     `json:"prev_state,omitempty"`
	NextState  string     `json:"next_state,omitempty"`
	Severity   string     `json:"severity"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CategoryCeiling returns the regulatory investment ceiling for a category.
// Institutional and founder investors are effectively unbounded, reported by
// the second return value.
func CategoryCeiling(category string) (Money, bool) {
	switch category {
	case CategoryRetail:
		return RupeesFromInt(100_000), true
	case CategoryAccredited:
		return RupeesFromInt(1_000_000), true
	default:
		return Money{}, false
	}
}
