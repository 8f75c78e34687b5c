package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

// OrderDetail is the read model for one order: the order itself, its latest
// compliance decision when one exists, and its on-chain submission history.
type OrderDetail struct {
	Order              domain.Order               `json:"order"`
	LatestDecision     *domain.ComplianceDecision `json:"latest_decision,omitempty"`
	LedgerTransactions []domain.LedgerTransaction `json:"ledger_transactions"`
}

// QueryService serves settlement reads. It never writes.
type QueryService struct {
	store storage.Store
}

func NewQueryService(store storage.Store) *QueryService {
	return &QueryService{store: store}
}

// GetOrderDetail loads an order with its decision and ledger history.
func (q *QueryService) GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := q.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	detail := &OrderDetail{Order: *order}

	decision, err := q.store.GetLatestDecision(ctx, orderID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load latest decision: %w", err)
	}
	detail.LatestDecision = decision

	txs, err := q.store.ListLedgerTransactions(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list ledger transactions: %w", err)
	}
	detail.LedgerTransactions = txs

	return detail, nil
}

// GetOrderAudit returns the order's audit trail in chronological order.
func (q *QueryService) GetOrderAudit(ctx context.Context, orderID uuid.UUID, limit int32) ([]domain.AuditEvent, error) {
	if _, err := q.store.GetOrder(ctx, orderID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	events, err := q.store.ListAuditEvents(ctx, "order", orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

// GetIdentity returns the KYC snapshot for a holder.
func (q *QueryService) GetIdentity(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error) {
	identity, err := q.store.GetIdentity(ctx, holderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return identity, nil
}
