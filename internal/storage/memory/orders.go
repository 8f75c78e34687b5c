package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	return &cp
}

func (s *session) CreateOrder(ctx context.Context, o *domain.Order) error {
	if _, ok := s.st.orders[o.ID]; ok {
		return storage.ErrStatusConflict
	}
	now := s.st.clk.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	if o.RefundStatus == "" {
		o.RefundStatus = domain.RefundStatusNone
	}
	s.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *session) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := s.st.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *session) GetOrderByPaymentReference(ctx context.Context, paymentReference string) (*domain.Order, error) {
	for _, o := range s.st.orders {
		if o.PaymentReference == paymentReference {
			return cloneOrder(o), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *session) ListOrdersByStatus(ctx context.Context, status string, limit int32) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.st.orders {
		if o.Status == status && !o.ReviewRequired {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *session) ListStaleExecutingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.st.orders {
		if o.Status == domain.OrderStatusExecuting && !o.ReviewRequired && o.UpdatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *session) ListStaleRefundPendingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.st.orders {
		if o.Status == domain.OrderStatusFailed && o.RefundStatus == domain.RefundStatusPending &&
			!o.ReviewRequired && o.UpdatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *session) UpdateOrderStatusCAS(ctx context.Context, id uuid.UUID, expected, next string) error {
	o, ok := s.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if o.Status != expected {
		return storage.ErrStatusConflict
	}
	o.Status = next
	o.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) MarkOrderFailed(ctx context.Context, id uuid.UUID, expected, reason string) error {
	o, ok := s.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if o.Status != expected {
		return storage.ErrStatusConflict
	}
	o.Status = domain.OrderStatusFailed
	o.FailureReason = &reason
	o.RefundStatus = domain.RefundStatusPending
	o.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) MarkOrderCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	o, ok := s.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if o.Status != domain.OrderStatusExecuting {
		return storage.ErrStatusConflict
	}
	o.Status = domain.OrderStatusCompleted
	o.CompletedAt = &completedAt
	o.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) MarkOrderRefundRequired(ctx context.Context, id uuid.UUID) error {
	o, ok := s.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if o.Status != domain.OrderStatusFailed {
		return storage.ErrStatusConflict
	}
	o.Status = domain.OrderStatusRefundRequired
	o.RefundStatus = domain.RefundStatusFailed
	o.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) SetOrderLedgerTxRef(ctx context.Context, id uuid.UUID, txRef string) error {
	o, ok := s.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	o.LedgerTxRef = &txRef
	o.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) SetOrderRefundStatus(ctx context.Context, id uuid.UUID, status string) error {
	o, ok := s.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	o.RefundStatus = status
	o.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) SetOrderReviewRequired(ctx context.Context, id uuid.UUID, required bool) error {
	o, ok := s.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	o.ReviewRequired = required
	o.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) CreateDecision(ctx context.Context, d *domain.ComplianceDecision) error {
	cp := *d
	if cp.Checks != nil {
		checks := make(map[string]bool, len(cp.Checks))
		for k, v := range cp.Checks {
			checks[k] = v
		}
		cp.Checks = checks
	}
	s.st.decisions = append(s.st.decisions, cp)
	return nil
}

func (s *session) GetLatestDecision(ctx context.Context, orderID uuid.UUID) (*domain.ComplianceDecision, error) {
	for i := len(s.st.decisions) - 1; i >= 0; i-- {
		if s.st.decisions[i].OrderID == orderID {
			cp := s.st.decisions[i]
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *session) AppendLedgerTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	if tx.Status == domain.LedgerTxStatusSubmitted {
		for i := range s.st.ledgerTxs {
			if s.st.ledgerTxs[i].OrderID == tx.OrderID && s.st.ledgerTxs[i].Status == domain.LedgerTxStatusSubmitted {
				return storage.ErrDuplicateSubmission
			}
		}
	}
	s.st.ledgerTxs = append(s.st.ledgerTxs, *tx)
	return nil
}

func (s *session) GetSubmittedLedgerTransaction(ctx context.Context, orderID uuid.UUID) (*domain.LedgerTransaction, error) {
	for i := range s.st.ledgerTxs {
		if s.st.ledgerTxs[i].OrderID == orderID && s.st.ledgerTxs[i].Status == domain.LedgerTxStatusSubmitted {
			cp := s.st.ledgerTxs[i]
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *session) ListLedgerTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerTransaction, error) {
	var out []domain.LedgerTransaction
	for i := range s.st.ledgerTxs {
		if s.st.ledgerTxs[i].OrderID == orderID {
			out = append(out, s.st.ledgerTxs[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *session) MarkLedgerTransactionConfirmed(ctx context.Context, id uuid.UUID, confirmations int64, blockRef *string, confirmedAt time.Time) error {
	for i := range s.st.ledgerTxs {
		if s.st.ledgerTxs[i].ID == id {
			s.st.ledgerTxs[i].Status = domain.LedgerTxStatusConfirmed
			s.st.ledgerTxs[i].Confirmations = confirmations
			s.st.ledgerTxs[i].BlockRef = blockRef
			s.st.ledgerTxs[i].ConfirmedAt = &confirmedAt
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *session) MarkLedgerTransactionFailed(ctx context.Context, id uuid.UUID, errorDetail string) error {
	for i := range s.st.ledgerTxs {
		if s.st.ledgerTxs[i].ID == id {
			s.st.ledgerTxs[i].Status = domain.LedgerTxStatusFailed
			s.st.ledgerTxs[i].ErrorDetail = &errorDetail
			return nil
		}
	}
	return storage.ErrNotFound
}
