package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

const orderColumns = `
	id, buyer_id, token_id, quantity::text, price_per_unit::text, currency,
	payment_reference, status, ledger_tx_ref, failure_reason, refund_status,
	review_required, created_at, updated_at, completed_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                     domain.Order
		quantityStr, priceStr string
		currency              string
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.TokenID, &quantityStr, &priceStr, &currency,
		&o.PaymentReference, &o.Status, &o.LedgerTxRef, &o.FailureReason,
		&o.RefundStatus, &o.ReviewRequired, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
		return nil, fmt.Errorf("parse order quantity: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse order price: %w", err)
	}
	o.PricePerUnit = domain.NewMoney(price, currency)
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	refundStatus := o.RefundStatus
	if refundStatus == "" {
		refundStatus = domain.RefundStatusNone
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO orders (
			id, buyer_id, token_id, quantity, price_per_unit, currency,
			payment_reference, status, refund_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, NOW(), NOW())`,
		o.ID, o.BuyerID, o.TokenID, o.Quantity.String(), o.PricePerUnit.Amount.String(),
		o.PricePerUnit.Currency, o.PaymentReference, o.Status, refundStatus,
	)
	return mapError(err)
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(s.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return o, nil
}

func (s *Store) GetOrderByPaymentReference(ctx context.Context, paymentReference string) (*domain.Order, error) {
	o, err := scanOrder(s.q.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, paymentReference))
	if err != nil {
		return nil, mapError(err)
	}
	return o, nil
}

func (s *Store) listOrders(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status string, limit int32) ([]domain.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND NOT review_required
		ORDER BY created_at
		LIMIT NULLIF($2, 0)`, status, limit)
}

func (s *Store) ListStaleExecutingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND NOT review_required AND updated_at < $2
		ORDER BY updated_at
		LIMIT NULLIF($3, 0)`, domain.OrderStatusExecuting, cutoff, limit)
}

func (s *Store) ListStaleRefundPendingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND refund_status = $2 AND NOT review_required AND updated_at < $3
		ORDER BY updated_at
		LIMIT NULLIF($4, 0)`, domain.OrderStatusFailed, domain.RefundStatusPending, cutoff, limit)
}

// casUpdate runs an order update guarded by an expected current status and
// distinguishes a missing row from a lost race.
func (s *Store) casUpdate(ctx context.Context, id uuid.UUID, sql string, args ...any) error {
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrStatusConflict
}

func (s *Store) UpdateOrderStatusCAS(ctx context.Context, id uuid.UUID, expected, next string) error {
	return s.casUpdate(ctx, id, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`, next, id, expected)
}

func (s *Store) MarkOrderFailed(ctx context.Context, id uuid.UUID, expected, reason string) error {
	return s.casUpdate(ctx, id, `
		UPDATE orders
		SET status = $1, failure_reason = $2, refund_status = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		domain.OrderStatusFailed, reason, domain.RefundStatusPending, id, expected)
}

func (s *Store) MarkOrderCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	return s.casUpdate(ctx, id, `
		UPDATE orders SET status = $1, completed_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		domain.OrderStatusCompleted, completedAt, id, domain.OrderStatusExecuting)
}

func (s *Store) MarkOrderRefundRequired(ctx context.Context, id uuid.UUID) error {
	return s.casUpdate(ctx, id, `
		UPDATE orders SET status = $1, refund_status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		domain.OrderStatusRefundRequired, domain.RefundStatusFailed, id, domain.OrderStatusFailed)
}

func (s *Store) SetOrderLedgerTxRef(ctx context.Context, id uuid.UUID, txRef string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE orders SET ledger_tx_ref = $1, updated_at = NOW() WHERE id = $2`, txRef, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetOrderRefundStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE orders SET refund_status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetOrderReviewRequired(ctx context.Context, id uuid.UUID, required bool) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE orders SET review_required = $1, updated_at = NOW() WHERE id = $2`, required, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateDecision(ctx context.Context, d *domain.ComplianceDecision) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO compliance_decisions (id, order_id, allowed, reason_code, checks, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.OrderID, d.Allowed, d.ReasonCode, d.Checks, d.EvaluatedAt,
	)
	return mapError(err)
}

func (s *Store) GetLatestDecision(ctx context.Context, orderID uuid.UUID) (*domain.ComplianceDecision, error) {
	var d domain.ComplianceDecision
	err := s.q.QueryRow(ctx, `
		SELECT id, order_id, allowed, reason_code, checks, evaluated_at
		FROM compliance_decisions
		WHERE order_id = $1
		ORDER BY evaluated_at DESC, id DESC
		LIMIT 1`, orderID,
	).Scan(&d.ID, &d.OrderID, &d.Allowed, &d.ReasonCode, &d.Checks, &d.EvaluatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) AppendLedgerTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_transactions (id, order_id, tx_ref, status, confirmations, block_ref, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.OrderID, tx.TxRef, tx.Status, tx.Confirmations, tx.BlockRef, tx.SubmittedAt,
	)
	return mapError(err)
}

const ledgerTxColumns = `
	id, order_id, tx_ref, status, confirmations, block_ref, submitted_at, confirmed_at, error_detail`

func scanLedgerTx(row pgx.Row) (*domain.LedgerTransaction, error) {
	var tx domain.LedgerTransaction
	err := row.Scan(&tx.ID, &tx.OrderID, &tx.TxRef, &tx.Status, &tx.Confirmations,
		&tx.BlockRef, &tx.SubmittedAt, &tx.ConfirmedAt, &tx.ErrorDetail)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) GetSubmittedLedgerTransaction(ctx context.Context, orderID uuid.UUID) (*domain.LedgerTransaction, error) {
	tx, err := scanLedgerTx(s.q.QueryRow(ctx, `
		SELECT `+ledgerTxColumns+` FROM ledger_transactions
		WHERE order_id = $1 AND status = $2`, orderID, domain.LedgerTxStatusSubmitted))
	if err != nil {
		return nil, mapError(err)
	}
	return tx, nil
}

func (s *Store) ListLedgerTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerTransaction, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+ledgerTxColumns+` FROM ledger_transactions
		WHERE order_id = $1
		ORDER BY submitted_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerTransaction
	for rows.Next() {
		tx, err := scanLedgerTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (s *Store) MarkLedgerTransactionConfirmed(ctx context.Context, id uuid.UUID, confirmations int64, blockRef *string, confirmedAt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE ledger_transactions
		SET status = $1, confirmations = $2, block_ref = $3, confirmed_at = $4
		WHERE id = $5`,
		domain.LedgerTxStatusConfirmed, confirmations, blockRef, confirmedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkLedgerTransactionFailed(ctx context.Context, id uuid.UUID, errorDetail string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE ledger_transactions SET status = $1, error_detail = $2 WHERE id = $3`,
		domain.LedgerTxStatusFailed, errorDetail, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
