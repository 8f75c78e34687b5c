package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/observability"
	"github.com/nivant/tokensettle/internal/storage"
)

// ReconciliationConfig bounds one reconciliation pass.
type ReconciliationConfig struct {
	// StaleExecutingAfter is how long an order may sit in executing before
	// the pass treats it as stuck.
	StaleExecutingAfter time.Duration
	// StaleRefundAfter is how long a failed order may keep a pending refund
	// before it is flagged for an operator.
	StaleRefundAfter time.Duration
	// BatchSize caps how many orders each scan pulls per pass.
	BatchSize int32
}

func (c ReconciliationConfig) withDefaults() ReconciliationConfig {
	if c.StaleExecutingAfter <= 0 {
		c.StaleExecutingAfter = 10 * time.Minute
	}
	if c.StaleRefundAfter <= 0 {
		c.StaleRefundAfter = 15 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// ReconciliationService sweeps up orders a crashed or wedged worker left
// behind. It is deliberately conservative: it resumes confirmation waits,
// which are query-only, and otherwise flags orders for a human. It never
// resubmits a transfer and never re-fires a refund, because either could
// double-pay.
type ReconciliationService struct {
	store        storage.Store
	orchestrator *Orchestrator
	audit        *audit.Service
	clk          clock.Clock
	cfg          ReconciliationConfig
}

func NewReconciliationService(store storage.Store, orchestrator *Orchestrator, auditSvc *audit.Service, clk clock.Clock, cfg ReconciliationConfig) *ReconciliationService {
	return &ReconciliationService{
		store:        store,
		orchestrator: orchestrator,
		audit:        auditSvc,
		clk:          clk,
		cfg:          cfg.withDefaults(),
	}
}

// Run executes one reconciliation pass. Per-order failures are logged and
// skipped so one bad order cannot wedge the sweep.
func (r *ReconciliationService) Run(ctx context.Context) error {
	if err := r.reconcileExecuting(ctx); err != nil {
		return err
	}
	return r.reconcileRefunds(ctx)
}

func (r *ReconciliationService) reconcileExecuting(ctx context.Context) error {
	cutoff := r.clk.Now().Add(-r.cfg.StaleExecutingAfter)
	orders, err := r.store.ListStaleExecutingOrders(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale executing orders: %w", err)
	}

	for i := range orders {
		order := orders[i]
		if order.LedgerTxRef == nil {
			// The worker may have died between broadcasting the transfer and
			// persisting its reference. Whether tokens moved is unknowable
			// from here, so the order goes to a human, never back on chain.
			if err := r.flagForReview(ctx, &order, "reconciliation.executing_without_txref",
				"order stuck in executing with no recorded transaction reference"); err != nil {
				zap.L().Error("flag stale executing order failed",
					zap.Error(err), zap.String("order_id", order.ID.String()))
				continue
			}
			observability.IncrementReconciliationAction("flagged_executing")
			continue
		}

		// A recorded reference makes resumption safe: waiting on an existing
		// transaction only reads chain state.
		if err := r.resumeConfirmation(ctx, &order); err != nil {
			zap.L().Error("resume confirmation failed",
				zap.Error(err),
				zap.String("order_id", order.ID.String()),
				zap.String("tx_ref", *order.LedgerTxRef),
			)
			continue
		}
		observability.IncrementReconciliationAction("resumed_confirmation")
	}
	return nil
}

func (r *ReconciliationService) resumeConfirmation(ctx context.Context, order *domain.Order) error {
	ltx, err := r.store.GetSubmittedLedgerTransaction(ctx, order.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Reference on the order but no open submission record: the
			// transaction already resolved or the write was torn. Operator.
			return r.flagForReview(ctx, order, "reconciliation.missing_submission",
				"order has a transaction reference but no submitted ledger transaction")
		}
		return fmt.Errorf("load submitted ledger transaction: %w", err)
	}

	zap.L().Info("resuming confirmation wait",
		zap.String("order_id", order.ID.String()),
		zap.String("tx_ref", ltx.TxRef),
	)
	return r.orchestrator.awaitConfirmation(ctx, order, ltx)
}

func (r *ReconciliationService) reconcileRefunds(ctx context.Context) error {
	cutoff := r.clk.Now().Add(-r.cfg.StaleRefundAfter)
	orders, err := r.store.ListStaleRefundPendingOrders(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale refund-pending orders: %w", err)
	}

	for i := range orders {
		order := orders[i]
		if err := r.flagForReview(ctx, &order, "reconciliation.refund_stalled",
			"refund still pending past the stale window"); err != nil {
			zap.L().Error("flag stalled refund failed",
				zap.Error(err), zap.String("order_id", order.ID.String()))
			continue
		}
		observability.IncrementReconciliationAction("flagged_refund")
	}
	return nil
}

func (r *ReconciliationService) flagForReview(ctx context.Context, order *domain.Order, action, detail string) error {
	return r.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.SetOrderReviewRequired(ctx, order.ID, true); err != nil {
			return fmt.Errorf("set review required: %w", err)
		}
		metadata, err := json.Marshal(map[string]string{"detail": detail, "status": order.Status})
		if err != nil {
			return fmt.Errorf("marshal review metadata: %w", err)
		}
		return r.audit.Write(ctx, tx, "order", order.ID, nil, action, "", "", domain.SeverityCritical, metadata)
	})
}
