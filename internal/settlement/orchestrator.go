package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/compliance"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/freeze"
	"github.com/nivant/tokensettle/internal/gateway"
	"github.com/nivant/tokensettle/internal/observability"
	"github.com/nivant/tokensettle/internal/paymentbridge"
	"github.com/nivant/tokensettle/internal/storage"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrOrderNotFound     = errors.New("order not found")
	// ErrCancelNotAllowed is returned when cancellation is requested after the
	// transfer has been handed to the ledger. From that point the order runs
	// to completed or into the refund flow on its own.
	ErrCancelNotAllowed = errors.New("order can no longer be cancelled")
)

// Config bounds the blocking parts of a settlement attempt.
type Config struct {
	// SettlementWallet is the custody wallet all primary transfers draw from.
	SettlementWallet string
	// MinConfirmations is the confirmation depth treated as final.
	MinConfirmations int64
	// ConfirmTimeout caps the confirmation wait; on expiry the attempt is
	// treated as failed and the order enters the refund flow.
	ConfirmTimeout time.Duration
	// SubmitRetries is how many times a transient submission error is retried
	// before the attempt fails.
	SubmitRetries int
	// SubmitBackoff is the delay before the first retry; it doubles per retry.
	SubmitBackoff time.Duration
	// RevalidateAfter forces a freeze re-check when this much time passed
	// between the compliance decision and the transfer submission.
	RevalidateAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinConfirmations <= 0 {
		c.MinConfirmations = 3
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 2 * time.Minute
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = 0
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = time.Second
	}
	if c.RevalidateAfter <= 0 {
		c.RevalidateAfter = 30 * time.Second
	}
	return c
}

// Orchestrator owns every order status write in the system. It claims paid
// orders, runs them through compliance and the ledger, and guarantees the
// buyer a terminal outcome: completed, refunded, or escalated for an
// operator.
type Orchestrator struct {
	store   storage.Store
	engine  *compliance.Engine
	freezes *freeze.Ledger
	gw      gateway.Gateway
	bridge  paymentbridge.Client
	audit   *audit.Service
	clk     clock.Clock
	cfg     Config
}

func NewOrchestrator(
	store storage.Store,
	engine *compliance.Engine,
	freezes *freeze.Ledger,
	gw gateway.Gateway,
	bridge paymentbridge.Client,
	auditSvc *audit.Service,
	clk clock.Clock,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		store:   store,
		engine:  engine,
		freezes: freezes,
		gw:      gw,
		bridge:  bridge,
		audit:   auditSvc,
		clk:     clk,
		cfg:     cfg.withDefaults(),
	}
}

// Settle drives one paid order to a terminal outcome. It is safe to call for
// the same order from any number of workers: exactly one wins the
// compare-and-set claim, the rest observe a stale status and drop out.
func (o *Orchestrator) Settle(ctx context.Context, orderID uuid.UUID) error {
	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("load order: %w", err)
	}

	if order.Status != domain.OrderStatusPaymentConfirmed {
		// Replayed event or another worker's order.
		zap.L().Info("settlement skipped: order not claimable",
			zap.String("order_id", order.ID.String()),
			zap.String("status", order.Status),
		)
		return nil
	}

	if err := o.transition(ctx, order, domain.OrderStatusComplianceChecking, "settlement.claimed", domain.SeverityInfo, nil); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			observability.IncrementSettlementClaim("conflict")
			zap.L().Info("settlement claim lost to concurrent worker", zap.String("order_id", order.ID.String()))
			return nil
		}
		return err
	}
	observability.IncrementSettlementClaim("claimed")
	order.Status = domain.OrderStatusComplianceChecking

	return o.settleClaimed(ctx, order)
}

func (o *Orchestrator) settleClaimed(ctx context.Context, order *domain.Order) error {
	decision, err := o.engine.Evaluate(ctx, order)
	if err != nil {
		// Evaluation could not complete; this is infrastructure, not a
		// denial, so the claim is handed back instead of refunding.
		if requeueErr := o.requeue(ctx, order); requeueErr != nil {
			zap.L().Error("requeue after evaluation failure failed",
				zap.Error(requeueErr), zap.String("order_id", order.ID.String()))
		}
		return fmt.Errorf("evaluate compliance: %w", err)
	}

	if err := o.persistDecision(ctx, order, decision); err != nil {
		return err
	}

	if !decision.Allowed {
		observability.IncrementComplianceDenial(decision.ReasonCode)
		return o.failAndRefund(ctx, order, ReasonComplianceDenied, decision.ReasonCode)
	}

	if err := o.transition(ctx, order, domain.OrderStatusExecuting, "settlement.executing", domain.SeverityInfo, nil); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			// Cancelled between evaluation and execution.
			zap.L().Info("settlement aborted before execution", zap.String("order_id", order.ID.String()))
			return nil
		}
		return err
	}
	order.Status = domain.OrderStatusExecuting

	return o.execute(ctx, order, decision)
}

func (o *Orchestrator) execute(ctx context.Context, order *domain.Order, decision *domain.ComplianceDecision) error {
	token, err := o.store.GetToken(ctx, order.TokenID)
	if err != nil {
		return fmt.Errorf("load token %s: %w", order.TokenID, err)
	}
	identity, err := o.store.GetIdentity(ctx, order.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer identity %s: %w", order.BuyerID, err)
	}

	amount, err := baseUnits(order.Quantity, token.Decimals)
	if err != nil {
		zap.L().Error("order quantity not representable on chain",
			zap.Error(err), zap.String("order_id", order.ID.String()))
		return o.failAndRefund(ctx, order, ReasonLedgerFailed, err.Error())
	}

	// Freezes may have landed since the decision; re-check before committing
	// tokens to the wire when the decision has gone stale.
	if o.clk.Now().Sub(decision.EvaluatedAt) >= o.cfg.RevalidateAfter {
		recheck, err := o.engine.Revalidate(ctx, order)
		if err != nil {
			return fmt.Errorf("revalidate freezes: %w", err)
		}
		if err := o.persistDecision(ctx, order, recheck); err != nil {
			return err
		}
		if !recheck.Allowed {
			observability.IncrementComplianceDenial(recheck.ReasonCode)
			return o.failAndRefund(ctx, order, ReasonComplianceDenied, recheck.ReasonCode)
		}
	}

	txRef, err := o.submitWithRetry(ctx, gateway.TransferRequest{
		Source:      o.cfg.SettlementWallet,
		Destination: identity.WalletAddress,
		Mint:        token.MintAddress,
		Amount:      amount,
		Reference:   order.ID.String(),
	})
	if err != nil {
		return o.failAndRefund(ctx, order, ReasonLedgerFailed, err.Error())
	}

	ltx := &domain.LedgerTransaction{
		ID:          uuid.New(),
		OrderID:     order.ID,
		TxRef:       txRef,
		Status:      domain.LedgerTxStatusSubmitted,
		SubmittedAt: o.clk.Now(),
	}
	err = o.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.AppendLedgerTransaction(ctx, ltx); err != nil {
			return fmt.Errorf("append ledger transaction: %w", err)
		}
		if err := tx.SetOrderLedgerTxRef(ctx, order.ID, txRef); err != nil {
			return fmt.Errorf("set order tx ref: %w", err)
		}
		metadata, err := json.Marshal(map[string]string{"tx_ref": txRef})
		if err != nil {
			return fmt.Errorf("marshal submission metadata: %w", err)
		}
		return o.audit.Write(ctx, tx, "order", order.ID, nil, "ledger.submitted", "", "", domain.SeverityInfo, metadata)
	})
	if err != nil {
		// The transfer is already on the wire but the reference never made
		// it to storage. Nothing here may resubmit; the reconciliation pass
		// flags the order for an operator.
		zap.L().Error("transfer submitted but tx ref not persisted",
			zap.Error(err),
			zap.String("order_id", order.ID.String()),
			zap.String("tx_ref", txRef),
		)
		return err
	}
	order.LedgerTxRef = &txRef

	return o.awaitConfirmation(ctx, order, ltx)
}

// submitWithRetry retries transient submission failures with doubling
// backoff. Permanent failures (reverted, insufficient balance) return
// immediately; retrying those with the same parameters cannot succeed.
func (o *Orchestrator) submitWithRetry(ctx context.Context, req gateway.TransferRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.SubmitBackoff << (attempt - 1)
			zap.L().Warn("retrying ledger submission",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.String("reference", req.Reference),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		txRef, err := o.gw.SubmitTransfer(ctx, req)
		if err == nil {
			observability.ObserveLedgerSubmit("ok", time.Since(start))
			return txRef, nil
		}
		observability.ObserveLedgerSubmit(string(gateway.KindOf(err)), time.Since(start))
		if !gateway.IsTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("submission retries exhausted: %w", lastErr)
}

func (o *Orchestrator) awaitConfirmation(ctx context.Context, order *domain.Order, ltx *domain.LedgerTransaction) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	start := time.Now()
	conf, err := o.gw.WaitForConfirmation(waitCtx, ltx.TxRef, o.cfg.MinConfirmations)
	if err != nil {
		observability.ObserveConfirmationWait("error", time.Since(start))
		return fmt.Errorf("wait for confirmation of %s: %w", ltx.TxRef, err)
	}
	observability.ObserveConfirmationWait(string(conf.Outcome), time.Since(start))

	switch conf.Outcome {
	case gateway.OutcomeConfirmed:
		return o.complete(ctx, order, ltx, conf)

	case gateway.OutcomeFailed:
		if err := o.store.MarkLedgerTransactionFailed(ctx, ltx.ID, conf.Detail); err != nil {
			return fmt.Errorf("mark ledger transaction failed: %w", err)
		}
		return o.failAndRefund(ctx, order, ReasonLedgerFailed, conf.Detail)

	case gateway.OutcomeTimedOut:
		detail := "confirmation wait exhausted"
		if conf.Detail != "" {
			detail += ": " + conf.Detail
		}
		if err := o.store.MarkLedgerTransactionFailed(ctx, ltx.ID, detail); err != nil {
			return fmt.Errorf("mark ledger transaction failed: %w", err)
		}
		// Confirmation exhaustion is operator-facing: the transfer may still
		// land on chain after the refund, which only a human can reconcile.
		if err := o.writeAudit(ctx, order.ID, nil, "settlement.confirmation_timeout", "", "", domain.SeverityCritical,
			map[string]string{"tx_ref": ltx.TxRef}); err != nil {
			return err
		}
		return o.failAndRefund(ctx, order, ReasonConfirmationTimeout, detail)

	default:
		return fmt.Errorf("unexpected confirmation outcome %q for %s", conf.Outcome, ltx.TxRef)
	}
}

// complete finalizes a confirmed transfer: ledger transaction, order status,
// holding upsert and the investment-limit counter move in one transaction,
// under the holder lock so concurrent settlements for the same buyer cannot
// interleave their read-modify-writes. The counter move is guarded, so an
// order whose limit headroom was consumed by a concurrent settlement after
// its compliance check is refused here and routed into the refund flow.
func (o *Orchestrator) complete(ctx context.Context, order *domain.Order, ltx *domain.LedgerTransaction, conf gateway.Confirmation) error {
	now := o.clk.Now()
	orderValue := order.TotalValue()

	err := o.freezes.Locked(order.BuyerID, func() error {
		return o.store.RunInTx(ctx, func(tx storage.Store) error {
			// The limit check at evaluation time ran against a snapshot that
			// a concurrent settlement for the same buyer may have advanced
			// since. The guarded increment re-verifies the limit at the
			// moment the counter moves, and runs first so a refused
			// increment leaves no other write behind.
			if err := tx.AddToCurrentInvestment(ctx, order.BuyerID, orderValue); err != nil {
				if errors.Is(err, storage.ErrLimitExceeded) {
					return err
				}
				return fmt.Errorf("increment current investment: %w", err)
			}

			var blockRef *string
			if conf.BlockRef != "" {
				blockRef = &conf.BlockRef
			}
			if err := tx.MarkLedgerTransactionConfirmed(ctx, ltx.ID, conf.Confirmations, blockRef, now); err != nil {
				return fmt.Errorf("mark ledger transaction confirmed: %w", err)
			}
			if err := tx.MarkOrderCompleted(ctx, order.ID, now); err != nil {
				return fmt.Errorf("mark order completed: %w", err)
			}

			holding, err := tx.GetHoldingForUpdate(ctx, order.BuyerID, order.TokenID)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("load holding: %w", err)
				}
				holding = &domain.Holding{
					HolderID:      order.BuyerID,
					TokenID:       order.TokenID,
					Quantity:      decimal.Zero,
					AverageCost:   domain.NewMoney(decimal.Zero, orderValue.Currency),
					TotalInvested: domain.NewMoney(decimal.Zero, orderValue.Currency),
				}
			}

			newQuantity := holding.Quantity.Add(order.Quantity)
			newInvested, err := holding.TotalInvested.Add(orderValue)
			if err != nil {
				return fmt.Errorf("accumulate invested total: %w", err)
			}
			holding.Quantity = newQuantity
			holding.TotalInvested = newInvested
			holding.AverageCost = domain.NewMoney(newInvested.Amount.Div(newQuantity), newInvested.Currency)
			holding.LastSyncedAt = now
			if err := tx.UpsertHolding(ctx, holding); err != nil {
				return fmt.Errorf("upsert holding: %w", err)
			}

			metadata, err := json.Marshal(map[string]any{
				"tx_ref":        ltx.TxRef,
				"confirmations": conf.Confirmations,
				"quantity":      order.Quantity.String(),
				"order_value":   orderValue.String(),
			})
			if err != nil {
				return fmt.Errorf("marshal completion metadata: %w", err)
			}
			return o.audit.Write(ctx, tx, "order", order.ID, nil, "settlement.completed",
				domain.OrderStatusExecuting, domain.OrderStatusCompleted, domain.SeverityInfo, metadata)
		})
	})
	if errors.Is(err, storage.ErrLimitExceeded) {
		return o.overLimitAtCompletion(ctx, order, ltx, conf)
	}
	if err != nil {
		return err
	}

	observability.IncrementSettlementOutcome("completed")
	zap.L().Info("settlement completed",
		zap.String("order_id", order.ID.String()),
		zap.String("tx_ref", ltx.TxRef),
		zap.Int64("confirmations", conf.Confirmations),
	)
	return nil
}

// overLimitAtCompletion handles a confirmed transfer whose buyer no longer
// has limit headroom. The tokens are already on chain, so the confirmation
// is recorded, the fiat leg is refunded, and the order is flagged for an
// operator to claw the tokens back.
func (o *Orchestrator) overLimitAtCompletion(ctx context.Context, order *domain.Order, ltx *domain.LedgerTransaction, conf gateway.Confirmation) error {
	var blockRef *string
	if conf.BlockRef != "" {
		blockRef = &conf.BlockRef
	}
	if err := o.store.MarkLedgerTransactionConfirmed(ctx, ltx.ID, conf.Confirmations, blockRef, o.clk.Now()); err != nil {
		return fmt.Errorf("mark ledger transaction confirmed: %w", err)
	}
	if err := o.store.SetOrderReviewRequired(ctx, order.ID, true); err != nil {
		return fmt.Errorf("flag order for review: %w", err)
	}
	if err := o.writeAudit(ctx, order.ID, nil, "settlement.limit_exceeded", "", "", domain.SeverityCritical,
		map[string]string{"tx_ref": ltx.TxRef, "order_value": order.TotalValue().String()}); err != nil {
		return err
	}

	observability.IncrementComplianceDenial(domain.CheckWithinInvestmentLimit)
	zap.L().Warn("confirmed transfer exceeds investment limit, refunding",
		zap.String("order_id", order.ID.String()),
		zap.String("buyer_id", order.BuyerID.String()),
		zap.String("tx_ref", ltx.TxRef),
	)
	return o.failAndRefund(ctx, order, ReasonComplianceDenied, domain.CheckWithinInvestmentLimit)
}

// failAndRefund moves the order to failed with a pending refund, then drives
// the refund itself. Every post-capture failure funnels through here so a
// buyer is never left without an outcome.
func (o *Orchestrator) failAndRefund(ctx context.Context, order *domain.Order, reason, detail string) error {
	failureReason := reason
	if detail != "" {
		failureReason = reason + ": " + detail
	}

	err := o.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := guardTransition(order.Status, domain.OrderStatusFailed); err != nil {
			return err
		}
		if err := tx.MarkOrderFailed(ctx, order.ID, order.Status, failureReason); err != nil {
			return err
		}
		metadata, err := json.Marshal(map[string]string{"reason": failureReason})
		if err != nil {
			return fmt.Errorf("marshal failure metadata: %w", err)
		}
		return o.audit.Write(ctx, tx, "order", order.ID, nil, "settlement.failed",
			order.Status, domain.OrderStatusFailed, domain.SeverityWarning, metadata)
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			zap.L().Info("failure transition lost to concurrent writer", zap.String("order_id", order.ID.String()))
			return nil
		}
		return fmt.Errorf("mark order failed: %w", err)
	}
	order.Status = domain.OrderStatusFailed
	observability.IncrementSettlementOutcome("failed")

	return o.initiateRefund(ctx, order, failureReason)
}

// initiateRefund asks the payment service to return the fiat leg. A refund
// failure is terminal and critical: it is never retried automatically, since
// a blind retry risks refunding the buyer twice.
func (o *Orchestrator) initiateRefund(ctx context.Context, order *domain.Order, reason string) error {
	result, err := o.bridge.InitiateRefund(ctx, paymentbridge.RefundRequest{
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		Amount:           order.TotalValue(),
		Reason:           reason,
	})
	if err != nil {
		observability.IncrementRefund("failed")
		zap.L().Error("refund initiation failed",
			zap.Error(err),
			zap.String("order_id", order.ID.String()),
			zap.String("payment_reference", order.PaymentReference),
		)

		txErr := o.store.RunInTx(ctx, func(tx storage.Store) error {
			if err := tx.MarkOrderRefundRequired(ctx, order.ID); err != nil {
				return fmt.Errorf("mark order refund required: %w", err)
			}
			metadata, merr := json.Marshal(map[string]string{
				"reason": reason,
				"error":  err.Error(),
			})
			if merr != nil {
				return fmt.Errorf("marshal refund failure metadata: %w", merr)
			}
			return o.audit.Write(ctx, tx, "order", order.ID, nil, "refund.failed",
				domain.OrderStatusFailed, domain.OrderStatusRefundRequired, domain.SeverityCritical, metadata)
		})
		if txErr != nil {
			return txErr
		}
		observability.IncrementSettlementOutcome("refund_required")
		return nil
	}

	err = o.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.SetOrderRefundStatus(ctx, order.ID, domain.RefundStatusCompleted); err != nil {
			return fmt.Errorf("set refund status: %w", err)
		}
		metadata, merr := json.Marshal(map[string]string{
			"refund_reference": result.RefundReference,
			"reason":           reason,
		})
		if merr != nil {
			return fmt.Errorf("marshal refund metadata: %w", merr)
		}
		return o.audit.Write(ctx, tx, "order", order.ID, nil, "refund.completed", "", "", domain.SeverityInfo, metadata)
	})
	if err != nil {
		return err
	}

	observability.IncrementRefund("completed")
	observability.IncrementSettlementOutcome("refunded")
	zap.L().Info("refund completed",
		zap.String("order_id", order.ID.String()),
		zap.String("refund_reference", result.RefundReference),
	)
	return nil
}

// Cancel aborts an order that has not yet touched the ledger and refunds the
// captured payment. Once executing, the transfer is irrevocable and
// cancellation is refused.
func (o *Orchestrator) Cancel(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID) error {
	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("load order: %w", err)
	}

	cancellable := []string{domain.OrderStatusPaymentConfirmed, domain.OrderStatusComplianceChecking}
	cancelled := false
	for _, from := range cancellable {
		err := o.store.RunInTx(ctx, func(tx storage.Store) error {
			if err := tx.MarkOrderFailed(ctx, orderID, from, ReasonCancelled); err != nil {
				return err
			}
			return o.audit.Write(ctx, tx, "order", orderID, actorID, "order.cancelled",
				from, domain.OrderStatusFailed, domain.SeverityInfo, nil)
		})
		if err == nil {
			cancelled = true
			break
		}
		if !errors.Is(err, storage.ErrStatusConflict) {
			return fmt.Errorf("cancel order: %w", err)
		}
	}
	if !cancelled {
		return ErrCancelNotAllowed
	}

	order.Status = domain.OrderStatusFailed
	observability.IncrementSettlementOutcome("cancelled")
	return o.initiateRefund(ctx, order, ReasonCancelled)
}

// persistDecision stores the immutable decision record before any transfer
// activity, so the evaluation is auditable regardless of what settlement
// does afterwards.
func (o *Orchestrator) persistDecision(ctx context.Context, order *domain.Order, decision *domain.ComplianceDecision) error {
	return o.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateDecision(ctx, decision); err != nil {
			return fmt.Errorf("persist compliance decision: %w", err)
		}

		action := "compliance.allowed"
		severity := domain.SeverityInfo
		if !decision.Allowed {
			action = "compliance.denied"
			severity = domain.SeverityWarning
		}
		metadata, err := json.Marshal(map[string]any{
			"decision_id": decision.ID.String(),
			"allowed":     decision.Allowed,
			"reason_code": decision.ReasonCode,
		})
		if err != nil {
			return fmt.Errorf("marshal decision metadata: %w", err)
		}
		return o.audit.Write(ctx, tx, "order", order.ID, nil, action, "", "", severity, metadata)
	})
}

func (o *Orchestrator) requeue(ctx context.Context, order *domain.Order) error {
	return o.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := guardTransition(order.Status, domain.OrderStatusPaymentConfirmed); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatusCAS(ctx, order.ID, order.Status, domain.OrderStatusPaymentConfirmed); err != nil {
			return err
		}
		return o.audit.Write(ctx, tx, "order", order.ID, nil, "settlement.requeued",
			order.Status, domain.OrderStatusPaymentConfirmed, domain.SeverityInfo, nil)
	})
}

// transition applies a guarded compare-and-set status change with its audit
// record in one transaction.
func (o *Orchestrator) transition(ctx context.Context, order *domain.Order, next, action, severity string, metadata []byte) error {
	if err := guardTransition(order.Status, next); err != nil {
		return err
	}
	return o.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.UpdateOrderStatusCAS(ctx, order.ID, order.Status, next); err != nil {
			return err
		}
		return o.audit.Write(ctx, tx, "order", order.ID, nil, action, order.Status, next, severity, metadata)
	})
}

func (o *Orchestrator) writeAudit(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID, action, prev, next, severity string, fields map[string]string) error {
	var metadata []byte
	if fields != nil {
		var err error
		metadata, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	return o.audit.Write(ctx, o.store, "order", orderID, actorID, action, prev, next, severity, metadata)
}

// baseUnits converts a decimal token quantity into the chain's integral base
// units. Quantities that do not scale to a whole number of base units cannot
// be transferred and fail the settlement.
func baseUnits(quantity decimal.Decimal, decimals int32) (uint64, error) {
	shifted := quantity.Shift(decimals)
	if shifted.Sign() <= 0 {
		return 0, fmt.Errorf("quantity %s is not positive", quantity)
	}
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("quantity %s does not scale to whole base units at %d decimals", quantity, decimals)
	}
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("quantity %s overflows base units at %d decimals", quantity, decimals)
	}
	return bi.Uint64(), nil
}
