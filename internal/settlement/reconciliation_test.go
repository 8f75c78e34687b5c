package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/domain"
)

func newReconciliationFixture(t *testing.T) (*orchestratorFixture, *ReconciliationService) {
	t.Helper()
	f := newOrchestratorFixture(t)
	svc := NewReconciliationService(f.store, f.orchestrator, audit.NewService(f.clk), f.clk, ReconciliationConfig{
		StaleExecutingAfter: 10 * time.Minute,
		StaleRefundAfter:    15 * time.Minute,
		BatchSize:           50,
	})
	return f, svc
}

func TestReconciliationFlagsExecutingWithoutTxRef(t *testing.T) {
	f, svc := newReconciliationFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.UpdateOrderStatusCAS(context.Background(), order.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusExecuting))

	f.clk.Advance(11 * time.Minute)
	require.NoError(t, svc.Run(context.Background()))

	got := f.reload(t, order.ID)
	require.True(t, got.ReviewRequired)
	require.Equal(t, domain.OrderStatusExecuting, got.Status)
	require.Zero(t, f.gateway.SubmitCount())

	events, err := f.store.ListAuditEvents(context.Background(), "order", order.ID, 0)
	require.NoError(t, err)
	var flagged bool
	for _, e := range events {
		if e.Action == "reconciliation.executing_without_txref" {
			require.Equal(t, domain.SeverityCritical, e.Severity)
			flagged = true
		}
	}
	require.True(t, flagged)
}

func TestReconciliationResumesConfirmationWait(t *testing.T) {
	f, svc := newReconciliationFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.UpdateOrderStatusCAS(context.Background(), order.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusExecuting))

	txRef := "MOCK-TX-999999"
	require.NoError(t, f.store.SetOrderLedgerTxRef(context.Background(), order.ID, txRef))
	require.NoError(t, f.store.AppendLedgerTransaction(context.Background(), &domain.LedgerTransaction{
		ID:          uuid.New(),
		OrderID:     order.ID,
		TxRef:       txRef,
		Status:      domain.LedgerTxStatusSubmitted,
		SubmittedAt: f.clk.Now(),
	}))

	f.clk.Advance(11 * time.Minute)
	require.NoError(t, svc.Run(context.Background()))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusCompleted, got.Status)
	require.False(t, got.ReviewRequired)
	// Resumption waits on the existing transaction; it never resubmits.
	require.Zero(t, f.gateway.SubmitCount())
	require.Equal(t, 1, f.gateway.WaitCallCount())
}

func TestReconciliationFlagsTxRefWithoutSubmission(t *testing.T) {
	f, svc := newReconciliationFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.UpdateOrderStatusCAS(context.Background(), order.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusExecuting))
	require.NoError(t, f.store.SetOrderLedgerTxRef(context.Background(), order.ID, "MOCK-TX-000001"))

	f.clk.Advance(11 * time.Minute)
	require.NoError(t, svc.Run(context.Background()))

	got := f.reload(t, order.ID)
	require.True(t, got.ReviewRequired)
	require.Zero(t, f.gateway.WaitCallCount())
}

func TestReconciliationFlagsStalledRefunds(t *testing.T) {
	f, svc := newReconciliationFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.MarkOrderFailed(context.Background(), order.ID,
		domain.OrderStatusPaymentConfirmed, ReasonLedgerFailed))

	f.clk.Advance(16 * time.Minute)
	require.NoError(t, svc.Run(context.Background()))

	got := f.reload(t, order.ID)
	require.True(t, got.ReviewRequired)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	// Flag only; a refund is never re-fired automatically.
	require.Empty(t, f.bridge.Requests())
}

func TestReconciliationLeavesFreshOrdersAlone(t *testing.T) {
	f, svc := newReconciliationFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.UpdateOrderStatusCAS(context.Background(), order.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusExecuting))

	f.clk.Advance(time.Minute)
	require.NoError(t, svc.Run(context.Background()))

	got := f.reload(t, order.ID)
	require.False(t, got.ReviewRequired)
}

func TestReconciliationSkipsAlreadyFlaggedOrders(t *testing.T) {
	f, svc := newReconciliationFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.UpdateOrderStatusCAS(context.Background(), order.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusExecuting))
	require.NoError(t, f.store.SetOrderReviewRequired(context.Background(), order.ID, true))

	f.clk.Advance(11 * time.Minute)
	require.NoError(t, svc.Run(context.Background()))

	events, err := f.store.ListAuditEvents(context.Background(), "order", order.ID, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}
