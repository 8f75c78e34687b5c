package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

func newOrder(status string) *domain.Order {
	return &domain.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		TokenID:          uuid.New(),
		Quantity:         decimal.NewFromInt(10),
		PricePerUnit:     domain.RupeesFromInt(100),
		PaymentReference: "pay_" + uuid.NewString()[:8],
		Status:           status,
	}
}

func TestOrderStatusCAS(t *testing.T) {
	store := New()
	ctx := context.Background()

	o := newOrder(domain.OrderStatusPaymentConfirmed)
	require.NoError(t, store.CreateOrder(ctx, o))

	require.NoError(t, store.UpdateOrderStatusCAS(ctx, o.ID, domain.OrderStatusPaymentConfirmed, domain.OrderStatusComplianceChecking))

	// A second claimer observes a stale status and loses.
	err := store.UpdateOrderStatusCAS(ctx, o.ID, domain.OrderStatusPaymentConfirmed, domain.OrderStatusComplianceChecking)
	require.ErrorIs(t, err, storage.ErrStatusConflict)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusComplianceChecking, got.Status)
}

func TestMarkOrderFailedSetsRefundPending(t *testing.T) {
	store := New()
	ctx := context.Background()

	o := newOrder(domain.OrderStatusComplianceChecking)
	require.NoError(t, store.CreateOrder(ctx, o))

	require.NoError(t, store.MarkOrderFailed(ctx, o.ID, domain.OrderStatusComplianceChecking, domain.CheckWithinInvestmentLimit))

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.Equal(t, domain.RefundStatusPending, got.RefundStatus)
	require.NotNil(t, got.FailureReason)
	require.Equal(t, domain.CheckWithinInvestmentLimit, *got.FailureReason)
}

func TestAddToCurrentInvestmentGuardsLimit(t *testing.T) {
	store := New()
	ctx := context.Background()
	holderID := uuid.New()

	require.NoError(t, store.UpsertIdentity(ctx, &domain.InvestorIdentity{
		HolderID:           holderID,
		WalletAddress:      "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Category:           domain.CategoryRetail,
		VerificationStatus: domain.VerificationApproved,
		InvestmentLimit:    domain.RupeesFromInt(100_000),
		CurrentInvestment:  domain.RupeesFromInt(0),
		ExpiresAt:          time.Now().UTC().Add(24 * time.Hour),
	}))

	require.NoError(t, store.AddToCurrentInvestment(ctx, holderID, domain.RupeesFromInt(60_000)))

	err := store.AddToCurrentInvestment(ctx, holderID, domain.RupeesFromInt(60_000))
	require.ErrorIs(t, err, storage.ErrLimitExceeded)

	got, err := store.GetIdentity(ctx, holderID)
	require.NoError(t, err)
	require.True(t, got.CurrentInvestment.Amount.Equal(decimal.NewFromInt(60_000)))

	// Exactly at the limit is still within it.
	require.NoError(t, store.AddToCurrentInvestment(ctx, holderID, domain.RupeesFromInt(40_000)))
}

func TestSingleSubmittedLedgerTransaction(t *testing.T) {
	store := New()
	ctx := context.Background()
	orderID := uuid.New()

	first := &domain.LedgerTransaction{
		ID:          uuid.New(),
		OrderID:     orderID,
		TxRef:       "sig-1",
		Status:      domain.LedgerTxStatusSubmitted,
		SubmittedAt: time.Now(),
	}
	require.NoError(t, store.AppendLedgerTransaction(ctx, first))

	second := &domain.LedgerTransaction{
		ID:          uuid.New(),
		OrderID:     orderID,
		TxRef:       "sig-2",
		Status:      domain.LedgerTxStatusSubmitted,
		SubmittedAt: time.Now(),
	}
	err := store.AppendLedgerTransaction(ctx, second)
	require.ErrorIs(t, err, storage.ErrDuplicateSubmission)

	// Once the first attempt fails, a new submission may be appended.
	require.NoError(t, store.MarkLedgerTransactionFailed(ctx, first.ID, "timed out"))
	require.NoError(t, store.AppendLedgerTransaction(ctx, second))

	txs, err := store.ListLedgerTransactions(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
}

func TestListStaleExecutingOrders(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewWithClock(clk)
	ctx := context.Background()

	o := newOrder(domain.OrderStatusPaymentConfirmed)
	require.NoError(t, store.CreateOrder(ctx, o))
	require.NoError(t, store.UpdateOrderStatusCAS(ctx, o.ID, domain.OrderStatusPaymentConfirmed, domain.OrderStatusComplianceChecking))
	require.NoError(t, store.UpdateOrderStatusCAS(ctx, o.ID, domain.OrderStatusComplianceChecking, domain.OrderStatusExecuting))

	// Not yet stale.
	stale, err := store.ListStaleExecutingOrders(ctx, clk.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Empty(t, stale)

	clk.Advance(5 * time.Minute)
	stale, err = store.ListStaleExecutingOrders(ctx, clk.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	// Flagged orders stop showing up.
	require.NoError(t, store.SetOrderReviewRequired(ctx, o.ID, true))
	stale, err = store.ListStaleExecutingOrders(ctx, clk.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestRunInTxSharesState(t *testing.T) {
	store := New()
	ctx := context.Background()

	o := newOrder(domain.OrderStatusPaymentConfirmed)
	err := store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		return tx.AppendAuditEvent(ctx, &domain.AuditEvent{
			EntityType: "order",
			EntityID:   o.ID,
			Action:     "order.created",
			Severity:   domain.SeverityInfo,
		})
	})
	require.NoError(t, err)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)

	events, err := store.ListAuditEvents(ctx, "order", o.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
