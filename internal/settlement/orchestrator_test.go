package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/compliance"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/freeze"
	"github.com/nivant/tokensettle/internal/gateway"
	"github.com/nivant/tokensettle/internal/observability"
	"github.com/nivant/tokensettle/internal/paymentbridge"
	"github.com/nivant/tokensettle/internal/storage/memory"
)

const (
	testMint      = "So11111111111111111111111111111111111111112"
	testWallet    = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	custodyWallet = "7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs"
	testTokenDecs = 6
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	store        *memory.Store
	freezes      *freeze.Ledger
	gateway      *gateway.MockGateway
	bridge       *paymentbridge.MockClient
	clk          *clock.Fixed
	engine       *compliance.Engine
	auditSvc     *audit.Service

	buyerID uuid.UUID
	tokenID uuid.UUID
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	store := memory.NewWithClock(clk)
	auditSvc := audit.NewService(clk)
	freezes := freeze.NewLedger(store, auditSvc, clk)
	gw := gateway.NewMockGateway()
	bridge := paymentbridge.NewMockClient()
	engine := compliance.NewEngine(store, freezes, gw, clk)

	f := &orchestratorFixture{
		store:    store,
		freezes:  freezes,
		gateway:  gw,
		bridge:   bridge,
		clk:      clk,
		engine:   engine,
		auditSvc: auditSvc,
		buyerID:  uuid.New(),
		tokenID:  uuid.New(),
	}
	f.orchestrator = NewOrchestrator(store, engine, freezes, gw, bridge, auditSvc, clk, Config{
		SettlementWallet: custodyWallet,
		MinConfirmations: 3,
		ConfirmTimeout:   time.Minute,
		SubmitRetries:    2,
		SubmitBackoff:    time.Millisecond,
		RevalidateAfter:  time.Hour,
	})

	err := store.UpsertToken(context.Background(), &domain.Token{
		ID:          f.tokenID,
		Symbol:      "NIV-RE1",
		Name:        "Nivant Realty Series 1",
		MintAddress: testMint,
		Decimals:    testTokenDecs,
		Status:      domain.TokenStatusActive,
	})
	require.NoError(t, err)
	return f
}

func (f *orchestratorFixture) seedIdentity(t *testing.T) {
	t.Helper()
	err := f.store.UpsertIdentity(context.Background(), &domain.InvestorIdentity{
		HolderID:           f.buyerID,
		WalletAddress:      testWallet,
		Category:           domain.CategoryRetail,
		VerificationStatus: domain.VerificationApproved,
		InvestmentLimit:    domain.RupeesFromInt(100_000),
		CurrentInvestment:  domain.RupeesFromInt(0),
		ExpiresAt:          f.clk.Now().Add(365 * 24 * time.Hour),
	})
	require.NoError(t, err)
}

func (f *orchestratorFixture) seedOrder(t *testing.T, quantity, pricePerUnit int64) *domain.Order {
	t.Helper()
	order := &domain.Order{
		ID:               uuid.New(),
		BuyerID:          f.buyerID,
		TokenID:          f.tokenID,
		Quantity:         decimal.NewFromInt(quantity),
		PricePerUnit:     domain.RupeesFromInt(pricePerUnit),
		PaymentReference: "PAY-" + order8(),
		Status:           domain.OrderStatusPaymentConfirmed,
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), order))
	return order
}

func order8() string { return uuid.NewString()[:8] }

func (f *orchestratorFixture) reload(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	order, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (f *orchestratorFixture) auditActions(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	events, err := f.store.ListAuditEvents(context.Background(), "order", id, 0)
	require.NoError(t, err)
	actions := make([]string, len(events))
	for i, e := range events {
		actions[i] = e.Action
	}
	return actions
}

func TestSettleCompletesCompliantOrder(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusCompleted, got.Status)
	require.NotNil(t, got.LedgerTxRef)
	require.NotNil(t, got.CompletedAt)
	require.Empty(t, f.bridge.Requests())

	transfers := f.gateway.SubmittedTransfers()
	require.Len(t, transfers, 1)
	require.Equal(t, custodyWallet, transfers[0].Source)
	require.Equal(t, testWallet, transfers[0].Destination)
	require.Equal(t, testMint, transfers[0].Mint)
	require.Equal(t, uint64(10_000_000), transfers[0].Amount)
	require.Equal(t, order.ID.String(), transfers[0].Reference)

	holding, err := f.store.GetHolding(context.Background(), f.buyerID, f.tokenID)
	require.NoError(t, err)
	require.True(t, holding.Quantity.Equal(decimal.NewFromInt(10)))
	require.True(t, holding.TotalInvested.Amount.Equal(decimal.NewFromInt(5000)))
	require.True(t, holding.AverageCost.Amount.Equal(decimal.NewFromInt(500)))

	identity, err := f.store.GetIdentity(context.Background(), f.buyerID)
	require.NoError(t, err)
	require.True(t, identity.CurrentInvestment.Amount.Equal(decimal.NewFromInt(5000)))

	txs, err := f.store.ListLedgerTransactions(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domain.LedgerTxStatusConfirmed, txs[0].Status)
	require.Equal(t, int64(3), txs[0].Confirmations)

	actions := f.auditActions(t, order.ID)
	require.Contains(t, actions, "settlement.claimed")
	require.Contains(t, actions, "compliance.allowed")
	require.Contains(t, actions, "ledger.submitted")
	require.Contains(t, actions, "settlement.completed")
}

func TestSettleAccumulatesHoldingAcrossOrders(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)

	require.NoError(t, f.orchestrator.Settle(context.Background(), f.seedOrder(t, 10, 500).ID))
	require.NoError(t, f.orchestrator.Settle(context.Background(), f.seedOrder(t, 10, 700).ID))

	holding, err := f.store.GetHolding(context.Background(), f.buyerID, f.tokenID)
	require.NoError(t, err)
	require.True(t, holding.Quantity.Equal(decimal.NewFromInt(20)))
	require.True(t, holding.TotalInvested.Amount.Equal(decimal.NewFromInt(12_000)))
	require.True(t, holding.AverageCost.Amount.Equal(decimal.NewFromInt(600)))
}

func TestConcurrentSettlementsCannotExceedInvestmentLimit(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	ctx := context.Background()

	// Two orders worth 60,000 each against a 100,000 limit. Both pass the
	// limit check against the same zero-investment snapshot: order B is
	// staged as already executing with a submitted transfer, the way it
	// would be mid-flight on another worker, then order A settles fully
	// before B's confirmation lands.
	orderA := f.seedOrder(t, 120, 500)
	orderB := f.seedOrder(t, 120, 500)

	require.NoError(t, f.store.UpdateOrderStatusCAS(ctx, orderB.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusComplianceChecking))
	require.NoError(t, f.store.UpdateOrderStatusCAS(ctx, orderB.ID,
		domain.OrderStatusComplianceChecking, domain.OrderStatusExecuting))
	ltxB := &domain.LedgerTransaction{
		ID:          uuid.New(),
		OrderID:     orderB.ID,
		TxRef:       "MOCK-TX-INFLIGHT",
		Status:      domain.LedgerTxStatusSubmitted,
		SubmittedAt: f.clk.Now(),
	}
	require.NoError(t, f.store.AppendLedgerTransaction(ctx, ltxB))
	require.NoError(t, f.store.SetOrderLedgerTxRef(ctx, orderB.ID, ltxB.TxRef))

	require.NoError(t, f.orchestrator.Settle(ctx, orderA.ID))
	require.Equal(t, domain.OrderStatusCompleted, f.reload(t, orderA.ID).Status)

	// B's transfer confirms after A consumed the headroom. The guarded
	// counter move refuses it and the order goes down the refund path.
	require.NoError(t, f.orchestrator.awaitConfirmation(ctx, f.reload(t, orderB.ID), ltxB))

	gotB := f.reload(t, orderB.ID)
	require.Equal(t, domain.OrderStatusFailed, gotB.Status)
	require.Contains(t, *gotB.FailureReason, ReasonComplianceDenied)
	require.Contains(t, *gotB.FailureReason, domain.CheckWithinInvestmentLimit)
	require.Equal(t, domain.RefundStatusCompleted, gotB.RefundStatus)
	require.True(t, gotB.ReviewRequired)

	identity, err := f.store.GetIdentity(ctx, f.buyerID)
	require.NoError(t, err)
	require.True(t, identity.CurrentInvestment.Amount.Equal(decimal.NewFromInt(60_000)))

	// Only A's quantity is booked; B's tokens are on chain pending clawback.
	holding, err := f.store.GetHolding(ctx, f.buyerID, f.tokenID)
	require.NoError(t, err)
	require.True(t, holding.Quantity.Equal(decimal.NewFromInt(120)))

	txs, err := f.store.ListLedgerTransactions(ctx, orderB.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domain.LedgerTxStatusConfirmed, txs[0].Status)

	refunds := f.bridge.Requests()
	require.Len(t, refunds, 1)
	require.Equal(t, orderB.ID, refunds[0].OrderID)
	require.True(t, refunds[0].Amount.Amount.Equal(decimal.NewFromInt(60_000)))

	events, err := f.store.ListAuditEvents(ctx, "order", orderB.ID, 0)
	require.NoError(t, err)
	var flagged bool
	for _, e := range events {
		if e.Action == "settlement.limit_exceeded" {
			require.Equal(t, domain.SeverityCritical, e.Severity)
			flagged = true
		}
	}
	require.True(t, flagged)
}

func TestSettleIsIdempotentForSettledOrders(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))
	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	require.Equal(t, 1, f.gateway.SubmitCount())
	identity, err := f.store.GetIdentity(context.Background(), f.buyerID)
	require.NoError(t, err)
	require.True(t, identity.CurrentInvestment.Amount.Equal(decimal.NewFromInt(5000)))
}

func TestSettleUnknownOrder(t *testing.T) {
	f := newOrchestratorFixture(t)
	err := f.orchestrator.Settle(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSettleDeniedOrderIsRefunded(t *testing.T) {
	f := newOrchestratorFixture(t)
	// No identity: denied on the first check.
	order := f.seedOrder(t, 10, 500)

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	require.Contains(t, *got.FailureReason, ReasonComplianceDenied)
	require.Contains(t, *got.FailureReason, domain.CheckIdentityApproved)
	require.Equal(t, domain.RefundStatusCompleted, got.RefundStatus)
	require.Zero(t, f.gateway.SubmitCount())

	refunds := f.bridge.Requests()
	require.Len(t, refunds, 1)
	require.Equal(t, order.ID, refunds[0].OrderID)
	require.True(t, refunds[0].Amount.Amount.Equal(decimal.NewFromInt(5000)))

	actions := f.auditActions(t, order.ID)
	require.Contains(t, actions, "compliance.denied")
	require.Contains(t, actions, "settlement.failed")
	require.Contains(t, actions, "refund.completed")
}

func TestSettleRetriesTransientSubmitErrors(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	f.gateway.FailSubmitWith(
		gateway.NewError(gateway.KindNetworkUnavailable, "rpc timeout", nil),
		gateway.NewError(gateway.KindNetworkUnavailable, "rpc timeout", nil),
	)

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusCompleted, got.Status)
	require.Equal(t, 1, f.gateway.SubmitCount())
}

func TestSettlePermanentSubmitErrorFailsWithoutRetry(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	f.gateway.FailSubmitWith(gateway.NewError(gateway.KindInsufficientBalance, "custody wallet empty", nil))

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.Contains(t, *got.FailureReason, ReasonLedgerFailed)
	require.Equal(t, domain.RefundStatusCompleted, got.RefundStatus)
	require.Zero(t, f.gateway.SubmitCount())
	require.Len(t, f.bridge.Requests(), 1)
}

func TestSettleExhaustedRetriesFailAndRefund(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	f.gateway.FailSubmitWith(
		gateway.NewError(gateway.KindNetworkUnavailable, "rpc down", nil),
		gateway.NewError(gateway.KindNetworkUnavailable, "rpc down", nil),
		gateway.NewError(gateway.KindNetworkUnavailable, "rpc down", nil),
	)

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.Equal(t, domain.RefundStatusCompleted, got.RefundStatus)
	require.Zero(t, f.gateway.SubmitCount())
}

func TestSettleOnChainFailureRefunds(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	f.gateway.ScriptConfirmation(gateway.Confirmation{
		Outcome: gateway.OutcomeFailed,
		Detail:  "program rejected transfer",
	})

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.Contains(t, *got.FailureReason, ReasonLedgerFailed)
	require.Equal(t, domain.RefundStatusCompleted, got.RefundStatus)

	txs, err := f.store.ListLedgerTransactions(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domain.LedgerTxStatusFailed, txs[0].Status)
	require.NotNil(t, txs[0].ErrorDetail)

	// No holding and no investment counter movement for a failed transfer.
	_, err = f.store.GetHolding(context.Background(), f.buyerID, f.tokenID)
	require.Error(t, err)
	identity, err := f.store.GetIdentity(context.Background(), f.buyerID)
	require.NoError(t, err)
	require.True(t, identity.CurrentInvestment.IsZero())
}

func TestSettleConfirmationTimeoutRefundsAndEscalates(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	f.gateway.ScriptConfirmation(gateway.Confirmation{Outcome: gateway.OutcomeTimedOut})

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.Contains(t, *got.FailureReason, ReasonConfirmationTimeout)
	require.Equal(t, domain.RefundStatusCompleted, got.RefundStatus)

	events, err := f.store.ListAuditEvents(context.Background(), "order", order.ID, 0)
	require.NoError(t, err)
	var critical bool
	for _, e := range events {
		if e.Action == "settlement.confirmation_timeout" {
			require.Equal(t, domain.SeverityCritical, e.Severity)
			critical = true
		}
	}
	require.True(t, critical)
}

func TestSettleRefundFailureEscalates(t *testing.T) {
	f := newOrchestratorFixture(t)
	order := f.seedOrder(t, 10, 500)
	f.bridge.FailWith(errors.New("payment service unreachable"))

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusRefundRequired, got.Status)
	require.Equal(t, domain.RefundStatusFailed, got.RefundStatus)
	require.Empty(t, f.bridge.Requests())

	events, err := f.store.ListAuditEvents(context.Background(), "order", order.ID, 0)
	require.NoError(t, err)
	var escalated bool
	for _, e := range events {
		if e.Action == "refund.failed" {
			require.Equal(t, domain.SeverityCritical, e.Severity)
			escalated = true
		}
	}
	require.True(t, escalated)
}

func TestSettleFractionalQuantityBeyondDecimalsFails(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := &domain.Order{
		ID:               uuid.New(),
		BuyerID:          f.buyerID,
		TokenID:          f.tokenID,
		Quantity:         decimal.RequireFromString("0.0000001"),
		PricePerUnit:     domain.RupeesFromInt(500),
		PaymentReference: "PAY-FRACTION",
		Status:           domain.OrderStatusPaymentConfirmed,
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), order))

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.Contains(t, *got.FailureReason, ReasonLedgerFailed)
	require.Zero(t, f.gateway.SubmitCount())
}

func TestSettleSingleSubmissionPerOrder(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)

	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))
	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))
	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	txs, err := f.store.ListLedgerTransactions(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestCancelBeforeExecution(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	actor := uuid.New()

	require.NoError(t, f.orchestrator.Cancel(context.Background(), order.ID, &actor))

	got := f.reload(t, order.ID)
	require.Equal(t, domain.OrderStatusFailed, got.Status)
	require.Equal(t, ReasonCancelled, *got.FailureReason)
	require.Equal(t, domain.RefundStatusCompleted, got.RefundStatus)
	require.Len(t, f.bridge.Requests(), 1)
	require.Zero(t, f.gateway.SubmitCount())

	// The cancelled order is dead to the worker.
	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))
	require.Zero(t, f.gateway.SubmitCount())
}

func TestCancelRefusedOnceExecuting(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.UpdateOrderStatusCAS(context.Background(), order.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusExecuting))

	err := f.orchestrator.Cancel(context.Background(), order.ID, nil)
	require.ErrorIs(t, err, ErrCancelNotAllowed)
	require.Empty(t, f.bridge.Requests())
}

func TestCancelRefusedForTerminalOrders(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	err := f.orchestrator.Cancel(context.Background(), order.ID, nil)
	require.ErrorIs(t, err, ErrCancelNotAllowed)
}

// flakyWaitGateway drops the connection on every confirmation wait.
type flakyWaitGateway struct {
	*gateway.MockGateway
}

func (g *flakyWaitGateway) WaitForConfirmation(ctx context.Context, txRef string, minConfirmations int64) (gateway.Confirmation, error) {
	return gateway.Confirmation{}, gateway.NewError(gateway.KindNetworkUnavailable, "rpc connection dropped", nil)
}

func TestConfirmationWaitMetricOnGatewayError(t *testing.T) {
	observability.Init()
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	ctx := context.Background()

	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.store.UpdateOrderStatusCAS(ctx, order.ID,
		domain.OrderStatusPaymentConfirmed, domain.OrderStatusComplianceChecking))
	require.NoError(t, f.store.UpdateOrderStatusCAS(ctx, order.ID,
		domain.OrderStatusComplianceChecking, domain.OrderStatusExecuting))
	ltx := &domain.LedgerTransaction{
		ID:          uuid.New(),
		OrderID:     order.ID,
		TxRef:       "MOCK-TX-DROPPED",
		Status:      domain.LedgerTxStatusSubmitted,
		SubmittedAt: f.clk.Now(),
	}
	require.NoError(t, f.store.AppendLedgerTransaction(ctx, ltx))

	o := NewOrchestrator(f.store, f.engine, f.freezes, &flakyWaitGateway{f.gateway},
		f.bridge, f.auditSvc, f.clk, Config{
			SettlementWallet: custodyWallet,
			MinConfirmations: 3,
			ConfirmTimeout:   time.Minute,
		})
	require.Error(t, o.awaitConfirmation(ctx, f.reload(t, order.ID), ltx))

	// The wait duration is recorded under an explicit error label, never
	// under an empty outcome.
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var outcomes []string
	for _, mf := range families {
		if mf.GetName() != "ledger_confirmation_wait_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" {
					outcomes = append(outcomes, lp.GetValue())
				}
			}
		}
	}
	require.Contains(t, outcomes, "error")
	require.NotContains(t, outcomes, "")
}

func TestBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		quantity string
		decimals int32
		want     uint64
		wantErr  bool
	}{
		{"whole tokens", "10", 6, 10_000_000, false},
		{"fractional within decimals", "0.5", 6, 500_000, false},
		{"zero decimals", "42", 0, 42, false},
		{"below resolution", "0.0000001", 6, 0, true},
		{"zero quantity", "0", 6, 0, true},
		{"negative quantity", "-1", 6, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := baseUnits(decimal.RequireFromString(tc.quantity), tc.decimals)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
