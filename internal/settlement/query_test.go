package settlement

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nivant/tokensettle/internal/domain"
)

func TestGetOrderDetail(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	q := NewQueryService(f.store)
	detail, err := q.GetOrderDetail(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, detail.Order.Status)
	require.NotNil(t, detail.LatestDecision)
	require.True(t, detail.LatestDecision.Allowed)
	require.Len(t, detail.LedgerTransactions, 1)
	require.Equal(t, domain.LedgerTxStatusConfirmed, detail.LedgerTransactions[0].Status)
}

func TestGetOrderDetailBeforeSettlement(t *testing.T) {
	f := newOrchestratorFixture(t)
	order := f.seedOrder(t, 10, 500)

	q := NewQueryService(f.store)
	detail, err := q.GetOrderDetail(context.Background(), order.ID)
	require.NoError(t, err)
	require.Nil(t, detail.LatestDecision)
	require.Empty(t, detail.LedgerTransactions)
}

func TestGetOrderDetailUnknownOrder(t *testing.T) {
	f := newOrchestratorFixture(t)
	q := NewQueryService(f.store)

	_, err := q.GetOrderDetail(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetOrderAudit(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedIdentity(t)
	order := f.seedOrder(t, 10, 500)
	require.NoError(t, f.orchestrator.Settle(context.Background(), order.ID))

	q := NewQueryService(f.store)
	events, err := q.GetOrderAudit(context.Background(), order.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, "settlement.claimed", events[0].Action)

	_, err = q.GetOrderAudit(context.Background(), uuid.New(), 0)
	require.ErrorIs(t, err, ErrOrderNotFound)
}
