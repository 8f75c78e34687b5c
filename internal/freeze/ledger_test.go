package freeze

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage/memory"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	store := memory.NewWithClock(clk)
	return NewLedger(store, audit.NewService(clk), clk), store, clk
}

func seedHolding(t *testing.T, store *memory.Store, holderID, tokenID uuid.UUID, quantity int64) {
	t.Helper()
	err := store.UpsertHolding(context.Background(), &domain.Holding{
		HolderID:    holderID,
		TokenID:     tokenID,
		Quantity:    decimal.NewFromInt(quantity),
		AverageCost: domain.RupeesFromInt(10),
	})
	require.NoError(t, err)
}

func TestFreezeWithinBalance(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	holderID, tokenID := uuid.New(), uuid.New()
	seedHolding(t, store, holderID, tokenID, 100)

	record, err := ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: holderID,
		TokenID:  tokenID,
		Amount:   decimal.NewFromInt(40),
		Reason:   "court order",
	})
	require.NoError(t, err)
	require.True(t, record.Active())

	available, err := ledger.AvailableBalance(context.Background(), holderID, tokenID)
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(60)))
}

func TestFreezeBeyondUnfrozenBalance(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	holderID, tokenID := uuid.New(), uuid.New()
	seedHolding(t, store, holderID, tokenID, 100)

	_, err := ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: holderID,
		TokenID:  tokenID,
		Amount:   decimal.NewFromInt(70),
		Reason:   "investigation",
	})
	require.NoError(t, err)

	_, err = ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: holderID,
		TokenID:  tokenID,
		Amount:   decimal.NewFromInt(40),
		Reason:   "second hold",
	})
	require.ErrorIs(t, err, ErrInsufficientUnfrozenBalance)

	// The failed freeze must not count toward the frozen sum.
	state, err := ledger.State(context.Background(), holderID, tokenID)
	require.NoError(t, err)
	require.True(t, state.Frozen.Equal(decimal.NewFromInt(70)))
}

func TestFreezeWithoutHolding(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: uuid.New(),
		TokenID:  uuid.New(),
		Amount:   decimal.NewFromInt(1),
		Reason:   "no position",
	})
	require.ErrorIs(t, err, ErrInsufficientUnfrozenBalance)
}

func TestUnfreezeReleasesOldestFirst(t *testing.T) {
	ledger, store, clk := newTestLedger(t)
	holderID, tokenID := uuid.New(), uuid.New()
	seedHolding(t, store, holderID, tokenID, 100)

	first, err := ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: holderID, TokenID: tokenID,
		Amount: decimal.NewFromInt(30), Reason: "first",
	})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: holderID, TokenID: tokenID,
		Amount: decimal.NewFromInt(20), Reason: "second",
	})
	require.NoError(t, err)

	err = ledger.Unfreeze(context.Background(), UnfreezeRequest{
		HolderID: holderID, TokenID: tokenID,
		Amount: decimal.NewFromInt(35),
	})
	require.NoError(t, err)

	active, err := store.ListActiveFreezes(context.Background(), holderID, tokenID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotEqual(t, first.ID, active[0].ID)
	require.Equal(t, second.ID, active[0].ID)
	require.True(t, active[0].FrozenAmount.Equal(decimal.NewFromInt(15)))
}

func TestUnfreezeBeyondFrozen(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	holderID, tokenID := uuid.New(), uuid.New()
	seedHolding(t, store, holderID, tokenID, 100)

	_, err := ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: holderID, TokenID: tokenID,
		Amount: decimal.NewFromInt(25), Reason: "hold",
	})
	require.NoError(t, err)

	err = ledger.Unfreeze(context.Background(), UnfreezeRequest{
		HolderID: holderID, TokenID: tokenID,
		Amount: decimal.NewFromInt(30),
	})
	require.ErrorIs(t, err, ErrNoMatchingFreeze)

	// A failed release must leave the frozen sum untouched.
	state, err := ledger.State(context.Background(), holderID, tokenID)
	require.NoError(t, err)
	require.True(t, state.Frozen.Equal(decimal.NewFromInt(25)))
}

func TestFreezeRejectsNonPositiveAmount(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Freeze(context.Background(), FreezeRequest{
		HolderID: uuid.New(), TokenID: uuid.New(),
		Amount: decimal.Zero, Reason: "noop",
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	err = ledger.Unfreeze(context.Background(), UnfreezeRequest{
		HolderID: uuid.New(), TokenID: uuid.New(),
		Amount: decimal.NewFromInt(-5),
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentFreezesNeverOvercommit(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	holderID, tokenID := uuid.New(), uuid.New()
	seedHolding(t, store, holderID, tokenID, 50)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Freeze(context.Background(), FreezeRequest{
				HolderID: holderID, TokenID: tokenID,
				Amount: decimal.NewFromInt(10), Reason: "contended",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInsufficientUnfrozenBalance)
		}
	}
	require.Equal(t, 5, succeeded)

	state, err := ledger.State(context.Background(), holderID, tokenID)
	require.NoError(t, err)
	require.True(t, state.Frozen.Equal(decimal.NewFromInt(50)))
	require.True(t, state.Available().IsZero())
}
