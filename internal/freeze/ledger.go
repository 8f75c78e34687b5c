// Package freeze is the authoritative record of administrative holds per
// holder and token, independent of the chain's own bookkeeping. Settlement
// consults it synchronously on every attempt; admins drive freeze and release
// through the API.
package freeze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

var (
	ErrInsufficientUnfrozenBalance = errors.New("freeze amount exceeds unfrozen balance")
	ErrNoMatchingFreeze            = errors.New("release amount exceeds frozen balance")
	ErrInvalidAmount               = errors.New("amount must be positive")
)

// State is a point-in-time snapshot of a holder's position in one token.
type State struct {
	Quantity decimal.Decimal
	Frozen   decimal.Decimal
}

// Available is the quantity usable as a transfer source: holding minus
// active freezes.
func (s State) Available() decimal.Decimal {
	return s.Quantity.Sub(s.Frozen)
}

// Ledger applies and releases freezes with per-holder mutual exclusion so
// concurrent settlement and admin activity cannot produce lost updates.
type Ledger struct {
	store storage.Store
	audit *audit.Service
	clk   clock.Clock

	mu          sync.Mutex
	holderLocks map[uuid.UUID]*sync.Mutex
}

func NewLedger(store storage.Store, auditSvc *audit.Service, clk clock.Clock) *Ledger {
	return &Ledger{
		store:       store,
		audit:       auditSvc,
		clk:         clk,
		holderLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (l *Ledger) lockHolder(holderID uuid.UUID) func() {
	l.mu.Lock()
	lock, ok := l.holderLocks[holderID]
	if !ok {
		lock = &sync.Mutex{}
		l.holderLocks[holderID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Locked runs fn while holding the holder's lock. Settlement uses it so its
// holding and currentInvestment writes serialize with freeze activity for the
// same holder.
func (l *Ledger) Locked(holderID uuid.UUID, fn func() error) error {
	unlock := l.lockHolder(holderID)
	defer unlock()
	return fn()
}

// FreezeRequest is an administrative hold on part of a holder's balance.
type FreezeRequest struct {
	HolderID uuid.UUID
	TokenID  uuid.UUID
	Amount   decimal.Decimal
	Reason   string
	ActorID  *uuid.UUID
}

// Freeze places a hold. It fails with ErrInsufficientUnfrozenBalance when the
// requested amount exceeds the holder's unfrozen balance, keeping
// sum(activeFreezes) <= holding.quantity at all times.
func (l *Ledger) Freeze(ctx context.Context, req FreezeRequest) (*domain.FreezeRecord, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock := l.lockHolder(req.HolderID)
	defer unlock()

	record := &domain.FreezeRecord{
		ID:           uuid.New(),
		HolderID:     req.HolderID,
		TokenID:      req.TokenID,
		FrozenAmount: req.Amount,
		Reason:       req.Reason,
		FrozenAt:     l.clk.Now(),
	}

	err := l.store.RunInTx(ctx, func(tx storage.Store) error {
		state, err := snapshot(ctx, tx, req.HolderID, req.TokenID, true)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(state.Available()) {
			return ErrInsufficientUnfrozenBalance
		}
		if err := tx.CreateFreeze(ctx, record); err != nil {
			return fmt.Errorf("create freeze: %w", err)
		}

		metadata, err := json.Marshal(map[string]string{
			"amount": req.Amount.String(),
			"reason": req.Reason,
		})
		if err != nil {
			return fmt.Errorf("marshal freeze metadata: %w", err)
		}
		return l.audit.Write(ctx, tx, "freeze", record.ID, req.ActorID, "freeze.applied", "", "active", domain.SeverityInfo, metadata)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("freeze applied",
		zap.String("holder_id", req.HolderID.String()),
		zap.String("token_id", req.TokenID.String()),
		zap.String("amount", req.Amount.String()),
	)
	return record, nil
}

// UnfreezeRequest releases part of a holder's frozen balance.
type UnfreezeRequest struct {
	HolderID uuid.UUID
	TokenID  uuid.UUID
	Amount   decimal.Decimal
	ActorID  *uuid.UUID
}

// Unfreeze releases the requested amount oldest-freeze first. It fails with
// ErrNoMatchingFreeze when the amount exceeds what is currently frozen.
func (l *Ledger) Unfreeze(ctx context.Context, req UnfreezeRequest) error {
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	unlock := l.lockHolder(req.HolderID)
	defer unlock()

	return l.store.RunInTx(ctx, func(tx storage.Store) error {
		active, err := tx.ListActiveFreezes(ctx, req.HolderID, req.TokenID)
		if err != nil {
			return fmt.Errorf("list active freezes: %w", err)
		}

		frozen := decimal.Zero
		for _, f := range active {
			frozen = frozen.Add(f.FrozenAmount)
		}
		if req.Amount.GreaterThan(frozen) {
			return ErrNoMatchingFreeze
		}

		now := l.clk.Now()
		remaining := req.Amount
		for _, f := range active {
			if !remaining.IsPositive() {
				break
			}
			released := f.FrozenAmount
			if f.FrozenAmount.GreaterThan(remaining) {
				released = remaining
				if err := tx.ReduceFreeze(ctx, f.ID, f.FrozenAmount.Sub(remaining)); err != nil {
					return fmt.Errorf("reduce freeze %s: %w", f.ID, err)
				}
			} else if err := tx.ReleaseFreeze(ctx, f.ID, now); err != nil {
				return fmt.Errorf("release freeze %s: %w", f.ID, err)
			}
			remaining = remaining.Sub(released)

			metadata, err := json.Marshal(map[string]string{"amount": released.String()})
			if err != nil {
				return fmt.Errorf("marshal release metadata: %w", err)
			}
			if err := l.audit.Write(ctx, tx, "freeze", f.ID, req.ActorID, "freeze.released", "active", "released", domain.SeverityInfo, metadata); err != nil {
				return err
			}
		}
		return nil
	})
}

// AvailableBalance is holding quantity minus active freezes, the value
// compliance must consult instead of the raw holding.
func (l *Ledger) AvailableBalance(ctx context.Context, holderID, tokenID uuid.UUID) (decimal.Decimal, error) {
	state, err := l.State(ctx, holderID, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	return state.Available(), nil
}

// State loads the holding quantity and active frozen sum for one holder and
// token. Holders without a position report zero for both.
func (l *Ledger) State(ctx context.Context, holderID, tokenID uuid.UUID) (State, error) {
	return snapshot(ctx, l.store, holderID, tokenID, false)
}

func snapshot(ctx context.Context, store storage.Store, holderID, tokenID uuid.UUID, forUpdate bool) (State, error) {
	var (
		holding *domain.Holding
		err     error
	)
	if forUpdate {
		holding, err = store.GetHoldingForUpdate(ctx, holderID, tokenID)
	} else {
		holding, err = store.GetHolding(ctx, holderID, tokenID)
	}
	state := State{Quantity: decimal.Zero, Frozen: decimal.Zero}
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return State{}, fmt.Errorf("load holding: %w", err)
		}
	} else {
		state.Quantity = holding.Quantity
	}

	active, err := store.ListActiveFreezes(ctx, holderID, tokenID)
	if err != nil {
		return State{}, fmt.Errorf("list active freezes: %w", err)
	}
	for _, f := range active {
		state.Frozen = state.Frozen.Add(f.FrozenAmount)
	}
	return state, nil
}
