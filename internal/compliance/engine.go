// Package compliance evaluates whether a paid order may settle on chain.
// Checks run in a fixed order and short-circuit on the first failure, so a
// denied decision's reason code is always the earliest rule that tripped.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/freeze"
	"github.com/nivant/tokensettle/internal/gateway"
	"github.com/nivant/tokensettle/internal/storage"
)

// Engine loads an order's compliance context and produces a decision.
// The pause flag is the only rule that touches the chain, and it runs last
// so a denial on any earlier rule never issues a ledger call.
type Engine struct {
	store   storage.Store
	freezes *freeze.Ledger
	gateway gateway.Gateway
	clk     clock.Clock
}

func NewEngine(store storage.Store, freezes *freeze.Ledger, gw gateway.Gateway, clk clock.Clock) *Engine {
	return &Engine{store: store, freezes: freezes, gateway: gw, clk: clk}
}

// Evaluate runs the rule chain for order and returns an unpersisted
// decision. An error means the evaluation itself could not complete, never
// that the order was denied.
func (e *Engine) Evaluate(ctx context.Context, order *domain.Order) (*domain.ComplianceDecision, error) {
	identity, err := e.store.GetIdentity(ctx, order.BuyerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	position, err := e.freezes.State(ctx, order.BuyerID, order.TokenID)
	if err != nil {
		return nil, fmt.Errorf("load freeze state: %w", err)
	}

	now := e.clk.Now()
	checks := make(map[string]bool, 5)
	deny := func(name string) *domain.ComplianceDecision {
		checks[name] = false
		return e.decision(order, false, name, checks, now)
	}

	if identity == nil || identity.VerificationStatus != domain.VerificationApproved {
		return deny(domain.CheckIdentityApproved), nil
	}
	checks[domain.CheckIdentityApproved] = true

	if !identity.ExpiresAt.After(now) {
		return deny(domain.CheckNotExpired), nil
	}
	checks[domain.CheckNotExpired] = true

	if !frozenWithinLimit(order, position) {
		return deny(domain.CheckNotFrozenBeyondLimit), nil
	}
	checks[domain.CheckNotFrozenBeyondLimit] = true

	within, err := withinInvestmentLimit(order, identity)
	if err != nil {
		return nil, err
	}
	if !within {
		return deny(domain.CheckWithinInvestmentLimit), nil
	}
	checks[domain.CheckWithinInvestmentLimit] = true

	token, err := e.store.GetToken(ctx, order.TokenID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	paused, err := e.gateway.IsPaused(ctx, token.MintAddress)
	if err != nil {
		return nil, fmt.Errorf("check ledger pause flag: %w", err)
	}
	if paused {
		return deny(domain.CheckLedgerNotPaused), nil
	}
	checks[domain.CheckLedgerNotPaused] = true

	return e.decision(order, true, "", checks, now), nil
}

// Revalidate re-runs only the freeze rule. The settlement worker calls this
// when too much time passed between the original decision and the transfer
// submission, since freezes may have landed in between.
func (e *Engine) Revalidate(ctx context.Context, order *domain.Order) (*domain.ComplianceDecision, error) {
	position, err := e.freezes.State(ctx, order.BuyerID, order.TokenID)
	if err != nil {
		return nil, fmt.Errorf("load freeze state: %w", err)
	}

	now := e.clk.Now()
	checks := map[string]bool{domain.CheckNotFrozenBeyondLimit: frozenWithinLimit(order, position)}
	if !checks[domain.CheckNotFrozenBeyondLimit] {
		return e.decision(order, false, domain.CheckNotFrozenBeyondLimit, checks, now), nil
	}
	return e.decision(order, true, "", checks, now), nil
}

func (e *Engine) decision(order *domain.Order, allowed bool, reason string, checks map[string]bool, now time.Time) *domain.ComplianceDecision {
	return &domain.ComplianceDecision{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Allowed:     allowed,
		ReasonCode:  reason,
		Checks:      checks,
		EvaluatedAt: now,
	}
}

// frozenWithinLimit passes holders with no active freezes outright, which
// keeps first-time buyers with no position purchasable. With freezes in
// place the order must fit inside the unfrozen remainder of the holding.
func frozenWithinLimit(order *domain.Order, position freeze.State) bool {
	if position.Frozen.IsZero() {
		return true
	}
	return order.Quantity.LessThanOrEqual(position.Available())
}

// withinInvestmentLimit enforces both the identity's personal limit and the
// regulatory ceiling for its category.
func withinInvestmentLimit(order *domain.Order, identity *domain.InvestorIdentity) (bool, error) {
	total, err := identity.CurrentInvestment.Add(order.TotalValue())
	if err != nil {
		return false, fmt.Errorf("accumulate investment: %w", err)
	}
	cmp, err := total.Cmp(identity.InvestmentLimit)
	if err != nil {
		return false, fmt.Errorf("compare investment limit: %w", err)
	}
	if cmp > 0 {
		return false, nil
	}
	if ceiling, bounded := domain.CategoryCeiling(identity.Category); bounded {
		cmp, err := total.Cmp(ceiling)
		if err != nil {
			return false, fmt.Errorf("compare category ceiling: %w", err)
		}
		if cmp > 0 {
			return false, nil
		}
	}
	return true, nil
}
