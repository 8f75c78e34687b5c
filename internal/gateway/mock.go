package gateway

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway simulates the token ledger for tests and sandbox deployments.
// Balances, eligibility, pause flags, submit failures and confirmation
// outcomes are all scriptable, and every call is recorded so tests can
// assert on what the pipeline actually did.
type MockGateway struct {
	mu sync.Mutex

	balances map[string]uint64
	eligible map[string]bool
	paused   map[string]bool

	submitErrs    []error
	confirmations []Confirmation

	seq int

	submitted   []TransferRequest
	waitCalls   []string
	pauseChecks int
}

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway creates a mock where every wallet is eligible, no mint is
// paused, and transfers confirm immediately.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		balances: make(map[string]uint64),
		eligible: make(map[string]bool),
		paused:   make(map[string]bool),
	}
}

func accountKey(wallet, mint string) string { return wallet + "|" + mint }

// SetBalance fixes a wallet's balance for mint. Wallets are treated as
// unconstrained until a balance is configured for them.
func (g *MockGateway) SetBalance(wallet, mint string, amount uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[accountKey(wallet, mint)] = amount
}

// SetEligible overrides eligibility for a wallet and mint.
func (g *MockGateway) SetEligible(wallet, mint string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.eligible[accountKey(wallet, mint)] = ok
}

// SetPaused halts or resumes transfers of mint.
func (g *MockGateway) SetPaused(mint string, paused bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused[mint] = paused
}

// FailSubmitWith queues errors consumed by subsequent SubmitTransfer calls,
// one per call, before the default success behavior resumes.
func (g *MockGateway) FailSubmitWith(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErrs = append(g.submitErrs, errs...)
}

// ScriptConfirmation queues outcomes consumed by subsequent
// WaitForConfirmation calls, one per call. Without a script every wait
// confirms at the requested depth.
func (g *MockGateway) ScriptConfirmation(outcomes ...Confirmation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmations = append(g.confirmations, outcomes...)
}

func (g *MockGateway) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewError(KindNetworkUnavailable, "submit canceled", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		return "", err
	}

	key := accountKey(req.Source, req.Mint)
	if balance, ok := g.balances[key]; ok {
		if balance < req.Amount {
			return "", NewError(KindInsufficientBalance, "mock balance exhausted", nil)
		}
		g.balances[key] = balance - req.Amount
		g.balances[accountKey(req.Destination, req.Mint)] += req.Amount
	}

	g.seq++
	ref := fmt.Sprintf("MOCK-TX-%06d", g.seq)
	g.submitted = append(g.submitted, req)
	return ref, nil
}

func (g *MockGateway) WaitForConfirmation(ctx context.Context, txRef string, minConfirmations int64) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{Outcome: OutcomeTimedOut, Detail: err.Error()}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.waitCalls = append(g.waitCalls, txRef)
	if len(g.confirmations) > 0 {
		outcome := g.confirmations[0]
		g.confirmations = g.confirmations[1:]
		return outcome, nil
	}
	return Confirmation{
		Outcome:       OutcomeConfirmed,
		Confirmations: minConfirmations,
		BlockRef:      fmt.Sprintf("mock-slot-%d", g.seq),
	}, nil
}

func (g *MockGateway) BalanceOf(ctx context.Context, wallet, mint string) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[accountKey(wallet, mint)], nil
}

func (g *MockGateway) IsEligible(ctx context.Context, wallet, mint string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ok, set := g.eligible[accountKey(wallet, mint)]; set {
		return ok, nil
	}
	return true, nil
}

func (g *MockGateway) IsPaused(ctx context.Context, mint string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pauseChecks++
	return g.paused[mint], nil
}

// SubmitCount reports how many transfers reached the ledger.
func (g *MockGateway) SubmitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}

// SubmittedTransfers returns a copy of every transfer request accepted so far.
func (g *MockGateway) SubmittedTransfers() []TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]TransferRequest, len(g.submitted))
	copy(out, g.submitted)
	return out
}

// WaitCallCount reports how many confirmation waits were issued.
func (g *MockGateway) WaitCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waitCalls)
}

// PauseCheckCount reports how many times the pause flag was consulted.
func (g *MockGateway) PauseCheckCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pauseChecks
}
