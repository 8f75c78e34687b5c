// Package memory provides an in-memory storage.Store used by unit tests and
// local runs without Postgres. Transactions degrade to mutual exclusion: fn
// runs under the store lock, so concurrent units of work serialize, but a
// failing fn does not roll back earlier writes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

type holdingKey struct {
	holderID uuid.UUID
	tokenID  uuid.UUID
}

type state struct {
	clk        clock.Clock
	orders     map[uuid.UUID]*domain.Order
	holdings   map[holdingKey]*domain.Holding
	identities map[uuid.UUID]*domain.InvestorIdentity
	freezes    map[uuid.UUID]*domain.FreezeRecord
	decisions  []domain.ComplianceDecision
	ledgerTxs  []domain.LedgerTransaction
	tokens     map[uuid.UUID]*domain.Token
	audit      []domain.AuditEvent
}

// Store is the lock-guarded entry point. All methods serialize on one mutex;
// RunInTx holds it for the whole closure.
type Store struct {
	mu sync.Mutex
	s  *session
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Store = (*session)(nil)
)

// New creates an empty store using the system clock for touch timestamps.
func New() *Store {
	return NewWithClock(clock.NewSystem())
}

// NewWithClock creates an empty store whose updated_at stamps come from clk.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{s: &session{st: &state{
		clk:        clk,
		orders:     make(map[uuid.UUID]*domain.Order),
		holdings:   make(map[holdingKey]*domain.Holding),
		identities: make(map[uuid.UUID]*domain.InvestorIdentity),
		freezes:    make(map[uuid.UUID]*domain.FreezeRecord),
		tokens:     make(map[uuid.UUID]*domain.Token),
	}}}
}

// RunInTx executes fn while holding the store lock.
func (m *Store) RunInTx(ctx context.Context, fn func(storage.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.s)
}

// session operates on state without locking. It is handed to RunInTx
// closures; nested RunInTx calls run fn directly.
type session struct {
	st *state
}

func (s *session) RunInTx(ctx context.Context, fn func(storage.Store) error) error {
	return fn(s)
}

func (m *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateOrder(ctx, o)
}

func (m *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetOrder(ctx, id)
}

func (m *Store) GetOrderByPaymentReference(ctx context.Context, paymentReference string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetOrderByPaymentReference(ctx, paymentReference)
}

func (m *Store) ListOrdersByStatus(ctx context.Context, status string, limit int32) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListOrdersByStatus(ctx, status, limit)
}

func (m *Store) ListStaleExecutingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListStaleExecutingOrders(ctx, cutoff, limit)
}

func (m *Store) ListStaleRefundPendingOrders(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListStaleRefundPendingOrders(ctx, cutoff, limit)
}

func (m *Store) UpdateOrderStatusCAS(ctx context.Context, id uuid.UUID, expected, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateOrderStatusCAS(ctx, id, expected, next)
}

func (m *Store) MarkOrderFailed(ctx context.Context, id uuid.UUID, expected, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.MarkOrderFailed(ctx, id, expected, reason)
}

func (m *Store) MarkOrderCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.MarkOrderCompleted(ctx, id, completedAt)
}

func (m *Store) MarkOrderRefundRequired(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.MarkOrderRefundRequired(ctx, id)
}

func (m *Store) SetOrderLedgerTxRef(ctx context.Context, id uuid.UUID, txRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SetOrderLedgerTxRef(ctx, id, txRef)
}

func (m *Store) SetOrderRefundStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SetOrderRefundStatus(ctx, id, status)
}

func (m *Store) SetOrderReviewRequired(ctx context.Context, id uuid.UUID, required bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SetOrderReviewRequired(ctx, id, required)
}

func (m *Store) GetHolding(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetHolding(ctx, holderID, tokenID)
}

func (m *Store) GetHoldingForUpdate(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetHoldingForUpdate(ctx, holderID, tokenID)
}

func (m *Store) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpsertHolding(ctx, h)
}

func (m *Store) GetIdentity(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetIdentity(ctx, holderID)
}

func (m *Store) GetIdentityForUpdate(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetIdentityForUpdate(ctx, holderID)
}

func (m *Store) AddToCurrentInvestment(ctx context.Context, holderID uuid.UUID, delta domain.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AddToCurrentInvestment(ctx, holderID, delta)
}

func (m *Store) UpsertIdentity(ctx context.Context, id *domain.InvestorIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpsertIdentity(ctx, id)
}

func (m *Store) CreateFreeze(ctx context.Context, f *domain.FreezeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateFreeze(ctx, f)
}

func (m *Store) ListActiveFreezes(ctx context.Context, holderID, tokenID uuid.UUID) ([]domain.FreezeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListActiveFreezes(ctx, holderID, tokenID)
}

func (m *Store) ReleaseFreeze(ctx context.Context, id uuid.UUID, releasedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ReleaseFreeze(ctx, id, releasedAt)
}

func (m *Store) ReduceFreeze(ctx context.Context, id uuid.UUID, remaining decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ReduceFreeze(ctx, id, remaining)
}

func (m *Store) CreateDecision(ctx context.Context, d *domain.ComplianceDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateDecision(ctx, d)
}

func (m *Store) GetLatestDecision(ctx context.Context, orderID uuid.UUID) (*domain.ComplianceDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetLatestDecision(ctx, orderID)
}

func (m *Store) AppendLedgerTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendLedgerTransaction(ctx, tx)
}

func (m *Store) GetSubmittedLedgerTransaction(ctx context.Context, orderID uuid.UUID) (*domain.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetSubmittedLedgerTransaction(ctx, orderID)
}

func (m *Store) ListLedgerTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListLedgerTransactions(ctx, orderID)
}

func (m *Store) MarkLedgerTransactionConfirmed(ctx context.Context, id uuid.UUID, confirmations int64, blockRef *string, confirmedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.MarkLedgerTransactionConfirmed(ctx, id, confirmations, blockRef, confirmedAt)
}

func (m *Store) MarkLedgerTransactionFailed(ctx context.Context, id uuid.UUID, errorDetail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.MarkLedgerTransactionFailed(ctx, id, errorDetail)
}

func (m *Store) GetToken(ctx context.Context, id uuid.UUID) (*domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetToken(ctx, id)
}

func (m *Store) UpsertToken(ctx context.Context, t *domain.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpsertToken(ctx, t)
}

func (m *Store) AppendAuditEvent(ctx context.Context, e *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendAuditEvent(ctx, e)
}

func (m *Store) ListAuditEvents(ctx context.Context, entityType string, entityID uuid.UUID, limit int32) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListAuditEvents(ctx, entityType, entityID, limit)
}
