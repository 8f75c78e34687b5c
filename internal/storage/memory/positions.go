package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

func (s *session) GetHolding(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error) {
	h, ok := s.st.holdings[holdingKey{holderID, tokenID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *session) GetHoldingForUpdate(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error) {
	return s.GetHolding(ctx, holderID, tokenID)
}

func (s *session) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	cp := *h
	s.st.holdings[holdingKey{h.HolderID, h.TokenID}] = &cp
	return nil
}

func (s *session) GetIdentity(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error) {
	id, ok := s.st.identities[holderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (s *session) GetIdentityForUpdate(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error) {
	return s.GetIdentity(ctx, holderID)
}

func (s *session) AddToCurrentInvestment(ctx context.Context, holderID uuid.UUID, delta domain.Money) error {
	id, ok := s.st.identities[holderID]
	if !ok {
		return storage.ErrNotFound
	}
	sum, err := id.CurrentInvestment.Add(delta)
	if err != nil {
		return err
	}
	cmp, err := sum.Cmp(id.InvestmentLimit)
	if err != nil {
		return err
	}
	if cmp > 0 {
		return storage.ErrLimitExceeded
	}
	id.CurrentInvestment = sum
	id.UpdatedAt = s.st.clk.Now()
	return nil
}

func (s *session) UpsertIdentity(ctx context.Context, id *domain.InvestorIdentity) error {
	cp := *id
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.st.clk.Now()
	}
	s.st.identities[id.HolderID] = &cp
	return nil
}

func (s *session) CreateFreeze(ctx context.Context, f *domain.FreezeRecord) error {
	cp := *f
	if cp.FrozenAt.IsZero() {
		cp.FrozenAt = s.st.clk.Now()
	}
	s.st.freezes[f.ID] = &cp
	return nil
}

func (s *session) ListActiveFreezes(ctx context.Context, holderID, tokenID uuid.UUID) ([]domain.FreezeRecord, error) {
	var out []domain.FreezeRecord
	for _, f := range s.st.freezes {
		if f.HolderID == holderID && f.TokenID == tokenID && f.Active() {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrozenAt.Before(out[j].FrozenAt) })
	return out, nil
}

func (s *session) ReleaseFreeze(ctx context.Context, id uuid.UUID, releasedAt time.Time) error {
	f, ok := s.st.freezes[id]
	if !ok {
		return storage.ErrNotFound
	}
	f.ReleasedAt = &releasedAt
	return nil
}

func (s *session) ReduceFreeze(ctx context.Context, id uuid.UUID, remaining decimal.Decimal) error {
	f, ok := s.st.freezes[id]
	if !ok {
		return storage.ErrNotFound
	}
	f.FrozenAmount = remaining
	return nil
}

func (s *session) GetToken(ctx context.Context, id uuid.UUID) (*domain.Token, error) {
	t, ok := s.st.tokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *session) UpsertToken(ctx context.Context, t *domain.Token) error {
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.st.clk.Now()
	}
	s.st.tokens[t.ID] = &cp
	return nil
}

func (s *session) AppendAuditEvent(ctx context.Context, e *domain.AuditEvent) error {
	cp := *e
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.st.clk.Now()
	}
	s.st.audit = append(s.st.audit, cp)
	return nil
}

func (s *session) ListAuditEvents(ctx context.Context, entityType string, entityID uuid.UUID, limit int32) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	for i := range s.st.audit {
		if s.st.audit[i].EntityType == entityType && s.st.audit[i].EntityID == entityID {
			out = append(out, s.st.audit[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
