package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

func scanHolding(row pgx.Row) (*domain.Holding, error) {
	var (
		h                              domain.Holding
		quantityStr, costStr, totalStr string
		currency                       string
	)
	err := row.Scan(&h.HolderID, &h.TokenID, &quantityStr, &costStr, &totalStr, &currency, &h.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	if h.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
		return nil, fmt.Errorf("parse holding quantity: %w", err)
	}
	cost, err := decimal.NewFromString(costStr)
	if err != nil {
		return nil, fmt.Errorf("parse holding average cost: %w", err)
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return nil, fmt.Errorf("parse holding total invested: %w", err)
	}
	h.AverageCost = domain.NewMoney(cost, currency)
	h.TotalInvested = domain.NewMoney(total, currency)
	return &h, nil
}

const holdingColumns = `
	holder_id, token_id, quantity::text, average_cost::text, total_invested::text, currency, last_synced_at`

func (s *Store) GetHolding(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error) {
	h, err := scanHolding(s.q.QueryRow(ctx, `
		SELECT `+holdingColumns+` FROM holdings
		WHERE holder_id = $1 AND token_id = $2`, holderID, tokenID))
	if err != nil {
		return nil, mapError(err)
	}
	return h, nil
}

func (s *Store) GetHoldingForUpdate(ctx context.Context, holderID, tokenID uuid.UUID) (*domain.Holding, error) {
	h, err := scanHolding(s.q.QueryRow(ctx, `
		SELECT `+holdingColumns+` FROM holdings
		WHERE holder_id = $1 AND token_id = $2
		FOR UPDATE`, holderID, tokenID))
	if err != nil {
		return nil, mapError(err)
	}
	return h, nil
}

func (s *Store) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO holdings (holder_id, token_id, quantity, average_cost, total_invested, currency, last_synced_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)
		ON CONFLICT (holder_id, token_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_cost = EXCLUDED.average_cost,
			total_invested = EXCLUDED.total_invested,
			currency = EXCLUDED.currency,
			last_synced_at = EXCLUDED.last_synced_at`,
		h.HolderID, h.TokenID, h.Quantity.String(), h.AverageCost.Amount.String(),
		h.TotalInvested.Amount.String(), h.TotalInvested.Currency, h.LastSyncedAt,
	)
	return mapError(err)
}

const identityColumns = `
	holder_id, wallet_address, category, verification_status,
	investment_limit::text, current_investment::text, currency, expires_at, updated_at`

func scanIdentity(row pgx.Row) (*domain.InvestorIdentity, error) {
	var (
		id                   domain.InvestorIdentity
		limitStr, currentStr string
		currency             string
	)
	err := row.Scan(&id.HolderID, &id.WalletAddress, &id.Category, &id.VerificationStatus,
		&limitStr, &currentStr, &currency, &id.ExpiresAt, &id.UpdatedAt)
	if err != nil {
		return nil, err
	}
	limit, err := decimal.NewFromString(limitStr)
	if err != nil {
		return nil, fmt.Errorf("parse investment limit: %w", err)
	}
	current, err := decimal.NewFromString(currentStr)
	if err != nil {
		return nil, fmt.Errorf("parse current investment: %w", err)
	}
	id.InvestmentLimit = domain.NewMoney(limit, currency)
	id.CurrentInvestment = domain.NewMoney(current, currency)
	return &id, nil
}

func (s *Store) GetIdentity(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error) {
	id, err := scanIdentity(s.q.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM investor_identities WHERE holder_id = $1`, holderID))
	if err != nil {
		return nil, mapError(err)
	}
	return id, nil
}

func (s *Store) GetIdentityForUpdate(ctx context.Context, holderID uuid.UUID) (*domain.InvestorIdentity, error) {
	id, err := scanIdentity(s.q.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM investor_identities WHERE holder_id = $1 FOR UPDATE`, holderID))
	if err != nil {
		return nil, mapError(err)
	}
	return id, nil
}

func (s *Store) AddToCurrentInvestment(ctx context.Context, holderID uuid.UUID, delta domain.Money) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE investor_identities
		SET current_investment = current_investment + $1::numeric, updated_at = NOW()
		WHERE holder_id = $2 AND currency = $3
		  AND current_investment + $1::numeric <= investment_limit`,
		delta.Amount.String(), holderID, delta.Currency)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM investor_identities WHERE holder_id = $1 AND currency = $2)`,
		holderID, delta.Currency).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrLimitExceeded
}

func (s *Store) UpsertIdentity(ctx context.Context, id *domain.InvestorIdentity) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO investor_identities (
			holder_id, wallet_address, category, verification_status,
			investment_limit, current_investment, currency, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, NOW())
		ON CONFLICT (holder_id) DO UPDATE SET
			wallet_address = EXCLUDED.wallet_address,
			category = EXCLUDED.category,
			verification_status = EXCLUDED.verification_status,
			investment_limit = EXCLUDED.investment_limit,
			current_investment = EXCLUDED.current_investment,
			currency = EXCLUDED.currency,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`,
		id.HolderID, id.WalletAddress, id.Category, id.VerificationStatus,
		id.InvestmentLimit.Amount.String(), id.CurrentInvestment.Amount.String(),
		id.InvestmentLimit.Currency, id.ExpiresAt,
	)
	return mapError(err)
}

func (s *Store) CreateFreeze(ctx context.Context, f *domain.FreezeRecord) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO freeze_records (id, holder_id, token_id, frozen_amount, reason, frozen_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		f.ID, f.HolderID, f.TokenID, f.FrozenAmount.String(), f.Reason, f.FrozenAt,
	)
	return mapError(err)
}

func (s *Store) ListActiveFreezes(ctx context.Context, holderID, tokenID uuid.UUID) ([]domain.FreezeRecord, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, holder_id, token_id, frozen_amount::text, reason, frozen_at, released_at
		FROM freeze_records
		WHERE holder_id = $1 AND token_id = $2 AND released_at IS NULL
		ORDER BY frozen_at`, holderID, tokenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FreezeRecord
	for rows.Next() {
		var f domain.FreezeRecord
		var amountStr string
		if err := rows.Scan(&f.ID, &f.HolderID, &f.TokenID, &amountStr, &f.Reason, &f.FrozenAt, &f.ReleasedAt); err != nil {
			return nil, err
		}
		if f.FrozenAmount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse frozen amount: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ReleaseFreeze(ctx context.Context, id uuid.UUID, releasedAt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE freeze_records SET released_at = $1 WHERE id = $2 AND released_at IS NULL`, releasedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ReduceFreeze(ctx context.Context, id uuid.UUID, remaining decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE freeze_records SET frozen_amount = $1::numeric WHERE id = $2 AND released_at IS NULL`,
		remaining.String(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, id uuid.UUID) (*domain.Token, error) {
	var t domain.Token
	err := s.q.QueryRow(ctx, `
		SELECT id, symbol, name, mint_address, decimals, status, created_at
		FROM tokens WHERE id = $1`, id,
	).Scan(&t.ID, &t.Symbol, &t.Name, &t.MintAddress, &t.Decimals, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (s *Store) UpsertToken(ctx context.Context, t *domain.Token) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO tokens (id, symbol, name, mint_address, decimals, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			mint_address = EXCLUDED.mint_address,
			decimals = EXCLUDED.decimals,
			status = EXCLUDED.status`,
		t.ID, t.Symbol, t.Name, t.MintAddress, t.Decimals, t.Status,
	)
	return mapError(err)
}

func (s *Store) AppendAuditEvent(ctx context.Context, e *domain.AuditEvent) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO audit_events (id, entity_type, entity_id, actor_id, action, prev_state, next_state, severity, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.EntityType, e.EntityID, e.ActorID, e.Action, e.PrevState, e.NextState,
		e.Severity, e.Metadata, e.CreatedAt,
	)
	return mapError(err)
}

func (s *Store) ListAuditEvents(ctx context.Context, entityType string, entityID uuid.UUID, limit int32) ([]domain.AuditEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, severity, metadata, created_at
		FROM audit_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at
		LIMIT NULLIF($3, 0)`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action,
			&e.PrevState, &e.NextState, &e.Severity, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
