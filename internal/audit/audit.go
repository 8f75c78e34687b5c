// Package audit writes the append-only trail consumed by the admin reporting
// UI. Every compliance decision and every order state transition lands here.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

// Service writes immutable audit trail entries.
type Service struct {
	clk clock.Clock
}

func NewService(clk clock.Clock) *Service {
	return &Service{clk: clk}
}

// Write stores a single immutable audit record through the given store view,
// which may be transaction-scoped so the record commits atomically with the
// state change it describes. Critical events are additionally surfaced in the
// error log for operator attention.
func (s *Service) Write(ctx context.Context, store storage.AuditStore, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState, severity string, metadata []byte) error {
	event := &domain.AuditEvent{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
		Severity:   severity,
		Metadata:   metadata,
		CreatedAt:  s.clk.Now(),
	}
	if err := store.AppendAuditEvent(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	if severity == domain.SeverityCritical {
		zap.L().Error("critical audit event",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID.String()),
			zap.String("action", action),
			zap.String("next_state", nextState),
		)
	}
	return nil
}
