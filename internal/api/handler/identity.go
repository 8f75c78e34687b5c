package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/settlement"
	"github.com/nivant/tokensettle/internal/storage"
)

// IdentityHandler serves read-only investor identity snapshots. Identity
// writes belong to the external KYC workflow.
type IdentityHandler struct {
	queries *settlement.QueryService
}

func NewIdentityHandler(queries *settlement.QueryService) *IdentityHandler {
	return &IdentityHandler{queries: queries}
}

// GetIdentity handles GET /api/v1/identities/{holderID}. Holders see their
// own record; admin and ops see all.
func (h *IdentityHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	holderID, err := uuid.Parse(chi.URLParam(r, "holderID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "identity/invalid-id", "invalid holder id")
		return
	}

	actorID, role, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	if !isOperator(role) && actorID != holderID {
		RespondError(w, r, http.StatusForbidden, "identity/forbidden", "cannot read another holder's identity")
		return
	}

	identity, err := h.queries.GetIdentity(r.Context(), holderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			RespondError(w, r, http.StatusNotFound, "identity/not-found", "identity not found")
			return
		}
		zap.L().Error("get identity failed", zap.String("holder_id", holderID.String()), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "identity/read-failed", "failed to load identity")
		return
	}

	RespondJSON(w, http.StatusOK, identity)
}
