package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/freeze"
)

// FreezeHandler exposes the administrative freeze ledger.
type FreezeHandler struct {
	freezes *freeze.Ledger
}

func NewFreezeHandler(freezes *freeze.Ledger) *FreezeHandler {
	return &FreezeHandler{freezes: freezes}
}

type freezeRequest struct {
	HolderID string `json:"holder_id"`
	TokenID  string `json:"token_id"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
}

type releaseRequest struct {
	HolderID string `json:"holder_id"`
	TokenID  string `json:"token_id"`
	Amount   string `json:"amount"`
}

func parseFreezeTarget(holderID, tokenID, amount string) (uuid.UUID, uuid.UUID, decimal.Decimal, error) {
	holder, err := uuid.Parse(holderID)
	if err != nil {
		return uuid.Nil, uuid.Nil, decimal.Zero, errors.New("invalid holder_id")
	}
	token, err := uuid.Parse(tokenID)
	if err != nil {
		return uuid.Nil, uuid.Nil, decimal.Zero, errors.New("invalid token_id")
	}
	qty, err := decimal.NewFromString(amount)
	if err != nil {
		return uuid.Nil, uuid.Nil, decimal.Zero, errors.New("invalid amount")
	}
	return holder, token, qty, nil
}

// Freeze handles POST /api/v1/freezes (admin only).
func (h *FreezeHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "freeze/invalid-body", "invalid request body")
		return
	}

	holderID, tokenID, amount, err := parseFreezeTarget(req.HolderID, req.TokenID, req.Amount)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "freeze/invalid-field", err.Error())
		return
	}
	if req.Reason == "" {
		RespondError(w, r, http.StatusBadRequest, "freeze/missing-reason", "reason is required")
		return
	}

	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	record, err := h.freezes.Freeze(r.Context(), freeze.FreezeRequest{
		HolderID: holderID,
		TokenID:  tokenID,
		Amount:   amount,
		Reason:   req.Reason,
		ActorID:  &actorID,
	})
	if err != nil {
		h.respondFreezeError(w, r, err, "freeze")
		return
	}

	RespondJSON(w, http.StatusCreated, record)
}

// Release handles POST /api/v1/freezes/release (admin only).
func (h *FreezeHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "freeze/invalid-body", "invalid request body")
		return
	}

	holderID, tokenID, amount, err := parseFreezeTarget(req.HolderID, req.TokenID, req.Amount)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "freeze/invalid-field", err.Error())
		return
	}

	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	if err := h.freezes.Unfreeze(r.Context(), freeze.UnfreezeRequest{
		HolderID: holderID,
		TokenID:  tokenID,
		Amount:   amount,
		ActorID:  &actorID,
	}); err != nil {
		h.respondFreezeError(w, r, err, "release")
		return
	}

	state, err := h.freezes.State(r.Context(), holderID, tokenID)
	if err != nil {
		RespondJSON(w, http.StatusOK, map[string]string{"status": "released"})
		return
	}
	RespondJSON(w, http.StatusOK, availableBalanceResponse(holderID, tokenID, state))
}

// AvailableBalance handles GET /api/v1/holders/{holderID}/tokens/{tokenID}/available.
func (h *FreezeHandler) AvailableBalance(w http.ResponseWriter, r *http.Request) {
	holderID, err := uuid.Parse(chi.URLParam(r, "holderID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "freeze/invalid-field", "invalid holder id")
		return
	}
	tokenID, err := uuid.Parse(chi.URLParam(r, "tokenID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "freeze/invalid-field", "invalid token id")
		return
	}

	state, err := h.freezes.State(r.Context(), holderID, tokenID)
	if err != nil {
		if status, problemType, message, ok := mapStorageError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("read freeze state failed", zap.String("holder_id", holderID.String()), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "freeze/read-failed", "failed to load balance")
		return
	}

	RespondJSON(w, http.StatusOK, availableBalanceResponse(holderID, tokenID, state))
}

func availableBalanceResponse(holderID, tokenID uuid.UUID, state freeze.State) map[string]interface{} {
	return map[string]interface{}{
		"holder_id": holderID,
		"token_id":  tokenID,
		"quantity":  state.Quantity,
		"frozen":    state.Frozen,
		"available": state.Available(),
	}
}

func (h *FreezeHandler) respondFreezeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, freeze.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "freeze/invalid-amount", "amount must be positive")
	case errors.Is(err, freeze.ErrInsufficientUnfrozenBalance):
		RespondError(w, r, http.StatusConflict, "freeze/insufficient-balance", "freeze amount exceeds unfrozen balance")
	case errors.Is(err, freeze.ErrNoMatchingFreeze):
		RespondError(w, r, http.StatusConflict, "freeze/no-matching-freeze", "release amount exceeds frozen balance")
	default:
		if status, problemType, message, ok := mapStorageError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("freeze operation failed", zap.String("op", op), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "freeze/internal", "freeze operation failed")
	}
}
