package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/settlement"
)

// OrderHandler serves order status, audit trail, and cancellation.
type OrderHandler struct {
	queries      *settlement.QueryService
	orchestrator *settlement.Orchestrator
}

func NewOrderHandler(queries *settlement.QueryService, orchestrator *settlement.Orchestrator) *OrderHandler {
	return &OrderHandler{queries: queries, orchestrator: orchestrator}
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "orderID"))
}

// GetOrder handles GET /api/v1/orders/{orderID}. Buyers see their own
// orders; admin and ops see all.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "order/invalid-id", "invalid order id")
		return
	}

	actorID, role, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	detail, err := h.queries.GetOrderDetail(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, settlement.ErrOrderNotFound) {
			RespondError(w, r, http.StatusNotFound, "order/not-found", "order not found")
			return
		}
		zap.L().Error("get order detail failed", zap.String("order_id", orderID.String()), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "order/read-failed", "failed to load order")
		return
	}

	if !isOperator(role) && detail.Order.BuyerID != actorID {
		// Hide existence from other buyers.
		RespondError(w, r, http.StatusNotFound, "order/not-found", "order not found")
		return
	}

	RespondJSON(w, http.StatusOK, detail)
}

// Cancel handles POST /api/v1/orders/{orderID}/cancel. Allowed for the buyer
// and for ops before the transfer starts executing.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "order/invalid-id", "invalid order id")
		return
	}

	actorID, role, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	detail, err := h.queries.GetOrderDetail(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, settlement.ErrOrderNotFound) {
			RespondError(w, r, http.StatusNotFound, "order/not-found", "order not found")
			return
		}
		zap.L().Error("load order for cancel failed", zap.String("order_id", orderID.String()), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "order/read-failed", "failed to load order")
		return
	}
	if !isOperator(role) && detail.Order.BuyerID != actorID {
		RespondError(w, r, http.StatusNotFound, "order/not-found", "order not found")
		return
	}

	if err := h.orchestrator.Cancel(r.Context(), orderID, &actorID); err != nil {
		switch {
		case errors.Is(err, settlement.ErrOrderNotFound):
			RespondError(w, r, http.StatusNotFound, "order/not-found", "order not found")
		case errors.Is(err, settlement.ErrCancelNotAllowed):
			RespondError(w, r, http.StatusConflict, "order/cancel-not-allowed", "order can no longer be cancelled")
		default:
			zap.L().Error("cancel order failed", zap.String("order_id", orderID.String()), zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "order/cancel-failed", "failed to cancel order")
		}
		return
	}

	updated, err := h.queries.GetOrderDetail(r.Context(), orderID)
	if err != nil {
		RespondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	RespondJSON(w, http.StatusOK, updated.Order)
}

// GetAudit handles GET /api/v1/orders/{orderID}/audit for admin and ops.
func (h *OrderHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "order/invalid-id", "invalid order id")
		return
	}

	var limit int32
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "order/invalid-limit", "limit must be a non-negative integer")
			return
		}
		limit = int32(parsed)
	}

	events, err := h.queries.GetOrderAudit(r.Context(), orderID, limit)
	if err != nil {
		if errors.Is(err, settlement.ErrOrderNotFound) {
			RespondError(w, r, http.StatusNotFound, "order/not-found", "order not found")
			return
		}
		zap.L().Error("get order audit failed", zap.String("order_id", orderID.String()), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "order/audit-failed", "failed to load audit trail")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{"order_id": orderID, "events": events})
}
