package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/storage"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrPayloadMismatch means a replayed payment reference carried a
	// different order snapshot than the one already recorded. That is not a
	// retry; it is two different orders claiming one payment.
	ErrPayloadMismatch = errors.New("payload does not match existing order for payment reference")
	ErrUnknownToken    = errors.New("unknown token")
)

// EventPaymentConfirmed is the only webhook event type that creates work.
// Anything else is acknowledged and dropped so the payment service never
// retries events we will never act on.
const EventPaymentConfirmed = "payment.confirmed"

// WebhookService ingests payment-service webhooks. Its single job is turning
// a verified payment.confirmed event into exactly one payment_confirmed
// order; the settlement worker picks the order up from there.
type WebhookService struct {
	store   storage.Store
	audit   *audit.Service
	clk     clock.Clock
	hmacKey []byte
	skipSig bool
}

func NewWebhookService(store storage.Store, auditSvc *audit.Service, clk clock.Clock, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		store:   store,
		audit:   auditSvc,
		clk:     clk,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
	}
}

// PaymentWebhookPayload is the payment service's event envelope. The order
// snapshot fields describe the purchase the payment was captured for.
type PaymentWebhookPayload struct {
	EventType        string `json:"event_type"`
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	BuyerID          string `json:"buyer_id"`
	TokenID          string `json:"token_id"`
	Quantity         string `json:"quantity"`
	PricePerUnit     string `json:"price_per_unit"`
	Currency         string `json:"currency"`
}

// PaymentWebhookResponse acknowledges an event back to the payment service.
type PaymentWebhookResponse struct {
	OrderID uuid.UUID `json:"order_id,omitempty"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// HandlePaymentWebhook verifies the signature, dedupes on payment reference
// and records a new payment_confirmed order. Replays of an already-recorded
// event with a matching snapshot are acknowledged without effect.
func (s *WebhookService) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (*PaymentWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var event PaymentWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	event.EventType = strings.TrimSpace(event.EventType)
	event.PaymentReference = strings.TrimSpace(event.PaymentReference)
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))

	if event.EventType != EventPaymentConfirmed {
		zap.L().Info("ignoring webhook event", zap.String("event_type", event.EventType))
		return &PaymentWebhookResponse{Status: "ignored", Message: "event type not handled"}, nil
	}

	order, err := s.orderFromEvent(event)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetOrderByPaymentReference(ctx, event.PaymentReference)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check payment reference: %w", err)
	}
	if existing != nil {
		if !sameSnapshot(existing, order) {
			return nil, ErrPayloadMismatch
		}
		return &PaymentWebhookResponse{
			OrderID: existing.ID,
			Status:  existing.Status,
			Message: "payment already recorded",
		}, nil
	}

	if _, err := s.store.GetToken(ctx, order.TokenID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, order.TokenID)
		}
		return nil, fmt.Errorf("load token: %w", err)
	}

	err = s.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		metadata, merr := json.Marshal(map[string]string{
			"payment_reference": order.PaymentReference,
			"quantity":          order.Quantity.String(),
			"total_value":       order.TotalValue().String(),
		})
		if merr != nil {
			return fmt.Errorf("marshal order metadata: %w", merr)
		}
		return s.audit.Write(ctx, tx, "order", order.ID, nil, "order.created", "", domain.OrderStatusPaymentConfirmed, domain.SeverityInfo, metadata)
	})
	if err != nil {
		// A concurrent delivery of the same event may have won the insert;
		// re-read and fall back to the replay path.
		if errors.Is(err, storage.ErrDuplicateSubmission) || errors.Is(err, storage.ErrStatusConflict) {
			raced, rerr := s.store.GetOrderByPaymentReference(ctx, event.PaymentReference)
			if rerr != nil {
				return nil, fmt.Errorf("re-read order after duplicate insert: %w", rerr)
			}
			if !sameSnapshot(raced, order) {
				return nil, ErrPayloadMismatch
			}
			return &PaymentWebhookResponse{OrderID: raced.ID, Status: raced.Status, Message: "payment already recorded"}, nil
		}
		return nil, err
	}

	zap.L().Info("payment confirmed",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_reference", order.PaymentReference),
		zap.String("buyer_id", order.BuyerID.String()),
	)
	return &PaymentWebhookResponse{
		OrderID: order.ID,
		Status:  domain.OrderStatusPaymentConfirmed,
		Message: "payment recorded",
	}, nil
}

func (s *WebhookService) orderFromEvent(event PaymentWebhookPayload) (*domain.Order, error) {
	if event.PaymentReference == "" {
		return nil, errors.New("payment_reference is required")
	}
	orderID, err := uuid.Parse(event.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order_id: %w", err)
	}
	buyerID, err := uuid.Parse(event.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("invalid buyer_id: %w", err)
	}
	tokenID, err := uuid.Parse(event.TokenID)
	if err != nil {
		return nil, fmt.Errorf("invalid token_id: %w", err)
	}
	quantity, err := decimal.NewFromString(event.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity: %w", err)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive, got %s", quantity)
	}
	price, err := decimal.NewFromString(event.PricePerUnit)
	if err != nil {
		return nil, fmt.Errorf("invalid price_per_unit: %w", err)
	}
	if price.Sign() < 0 {
		return nil, fmt.Errorf("price_per_unit must not be negative, got %s", price)
	}
	if !domain.IsValidCurrency(event.Currency) {
		return nil, fmt.Errorf("unsupported currency: %s", event.Currency)
	}

	now := s.clk.Now()
	return &domain.Order{
		ID:               orderID,
		BuyerID:          buyerID,
		TokenID:          tokenID,
		Quantity:         quantity,
		PricePerUnit:     domain.NewMoney(price, event.Currency),
		PaymentReference: event.PaymentReference,
		Status:           domain.OrderStatusPaymentConfirmed,
		RefundStatus:     domain.RefundStatusNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// sameSnapshot reports whether a replayed event describes the order already
// recorded for its payment reference.
func sameSnapshot(existing, incoming *domain.Order) bool {
	return existing.ID == incoming.ID &&
		existing.BuyerID == incoming.BuyerID &&
		existing.TokenID == incoming.TokenID &&
		existing.Quantity.Equal(incoming.Quantity) &&
		existing.PricePerUnit.Currency == incoming.PricePerUnit.Currency &&
		existing.PricePerUnit.Amount.Equal(incoming.PricePerUnit.Amount)
}

func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expected := "sha256=" + hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
