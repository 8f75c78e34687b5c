// Package paymentbridge talks back to the off-chain payment service that
// collected the fiat leg of an order. The only call settlement needs is
// refund initiation; confirmations travel the other way as webhooks.
package paymentbridge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nivant/tokensettle/internal/domain"
)

// ErrRefundRejected means the payment service refused the refund outright.
// Retrying will not help; the order needs operator attention.
var ErrRefundRejected = errors.New("refund rejected by payment service")

// RefundRequest instructs the payment service to return the fiat leg of a
// failed settlement to the buyer.
type RefundRequest struct {
	OrderID          uuid.UUID
	PaymentReference string
	Amount           domain.Money
	Reason           string
}

// RefundResult carries the payment service's reference for the refund.
type RefundResult struct {
	RefundReference string
}

// Client initiates refunds against the payment service.
type Client interface {
	InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// HTTPClient posts refund instructions over HTTP, signing each body with the
// shared webhook secret in the same sha256= format the payment service uses
// when calling us.
type HTTPClient struct {
	baseURL string
	secret  []byte
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, secret string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		secret:  []byte(secret),
		client:  &http.Client{Timeout: timeout},
	}
}

type refundPayload struct {
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Reason           string `json:"reason"`
}

type refundResponse struct {
	RefundReference string `json:"refund_reference"`
	Status          string `json:"status"`
}

func (c *HTTPClient) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body, err := json.Marshal(refundPayload{
		OrderID:          req.OrderID.String(),
		PaymentReference: req.PaymentReference,
		Amount:           req.Amount.Amount.StringFixed(2),
		Currency:         req.Amount.Currency,
		Reason:           req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("encode refund payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/refunds", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build refund request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Signature", c.sign(body))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call payment service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read refund response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out refundResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("decode refund response: %w", err)
		}
		if out.RefundReference == "" {
			return nil, errors.New("refund response missing refund_reference")
		}
		return &RefundResult{RefundReference: out.RefundReference}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRefundRejected, resp.StatusCode, respBody)
	default:
		return nil, fmt.Errorf("payment service returned %d: %s", resp.StatusCode, respBody)
	}
}

func (c *HTTPClient) sign(body []byte) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
