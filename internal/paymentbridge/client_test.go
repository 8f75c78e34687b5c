package paymentbridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nivant/tokensettle/internal/domain"
)

const testSecret = "bridge-test-secret"

func TestInitiateRefundSignsAndParses(t *testing.T) {
	orderID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/refunds", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		mac := hmac.New(sha256.New, []byte(testSecret))
		mac.Write(body)
		require.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), r.Header.Get("X-Webhook-Signature"))

		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, orderID.String(), payload["order_id"])
		require.Equal(t, "PAY-REF-123", payload["payment_reference"])
		require.Equal(t, "5000.00", payload["amount"])
		require.Equal(t, "INR", payload["currency"])
		require.Equal(t, "ledger transfer failed", payload["reason"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"refund_reference": "REF-789",
			"status":           "accepted",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, testSecret, 5*time.Second)
	result, err := client.InitiateRefund(context.Background(), RefundRequest{
		OrderID:          orderID,
		PaymentReference: "PAY-REF-123",
		Amount:           domain.RupeesFromInt(5000),
		Reason:           "ledger transfer failed",
	})
	require.NoError(t, err)
	require.Equal(t, "REF-789", result.RefundReference)
}

func TestInitiateRefundRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown payment reference"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, testSecret, 5*time.Second)
	_, err := client.InitiateRefund(context.Background(), RefundRequest{
		OrderID:          uuid.New(),
		PaymentReference: "PAY-REF-404",
		Amount:           domain.RupeesFromInt(100),
		Reason:           "compliance denied",
	})
	require.ErrorIs(t, err, ErrRefundRejected)
}

func TestInitiateRefundServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, testSecret, 5*time.Second)
	_, err := client.InitiateRefund(context.Background(), RefundRequest{
		OrderID:          uuid.New(),
		PaymentReference: "PAY-REF-500",
		Amount:           domain.RupeesFromInt(100),
		Reason:           "ledger transfer failed",
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRefundRejected)
}

func TestMockClientQueuedFailures(t *testing.T) {
	mock := NewMockClient()
	mock.FailWith(context.DeadlineExceeded)

	_, err := mock.InitiateRefund(context.Background(), RefundRequest{OrderID: uuid.New()})
	require.Error(t, err)
	require.Empty(t, mock.Requests())

	result, err := mock.InitiateRefund(context.Background(), RefundRequest{OrderID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, "REFUND-000001", result.RefundReference)
	require.Len(t, mock.Requests(), 1)
}
