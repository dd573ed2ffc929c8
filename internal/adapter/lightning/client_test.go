package lightning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ln-ledger/config"
	"ln-ledger/internal/core/ports"
	"ln-ledger/pkg/apperror"
	"ln-ledger/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.NodeConfig{
		BaseURL:     server.URL,
		APIKey:      "test-key",
		HTTPTimeout: 5 * time.Second,
	}, nil, logger.New("error", false))
}

func TestClient_CreateInvoice(t *testing.T) {
	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/invoices", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body createInvoiceBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1000), body.AmountMsat)
		assert.Equal(t, int64(3600), body.ExpirySeconds)

		amt := body.AmountMsat
		json.NewEncoder(w).Encode(invoiceBody{
			ID:             "inv1",
			PaymentRequest: "lnbc10n1...",
			AmountMsat:     &amt,
			Status:         "unpaid",
			ExpiresAt:      expiresAt,
		})
	})

	inv, err := client.CreateInvoice(context.Background(), ports.CreateInvoiceRequest{
		AmountMsat:  1000,
		Description: "coffee",
		Expiry:      time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "inv1", inv.ID)
	assert.Equal(t, int64(1000), inv.AmountMsat)
	assert.Equal(t, expiresAt, inv.ExpiresAt)
}

func TestClient_PayInvoice(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments", r.URL.Path)

		var body payInvoiceBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "lnbc10n1...", body.PaymentRequest)
		assert.Nil(t, body.AmountMsat)

		json.NewEncoder(w).Encode(paymentBody{
			Status:          "complete",
			TotalAmountMsat: 1002,
			FeeAmountMsat:   2,
			Preimage:        "pre1",
		})
	})

	result, err := client.PayInvoice(context.Background(), ports.PayInvoiceRequest{
		PaymentRequest: "lnbc10n1...",
		MaxFeePercent:  3.0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1002), result.TotalAmountMsat)
	assert.Equal(t, int64(2), result.FeeAmountMsat)
	assert.Equal(t, "pre1", result.Preimage)
}

func TestClient_PayInvoice_NoRoute(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(errorBody{Code: "could-not-find-route", Message: "no route"})
	})

	_, err := client.PayInvoice(context.Background(), ports.PayInvoiceRequest{PaymentRequest: "lnbc10n1..."})
	assert.True(t, apperror.IsBackendCode(err, apperror.BackendCodeNoRoute))
}

func TestClient_GetInvoice(t *testing.T) {
	paidAt := time.Now().UTC().Truncate(time.Second)
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/invoices/inv1", r.URL.Path)
		json.NewEncoder(w).Encode(invoiceBody{
			ID:                 "inv1",
			Status:             "paid",
			AmountReceivedMsat: 1000,
			PaidAt:             &paidAt,
			Preimage:           "pre1",
		})
	})

	state, err := client.GetInvoice(context.Background(), "inv1")
	require.NoError(t, err)
	assert.Equal(t, ports.InvoiceStatusPaid, state.Status)
	assert.Nil(t, state.AmountMsat)
	assert.Equal(t, int64(1000), state.AmountReceivedMsat)
	require.NotNil(t, state.PaidAt)
	assert.Equal(t, paidAt, *state.PaidAt)
}

func TestClient_GetInvoice_NotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(errorBody{Code: "invoice-not-found", Message: "unknown invoice"})
	})

	_, err := client.GetInvoice(context.Background(), "missing")
	assert.True(t, apperror.IsBackendCode(err, apperror.BackendCodeInvoiceNotFound))
	assert.False(t, apperror.IsBackendCode(err, apperror.BackendCodePaymentNotFound))
}

func TestClient_GetPayment_UnstructuredError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream timeout"))
	})

	_, err := client.GetPayment(context.Background(), "hash1")
	assert.True(t, apperror.IsBackendCode(err, apperror.BackendCodeGeneric))
}
