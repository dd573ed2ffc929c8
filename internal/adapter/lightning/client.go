package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ln-ledger/config"
	"ln-ledger/internal/core/ports"
	"ln-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements ports.LightningBackend against the node's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewClient creates a node backend client. Passing a nil httpClient uses a
// default client bounded by the configured HTTP timeout.
func NewClient(cfg config.NodeConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log,
	}
}

type createInvoiceBody struct {
	AmountMsat        int64  `json:"amountMsat"`
	Description       string `json:"description"`
	DescriptionHashed bool   `json:"descriptionHashed"`
	ExpirySeconds     int64  `json:"expirySeconds"`
	PrivateRouteHints bool   `json:"privateRouteHints"`
}

type invoiceBody struct {
	ID                 string     `json:"id"`
	PaymentRequest     string     `json:"paymentRequest"`
	Status             string     `json:"status"`
	AmountMsat         *int64     `json:"amountMsat"`
	AmountReceivedMsat int64      `json:"amountReceivedMsat"`
	PaidAt             *time.Time `json:"paidAt"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	Preimage           string     `json:"preimage"`
}

type payInvoiceBody struct {
	PaymentRequest string  `json:"paymentRequest"`
	AmountMsat     *int64  `json:"amountMsat,omitempty"`
	MaxFeePercent  float64 `json:"maxFeePercent"`
}

type paymentBody struct {
	PaymentHash     string     `json:"paymentHash"`
	Status          string     `json:"status"`
	TotalAmountMsat int64      `json:"totalMsat"`
	FeeAmountMsat   int64      `json:"feeMsat"`
	Preimage        string     `json:"preimage"`
	CreatedAt       *time.Time `json:"createdAt"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateInvoice asks the node for a new inbound invoice.
func (c *Client) CreateInvoice(ctx context.Context, req ports.CreateInvoiceRequest) (*ports.Invoice, error) {
	body := createInvoiceBody{
		AmountMsat:        req.AmountMsat,
		Description:       req.Description,
		DescriptionHashed: req.DescriptionHashed,
		ExpirySeconds:     int64(req.Expiry.Seconds()),
		PrivateRouteHints: req.PrivateRouteHints,
	}
	var out invoiceBody
	if err := c.do(ctx, http.MethodPost, "/api/v1/invoices", body, &out); err != nil {
		return nil, err
	}
	inv := &ports.Invoice{
		ID:             out.ID,
		PaymentRequest: out.PaymentRequest,
		ExpiresAt:      out.ExpiresAt,
	}
	if out.AmountMsat != nil {
		inv.AmountMsat = *out.AmountMsat
	}
	return inv, nil
}

// PayInvoice pays a BOLT11 invoice. The call blocks until the payment
// completes, fails, or ctx expires.
func (c *Client) PayInvoice(ctx context.Context, req ports.PayInvoiceRequest) (*ports.PaymentResult, error) {
	body := payInvoiceBody{
		PaymentRequest: req.PaymentRequest,
		AmountMsat:     req.AmountMsat,
		MaxFeePercent:  req.MaxFeePercent,
	}
	var out paymentBody
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", body, &out); err != nil {
		return nil, err
	}
	return &ports.PaymentResult{
		TotalAmountMsat: out.TotalAmountMsat,
		FeeAmountMsat:   out.FeeAmountMsat,
		Preimage:        out.Preimage,
	}, nil
}

// GetInvoice fetches the node's view of an invoice.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*ports.InvoiceState, error) {
	var out invoiceBody
	if err := c.do(ctx, http.MethodGet, "/api/v1/invoices/"+invoiceID, nil, &out); err != nil {
		return nil, err
	}
	return &ports.InvoiceState{
		ID:                 out.ID,
		Status:             ports.InvoiceStatus(out.Status),
		AmountMsat:         out.AmountMsat,
		AmountReceivedMsat: out.AmountReceivedMsat,
		PaidAt:             out.PaidAt,
		Preimage:           out.Preimage,
	}, nil
}

// GetPayment fetches the node's view of an outbound payment.
func (c *Client) GetPayment(ctx context.Context, paymentHash string) (*ports.PaymentState, error) {
	var out paymentBody
	if err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, nil, &out); err != nil {
		return nil, err
	}
	return &ports.PaymentState{
		PaymentHash:     out.PaymentHash,
		Status:          ports.PaymentStatus(out.Status),
		TotalAmountMsat: out.TotalAmountMsat,
		FeeAmountMsat:   out.FeeAmountMsat,
		Preimage:        out.Preimage,
		CreatedAt:       out.CreatedAt,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.backendError(resp, method, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s %s: %w", method, path, err)
	}
	return nil
}

// backendError maps an error response to a typed BackendError. Responses
// without a recognizable code become generic errors.
func (c *Client) backendError(resp *http.Response, method, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Msg("unstructured node error response")
		return apperror.NewBackendError(apperror.BackendCodeGeneric,
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode))
	}

	switch body.Code {
	case apperror.BackendCodeInvoiceNotFound,
		apperror.BackendCodePaymentNotFound,
		apperror.BackendCodeNoRoute:
		return apperror.NewBackendError(body.Code, body.Message)
	default:
		return apperror.NewBackendError(apperror.BackendCodeGeneric, body.Message)
	}
}
