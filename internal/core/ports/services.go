package ports

import (
	"context"
	"time"

	"ln-ledger/internal/core/domain"
)

// CreateInvoiceRequest asks the node backend for a new inbound invoice.
// AmountMsat zero creates an any-amount invoice.
type CreateInvoiceRequest struct {
	AmountMsat        int64
	Description       string
	DescriptionHashed bool
	Expiry            time.Duration
	PrivateRouteHints bool
}

// Invoice is the backend's view of a created invoice.
type Invoice struct {
	ID             string
	PaymentRequest string
	AmountMsat     int64
	ExpiresAt      time.Time
}

// PayInvoiceRequest pays a BOLT11 invoice through the node backend.
// AmountMsat is set only for zero-amount invoices; the call is bounded by
// the context deadline.
type PayInvoiceRequest struct {
	PaymentRequest string
	MaxFeePercent  float64
	AmountMsat     *int64
}

// PaymentResult reports the actual amounts of a completed payment.
// TotalAmountMsat includes the routing fee.
type PaymentResult struct {
	TotalAmountMsat int64
	FeeAmountMsat   int64
	Preimage        string
}

// InvoiceStatus is the backend's invoice state.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusExpired InvoiceStatus = "expired"
)

// InvoiceState is the backend's current view of an invoice.
// AmountMsat is nil for zero-amount invoices.
type InvoiceState struct {
	ID                 string
	Status             InvoiceStatus
	AmountMsat         *int64
	AmountReceivedMsat int64
	PaidAt             *time.Time
	Preimage           string
}

// PaymentStatus is the backend's payment state.
type PaymentStatus string

const (
	PaymentStatusUnknown  PaymentStatus = "unknown"
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusComplete PaymentStatus = "complete"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// PaymentState is the backend's current view of an outbound payment.
type PaymentState struct {
	PaymentHash     string
	Status          PaymentStatus
	TotalAmountMsat int64
	FeeAmountMsat   int64
	Preimage        string
	CreatedAt       *time.Time
}

// LightningBackend is the node backend client. The backend is the source
// of truth for external invoice and payment status.
type LightningBackend interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	PayInvoice(ctx context.Context, req PayInvoiceRequest) (*PaymentResult, error)
	GetInvoice(ctx context.Context, invoiceID string) (*InvoiceState, error)
	GetPayment(ctx context.Context, paymentHash string) (*PaymentState, error)
}

// PaymentRequestDecoder parses a BOLT11 payment request string.
type PaymentRequestDecoder interface {
	Decode(paymentRequest string) (*domain.PaymentRequest, error)
}

// AddressResolver turns an LNURL or Lightning Address destination into a
// payable BOLT11 string. The amount is required by the LNURL-pay callback.
type AddressResolver interface {
	Resolve(ctx context.Context, destination string, amountMsat int64, comment string) (string, error)
}

// TransactionNotifier pushes transaction-update events to subscribers.
// Delivery is best-effort and must never affect settlement correctness.
type TransactionNotifier interface {
	Publish(ctx context.Context, event domain.TransactionEvent) error
}
