package domain

import (
	"time"
)

// Status is the derived lifecycle state of a transaction. It is computed
// from the persisted fields on every read and never stored as its own
// column, so the raw fields stay the single source of truth.
type Status string

const (
	StatusSettled   Status = "settled"
	StatusPaid      Status = "paid"
	StatusUnpaid    Status = "unpaid"
	StatusExpired   Status = "expired"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusInvalid   Status = "invalid"
)

// TransactionType selects invoices (inbound), payments (outbound) or both
// in transaction queries.
type TransactionType int

const (
	TransactionTypeAll TransactionType = iota
	TransactionTypeInvoice
	TransactionTypePayment
)

// Transaction is a ledger row for one money movement. Amounts are in
// millisatoshi; AmountSettled is negative for outgoing payments. Rows are
// never physically deleted once settled — the ledger is the audit trail.
type Transaction struct {
	ID       string `json:"transactionId"`
	WalletID string `json:"walletId"`

	// InvoiceID is set only for inbound transactions created through the
	// node backend.
	InvoiceID string `json:"invoiceId,omitempty"`

	Amount         int64      `json:"amount"`
	AmountSettled  *int64     `json:"amountSettled,omitempty"`
	RoutingFee     *int64     `json:"routingFee,omitempty"`
	Description    string     `json:"description,omitempty"`
	PaymentRequest string     `json:"paymentRequest"`
	PaymentHash    string     `json:"paymentHash,omitempty"`
	Preimage       string     `json:"preimage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`

	// ExplicitStatus overrides the derived status. It is set by the
	// terminal transitions (cancelled/invalid/expired) and by the
	// external-send path to mark an in-flight payment as pending.
	ExplicitStatus Status `json:"-"`
}

// StatusAt derives the status of the transaction at the given instant.
// Precedence: explicit override, then settlement fields, then expiry.
func (t *Transaction) StatusAt(now time.Time) Status {
	if t.ExplicitStatus != "" {
		return t.ExplicitStatus
	}
	if t.AmountSettled != nil {
		if t.PaidAt == nil {
			return StatusPaid
		}
		return StatusSettled
	}
	if !t.ExpiresAt.After(now) {
		return StatusExpired
	}
	return StatusUnpaid
}

// Status derives the current status.
func (t *Transaction) Status() Status {
	return t.StatusAt(time.Now().UTC())
}

func (t *Transaction) IsSettled() bool { return t.Status() == StatusSettled }

// IsPaid is true for both paid and settled transactions.
func (t *Transaction) IsPaid() bool {
	s := t.Status()
	return s == StatusPaid || s == StatusSettled
}

func (t *Transaction) IsExpired() bool   { return t.Status() == StatusExpired }
func (t *Transaction) IsPending() bool   { return t.Status() == StatusPending }
func (t *Transaction) IsCancelled() bool { return t.Status() == StatusCancelled }
func (t *Transaction) IsInvalid() bool   { return t.Status() == StatusInvalid }

// IsInvoice reports whether the row is an inbound invoice; rows without an
// invoice ID are outbound payments.
func (t *Transaction) IsInvoice() bool { return t.InvoiceID != "" }

// Date is the payment date when known, the creation date otherwise.
func (t *Transaction) Date() time.Time {
	if t.PaidAt != nil {
		return *t.PaidAt
	}
	return t.CreatedAt
}

// HasRoutingFee reports whether a non-zero routing fee was recorded.
func (t *Transaction) HasRoutingFee() bool {
	return t.RoutingFee != nil && *t.RoutingFee > 0
}

// CanTerminate reports whether the transaction may still move to a
// terminal override state. Only unpaid and pending rows can.
func (t *Transaction) CanTerminate() bool {
	s := t.Status()
	return s == StatusUnpaid || s == StatusPending
}

// SetCancelled marks the transaction cancelled. Returns false without
// mutating anything if the transaction cannot terminate anymore.
func (t *Transaction) SetCancelled() bool {
	if !t.CanTerminate() {
		return false
	}
	t.AmountSettled = nil
	t.RoutingFee = nil
	t.PaidAt = nil
	t.ExplicitStatus = StatusCancelled
	return true
}

// SetInvalid marks the transaction invalid. Returns false without
// mutating anything if the transaction cannot terminate anymore.
func (t *Transaction) SetInvalid() bool {
	if !t.CanTerminate() {
		return false
	}
	t.AmountSettled = nil
	t.RoutingFee = nil
	t.PaidAt = nil
	t.ExplicitStatus = StatusInvalid
	return true
}

// SetExpired marks the transaction expired. Returns false without
// mutating anything if the transaction cannot terminate anymore.
func (t *Transaction) SetExpired() bool {
	if !t.CanTerminate() {
		return false
	}
	t.ExplicitStatus = StatusExpired
	return true
}

// SetSettled finalizes the amount fields and stamps the payment date.
// Settlement happens at most once per row: a second call returns false
// and leaves every field unchanged. This is the idempotence guard that
// makes a race between the request path and the invoice watcher safe.
func (t *Transaction) SetSettled(amount, amountSettled int64, routingFee *int64, date time.Time, preimage string) bool {
	if t.IsSettled() {
		return false
	}
	t.Amount = amount
	t.AmountSettled = &amountSettled
	t.RoutingFee = routingFee
	t.PaidAt = &date
	t.Preimage = preimage
	t.ExplicitStatus = ""
	return true
}
