package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PaymentRequest is a decoded BOLT11 invoice.
type PaymentRequest struct {
	Raw             string
	PaymentHash     string
	AmountMsat      int64 // 0 = any-amount invoice
	Description     string
	DescriptionHash string
	Payee           string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// IsExpired reports whether the request's expiry has passed at the given instant.
func (p *PaymentRequest) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// HasAmount reports whether the invoice carries a fixed amount.
func (p *PaymentRequest) HasAmount() bool {
	return p.AmountMsat > 0
}

// VerifyDescriptionHash checks the invoice's description hash against the
// given metadata, as required by the LNURL-pay flow.
func (p *PaymentRequest) VerifyDescriptionHash(metadata string) bool {
	if p.DescriptionHash == "" {
		return false
	}
	sum := sha256.Sum256([]byte(metadata))
	return p.DescriptionHash == hex.EncodeToString(sum[:])
}

// TransactionEvent is the change notification emitted after every mutating
// settlement-engine operation.
type TransactionEvent struct {
	TransactionID string `json:"transactionId"`
	InvoiceID     string `json:"invoiceId,omitempty"`
	WalletID      string `json:"walletId"`
	Status        Status `json:"status"`
	IsPaid        bool   `json:"isPaid"`
	IsExpired     bool   `json:"isExpired"`
	Event         string `json:"event"`
}

// NewTransactionEvent builds the notification payload for a transaction.
func NewTransactionEvent(t *Transaction, event string) TransactionEvent {
	return TransactionEvent{
		TransactionID: t.ID,
		InvoiceID:     t.InvoiceID,
		WalletID:      t.WalletID,
		Status:        t.Status(),
		IsPaid:        t.IsPaid(),
		IsExpired:     t.IsExpired(),
		Event:         event,
	}
}
