package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWallet_Balance(t *testing.T) {
	paidAt := time.Now().UTC()
	w := &Wallet{
		ID: "w1",
		Transactions: []Transaction{
			{AmountSettled: msat(1000), PaidAt: &paidAt},
			{AmountSettled: msat(-400), PaidAt: &paidAt},
			{Amount: 9999}, // unsettled, ignored
			{AmountSettled: msat(250), PaidAt: &paidAt},
		},
	}
	assert.Equal(t, int64(850), w.Balance())

	// Recomputed, never cached.
	w.Transactions = append(w.Transactions, Transaction{AmountSettled: msat(-850), PaidAt: &paidAt})
	assert.Equal(t, int64(0), w.Balance())
}

func TestWallet_Balance_Empty(t *testing.T) {
	w := &Wallet{ID: "w1"}
	assert.Equal(t, int64(0), w.Balance())
}

func TestAccessLevel_Allows(t *testing.T) {
	tests := []struct {
		name     string
		level    AccessLevel
		required AccessLevel
		want     bool
	}{
		{"admin allows send", AccessLevelAdmin, AccessLevelSend, true},
		{"admin allows admin", AccessLevelAdmin, AccessLevelAdmin, true},
		{"send allows invoice", AccessLevelSend, AccessLevelInvoice, true},
		{"send denies admin", AccessLevelSend, AccessLevelAdmin, false},
		{"invoice denies send", AccessLevelInvoice, AccessLevelSend, false},
		{"read-only allows read-only", AccessLevelReadOnly, AccessLevelReadOnly, true},
		{"read-only denies invoice", AccessLevelReadOnly, AccessLevelInvoice, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.Allows(tt.required))
		})
	}
}

func TestAccessLevel_StringRoundTrip(t *testing.T) {
	for _, level := range []AccessLevel{AccessLevelReadOnly, AccessLevelInvoice, AccessLevelSend, AccessLevelAdmin} {
		parsed, ok := ParseAccessLevel(level.String())
		assert.True(t, ok)
		assert.Equal(t, level, parsed)
	}

	_, ok := ParseAccessLevel("superuser")
	assert.False(t, ok)
}

func TestNewAccessKeyID(t *testing.T) {
	a := NewAccessKeyID()
	b := NewAccessKeyID()
	assert.Len(t, a, 40) // 20 bytes, hex-encoded
	assert.NotEqual(t, a, b)
}

func TestPaymentRequest_VerifyDescriptionHash(t *testing.T) {
	// sha256("metadata") in hex
	pr := &PaymentRequest{DescriptionHash: "45447b7afbd5e544f7d0f1df0fccd26014d9850130abd3f020b89ff96b82079f"}
	assert.True(t, pr.VerifyDescriptionHash("metadata"))
	assert.False(t, pr.VerifyDescriptionHash("other"))

	empty := &PaymentRequest{}
	assert.False(t, empty.VerifyDescriptionHash("metadata"))
}

func TestNewTransactionEvent(t *testing.T) {
	paidAt := time.Now().UTC()
	tx := &Transaction{
		ID:            "tx1",
		InvoiceID:     "inv1",
		WalletID:      "w1",
		AmountSettled: msat(1000),
		PaidAt:        &paidAt,
		ExpiresAt:     paidAt.Add(time.Hour),
	}

	event := NewTransactionEvent(tx, "settled")
	assert.Equal(t, "tx1", event.TransactionID)
	assert.Equal(t, "inv1", event.InvoiceID)
	assert.Equal(t, "w1", event.WalletID)
	assert.Equal(t, StatusSettled, event.Status)
	assert.True(t, event.IsPaid)
	assert.False(t, event.IsExpired)
	assert.Equal(t, "settled", event.Event)
}
