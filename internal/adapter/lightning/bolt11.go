package lightning

import (
	"fmt"
	"strings"
	"time"

	"ln-ledger/internal/core/domain"
	"ln-ledger/pkg/apperror"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// Bolt11Decoder implements ports.PaymentRequestDecoder.
type Bolt11Decoder struct{}

// NewBolt11Decoder creates a BOLT11 payment request decoder.
func NewBolt11Decoder() *Bolt11Decoder {
	return &Bolt11Decoder{}
}

// Decode parses a BOLT11 string into a payment request. Malformed input
// yields PRQ_004.
func (d *Bolt11Decoder) Decode(paymentRequest string) (*domain.PaymentRequest, error) {
	trimmed := strings.TrimSpace(paymentRequest)
	inv, err := decodepay.Decodepay(trimmed)
	if err != nil {
		return nil, apperror.ErrMalformedPaymentRequest(fmt.Errorf("decode bolt11: %w", err))
	}

	createdAt := time.Unix(int64(inv.CreatedAt), 0).UTC()
	return &domain.PaymentRequest{
		Raw:             trimmed,
		PaymentHash:     inv.PaymentHash,
		AmountMsat:      inv.MSatoshi,
		Description:     inv.Description,
		DescriptionHash: inv.DescriptionHash,
		Payee:           inv.Payee,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(time.Duration(inv.Expiry) * time.Second),
	}, nil
}
