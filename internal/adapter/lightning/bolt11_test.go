package lightning

import (
	"testing"
	"time"

	"ln-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2500u invoice with payment hash 000102..1f, description "coffee beans"
// and a one hour expiry.
const testInvoice = "lnbc2500u1pj48ugqpp5qqqsyqcyq5rqwzqfpg9scrgwpugpzysnzs23v9ccrydpk8qarc0ssp5zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zygsdq5vdhkven9v5sxyetpdeesxqrrss6rytwem89he9p383a0dq4g9g9exguqlj8ed65m2cr6kpfexx77mr3yahm7lqpzt43fn5sguykqapf7ul30t9p3ulmg7jk85uaj5x29sq8jg2ye"

func TestBolt11Decoder_Decode(t *testing.T) {
	decoder := NewBolt11Decoder()

	pr, err := decoder.Decode(testInvoice)
	require.NoError(t, err)

	assert.Equal(t, testInvoice, pr.Raw)
	assert.Equal(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", pr.PaymentHash)
	assert.Equal(t, int64(250_000_000), pr.AmountMsat)
	assert.Equal(t, "coffee beans", pr.Description)
	assert.NotEmpty(t, pr.Payee)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), pr.CreatedAt)
	assert.Equal(t, time.Hour, pr.ExpiresAt.Sub(pr.CreatedAt))
	assert.True(t, pr.HasAmount())
}

func TestBolt11Decoder_Decode_TrimsWhitespace(t *testing.T) {
	decoder := NewBolt11Decoder()

	pr, err := decoder.Decode("  " + testInvoice + "\n")
	require.NoError(t, err)
	assert.Equal(t, testInvoice, pr.Raw)
}

func TestBolt11Decoder_Decode_Malformed(t *testing.T) {
	decoder := NewBolt11Decoder()

	_, err := decoder.Decode("lnbc1notaninvoice")
	assert.True(t, apperror.Is(err, "PRQ_004"))

	_, err = decoder.Decode("")
	assert.True(t, apperror.Is(err, "PRQ_004"))
}
