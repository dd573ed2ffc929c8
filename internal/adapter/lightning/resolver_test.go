package lightning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ln-ledger/pkg/apperror"
	"ln-ledger/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bech32 encoding of https://example.com/.well-known/lnurlp/alice
const testLNURL = "lnurl1dp68gurn8ghj7etcv9khqmr99e3k7mf09emk2mrv944kummhdchkcmn4wfk8qtmpd35kxeg9saevq"

func TestPayEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		want        string
		wantErr     bool
	}{
		{
			name:        "lightning address",
			destination: "alice@example.com",
			want:        "https://example.com/.well-known/lnurlp/alice",
		},
		{
			name:        "bech32 lnurl",
			destination: testLNURL,
			want:        "https://example.com/.well-known/lnurlp/alice",
		},
		{
			name:        "direct url",
			destination: "https://example.com/.well-known/lnurlp/alice",
			want:        "https://example.com/.well-known/lnurlp/alice",
		},
		{
			name:        "missing local part",
			destination: "@example.com",
			wantErr:     true,
		},
		{
			name:        "garbage",
			destination: "not-a-destination",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := payEndpoint(tt.destination)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	var mux http.ServeMux
	server := httptest.NewServer(&mux)
	defer server.Close()

	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payParams{
			Tag:            "payRequest",
			Callback:       server.URL + "/lnurlp/alice/callback",
			MinSendable:    1000,
			MaxSendable:    100_000_000,
			CommentAllowed: 32,
		})
	})
	mux.HandleFunc("/lnurlp/alice/callback", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "21000", r.URL.Query().Get("amount"))
		assert.Equal(t, "thanks", r.URL.Query().Get("comment"))
		json.NewEncoder(w).Encode(payCallback{PR: "lnbc210n1..."})
	})

	resolver := NewResolver(nil, logger.New("error", false))
	pr, err := resolver.Resolve(context.Background(), server.URL+"/.well-known/lnurlp/alice", 21000, "thanks")
	require.NoError(t, err)
	assert.Equal(t, "lnbc210n1...", pr)
}

func TestResolver_Resolve_AmountOutOfRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payParams{
			Tag:         "payRequest",
			Callback:    "https://example.com/callback",
			MinSendable: 1000,
			MaxSendable: 2000,
		})
	}))
	defer server.Close()

	resolver := NewResolver(nil, logger.New("error", false))
	_, err := resolver.Resolve(context.Background(), server.URL, 5000, "")
	assert.True(t, apperror.Is(err, "LNA_001"))
}

func TestResolver_Resolve_CallbackError(t *testing.T) {
	var mux http.ServeMux
	server := httptest.NewServer(&mux)
	defer server.Close()

	mux.HandleFunc("/params", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payParams{
			Tag:         "payRequest",
			Callback:    server.URL + "/callback",
			MinSendable: 1,
			MaxSendable: 100_000_000,
		})
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payCallback{Status: "ERROR", Reason: "temporarily unavailable"})
	})

	resolver := NewResolver(nil, logger.New("error", false))
	_, err := resolver.Resolve(context.Background(), server.URL+"/params", 1000, "")
	require.True(t, apperror.Is(err, "LNA_001"))
	assert.Contains(t, err.Error(), "Resolving")
}

func TestResolver_Resolve_NotPayRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"tag": "withdrawRequest"})
	}))
	defer server.Close()

	resolver := NewResolver(nil, logger.New("error", false))
	_, err := resolver.Resolve(context.Background(), server.URL, 1000, "")
	assert.True(t, apperror.Is(err, "LNA_001"))
}
