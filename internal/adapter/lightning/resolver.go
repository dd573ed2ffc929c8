package lightning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ln-ledger/pkg/apperror"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/rs/zerolog"
)

// Resolver implements ports.AddressResolver for Lightning Addresses,
// bech32-encoded LNURLs and plain LNURL-pay endpoint URLs.
type Resolver struct {
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewResolver creates an LNURL-pay resolver.
func NewResolver(httpClient HTTPClient, log zerolog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{httpClient: httpClient, log: log}
}

type payParams struct {
	Tag            string `json:"tag"`
	Callback       string `json:"callback"`
	MinSendable    int64  `json:"minSendable"`
	MaxSendable    int64  `json:"maxSendable"`
	Metadata       string `json:"metadata"`
	CommentAllowed int    `json:"commentAllowed"`
}

type payCallback struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	PR     string `json:"pr"`
}

// Resolve turns a destination into a payable BOLT11 string by walking the
// LNURL-pay flow: fetch the pay parameters, then request an invoice for the
// amount from the callback.
func (r *Resolver) Resolve(ctx context.Context, destination string, amountMsat int64, comment string) (string, error) {
	endpoint, err := payEndpoint(destination)
	if err != nil {
		return "", apperror.ErrAddressResolution(destination, err)
	}

	params, err := r.fetchParams(ctx, endpoint)
	if err != nil {
		return "", apperror.ErrAddressResolution(destination, err)
	}
	if amountMsat < params.MinSendable || amountMsat > params.MaxSendable {
		return "", apperror.ErrAddressResolution(destination,
			fmt.Errorf("amount %d msat outside sendable range [%d, %d]",
				amountMsat, params.MinSendable, params.MaxSendable))
	}
	if comment != "" && len(comment) > params.CommentAllowed {
		r.log.Debug().
			Str("destination", destination).
			Int("allowed", params.CommentAllowed).
			Msg("dropping comment not accepted by payee")
		comment = ""
	}

	pr, err := r.requestInvoice(ctx, params.Callback, amountMsat, comment)
	if err != nil {
		return "", apperror.ErrAddressResolution(destination, err)
	}
	return pr, nil
}

// payEndpoint maps the accepted destination forms onto the LNURL-pay
// parameters URL.
func payEndpoint(destination string) (string, error) {
	dest := strings.TrimSpace(destination)
	switch {
	case strings.Contains(dest, "@") && !strings.Contains(dest, "/"):
		parts := strings.Split(dest, "@")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("invalid lightning address: %s", dest)
		}
		return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", parts[1], parts[0]), nil
	case strings.HasPrefix(strings.ToLower(dest), "lnurl1"):
		return decodeLNURL(dest)
	case strings.HasPrefix(dest, "https://") || strings.HasPrefix(dest, "http://"):
		return dest, nil
	default:
		return "", fmt.Errorf("unrecognized destination: %s", dest)
	}
}

// decodeLNURL decodes a bech32-encoded LNURL into its URL.
func decodeLNURL(lnurl string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", fmt.Errorf("decode lnurl: %w", err)
	}
	if hrp != "lnurl" {
		return "", fmt.Errorf("unexpected bech32 prefix: %s", hrp)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("decode lnurl payload: %w", err)
	}
	return string(converted), nil
}

func (r *Resolver) fetchParams(ctx context.Context, endpoint string) (*payParams, error) {
	var params payParams
	if err := r.getJSON(ctx, endpoint, &params); err != nil {
		return nil, err
	}
	if params.Tag != "payRequest" {
		return nil, fmt.Errorf("endpoint is not an lnurl-pay service (tag %q)", params.Tag)
	}
	if params.Callback == "" {
		return nil, fmt.Errorf("lnurl-pay response without callback")
	}
	return &params, nil
}

func (r *Resolver) requestInvoice(ctx context.Context, callback string, amountMsat int64, comment string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("parse callback: %w", err)
	}
	q := u.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	if comment != "" {
		q.Set("comment", comment)
	}
	u.RawQuery = q.Encode()

	var result payCallback
	if err := r.getJSON(ctx, u.String(), &result); err != nil {
		return "", err
	}
	if strings.EqualFold(result.Status, "ERROR") {
		return "", fmt.Errorf("lnurl-pay callback error: %s", result.Reason)
	}
	if result.PR == "" {
		return "", fmt.Errorf("lnurl-pay callback returned no payment request")
	}
	return result.PR, nil
}

func (r *Resolver) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d from %s: %s", resp.StatusCode, rawURL, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}
