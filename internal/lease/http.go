package lease

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPVerifier checks lease validity against the platform's lease
// service over HTTP.
type HTTPVerifier struct {
	base   string
	client *http.Client
}

// HTTPVerifierOption is a functional option for configuring the
// HTTPVerifier.
type HTTPVerifierOption func(*HTTPVerifier)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.client = client
	}
}

// NewHTTPVerifier creates a verifier against the given base URL.
func NewHTTPVerifier(base string, opts ...HTTPVerifierOption) *HTTPVerifier {
	v := &HTTPVerifier{
		base:   base,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyLease implements Verifier.
func (v *HTTPVerifier) VerifyLease(ctx context.Context, l Lease) (bool, error) {
	payload, err := json.Marshal(l)
	if err != nil {
		return false, fmt.Errorf("encode lease: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.base+"/leases/verify", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify lease %s: %w", l.Resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verify lease %s: unexpected status %d", l.Resource, resp.StatusCode)
	}
	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode verify response: %w", err)
	}
	return out.Valid, nil
}

// Compile-time check against the interpreter contract.
var _ Verifier = (*HTTPVerifier)(nil)
