package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/types"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPDelegate talks the delegation protocol over HTTP. Each service
// name maps to a base URL; the four lifecycle calls POST to
// /session/establish, /session/tick, /session/stop and
// /session/teardown under it.
type HTTPDelegate struct {
	endpoints map[string]string
	client    *http.Client
}

// HTTPDelegateOption is a functional option for configuring the
// HTTPDelegate.
type HTTPDelegateOption func(*HTTPDelegate)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPDelegateOption {
	return func(d *HTTPDelegate) {
		d.client = client
	}
}

// NewHTTPDelegate creates a delegate over the given service endpoint
// map.
func NewHTTPDelegate(endpoints map[string]string, opts ...HTTPDelegateOption) *HTTPDelegate {
	d := &HTTPDelegate{
		endpoints: endpoints,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type establishRequest struct {
	Inputs []string      `json:"inputs,omitempty"`
	Leases []lease.Lease `json:"leases,omitempty"`
}

type tickRequest struct {
	SessionID types.ID            `json:"session_id"`
	Leases    []lease.Lease       `json:"leases,omitempty"`
	Inputs    map[string]bb.Value `json:"inputs,omitempty"`
}

type sessionRequest struct {
	SessionID types.ID `json:"session_id"`
}

// EstablishSession implements Delegate.
func (d *HTTPDelegate) EstablishSession(ctx context.Context, service string, inputs []string, leases []lease.Lease) (EstablishResponse, error) {
	var resp EstablishResponse
	err := d.post(ctx, service, "/session/establish", establishRequest{Inputs: inputs, Leases: leases}, &resp)
	return resp, err
}

// TickSession implements Delegate.
func (d *HTTPDelegate) TickSession(ctx context.Context, service string, sessionID types.ID, leases []lease.Lease, inputs map[string]bb.Value) (TickResponse, error) {
	var resp TickResponse
	err := d.post(ctx, service, "/session/tick", tickRequest{SessionID: sessionID, Leases: leases, Inputs: inputs}, &resp)
	return resp, err
}

// StopSession implements Delegate.
func (d *HTTPDelegate) StopSession(ctx context.Context, service string, sessionID types.ID) error {
	return d.post(ctx, service, "/session/stop", sessionRequest{SessionID: sessionID}, nil)
}

// TeardownSession implements Delegate.
func (d *HTTPDelegate) TeardownSession(ctx context.Context, service string, sessionID types.ID) error {
	return d.post(ctx, service, "/session/teardown", sessionRequest{SessionID: sessionID}, nil)
}

func (d *HTTPDelegate) post(ctx context.Context, service, path string, body, out any) error {
	base, ok := d.endpoints[service]
	if !ok {
		return fmt.Errorf("no endpoint configured for service %q", service)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s%s: %w", service, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s%s: unexpected status %d", service, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s%s response: %w", service, path, err)
	}
	return nil
}

// Compile-time check that HTTPDelegate satisfies the transport
// contract.
var _ Delegate = (*HTTPDelegate)(nil)
