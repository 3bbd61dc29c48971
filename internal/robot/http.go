package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPClient adapts the robot platform's command and navigation HTTP
// API onto the CommandIssuer and Router contracts.
type HTTPClient struct {
	base   string
	client *http.Client
}

// HTTPClientOption is a functional option for configuring the
// HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a platform client against the given base URL.
func NewHTTPClient(base string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type issueCommandRequest struct {
	Action map[string]any `json:"action"`
}

type issueCommandResponse struct {
	CommandID string `json:"command_id"`
}

type commandFeedbackResponse struct {
	Status CommandStatus `json:"status"`
}

type navigateRequest struct {
	Destination string `json:"destination"`
}

type navigateResponse struct {
	RouteID string `json:"route_id"`
}

type routeFeedbackResponse struct {
	Status RouteStatus `json:"status"`
}

// IssueCommand implements CommandIssuer.
func (c *HTTPClient) IssueCommand(ctx context.Context, action map[string]any) (string, error) {
	var resp issueCommandResponse
	if err := c.post(ctx, "/commands", issueCommandRequest{Action: action}, &resp); err != nil {
		return "", err
	}
	if resp.CommandID == "" {
		return "", fmt.Errorf("platform returned no command id")
	}
	return resp.CommandID, nil
}

// CommandFeedback implements CommandIssuer.
func (c *HTTPClient) CommandFeedback(ctx context.Context, commandID string) (CommandStatus, error) {
	var resp commandFeedbackResponse
	if err := c.get(ctx, "/commands/"+url.PathEscape(commandID), &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// NavigateTo implements Router.
func (c *HTTPClient) NavigateTo(ctx context.Context, destination string) (string, error) {
	var resp navigateResponse
	if err := c.post(ctx, "/routes", navigateRequest{Destination: destination}, &resp); err != nil {
		return "", err
	}
	if resp.RouteID == "" {
		return "", fmt.Errorf("platform returned no route id")
	}
	return resp.RouteID, nil
}

// RouteFeedback implements Router.
func (c *HTTPClient) RouteFeedback(ctx context.Context, routeID string) (RouteStatus, error) {
	var resp routeFeedbackResponse
	if err := c.get(ctx, "/routes/"+url.PathEscape(routeID), &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *HTTPClient) do(req *http.Request, path string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call platform %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call platform %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform %s response: %w", path, err)
	}
	return nil
}

// Compile-time checks against the interpreter contracts.
var (
	_ CommandIssuer = (*HTTPClient)(nil)
	_ Router        = (*HTTPClient)(nil)
)
