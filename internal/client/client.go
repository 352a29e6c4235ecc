package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Solar/internal/models"
	"Solar/internal/runner"
	"Solar/internal/store"
)

// APIError is a non-2xx response from the supervisor.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the supervisor status API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a client for baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Health returns nil when the supervisor answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil)
}

func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	var out models.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Runners(ctx context.Context) ([]runner.Status, error) {
	var out struct {
		Runners []runner.Status `json:"runners"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/runners", &out); err != nil {
		return nil, err
	}
	return out.Runners, nil
}

// Runner returns one runner status with its recent lifecycle events.
func (c *Client) Runner(ctx context.Context, id string) (runner.Status, []store.Event, error) {
	var out struct {
		Runner runner.Status `json:"runner"`
		Events []store.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/runners/"+url.PathEscape(id), &out); err != nil {
		return runner.Status{}, nil, err
	}
	return out.Runner, out.Events, nil
}

// Restart asks the supervisor to stop, reset and start one runner.
func (c *Client) Restart(ctx context.Context, id string) (runner.Status, error) {
	var out runner.Status
	err := c.do(ctx, http.MethodPost, "/api/v1/runners/"+url.PathEscape(id)+"/restart", &out)
	return out, err
}

// Events returns recent lifecycle events, for one runner when name is set.
func (c *Client) Events(ctx context.Context, name string, limit int) ([]store.Event, error) {
	q := url.Values{}
	if name != "" {
		q.Set("runner", name)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Events []store.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr models.ErrorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
