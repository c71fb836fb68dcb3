// Package client sends device snapshots to a devicepulse server.
//
//	c, err := client.New(client.Config{Endpoint: "http://localhost:8000"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := c.Submit(ctx, client.Snapshot("phone-1", time.Now(), data))
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// DefaultEndpoint is the server base URL used when Config.Endpoint is empty
const DefaultEndpoint = "http://localhost:8000"

// Config holds client settings
type Config struct {
	// Endpoint is the server base URL, e.g. http://host:8000
	Endpoint string
	// APIKey is sent as a bearer token when set
	APIKey string
	// Timeout bounds each request (default 10s)
	Timeout time.Duration
}

// Client submits snapshots over HTTP
type Client struct {
	submitURL string
	apiKey    string
	http      *http.Client
}

// StatusError is returned when the server rejects a submission
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// New creates a client
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", cfg.Endpoint)
	}

	return &Client{
		submitURL: strings.TrimSuffix(base.String(), "/") + "/api/submit",
		apiKey:    cfg.APIKey,
		http:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Snapshot builds a submission. An empty deviceID submits unattributed.
func Snapshot(deviceID string, capturedAt time.Time, data payload.Object) telemetry.Submission {
	ts := capturedAt.UnixMilli()
	return telemetry.Submission{
		DeviceID:  telemetry.DeviceRef(deviceID),
		Timestamp: &ts,
		Data:      data,
	}
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      uint64 `json:"id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Submit sends one snapshot and returns the ID the server assigned.
// Submissions that would fail server-side validation are rejected locally.
func (c *Client) Submit(ctx context.Context, sub telemetry.Submission) (uint64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &errResp) == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return 0, &StatusError{Code: resp.StatusCode, Message: msg}
	}

	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		return 0, errors.New("server did not accept snapshot: " + out.Message)
	}
	return out.ID, nil
}
