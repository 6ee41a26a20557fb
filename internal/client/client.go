// Package client is the REST client for the patrol API on the monitoring
// server. It is a thin JSON transport; all reconciliation logic lives in
// internal/patrol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patrolhq/patrolctl/internal/types"
)

const defaultTimeout = 10 * time.Second

// Client sends patrol API requests to the monitoring server.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New creates a client for the given server base URL. An empty token disables
// the Authorization header.
func New(baseURL, token string) *Client {
	return NewWithHTTPClient(baseURL, token, nil)
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client
// (used by tests and by callers needing custom transports).
func NewWithHTTPClient(baseURL, token string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   httpc,
	}
}

// RequestError is a non-2xx response decoded from the server's error envelope.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// errorEnvelope matches the server's error response body.
type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := &RequestError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil {
			reqErr.Message = env.Message
			reqErr.Code = env.Code
			if reqErr.Code == "" {
				reqErr.Code = env.Error
			}
			if reqErr.Message == "" {
				reqErr.Message = env.Error
			}
		}
		return reqErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// Status fetches the current patrol service status.
func (c *Client) Status(ctx context.Context) (*types.PatrolStatus, error) {
	var st types.PatrolStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/ai/patrol/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// AutonomySettings fetches the persisted autonomy policy.
func (c *Client) AutonomySettings(ctx context.Context) (*types.AutonomySettings, error) {
	var s types.AutonomySettings
	if err := c.doJSON(ctx, http.MethodGet, "/api/ai/patrol/autonomy", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// autonomyUpdateEnvelope matches the PUT response body. Unlike the GET, the
// update answer wraps the applied settings.
type autonomyUpdateEnvelope struct {
	Success  bool                   `json:"success"`
	Settings types.AutonomySettings `json:"settings"`
}

// UpdateAutonomySettings persists an autonomy policy change and returns the
// settings the server actually applied. The server may downgrade the
// requested level (e.g. full collapses to assisted when the unlock is
// revoked), so callers must adopt the response rather than the request.
func (c *Client) UpdateAutonomySettings(ctx context.Context, req types.AutonomyUpdateRequest) (*types.AutonomySettings, error) {
	var env autonomyUpdateEnvelope
	if err := c.doJSON(ctx, http.MethodPut, "/api/ai/patrol/autonomy", req, &env); err != nil {
		return nil, err
	}
	return &env.Settings, nil
}

// TriggerRun requests a manual patrol run. Fire-and-acknowledge: a nil error
// means the request was accepted, not that a run started. The caller's safety
// timeout covers the gap.
func (c *Client) TriggerRun(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/ai/patrol/run", nil, nil)
}

// RunHistory fetches up to limit historical run records. Server order is not
// guaranteed; callers sort.
func (c *Client) RunHistory(ctx context.Context, limit int) ([]types.PatrolRunRecord, error) {
	path := "/api/ai/patrol/runs"
	if limit > 0 {
		path += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}
	var runs []types.PatrolRunRecord
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// approvalsEnvelope matches the approvals list response body.
type approvalsEnvelope struct {
	Approvals []types.Approval `json:"approvals"`
}

// PendingApprovals fetches remediation approvals awaiting a decision.
func (c *Client) PendingApprovals(ctx context.Context) ([]types.Approval, error) {
	var env approvalsEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/api/ai/approvals", nil, &env); err != nil {
		return nil, err
	}
	return env.Approvals, nil
}
