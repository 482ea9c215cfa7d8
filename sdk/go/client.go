// Package engram provides the Go client for the engram memory service.
package engram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to an engram server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// ClientConfig configures the client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient creates a client. Timeout defaults to 30 seconds.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    config.BaseURL,
		token:      config.Token,
	}
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Remember stores a memory. Duplicate content is detected server-side; check
// the result's Duplicate flag.
func (c *Client) Remember(ctx context.Context, req *RememberRequest) (*RememberResult, error) {
	var resp RememberResult
	if err := c.post(ctx, "/v1/memory/remember", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Recall retrieves memories ranked by weighted relevance.
func (c *Client) Recall(ctx context.Context, req *RecallRequest) ([]Memory, error) {
	var resp recallResponse
	if err := c.post(ctx, "/v1/memory/recall", req, &resp); err != nil {
		return nil, err
	}
	return resp.Memories, nil
}

// Query runs a read-only graph expression against the caller's tenant graph.
func (c *Client) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	var resp queryResponse
	req := &QueryRequest{Cypher: cypher, Params: params}
	if err := c.post(ctx, "/v1/memory/query", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Context assembles task-relevant context entries.
func (c *Client) Context(ctx context.Context, req *ContextRequest) ([]ContextEntry, error) {
	var resp contextResponse
	if err := c.post(ctx, "/v1/memory/context", req, &resp); err != nil {
		return nil, err
	}
	return resp.Context, nil
}

// Health reports server component status.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// APIError is a non-success response decoded from the server envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engram: %s (%s, http %d)", e.Message, e.Code, e.Status)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("engram: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("engram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("engram: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engram: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("engram: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("engram: decode response (http %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("engram: decode payload: %w", err)
	}
	return nil
}
