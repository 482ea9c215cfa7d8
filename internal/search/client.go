// Package search is the HTTP client for the vector search sidecar. The
// sidecar owns embeddings and reranking; this client only speaks its wire
// format and throttles itself so recall bursts cannot starve it.
package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/engram-labs/engram/internal/jsonx"
)

const (
	// DefaultCollection is the collection holding memory embeddings.
	DefaultCollection = "memory"
	// DefaultThreshold is the minimum similarity score passed to the sidecar.
	DefaultThreshold = 0.5
	// StrategyHybrid asks the sidecar to blend dense and sparse retrieval.
	StrategyHybrid = "hybrid"
)

// Rerank tiers accepted by the sidecar.
const (
	TierFast     = "fast"
	TierAccurate = "accurate"
	TierCode     = "code"
	TierLLM      = "llm"
)

// Text limits for indexed content and query text.
const (
	MaxContentLength = 8000
	MaxQueryLength   = 500
)

// TimeRange narrows results to a valid-time window, in ms.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Filters are the sidecar-side result filters.
type Filters struct {
	VTEndAfter int64      `json:"vt_end_after,omitempty"`
	Project    string     `json:"project,omitempty"`
	OrgID      string     `json:"org_id,omitempty"`
	TimeRange  *TimeRange `json:"time_range,omitempty"`
}

// SearchRequest is the POST /search body.
type SearchRequest struct {
	Text       string  `json:"text"`
	Limit      int     `json:"limit"`
	Threshold  float64 `json:"threshold"`
	Strategy   string  `json:"strategy"`
	Rerank     bool    `json:"rerank"`
	RerankTier string  `json:"rerank_tier,omitempty"`
	Collection string  `json:"collection"`
	Filters    Filters `json:"filters"`
}

// Payload is the metadata stored alongside each embedding.
type Payload struct {
	NodeID    string   `json:"node_id"`
	Content   string   `json:"content"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags,omitempty"`
	Timestamp int64    `json:"timestamp"`
	VTEnd     int64    `json:"vt_end"`
}

// Hit is one search result. RerankerScore is present only when the sidecar
// reranked.
type Hit struct {
	Payload       Payload  `json:"payload"`
	Score         float64  `json:"score"`
	RerankerScore *float64 `json:"reranker_score,omitempty"`
}

// SearchResponse is the POST /search reply.
type SearchResponse struct {
	Results []Hit `json:"results"`
	TookMS  int64 `json:"took_ms"`
}

// IndexRequest is the POST /index body.
type IndexRequest struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	Type    string   `json:"type"`
	Tags    []string `json:"tags,omitempty"`
	Project string   `json:"project,omitempty"`
	OrgID   string   `json:"org_id"`
}

// ClientConfig holds configuration for the search client.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	// RatePerSecond throttles outbound calls; 0 disables throttling.
	RatePerSecond float64
	Burst         int
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8090",
		RequestTimeout: 30 * time.Second,
		RatePerSecond:  50,
		Burst:          100,
	}
}

// Client talks to the search sidecar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a search client. No connection is made until first use.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RatePerSecond)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		logger:     logger.Named("search"),
	}
}

// Search runs a similarity query against the sidecar.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	req.Text = sanitizeText(req.Text, MaxQueryLength)
	if req.Text == "" {
		return nil, fmt.Errorf("search: empty query text")
	}
	if req.Collection == "" {
		req.Collection = DefaultCollection
	}

	var out SearchResponse
	if err := c.post(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("Vector search completed",
		zap.Int("results", len(out.Results)),
		zap.Int64("took_ms", out.TookMS))
	return &out, nil
}

// IndexMemory submits one memory for embedding. The sidecar indexes
// asynchronously; a 2xx only acknowledges receipt.
func (c *Client) IndexMemory(ctx context.Context, req IndexRequest) error {
	if req.ID == "" {
		return fmt.Errorf("search: index request missing id")
	}
	req.Content = sanitizeText(req.Content, MaxContentLength)
	if req.Content == "" {
		return fmt.Errorf("search: index request missing content")
	}
	if err := c.post(ctx, "/index", req, nil); err != nil {
		return err
	}
	c.logger.Debug("Memory submitted for indexing", zap.String("id", req.ID))
	return nil
}

// Ping probes the sidecar health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("search: rate wait: %w", err)
		}
	}

	payload, err := jsonx.Marshal(body)
	if err != nil {
		return fmt.Errorf("search: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search: %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("search: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("search: decode %s response: %w", path, err)
	}
	return nil
}

// sanitizeText strips null bytes, collapses whitespace, and truncates.
func sanitizeText(text string, max int) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > max {
		text = text[:max]
	}
	return strings.TrimSpace(text)
}
