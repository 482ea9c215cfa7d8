// Package graph provides the FalkorDB client for the knowledge graph. Each
// tenant namespace is a separate graph key; expressions are openCypher with a
// CYPHER parameter prologue, executed over GRAPH.QUERY / GRAPH.RO_QUERY.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps a go-redis connection with graph command helpers.
type Client struct {
	rdb    *redis.Client
	cfg    ClientConfig
	logger *zap.Logger
}

// ClientConfig holds configuration for the graph client.
type ClientConfig struct {
	Addr           string
	Password       string
	DB             int
	MaxRetries     int
	RetryInterval  time.Duration
	RequestTimeout time.Duration
	// QueryTimeout is forwarded to the backend as a TIMEOUT argument so a
	// runaway expression is killed server-side, not only client-side.
	QueryTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Addr:           "localhost:6379",
		MaxRetries:     5,
		RetryInterval:  2 * time.Second,
		RequestTimeout: 10 * time.Second,
		QueryTimeout:   10 * time.Second,
	}
}

// NewClient connects to the graph backend, retrying with backoff.
func NewClient(ctx context.Context, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 0; i < cfg.MaxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to graph backend, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(cfg.RetryInterval)
	}
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to graph backend after %d attempts: %w", cfg.MaxRetries, err)
	}

	logger.Info("Graph client connected successfully", zap.String("addr", cfg.Addr))
	return &Client{rdb: rdb, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks backend liveness.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// withTimeout applies the per-request timeout unless the caller already set
// a deadline.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has || c.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// Query runs a read-only expression against the named graph.
func (c *Client) Query(ctx context.Context, graphName, expr string, params map[string]any) (*Result, error) {
	return c.run(ctx, "GRAPH.RO_QUERY", graphName, expr, params)
}

// Write runs a mutating expression against the named graph. The graph key is
// created on first write.
func (c *Client) Write(ctx context.Context, graphName, expr string, params map[string]any) (*Result, error) {
	return c.run(ctx, "GRAPH.QUERY", graphName, expr, params)
}

func (c *Client) run(ctx context.Context, cmd, graphName, expr string, params map[string]any) (*Result, error) {
	prologue, err := formatParams(params)
	if err != nil {
		return nil, err
	}
	full := prologue + expr

	args := []any{cmd, graphName, full}
	if c.cfg.QueryTimeout > 0 {
		args = append(args, "TIMEOUT", c.cfg.QueryTimeout.Milliseconds())
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	raw, err := c.rdb.Do(ctx, args...).Result()
	if err != nil {
		c.logger.Debug("Graph command failed",
			zap.String("graph", graphName),
			zap.String("command", cmd),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("graph %s on %q: %w", cmd, graphName, err)
	}

	result, err := parseResult(raw)
	if err != nil {
		return nil, fmt.Errorf("graph %s on %q: %w", cmd, graphName, err)
	}

	c.logger.Debug("Graph command completed",
		zap.String("graph", graphName),
		zap.String("command", cmd),
		zap.Int("rows", len(result.Rows)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// IndexSpec names the exact-match indexes one label needs.
type IndexSpec struct {
	Label  string
	Fields []string
}

// EnsureIndexes provisions the graph key and its indexes. Creation is
// idempotent: "already indexed" answers from the backend are not errors, so
// concurrent provisioners and restarts converge on the same state.
func (c *Client) EnsureIndexes(ctx context.Context, graphName string, specs []IndexSpec) error {
	for _, spec := range specs {
		for _, field := range spec.Fields {
			expr := fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.%s)", spec.Label, field)
			if _, err := c.Write(ctx, graphName, expr, nil); err != nil {
				if isAlreadyIndexed(err) {
					continue
				}
				return fmt.Errorf("failed to create index %s.%s on %q: %w", spec.Label, field, graphName, err)
			}
		}
	}
	c.logger.Debug("Graph indexes ensured", zap.String("graph", graphName), zap.Int("labels", len(specs)))
	return nil
}

// List returns every graph key on the backend.
func (c *Client) List(ctx context.Context) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	raw, err := c.rdb.Do(ctx, "GRAPH.LIST").Result()
	if err != nil {
		return nil, fmt.Errorf("graph list: %w", err)
	}
	return toStrings(raw), nil
}

// Delete drops a graph key and all its data.
func (c *Client) Delete(ctx context.Context, graphName string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.rdb.Do(ctx, "GRAPH.DELETE", graphName).Err(); err != nil {
		return fmt.Errorf("graph delete %q: %w", graphName, err)
	}
	return nil
}

func isAlreadyIndexed(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already indexed")
}

// IsTimeout reports whether err is a client deadline or a backend TIMEOUT
// kill. Callers map these to a retryable timeout answer.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout")
}

// Int64 coerces a reply cell to int64. The backend returns integers natively
// and doubles as strings, so both paths are handled.
func Int64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint64:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

// Float64 coerces a reply cell to float64.
func Float64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f
		}
	}
	return 0
}

// String coerces a reply cell to string, empty for nil.
func String(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprintf("%v", v)
}

// Bool coerces a reply cell to bool.
func Bool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case string:
		return strings.EqualFold(x, "true")
	}
	return false
}

// Strings coerces a reply list to []string.
func Strings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, String(e))
		}
		return out
	case nil:
		return nil
	}
	return []string{String(v)}
}
