// Package memory implements the agent-memory operations over the bitemporal
// graph: storing observations with content-hash deduplication, hybrid
// vector/keyword recall with decay weighting, validated free-form queries,
// and task-context assembly. All operations run against the caller's tenant
// graph; the package never touches a namespace the tenant context does not
// name.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/audit"
	"github.com/engram-labs/engram/internal/cypher"
	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/schema"
	"github.com/engram-labs/engram/internal/search"
	"github.com/engram-labs/engram/internal/temporal"
	"github.com/engram-labs/engram/internal/tenant"
)

const (
	// maxContentLen mirrors the schema bound on Memory.content.
	maxContentLen = 50000

	// isoFormat renders created_at snapshots. Fixed millisecond width keeps
	// the strings lexically sortable.
	isoFormat = "2006-01-02T15:04:05.000Z"
)

var (
	ErrContentRequired = errors.New("memory: content is required")
	ErrContentTooLong  = errors.New("memory: content exceeds 50000 characters")
	ErrUnknownType     = errors.New("memory: unknown memory type")
	ErrQueryRequired   = errors.New("memory: query text is required")
	ErrNotFound        = errors.New("memory: not found")
	ErrInvalidDepth    = errors.New("memory: invalid context depth")
)

// Searcher is the slice of the vector sidecar client the service consumes.
// Implemented by *search.Client.
type Searcher interface {
	Search(ctx context.Context, req search.SearchRequest) (*search.SearchResponse, error)
	IndexMemory(ctx context.Context, req search.IndexRequest) error
}

// Dispatcher hands work to a background pool. Implemented by *tasks.Pool.
// A nil dispatcher makes the service run detached work synchronously, which
// is what tests want.
type Dispatcher interface {
	Submit(name string, fn func())
}

// QueryAuditor records free-form query executions. Implemented by
// *audit.Sink.
type QueryAuditor interface {
	LogFreeformQuery(ctx context.Context, userID, orgID, expression string)
}

// Config bounds the recall pipeline.
type Config struct {
	// DefaultLimit applies when a recall names no limit.
	DefaultLimit int
	// MaxLimit caps any recall limit.
	MaxLimit int
	// Threshold is the vector similarity floor.
	Threshold float64
	// Oversample multiplies the vector candidate fetch so decay reweighting
	// and type filtering still leave a full page.
	Oversample int
	// IndexTimeout bounds a detached sidecar index write.
	IndexTimeout time.Duration
	// TrackTimeout bounds a detached access-tracking write.
	TrackTimeout time.Duration
}

// DefaultConfig returns the production recall bounds.
func DefaultConfig() Config {
	return Config{
		DefaultLimit: 5,
		MaxLimit:     20,
		Threshold:    search.DefaultThreshold,
		Oversample:   2,
		IndexTimeout: 10 * time.Second,
		TrackTimeout: 5 * time.Second,
	}
}

// Service is the memory engine. It is safe for concurrent use.
type Service struct {
	router    *tenant.Router
	search    Searcher
	pool      Dispatcher
	auditor   QueryAuditor
	validator *cypher.Validator
	cfg       Config
	clock     temporal.Clock
	newID     func(now int64) string
	logger    *zap.Logger
}

// NewService wires the memory engine. router and searcher are required; a
// nil pool degrades detached work to synchronous, and a nil auditor is
// replaced with an inert sink.
func NewService(router *tenant.Router, searcher Searcher, pool Dispatcher, auditor QueryAuditor, reg *schema.Registry, cfg Config, logger *zap.Logger) (*Service, error) {
	if router == nil {
		return nil, errors.New("memory: router is required")
	}
	if searcher == nil {
		return nil, errors.New("memory: searcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewNop()
	}
	if reg == nil {
		var err error
		reg, err = schema.Default()
		if err != nil {
			return nil, fmt.Errorf("memory: default schema: %w", err)
		}
	}
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Oversample <= 0 {
		cfg.Oversample = def.Oversample
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = def.IndexTimeout
	}
	if cfg.TrackTimeout <= 0 {
		cfg.TrackTimeout = def.TrackTimeout
	}

	validator, err := cypher.NewValidator(reg, logger)
	if err != nil {
		return nil, fmt.Errorf("memory: validator: %w", err)
	}

	return &Service{
		router:    router,
		search:    searcher,
		pool:      pool,
		auditor:   auditor,
		validator: validator,
		cfg:       cfg,
		clock:     temporal.Now,
		newID: func(now int64) string {
			return ulid.MustNew(ulid.Timestamp(time.UnixMilli(now)), ulid.DefaultEntropy()).String()
		},
		logger: logger.Named("memory"),
	}, nil
}

// WithClock pins the service clock. Intended for tests.
func (s *Service) WithClock(clock temporal.Clock) *Service {
	s.clock = clock
	return s
}

// Close releases the validator's symbol index.
func (s *Service) Close() error {
	return s.validator.Close()
}

// RememberInput is one observation to store.
type RememberInput struct {
	Content string
	Type    string
	Tags    []string
	Project string
}

// RememberResult reports what a store did. Duplicate means a currently valid
// row with identical content already existed and ID names that row.
type RememberResult struct {
	ID        string `json:"id"`
	Stored    bool   `json:"stored"`
	Duplicate bool   `json:"duplicate"`
}

// Remember stores one observation. Identical content that is still valid
// deduplicates to the existing row; expired or superseded duplicates do not
// block a fresh store. Indexing into the vector sidecar is detached and its
// failure never fails the store.
func (s *Service) Remember(ctx context.Context, tctx tenant.Context, in RememberInput) (*RememberResult, error) {
	memType, tags, err := normalizeInput(&in)
	if err != nil {
		return nil, err
	}

	g, err := s.router.GraphFor(ctx, tctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	hash := contentHash(in.Content)

	row, err := cypher.Q(schema.LabelMemory).
		Where(map[string]any{"content_hash": hash}).
		WhereOp("vt_end", ">", now).
		Returning("n.id AS id").
		First(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("memory: dedup lookup: %w", err)
	}
	if row != nil {
		return &RememberResult{ID: graph.String(row["id"]), Duplicate: true}, nil
	}

	id := s.newID(now)
	expr, params := createMemoryStatement(memoryRow{
		ID:          id,
		Content:     in.Content,
		ContentHash: hash,
		Type:        memType,
		Tags:        tags,
		Project:     in.Project,
		CreatedAt:   isoTime(now),
		Now:         now,
	})
	if _, err := g.Write(ctx, expr, params); err != nil {
		return nil, fmt.Errorf("memory: store: %w", err)
	}

	s.indexDetached(tctx, search.IndexRequest{
		ID:      id,
		Content: in.Content,
		Type:    memType,
		Tags:    tags,
		Project: in.Project,
		OrgID:   tctx.OrgID,
	})

	return &RememberResult{ID: id, Stored: true}, nil
}

// Supersede retires the memory oldID and stores in as its replacement. The
// old row's valid and transaction intervals both close at the instant the
// new row opens, and a REPLACES edge records the succession. Recall follows
// that edge when it surfaces the old row to an as-of reader.
func (s *Service) Supersede(ctx context.Context, tctx tenant.Context, oldID string, in RememberInput) (*RememberResult, error) {
	if oldID == "" {
		return nil, ErrNotFound
	}
	memType, tags, err := normalizeInput(&in)
	if err != nil {
		return nil, err
	}

	g, err := s.router.GraphFor(ctx, tctx)
	if err != nil {
		return nil, err
	}

	row, err := cypher.Q(schema.LabelMemory).
		Where(map[string]any{"id": oldID}).
		WhereCurrent().
		Returning("n.id AS id").
		First(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("memory: supersede lookup: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, oldID)
	}

	now := s.clock()
	id := s.newID(now)
	expr, params := supersedeStatement(oldID, memoryRow{
		ID:          id,
		Content:     in.Content,
		ContentHash: contentHash(in.Content),
		Type:        memType,
		Tags:        tags,
		Project:     in.Project,
		CreatedAt:   isoTime(now),
		Now:         now,
	})
	if _, err := g.Write(ctx, expr, params); err != nil {
		return nil, fmt.Errorf("memory: supersede: %w", err)
	}

	s.indexDetached(tctx, search.IndexRequest{
		ID:      id,
		Content: in.Content,
		Type:    memType,
		Tags:    tags,
		Project: in.Project,
		OrgID:   tctx.OrgID,
	})

	return &RememberResult{ID: id, Stored: true}, nil
}

// Query validates expr against the read-only policy and schema catalogue,
// then runs it on the caller's tenant graph. Backend errors propagate
// unchanged so the transport layer can map them. Every executed expression
// is audited by digest.
func (s *Service) Query(ctx context.Context, tctx tenant.Context, expr string, params map[string]any) ([]graph.Row, error) {
	if err := s.validator.Validate(expr); err != nil {
		return nil, err
	}
	g, err := s.router.GraphFor(ctx, tctx)
	if err != nil {
		return nil, err
	}
	s.auditor.LogFreeformQuery(ctx, tctx.UserID, tctx.OrgID, expr)
	return g.Query(ctx, expr, params)
}

// ContextEntry is one line of assembled task context.
type ContextEntry struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
	Source    string  `json:"source"`
}

// depthLimits maps the named context depths to recall page sizes.
var depthLimits = map[string]int{
	"shallow": 3,
	"medium":  5,
	"deep":    10,
}

// GetContext assembles memory relevant to a task: one recall on the task
// text and one narrower recall for decisions about it. files is accepted for
// callers that track touched paths but does not steer the recalls yet.
func (s *Service) GetContext(ctx context.Context, tctx tenant.Context, task string, files []string, depth string) ([]ContextEntry, error) {
	if task == "" {
		return nil, ErrQueryRequired
	}
	if depth == "" {
		depth = "medium"
	}
	n, ok := depthLimits[depth]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDepth, depth)
	}
	if len(files) > 0 {
		s.logger.Debug("Context files noted", zap.Int("count", len(files)))
	}

	general, err := s.Recall(ctx, tctx, RecallOptions{Query: task, Limit: n})
	if err != nil {
		return nil, err
	}
	decisions, err := s.Recall(ctx, tctx, RecallOptions{
		Query:   "decisions about " + task,
		Limit:   (n + 1) / 2,
		Filters: RecallFilters{Type: "decision"},
	})
	if err != nil {
		return nil, err
	}

	entries := make([]ContextEntry, 0, len(general)+len(decisions))
	for _, m := range general {
		entries = append(entries, ContextEntry{Type: m.Type, Content: m.Content, Relevance: m.WeightedScore, Source: "task_recall"})
	}
	for _, m := range decisions {
		entries = append(entries, ContextEntry{Type: m.Type, Content: m.Content, Relevance: m.WeightedScore, Source: "decision_recall"})
	}
	slices.SortStableFunc(entries, func(a, b ContextEntry) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		default:
			return 0
		}
	})
	if len(entries) > 2*n {
		entries = entries[:2*n]
	}
	return entries, nil
}

// indexDetached hands the sidecar write to the pool. Indexing lag only
// delays vector recall of the new row; the keyword path sees it immediately.
func (s *Service) indexDetached(tctx tenant.Context, req search.IndexRequest) {
	s.dispatch("vector_index", func() {
		bg, cancel := context.WithTimeout(context.Background(), s.cfg.IndexTimeout)
		defer cancel()
		if err := s.search.IndexMemory(bg, req); err != nil {
			s.logger.Warn("Vector indexing failed",
				zap.String("id", req.ID),
				zap.String("org_id", tctx.OrgID),
				zap.Error(err))
		}
	})
}

func (s *Service) dispatch(name string, fn func()) {
	if s.pool != nil {
		s.pool.Submit(name, fn)
		return
	}
	fn()
}

// normalizeInput applies defaults and bounds. Tags and type are normalized
// in place so the stored row and the sidecar document agree.
func normalizeInput(in *RememberInput) (string, []string, error) {
	if in.Content == "" {
		return "", nil, ErrContentRequired
	}
	if len(in.Content) > maxContentLen {
		return "", nil, ErrContentTooLong
	}
	memType := in.Type
	if memType == "" {
		memType = "context"
	}
	if !slices.Contains(schema.MemoryTypes, memType) {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownType, memType)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	return memType, tags, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func isoTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoFormat)
}
