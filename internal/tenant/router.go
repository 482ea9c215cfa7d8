// Package tenant resolves tenant contexts into physical graph namespaces.
// Each organization owns one graph key named engram_{org_slug}_{org_id};
// namespaces are provisioned lazily on first use.
package tenant

import (
	"context"
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/schema"
)

// Context identifies the tenant a request acts for.
type Context struct {
	OrgID   string
	OrgSlug string
	UserID  string
	Scopes  []string
}

// HasScope reports whether the context carries the given scope.
func (c Context) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// DefaultNamespace is the shared graph used only by audited admin
// operations.
const DefaultNamespace = "engram_default"

var (
	slugRe      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	orgIDRe     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	namespaceRe = regexp.MustCompile(`^engram_[a-z0-9][a-z0-9-]*_[A-Za-z0-9_-]+$`)
)

// NamespaceFor derives the physical namespace for one organization. Both
// parts are validated before they reach a graph key name.
func NamespaceFor(orgSlug, orgID string) (string, error) {
	if !slugRe.MatchString(orgSlug) {
		return "", fmt.Errorf("tenant: invalid org slug %q", orgSlug)
	}
	if !orgIDRe.MatchString(orgID) {
		return "", fmt.Errorf("tenant: invalid org id %q", orgID)
	}
	ns := fmt.Sprintf("engram_%s_%s", orgSlug, orgID)
	if !namespaceRe.MatchString(ns) {
		return "", fmt.Errorf("tenant: invalid namespace %q", ns)
	}
	return ns, nil
}

// Backend is the graph surface the router needs. *graph.Client implements it.
type Backend interface {
	Query(ctx context.Context, graphName, expr string, params map[string]any) (*graph.Result, error)
	Write(ctx context.Context, graphName, expr string, params map[string]any) (*graph.Result, error)
	EnsureIndexes(ctx context.Context, graphName string, specs []graph.IndexSpec) error
}

// AdminAuditor records every default-graph access. audit.Sink implements it.
type AdminAuditor interface {
	RecordAdminAccess(ctx context.Context, actor, namespace, reason string)
}

// RouterConfig holds configuration for the tenant router.
type RouterConfig struct {
	// HandleCacheSize bounds the namespace handle cache. Eviction is safe:
	// the next access re-provisions idempotently.
	HandleCacheSize int
}

// DefaultRouterConfig returns sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{HandleCacheSize: 512}
}

// Router hands out per-tenant graph handles, provisioning namespaces on
// first use. Provisioning is single-flight per namespace: concurrent callers
// for the same tenant trigger at most one backend creation and losers await
// the winner.
type Router struct {
	backend Backend
	reg     *schema.Registry
	auditor AdminAuditor
	handles *lru.Cache[string, *Graph]
	flight  singleflight.Group
	logger  *zap.Logger
}

// NewRouter creates a tenant router. The auditor is mandatory so no
// default-graph escape hatch can exist unobserved.
func NewRouter(backend Backend, reg *schema.Registry, auditor AdminAuditor, cfg RouterConfig, logger *zap.Logger) (*Router, error) {
	if backend == nil {
		return nil, fmt.Errorf("tenant: backend is required")
	}
	if reg == nil || !reg.IsValid() {
		return nil, fmt.Errorf("tenant: valid schema registry is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("tenant: admin auditor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandleCacheSize <= 0 {
		cfg.HandleCacheSize = DefaultRouterConfig().HandleCacheSize
	}

	handles, err := lru.New[string, *Graph](cfg.HandleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tenant: handle cache: %w", err)
	}
	return &Router{
		backend: backend,
		reg:     reg,
		auditor: auditor,
		handles: handles,
		logger:  logger.Named("tenant"),
	}, nil
}

// GraphFor returns the handle for the tenant's namespace, creating the
// namespace and its indexes on first use.
func (r *Router) GraphFor(ctx context.Context, tctx Context) (*Graph, error) {
	ns, err := NamespaceFor(tctx.OrgSlug, tctx.OrgID)
	if err != nil {
		return nil, err
	}
	return r.graphByName(ctx, ns)
}

// DefaultGraph returns the shared admin namespace. Every call is recorded
// through the audit sink before a handle is handed out; tenant-scoped
// operations never take this path.
func (r *Router) DefaultGraph(ctx context.Context, actor, reason string) (*Graph, error) {
	r.auditor.RecordAdminAccess(ctx, actor, DefaultNamespace, reason)
	r.logger.Warn("Default graph access",
		zap.String("actor", actor),
		zap.String("reason", reason))
	return r.graphByName(ctx, DefaultNamespace)
}

func (r *Router) graphByName(ctx context.Context, ns string) (*Graph, error) {
	if g, ok := r.handles.Get(ns); ok {
		return g, nil
	}

	v, err, _ := r.flight.Do(ns, func() (any, error) {
		if g, ok := r.handles.Get(ns); ok {
			return g, nil
		}
		if err := r.backend.EnsureIndexes(ctx, ns, r.indexSpecs()); err != nil {
			return nil, fmt.Errorf("tenant: provision namespace %q: %w", ns, err)
		}
		g := &Graph{name: ns, backend: r.backend}
		r.handles.Add(ns, g)
		r.logger.Info("Tenant namespace ready", zap.String("namespace", ns))
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

// indexSpecs derives per-label index specs from the registry.
func (r *Router) indexSpecs() []graph.IndexSpec {
	labels := r.reg.NodeLabels()
	specs := make([]graph.IndexSpec, 0, len(labels))
	for _, label := range labels {
		specs = append(specs, graph.IndexSpec{
			Label:  label,
			Fields: r.reg.IndexedFields(label),
		})
	}
	return specs
}

// Namespaces returns the currently cached namespace names, for diagnostics.
func (r *Router) Namespaces() []string {
	return r.handles.Keys()
}

// Graph is a handle on one physical namespace. It satisfies the executor
// surface the expression builders run against.
type Graph struct {
	name    string
	backend Backend
}

// Name returns the physical namespace name.
func (g *Graph) Name() string { return g.name }

// Query runs a read-only expression against this namespace.
func (g *Graph) Query(ctx context.Context, expr string, params map[string]any) ([]graph.Row, error) {
	res, err := g.backend.Query(ctx, g.name, expr, params)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Write runs a mutating expression against this namespace.
func (g *Graph) Write(ctx context.Context, expr string, params map[string]any) (*graph.Result, error) {
	return g.backend.Write(ctx, g.name, expr, params)
}
