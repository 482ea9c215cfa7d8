package tenant

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/schema"
)

type fakeBackend struct {
	mu      sync.Mutex
	ensures map[string]int
	specs   map[string][]graph.IndexSpec
	queries []string
	writes  []string
	delay   time.Duration
	rows    []graph.Row
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		ensures: make(map[string]int),
		specs:   make(map[string][]graph.IndexSpec),
	}
}

func (f *fakeBackend) EnsureIndexes(ctx context.Context, graphName string, specs []graph.IndexSpec) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures[graphName]++
	f.specs[graphName] = specs
	return nil
}

func (f *fakeBackend) Query(ctx context.Context, graphName, expr string, params map[string]any) (*graph.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, graphName)
	return &graph.Result{Rows: f.rows}, nil
}

func (f *fakeBackend) Write(ctx context.Context, graphName, expr string, params map[string]any) (*graph.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, graphName)
	return &graph.Result{}, nil
}

func (f *fakeBackend) ensureCount(graphName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensures[graphName]
}

type adminRecord struct {
	actor     string
	namespace string
	reason    string
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []adminRecord
}

func (f *fakeAuditor) RecordAdminAccess(ctx context.Context, actor, namespace, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, adminRecord{actor: actor, namespace: namespace, reason: reason})
}

func mustRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default: %v", err)
	}
	return reg
}

func newTestRouter(t *testing.T, backend Backend, cfg RouterConfig) (*Router, *fakeAuditor) {
	t.Helper()
	auditor := &fakeAuditor{}
	r, err := NewRouter(backend, mustRegistry(t), auditor, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r, auditor
}

func TestNamespaceFor(t *testing.T) {
	ns, err := NamespaceFor("acme", "org_8f2k1")
	if err != nil {
		t.Fatalf("NamespaceFor: %v", err)
	}
	if ns != "engram_acme_org_8f2k1" {
		t.Errorf("namespace = %q, want engram_acme_org_8f2k1", ns)
	}

	bad := []struct {
		slug, id string
	}{
		{"", "org_1"},
		{"acme", ""},
		{"Acme", "org_1"},
		{"acme corp", "org_1"},
		{"acme", "org 1"},
		{"acme", "org';DROP"},
		{"-acme", "org_1"},
	}
	for _, tc := range bad {
		if _, err := NamespaceFor(tc.slug, tc.id); err == nil {
			t.Errorf("NamespaceFor(%q, %q): expected error", tc.slug, tc.id)
		}
	}
}

func TestGraphForProvisionsOnce(t *testing.T) {
	backend := newFakeBackend()
	backend.delay = 20 * time.Millisecond
	r, _ := newTestRouter(t, backend, RouterConfig{})

	tctx := Context{OrgID: "org1", OrgSlug: "acme"}

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles []*Graph
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			g, err := r.GraphFor(context.Background(), tctx)
			if err != nil {
				t.Errorf("GraphFor: %v", err)
				return
			}
			mu.Lock()
			handles = append(handles, g)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	if got := backend.ensureCount("engram_acme_org1"); got != 1 {
		t.Errorf("EnsureIndexes ran %d times, want 1", got)
	}
	if len(handles) != callers {
		t.Fatalf("got %d handles, want %d", len(handles), callers)
	}
	for _, g := range handles {
		if g != handles[0] {
			t.Error("concurrent callers received different handles")
		}
	}
}

func TestGraphForCachesHandle(t *testing.T) {
	backend := newFakeBackend()
	r, _ := newTestRouter(t, backend, RouterConfig{})
	tctx := Context{OrgID: "org1", OrgSlug: "acme"}

	g1, err := r.GraphFor(context.Background(), tctx)
	if err != nil {
		t.Fatalf("GraphFor: %v", err)
	}
	g2, err := r.GraphFor(context.Background(), tctx)
	if err != nil {
		t.Fatalf("GraphFor: %v", err)
	}
	if g1 != g2 {
		t.Error("second call returned a different handle")
	}
	if got := backend.ensureCount("engram_acme_org1"); got != 1 {
		t.Errorf("EnsureIndexes ran %d times, want 1", got)
	}
}

func TestGraphForIsolatesTenants(t *testing.T) {
	backend := newFakeBackend()
	r, _ := newTestRouter(t, backend, RouterConfig{})

	ga, err := r.GraphFor(context.Background(), Context{OrgID: "org1", OrgSlug: "acme"})
	if err != nil {
		t.Fatalf("GraphFor acme: %v", err)
	}
	gb, err := r.GraphFor(context.Background(), Context{OrgID: "org2", OrgSlug: "globex"})
	if err != nil {
		t.Fatalf("GraphFor globex: %v", err)
	}
	if ga.Name() == gb.Name() {
		t.Fatal("tenants share a namespace")
	}

	if _, err := ga.Query(context.Background(), "MATCH (n:Memory) RETURN n", nil); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, err := gb.Write(context.Background(), "MATCH (n:Memory) SET n.x = 1", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.queries) != 1 || backend.queries[0] != "engram_acme_org1" {
		t.Errorf("queries routed to %v, want [engram_acme_org1]", backend.queries)
	}
	if len(backend.writes) != 1 || backend.writes[0] != "engram_globex_org2" {
		t.Errorf("writes routed to %v, want [engram_globex_org2]", backend.writes)
	}
}

func TestGraphForReprovisionsAfterEviction(t *testing.T) {
	backend := newFakeBackend()
	r, _ := newTestRouter(t, backend, RouterConfig{HandleCacheSize: 1})

	a := Context{OrgID: "org1", OrgSlug: "acme"}
	b := Context{OrgID: "org2", OrgSlug: "globex"}

	for _, tctx := range []Context{a, b, a} {
		if _, err := r.GraphFor(context.Background(), tctx); err != nil {
			t.Fatalf("GraphFor: %v", err)
		}
	}

	// Provisioning is idempotent, so re-running it after eviction is safe.
	if got := backend.ensureCount("engram_acme_org1"); got != 2 {
		t.Errorf("EnsureIndexes for evicted namespace ran %d times, want 2", got)
	}
}

func TestGraphForRejectsInvalidContext(t *testing.T) {
	backend := newFakeBackend()
	r, _ := newTestRouter(t, backend, RouterConfig{})

	if _, err := r.GraphFor(context.Background(), Context{OrgID: "org1", OrgSlug: "Bad Slug"}); err == nil {
		t.Fatal("expected error for invalid slug")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.ensures) != 0 {
		t.Error("backend was touched for an invalid tenant")
	}
}

func TestIndexSpecsCoverEveryLabel(t *testing.T) {
	backend := newFakeBackend()
	r, _ := newTestRouter(t, backend, RouterConfig{})

	if _, err := r.GraphFor(context.Background(), Context{OrgID: "org1", OrgSlug: "acme"}); err != nil {
		t.Fatalf("GraphFor: %v", err)
	}

	backend.mu.Lock()
	specs := backend.specs["engram_acme_org1"]
	backend.mu.Unlock()

	labels := mustRegistry(t).NodeLabels()
	if len(specs) != len(labels) {
		t.Fatalf("got %d index specs, want %d", len(specs), len(labels))
	}
	var memory *graph.IndexSpec
	for i := range specs {
		if specs[i].Label == schema.LabelMemory {
			memory = &specs[i]
		}
	}
	if memory == nil {
		t.Fatal("no index spec for Memory")
	}
	joined := strings.Join(memory.Fields, ",")
	for _, f := range []string{"id", "tt_end", "vt_start", "content_hash"} {
		if !strings.Contains(joined, f) {
			t.Errorf("Memory index fields %q missing %q", joined, f)
		}
	}
}

func TestDefaultGraphIsAudited(t *testing.T) {
	backend := newFakeBackend()
	r, auditor := newTestRouter(t, backend, RouterConfig{})

	g, err := r.DefaultGraph(context.Background(), "ops@engram", "backfill replay")
	if err != nil {
		t.Fatalf("DefaultGraph: %v", err)
	}
	if g.Name() != DefaultNamespace {
		t.Errorf("name = %q, want %q", g.Name(), DefaultNamespace)
	}

	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	if len(auditor.records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(auditor.records))
	}
	rec := auditor.records[0]
	if rec.actor != "ops@engram" || rec.namespace != DefaultNamespace || rec.reason != "backfill replay" {
		t.Errorf("unexpected audit record %+v", rec)
	}
}

func TestNewRouterRequiresAuditor(t *testing.T) {
	if _, err := NewRouter(newFakeBackend(), mustRegistry(t), nil, RouterConfig{}, nil); err == nil {
		t.Fatal("expected error for nil auditor")
	}
}
