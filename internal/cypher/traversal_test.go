package cypher

import (
	"context"
	"strings"
	"testing"

	"github.com/engram-labs/engram/internal/graph"
)

func TestTraversalSingleHop(t *testing.T) {
	expr, params, err := From("Session", map[string]any{"id": "s1"}).
		Via([]string{"HAS_TURN"}, ViaOpts{}).
		To("Turn", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n1:Session)-[e1:HAS_TURN]->(n2:Turn) WHERE n1.id = $p1 RETURN n1, n2"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if params["p1"] != "s1" {
		t.Errorf("params = %v", params)
	}
}

func TestTraversalDirections(t *testing.T) {
	cases := []struct {
		dir  Direction
		want string
	}{
		{Out, "(n1:Memory)-[e1:REPLACES]->(n2:Memory)"},
		{In, "(n1:Memory)<-[e1:REPLACES]-(n2:Memory)"},
		{Any, "(n1:Memory)-[e1:REPLACES]-(n2:Memory)"},
	}
	for _, tc := range cases {
		expr, _, err := From("Memory", nil).
			Via([]string{"REPLACES"}, ViaOpts{Direction: tc.dir}).
			To("Memory", nil).
			Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if !strings.Contains(expr, tc.want) {
			t.Errorf("dir %v: expr = %q, want pattern %q", tc.dir, expr, tc.want)
		}
	}
}

func TestTraversalMultipleEdgeTypes(t *testing.T) {
	expr, _, err := From("Turn", nil).
		Via([]string{"MENTIONS", "RELATED_TO"}, ViaOpts{}).
		To("Entity", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(expr, "-[e1:MENTIONS|RELATED_TO]->") {
		t.Errorf("expr = %q", expr)
	}
}

func TestTraversalHopsRange(t *testing.T) {
	expr, _, err := From("Memory", nil).
		Via([]string{"REPLACES"}, ViaOpts{MinHops: 1, MaxHops: 3}).
		To("Memory", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(expr, "[e1:REPLACES*1..3]") {
		t.Errorf("expr = %q, want *1..3 pattern", expr)
	}
}

func TestTraversalHopsExactCollapses(t *testing.T) {
	expr, _, err := From("Memory", nil).
		Via([]string{"REPLACES"}, ViaOpts{}).
		Hops(2, 2).
		To("Memory", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(expr, "[e1:REPLACES*2]") {
		t.Errorf("expr = %q, want *2 pattern", expr)
	}
}

func TestTraversalWhereEdge(t *testing.T) {
	expr, params, err := From("Turn", nil).
		Via([]string{"MENTIONS"}, ViaOpts{}).
		WhereEdge("confidence", ">=", 0.8).
		To("Entity", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(expr, "e1.confidence >= $p1") {
		t.Errorf("expr = %q", expr)
	}
	if params["p1"] != 0.8 {
		t.Errorf("params = %v", params)
	}
}

func TestTraversalWhereEdgeVariableLength(t *testing.T) {
	expr, _, err := From("Memory", nil).
		Via([]string{"REPLACES"}, ViaOpts{MinHops: 1, MaxHops: 5}).
		WhereEdge("tt_start", ">", int64(100)).
		To("Memory", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(expr, "all(x IN e1 WHERE x.tt_start > $p1)") {
		t.Errorf("expr = %q, want all() quantifier", expr)
	}
}

func TestTraversalWhereCurrentCoversEveryAlias(t *testing.T) {
	expr, params, err := From("Session", nil).
		Via([]string{"HAS_TURN"}, ViaOpts{}).
		To("Turn", nil).
		WhereCurrent().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n1:Session)-[e1:HAS_TURN]->(n2:Turn)" +
		" WHERE n1.tt_end = $p1 AND e1.tt_end = $p1 AND n2.tt_end = $p1" +
		" RETURN n1, n2"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if len(params) != 1 {
		t.Errorf("params = %v, want single shared sentinel", params)
	}
}

func TestTraversalAsOfVariableLengthEdges(t *testing.T) {
	expr, _, err := From("Memory", nil).
		Via([]string{"REPLACES"}, ViaOpts{MinHops: 1, MaxHops: 3}).
		To("Memory", nil).
		AsOf(500, AsOfOpts{ValidTime: true}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, frag := range []string{
		"n1.vt_start <= $p1 AND n1.vt_end > $p1",
		"all(x IN e1 WHERE x.vt_start <= $p1 AND x.vt_end > $p1)",
		"n2.vt_start <= $p1 AND n2.vt_end > $p1",
	} {
		if !strings.Contains(expr, frag) {
			t.Errorf("expr = %q missing %q", expr, frag)
		}
	}
}

func TestTraversalModifierOrderIndependent(t *testing.T) {
	early, _, err := From("Session", nil).
		WhereCurrent().
		Via([]string{"HAS_TURN"}, ViaOpts{}).
		To("Turn", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	late, _, err := From("Session", nil).
		Via([]string{"HAS_TURN"}, ViaOpts{}).
		To("Turn", nil).
		WhereCurrent().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if early != late {
		t.Errorf("modifier position changed emission:\n%q\n%q", early, late)
	}
}

func TestTraversalReturningDistinct(t *testing.T) {
	expr, _, err := From("Turn", nil).
		Via([]string{"MENTIONS"}, ViaOpts{}).
		To("Entity", nil).
		Returning("n2.name").
		Distinct().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasSuffix(expr, "RETURN DISTINCT n2.name") {
		t.Errorf("expr = %q", expr)
	}
}

func TestTraversalUnlabeledTarget(t *testing.T) {
	expr, _, err := From("Turn", nil).
		Via(nil, ViaOpts{}).
		To("", nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(expr, "(n1:Turn)-[e1]->(n2)") {
		t.Errorf("expr = %q", expr)
	}
}

func TestTraversalStructureErrors(t *testing.T) {
	cases := map[string]*Traversal{
		"via after via":   From("A1", nil).Via(nil, ViaOpts{}).Via(nil, ViaOpts{}),
		"to without via":  From("A1", nil).To("B1", nil),
		"hops before via": From("A1", nil).Hops(1, 2),
		"bad hops":        From("A1", nil).Via(nil, ViaOpts{}).Hops(3, 1),
		"edge cond early": From("A1", nil).WhereEdge("f", "=", 1),
		"bad edge type":   From("A1", nil).Via([]string{"BAD TYPE"}, ViaOpts{}),
	}
	for name, tr := range cases {
		if _, _, err := tr.Build(); err == nil {
			t.Errorf("%s: Build succeeded, want error", name)
		}
	}
	if _, _, err := From("A1", nil).Build(); err == nil {
		t.Error("single-node traversal built without error")
	}
}

func TestTraversalFirstAppendsLimit(t *testing.T) {
	ex := &fakeExecutor{rows: []graph.Row{{"n1": "x"}}}
	row, err := From("Session", nil).
		Via([]string{"HAS_TURN"}, ViaOpts{}).
		To("Turn", nil).
		First(context.Background(), ex)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if row == nil {
		t.Fatal("row = nil")
	}
	if !strings.HasSuffix(ex.expr, " LIMIT 1") {
		t.Errorf("expr = %q, want trailing LIMIT 1", ex.expr)
	}
}
