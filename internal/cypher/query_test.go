package cypher

import (
	"context"
	"reflect"
	"testing"

	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/temporal"
)

// fakeExecutor records the last expression it received and replies with
// canned rows.
type fakeExecutor struct {
	expr   string
	params map[string]any
	rows   []graph.Row
	err    error
}

func (f *fakeExecutor) Query(_ context.Context, expr string, params map[string]any) ([]graph.Row, error) {
	f.expr = expr
	f.params = params
	return f.rows, f.err
}

func TestQueryWhereSortsKeys(t *testing.T) {
	expr, params, err := Q("Memory").
		Where(map[string]any{"type": "decision", "project": "atlas"}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE n.project = $p1 AND n.type = $p2 RETURN n"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if params["p1"] != "atlas" || params["p2"] != "decision" {
		t.Errorf("params = %v", params)
	}
}

func TestQueryAsOfBindsOneParamPerAxisPair(t *testing.T) {
	expr, params, err := Q("Memory").AsOf(1700000000000, AsOfOpts{}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE n.vt_start <= $p1 AND n.vt_end > $p1" +
		" AND n.tt_start <= $p1 AND n.tt_end > $p1 RETURN n"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if len(params) != 1 || params["p1"] != int64(1700000000000) {
		t.Errorf("params = %v, want single p1", params)
	}
}

func TestQueryAsOfSingleAxis(t *testing.T) {
	expr, _, err := Q("Memory").AsOf(42, AsOfOpts{ValidTime: true}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE n.vt_start <= $p1 AND n.vt_end > $p1 RETURN n"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
}

func TestQueryCurrentAndValidShortCircuits(t *testing.T) {
	expr, params, err := Q("Memory").WhereCurrent().WhereValid().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE n.tt_end = $p1 AND n.vt_end = $p2 RETURN n"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if params["p1"] != temporal.MaxDate || params["p2"] != temporal.MaxDate {
		t.Errorf("params = %v, want MAX_DATE sentinels", params)
	}
}

func TestQueryOrderSkipLimit(t *testing.T) {
	expr, _, err := Q("Memory").
		WhereCurrent().
		OrderBy("vt_start", Desc).
		Offset(10).
		Limit(5).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE n.tt_end = $p1 RETURN n ORDER BY n.vt_start DESC SKIP 10 LIMIT 5"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
}

func TestQueryWhereIn(t *testing.T) {
	expr, params, err := Q("Memory").
		WhereIn("type", []any{"decision", "insight"}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE n.type IN $p1 RETURN n"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if !reflect.DeepEqual(params["p1"], []any{"decision", "insight"}) {
		t.Errorf("params = %v", params)
	}
}

func TestQueryWhereContainsFold(t *testing.T) {
	expr, params, err := Q("Memory").WhereContainsFold("content", "Redis").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE toLower(n.content) CONTAINS toLower($p1) RETURN n"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if params["p1"] != "Redis" {
		t.Errorf("params = %v", params)
	}
}

func TestQueryValuesNeverInline(t *testing.T) {
	malicious := "x'}) DETACH DELETE (n) //"
	expr, params, err := Q("Memory").Where(map[string]any{"project": malicious}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Memory) WHERE n.project = $p1 RETURN n"
	if expr != want {
		t.Errorf("value leaked into expression: %q", expr)
	}
	if params["p1"] != malicious {
		t.Errorf("params = %v", params)
	}
}

func TestQueryDeterministic(t *testing.T) {
	build := func() (string, map[string]any) {
		expr, params, err := Q("Memory").
			Where(map[string]any{"org_id": "org_1", "type": "fact"}).
			WhereCurrent().
			OrderBy("vt_start", Desc).
			Limit(5).
			Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return expr, params
	}
	e1, p1 := build()
	e2, p2 := build()
	if e1 != e2 {
		t.Errorf("expressions differ:\n%q\n%q", e1, e2)
	}
	if !reflect.DeepEqual(p1, p2) {
		t.Errorf("params differ: %v vs %v", p1, p2)
	}
}

func TestQueryApplyPredicate(t *testing.T) {
	p, err := temporal.LiveAt(123)
	if err != nil {
		t.Fatalf("LiveAt: %v", err)
	}
	expr, _, err := Q("Session").Apply(p).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "MATCH (n:Session) WHERE n.vt_start <= $p1 AND n.vt_end > $p1" +
		" AND n.tt_start <= $p1 AND n.tt_end > $p1 RETURN n"
	if expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
}

func TestQueryRejectsBadInput(t *testing.T) {
	cases := map[string]*Query{
		"bad label":       Q("Memory; DROP"),
		"bad field":       Q("Memory").Where(map[string]any{"a b": 1}),
		"bad op":          Q("Memory").WhereOp("type", "LIKE", "x"),
		"negative limit":  Q("Memory").Limit(-1),
		"negative offset": Q("Memory").Offset(-2),
		"bad order":       Q("Memory").OrderBy("vt_start", Order("SIDEWAYS")),
	}
	for name, q := range cases {
		if _, _, err := q.Build(); err == nil {
			t.Errorf("%s: Build succeeded, want error", name)
		}
	}
}

func TestQueryFirstLimitsToOne(t *testing.T) {
	ex := &fakeExecutor{rows: []graph.Row{{"n": "a"}, {"n": "b"}}}
	row, err := Q("Memory").WhereCurrent().First(context.Background(), ex)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if row["n"] != "a" {
		t.Errorf("row = %v", row)
	}
	want := "MATCH (n:Memory) WHERE n.tt_end = $p1 RETURN n LIMIT 1"
	if ex.expr != want {
		t.Errorf("expr = %q, want %q", ex.expr, want)
	}
}

func TestQueryFirstEmpty(t *testing.T) {
	ex := &fakeExecutor{}
	row, err := Q("Memory").First(context.Background(), ex)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if row != nil {
		t.Errorf("row = %v, want nil", row)
	}
}

func TestQueryCount(t *testing.T) {
	ex := &fakeExecutor{rows: []graph.Row{{"count": int64(7)}}}
	n, err := Q("Memory").WhereCurrent().Limit(5).Count(context.Background(), ex)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 7 {
		t.Errorf("Count = %d, want 7", n)
	}
	want := "MATCH (n:Memory) WHERE n.tt_end = $p1 RETURN count(n) AS count"
	if ex.expr != want {
		t.Errorf("expr = %q, want %q", ex.expr, want)
	}
}

func TestQueryExists(t *testing.T) {
	ex := &fakeExecutor{rows: []graph.Row{{"count": int64(0)}}}
	ok, err := Q("Memory").Exists(context.Background(), ex)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists = true for zero count")
	}
}
