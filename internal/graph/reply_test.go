package graph

import (
	"reflect"
	"testing"
)

func TestParseResultStatsOnly(t *testing.T) {
	raw := []any{
		[]any{"Nodes created: 1", "Properties set: 5", "Query internal execution time: 0.2 ms"},
	}
	res, err := parseResult(raw)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if len(res.Rows) != 0 || len(res.Columns) != 0 {
		t.Errorf("stats-only reply produced rows: %+v", res)
	}
	if len(res.Stats) != 3 || res.Stats[0] != "Nodes created: 1" {
		t.Errorf("stats = %v", res.Stats)
	}
}

func TestParseResultScalarRows(t *testing.T) {
	raw := []any{
		[]any{"n.id", "n.access_count", "n.decay_score"},
		[]any{
			[]any{"01J0001", int64(3), "0.85"},
			[]any{"01J0002", int64(0), nil},
		},
		[]any{"Cached execution: 1"},
	}
	res, err := parseResult(raw)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if !reflect.DeepEqual(res.Columns, []string{"n.id", "n.access_count", "n.decay_score"}) {
		t.Errorf("columns = %v", res.Columns)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	if res.Rows[0]["n.id"] != "01J0001" {
		t.Errorf("row 0 id = %v", res.Rows[0]["n.id"])
	}
	if Int64(res.Rows[0]["n.access_count"]) != 3 {
		t.Errorf("row 0 access_count = %v", res.Rows[0]["n.access_count"])
	}
	if Float64(res.Rows[0]["n.decay_score"]) != 0.85 {
		t.Errorf("row 0 decay_score = %v", res.Rows[0]["n.decay_score"])
	}
	if res.Rows[1]["n.decay_score"] != nil {
		t.Errorf("row 1 decay_score = %v, want nil", res.Rows[1]["n.decay_score"])
	}
}

func TestParseResultNode(t *testing.T) {
	nodeRaw := []any{
		[]any{"id", int64(7)},
		[]any{"labels", []any{"Memory"}},
		[]any{"properties", []any{
			[]any{"content", "hello"},
			[]any{"vt_end", int64(253402300799000)},
			[]any{"pinned", "false"},
		}},
	}
	raw := []any{
		[]any{"n"},
		[]any{[]any{nodeRaw}},
		[]any{"Cached execution: 0"},
	}
	res, err := parseResult(raw)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	node, ok := AsNode(res.Rows[0]["n"])
	if !ok {
		t.Fatalf("cell type = %T, want Node", res.Rows[0]["n"])
	}
	if node.ID != 7 || len(node.Labels) != 1 || node.Labels[0] != "Memory" {
		t.Errorf("node = %+v", node)
	}
	if node.Props["content"] != "hello" {
		t.Errorf("props = %v", node.Props)
	}
	if Int64(node.Props["vt_end"]) != 253402300799000 {
		t.Errorf("vt_end = %v", node.Props["vt_end"])
	}
}

func TestParseResultRelationship(t *testing.T) {
	relRaw := []any{
		[]any{"id", int64(3)},
		[]any{"type", "REPLACES"},
		[]any{"src_node", int64(10)},
		[]any{"dest_node", int64(4)},
		[]any{"properties", []any{[]any{"tt_start", int64(1700000000000)}}},
	}
	raw := []any{
		[]any{"e"},
		[]any{[]any{relRaw}},
		[]any{},
	}
	res, err := parseResult(raw)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	rel, ok := AsRelationship(res.Rows[0]["e"])
	if !ok {
		t.Fatalf("cell type = %T, want Relationship", res.Rows[0]["e"])
	}
	if rel.Type != "REPLACES" || rel.Src != 10 || rel.Dst != 4 {
		t.Errorf("rel = %+v", rel)
	}
}

func TestParseResultCompactHeader(t *testing.T) {
	raw := []any{
		[]any{[]any{int64(1), "m.content"}},
		[]any{[]any{"x"}},
		[]any{},
	}
	res, err := parseResult(raw)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if len(res.Columns) != 1 || res.Columns[0] != "m.content" {
		t.Errorf("columns = %v", res.Columns)
	}
	if res.Rows[0]["m.content"] != "x" {
		t.Errorf("rows = %v", res.Rows)
	}
}

func TestParseResultPlainListStaysList(t *testing.T) {
	raw := []any{
		[]any{"tags"},
		[]any{[]any{[]any{"go", "redis"}}},
		[]any{},
	}
	res, err := parseResult(raw)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	got, ok := res.Rows[0]["tags"].([]any)
	if !ok {
		t.Fatalf("cell type = %T, want []any", res.Rows[0]["tags"])
	}
	if !reflect.DeepEqual(got, []any{"go", "redis"}) {
		t.Errorf("tags = %v", got)
	}
}

func TestParseResultRejectsMalformed(t *testing.T) {
	for name, raw := range map[string]any{
		"not a slice": "OK",
		"two parts":   []any{[]any{}, []any{}},
		"bad header":  []any{[]any{int64(1)}, []any{}, []any{}},
	} {
		if _, err := parseResult(raw); err == nil {
			t.Errorf("%s: parseResult succeeded, want error", name)
		}
	}
}

func TestCoercionHelpers(t *testing.T) {
	if Int64("42") != 42 || Int64("3.9") != 3 || Int64(int64(5)) != 5 || Int64(nil) != 0 {
		t.Error("Int64 coercion broken")
	}
	if Float64("0.5") != 0.5 || Float64(int64(2)) != 2 {
		t.Error("Float64 coercion broken")
	}
	if !Bool("true") || Bool("false") || !Bool(int64(1)) {
		t.Error("Bool coercion broken")
	}
	if String(int64(9)) != "9" || String(nil) != "" {
		t.Error("String coercion broken")
	}
	got := Strings([]any{"a", int64(1)})
	if !reflect.DeepEqual(got, []string{"a", "1"}) {
		t.Errorf("Strings = %v", got)
	}
}

func TestIsTimeout(t *testing.T) {
	if IsTimeout(nil) {
		t.Error("nil is not a timeout")
	}
	if !IsTimeout(errFromMsg("Query timed out")) {
		t.Error("backend kill not detected")
	}
	if IsTimeout(errFromMsg("syntax error")) {
		t.Error("syntax error misclassified")
	}
}

type errFromMsg string

func (e errFromMsg) Error() string { return string(e) }
