package cypher

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/engram-labs/engram/internal/schema"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default: %v", err)
	}
	v, err := NewValidator(reg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestValidatorAcceptsReadOnly(t *testing.T) {
	v := newTestValidator(t)
	exprs := []string{
		"MATCH (m:Memory) WHERE m.vt_end = $p1 RETURN m ORDER BY m.vt_start DESC LIMIT 10",
		"MATCH (s:Session)-[e:HAS_TURN]->(tn:Turn) RETURN s.id, tn.content",
		"OPTIONAL MATCH (m:Memory) RETURN m",
		"match (e:Entity) where e.name = $p1 return e",
		"UNWIND $p1 AS x RETURN x",
	}
	for _, expr := range exprs {
		if err := v.Validate(expr); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", expr, err)
		}
	}
}

func TestValidatorAllowsEveryLeadingKeyword(t *testing.T) {
	v := newTestValidator(t)
	for _, kw := range []string{
		"MATCH", "OPTIONAL MATCH", "WITH", "RETURN", "ORDER BY",
		"LIMIT", "SKIP", "WHERE", "UNWIND", "CALL",
	} {
		if err := v.Validate(kw); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", kw, err)
		}
	}
}

func TestValidatorRejectsEveryDenyKeyword(t *testing.T) {
	v := newTestValidator(t)
	for _, kw := range denyKeywords {
		expr := fmt.Sprintf("MATCH (n:Memory) %s (n)", kw)
		err := v.Validate(expr)
		var rov *ReadOnlyViolationError
		if !errors.As(err, &rov) {
			t.Errorf("Validate(%q) = %v, want ReadOnlyViolationError", expr, err)
			continue
		}
		if rov.Keyword != kw {
			t.Errorf("Validate(%q) reported %q, want %q", expr, rov.Keyword, kw)
		}
	}
}

func TestValidatorDenyIsCaseInsensitive(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("match (n:Memory) detach delete (n)")
	var rov *ReadOnlyViolationError
	if !errors.As(err, &rov) {
		t.Fatalf("err = %v, want ReadOnlyViolationError", err)
	}
	if rov.Keyword != "DETACH" {
		t.Errorf("keyword = %q, want DETACH", rov.Keyword)
	}
}

func TestValidatorDenyMatchesWordPrefix(t *testing.T) {
	// Pessimistic on purpose: created_at trips CREATE.
	v := newTestValidator(t)
	err := v.Validate("MATCH (n:Memory) WHERE n.created_at > $p1 RETURN n")
	var rov *ReadOnlyViolationError
	if !errors.As(err, &rov) {
		t.Fatalf("err = %v, want ReadOnlyViolationError", err)
	}
	if rov.Keyword != "CREATE" {
		t.Errorf("keyword = %q, want CREATE", rov.Keyword)
	}
}

func TestValidatorIgnoresParameterPlaceholders(t *testing.T) {
	v := newTestValidator(t)
	if err := v.Validate("MATCH (n:Memory) WHERE n.id = $delete_target RETURN n"); err != nil {
		t.Errorf("Validate = %v, want nil for deny word inside a placeholder", err)
	}
}

func TestValidatorRejectsBadLeadingKeyword(t *testing.T) {
	v := newTestValidator(t)
	cases := map[string]string{
		"CREATE (n:Memory)":                 "CREATE",
		"EXPLAIN MATCH (n:Memory) RETURN n": "EXPLAIN",
		"OPTIONAL RETURN 1":                 "OPTIONAL",
	}
	for expr, want := range cases {
		err := v.Validate(expr)
		var rov *ReadOnlyViolationError
		if !errors.As(err, &rov) {
			t.Errorf("Validate(%q) = %v, want ReadOnlyViolationError", expr, err)
			continue
		}
		if rov.Keyword != want {
			t.Errorf("Validate(%q) reported %q, want %q", expr, rov.Keyword, want)
		}
	}
}

func TestValidatorUnknownLabelSuggests(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("MATCH (m:Memori) RETURN m")
	var use *UnknownSymbolError
	if !errors.As(err, &use) {
		t.Fatalf("err = %v, want UnknownSymbolError", err)
	}
	if use.Symbol != "Memori" {
		t.Errorf("symbol = %q, want Memori", use.Symbol)
	}
	found := false
	for _, s := range use.Suggestions {
		if s == schema.LabelMemory {
			found = true
		}
	}
	if !found {
		t.Errorf("suggestions = %v, want Memory included", use.Suggestions)
	}
}

func TestValidatorUnknownEdgeTypeSuggests(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("MATCH (a:Memory)-[r:REPLACEZ]->(b:Memory) RETURN b")
	var use *UnknownSymbolError
	if !errors.As(err, &use) {
		t.Fatalf("err = %v, want UnknownSymbolError", err)
	}
	if use.Symbol != "REPLACEZ" {
		t.Errorf("symbol = %q", use.Symbol)
	}
	found := false
	for _, s := range use.Suggestions {
		if s == schema.EdgeReplaces {
			found = true
		}
	}
	if !found {
		t.Errorf("suggestions = %v, want REPLACES included", use.Suggestions)
	}
}

func TestValidatorEmptyExpression(t *testing.T) {
	v := newTestValidator(t)
	for _, expr := range []string{"", "   ", "\n\t"} {
		if err := v.Validate(expr); !errors.Is(err, ErrEmptyExpression) {
			t.Errorf("Validate(%q) = %v, want ErrEmptyExpression", expr, err)
		}
	}
}

func TestValidatorDoesNotRewrite(t *testing.T) {
	// Acceptance is binary; a valid expression passes through untouched,
	// so validating twice is stable.
	v := newTestValidator(t)
	expr := "MATCH (m:Memory) RETURN m"
	if err := v.Validate(expr); err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if err := v.Validate(expr); err != nil {
		t.Fatalf("second Validate: %v", err)
	}
}
