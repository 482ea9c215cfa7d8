// Package cypher builds and validates parameterized, read-only graph path
// expressions. The node builder (Q) and traversal builder (From) emit
// deterministic openCypher text in which every value is bound to a numbered
// $p<i> parameter; the validator gates user-submitted expressions behind an
// allow/deny keyword policy and the schema catalogue.
package cypher

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/engram-labs/engram/internal/graph"
)

// Direction of an edge step in a traversal.
type Direction int

const (
	// Out follows edges from source to target. Unset directions default here.
	Out Direction = iota
	// In follows edges from target to source.
	In
	// Any ignores edge direction.
	Any
)

// Order direction for OrderBy.
type Order string

const (
	Asc  Order = "ASC"
	Desc Order = "DESC"
)

// Executor runs a finished expression against one tenant graph. Implemented
// by tenant.Graph and by test fakes.
type Executor interface {
	Query(ctx context.Context, expr string, params map[string]any) ([]graph.Row, error)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent guards every label, edge type and field name that is
// interpolated into expression text. Values never take this path.
func validIdent(s string) bool {
	return identRe.MatchString(s)
}

var compareOps = map[string]struct{}{
	"=": {}, "<>": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
}

// binder allocates the numbered parameters of one expression. Parameters are
// numbered in bind order, which makes emission deterministic for identical
// call chains.
type binder struct {
	values map[string]any
	n      int
}

func newBinder() *binder {
	return &binder{values: make(map[string]any)}
}

// bind stores v and returns its placeholder, e.g. "$p3".
func (b *binder) bind(v any) string {
	b.n++
	name := fmt.Sprintf("p%d", b.n)
	b.values[name] = v
	return "$" + name
}

// sortedKeys returns the keys of a condition map in stable order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
