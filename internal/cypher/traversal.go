package cypher

import (
	"context"
	"fmt"
	"strings"

	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/temporal"
)

// Traversal builds a multi-hop path expression. Node aliases are n1, n2, …
// and edge aliases e1, e2, … in pattern order. Bitemporal modifiers recorded
// on the chain expand over every alias in the finished path, so they may be
// applied at any point in the chain.
type Traversal struct {
	b        *binder
	nodes    []travNode
	edges    []travEdge
	conds    []string
	temporal []travMod
	rets     []string
	distinct bool
	err      error
}

type travNode struct {
	label string
}

type travEdge struct {
	types   []string
	dir     Direction
	hasHops bool
	minHops int
	maxHops int
}

// travMod is a deferred bitemporal condition. The parameter is bound when the
// modifier is recorded so numbering follows call order; the per-alias
// fragments render at Build time.
type travMod struct {
	placeholder string
	current     bool
	validTime   bool
	txTime      bool
}

// ViaOpts configures one edge step.
type ViaOpts struct {
	Direction Direction
	MinHops   int
	MaxHops   int
}

// From starts a traversal at a node label with optional equality conditions.
func From(label string, cond map[string]any) *Traversal {
	t := &Traversal{b: newBinder()}
	if !validIdent(label) {
		t.err = fmt.Errorf("cypher: invalid label %q", label)
		return t
	}
	t.nodes = append(t.nodes, travNode{label: label})
	t.nodeCond(1, cond)
	return t
}

func (t *Traversal) fail(err error) *Traversal {
	if t.err == nil {
		t.err = err
	}
	return t
}

func (t *Traversal) nodeCond(nodeIdx int, cond map[string]any) {
	alias := fmt.Sprintf("n%d", nodeIdx)
	for _, k := range sortedKeys(cond) {
		if !validIdent(k) {
			t.fail(fmt.Errorf("cypher: invalid field %q", k))
			return
		}
		t.conds = append(t.conds, fmt.Sprintf("%s.%s = %s", alias, k, t.b.bind(cond[k])))
	}
}

// Via appends an edge step. An empty type list matches any edge type. A zero
// Direction follows outgoing edges.
func (t *Traversal) Via(edgeTypes []string, opts ViaOpts) *Traversal {
	if t.err != nil {
		return t
	}
	if len(t.nodes) != len(t.edges)+1 {
		return t.fail(fmt.Errorf("cypher: Via must follow From or To"))
	}
	for _, et := range edgeTypes {
		if !validIdent(et) {
			return t.fail(fmt.Errorf("cypher: invalid edge type %q", et))
		}
	}
	e := travEdge{types: edgeTypes, dir: opts.Direction}
	if opts.MinHops > 0 || opts.MaxHops > 0 {
		if err := checkHops(opts.MinHops, opts.MaxHops); err != nil {
			return t.fail(err)
		}
		e.hasHops, e.minHops, e.maxHops = true, opts.MinHops, opts.MaxHops
	}
	t.edges = append(t.edges, e)
	return t
}

// Hops sets a path-length range on the most recent edge step. min == max
// collapses to an exact-length pattern.
func (t *Traversal) Hops(min, max int) *Traversal {
	if t.err != nil {
		return t
	}
	if len(t.edges) == 0 {
		return t.fail(fmt.Errorf("cypher: Hops before any edge step"))
	}
	if err := checkHops(min, max); err != nil {
		return t.fail(err)
	}
	e := &t.edges[len(t.edges)-1]
	e.hasHops, e.minHops, e.maxHops = true, min, max
	return t
}

func checkHops(min, max int) error {
	if min < 1 || max < min {
		return fmt.Errorf("cypher: invalid hops range %d..%d", min, max)
	}
	return nil
}

// To closes the pending edge step with a target node. An empty label matches
// any node.
func (t *Traversal) To(label string, cond map[string]any) *Traversal {
	if t.err != nil {
		return t
	}
	if len(t.edges) != len(t.nodes) {
		return t.fail(fmt.Errorf("cypher: To must follow Via"))
	}
	if label != "" && !validIdent(label) {
		return t.fail(fmt.Errorf("cypher: invalid label %q", label))
	}
	t.nodes = append(t.nodes, travNode{label: label})
	t.nodeCond(len(t.nodes), cond)
	return t
}

// WhereEdge appends a comparison predicate on the most recent edge step. On
// variable-length steps the predicate applies to every relationship in the
// matched path segment.
func (t *Traversal) WhereEdge(field, op string, value any) *Traversal {
	if t.err != nil {
		return t
	}
	if len(t.edges) == 0 {
		return t.fail(fmt.Errorf("cypher: WhereEdge before any edge step"))
	}
	if !validIdent(field) {
		return t.fail(fmt.Errorf("cypher: invalid field %q", field))
	}
	if _, ok := compareOps[op]; !ok {
		return t.fail(fmt.Errorf("cypher: unsupported operator %q", op))
	}
	idx := len(t.edges)
	alias := fmt.Sprintf("e%d", idx)
	p := t.b.bind(value)
	if t.edges[idx-1].hasHops {
		t.conds = append(t.conds, fmt.Sprintf("all(x IN %s WHERE x.%s %s %s)", alias, field, op, p))
	} else {
		t.conds = append(t.conds, fmt.Sprintf("%s.%s %s %s", alias, field, op, p))
	}
	return t
}

// WhereCurrent keeps every node and edge on the path currently recorded.
func (t *Traversal) WhereCurrent() *Traversal {
	t.temporal = append(t.temporal, travMod{
		placeholder: t.b.bind(temporal.MaxDate),
		current:     true,
		txTime:      true,
	})
	return t
}

// WhereValid keeps every node and edge on the path currently valid.
func (t *Traversal) WhereValid() *Traversal {
	t.temporal = append(t.temporal, travMod{
		placeholder: t.b.bind(temporal.MaxDate),
		current:     true,
		validTime:   true,
	})
	return t
}

// AsOf restricts every node and edge on the path to intervals containing t.
func (t *Traversal) AsOf(at int64, opts AsOfOpts) *Traversal {
	vt, tx := opts.ValidTime, opts.TransactionTime
	if !vt && !tx {
		vt, tx = true, true
	}
	t.temporal = append(t.temporal, travMod{
		placeholder: t.b.bind(at),
		validTime:   vt,
		txTime:      tx,
	})
	return t
}

// Returning selects the projection; default is every node alias.
func (t *Traversal) Returning(exprs ...string) *Traversal {
	t.rets = append(t.rets, exprs...)
	return t
}

// Distinct deduplicates the projection.
func (t *Traversal) Distinct() *Traversal {
	t.distinct = true
	return t
}

// Build renders the expression and its parameter map.
func (t *Traversal) Build() (string, map[string]any, error) {
	if t.err != nil {
		return "", nil, t.err
	}
	if len(t.nodes) < 2 || len(t.edges) != len(t.nodes)-1 {
		return "", nil, fmt.Errorf("cypher: incomplete traversal (%d nodes, %d edges)", len(t.nodes), len(t.edges))
	}

	var pattern strings.Builder
	pattern.WriteString("MATCH ")
	for i, n := range t.nodes {
		if n.label != "" {
			fmt.Fprintf(&pattern, "(n%d:%s)", i+1, n.label)
		} else {
			fmt.Fprintf(&pattern, "(n%d)", i+1)
		}
		if i < len(t.edges) {
			pattern.WriteString(t.renderEdge(i))
		}
	}

	conds := make([]string, 0, len(t.conds)+len(t.temporal)*4)
	conds = append(conds, t.conds...)
	for _, mod := range t.temporal {
		conds = append(conds, t.renderTemporal(mod)...)
	}

	expr := pattern.String()
	for i, c := range conds {
		if i == 0 {
			expr += " WHERE " + c
		} else {
			expr += " AND " + c
		}
	}

	expr += " RETURN "
	if t.distinct {
		expr += "DISTINCT "
	}
	if len(t.rets) > 0 {
		expr += joinComma(t.rets)
	} else {
		aliases := make([]string, len(t.nodes))
		for i := range t.nodes {
			aliases[i] = fmt.Sprintf("n%d", i+1)
		}
		expr += joinComma(aliases)
	}
	return expr, t.b.values, nil
}

func (t *Traversal) renderEdge(i int) string {
	e := t.edges[i]
	inner := fmt.Sprintf("e%d", i+1)
	if len(e.types) > 0 {
		inner += ":" + strings.Join(e.types, "|")
	}
	if e.hasHops {
		if e.minHops == e.maxHops {
			inner += fmt.Sprintf("*%d", e.minHops)
		} else {
			inner += fmt.Sprintf("*%d..%d", e.minHops, e.maxHops)
		}
	}
	switch e.dir {
	case In:
		return fmt.Sprintf("<-[%s]-", inner)
	case Any:
		return fmt.Sprintf("-[%s]-", inner)
	default:
		return fmt.Sprintf("-[%s]->", inner)
	}
}

// renderTemporal expands one modifier over every alias in path order.
// Variable-length edges bind a list, so their conditions quantify with all().
func (t *Traversal) renderTemporal(mod travMod) []string {
	var out []string
	addAxis := func(expr func(prefix string) string, varLen bool, alias string) {
		if varLen {
			out = append(out, fmt.Sprintf("all(x IN %s WHERE %s)", alias, expr("x")))
		} else {
			out = append(out, expr(alias))
		}
	}
	render := func(alias string, varLen bool) {
		if mod.current {
			axis := "tt_end"
			if mod.validTime {
				axis = "vt_end"
			}
			addAxis(func(prefix string) string {
				return fmt.Sprintf("%s.%s = %s", prefix, axis, mod.placeholder)
			}, varLen, alias)
			return
		}
		if mod.validTime {
			addAxis(func(prefix string) string {
				return fmt.Sprintf("%s.vt_start <= %s AND %s.vt_end > %s", prefix, mod.placeholder, prefix, mod.placeholder)
			}, varLen, alias)
		}
		if mod.txTime {
			addAxis(func(prefix string) string {
				return fmt.Sprintf("%s.tt_start <= %s AND %s.tt_end > %s", prefix, mod.placeholder, prefix, mod.placeholder)
			}, varLen, alias)
		}
	}

	for i := range t.nodes {
		render(fmt.Sprintf("n%d", i+1), false)
		if i < len(t.edges) {
			render(fmt.Sprintf("e%d", i+1), t.edges[i].hasHops)
		}
	}
	return out
}

// Execute runs the traversal and returns all matching rows.
func (t *Traversal) Execute(ctx context.Context, ex Executor) ([]graph.Row, error) {
	expr, params, err := t.Build()
	if err != nil {
		return nil, err
	}
	return ex.Query(ctx, expr, params)
}

// First returns the first match or nil when there is none.
func (t *Traversal) First(ctx context.Context, ex Executor) (graph.Row, error) {
	expr, params, err := t.Build()
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, expr+" LIMIT 1", params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
