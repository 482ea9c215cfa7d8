package cypher

import (
	"context"
	"fmt"

	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/temporal"
)

// Query builds a single-label node expression. The node is always aliased n.
// Methods append conditions in call order; the first error sticks and is
// surfaced by Build or any terminal.
type Query struct {
	label  string
	b      *binder
	conds  []string
	orders []string
	limit  int
	offset int
	rets   []string
	err    error
}

// AsOfOpts selects the time axes an AsOf predicate applies to. The zero
// value applies to both.
type AsOfOpts struct {
	ValidTime       bool
	TransactionTime bool
}

// Q starts a node query over the given label.
func Q(label string) *Query {
	q := &Query{label: label, b: newBinder(), limit: -1, offset: -1}
	if !validIdent(label) {
		q.err = fmt.Errorf("cypher: invalid label %q", label)
	}
	return q
}

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

func (q *Query) field(name string) (string, bool) {
	if !validIdent(name) {
		q.fail(fmt.Errorf("cypher: invalid field %q", name))
		return "", false
	}
	return "n." + name, true
}

// Where AND-joins equality predicates, one per map entry. Map keys are
// visited in sorted order so identical maps emit identical text.
func (q *Query) Where(conds map[string]any) *Query {
	for _, k := range sortedKeys(conds) {
		f, ok := q.field(k)
		if !ok {
			return q
		}
		q.conds = append(q.conds, fmt.Sprintf("%s = %s", f, q.b.bind(conds[k])))
	}
	return q
}

// WhereOp appends a single comparison predicate. op is one of
// = <> < <= > >=.
func (q *Query) WhereOp(field, op string, value any) *Query {
	f, ok := q.field(field)
	if !ok {
		return q
	}
	if _, ok := compareOps[op]; !ok {
		return q.fail(fmt.Errorf("cypher: unsupported operator %q", op))
	}
	q.conds = append(q.conds, fmt.Sprintf("%s %s %s", f, op, q.b.bind(value)))
	return q
}

// WhereIn appends a membership predicate over a bound list parameter.
func (q *Query) WhereIn(field string, values []any) *Query {
	f, ok := q.field(field)
	if !ok {
		return q
	}
	q.conds = append(q.conds, fmt.Sprintf("%s IN %s", f, q.b.bind(values)))
	return q
}

// WhereContainsFold appends a case-insensitive substring predicate.
func (q *Query) WhereContainsFold(field string, value string) *Query {
	f, ok := q.field(field)
	if !ok {
		return q
	}
	q.conds = append(q.conds, fmt.Sprintf("toLower(%s) CONTAINS toLower(%s)", f, q.b.bind(value)))
	return q
}

// AsOf restricts matches to rows whose selected intervals contain instant t:
// start <= t and end > t per axis.
func (q *Query) AsOf(t int64, opts AsOfOpts) *Query {
	vt, tt := opts.ValidTime, opts.TransactionTime
	if !vt && !tt {
		vt, tt = true, true
	}
	p := q.b.bind(t)
	if vt {
		q.conds = append(q.conds, fmt.Sprintf("n.vt_start <= %s AND n.vt_end > %s", p, p))
	}
	if tt {
		q.conds = append(q.conds, fmt.Sprintf("n.tt_start <= %s AND n.tt_end > %s", p, p))
	}
	return q
}

// WhereCurrent keeps only currently recorded rows (tt_end still open).
func (q *Query) WhereCurrent() *Query {
	q.conds = append(q.conds, fmt.Sprintf("n.tt_end = %s", q.b.bind(temporal.MaxDate)))
	return q
}

// WhereValid keeps only currently valid rows (vt_end still open).
func (q *Query) WhereValid() *Query {
	q.conds = append(q.conds, fmt.Sprintf("n.vt_end = %s", q.b.bind(temporal.MaxDate)))
	return q
}

// Apply expands a bitemporal predicate from the temporal package.
func (q *Query) Apply(p temporal.Predicate) *Query {
	switch p.Kind {
	case temporal.KindCurrent:
		bound := q.b.bind(temporal.MaxDate)
		if p.ValidTime {
			q.conds = append(q.conds, fmt.Sprintf("n.vt_end = %s", bound))
		}
		if p.TransactionTime {
			q.conds = append(q.conds, fmt.Sprintf("n.tt_end = %s", bound))
		}
	case temporal.KindLiveAt:
		bound := q.b.bind(p.At)
		if p.ValidTime {
			q.conds = append(q.conds, fmt.Sprintf("n.vt_start <= %s AND n.vt_end > %s", bound, bound))
		}
		if p.TransactionTime {
			q.conds = append(q.conds, fmt.Sprintf("n.tt_start <= %s AND n.tt_end > %s", bound, bound))
		}
	case temporal.KindOver:
		if p.ValidTime {
			to := q.b.bind(p.To)
			from := q.b.bind(p.From)
			q.conds = append(q.conds, fmt.Sprintf("n.vt_start <= %s AND n.vt_end > %s", to, from))
		}
	}
	return q
}

// OrderBy appends a sort key. Ordering a bitemporal query by vt_start DESC is
// the canonical newest-first order.
func (q *Query) OrderBy(field string, dir Order) *Query {
	f, ok := q.field(field)
	if !ok {
		return q
	}
	if dir != Asc && dir != Desc {
		return q.fail(fmt.Errorf("cypher: invalid order %q", dir))
	}
	q.orders = append(q.orders, fmt.Sprintf("%s %s", f, dir))
	return q
}

// Limit caps the result count. Counts are structural, validated and inlined;
// they are not user literals.
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		return q.fail(fmt.Errorf("cypher: negative limit %d", n))
	}
	q.limit = n
	return q
}

// Offset skips the first n matches.
func (q *Query) Offset(n int) *Query {
	if n < 0 {
		return q.fail(fmt.Errorf("cypher: negative offset %d", n))
	}
	q.offset = n
	return q
}

// Returning selects the projection; default is the whole node.
func (q *Query) Returning(exprs ...string) *Query {
	q.rets = append(q.rets, exprs...)
	return q
}

// Build renders the expression and its parameter map.
func (q *Query) Build() (string, map[string]any, error) {
	return q.build(q.limit, false)
}

func (q *Query) build(limit int, count bool) (string, map[string]any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	expr := fmt.Sprintf("MATCH (n:%s)", q.label)
	for i, c := range q.conds {
		if i == 0 {
			expr += " WHERE " + c
		} else {
			expr += " AND " + c
		}
	}
	switch {
	case count:
		expr += " RETURN count(n) AS count"
	case len(q.rets) > 0:
		expr += " RETURN " + joinComma(q.rets)
	default:
		expr += " RETURN n"
	}
	if !count {
		for i, o := range q.orders {
			if i == 0 {
				expr += " ORDER BY " + o
			} else {
				expr += ", " + o
			}
		}
		if q.offset >= 0 {
			expr += fmt.Sprintf(" SKIP %d", q.offset)
		}
		if limit >= 0 {
			expr += fmt.Sprintf(" LIMIT %d", limit)
		}
	}
	return expr, q.b.values, nil
}

func joinComma(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += ", "
		}
		out += x
	}
	return out
}

// Execute runs the expression and returns all matching rows.
func (q *Query) Execute(ctx context.Context, ex Executor) ([]graph.Row, error) {
	expr, params, err := q.Build()
	if err != nil {
		return nil, err
	}
	return ex.Query(ctx, expr, params)
}

// First returns the first match or nil when there is none.
func (q *Query) First(ctx context.Context, ex Executor) (graph.Row, error) {
	expr, params, err := q.build(1, false)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, expr, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count returns the number of matches, ignoring any limit or offset.
func (q *Query) Count(ctx context.Context, ex Executor) (int64, error) {
	expr, params, err := q.build(-1, true)
	if err != nil {
		return 0, err
	}
	rows, err := ex.Query(ctx, expr, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return graph.Int64(rows[0]["count"]), nil
}

// Exists reports whether at least one row matches.
func (q *Query) Exists(ctx context.Context, ex Executor) (bool, error) {
	n, err := q.Count(ctx, ex)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
