// Package schema holds the declarative node/edge catalogue for the engram
// graph. A Registry is constructed once at startup, validated in the same
// step, and is thereafter read-only and safe to share without locks.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType enumerates the storable field kinds.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldInt       FieldType = "int"
	FieldFloat     FieldType = "float"
	FieldBool      FieldType = "bool"
	FieldTimestamp FieldType = "timestamp" // int64 epoch milliseconds
	FieldEnum      FieldType = "enum"
	FieldArray     FieldType = "array"
)

// Field describes one node or edge property.
type Field struct {
	Type      FieldType `json:"type"`
	Optional  bool      `json:"optional,omitempty"`
	Default   any       `json:"default,omitempty"`
	Enum      []string  `json:"enum,omitempty"`
	Elem      FieldType `json:"elem,omitempty"` // element type for arrays
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	MaxLength int       `json:"max_length,omitempty"`
}

// Cardinality of an edge, stated from -> to.
type Cardinality string

const (
	OneToOne   Cardinality = "1:1"
	OneToMany  Cardinality = "1:N"
	ManyToMany Cardinality = "M:N"
)

// NodeDef declares a node label and its fields. The four bitemporal fields,
// id and org_id are implicit on every row and must not be redeclared.
type NodeDef struct {
	Label  string           `json:"label"`
	Fields map[string]Field `json:"fields"`
}

// EdgeDef declares an edge type between two node labels.
type EdgeDef struct {
	Type        string           `json:"type"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Cardinality Cardinality      `json:"cardinality"`
	Temporal    bool             `json:"temporal"`
	Props       map[string]Field `json:"props,omitempty"`
}

// EdgeProps is the sealed set of typed edge property bags. Rows at rest never
// carry an untyped map; each edge type that has properties owns one variant.
type EdgeProps interface {
	edgeProps()
}

// MentionsProps carries the properties of a MENTIONS edge.
type MentionsProps struct {
	Context      string  `json:"context,omitempty"`
	Confidence   float64 `json:"confidence"`
	MentionCount int     `json:"mention_count"`
}

func (MentionsProps) edgeProps() {}

// RelatedToProps carries the properties of a RELATED_TO edge.
type RelatedToProps struct {
	Relation string `json:"relation,omitempty"`
}

func (RelatedToProps) edgeProps() {}

// reservedFields are present on every row and may not be declared in a
// NodeDef or EdgeDef property map.
var reservedFields = map[string]struct{}{
	"id":       {},
	"org_id":   {},
	"vt_start": {},
	"vt_end":   {},
	"tt_start": {},
	"tt_end":   {},
}

// Error reports structural defects found while defining a schema.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "schema: " + strings.Join(e.Problems, "; ")
}

// Registry is the validated, immutable schema catalogue.
type Registry struct {
	nodes map[string]NodeDef
	edges map[string]EdgeDef

	nodeLabels []string
	edgeTypes  []string
	problems   []string
}

// Define constructs and validates a registry in one step. On structural
// defects it returns the registry (with problems recorded) together with a
// *schema.Error so callers can either abort or inspect.
func Define(nodes []NodeDef, edges []EdgeDef) (*Registry, error) {
	r := &Registry{
		nodes: make(map[string]NodeDef, len(nodes)),
		edges: make(map[string]EdgeDef, len(edges)),
	}

	for _, n := range nodes {
		if n.Label == "" {
			r.problems = append(r.problems, "node with empty label")
			continue
		}
		if _, dup := r.nodes[n.Label]; dup {
			r.problems = append(r.problems, fmt.Sprintf("duplicate node label %q", n.Label))
			continue
		}
		r.checkFields("node "+n.Label, n.Fields)
		r.nodes[n.Label] = n
		r.nodeLabels = append(r.nodeLabels, n.Label)
	}

	for _, e := range edges {
		if e.Type == "" {
			r.problems = append(r.problems, "edge with empty type")
			continue
		}
		if _, dup := r.edges[e.Type]; dup {
			r.problems = append(r.problems, fmt.Sprintf("duplicate edge type %q", e.Type))
			continue
		}
		if _, ok := r.nodes[e.From]; !ok {
			r.problems = append(r.problems, fmt.Sprintf("edge %s: from label %q is not defined", e.Type, e.From))
		}
		if _, ok := r.nodes[e.To]; !ok {
			r.problems = append(r.problems, fmt.Sprintf("edge %s: to label %q is not defined", e.Type, e.To))
		}
		r.checkFields("edge "+e.Type, e.Props)
		r.edges[e.Type] = e
		r.edgeTypes = append(r.edgeTypes, e.Type)
	}

	sort.Strings(r.nodeLabels)
	sort.Strings(r.edgeTypes)

	if len(r.problems) > 0 {
		return r, &Error{Problems: r.problems}
	}
	return r, nil
}

func (r *Registry) checkFields(owner string, fields map[string]Field) {
	for name, f := range fields {
		if _, reserved := reservedFields[name]; reserved {
			r.problems = append(r.problems, fmt.Sprintf("%s: field %q is reserved", owner, name))
		}
		switch f.Type {
		case FieldEnum:
			if len(f.Enum) == 0 {
				r.problems = append(r.problems, fmt.Sprintf("%s: enum field %q has no literals", owner, name))
			}
		case FieldArray:
			if f.Elem == "" {
				r.problems = append(r.problems, fmt.Sprintf("%s: array field %q has no element type", owner, name))
			}
		case FieldString, FieldInt, FieldFloat, FieldBool, FieldTimestamp:
		default:
			r.problems = append(r.problems, fmt.Sprintf("%s: field %q has unknown type %q", owner, name, f.Type))
		}
	}
}

// IsValid reports whether the registry was defined without structural defects.
func (r *Registry) IsValid() bool {
	return len(r.problems) == 0
}

// ValidationErrors returns the recorded structural defects, if any.
func (r *Registry) ValidationErrors() []string {
	out := make([]string, len(r.problems))
	copy(out, r.problems)
	return out
}

// NodeLabels returns all node labels in sorted order.
func (r *Registry) NodeLabels() []string {
	out := make([]string, len(r.nodeLabels))
	copy(out, r.nodeLabels)
	return out
}

// EdgeTypes returns all edge types in sorted order.
func (r *Registry) EdgeTypes() []string {
	out := make([]string, len(r.edgeTypes))
	copy(out, r.edgeTypes)
	return out
}

// Node returns the definition for a label.
func (r *Registry) Node(label string) (NodeDef, bool) {
	n, ok := r.nodes[label]
	return n, ok
}

// Edge returns the definition for an edge type.
func (r *Registry) Edge(edgeType string) (EdgeDef, bool) {
	e, ok := r.edges[edgeType]
	return e, ok
}

// EdgesFrom returns every edge whose from-label matches, sorted by type.
func (r *Registry) EdgesFrom(label string) []EdgeDef {
	var out []EdgeDef
	for _, t := range r.edgeTypes {
		if e := r.edges[t]; e.From == label {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns every edge whose to-label matches, sorted by type.
func (r *Registry) EdgesTo(label string) []EdgeDef {
	var out []EdgeDef
	for _, t := range r.edgeTypes {
		if e := r.edges[t]; e.To == label {
			out = append(out, e)
		}
	}
	return out
}

// HasSymbol reports whether name is a known node label or edge type.
func (r *Registry) HasSymbol(name string) bool {
	if _, ok := r.nodes[name]; ok {
		return true
	}
	_, ok := r.edges[name]
	return ok
}

// Symbols returns the union of node labels and edge types, sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.nodeLabels)+len(r.edgeTypes))
	out = append(out, r.nodeLabels...)
	out = append(out, r.edgeTypes...)
	sort.Strings(out)
	return out
}

// RowFields returns the full derived row type for a label: the declared
// fields plus the implicit id, org_id and bitemporal fields.
func (r *Registry) RowFields(label string) (map[string]Field, bool) {
	n, ok := r.nodes[label]
	if !ok {
		return nil, false
	}
	out := make(map[string]Field, len(n.Fields)+6)
	for name, f := range n.Fields {
		out[name] = f
	}
	out["id"] = Field{Type: FieldString}
	out["org_id"] = Field{Type: FieldString}
	out["vt_start"] = Field{Type: FieldTimestamp}
	out["vt_end"] = Field{Type: FieldTimestamp}
	out["tt_start"] = Field{Type: FieldTimestamp}
	out["tt_end"] = Field{Type: FieldTimestamp}
	return out, true
}
