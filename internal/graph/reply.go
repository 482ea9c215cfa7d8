package graph

import "fmt"

// Row is one decoded result row, keyed by column name.
type Row map[string]any

// Result holds a decoded command reply. Write-only commands carry just
// Stats; queries with projections carry Columns and Rows too.
type Result struct {
	Columns []string
	Rows    []Row
	Stats   []string
}

// Node is a decoded graph vertex.
type Node struct {
	ID     int64
	Labels []string
	Props  map[string]any
}

// Relationship is a decoded graph edge.
type Relationship struct {
	ID    int64
	Type  string
	Src   int64
	Dst   int64
	Props map[string]any
}

// AsNode unwraps a reply cell produced by a bare node projection.
func AsNode(v any) (Node, bool) {
	n, ok := v.(Node)
	return n, ok
}

// AsRelationship unwraps a reply cell produced by a bare edge projection.
func AsRelationship(v any) (Relationship, bool) {
	r, ok := v.(Relationship)
	return r, ok
}

// parseResult decodes the raw reply of GRAPH.QUERY / GRAPH.RO_QUERY. The
// backend answers with either [stats] for pure writes or
// [header, rows, stats] for queries.
func parseResult(raw any) (*Result, error) {
	top, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", raw)
	}

	res := &Result{}
	switch len(top) {
	case 1:
		res.Stats = toStrings(top[0])
		return res, nil
	case 3:
		header, ok := top[0].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected header type %T", top[0])
		}
		for _, h := range header {
			switch hv := h.(type) {
			case string:
				res.Columns = append(res.Columns, hv)
			case []any:
				// Compact protocol: [column type, column name].
				if len(hv) == 2 {
					if name, ok := hv[1].(string); ok {
						res.Columns = append(res.Columns, name)
						continue
					}
				}
				return nil, fmt.Errorf("unexpected header entry %v", hv)
			default:
				return nil, fmt.Errorf("unexpected header entry type %T", h)
			}
		}

		data, ok := top[1].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected data type %T", top[1])
		}
		res.Rows = make([]Row, 0, len(data))
		for _, r := range data {
			cells, ok := r.([]any)
			if !ok {
				return nil, fmt.Errorf("unexpected row type %T", r)
			}
			row := make(Row, len(cells))
			for i, cell := range cells {
				if i < len(res.Columns) {
					row[res.Columns[i]] = decodeValue(cell)
				}
			}
			res.Rows = append(res.Rows, row)
		}

		res.Stats = toStrings(top[2])
		return res, nil
	default:
		return nil, fmt.Errorf("unexpected reply shape (%d elements)", len(top))
	}
}

// decodeValue turns a raw reply cell into a scalar, list, Node or
// Relationship. Entities arrive as key-value pair arrays in the verbose
// protocol.
func decodeValue(v any) any {
	parts, ok := v.([]any)
	if !ok {
		return v
	}
	if ent, ok := decodeEntity(parts); ok {
		return ent
	}
	out := make([]any, len(parts))
	for i, e := range parts {
		out[i] = decodeValue(e)
	}
	return out
}

func decodeEntity(parts []any) (any, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	kv := make(map[string]any, len(parts))
	for _, p := range parts {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			return nil, false
		}
		key, ok := pair[0].(string)
		if !ok {
			return nil, false
		}
		kv[key] = pair[1]
	}
	if _, hasID := kv["id"]; !hasID {
		return nil, false
	}

	if _, hasLabels := kv["labels"]; hasLabels {
		return Node{
			ID:     Int64(kv["id"]),
			Labels: toStrings(kv["labels"]),
			Props:  decodeProps(kv["properties"]),
		}, true
	}
	if _, hasType := kv["type"]; hasType {
		return Relationship{
			ID:    Int64(kv["id"]),
			Type:  String(kv["type"]),
			Src:   Int64(kv["src_node"]),
			Dst:   Int64(kv["dest_node"]),
			Props: decodeProps(kv["properties"]),
		}, true
	}
	return nil, false
}

func decodeProps(v any) map[string]any {
	pairs, ok := v.([]any)
	if !ok {
		return map[string]any{}
	}
	props := make(map[string]any, len(pairs))
	for _, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		key, ok := pair[0].(string)
		if !ok {
			continue
		}
		props[key] = decodeValue(pair[1])
	}
	return props
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, String(it))
	}
	return out
}
