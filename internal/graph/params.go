package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var paramNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// formatParams renders the CYPHER prologue that binds parameters for one
// command, e.g. `CYPHER p1=5 p2='x' `. Keys are sorted so the same parameter
// map always yields the same command text. An empty map yields an empty
// prologue.
func formatParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if !paramNameRe.MatchString(k) {
			return "", fmt.Errorf("graph: invalid parameter name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER ")
	for _, k := range keys {
		v, err := formatValue(params[k])
		if err != nil {
			return "", fmt.Errorf("graph: parameter %q: %w", k, err)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte(' ')
	}
	return b.String(), nil
}

// formatValue renders one parameter value as a Cypher literal. Strings are
// single-quoted with backslash escaping; everything else never reaches the
// expression as raw user text.
func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quoteString(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = quoteString(s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case []float32:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			p, err := formatValue(e)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			if !paramNameRe.MatchString(k) {
				return "", fmt.Errorf("invalid map key %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			p, err := formatValue(x[k])
			if err != nil {
				return "", err
			}
			parts[i] = k + ": " + p
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", v)
	}
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteString(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}
