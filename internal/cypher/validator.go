package cypher

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/schema"
)

// ErrEmptyExpression rejects blank submissions before any keyword analysis.
var ErrEmptyExpression = errors.New("cypher: empty expression")

// ReadOnlyViolationError reports a keyword outside the read-only policy.
type ReadOnlyViolationError struct {
	Keyword string
}

func (e *ReadOnlyViolationError) Error() string {
	return fmt.Sprintf("cypher: keyword %q is not allowed in read-only expressions", e.Keyword)
}

// UnknownSymbolError reports a node label or edge type absent from the
// schema, with close matches from the catalogue when any exist.
type UnknownSymbolError struct {
	Symbol      string
	Suggestions []string
}

func (e *UnknownSymbolError) Error() string {
	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("cypher: unknown symbol %q (did you mean %s?)", e.Symbol, strings.Join(e.Suggestions, ", "))
	}
	return fmt.Sprintf("cypher: unknown symbol %q", e.Symbol)
}

// Leading clause keywords permitted on the free-form read path. Two-word
// clauses are matched before single words.
var (
	allowedLeadingPairs = map[string]bool{
		"OPTIONAL MATCH": true,
		"ORDER BY":       true,
	}
	allowedLeading = map[string]bool{
		"MATCH":  true,
		"WITH":   true,
		"RETURN": true,
		"LIMIT":  true,
		"SKIP":   true,
		"WHERE":  true,
		"UNWIND": true,
		"CALL":   true,
	}

	// denyKeywords match whole words and word prefixes. The policy is
	// deliberately pessimistic: a field named created_at trips CREATE.
	denyKeywords = []string{
		"CREATE", "MERGE", "DELETE", "DETACH", "SET", "REMOVE",
		"DROP", "ALTER", "CLEAR", "IMPORT", "EXPORT",
	}

	wordRe   = regexp.MustCompile(`\$?[A-Za-z_][A-Za-z0-9_]*`)
	symbolRe = regexp.MustCompile(`:\s*([A-Za-z_][A-Za-z0-9_]*)`)
)

// Validator statically checks user-submitted path expressions. It accepts or
// rejects; it never rewrites. Parameter placeholders are ignored.
type Validator struct {
	registry  *schema.Registry
	catalogue *Catalogue
	logger    *zap.Logger
}

// NewValidator builds a validator over the registry, including its symbol
// suggestion catalogue.
func NewValidator(reg *schema.Registry, logger *zap.Logger) (*Validator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	catalogue, err := NewCatalogue(reg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build symbol catalogue: %w", err)
	}
	return &Validator{
		registry:  reg,
		catalogue: catalogue,
		logger:    logger,
	}, nil
}

// Close releases the suggestion catalogue.
func (v *Validator) Close() error {
	return v.catalogue.Close()
}

// Validate checks, in order: the leading clause keyword against the allow
// set, every word against the deny set, and every :Symbol reference against
// the schema registry.
func (v *Validator) Validate(expr string) error {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return ErrEmptyExpression
	}

	words := wordRe.FindAllString(trimmed, -1)
	if len(words) == 0 {
		return &ReadOnlyViolationError{Keyword: strings.ToUpper(firstToken(trimmed))}
	}

	if !leadingAllowed(words) {
		return &ReadOnlyViolationError{Keyword: strings.ToUpper(words[0])}
	}

	for _, w := range words {
		if strings.HasPrefix(w, "$") {
			continue
		}
		upper := strings.ToUpper(w)
		for _, kw := range denyKeywords {
			if upper == kw || strings.HasPrefix(upper, kw) {
				return &ReadOnlyViolationError{Keyword: kw}
			}
		}
	}

	for _, m := range symbolRe.FindAllStringSubmatch(trimmed, -1) {
		sym := m[1]
		if v.registry.HasSymbol(sym) {
			continue
		}
		suggestions := v.catalogue.Suggest(sym, 3)
		v.logger.Debug("Rejected expression with unknown symbol",
			zap.String("symbol", sym),
			zap.Strings("suggestions", suggestions))
		return &UnknownSymbolError{Symbol: sym, Suggestions: suggestions}
	}

	return nil
}

func leadingAllowed(words []string) bool {
	if len(words) >= 2 && allowedLeadingPairs[strings.ToUpper(words[0]+" "+words[1])] {
		return true
	}
	return allowedLeading[strings.ToUpper(words[0])]
}

// firstToken extracts a printable token for error reporting when the
// expression opens with something other than a word.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}
