package cypher

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/schema"
)

// suggestFuzziness bounds the edit distance for symbol suggestions.
const suggestFuzziness = 2

// Catalogue indexes the registry's node labels and edge types for
// edit-distance suggestions when an expression references an unknown symbol.
// Symbols are indexed as single keyword terms, so fuzziness applies to the
// whole symbol rather than analyzer tokens.
type Catalogue struct {
	index  bleve.Index
	logger *zap.Logger
}

type symbolDoc struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// NewCatalogue builds an in-memory symbol index from the registry.
func NewCatalogue(reg *schema.Registry, logger *zap.Logger) (*Catalogue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	docMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = keyword.Name
	nameField.Store = true
	docMapping.AddFieldMappingsAt("name", nameField)

	kindField := bleve.NewTextFieldMapping()
	kindField.Analyzer = keyword.Name
	kindField.Store = true
	kindField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("kind", kindField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create symbol index: %w", err)
	}

	batch := index.NewBatch()
	for _, label := range reg.NodeLabels() {
		if err := batch.Index("label:"+label, symbolDoc{Name: label, Kind: "label"}); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to index label %q: %w", label, err)
		}
	}
	for _, et := range reg.EdgeTypes() {
		if err := batch.Index("edge:"+et, symbolDoc{Name: et, Kind: "edge"}); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to index edge type %q: %w", et, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to build symbol index: %w", err)
	}

	logger.Debug("Symbol catalogue initialized",
		zap.Int("labels", len(reg.NodeLabels())),
		zap.Int("edge_types", len(reg.EdgeTypes())))

	return &Catalogue{index: index, logger: logger}, nil
}

// Suggest returns up to limit known symbols within the bounded edit distance
// of the given symbol, best match first. A failed lookup yields no
// suggestions rather than an error.
func (c *Catalogue) Suggest(symbol string, limit int) []string {
	fuzzyQuery := query.NewFuzzyQuery(symbol)
	fuzzyQuery.SetField("name")
	fuzzyQuery.SetFuzziness(suggestFuzziness)

	searchRequest := bleve.NewSearchRequest(fuzzyQuery)
	searchRequest.Size = limit
	searchRequest.Fields = []string{"name"}

	searchResult, err := c.index.Search(searchRequest)
	if err != nil {
		c.logger.Warn("Symbol suggestion lookup failed",
			zap.String("symbol", symbol),
			zap.Error(err))
		return nil
	}

	suggestions := make([]string, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		if name, ok := hit.Fields["name"].(string); ok && name != "" {
			suggestions = append(suggestions, name)
		}
	}
	return suggestions
}

// Close releases the underlying index.
func (c *Catalogue) Close() error {
	return c.index.Close()
}
