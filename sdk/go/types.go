package engram

// MemoryType classifies a stored memory.
type MemoryType string

const (
	TypeDecision   MemoryType = "decision"
	TypeContext    MemoryType = "context"
	TypeInsight    MemoryType = "insight"
	TypePreference MemoryType = "preference"
	TypeFact       MemoryType = "fact"
)

// RememberRequest stores one memory.
type RememberRequest struct {
	Content string     `json:"content"`
	Type    MemoryType `json:"type,omitempty"`
	Tags    []string   `json:"tags,omitempty"`
	Project string     `json:"project,omitempty"`
}

// RememberResult reports the outcome of a store.
type RememberResult struct {
	ID        string `json:"id"`
	Stored    bool   `json:"stored"`
	Duplicate bool   `json:"duplicate"`
}

// RecallFilters narrows a recall. After and Before are RFC 3339 timestamps.
type RecallFilters struct {
	Type       MemoryType `json:"type,omitempty"`
	Project    string     `json:"project,omitempty"`
	After      string     `json:"after,omitempty"`
	Before     string     `json:"before,omitempty"`
	VTEndAfter int64      `json:"vtEndAfter,omitempty"`
}

// RecallRequest retrieves memories for a query.
type RecallRequest struct {
	Query      string         `json:"query"`
	Limit      int            `json:"limit,omitempty"`
	Filters    *RecallFilters `json:"filters,omitempty"`
	Rerank     *bool          `json:"rerank,omitempty"`
	RerankTier string         `json:"rerank_tier,omitempty"`
}

// Memory is one recalled memory.
type Memory struct {
	ID            string   `json:"id"`
	Content       string   `json:"content"`
	Type          string   `json:"type"`
	Tags          []string `json:"tags"`
	Score         float64  `json:"score"`
	DecayScore    float64  `json:"decayScore"`
	WeightedScore float64  `json:"weightedScore"`
	CreatedAt     string   `json:"createdAt"`
	Invalidated   bool     `json:"invalidated"`
	InvalidatedAt int64    `json:"invalidatedAt,omitempty"`
	ReplacedBy    string   `json:"replacedBy,omitempty"`
}

// QueryRequest runs a read-only graph expression.
type QueryRequest struct {
	Cypher string         `json:"cypher"`
	Params map[string]any `json:"params,omitempty"`
}

// ContextRequest assembles context for a task.
type ContextRequest struct {
	Task  string   `json:"task"`
	Files []string `json:"files,omitempty"`
	Depth string   `json:"depth,omitempty"`
}

// ContextEntry is one context item.
type ContextEntry struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
	Source    string  `json:"source"`
}

// HealthStatus reports component liveness.
type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

type recallResponse struct {
	Memories []Memory `json:"memories"`
}

type queryResponse struct {
	Results []map[string]any `json:"results"`
}

type contextResponse struct {
	Context []ContextEntry `json:"context"`
}
