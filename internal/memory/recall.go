package memory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/cypher"
	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/schema"
	"github.com/engram-labs/engram/internal/search"
	"github.com/engram-labs/engram/internal/temporal"
	"github.com/engram-labs/engram/internal/tenant"
)

// RecallFilters narrows a recall. Zero values mean unconstrained. After and
// Before bound vt_start; VTEndAfter defaults to the recall instant, which is
// what excludes expired rows from a present-time recall.
type RecallFilters struct {
	Type       string
	Project    string
	After      int64
	Before     int64
	VTEndAfter int64
}

// RerankOptions forwards reranking to the vector sidecar.
type RerankOptions struct {
	Enabled bool
	Tier    string
}

// RecallOptions shapes one recall.
type RecallOptions struct {
	Query   string
	Limit   int
	Filters RecallFilters
	Rerank  RerankOptions
}

// RecalledMemory is one ranked recall result. Score is the retrieval score,
// DecayScore the effective decay multiplier applied to it, WeightedScore
// their product and the rank key. An invalidated row is one whose validity
// had already ended at the recall instant; ReplacedBy names its current
// successor when one exists.
type RecalledMemory struct {
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

// lexicalScore is the flat retrieval score of a keyword-only hit. Keyword
// matches carry no similarity signal, so they rank below any confident
// vector hit and above nothing.
const lexicalScore = 0.5

// Recall runs the hybrid retrieval pipeline: vector and keyword search fan
// out concurrently, merge with vector hits winning duplicates, decay
// reweighting and succession lookups annotate the candidates, and the top
// page by weighted score comes back. A vector sidecar failure degrades to
// the keyword path alone; a graph failure fails the recall.
func (s *Service) Recall(ctx context.Context, tctx tenant.Context, opts RecallOptions) ([]RecalledMemory, error) {
	if opts.Query == "" {
		return nil, ErrQueryRequired
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	g, err := s.router.GraphFor(ctx, tctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	vtEndAfter := opts.Filters.VTEndAfter
	if vtEndAfter <= 0 {
		vtEndAfter = now
	}

	type vectorOut struct {
		hits []search.Hit
		err  error
	}
	type lexicalOut struct {
		rows []graph.Row
		err  error
	}
	vecCh := make(chan vectorOut, 1)
	lexCh := make(chan lexicalOut, 1)

	go func() {
		resp, err := s.search.Search(ctx, search.SearchRequest{
			Text:       opts.Query,
			Limit:      s.cfg.Oversample * limit,
			Threshold:  s.cfg.Threshold,
			Strategy:   search.StrategyHybrid,
			Rerank:     opts.Rerank.Enabled,
			RerankTier: opts.Rerank.Tier,
			Collection: search.DefaultCollection,
			Filters:    sidecarFilters(tctx, opts.Filters, vtEndAfter),
		})
		if err != nil {
			vecCh <- vectorOut{err: err}
			return
		}
		vecCh <- vectorOut{hits: resp.Results}
	}()
	go func() {
		rows, err := s.lexicalSearch(ctx, g, opts, limit, vtEndAfter)
		lexCh <- lexicalOut{rows: rows, err: err}
	}()

	vec := <-vecCh
	lex := <-lexCh

	var candidates []RecalledMemory
	if vec.err != nil {
		s.logger.Warn("Vector search failed, falling back to keyword-only recall",
			zap.String("org_id", tctx.OrgID),
			zap.Error(vec.err))
		rows, err := s.lexicalSearch(ctx, g, opts, s.cfg.Oversample*limit, vtEndAfter)
		if err != nil {
			return nil, fmt.Errorf("memory: keyword recall: %w", err)
		}
		candidates = appendLexical(nil, rows, now)
	} else {
		if lex.err != nil {
			return nil, fmt.Errorf("memory: keyword recall: %w", lex.err)
		}
		candidates = appendVector(nil, vec.hits, now)
		candidates = appendLexical(candidates, lex.rows, now)
	}

	if err := s.applyDecay(ctx, g, candidates); err != nil {
		return nil, err
	}
	if err := s.resolveSuccessors(ctx, g, candidates); err != nil {
		return nil, err
	}

	if opts.Filters.Type != "" {
		kept := candidates[:0]
		for _, m := range candidates {
			if m.Type == opts.Filters.Type {
				kept = append(kept, m)
			}
		}
		candidates = kept
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].WeightedScore > candidates[j].WeightedScore
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	s.trackAccess(g, candidates, now)
	return candidates, nil
}

// sidecarFilters translates recall filters into the sidecar's wire filters.
// The sidecar does not key on memory type; that filter applies after the
// merge.
func sidecarFilters(tctx tenant.Context, f RecallFilters, vtEndAfter int64) search.Filters {
	out := search.Filters{
		VTEndAfter: vtEndAfter,
		Project:    f.Project,
		OrgID:      tctx.OrgID,
	}
	if f.After > 0 || f.Before > 0 {
		tr := &search.TimeRange{Start: f.After, End: f.Before}
		if tr.End <= 0 {
			tr.End = temporal.MaxDate
		}
		out.TimeRange = tr
	}
	return out
}

// lexicalSearch is the keyword path: a case-insensitive substring match over
// content with the same validity and project bounds the sidecar applies,
// newest first.
func (s *Service) lexicalSearch(ctx context.Context, g *tenant.Graph, opts RecallOptions, limit int, vtEndAfter int64) ([]graph.Row, error) {
	q := cypher.Q(schema.LabelMemory).
		WhereContainsFold("content", opts.Query).
		WhereOp("vt_end", ">", vtEndAfter)
	if opts.Filters.Project != "" {
		q = q.Where(map[string]any{"project": opts.Filters.Project})
	}
	if opts.Filters.After > 0 {
		q = q.WhereOp("vt_start", ">=", opts.Filters.After)
	}
	if opts.Filters.Before > 0 {
		q = q.WhereOp("vt_start", "<=", opts.Filters.Before)
	}
	return q.
		OrderBy("vt_start", cypher.Desc).
		Limit(limit).
		Returning("n.id AS id", "n.content AS content", "n.type AS type", "n.tags AS tags", "n.created_at AS created_at", "n.vt_end AS vt_end").
		Execute(ctx, g)
}

// appendVector folds sidecar hits into the candidate list in hit order. A
// reranked hit ranks by its reranker score; retrieval order within the list
// is preserved either way.
func appendVector(out []RecalledMemory, hits []search.Hit, now int64) []RecalledMemory {
	for _, h := range hits {
		score := h.Score
		if h.RerankerScore != nil {
			score = *h.RerankerScore
		}
		m := RecalledMemory{
			ID:        h.Payload.NodeID,
			Content:   h.Payload.Content,
			Type:      h.Payload.Type,
			Tags:      h.Payload.Tags,
			Score:     score,
			CreatedAt: isoTime(h.Payload.Timestamp),
		}
		if m.Tags == nil {
			m.Tags = []string{}
		}
		if h.Payload.VTEnd > 0 && h.Payload.VTEnd < now {
			m.Invalidated = true
			m.InvalidatedAt = h.Payload.VTEnd
		}
		out = append(out, m)
	}
	return out
}

// appendLexical fills candidates the vector pass missed. Vector hits win
// duplicate ids because they carry a real similarity score.
func appendLexical(out []RecalledMemory, rows []graph.Row, now int64) []RecalledMemory {
	seen := make(map[string]struct{}, len(out))
	for _, m := range out {
		seen[m.ID] = struct{}{}
	}
	for _, row := range rows {
		id := graph.String(row["id"])
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m := RecalledMemory{
			ID:        id,
			Content:   graph.String(row["content"]),
			Type:      graph.String(row["type"]),
			Tags:      graph.Strings(row["tags"]),
			Score:     lexicalScore,
			CreatedAt: graph.String(row["created_at"]),
		}
		if m.Tags == nil {
			m.Tags = []string{}
		}
		if vtEnd := graph.Int64(row["vt_end"]); vtEnd > 0 && vtEnd < now {
			m.Invalidated = true
			m.InvalidatedAt = vtEnd
		}
		out = append(out, m)
	}
	return out
}

// applyDecay looks up decay and pin state for every candidate and computes
// the weighted scores. A pinned row never decays; a row without a decay
// score counts as undecayed. Rows the graph no longer has default the same
// way, so a stale sidecar hit still ranks.
func (s *Service) applyDecay(ctx context.Context, g *tenant.Graph, candidates []RecalledMemory) error {
	for i := range candidates {
		candidates[i].DecayScore = 1.0
		candidates[i].WeightedScore = candidates[i].Score
	}
	if len(candidates) == 0 {
		return nil
	}

	ids := make([]any, len(candidates))
	index := make(map[string]int, len(candidates))
	for i, m := range candidates {
		ids[i] = m.ID
		index[m.ID] = i
	}
	rows, err := cypher.Q(schema.LabelMemory).
		WhereIn("id", ids).
		Returning("n.id AS id", "n.decay_score AS decay_score", "n.pinned AS pinned").
		Execute(ctx, g)
	if err != nil {
		return fmt.Errorf("memory: decay lookup: %w", err)
	}
	for _, row := range rows {
		i, ok := index[graph.String(row["id"])]
		if !ok {
			continue
		}
		effective := 1.0
		if !graph.Bool(row["pinned"]) && row["decay_score"] != nil {
			effective = graph.Float64(row["decay_score"])
		}
		candidates[i].DecayScore = effective
		candidates[i].WeightedScore = candidates[i].Score * effective
	}
	return nil
}

// resolveSuccessors fills ReplacedBy for invalidated candidates by following
// REPLACES edges to the currently recorded successor. An invalidated row
// without a successor was soft-deleted, not superseded, and keeps an empty
// pointer.
func (s *Service) resolveSuccessors(ctx context.Context, g *tenant.Graph, candidates []RecalledMemory) error {
	var invalidated []string
	for _, m := range candidates {
		if m.Invalidated {
			invalidated = append(invalidated, m.ID)
		}
	}
	if len(invalidated) == 0 {
		return nil
	}

	expr, params := replacedByStatement(invalidated)
	rows, err := g.Query(ctx, expr, params)
	if err != nil {
		return fmt.Errorf("memory: succession lookup: %w", err)
	}
	successor := make(map[string]string, len(rows))
	for _, row := range rows {
		successor[graph.String(row["old_id"])] = graph.String(row["new_id"])
	}
	for i := range candidates {
		if candidates[i].Invalidated {
			candidates[i].ReplacedBy = successor[candidates[i].ID]
		}
	}
	return nil
}

// trackAccess stamps the returned rows in the background. Recall results are
// already on their way to the caller; a failed stamp only costs decay signal.
func (s *Service) trackAccess(g *tenant.Graph, results []RecalledMemory, now int64) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i, m := range results {
		ids[i] = m.ID
	}
	s.dispatch("access_tracking", func() {
		bg, cancel := context.WithTimeout(context.Background(), s.cfg.TrackTimeout)
		defer cancel()
		expr, params := accessTrackingStatement(ids, now)
		if _, err := g.Write(bg, expr, params); err != nil {
			s.logger.Warn("Access tracking failed",
				zap.Int("memories", len(ids)),
				zap.Error(err))
		}
	})
}
