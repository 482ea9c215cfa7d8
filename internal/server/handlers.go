package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/auth"
	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/jsonx"
	"github.com/engram-labs/engram/internal/memory"
	"github.com/engram-labs/engram/internal/search"
)

type rememberRequest struct {
	Content string   `json:"content" validate:"required,max=50000"`
	Type    string   `json:"type" validate:"omitempty,oneof=decision context insight preference fact"`
	Tags    []string `json:"tags" validate:"omitempty,max=50,dive,min=1,max=100"`
	Project string   `json:"project" validate:"omitempty,max=200"`
}

type recallFilters struct {
	Type       string `json:"type" validate:"omitempty,oneof=decision context insight preference fact"`
	Project    string `json:"project" validate:"omitempty,max=200"`
	After      string `json:"after" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Before     string `json:"before" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	VTEndAfter int64  `json:"vtEndAfter" validate:"omitempty,min=0"`
}

type recallRequest struct {
	Query      string         `json:"query" validate:"required,max=1000"`
	Limit      int            `json:"limit" validate:"omitempty,min=1,max=20"`
	Filters    *recallFilters `json:"filters"`
	Rerank     *bool          `json:"rerank"`
	RerankTier string         `json:"rerank_tier" validate:"omitempty,oneof=fast accurate code llm"`
}

type queryRequest struct {
	Cypher string         `json:"cypher" validate:"required,max=5000"`
	Params map[string]any `json:"params"`
}

type contextRequest struct {
	Task  string   `json:"task" validate:"required,max=2000"`
	Files []string `json:"files" validate:"omitempty,max=100,dive,min=1,max=500"`
	Depth string   `json:"depth" validate:"omitempty,oneof=shallow medium deep"`
}

// decode parses and validates a request body. A false return means the
// response has been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := jsonx.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		details := any(nil)
		if errors.As(err, &verrs) {
			fields := make([]map[string]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, map[string]string{
					"field": fe.Field(),
					"rule":  fe.Tag(),
				})
			}
			details = map[string]any{"fields": fields}
		}
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", details)
		return false
	}
	return true
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	tctx, ok := auth.TenantFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
		return
	}
	var req rememberRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.memory.Remember(r.Context(), tctx, memory.RememberInput{
		Content: req.Content,
		Type:    req.Type,
		Tags:    req.Tags,
		Project: req.Project,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Stored {
		status = http.StatusCreated
	}
	WriteSuccess(w, status, res, nil)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	tctx, ok := auth.TenantFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
		return
	}
	var req recallRequest
	if !s.decode(w, r, &req) {
		return
	}

	opts := memory.RecallOptions{
		Query: req.Query,
		Limit: req.Limit,
		Rerank: memory.RerankOptions{
			Enabled: req.Rerank == nil || *req.Rerank,
			Tier:    req.RerankTier,
		},
	}
	if opts.Rerank.Tier == "" {
		opts.Rerank.Tier = search.TierFast
	}
	if req.Filters != nil {
		opts.Filters = memory.RecallFilters{
			Type:       req.Filters.Type,
			Project:    req.Filters.Project,
			After:      parseISO(req.Filters.After),
			Before:     parseISO(req.Filters.Before),
			VTEndAfter: req.Filters.VTEndAfter,
		}
	}

	start := time.Now()
	memories, err := s.memory.Recall(r.Context(), tctx, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	WriteSuccess(w, http.StatusOK,
		map[string]any{"memories": memories},
		map[string]any{"count": len(memories), "took_ms": time.Since(start).Milliseconds()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	tctx, ok := auth.TenantFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
		return
	}
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	rows, err := s.memory.Query(r.Context(), tctx, req.Cypher, req.Params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []graph.Row{}
	}
	WriteSuccess(w, http.StatusOK,
		map[string]any{"results": rows},
		map[string]any{"count": len(rows), "took_ms": time.Since(start).Milliseconds()})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	tctx, ok := auth.TenantFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
		return
	}
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}

	entries, err := s.memory.GetContext(r.Context(), tctx, req.Task, req.Files, req.Depth)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	WriteSuccess(w, http.StatusOK, map[string]any{"context": entries}, nil)
}

// handleHealth reports component health. A graph outage makes the
// service unavailable; a search outage only degrades recall, which
// falls back to keyword matching, so it stays a 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{"graph": "ok", "search": "ok"}
	if s.graph != nil {
		if err := s.graph.Ping(ctx); err != nil {
			s.logger.Error("graph health check failed", zap.Error(err))
			components["graph"] = "down"
			WriteError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"Service is not ready", map[string]any{"components": components})
			return
		}
	}
	if s.search != nil {
		if err := s.search.Ping(ctx); err != nil {
			s.logger.Warn("search health check failed", zap.Error(err))
			components["search"] = "degraded"
		}
	}
	WriteSuccess(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"components": components,
	}, nil)
}

// parseISO converts an already-validated RFC 3339 string to epoch
// milliseconds, 0 for empty.
func parseISO(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
