package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/cypher"
	"github.com/engram-labs/engram/internal/graph"
	"github.com/engram-labs/engram/internal/memory"
	"github.com/engram-labs/engram/internal/schema"
	"github.com/engram-labs/engram/internal/temporal"
)

const genericErrorMessage = "An unexpected error occurred"

// writeServiceError maps an engine error onto the envelope. Validation-class
// failures carry structured details; everything unexpected collapses to a
// generic 500 so internals never leak to clients.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		roErr     *cypher.ReadOnlyViolationError
		symErr    *cypher.UnknownSymbolError
		schemaErr *schema.Error
		ivErr     *temporal.IntervalError
	)
	switch {
	case errors.As(err, &roErr):
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Query failed validation", map[string]any{
			"code":    "READ_ONLY_VIOLATION",
			"keyword": roErr.Keyword,
		})
	case errors.As(err, &symErr):
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Query failed validation", map[string]any{
			"code":        "UNKNOWN_SYMBOL",
			"symbol":      symErr.Symbol,
			"suggestions": symErr.Suggestions,
		})
	case errors.Is(err, cypher.ErrEmptyExpression):
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Query failed validation", map[string]any{
			"code": "EMPTY_EXPRESSION",
		})
	case errors.As(err, &schemaErr):
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request violates the schema", map[string]any{
			"code":     "SCHEMA_ERROR",
			"problems": schemaErr.Problems,
		})
	case errors.As(err, &ivErr):
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid time interval", map[string]any{
			"code":   "INVALID_INTERVAL",
			"reason": ivErr.Reason,
		})
	case errors.Is(err, memory.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Memory not found", nil)
	case errors.Is(err, memory.ErrContentRequired),
		errors.Is(err, memory.ErrContentTooLong),
		errors.Is(err, memory.ErrUnknownType),
		errors.Is(err, memory.ErrQueryRequired),
		errors.Is(err, memory.ErrInvalidDepth):
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case graph.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		s.logger.Error("Request deadline exceeded",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", genericErrorMessage, map[string]any{
			"code": "TIMEOUT",
		})
	default:
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", genericErrorMessage, nil)
	}
}
