package ratelimit

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/auth"
)

// ErrorFunc writes one error envelope; the server package supplies it.
type ErrorFunc func(w http.ResponseWriter, status int, code, message string, details any)

// Middleware meters authenticated requests. The budget comes from the
// principal's grant, falling back to defaultLimit. Budget headers are set on
// every response, including denials.
func Middleware(l *Limiter, defaultLimit int, writeError ErrorFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ratelimit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx, ok := auth.AuthFromContext(r.Context())
			if !ok {
				// Unauthenticated routes are not metered.
				next.ServeHTTP(w, r)
				return
			}

			limit := actx.RateLimit
			if limit <= 0 {
				limit = defaultLimit
			}

			res := l.Allow("ratelimit:"+actx.ID, limit)
			if res.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetSeconds(), 10))
			}

			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(res.RetryAfter, 10))
				logger.Warn("Rate limit exceeded",
					zap.String("token_id", actx.ID),
					zap.Int("limit", res.Limit),
					zap.Int("count", res.Count))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", map[string]any{
					"limit":      res.Limit,
					"reset":      res.ResetSeconds(),
					"retryAfter": res.RetryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
