package server

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/auth"
	"github.com/engram-labs/engram/internal/memory"
	"github.com/engram-labs/engram/internal/ratelimit"
)

// Pinger reports backend liveness. Satisfied by graph.Client and
// search.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// RequestTimeout bounds each API request, token lookup included.
	RequestTimeout time.Duration
	// DefaultRateLimit applies to tokens minted without an explicit
	// per-minute grant.
	DefaultRateLimit int
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout:   30 * time.Second,
		DefaultRateLimit: 120,
	}
}

// Server exposes the memory service over HTTP.
type Server struct {
	memory   *memory.Service
	authn    *auth.Authenticator
	limiter  *ratelimit.Limiter
	graph    Pinger
	search   Pinger
	cfg      Config
	validate *validator.Validate
	logger   *zap.Logger
}

func NewServer(svc *memory.Service, authn *auth.Authenticator, limiter *ratelimit.Limiter, graph, search Pinger, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.DefaultRateLimit <= 0 {
		cfg.DefaultRateLimit = DefaultConfig().DefaultRateLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		memory:   svc,
		authn:    authn,
		limiter:  limiter,
		graph:    graph,
		search:   search,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger.Named("server"),
	}
}

// newValidator reports field names by their json tag so validation
// details match the wire format.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes builds the handler tree. Health stays outside auth; the API
// subrouter orders scope checks after rate limiting so a 403 still
// carries the budget headers.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, s.loggingMiddleware, s.recoveryMiddleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/v1/memory").Subrouter()
	api.Use(
		timeoutMiddleware(s.cfg.RequestTimeout),
		s.authn.Middleware(WriteError),
		ratelimit.Middleware(s.limiter, s.cfg.DefaultRateLimit, WriteError, s.logger),
	)

	protect := func(scope string, h http.HandlerFunc) http.Handler {
		return auth.RequireScopes(WriteError, scope)(h)
	}
	api.Handle("/remember", protect("memory:write", s.handleRemember)).Methods(http.MethodPost)
	api.Handle("/recall", protect("memory:read", s.handleRecall)).Methods(http.MethodPost)
	api.Handle("/query", protect("query:read", s.handleQuery)).Methods(http.MethodPost)
	api.Handle("/context", protect("memory:read", s.handleContext)).Methods(http.MethodPost)

	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", genericErrorMessage, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
