package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/tenant"
)

type contextKey string

const (
	authContextKey   contextKey = "auth_context"
	tenantContextKey contextKey = "tenant_context"
)

// AuthContext describes the authenticated principal attached to a request.
type AuthContext struct {
	ID        string
	Prefix    string
	Method    Method
	Type      Type
	UserID    string
	OrgID     string
	OrgSlug   string
	Scopes    []string
	RateLimit int
	GrantType string
	ClientID  string
}

// HasScope reports whether the principal holds the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Tenant derives the tenant context used for graph routing.
func (a *AuthContext) Tenant() tenant.Context {
	return tenant.Context{
		OrgID:   a.OrgID,
		OrgSlug: a.OrgSlug,
		UserID:  a.UserID,
		Scopes:  a.Scopes,
	}
}

// WithAuth attaches the principal and its tenant context to ctx.
func WithAuth(ctx context.Context, a *AuthContext) context.Context {
	ctx = context.WithValue(ctx, authContextKey, a)
	return context.WithValue(ctx, tenantContextKey, a.Tenant())
}

// AuthFromContext returns the authenticated principal, if any.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	a, ok := ctx.Value(authContextKey).(*AuthContext)
	return a, ok
}

// TenantFromContext returns the tenant context, if any.
func TenantFromContext(ctx context.Context) (tenant.Context, bool) {
	t, ok := ctx.Value(tenantContextKey).(tenant.Context)
	return t, ok
}

// Sentinel failures mapped to 401 responses by the middleware.
var (
	ErrMissingHeader   = errors.New("auth: missing authorization header")
	ErrBadHeaderFormat = errors.New("auth: malformed authorization header")
	ErrInvalidToken    = errors.New("auth: invalid or expired token")
)

// Wire-visible 401 messages. Tests pin these exactly.
const (
	msgMissingHeader   = "Missing Authorization header"
	msgBadHeaderFormat = "Invalid Authorization header format. Expected: Bearer <token>"
	msgInvalidToken    = "Invalid or expired token"
)

// ErrorFunc writes one error envelope. The server package supplies it so the
// envelope shape lives in a single place.
type ErrorFunc func(w http.ResponseWriter, status int, code, message string, details any)

// Submitter runs fire-and-forget work. The tasks pool implements it.
type Submitter interface {
	Submit(fn func()) error
}

// AuthenticatorConfig holds configuration for the authenticator.
type AuthenticatorConfig struct {
	// NegativeDelay pads failed lookups to a minimum duration so a rejected
	// token and an unknown token are indistinguishable by response time.
	NegativeDelay time.Duration
}

// DefaultAuthenticatorConfig returns sensible defaults.
func DefaultAuthenticatorConfig() AuthenticatorConfig {
	return AuthenticatorConfig{NegativeDelay: 50 * time.Millisecond}
}

// Authenticator resolves bearer tokens into principals.
type Authenticator struct {
	store  Store
	tasks  Submitter
	cfg    AuthenticatorConfig
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator. tasks may be nil, in which case
// last-used stamps are written synchronously.
func NewAuthenticator(store Store, tasks Submitter, cfg AuthenticatorConfig, logger *zap.Logger) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		store:  store,
		tasks:  tasks,
		cfg:    cfg,
		logger: logger.Named("auth"),
	}, nil
}

// Authenticate resolves the Authorization header into a principal. Failures
// return one of the sentinel errors above, or the store's own error when the
// backend is unreachable.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*AuthContext, error) {
	start := time.Now()

	if header == "" {
		return nil, ErrMissingHeader
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, ErrBadHeaderFormat
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	shape, err := Parse(raw)
	if err != nil {
		a.normalize(start)
		return nil, ErrInvalidToken
	}

	var rec *Record
	switch shape.Method {
	case MethodAPIKey:
		rec, err = a.store.ValidateAPIKey(ctx, raw)
	default:
		rec, err = a.store.ValidateOAuthToken(ctx, raw)
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		a.normalize(start)
		return nil, ErrInvalidToken
	}

	a.stampLastUsed(rec.ID)

	return &AuthContext{
		ID:        rec.ID,
		Prefix:    rec.Prefix,
		Method:    shape.Method,
		Type:      shape.Type,
		UserID:    rec.UserID,
		OrgID:     rec.OrgID,
		OrgSlug:   rec.OrgSlug,
		Scopes:    rec.Scopes,
		RateLimit: rec.RateLimit,
		GrantType: rec.GrantType,
		ClientID:  rec.ClientID,
	}, nil
}

// stampLastUsed records token use without blocking or failing the request.
func (a *Authenticator) stampLastUsed(id string) {
	write := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.RecordLastUsed(ctx, id); err != nil {
			a.logger.Warn("Failed to record token use",
				zap.String("token_id", id),
				zap.Error(err))
		}
	}
	if a.tasks == nil {
		write()
		return
	}
	if err := a.tasks.Submit(write); err != nil {
		a.logger.Warn("Last-used stamp dropped",
			zap.String("token_id", id),
			zap.Error(err))
	}
}

func (a *Authenticator) normalize(start time.Time) {
	if a.cfg.NegativeDelay <= 0 {
		return
	}
	if elapsed := time.Since(start); elapsed < a.cfg.NegativeDelay {
		time.Sleep(a.cfg.NegativeDelay - elapsed)
	}
}

// Middleware authenticates every request and rejects with the wire-visible
// 401 messages. Authorization failures have no observable side effects.
func (a *Authenticator) Middleware(writeError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				switch {
				case errors.Is(err, ErrMissingHeader):
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgMissingHeader, nil)
				case errors.Is(err, ErrBadHeaderFormat):
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgBadHeaderFormat, nil)
				case errors.Is(err, ErrInvalidToken):
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgInvalidToken, nil)
				default:
					a.logger.Error("Token lookup failed", zap.Error(err))
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), actx)))
		})
	}
}

// RequireScopes gates a route on the principal holding every listed scope.
// The 403 details name required, missing, and granted scopes.
func RequireScopes(writeError ErrorFunc, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx, ok := AuthFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgInvalidToken, nil)
				return
			}
			var missing []string
			for _, scope := range required {
				if !actx.HasScope(scope) {
					missing = append(missing, scope)
				}
			}
			if len(missing) > 0 {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", map[string]any{
					"required": required,
					"missing":  missing,
					"granted":  actx.Scopes,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyScope gates a route on the principal holding at least one listed
// scope. The 403 details omit missing: with OR semantics no single scope is
// individually required.
func RequireAnyScope(writeError ErrorFunc, accepted ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx, ok := AuthFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgInvalidToken, nil)
				return
			}
			for _, scope := range accepted {
				if actx.HasScope(scope) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", map[string]any{
				"required": accepted,
				"granted":  actx.Scopes,
			})
		})
	}
}
