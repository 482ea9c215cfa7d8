package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/jsonx"
	"github.com/engram-labs/engram/internal/temporal"
)

// Record is one stored token grant. Timestamps are ms since epoch; zero
// ExpiresAt means the token never expires.
type Record struct {
	ID         string
	Prefix     string
	Name       string
	UserID     string
	OrgID      string
	OrgSlug    string
	Scopes     []string
	RateLimit  int
	GrantType  string
	ClientID   string
	IsActive   bool
	CreatedAt  int64
	ExpiresAt  int64
	RevokedAt  int64
	LastUsedAt int64
}

// Store is the lookup surface the authenticator consumes. A nil record with
// a nil error means the token is unknown, revoked, or expired.
type Store interface {
	ValidateAPIKey(ctx context.Context, raw string) (*Record, error)
	ValidateOAuthToken(ctx context.Context, raw string) (*Record, error)
	RecordLastUsed(ctx context.Context, id string) error
}

const (
	tokenKeyPrefix = "token:"
	tokenIDIndex   = "token:ids"
	tokenDigestSet = "token:digests"
)

// StoreConfig holds configuration for the redis token store.
type StoreConfig struct {
	// HotCacheTTL bounds how stale a cached grant may be; revocation takes
	// at most this long to propagate within one process.
	HotCacheTTL  time.Duration
	HotCacheSize int64
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HotCacheTTL:  30 * time.Second,
		HotCacheSize: 10000,
	}
}

// RedisStore keeps token grants as redis hashes at token:{sha256} with an
// in-process ristretto cache in front of the hot path.
type RedisStore struct {
	rdb    *redis.Client
	hot    *ristretto.Cache[string, *Record]
	cfg    StoreConfig
	clock  temporal.Clock
	logger *zap.Logger
}

// NewRedisStore creates a token store backed by the given redis client.
func NewRedisStore(rdb *redis.Client, cfg StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("auth: redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultStoreConfig()
	if cfg.HotCacheTTL <= 0 {
		cfg.HotCacheTTL = def.HotCacheTTL
	}
	if cfg.HotCacheSize <= 0 {
		cfg.HotCacheSize = def.HotCacheSize
	}

	hot, err := ristretto.NewCache(&ristretto.Config[string, *Record]{
		NumCounters: cfg.HotCacheSize * 10,
		MaxCost:     cfg.HotCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: hot cache: %w", err)
	}

	return &RedisStore{
		rdb:    rdb,
		hot:    hot,
		cfg:    cfg,
		clock:  temporal.Now,
		logger: logger.Named("token_store"),
	}, nil
}

// WithClock swaps the wall clock, for tests.
func (s *RedisStore) WithClock(clock temporal.Clock) *RedisStore {
	s.clock = clock
	return s
}

// Close releases the hot cache.
func (s *RedisStore) Close() {
	s.hot.Close()
}

// ValidateAPIKey resolves a live or test API key.
func (s *RedisStore) ValidateAPIKey(ctx context.Context, raw string) (*Record, error) {
	return s.lookup(ctx, raw)
}

// ValidateOAuthToken resolves an oauth or client-credentials bearer.
func (s *RedisStore) ValidateOAuthToken(ctx context.Context, raw string) (*Record, error) {
	return s.lookup(ctx, raw)
}

func (s *RedisStore) lookup(ctx context.Context, raw string) (*Record, error) {
	digest := SHA256Hex(raw)
	now := s.clock()

	if rec, ok := s.hot.Get(digest); ok {
		if !qualifies(rec, now) {
			s.hot.Del(digest)
			return nil, nil
		}
		return rec, nil
	}

	fields, err := s.rdb.HGetAll(ctx, tokenKeyPrefix+digest).Result()
	if err != nil {
		return nil, fmt.Errorf("auth: token lookup: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec, err := recordFromFields(fields)
	if err != nil {
		// Corrupt grants authenticate nobody.
		s.logger.Warn("Malformed token record",
			zap.String("digest_prefix", digest[:8]),
			zap.Error(err))
		return nil, nil
	}
	if !qualifies(rec, now) {
		return nil, nil
	}

	s.hot.SetWithTTL(digest, rec, 1, s.cfg.HotCacheTTL)
	return rec, nil
}

// RecordLastUsed stamps last_used_at for the grant with the given id.
func (s *RedisStore) RecordLastUsed(ctx context.Context, id string) error {
	digest, err := s.rdb.HGet(ctx, tokenIDIndex, id).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: resolve token id: %w", err)
	}
	now := strconv.FormatInt(s.clock(), 10)
	if err := s.rdb.HSet(ctx, tokenKeyPrefix+digest, "last_used_at", now).Err(); err != nil {
		return fmt.Errorf("auth: record last used: %w", err)
	}
	return nil
}

// Create persists a new grant for the given plaintext token. Only the
// digest and prefix are stored.
func (s *RedisStore) Create(ctx context.Context, raw string, rec *Record) error {
	if _, err := Parse(raw); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("auth: record missing id")
	}
	digest := SHA256Hex(raw)
	rec.Prefix = Prefix(raw)
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.clock()
	}

	fields, err := fieldsFromRecord(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, tokenKeyPrefix+digest, fields)
	pipe.HSet(ctx, tokenIDIndex, rec.ID, digest)
	pipe.SAdd(ctx, tokenDigestSet, digest)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("auth: create token: %w", err)
	}
	return nil
}

// Revoke deactivates the grant with the given id.
func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	digest, err := s.rdb.HGet(ctx, tokenIDIndex, id).Result()
	if err == redis.Nil {
		return fmt.Errorf("auth: token %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("auth: resolve token id: %w", err)
	}
	now := strconv.FormatInt(s.clock(), 10)
	err = s.rdb.HSet(ctx, tokenKeyPrefix+digest,
		"is_active", "0",
		"revoked_at", now,
	).Err()
	if err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	s.hot.Del(digest)
	return nil
}

// List returns every stored grant, for operator tooling.
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	digests, err := s.rdb.SMembers(ctx, tokenDigestSet).Result()
	if err != nil {
		return nil, fmt.Errorf("auth: list tokens: %w", err)
	}
	records := make([]*Record, 0, len(digests))
	for _, digest := range digests {
		fields, err := s.rdb.HGetAll(ctx, tokenKeyPrefix+digest).Result()
		if err != nil {
			return nil, fmt.Errorf("auth: list tokens: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromFields(fields)
		if err != nil {
			s.logger.Warn("Skipping malformed token record",
				zap.String("digest_prefix", digest[:8]),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func qualifies(rec *Record, now int64) bool {
	if rec == nil || !rec.IsActive {
		return false
	}
	if rec.RevokedAt > 0 {
		return false
	}
	if rec.ExpiresAt > 0 && rec.ExpiresAt < now {
		return false
	}
	return true
}

func recordFromFields(fields map[string]string) (*Record, error) {
	rec := &Record{
		ID:        fields["id"],
		Prefix:    fields["prefix"],
		Name:      fields["name"],
		UserID:    fields["user_id"],
		OrgID:     fields["org_id"],
		OrgSlug:   fields["org_slug"],
		GrantType: fields["grant_type"],
		ClientID:  fields["client_id"],
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("missing id field")
	}
	if scopes := fields["scopes"]; scopes != "" {
		if err := jsonx.UnmarshalFromString(scopes, &rec.Scopes); err != nil {
			return nil, fmt.Errorf("scopes field: %w", err)
		}
	}
	rec.IsActive = fields["is_active"] == "1" || fields["is_active"] == "true"

	var err error
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"created_at", &rec.CreatedAt},
		{"expires_at", &rec.ExpiresAt},
		{"revoked_at", &rec.RevokedAt},
		{"last_used_at", &rec.LastUsedAt},
	} {
		if v := fields[f.name]; v != "" {
			if *f.dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("%s field: %w", f.name, err)
			}
		}
	}
	if v := fields["rate_limit"]; v != "" {
		if rec.RateLimit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("rate_limit field: %w", err)
		}
	}
	return rec, nil
}

func fieldsFromRecord(rec *Record) (map[string]any, error) {
	scopes, err := jsonx.MarshalToString(rec.Scopes)
	if err != nil {
		return nil, fmt.Errorf("auth: encode scopes: %w", err)
	}
	active := "0"
	if rec.IsActive {
		active = "1"
	}
	return map[string]any{
		"id":           rec.ID,
		"prefix":       rec.Prefix,
		"name":         rec.Name,
		"user_id":      rec.UserID,
		"org_id":       rec.OrgID,
		"org_slug":     rec.OrgSlug,
		"scopes":       scopes,
		"rate_limit":   strconv.Itoa(rec.RateLimit),
		"grant_type":   rec.GrantType,
		"client_id":    rec.ClientID,
		"is_active":    active,
		"created_at":   strconv.FormatInt(rec.CreatedAt, 10),
		"expires_at":   strconv.FormatInt(rec.ExpiresAt, 10),
		"revoked_at":   strconv.FormatInt(rec.RevokedAt, 10),
		"last_used_at": strconv.FormatInt(rec.LastUsedAt, 10),
	}, nil
}
