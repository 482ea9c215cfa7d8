// Package config loads service configuration from a YAML file with an
// ENGRAM_* environment overlay. Packages below cmd/ never read the
// environment; they receive values by injection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type Graph struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

type Search struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
}

// NATS configures the audit event stream.
type NATS struct {
	URL           string `yaml:"url"`
	Enabled       bool   `yaml:"enabled"`
	Stream        string `yaml:"stream"`
	Subject       string `yaml:"subject"`
	BufferSize    int    `yaml:"buffer_size"`
	RetentionDays int    `yaml:"retention_days"`
}

// Auth configures the token store. The store may share the graph's redis
// instance or point at a dedicated one.
type Auth struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	HotCacheTTL   time.Duration `yaml:"hot_cache_ttl"`
	HotCacheSize  int64         `yaml:"hot_cache_size"`
	NegativeDelay time.Duration `yaml:"negative_delay"`
}

type RateLimit struct {
	DefaultPerMinute int `yaml:"default_per_minute"`
}

type Tasks struct {
	Workers      int           `yaml:"workers"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Graph     Graph     `yaml:"graph"`
	Search    Search    `yaml:"search"`
	NATS      NATS      `yaml:"nats"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Tasks     Tasks     `yaml:"tasks"`
	Log       Log       `yaml:"log"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:           ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Graph: Graph{
			Addr:           "localhost:6379",
			MaxRetries:     5,
			RetryInterval:  2 * time.Second,
			RequestTimeout: 10 * time.Second,
			QueryTimeout:   10 * time.Second,
		},
		Search: Search{
			BaseURL:        "http://localhost:8090",
			RequestTimeout: 30 * time.Second,
			RatePerSecond:  50,
			Burst:          100,
		},
		NATS: NATS{
			URL:           "nats://localhost:4222",
			Enabled:       true,
			Stream:        "AUDIT",
			Subject:       "audit",
			BufferSize:    1000,
			RetentionDays: 30,
		},
		Auth: Auth{
			RedisAddr:     "localhost:6379",
			RedisDB:       1,
			HotCacheTTL:   30 * time.Second,
			HotCacheSize:  10000,
			NegativeDelay: 50 * time.Millisecond,
		},
		RateLimit: RateLimit{DefaultPerMinute: 120},
		Tasks: Tasks{
			Workers:      64,
			DrainTimeout: 5 * time.Second,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the file at path over the defaults, applies the environment
// overlay, and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays the deployment-varying values. Addresses, credentials,
// and the log level move between environments; tuning knobs stay in the file.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("ENGRAM_HTTP_ADDR", &c.HTTP.Addr)
	setString("ENGRAM_GRAPH_ADDR", &c.Graph.Addr)
	setString("ENGRAM_GRAPH_PASSWORD", &c.Graph.Password)
	setString("ENGRAM_SEARCH_URL", &c.Search.BaseURL)
	setString("ENGRAM_NATS_URL", &c.NATS.URL)
	setString("ENGRAM_AUTH_REDIS_ADDR", &c.Auth.RedisAddr)
	setString("ENGRAM_AUTH_REDIS_PASSWORD", &c.Auth.RedisPassword)
	setString("ENGRAM_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("ENGRAM_RATE_LIMIT_DEFAULT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ENGRAM_RATE_LIMIT_DEFAULT: %w", err)
		}
		c.RateLimit.DefaultPerMinute = n
	}
	if v := os.Getenv("ENGRAM_NATS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ENGRAM_NATS_ENABLED: %w", err)
		}
		c.NATS.Enabled = b
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config: http.addr is required")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("config: http.request_timeout must be positive")
	}
	if c.Graph.Addr == "" {
		return fmt.Errorf("config: graph.addr is required")
	}
	if c.Search.BaseURL == "" {
		return fmt.Errorf("config: search.base_url is required")
	}
	if c.Auth.RedisAddr == "" {
		return fmt.Errorf("config: auth.redis_addr is required")
	}
	if c.RateLimit.DefaultPerMinute <= 0 {
		return fmt.Errorf("config: rate_limit.default_per_minute must be positive")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("config: tasks.workers must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
