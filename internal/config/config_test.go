package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.RateLimit.DefaultPerMinute != 120 {
		t.Errorf("expected default rate limit 120, got %d", cfg.RateLimit.DefaultPerMinute)
	}
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9090"
  request_timeout: 15s
graph:
  addr: "falkor:6379"
rate_limit:
  default_per_minute: 30
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.RequestTimeout != 15*time.Second {
		t.Errorf("expected request timeout 15s, got %v", cfg.HTTP.RequestTimeout)
	}
	if cfg.Graph.Addr != "falkor:6379" {
		t.Errorf("expected graph addr falkor:6379, got %q", cfg.Graph.Addr)
	}
	if cfg.RateLimit.DefaultPerMinute != 30 {
		t.Errorf("expected rate limit 30, got %d", cfg.RateLimit.DefaultPerMinute)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected level debug, got %q", cfg.Log.Level)
	}

	// Sections absent from the file keep their defaults.
	if cfg.Search.BaseURL != "http://localhost:8090" {
		t.Errorf("expected default search url, got %q", cfg.Search.BaseURL)
	}
	if cfg.Tasks.Workers != 64 {
		t.Errorf("expected default workers 64, got %d", cfg.Tasks.Workers)
	}
}

func TestEnvOverlayBeatsFile(t *testing.T) {
	path := writeFile(t, `
graph:
  addr: "from-file:6379"
`)
	t.Setenv("ENGRAM_GRAPH_ADDR", "from-env:6379")
	t.Setenv("ENGRAM_RATE_LIMIT_DEFAULT", "7")
	t.Setenv("ENGRAM_NATS_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Graph.Addr != "from-env:6379" {
		t.Errorf("expected env to win, got %q", cfg.Graph.Addr)
	}
	if cfg.RateLimit.DefaultPerMinute != 7 {
		t.Errorf("expected rate limit 7, got %d", cfg.RateLimit.DefaultPerMinute)
	}
	if cfg.NATS.Enabled {
		t.Error("expected nats disabled via env")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeFile(t, `
log:
  level: verbose
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown log level")
	} else if !strings.Contains(err.Error(), "log.level") {
		t.Errorf("expected log.level in error, got %v", err)
	}

	t.Setenv("ENGRAM_RATE_LIMIT_DEFAULT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed env override")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Graph.Addr != "localhost:6379" {
		t.Errorf("expected default graph addr, got %q", cfg.Graph.Addr)
	}
}
