package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()

	keys := []string{
		"PORT", "ENVIRONMENT", "API_TOKEN", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
		"REDIS_DB", "DATABASE_URL", "RATE_LIMIT_ALGORITHM", "RATE_LIMIT_MAX_REQUESTS",
		"RATE_LIMIT_WINDOW_MS", "HEALTHCHECK_INTERVAL", "UPSTREAM_TIMEOUT", "ENABLED_PROVIDERS",
		"GROQ_API_KEY", "GROQ_REQUESTS_PER_MINUTE", "GROQ_TOKENS_PER_DAY", "GROQ_REQUESTS_PER_DAY",
		"CEREBRAS_REQUESTS_PER_DAY", "GROQ_BASE_URL", "OPENROUTER_BASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Errorf("Port = %q; want 3000", cfg.Server.Port)
	}
	if cfg.RateLimit.Window.Duration != time.Minute || cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("RateLimit = %+v; want 100 per minute", cfg.RateLimit)
	}
	if cfg.Redis.Enabled() || cfg.Database.Enabled() {
		t.Error("redis and database should be disabled by default")
	}
	if len(cfg.Backends.Enabled) != 0 {
		t.Errorf("Enabled = %v; want empty", cfg.Backends.Enabled)
	}
	if cfg.IsProduction() {
		t.Error("default environment should not be production")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `{
		"server": {"port": "8080", "environment": "production", "upstream_timeout": "20s"},
		"backends": {"enabled": ["groq"], "limits": {"groq": {"requests_per_day": 50}}},
		"rate_limit": {"window": "30s", "max_requests": 10, "algorithm": "sliding_window"},
		"redis": {"host": "cache", "port": "6380", "db": 2},
		"health_check": {"interval": "15s"}
	}`)

	t.Setenv("PORT", "9090")
	t.Setenv("ENABLED_PROVIDERS", "cerebras, groq ,")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q; want env override 9090", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("expected production environment from file")
	}
	if cfg.Server.UpstreamTimeout.Duration != 20*time.Second {
		t.Errorf("UpstreamTimeout = %v; want 20s", cfg.Server.UpstreamTimeout)
	}
	if got := cfg.Backends.Enabled; len(got) != 2 || got[0] != "cerebras" || got[1] != "groq" {
		t.Errorf("Enabled = %v; want [cerebras groq]", got)
	}
	if cfg.RateLimit.Window.Duration != 30*time.Second || cfg.RateLimit.MaxRequests != 25 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.Algorithm != "sliding_window" {
		t.Errorf("Algorithm = %q", cfg.RateLimit.Algorithm)
	}
	if cfg.Redis.GetRedisAddr() != "cache:6380" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.HealthCheck.Interval.Duration != 15*time.Second {
		t.Errorf("HealthCheck.Interval = %v", cfg.HealthCheck.Interval)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "invalid json", file: `{"server":`},
		{name: "bad duration", file: `{"health_check": {"interval": 15}}`},
		{name: "bad int env", env: map[string]string{"RATE_LIMIT_MAX_REQUESTS": "lots"}},
		{name: "bad duration env", env: map[string]string{"UPSTREAM_TIMEOUT": "soon"}},
		{name: "zero window", env: map[string]string{"RATE_LIMIT_WINDOW_MS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}

			if _, err := Load(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestConfig_CredentialAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "  gsk_test  ")
	t.Setenv("GROQ_REQUESTS_PER_MINUTE", "5")
	t.Setenv("CEREBRAS_REQUESTS_PER_DAY", "7")

	cfg := Default()
	cfg.Backends.Limits = map[string]LimitOverride{
		"Groq": {TokensPerDay: 500, RequestsPerMinute: 1},
	}

	if got := cfg.Credential("groq"); got != "gsk_test" {
		t.Errorf("Credential(groq) = %q", got)
	}
	if got := cfg.Credential("openrouter"); got != "" {
		t.Errorf("Credential(openrouter) = %q; want empty", got)
	}

	overrides, err := cfg.LimitOverrides([]string{"cerebras", "groq", "openrouter"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := overrides["groq"]; got != (LimitOverride{TokensPerDay: 500, RequestsPerMinute: 5}) {
		t.Errorf("groq override = %+v", got)
	}
	if got := overrides["cerebras"]; got != (LimitOverride{RequestsPerDay: 7}) {
		t.Errorf("cerebras override = %+v", got)
	}
	if _, ok := overrides["openrouter"]; ok {
		t.Error("openrouter should have no override")
	}
}

func TestConfig_BaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_BASE_URL", "http://localhost:3001/v1")

	cfg := Default()
	cfg.Backends.BaseURLs = map[string]string{
		"OpenRouter": "http://proxy.internal/api/v1",
		"groq":       "http://ignored",
	}

	tests := map[string]string{
		"groq":       "http://localhost:3001/v1",
		"openrouter": "http://proxy.internal/api/v1",
		"cerebras":   "",
	}

	for name, want := range tests {
		if got := cfg.BaseURL(name); got != want {
			t.Errorf("BaseURL(%s) = %q; want %q", name, got, want)
		}
	}
}
