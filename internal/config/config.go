package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Auth        AuthConfig        `json:"auth"`
	Backends    BackendsConfig    `json:"backends"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Redis       RedisConfig       `json:"redis"`
	Database    DatabaseConfig    `json:"database"`
	HealthCheck HealthCheckConfig `json:"health_check"`
}

type ServerConfig struct {
	Port            string   `json:"port"`
	Environment     string   `json:"environment"`
	UpstreamTimeout Duration `json:"upstream_timeout"`
}

type AuthConfig struct {
	// Empty disables authentication
	APIToken string `json:"-"`
}

type BackendsConfig struct {
	// Backend names in rotation order; empty enables every known backend
	Enabled  []string                 `json:"enabled"`
	Limits   map[string]LimitOverride `json:"limits"`
	BaseURLs map[string]string        `json:"base_urls"`
}

type LimitOverride struct {
	TokensPerDay      int `json:"tokens_per_day"`
	RequestsPerDay    int `json:"requests_per_day"`
	RequestsPerMinute int `json:"requests_per_minute"`
}

// Limits applied to clients of the router, not to upstream backends
type RateLimitConfig struct {
	Window      Duration `json:"window"`
	MaxRequests int      `json:"max_requests"`
	Algorithm   string   `json:"algorithm"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type DatabaseConfig struct {
	URL string `json:"-"`
}

func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

type HealthCheckConfig struct {
	Interval Duration `json:"interval"`
	Timeout  Duration `json:"timeout"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3000",
			Environment:     "development",
			UpstreamTimeout: Duration{60 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Window:      Duration{time.Minute},
			MaxRequests: 100,
			Algorithm:   "fixed_window",
		},
		Redis: RedisConfig{
			Port: "6379",
		},
		HealthCheck: HealthCheckConfig{
			Interval: Duration{time.Minute},
			Timeout:  Duration{5 * time.Second},
		},
	}
}

// Load reads the optional JSON file at path and then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := json.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Window.Duration <= 0 || cfg.RateLimit.MaxRequests <= 0 {
		return nil, errors.New("rate limit window and max requests must be positive")
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnvString("PORT", c.Server.Port)
	c.Server.Environment = getEnvString("ENVIRONMENT", c.Server.Environment)
	c.Auth.APIToken = getEnvString("API_TOKEN", c.Auth.APIToken)
	c.Redis.Host = getEnvString("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvString("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnvString("REDIS_PASSWORD", c.Redis.Password)
	c.Database.URL = getEnvString("DATABASE_URL", c.Database.URL)
	c.RateLimit.Algorithm = getEnvString("RATE_LIMIT_ALGORITHM", c.RateLimit.Algorithm)

	var err error
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.RateLimit.MaxRequests, err = getEnvInt("RATE_LIMIT_MAX_REQUESTS", c.RateLimit.MaxRequests); err != nil {
		return err
	}

	windowMs, err := getEnvInt("RATE_LIMIT_WINDOW_MS", int(c.RateLimit.Window.Duration/time.Millisecond))
	if err != nil {
		return err
	}
	c.RateLimit.Window.Duration = time.Duration(windowMs) * time.Millisecond

	if c.HealthCheck.Interval.Duration, err = getEnvDuration("HEALTHCHECK_INTERVAL", c.HealthCheck.Interval.Duration); err != nil {
		return err
	}
	if c.Server.UpstreamTimeout.Duration, err = getEnvDuration("UPSTREAM_TIMEOUT", c.Server.UpstreamTimeout.Duration); err != nil {
		return err
	}

	if enabled := os.Getenv("ENABLED_PROVIDERS"); enabled != "" {
		c.Backends.Enabled = splitList(enabled)
	}

	return nil
}

// Credential returns the API key for a backend from <NAME>_API_KEY.
func (c *Config) Credential(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix(name) + "_API_KEY"))
}

// BaseURL returns the endpoint override for a backend from <NAME>_BASE_URL
// or the config file, or "" to keep the built-in one.
func (c *Config) BaseURL(name string) string {
	if url := strings.TrimSpace(os.Getenv(envPrefix(name) + "_BASE_URL")); url != "" {
		return url
	}
	for key, url := range c.Backends.BaseURLs {
		if strings.EqualFold(key, name) {
			return url
		}
	}
	return ""
}

// LimitOverrides merges file overrides with <NAME>_TOKENS_PER_DAY,
// <NAME>_REQUESTS_PER_DAY and <NAME>_REQUESTS_PER_MINUTE for each name.
// Environment values win.
func (c *Config) LimitOverrides(names []string) (map[string]LimitOverride, error) {
	overrides := make(map[string]LimitOverride, len(c.Backends.Limits))
	for name, override := range c.Backends.Limits {
		overrides[strings.ToLower(name)] = override
	}

	for _, name := range names {
		prefix := envPrefix(name)
		override := overrides[name]

		var err error
		if override.TokensPerDay, err = getEnvInt(prefix+"_TOKENS_PER_DAY", override.TokensPerDay); err != nil {
			return nil, err
		}
		if override.RequestsPerDay, err = getEnvInt(prefix+"_REQUESTS_PER_DAY", override.RequestsPerDay); err != nil {
			return nil, err
		}
		if override.RequestsPerMinute, err = getEnvInt(prefix+"_REQUESTS_PER_MINUTE", override.RequestsPerMinute); err != nil {
			return nil, err
		}

		if override != (LimitOverride{}) {
			overrides[name] = override
		}
	}

	return overrides, nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

// Duration reads JSON strings such as "30s" or "1m"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}

	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
