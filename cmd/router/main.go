package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aman-churiwal/chat-router/internal/backend"
	"github.com/aman-churiwal/chat-router/internal/config"
	"github.com/aman-churiwal/chat-router/internal/healthcheck"
	"github.com/aman-churiwal/chat-router/internal/router"
	"github.com/aman-churiwal/chat-router/internal/server"
	"github.com/aman-churiwal/chat-router/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}

	deps := server.Deps{}

	if cfg.Redis.Enabled() {
		redis, err := storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()

		log.Println("Connected to redis successfully")
		deps.Redis = redis
	}

	if cfg.Database.Enabled() {
		postgres, err := storage.NewPostgres(cfg.Database.URL, !cfg.IsProduction())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		log.Println("Connected to database successfully")
		deps.Postgres = postgres
	}

	deps.Checker = newChecker(cfg, registry)
	deps.Checker.Start()

	srv, err := server.New(cfg, router.New(registry), deps)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func newRegistry(cfg *config.Config) (*backend.Registry, error) {
	catalog := backend.Catalog()
	for i := range catalog {
		if url := cfg.BaseURL(catalog[i].Name); url != "" {
			catalog[i].BaseURL = url
		}
	}

	var names []string
	for _, name := range cfg.Backends.Enabled {
		names = append(names, strings.ToLower(strings.TrimSpace(name)))
	}
	if len(names) == 0 {
		for _, desc := range catalog {
			names = append(names, desc.Name)
		}
	}

	overrides, err := cfg.LimitOverrides(names)
	if err != nil {
		return nil, err
	}

	limits := make(map[string]backend.LimitOverride, len(overrides))
	for name, o := range overrides {
		limits[name] = backend.LimitOverride{
			TokensPerDay:      o.TokensPerDay,
			RequestsPerDay:    o.RequestsPerDay,
			RequestsPerMinute: o.RequestsPerMinute,
		}
	}

	return backend.NewRegistry(backend.RegistryConfig{
		Catalog:     catalog,
		Enabled:     cfg.Backends.Enabled,
		Credentials: cfg.Credential,
		Overrides:   limits,
		Factory:     backend.OpenAIFactory(newUpstreamClient(cfg.Server.UpstreamTimeout.Duration)),
		Clock:       time.Now,
	})
}

// The timeout bounds connecting and waiting for response headers only, so
// long streams are not cut off.
func newUpstreamClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{Transport: transport}
}

func newChecker(cfg *config.Config, registry *backend.Registry) *healthcheck.Checker {
	var targets []healthcheck.Target
	for _, b := range registry.Backends() {
		if pinger, ok := b.Adapter.(healthcheck.Pinger); ok {
			targets = append(targets, healthcheck.Target{Name: b.Name(), Pinger: pinger})
		}
	}

	return healthcheck.NewChecker(healthcheck.Config{
		Targets:  targets,
		Interval: cfg.HealthCheck.Interval.Duration,
		Timeout:  cfg.HealthCheck.Timeout.Duration,
	})
}
