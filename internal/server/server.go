package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/aman-churiwal/chat-router/internal/config"
	"github.com/aman-churiwal/chat-router/internal/handler"
	"github.com/aman-churiwal/chat-router/internal/healthcheck"
	"github.com/aman-churiwal/chat-router/internal/middleware"
	"github.com/aman-churiwal/chat-router/internal/ratelimit"
	"github.com/aman-churiwal/chat-router/internal/repository"
	"github.com/aman-churiwal/chat-router/internal/router"
	"github.com/aman-churiwal/chat-router/internal/service"
	"github.com/aman-churiwal/chat-router/internal/storage"
	"github.com/gin-gonic/gin"
)

const (
	serviceName    = "chat-router"
	serviceVersion = "1.0.0"
)

// Optional infrastructure. Nil fields disable the features that need them.
type Deps struct {
	Redis    *storage.RedisClient
	Postgres *storage.Postgres
	Checker  *healthcheck.Checker
}

type Server struct {
	engine         *gin.Engine
	config         *config.Config
	router         *router.Router
	deps           Deps
	limiter        ratelimit.Limiter
	dispatchLogger *middleware.DispatchLogger
	chatHandler    *handler.ChatHandler
	httpServer     *http.Server
	startTime      time.Time
}

func New(cfg *config.Config, r *router.Router, deps Deps) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:    gin.New(),
		config:    cfg,
		router:    r,
		deps:      deps,
		startTime: time.Now(),
	}

	var health handler.HealthReporter
	if deps.Checker != nil {
		health = deps.Checker
	}
	s.chatHandler = handler.NewChatHandler(r, health)

	if deps.Redis != nil {
		limiter, err := ratelimit.NewLimiter(deps.Redis, cfg.RateLimit.Algorithm, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window.Duration)
		if err != nil {
			return nil, err
		}
		s.limiter = limiter
		log.Printf("Client rate limiting: %s, %d requests per %v", limiter.Name(), limiter.Limit(), limiter.Window())
	} else {
		log.Printf("Warning: Redis not configured, client rate limiting is disabled")
	}

	if deps.Postgres != nil {
		s.dispatchLogger = middleware.NewDispatchLogger(repository.NewDispatchLogRepository(deps.Postgres), 1000)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())
	s.engine.Use(middleware.RequireToken(s.config.Auth.APIToken, "/", "/health"))

	if s.dispatchLogger != nil {
		s.engine.Use(s.dispatchLogger.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.root)
	s.engine.GET("/health", s.healthCheck)

	api := s.engine.Group("/api")
	if s.limiter != nil {
		api.Use(middleware.RateLimit(s.limiter))
	}
	{
		api.POST("/chat", s.chatHandler.Chat)
		api.POST("/chat/conversation", s.chatHandler.Conversation)
		api.POST("/chat/stream", s.chatHandler.Stream)
		api.GET("/providers/status", s.chatHandler.ProvidersStatus)
	}

	admin := s.engine.Group("/admin")
	{
		admin.GET("/status", s.adminStatus)

		if s.deps.Postgres != nil {
			analytics := handler.NewAnalyticsHandler(
				service.NewAnalyticsService(repository.NewDispatchLogRepository(s.deps.Postgres)),
			)
			admin.GET("/analytics", analytics.GetSummary)
			admin.GET("/logs", analytics.GetLogs)
			admin.DELETE("/logs", analytics.Cleanup)
		}
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        serviceName,
		"version":     serviceVersion,
		"description": "Chat completion router with rotation and failover across multiple AI providers",
		"endpoints": gin.H{
			"health":          "GET /health",
			"chat":            "POST /api/chat",
			"conversation":    "POST /api/chat/conversation",
			"stream":          "POST /api/chat/stream",
			"providersStatus": "GET /api/providers/status",
		},
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	statusCode := http.StatusOK
	status := "ok"

	if s.deps.Redis != nil {
		redisHealthy := true
		if err := s.deps.Redis.Ping(ctx); err != nil {
			redisHealthy = false
			log.Printf("Redis health check failed: %v", err)
		}
		checks["redis"] = redisHealthy
		if !redisHealthy {
			statusCode = http.StatusServiceUnavailable
		}
	}

	if s.deps.Postgres != nil {
		dbHealthy := true
		if err := s.deps.Postgres.Ping(ctx); err != nil {
			dbHealthy = false
			log.Printf("Database health check failed: %v", err)
		}
		checks["database"] = dbHealthy
		if !dbHealthy {
			statusCode = http.StatusServiceUnavailable
		}
	}

	// Backend reachability is reported but never fails the check
	if s.deps.Checker != nil {
		checks["backends"] = s.deps.Checker.OverallHealth().String()
	}

	if statusCode != http.StatusOK {
		status = "degraded"
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   serviceName,
		"version":   serviceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"providers": s.router.Registry().Len(),
		"checks":    checks,
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	response := gin.H{
		"router":    "running",
		"providers": s.router.Status(),
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().Unix(),
	}
	if s.deps.Checker != nil {
		response["reachability"] = s.deps.Checker.GetAllStatus()
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) Run(addr string) error {
	// No write timeout: streams stay open as long as the upstream keeps sending
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting chat router on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)
	log.Printf("Active providers: %d", s.router.Registry().Len())

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	if s.deps.Checker != nil {
		s.deps.Checker.Stop()
	}
	if s.dispatchLogger != nil {
		s.dispatchLogger.Close()
	}

	return err
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}
