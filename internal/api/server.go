// Package api exposes the verification endpoint, the admin management
// API and the live verification event feed.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"license-server/internal/auth"
	"license-server/internal/cache"
	"license-server/internal/database"
	"license-server/internal/events"
	"license-server/internal/logging"
	"license-server/internal/verification"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per client IP
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// AttemptResetter is the attempt tracker surface the admin API needs
type AttemptResetter interface {
	Reset(ctx context.Context, key string) error
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	engine      *verification.Engine
	repo        *database.Repository
	ledger      *database.BindingLedger
	audit       *database.AuditRepository
	verifyCache *cache.VerificationCache
	tracker     AttemptResetter
	eventBus    *events.EventBus
	authService *auth.Service
	jwtManager  *auth.JWTManager
	rateLimiter *RateLimiter
	wsHub       *WSHub
	log         *logging.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins string
	ProductionMode bool
	RateLimit      int
	RateWindow     time.Duration
}

// NewServer creates a new API server
func NewServer(
	config ServerConfig,
	engine *verification.Engine,
	repo *database.Repository,
	ledger *database.BindingLedger,
	audit *database.AuditRepository,
	verifyCache *cache.VerificationCache,
	tracker AttemptResetter,
	eventBus *events.EventBus,
	authService *auth.Service,
	jwtManager *auth.JWTManager,
	logger *logging.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 120
	}
	if config.RateWindow <= 0 {
		config.RateWindow = time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if config.AllowedOrigins == "" || config.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(config.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		engine:      engine,
		repo:        repo,
		ledger:      ledger,
		audit:       audit,
		verifyCache: verifyCache,
		tracker:     tracker,
		eventBus:    eventBus,
		authService: authService,
		jwtManager:  jwtManager,
		rateLimiter: NewRateLimiter(config.RateLimit, config.RateWindow),
		wsHub:       NewWSHub(),
		log:         logger.WithComponent("api"),
	}

	server.setupRoutes()

	// Feed every bus event into the websocket broadcast
	if eventBus != nil {
		eventBus.SubscribeAll(server.wsHub.BroadcastEvent)
	}
	go server.wsHub.Run()

	return server
}

// rateLimitMiddleware limits verification requests per client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)

	// Public verification endpoint
	v1 := s.router.Group("/api/v1")
	v1.Use(s.rateLimitMiddleware())
	{
		v1.POST("/verify", s.handleVerify)
	}

	// Admin authentication
	s.router.POST("/api/auth/login", s.handleLogin)

	// Admin management API
	admin := s.router.Group("/api/admin")
	if s.jwtManager != nil {
		admin.Use(auth.Middleware(s.jwtManager))
	}
	{
		admin.POST("/licenses", s.handleCreateLicense)
		admin.GET("/licenses", s.handleListLicenses)
		admin.GET("/licenses/:id", s.handleGetLicense)
		admin.POST("/licenses/:id/suspend", s.handleSuspendLicense)
		admin.POST("/licenses/:id/reactivate", s.handleReactivateLicense)
		admin.POST("/licenses/:id/revoke", s.handleRevokeLicense)
		admin.POST("/licenses/:id/renew", s.handleRenewLicense)
		admin.GET("/licenses/:id/bindings", s.handleListBindings)
		admin.DELETE("/licenses/:id/bindings/:domain", s.handleUnbindDomain)
		admin.POST("/licenses/:id/reset-attempts", s.handleResetAttempts)

		admin.GET("/logs", s.handleRecentLogs)
		admin.GET("/logs/suspicious", s.handleSuspiciousActivity)
		admin.GET("/logs/key/:key", s.handleLogsByKey)
	}

	// Live verification feed
	s.router.GET("/ws/verifications", s.handleWebSocket)
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{
		"status":     "ok",
		"timestamp":  time.Now().UTC(),
		"ws_clients": s.wsHub.GetClientCount(),
	}

	if s.verifyCache != nil {
		status["cache_backend"] = s.verifyCache.Backend()
		if s.verifyCache.Healthy() {
			status["cache"] = "ok"
		} else {
			status["cache"] = "degraded"
		}
	}

	if s.repo != nil {
		if err := s.repo.HealthCheck(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}

	c.JSON(http.StatusOK, status)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}
