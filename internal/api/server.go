// Package api exposes the run endpoints hit by external schedulers and a
// small diagnostics surface. Handlers stay thin: all decision logic lives in
// the autoentry and stops packages.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tradegate/internal/autoentry"
	"tradegate/internal/database"
	"tradegate/internal/stops"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
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

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool

	// RunToken is the shared secret automated callers present.
	RunToken string

	// LockTTL bounds how long a crashed run can block the next one.
	LockTTL time.Duration
}

// AutoEntryRunner starts one auto-entry pass.
type AutoEntryRunner interface {
	Run(ctx context.Context) (*autoentry.RunResult, error)
}

// StopsRunner starts one stop-lifecycle pass.
type StopsRunner interface {
	Run(ctx context.Context) (*stops.RunResult, error)
}

// GuardrailAdmin reads and resets guardrail state for diagnostics.
type GuardrailAdmin interface {
	database.GuardrailStore
}

// Server is the HTTP surface of the engine.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	autoEntry   AutoEntryRunner
	stops       StopsRunner
	guardrail   GuardrailAdmin
	lock        *database.RunLock
	rateLimiter *RateLimiter
	log         zerolog.Logger
}

// NewServer creates the API server.
func NewServer(
	config ServerConfig,
	autoEntry AutoEntryRunner,
	stopsRunner StopsRunner,
	guardrail GuardrailAdmin,
	lock *database.RunLock,
	log zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 2 * time.Minute
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Run-Token"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		autoEntry:   autoEntry,
		stops:       stopsRunner,
		guardrail:   guardrail,
		lock:        lock,
		rateLimiter: NewRateLimiter(30, time.Minute),
		log:         log,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.rateLimitMiddleware())

	runs := v1.Group("/runs", s.runTokenMiddleware())
	runs.POST("/auto-entry", s.handleAutoEntryRun)
	runs.POST("/stops", s.handleStopsRun)

	guard := v1.Group("/guardrail", s.runTokenMiddleware())
	guard.GET("", s.handleGuardrailState)
	guard.POST("/reset", s.handleGuardrailReset)
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"path":  path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("api server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
