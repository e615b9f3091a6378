// Package gin implements the facilitator's external HTTP interface
// (spec.md §6: POST /verify, POST /settle, GET /supported) plus the
// ambient liveness/readiness/metrics endpoints, all on top of
// github.com/gin-gonic/gin.
package gin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402proto/facilitator/internal/cache"
	"github.com/x402proto/facilitator/internal/config"
	"github.com/x402proto/facilitator/internal/health"
	"github.com/x402proto/facilitator/internal/metrics"
	"github.com/x402proto/facilitator/internal/ratelimit"
	"github.com/x402proto/facilitator/types"
)

// Version is the service version, set at build time via -ldflags.
var Version = "dev"

// Facilitator is the dispatch engine the server fronts. *core.Facilitator
// satisfies this.
type Facilitator interface {
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error)
	GetSupported() types.SupportedResponse
}

// Server is the facilitator's HTTP front end.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	facilitator Facilitator
	config      *config.Config
	metrics     *metrics.Metrics
	limiter     ratelimit.Limiter
	health      *health.Checker
}

// New builds a Server wired for facilitator, with Redis-backed rate
// limiting and readiness checks when redisClient is non-nil.
func New(facilitator Facilitator, redisClient *cache.Client, cfg *config.Config) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()
	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
	} else {
		limiter = allowAllLimiter{}
	}
	healthChecker := health.NewChecker(redisClient, Version)

	router := gin.New()

	s := &Server{
		router:      router,
		facilitator: facilitator,
		config:      cfg,
		metrics:     m,
		limiter:     limiter,
		health:      healthChecker,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Metrics exposes the server's Prometheus metrics so callers (e.g. the
// Upto sweeper) can record sweep-driven settlements on the same
// registry the HTTP surface reports on.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware())
	s.router.Use(CORSMiddleware())
	s.router.Use(s.metrics.Middleware())
	s.router.Use(RateLimitMiddleware(s.limiter))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health.HealthHandler())
	s.router.GET("/ready", s.health.ReadyHandler())
	s.router.GET("/metrics", s.metrics.Handler())

	s.router.POST("/verify", s.handleVerify)
	s.router.POST("/settle", s.handleSettle)
	s.router.GET("/supported", s.handleSupported)
}

// Start binds the HTTP listener and blocks until SIGINT/SIGTERM, then
// drains in-flight requests before returning.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting facilitator server on port %d", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	s.waitForShutdown()
}

func (s *Server) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// allowAllLimiter is used when no Redis is configured: rate limiting
// fails open rather than the service refusing to start.
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(ctx context.Context, key string) (bool, ratelimit.Info, error) {
	return true, ratelimit.Info{}, nil
}
