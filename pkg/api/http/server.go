package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/msgflow/internal/application/orchestrator"
	"github.com/aescanero/msgflow/internal/application/registry"
	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker reports whether the execution backend can take work
type HealthChecker interface {
	IsHealthy() bool
}

// EventHistory returns the recorded events of a session
type EventHistory interface {
	History(ctx context.Context, sessionID string) ([]domain.EventRecord, error)
}

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	manager  *orchestrator.Manager
	registry *registry.Registry
	health   HealthChecker
	events   EventHistory
	logger   *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port     int
	Manager  *orchestrator.Manager
	Registry *registry.Registry

	// Health is optional; without it /health always reports healthy
	Health HealthChecker

	// Events is optional; without it the event history endpoint answers 503
	Events EventHistory

	// MetricsHandler defaults to the default Prometheus registry handler
	MetricsHandler http.Handler

	Logger *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:   router,
		manager:  cfg.Manager,
		registry: cfg.Registry,
		health:   cfg.Health,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}

	metrics := cfg.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Flow endpoints
		v1.POST("/flows", s.handleSubmitFlow)
		v1.GET("/flows", s.handleListFlows)
		v1.GET("/flows/:id", s.handleGetFlow)
		v1.GET("/flows/:id/result", s.handleGetResult)
		v1.GET("/flows/:id/events", s.handleGetEvents)
		v1.POST("/flows/:id/stop", s.handleStopFlow)
		v1.DELETE("/flows/:id", s.handleDeleteFlow)

		// Aggregates over active flows
		v1.GET("/statistics", s.handleStatistics)
	}
}

// SetupWebSocket adds the per-session event stream to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleFlowStream(*gin.Context)
}) {
	s.router.GET("/api/v1/flows/:id/ws", handler.HandleFlowStream)
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
