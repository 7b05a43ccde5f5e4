// Package api exposes a read-only status and control surface over HTTP. It
// reports scheduler, cache and rate-limit diagnostics; it defines no trading
// wire protocol.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/autopilot"
	"crypto-trading-engine/internal/marketdata"
	"crypto-trading-engine/internal/stream"
)

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowOrigins   []string `json:"allow_origins"`
}

// Server is the HTTP status server
type Server struct {
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	scheduler  *autopilot.Scheduler
	data       *marketdata.Aggregator
	streams    *stream.Manager
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates the status API server
func NewServer(config ServerConfig, scheduler *autopilot.Scheduler, data *marketdata.Aggregator, streams *stream.Manager, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		config:    config,
		router:    router,
		scheduler: scheduler,
		data:      data,
		streams:   streams,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/status/:user", s.handleUserStatus)
		api.GET("/ratelimit", s.handleRateLimit)
		api.GET("/cache", s.handleCache)
		api.POST("/trigger", s.handleTrigger)
		api.POST("/stop", s.handleStop)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"scheduler": s.scheduler.Status(),
	}
	if s.streams != nil {
		status["streams"] = s.streams.Stats()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleUserStatus(c *gin.Context) {
	user := c.Param("user")
	outcome, ok := s.scheduler.LastOutcome(user)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle recorded for user"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleRateLimit(c *gin.Context) {
	status := s.data.Status()
	c.JSON(http.StatusOK, gin.H{"venues": status["venues"]})
}

func (s *Server) handleCache(c *gin.Context) {
	c.JSON(http.StatusOK, s.data.Status())
}

// handleTrigger starts a cycle from an API request. The cycle runs in the
// background; the response reports whether it started or was queued.
func (s *Server) handleTrigger(c *gin.Context) {
	var cfg autopilot.RunConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.scheduler.Trigger(ctx, cfg)
	}()

	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "user_id": cfg.UserID})
}

// handleStop removes a user's run from the periodic loop
func (s *Server) handleStop(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	s.scheduler.Stop(c.Request.Context(), req.UserID)
	c.JSON(http.StatusOK, gin.H{"stopped": true, "user_id": req.UserID})
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the gin engine, for tests
func (s *Server) Router() *gin.Engine { return s.router }
