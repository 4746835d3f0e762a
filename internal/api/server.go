// Package api exposes the operator dashboard: engine status, risk and
// learner state, recent trades and pause/resume control.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"binary-options-bot/config"
	"binary-options-bot/internal/database"
	"binary-options-bot/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Engine is the control surface the API needs from the orchestrator
type Engine interface {
	GetStatus() map[string]interface{}
	Pause()
	Resume()
}

// StatusReporter exposes a generic status map
type StatusReporter interface {
	GetStatus() map[string]interface{}
}

// StatsReporter exposes a generic stats map
type StatsReporter interface {
	GetStats() map[string]interface{}
}

// TradeReader reads settled trades for the dashboard. nil means no
// persistence is configured.
type TradeReader interface {
	RecentTrades(ctx context.Context, limit int) ([]*database.TradeRecord, error)
}

// Server is the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	auth       *Authenticator
	engine     Engine
	riskState  func() interface{}
	learner    StatusReporter
	adaptive   StatsReporter
	trades     TradeReader
	health     func(ctx context.Context) error
	logger     *logging.Logger
}

// Deps bundles the server's collaborators
type Deps struct {
	Engine    Engine
	RiskState func() interface{}
	Learner   StatusReporter
	Adaptive  StatsReporter
	Trades    TradeReader
	Health    func(ctx context.Context) error // optional dependency probe
	Logger    *logging.Logger
}

// NewServer creates the API server
func NewServer(serverCfg config.ServerConfig, authCfg config.AuthConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if serverCfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(serverCfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	logger := deps.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("api")
	}

	server := &Server{
		router:    router,
		config:    serverCfg,
		auth:      NewAuthenticator(authCfg),
		engine:    deps.Engine,
		riskState: deps.RiskState,
		learner:   deps.Learner,
		adaptive:  deps.Adaptive,
		trades:    deps.Trades,
		health:    deps.Health,
		logger:    logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/login", s.handleLogin)

	protected := api.Group("")
	if s.auth.Enabled() {
		protected.Use(s.auth.Middleware())
	}
	protected.GET("/status", s.handleStatus)
	protected.GET("/risk", s.handleRisk)
	protected.GET("/learner", s.handleLearner)
	protected.GET("/performance", s.handlePerformance)
	protected.GET("/trades/recent", s.handleRecentTrades)
	protected.POST("/pause", s.handlePause)
	protected.POST("/resume", s.handleResume)
}

// Start runs the HTTP server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.ShutdownTimeout)*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetStatus())
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskState())
}

func (s *Server) handleLearner(c *gin.Context) {
	c.JSON(http.StatusOK, s.learner.GetStatus())
}

func (s *Server) handlePerformance(c *gin.Context) {
	c.JSON(http.StatusOK, s.adaptive.GetStats())
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []interface{}{}})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	trades, err := s.trades.RecentTrades(ctx, limit)
	if err != nil {
		s.logger.Error("Recent trades query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handlePause(c *gin.Context) {
	s.engine.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.engine.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}
