// Package api exposes a read-only HTTP inspection surface over the match
// server: host status, live games and sessions, and recorded match
// history. It never mutates game state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ivans-csu/super-cow-powers/internal/config"
	"github.com/ivans-csu/super-cow-powers/internal/history"
	"github.com/ivans-csu/super-cow-powers/internal/server"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

// Server is the admin HTTP API.
type Server struct {
	cfg      config.APIConfig
	registry *server.Registry
	store    *history.Store // nil when history is disabled
	logger   zerolog.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates an admin API server over the given registry. store
// may be nil when match history is disabled.
func NewServer(cfg config.APIConfig, registry *server.Registry, store *history.Store, logLevel string) *Server {
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		registry: registry,
		store:    store,
		logger:   util.ComponentLogger("api"),
	}
}

// Start serves the API until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("admin API listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin API error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/ping", s.handlePing)
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/games", s.handleGames)
		apiGroup.GET("/games/:id", s.handleGame)
		apiGroup.GET("/sessions", s.handleSessions)
		apiGroup.GET("/history", s.handleHistory)
	}
	return router
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	sessions, games, queued := s.registry.Counts()
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"sessions":       sessions,
		"games":          games,
		"queued_games":   queued,
		"system":         util.GetSystemInfo(),
	})
}

func (s *Server) handleGames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"games": s.registry.Games()})
}

func (s *Server) handleGame(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}

	summary, found := s.registry.GameByID(uint32(id))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.Sessions()})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "match history is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	matches, err := s.store.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	total, err := s.store.Count()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "matches": matches})
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
