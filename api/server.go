// Package api exposes the operator HTTP surface: status snapshots and
// pause/resume/stop controls per grid instance.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gridbot/logger"
	"gridbot/manager"
	"gridbot/store"
)

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	manager    *manager.GridManager
	store      *store.Store
	httpServer *http.Server
	port       int
}

// NewServer creates the API server. st may be nil; the events endpoint
// then reports unavailable.
func NewServer(m *manager.GridManager, st *store.Store, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		manager: m,
		store:   st,
		port:    port,
	}
	s.setupRoutes()
	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.Any("/health", s.handleHealth)
		api.GET("/status", s.handleStatusAll)
		api.GET("/status/:symbol", s.handleStatus)
		api.POST("/pause/:symbol", s.handlePause)
		api.POST("/resume/:symbol", s.handleResume)
		api.POST("/stop/:symbol", s.handleStop)
		api.GET("/events/:symbol", s.handleEvents)
	}
}

// Start runs the HTTP server in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[API] Server error: %v", err)
		}
	}()
	logger.Infof("[API] Listening on :%d", s.port)
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warnf("[API] Shutdown: %v", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStatusAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instances": s.manager.Statuses()})
}

func (s *Server) handleStatus(c *gin.Context) {
	e, ok := s.manager.Engine(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such instance"})
		return
	}
	c.JSON(http.StatusOK, e.Status())
}

// handlePause suspends new order placement for one instance.
func (s *Server) handlePause(c *gin.Context) {
	e, ok := s.manager.Engine(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such instance"})
		return
	}
	e.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// handleResume lifts an operator pause. A risk halt is never cleared
// through the API; resuming a halted instance is a conflict.
func (s *Server) handleResume(c *gin.Context) {
	e, ok := s.manager.Engine(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such instance"})
		return
	}
	if err := e.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) handleStop(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := s.manager.StopEngine(symbol); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleEvents returns the audit journal for one instance, newest first.
func (s *Server) handleEvents(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := s.store.Events(c.Param("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
