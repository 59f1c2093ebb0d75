// Package server exposes the render service over HTTP: job submission and
// inspection, cancellation, result download, live progress over SSE, and
// health.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/renderd/internal/config"
	"github.com/reelforge/renderd/internal/jobs"
	"github.com/reelforge/renderd/internal/templates"
)

// Server is the HTTP front of the daemon.
type Server struct {
	manager  *jobs.Manager
	registry *templates.Registry
	cfg      config.ServerConfig
	logger   hclog.Logger
	http     *http.Server
}

// New builds the server and its routes.
func New(manager *jobs.Manager, registry *templates.Registry, cfg config.ServerConfig, logger hclog.Logger) *Server {
	s := &Server{
		manager:  manager,
		registry: registry,
		cfg:      cfg,
		logger:   logger.Named("server"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.EnableCORS {
		router.Use(corsMiddleware())
	}
	s.routes(router)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		// SSE connections outlive any sane write timeout; the stream
		// handler manages its own lifetime.
		WriteTimeout: 0,
	}
	return s
}

func (s *Server) routes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/templates", s.handleListTemplates)

		api.POST("/jobs", s.handleSubmit)
		api.GET("/jobs", s.handleList)
		api.GET("/jobs/:id", s.handleGet)
		api.DELETE("/jobs/:id", s.handleCancel)
		api.GET("/jobs/:id/result", s.handleResult)
		api.GET("/jobs/:id/events", s.handleEvents)
	}
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router; used in tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
