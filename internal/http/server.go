// Package http provides the HTTP API for iapropria.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/logging"
	"github.com/iapropria/iapropria/internal/settings"
	"github.com/iapropria/iapropria/internal/vectorstore"
)

// VectorService is the document API served under /api/v1.
type VectorService interface {
	Query(ctx context.Context, req vectorstore.SearchRequest) ([]vectorstore.SearchResult, error)
	Upsert(ctx context.Context, req vectorstore.UpsertRequest) (*vectorstore.UpsertResult, error)
	Delete(ctx context.Context, tenantID, id string) error
	Status(ctx context.Context) vectorstore.Status
}

// UserLister lists rows of the users table.
type UserLister interface {
	List(ctx context.Context) ([]map[string]any, error)
}

// Server provides HTTP endpoints for iapropria.
type Server struct {
	echo     *echo.Echo
	vectors  VectorService
	users    UserLister
	settings *settings.Store
	logger   *logging.Logger
	config   *Config
	now      func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// StaticDir, when set, is served at / with index.html as the fallback
	// for unknown paths.
	StaticDir string
}

// NewServer creates a new HTTP server. users may be nil, in which case
// /api/users reports the database as unavailable.
func NewServer(vectors VectorService, users UserLister, store *settings.Store, logger *logging.Logger, cfg *Config) (*Server, error) {
	if vectors == nil {
		return nil, errors.New("vector service cannot be nil")
	}
	if store == nil {
		return nil, errors.New("settings store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		vectors:  vectors,
		users:    users,
		settings: store,
		logger:   logger.Named("http"),
		config:   cfg,
		now:      time.Now,
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/users", s.handleUsers)

	v1 := api.Group("/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/documents", s.handleUpsert)
	v1.DELETE("/documents/:id", s.handleDelete)
	v1.GET("/settings/filters/:user", s.handleGetFilters)
	v1.PUT("/settings/filters/:user", s.handlePutFilters)
	v1.GET("/settings/model/:user", s.handleGetModel)
	v1.PUT("/settings/model/:user", s.handlePutModel)

	if s.config.StaticDir != "" {
		s.echo.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root:  s.config.StaticDir,
			Index: "index.html",
			HTML5: true,
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return strings.HasPrefix(p, "/api/") || p == "/metrics"
			},
		}))
	}
}

// requestLogger logs one line per request with the request id in context.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), reqID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			// let the error handler write the status before it is logged
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
