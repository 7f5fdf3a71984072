package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dagbolade/sudomode/internal/approval"
	"github.com/dagbolade/sudomode/internal/audit"
	"github.com/dagbolade/sudomode/internal/governance"
	"github.com/dagbolade/sudomode/internal/metrics"
	"github.com/dagbolade/sudomode/internal/policy"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Deps are the components the HTTP layer exposes. Audit, Metrics and
// Gatherer are optional.
type Deps struct {
	Service   *governance.Service
	Resolver  *governance.Resolver
	Store     approval.Store
	Evaluator policy.Evaluator
	Audit     audit.Store
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

type Server struct {
	echo   *echo.Echo
	config Config
	hub    *Hub
}

func New(cfg Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()

	s := &Server{
		echo:   e,
		config: cfg,
		hub:    NewHub(deps.Store),
	}

	s.setupMiddleware(deps.Metrics)
	s.setupRoutes(deps)

	return s
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Start() error {
	addr := s.config.Addr()
	log.Info().Str("addr", addr).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	s.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware(m *metrics.Metrics) {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	if m != nil {
		s.echo.Use(metricsMiddleware(m))
	}
}

func (s *Server) setupRoutes(deps Deps) {
	governHandler := NewGovernHandler(deps.Service)
	requestsHandler := NewRequestsHandler(deps.Service, deps.Resolver, s.hub)
	policyHandler := NewPolicyHandler(deps.Evaluator, deps.Metrics)
	auditHandler := NewAuditHandler(deps.Audit)
	wsHandler := NewWSHandler(s.hub, s.config.CORSOrigins)

	s.echo.GET("/health", s.handleHealth)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/v1")
	v1.POST("/govern", governHandler.Govern)
	v1.GET("/requests", requestsHandler.List)
	v1.GET("/requests/:id", requestsHandler.Get)
	v1.DELETE("/requests/:id", requestsHandler.Delete)
	v1.POST("/requests/:id/approve", requestsHandler.Approve)
	v1.POST("/requests/:id/reject", requestsHandler.Reject)
	v1.GET("/policies", policyHandler.List)
	v1.POST("/policies/reload", policyHandler.Reload)
	v1.GET("/audit", auditHandler.GetAuditLog)
	v1.GET("/ws", wsHandler.HandleWebSocket)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func metricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(c.Request().Method, route, strconv.Itoa(status), time.Since(start).Seconds())
			return err
		}
	}
}
