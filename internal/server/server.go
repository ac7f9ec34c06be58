// Package server provides the PulseChat HTTP server: an ordered dispatch
// table in front of the API route groups and the frontend catch-all, plus
// operational endpoints and the middleware chain.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/HerbHall/pulsechat/internal/frontend"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// SimpleRouteRegistrar registers non-API routes (for example the websocket
// endpoint) on the operational mux, which is consulted before API groups.
type SimpleRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Options configures New. The zero value serves only operational endpoints
// and a development catch-all.
type Options struct {
	Addr        string
	Port        int
	Environment string
	Production  bool

	// Frontend is the startup resolution result. Only used in production.
	Frontend *frontend.Resolution
	// Diagnostics exposes checked paths in the no-build 404 body.
	Diagnostics bool

	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64

	Ready  ReadinessChecker
	Groups []RouteGroup
	Extra  []SimpleRouteRegistrar
	// Middleware runs innermost, after CORS and rate limiting.
	Middleware []Middleware
}

// operationalPaths bypass rate limiting and request logging.
var operationalPaths = []string{"/health", "/readyz", "/metrics"}

// Server is the PulseChat HTTP server.
type Server struct {
	httpServer *http.Server
	table      *RouteTable
	mux        *http.ServeMux
	logger     *zap.Logger
	opts       Options
}

// New builds the route table and middleware chain. The table is frozen
// once New returns; New fails if the table violates the catch-all ordering.
func New(opts Options, logger *zap.Logger) (*Server, error) {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 50
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 100
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		opts:   opts,
	}

	s.registerRoutes()
	for _, r := range opts.Extra {
		r.RegisterRoutes(s.mux)
	}

	table, err := s.buildTable()
	if err != nil {
		return nil, err
	}
	s.table = table

	// Middleware chain: outermost listed first. Logging sits outside the
	// error boundary so it records the final status of failed requests.
	middlewares := []Middleware{
		RequestIDMiddleware,
		LoggingMiddleware(logger, operationalPaths),
		ErrorBoundary(logger),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		CORSMiddleware(opts.AllowedOrigins),
		RateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst, operationalPaths),
		BodyLimitMiddleware(opts.MaxBodyBytes),
	}
	middlewares = append(middlewares, opts.Middleware...)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           Chain(table, middlewares...),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the operational endpoints.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// buildTable assembles the dispatch order: operational routes, API groups,
// the API fallback, then exactly one catch-all chosen by mode and
// resolution outcome.
func (s *Server) buildTable() (*RouteTable, error) {
	t := &RouteTable{}
	t.Add(MuxRoute("operational", s.mux))

	for _, g := range s.opts.Groups {
		route := GroupRoute(g)
		t.Add(route)
		s.logger.Debug("mounted route group",
			zap.String("route", route.Name),
			zap.String("prefix", g.Prefix()),
			zap.Int("endpoints", len(g.Endpoints())),
		)
	}
	t.Add(APIFallbackRoute())

	switch {
	case !s.opts.Production:
		t.Add(CatchAllRoute("dev-fallback", frontend.DevHandler()))
		s.logger.Info("frontend serving disabled outside production",
			zap.String("environment", s.opts.Environment))
	case s.opts.Frontend != nil && s.opts.Frontend.Found:
		t.Add(CatchAllRoute("frontend", frontend.StaticHandler(s.opts.Frontend)))
		s.logger.Info("serving frontend", zap.String("root", s.opts.Frontend.Root))
	default:
		t.Add(CatchAllRoute("frontend-missing", frontend.DiagnosticsHandler(s.opts.Frontend, s.opts.Diagnostics)))
		s.logger.Warn("frontend build missing; non-API requests will get 404",
			zap.Bool("diagnostics", s.opts.Diagnostics))
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("route table: %w", err)
	}
	return t, nil
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Table returns the dispatch table.
func (s *Server) Table() *RouteTable {
	return s.table
}

// Listen binds the configured address. Separating bind from serve lets the
// caller start collaborators only once the port is held.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	return ln, nil
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
	Port        int    `json:"port"`
}

// isoMillis matches the millisecond UTC form browsers produce.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// handleHealth is the liveness probe. It always succeeds while the process
// is alive and does not depend on the frontend or the database.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(isoMillis),
		Environment: s.opts.Environment,
		Port:        s.opts.Port,
	})
}

// handleReadyz checks readiness -- returns 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
