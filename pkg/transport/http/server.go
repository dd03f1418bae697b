package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rhuss/codeexec/pkg/observability"
	"github.com/rhuss/codeexec/pkg/transport"
)

// Server serves the execution API, the plain-text endpoints and any extra
// mounts until its context ends.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr             string
	MaxBodySize      int64
	LegacyMaxTimeout int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	Logger           *slog.Logger

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string

	// Tracing wraps the handler with OpenTelemetry instrumentation.
	Tracing bool

	// HTTPMiddleware wraps the routed handler, e.g. authentication. The
	// first entry is the outermost.
	HTTPMiddleware []func(http.Handler) http.Handler

	// Mounts are extra handlers registered on the mux by pattern.
	Mounts map[string]http.Handler
}

// DefaultServerConfig listens on :8000 and exposes /metrics.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":8000",
		MaxBodySize:      32 << 20, // 32 MB
		LegacyMaxTimeout: 120,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     10 * time.Minute,
		ShutdownTimeout:  30 * time.Second,
		Logger:           slog.Default(),
		MetricsPath:      "/metrics",
	}
}

type ServerOption func(*Server)

func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithMaxBodySize bounds JSON request bodies; larger ones get 413.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) { s.config.MaxBodySize = n }
}

// WithLegacyMaxTimeout caps the timeout accepted by the plain-text endpoints.
func WithLegacyMaxTimeout(secs int) ServerOption {
	return func(s *Server) { s.config.LegacyMaxTimeout = secs }
}

// WithTimeouts sets the read and write timeouts of the underlying http.Server.
// The write timeout must exceed the longest allowed execution.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.config.ReadTimeout = read
		s.config.WriteTimeout = write
	}
}

func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// WithMetricsPath sets the Prometheus endpoint path. Empty disables it.
func WithMetricsPath(path string) ServerOption {
	return func(s *Server) { s.config.MetricsPath = path }
}

// WithTracing enables OpenTelemetry HTTP instrumentation.
func WithTracing(enabled bool) ServerOption {
	return func(s *Server) { s.config.Tracing = enabled }
}

// WithHTTPMiddleware appends HTTP-level middleware around the router.
func WithHTTPMiddleware(mw func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.config.HTTPMiddleware = append(s.config.HTTPMiddleware, mw) }
}

// WithMount registers an extra handler, e.g. the MCP endpoint.
func WithMount(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		if s.config.Mounts == nil {
			s.config.Mounts = make(map[string]http.Handler)
		}
		s.config.Mounts[pattern] = h
	}
}

// NewServer routes requests to executor. history may be nil, in which case
// the /v1/executions routes answer 404. Recovery, request IDs and access
// logging always wrap the handlers.
func NewServer(executor transport.Executor, history transport.ExecutionHistory, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	adapterCfg := Config{
		MaxBodySize:      s.config.MaxBodySize,
		LegacyMaxTimeout: s.config.LegacyMaxTimeout,
	}

	defaultMW := []transport.Middleware{
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(s.logger),
	}

	s.adapter = NewAdapter(executor, history, adapterCfg, defaultMW...)
	if s.config.MetricsPath != "" {
		s.adapter.Handle("GET "+s.config.MetricsPath, promhttp.Handler())
	}
	for pattern, h := range s.config.Mounts {
		s.adapter.Handle(pattern, h)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
	}

	return s
}

// handler assembles the middleware stack, outermost first:
// tracing, request ID, user middleware, metrics, mux. Metrics sits directly
// on the mux so the matched route pattern is visible to it.
func (s *Server) handler() http.Handler {
	var h http.Handler = observability.MetricsMiddleware(s.adapter.Mux())
	for i := len(s.config.HTTPMiddleware) - 1; i >= 0; i-- {
		h = s.config.HTTPMiddleware[i](h)
	}
	h = httpRequestIDMiddleware(h)
	if s.config.Tracing {
		h = otelhttp.NewHandler(h, "codeexec",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
	return h
}

// Handler returns the fully assembled handler. Used for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

// ServeOn starts the server on the given listener and blocks until ctx is
// cancelled. Used for testing.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	served := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
		served <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// In-flight executions get ShutdownTimeout to finish.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("draining", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}
