package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Route paths.
const (
	RouteDemo         = "/otel-demo"
	RouteHelloWorld   = "/hello-world"
	RouteCachedResult = "/cached-result"
	RouteHealth       = "/healthz"
	RouteMetrics      = "/metrics"
)

const shutdownTimeout = 10 * time.Second

// Routes are the handlers mounted by NewServer. Nil handlers are skipped.
type Routes struct {
	Demo         http.Handler
	HelloWorld   http.Handler
	CachedResult http.Handler
	Metrics      http.Handler
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Logger         *slog.Logger
}

// Server is the oteldemo HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer builds the handler chain: otelhttp root span, request id, rate
// limit, then the route mux. /healthz and /metrics are not traced. The rate
// limiter's background cleanup stops when ctx is done.
func NewServer(ctx context.Context, cfg ServerConfig, routes Routes) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}

	mux := http.NewServeMux()
	mount := func(path string, h http.Handler) {
		if h != nil {
			mux.Handle("GET "+path, h)
		}
	}
	mount(RouteDemo, routes.Demo)
	mount(RouteHelloWorld, routes.HelloWorld)
	mount(RouteCachedResult, routes.CachedResult)
	mount(RouteMetrics, routes.Metrics)
	mux.HandleFunc("GET "+RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	handler = NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware(handler)
	handler = RequestID(handler)

	otelOpts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != RouteHealth && r.URL.Path != RouteMetrics
		}),
	}
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}
	handler = otelhttp.NewHandler(handler, "oteldemo", otelOpts...)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: handler,
		logger:  logger,
	}
}

// Handler returns the instrumented handler chain.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
