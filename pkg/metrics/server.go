package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultNamespace prefixes exported Prometheus series.
const DefaultNamespace = "qauth"

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 5 * time.Second
)

// ServerConfig selects what the observability server exposes.
type ServerConfig struct {
	Collector        *Collector // defaults to Global()
	Logger           *Logger    // defaults to GetLogger()
	Version          string
	Namespace        string // Prometheus namespace, defaults to DefaultNamespace
	EnablePrometheus bool
	EnableHealth     bool
}

// Server is the HTTP side-channel of a backend: Prometheus series on
// /metrics and health probes on /health, /healthz and /readyz. Routes that
// are not enabled answer 404.
type Server struct {
	router chi.Router
	health *HealthCheck
	logger *Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	s := &Server{router: chi.NewRouter(), logger: cfg.Logger.Named("http")}
	s.router.Use(middleware.Recoverer)

	if cfg.EnablePrometheus {
		s.router.Method(http.MethodGet, "/metrics", NewPrometheusExporter(cfg.Collector, cfg.Namespace).Handler())
	}
	if cfg.EnableHealth {
		s.health = NewHealthCheck(cfg.Collector, cfg.Version)
		s.router.Method(http.MethodGet, "/health", s.health.Handler())
		s.router.Method(http.MethodGet, "/healthz", s.health.LivenessHandler())
		s.router.Method(http.MethodGet, "/readyz", s.health.ReadinessHandler())
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// AddHealthCheck registers a check on /health and /readyz. It is a no-op
// when health endpoints are disabled.
func (s *Server) AddHealthCheck(name string, check CheckFunc) {
	if s.health != nil {
		s.health.AddCheck(name, check)
	}
}

// Serve answers requests on l until ctx is done, then drains in-flight
// requests for up to five seconds.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()
	s.logger.Info("serving", Fields{"addr": l.Addr().String()})

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ListenAndServe binds addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
