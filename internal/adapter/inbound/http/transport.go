package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tollgate-labs/tollgate/internal/domain/ratelimit"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Server is the inbound HTTP adapter exposing the toll API, health and metrics.
type Server struct {
	api             *API
	metrics         *Metrics
	gatherer        prometheus.Gatherer
	server          *http.Server
	addr            string
	allowedOrigins  []string
	bearerToken     string
	bearerTokenHash string
	certFile        string
	keyFile         string
	logger          *slog.Logger
	healthChecker   *HealthChecker
	limiter         ratelimit.Limiter
	limit           ratelimit.Config
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8090" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithBearerToken requires "Authorization: Bearer <token>" on /v1 routes.
func WithBearerToken(token string) Option {
	return func(s *Server) {
		s.bearerToken = token
	}
}

// WithBearerTokenHash requires a bearer token matching an argon2id hash on
// /v1 routes.
func WithBearerTokenHash(hash string) Option {
	return func(s *Server) {
		s.bearerTokenHash = hash
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// WithPayRateLimit limits toll payments per client IP.
func WithPayRateLimit(limiter ratelimit.Limiter, cfg ratelimit.Config) Option {
	return func(s *Server) {
		s.limiter = limiter
		s.limit = cfg
	}
}

// WithGatherer sets the source of /metrics. Defaults to the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates the HTTP server. metrics may be nil to skip
// request instrumentation.
func NewServer(api *API, metrics *Metrics, opts ...Option) *Server {
	s := &Server{
		api:      api,
		metrics:  metrics,
		gatherer: prometheus.DefaultGatherer,
		addr:     "127.0.0.1:8090",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	// Middleware order (outermost first):
	// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
	// 2. RealIP - Extract client IP from X-Forwarded-For
	// 3. RequestID - Extract/generate request ID and enrich logger
	// 4. DNSRebinding - Security check for Origin header
	// 5. BearerToken - Optional API token or argon2id token hash (API routes only)
	// 6. PayRateLimit - Per-IP limit on POST /v1/tolls
	apiMux := http.NewServeMux()
	s.api.Register(apiMux)
	var api http.Handler = apiMux
	api = PayRateLimitMiddleware(s.limiter, s.limit)(api)
	api = BearerTokenMiddleware(s.bearerToken)(api)
	api = BearerTokenHashMiddleware(s.bearerTokenHash, s.logger)(api)

	mux := http.NewServeMux()
	if s.healthChecker != nil {
		mux.Handle("GET /healthz", s.healthChecker.Handler())
	} else {
		mux.Handle("GET /healthz", healthHandler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/v1/", api)

	var handler http.Handler = mux
	handler = DNSRebindingProtection(s.allowedOrigins)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = RealIPMiddleware(handler)
	if s.metrics != nil {
		handler = MetricsMiddleware(s.metrics)(handler)
	}
	return handler
}

// Start serves until ctx is canceled or the listener fails.
// Returns nil on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// healthHandler is the fallback when no HealthChecker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}` + "\n"))
	})
}
