// Package http serves the split preview and validation API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"splitter/internal/log"
	"splitter/internal/middleware/ratelimit"
	"splitter/internal/middleware/security"
	"splitter/internal/middleware/trace"
	"splitter/internal/services"
)

// Options configures the HTTP server
type Options struct {
	RateLimitPerMinute int
	TrustedProxies     []string
	// MaxBatchSize caps the number of requests in one batch call
	MaxBatchSize int
	Logger       *log.Logger
}

type Server struct {
	http.Server
	splits          *services.SplitService
	rateLimiter     *ratelimit.Limiter
	traceMiddleware *trace.Middleware
	ipResolver      *security.ClientIPResolver
	logger          *log.Logger
	router          *chi.Mux
	maxBatchSize    int

	started      time.Time
	draining     atomic.Bool
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, splits *services.SplitService, opts Options) (*Server, error) {
	if splits == nil {
		return nil, fmt.Errorf("split service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	ipResolver, err := security.NewClientIPResolver(opts.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		splits: splits,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
		traceMiddleware: trace.NewMiddleware(ipResolver.ExtractClientIP),
		ipResolver:      ipResolver,
		logger:          logger,
		maxBatchSize:    opts.MaxBatchSize,
		started:         time.Now(),
	}
	s.Handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.traceMiddleware.Middleware)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(trace.GetRequestID))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.recoverPanics)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	s.router = r

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/policies", s.handleListPolicies)
		r.Get("/policies/{name}", s.handleDescribePolicy)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimiter.Middleware(s.ipResolver.ExtractClientIP, s.writeRateLimited))
			r.Post("/splits/preview", s.handlePreview)
			r.Post("/splits/validate", s.handleValidate)
			r.Post("/splits/batch", s.handleBatch)
		})
	})
	return r
}

var routeMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// allowedMethods lists the methods routed for path, for the Allow header.
func (s *Server) allowedMethods(path string) string {
	var allowed []string
	for _, m := range routeMethods {
		if s.router.Match(chi.NewRouteContext(), m, path) {
			allowed = append(allowed, m)
		}
	}
	return strings.Join(allowed, ", ")
}

// Shutdown marks the server not ready, stops the rate limiter and drains
// in-flight requests. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.draining.Store(true)
		s.rateLimiter.Stop()
		s.logger.InfoContext(ctx, "HTTP server shutting down", log.FieldOperation, log.OpShutdown)
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
