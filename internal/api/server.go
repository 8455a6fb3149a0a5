// Package api exposes the contribution ledger and the moderation queue over
// HTTP. Moderator routes authenticate bearer tokens and pass through an
// AccessGate per request.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contribledger/internal/auth"
	"contribledger/internal/core"
)

const defaultWriteTimeout = 5 * time.Second

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	svc          *core.Service
	tokens       *auth.TokenRegistry
	authz        core.Authorizer
	logger       core.Logger
	metrics      http.Handler
	archive      ArchiveReader
	origins      []string
	writeTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l core.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithOriginPatterns allows cross-origin websocket upgrades from the given
// host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// New builds a Server. tokens and authz guard the moderation routes.
func New(svc *core.Service, tokens *auth.TokenRegistry, authz core.Authorizer, opts ...Option) *Server {
	s := &Server{
		svc:          svc,
		tokens:       tokens,
		authz:        authz,
		logger:       svc.Logger(),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tokens == nil {
		s.tokens = auth.NewTokenRegistry(nil)
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(api chi.Router) {
		api.Get("/window", s.handleWindow)
		api.Post("/identity/verify", s.handleVerify)
		api.Get("/ledgers/{handle}", s.handleLedger)
		api.Post("/ledgers/{handle}/submissions", s.handleSubmit)
		if s.archive != nil {
			api.Get("/ledgers/{handle}/archives", s.handleArchives)
			api.Get("/ledgers/{handle}/archives/{stamp}", s.handleArchive)
		}

		api.Route("/moderation", func(mod chi.Router) {
			mod.Get("/pending", s.handlePending)
			mod.Get("/queue", s.handleQueue)
			mod.Post("/submissions/{id}/{action}", s.handleResolve)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
