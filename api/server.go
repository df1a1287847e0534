// Package api serves the credit-metered chat over HTTP.
//
// Every route under /api except the payment webhook requires an HS256
// bearer token whose subject is the caller's account id. The account is
// opened with the initial credit grant on its first authenticated request.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/creditline"
)

// DefaultMaxBodyBytes bounds request bodies, webhook payloads included.
const DefaultMaxBodyBytes = 64 * 1024

// Server is the HTTP surface of a Ledger.
type Server struct {
	ledger   *creditline.Ledger
	auth     *Authenticator
	logger   *slog.Logger
	validate *validator.Validate
	router   chi.Router

	registry     *prometheus.Registry
	origins      []string
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry registers HTTP metrics on reg and serves it at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithAllowedOrigins sets the CORS origins. The default allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// New builds the router for l.
func New(l *creditline.Ledger, auth *Authenticator, opts ...Option) *Server {
	s := &Server{
		ledger:       l,
		auth:         auth,
		logger:       slog.Default(),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		origins:      []string{"*"},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(newHTTPMetrics(s.registry).middleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestSize(s.maxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Signed by the payment processor, not by a user.
		r.Post("/credit/webhook", s.webhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/chat/create", s.createChat)
			r.Get("/chat/get", s.listChats)
			r.Post("/chat/delete", s.deleteChat)

			r.Post("/message/text", s.textMessage)
			r.Post("/message/image", s.imageMessage)

			r.Get("/user/data", s.userData)
			r.Get("/user/published-images", s.publishedImages)

			r.Get("/credit/plans", s.plans)
			r.Post("/credit/purchase", s.purchase)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"latency", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
