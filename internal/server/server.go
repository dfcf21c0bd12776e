// Package server exposes generation, stored records and source validation
// over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/logging"
	"github.com/iyulab/actor-profiler/internal/metrics"
	"github.com/iyulab/actor-profiler/internal/orchestrator"
	"github.com/iyulab/actor-profiler/internal/profile"
	"github.com/iyulab/actor-profiler/internal/reporter"
	"github.com/iyulab/actor-profiler/internal/store"
)

// maxBodyBytes bounds request bodies; documents are inlined as text.
const maxBodyBytes = 8 << 20

// Generator produces a reconciled record. *orchestrator.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Store persists final records. *store.Store satisfies it.
type Store interface {
	Save(ctx context.Context, rec profile.Record, requestID string) error
	Get(ctx context.Context, name string) (store.Entry, error)
	List(ctx context.Context) ([]store.Entry, error)
}

// SourceValidator runs the liveness path. *sources.Validator satisfies it.
type SourceValidator interface {
	Validate(ctx context.Context, srcs []profile.Source) []profile.Source
}

// ReferenceClock reports when the reference taxonomy was last refreshed.
// *reference.Cache satisfies it.
type ReferenceClock interface {
	FetchedAt() time.Time
}

// Deps are the collaborators of a Server. Generator, Store and Sources may be
// nil; their routes then answer 503.
type Deps struct {
	Generator      Generator
	Store          Store
	Sources        SourceValidator
	Reference      ReferenceClock
	Reporter       *reporter.Reporter
	Metrics        *metrics.Collector
	Logger         *zap.Logger
	AllowedOrigins []string
	Version        string
}

// Server is the HTTP API.
type Server struct {
	deps       Deps
	logger     *zap.Logger
	validate   *validator.Validate
	httpServer *http.Server
}

// New creates a Server.
func New(deps Deps) *Server {
	return &Server{
		deps:     deps,
		logger:   logging.OrNop(deps.Logger),
		validate: validator.New(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/profiles", func(r chi.Router) {
			r.Post("/generate", s.handleGenerate)
			r.Get("/", s.handleList)
			r.Get("/{name}", s.handleGet)
			r.Get("/{name}/report", s.handleReport)
		})
		r.Post("/sources/validate", s.handleValidateSources)
	})

	return r
}

// Start begins listening on host:port (port 0 = OS-assigned). Returns "host:port".
func (s *Server) Start(ctx context.Context, host string, port int) (string, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
