// Package server exposes the research pipeline and scoring engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/monitoring"
	"github.com/signalcore/evidence-engine/internal/scoring"
	"github.com/signalcore/evidence-engine/internal/session"
	"github.com/signalcore/evidence-engine/internal/store"
)

// Researcher starts research runs in the background.
type Researcher interface {
	Start(ctx context.Context) string
}

// Deps are the collaborators behind the API.
type Deps struct {
	Catalog    *catalog.Catalog
	Registry   *session.Registry
	Researcher Researcher
	Store      store.Store
	Scoring    *scoring.Engine
	// Stats backs GET /stats. The route is omitted when nil.
	Stats *monitoring.Collector
}

// Options tunes the HTTP surface.
type Options struct {
	AllowedOrigins []string
	PollInterval   time.Duration
	Heartbeat      time.Duration
}

// Server is the HTTP API.
type Server struct {
	deps     Deps
	streamer *Streamer
	validate *validator.Validate
	router   chi.Router
}

// New builds the server and its routes.
func New(deps Deps, opts Options) *Server {
	if deps.Scoring == nil {
		deps.Scoring = scoring.New(nil)
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		deps:     deps,
		streamer: NewStreamer(deps.Registry, opts.PollInterval, opts.Heartbeat),
		validate: validator.New(),
	}
	s.router = s.routes(opts)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/research", func(r chi.Router) {
		r.Post("/start", s.handleResearchStart)
		r.Get("/status", s.handleResearchStatus)
		r.Get("/results", s.handleResearchResults)
	})

	r.Get("/score", s.handleScore)
	r.Post("/score", s.handleRescore)
	r.Get("/evidence", s.handleEvidence)
	r.Get("/vendors", s.handleVendors)
	r.Get("/requirements", s.handleRequirements)
	if s.deps.Stats != nil {
		r.Get("/stats", s.handleStats)
	}

	return r
}

// ListenAndServe serves on port until ctx is cancelled, then drains
// in-flight requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

// requestLogger logs each request through zap once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
