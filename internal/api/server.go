// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/metrics"
)

// CrawlRunner is the orchestration surface the server drives.
type CrawlRunner interface {
	DiscoverAndCrawl(ctx context.Context, maxSources int) (*crawl.CrawlSession, error)
	Statistics() map[string]any
}

// Server wires HTTP handlers to the crawl orchestrator. One session
// runs at a time; a second start request gets 409.
type Server struct {
	router chi.Router
	runner CrawlRunner
	clock  crawl.Clock
	logger *zap.Logger

	mu          sync.Mutex
	running     bool
	lastSession *crawl.CrawlSession
	lastError   string
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner CrawlRunner, clock crawl.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		clock:  clock,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Get("/current", s.currentSession)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startSessionRequest struct {
	MaxSources int `json:"max_sources"`
}

// startSession kicks off a crawl session in the background and returns
// 202 immediately. The session outlives the HTTP request, so it runs
// under its own context.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "a crawl session is already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	started := s.clock.Now()
	go func() {
		session, err := s.runner.DiscoverAndCrawl(context.Background(), req.MaxSources)

		s.mu.Lock()
		s.running = false
		s.lastSession = session
		s.lastError = ""
		if err != nil {
			s.lastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("crawl session failed", zap.Error(err))
			return
		}
		s.logger.Info("crawl session finished",
			zap.Int("events", session.TotalEventsFound),
			zap.Duration("took", s.clock.Now().Sub(started)))
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "started",
		"started_at": started,
	})
}

func (s *Server) currentSession(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := s.running
	lastError := s.lastError
	s.mu.Unlock()

	payload := map[string]any{
		"running":    running,
		"statistics": s.runner.Statistics(),
	}
	if lastError != "" {
		payload["last_error"] = lastError
	}
	writeJSON(w, http.StatusOK, payload)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
