package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/metrics"
	"github.com/vyuha/vyuha-explorer/internal/query"
	"github.com/vyuha/vyuha-explorer/internal/session"
)

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Options tunes the HTTP listener and middleware.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// ExpandRate and ExpandBurst bound POST /graph/expand. This is a
	// per-server limiter, not per-client.
	ExpandRate  float64
	ExpandBurst int

	// CORSOrigins lists allowed origins. Any http://localhost:* origin is
	// always allowed.
	CORSOrigins []string
}

// DefaultOptions returns the listener defaults.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ExpandRate:   20,
		ExpandBurst:  40,
	}
}

// Server is the HTTP API layer for vyuha.
type Server struct {
	expander *query.Expander
	sessions *session.Manager
	jobs     *ai.JobQueue
	sse      *SSEBroadcaster
	metrics  *metrics.Collector

	opts          Options
	mux           *http.ServeMux
	server        *http.Server
	expandLimiter *rate.Limiter
}

// NewServer creates a new Server. expander serves the /graph endpoints and
// sessions the /api/sessions endpoints. jobs and collector may be nil; the
// embedding job endpoints then answer 503 and /metrics is not registered.
func NewServer(
	expander *query.Expander,
	sessions *session.Manager,
	sse *SSEBroadcaster,
	jobs *ai.JobQueue,
	collector *metrics.Collector,
	opts Options,
) *Server {
	if sse == nil {
		sse = NewSSEBroadcaster()
	}
	def := DefaultOptions()
	if opts.ExpandRate <= 0 {
		opts.ExpandRate = def.ExpandRate
	}
	if opts.ExpandBurst <= 0 {
		opts.ExpandBurst = def.ExpandBurst
	}
	return &Server{
		expander:      expander,
		sessions:      sessions,
		jobs:          jobs,
		sse:           sse,
		metrics:       collector,
		opts:          opts,
		mux:           http.NewServeMux(),
		expandLimiter: rate.NewLimiter(rate.Limit(opts.ExpandRate), opts.ExpandBurst),
	}
}

// RegisterRoutes wires up every API endpoint.
func (s *Server) RegisterRoutes() {
	// -- Graph service ----------------------------------------------------
	s.mux.HandleFunc("POST /graph/expand", s.withRateLimit(s.expandLimiter, s.handleGraphExpand))
	s.mux.HandleFunc("GET /graph/stats", s.handleGraphStats)
	s.mux.HandleFunc("GET /graph/search", s.handleGraphSearch)

	// -- Sessions ---------------------------------------------------------
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/view", s.handleSessionView)
	s.mux.HandleFunc("POST /api/sessions/{id}/seeds", s.handleAddSeeds)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/seeds", s.handleClearSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/nodes/{node}/expand", s.handleExpandNode)
	s.mux.HandleFunc("GET /api/sessions/{id}/nodes/{node}/menu", s.handleNodeMenu)
	s.mux.HandleFunc("POST /api/sessions/{id}/nodes/{node}/select", s.handleSelectNode)
	s.mux.HandleFunc("PUT /api/sessions/{id}/nodes/{node}/position", s.handleDragNode)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/nodes/{node}/position", s.handleReleaseNode)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/nodes/{node}", s.handleHideNode)
	s.mux.HandleFunc("PUT /api/sessions/{id}/layout", s.handleSetLayout)
	s.mux.HandleFunc("POST /api/sessions/{id}/relayout", s.handleRelayout)
	s.mux.HandleFunc("PUT /api/sessions/{id}/filter", s.handleSetFilter)

	// -- Embedding jobs ---------------------------------------------------
	s.mux.HandleFunc("POST /api/embeddings/jobs", s.handleEnqueueEmbeddingJob)
	s.mux.HandleFunc("GET /api/embeddings/jobs", s.handleListEmbeddingJobs)
	s.mux.HandleFunc("GET /api/embeddings/jobs/{id}", s.handleEmbeddingJobStatus)

	// -- SSE --------------------------------------------------------------
	s.mux.HandleFunc("GET /api/events", s.handleSSE)

	// -- Operations -------------------------------------------------------
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the fully-wrapped http.Handler (middleware chain + mux).
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoveryMiddleware(h)
	h = s.metricsMiddleware(h)
	h = loggingMiddleware(h)
	h = corsMiddleware(s.opts.CORSOrigins, h)
	return h
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"service":     "vyuha-explorer",
		"sessions":    s.sessions.Len(),
		"sse_clients": s.sse.ClientCount(),
	}
	writeJSON(w, http.StatusOK, body)
}

// ---------------------------------------------------------------------------
// JSON response helpers
// ---------------------------------------------------------------------------

// writeJSON writes an arbitrary value as JSON with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// writeError writes a standardised JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware allows any http://localhost:* origin plus the configured
// ones.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (set[origin] || strings.HasPrefix(origin, "http://localhost:")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the status code written by downstream handlers.
// It also implements http.Flusher so SSE streaming works through the
// logging middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher by delegating to the underlying writer.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware logs method, path, duration and status code.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// metricsMiddleware counts requests by method and status.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(r.Method, rec.statusCode)
	})
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit wraps a handler with a token-bucket rate limiter.
// Returns 429 when the limiter is exhausted.
func (s *Server) withRateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.Tokens())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			slog.Warn("rate limit exceeded",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			return
		}
		next(w, r)
	}
}
