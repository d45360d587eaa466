// Package server exposes the index registry over HTTP. It maps the
// registry's error kinds to status codes and encodes results as JSON;
// all domain behavior lives in the registry.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"searchd/internal/registry"
)

// Server handles HTTP requests against one registry.
type Server struct {
	reg     *registry.Registry
	log     *slog.Logger
	metrics *Metrics
}

// New creates a server for the given registry.
func New(reg *registry.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		reg:     reg,
		log:     log,
		metrics: NewMetrics(),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Get("/{name}", s.handleStatus)
	r.Put("/{name}", s.handleCreate)
	r.Delete("/{name}", s.handleDelete)
	r.Get("/{name}/query", s.handleQuery)

	return r
}

// instrument logs each request and counts it by method and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		s.log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// writeJSON encodes v with a 200-class status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates a registry error kind into a status code.
// Error responses carry no body beyond the status line and, for
// reserved-name rejections, the Allow header.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind, ok := registry.KindOf(err)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch kind {
	case registry.KindNotFound:
		w.WriteHeader(http.StatusNotFound)
	case registry.KindInvalidLocation:
		w.WriteHeader(http.StatusForbidden)
	case registry.KindReservedName:
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
	case registry.KindEngineFailure, registry.KindStorage:
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}
