package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"magnetcatalog/internal/storage"
)

// Server exposes the persisted catalog over a read-only HTTP API.
type Server struct {
	reader   storage.Reader
	router   *mux.Router
	handler  http.Handler
	registry *prometheus.Registry
	logger   *slog.Logger
	mediaDir string
}

// NewServer wires handlers onto a router. mediaDir may be empty when posters are not cached locally.
func NewServer(reader storage.Reader, mediaDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magnetcatalog",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests served by the catalog API.",
	}, []string{"code", "method"})
	registry.MustRegister(requests)

	s := &Server{
		reader:   reader,
		router:   mux.NewRouter(),
		registry: registry,
		logger:   logger,
		mediaDir: mediaDir,
	}
	s.routes()
	s.handler = promhttp.InstrumentHandlerCounter(requests, s.router)
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.accessLog)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w, r, http.MethodGet)
	})

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/entries", s.handleListEntries).Methods(http.MethodGet)
	s.router.HandleFunc("/api/entries/{id}", s.handleGetEntry).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/openapi.yaml", s.handleOpenAPI).Methods(http.MethodGet)
	s.router.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	if s.mediaDir != "" {
		s.router.PathPrefix("/media/").Handler(
			http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaDir))),
		).Methods(http.MethodGet)
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.reader.List(r.Context(), q)
	if err != nil {
		s.logger.Error("list entries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := s.reader.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		s.logger.Error("get entry failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func parseQuery(r *http.Request) (storage.Query, error) {
	values := r.URL.Query()
	q := storage.Query{
		Search:   values.Get("q"),
		Language: values.Get("language"),
		Quality:  values.Get("quality"),
		Category: values.Get("category"),
		Type:     values.Get("type"),
	}
	switch strings.ToLower(q.Type) {
	case "", "movie", "episodic":
	default:
		return storage.Query{}, errors.New("type must be movie or episodic")
	}
	var err error
	if q.Page, err = intParam(values.Get("page")); err != nil {
		return storage.Query{}, errors.New("page must be a positive integer")
	}
	if q.PageSize, err = intParam(values.Get("page_size")); err != nil {
		return storage.Query{}, errors.New("page_size must be a positive integer")
	}
	return q, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("invalid")
	}
	return v, nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
