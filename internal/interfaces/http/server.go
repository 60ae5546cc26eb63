// Package http serves the local ops surface: health, risk status, the
// audit trail, Prometheus metrics, and a websocket feed of protection
// decisions. The listener is read-only and meant to stay local.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alphaguard/internal/allocation"
	"github.com/sawpanic/alphaguard/internal/guard"
	"github.com/sawpanic/alphaguard/internal/journal"
	"github.com/sawpanic/alphaguard/internal/scheduler"
)

// GuardSource is the slice of the protection manager the ops surface reads.
type GuardSource interface {
	Risk() guard.RiskState
	Positions() []guard.ManagedPosition
	Cycles() int64
	Audit() *guard.AuditLog
}

// Deps wires the subsystems into the server. Guard is required; the rest
// degrade to absent sections when nil.
type Deps struct {
	Guard     GuardSource
	Runner    *scheduler.Runner
	Tracker   *allocation.Tracker
	Engine    *allocation.Engine
	Journal   *journal.Writer
	VenueDown func() bool
	Version   string
}

// Config holds server configuration.
type Config struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns the local-only defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        "localhost:8090",
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server is the ops HTTP server.
type Server struct {
	router  *mux.Router
	server  *http.Server
	deps    Deps
	cfg     Config
	started time.Time
}

// NewServer builds the router and handlers. It does not listen yet.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Guard == nil {
		return nil, errors.New("ops server needs a guard source")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}

	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		cfg:     cfg,
		started: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// The metrics and event endpoints bypass the JSON middleware: one
	// speaks the Prometheus exposition format, the other websocket.
	s.router.Handle("/metrics", promhttp.HandlerFor(newMetricsRegistry(s.deps), promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/events", s.handleEvents).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/audit", s.handleAudit).Methods("GET")
	api.HandleFunc("/allocation", s.handleAllocation).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

type ctxKey int

const ctxKeyRequestID ctxKey = iota

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := r.Context().Value(ctxKeyRequestID).(string)

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("ops: request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only local origins are allowed.
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("ops: http server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("ops: http server shutting down")
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Address returns the configured listen address.
func (s *Server) Address() string { return s.cfg.ListenAddr }

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("ops: response encode failed")
	}
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Timestamp      time.Time         `json:"timestamp"`
	Version        string            `json:"version,omitempty"`
	Uptime         string            `json:"uptime"`
	Risk           guard.RiskState   `json:"risk"`
	Cycles         int64             `json:"cycles"`
	OpenPositions  int               `json:"open_positions"`
	VenueDown      bool              `json:"venue_down"`
	JournalDropped int64             `json:"journal_dropped,omitempty"`
	Scheduler      *scheduler.Status `json:"scheduler,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Timestamp:     time.Now().UTC(),
		Version:       s.deps.Version,
		Uptime:        time.Since(s.started).String(),
		Risk:          s.deps.Guard.Risk(),
		Cycles:        s.deps.Guard.Cycles(),
		OpenPositions: len(s.deps.Guard.Positions()),
	}
	if s.deps.VenueDown != nil {
		resp.VenueDown = s.deps.VenueDown()
	}
	if s.deps.Journal != nil {
		resp.JournalDropped = s.deps.Journal.Dropped()
	}
	if s.deps.Runner != nil {
		st := s.deps.Runner.Status()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.deps.Guard.Positions()
	if positions == nil {
		positions = []guard.ManagedPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries := s.deps.Guard.Audit().Entries()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []guard.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AllocationResponse is the /allocation payload.
type AllocationResponse struct {
	Performance map[string]allocation.AlphaPerformance `json:"performance"`
	Allocations []allocation.AllocationResult          `json:"allocations"`
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	resp := AllocationResponse{
		Performance: map[string]allocation.AlphaPerformance{},
		Allocations: []allocation.AllocationResult{},
	}
	if s.deps.Tracker != nil {
		resp.Performance = s.deps.Tracker.Snapshot()
	}
	if s.deps.Engine != nil {
		resp.Allocations = s.deps.Engine.Allocations()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}
