// Package rpc is the daemon's local HTTP API and its client.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"extwatch/internal/badge"
	"extwatch/internal/debug"
	"extwatch/internal/platform"
)

const (
	PathMessage = "/v1/message"
	PathUpdates = "/v1/updates"
	PathBadge   = "/v1/badge"
	PathHealth  = "/healthz"
	PathMetrics = "/metrics"
)

const maxMessageBytes = 64 << 10

// MessageHandler answers inbound messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg platform.Message) platform.Response
}

// PendingLister lists extensions with a discovered update.
type PendingLister interface {
	Pending(ctx context.Context) ([]badge.PendingUpdate, error)
}

// RequestObserver records API request latency.
type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

// Server serves the local API.
type Server struct {
	messages MessageHandler
	pending  PendingLister
	badge    func() platform.Badge
	metrics  http.Handler
	observer RequestObserver
	version  string

	router *mux.Router
	http   *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBadge serves the current badge from fn.
func WithBadge(fn func() platform.Badge) ServerOption {
	return func(s *Server) { s.badge = fn }
}

// WithMetrics serves h under /metrics and reports request latency to obs.
func WithMetrics(h http.Handler, obs RequestObserver) ServerOption {
	return func(s *Server) {
		s.metrics = h
		s.observer = obs
	}
}

// WithVersion reports v from the health endpoint.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer builds the API routes.
func NewServer(messages MessageHandler, pending PendingLister, opts ...ServerOption) *Server {
	s := &Server{messages: messages, pending: pending}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc(PathMessage, s.handleMessage).Methods(http.MethodPost)
	r.HandleFunc(PathUpdates, s.handleUpdates).Methods(http.MethodGet)
	r.HandleFunc(PathBadge, s.handleBadge).Methods(http.MethodGet)
	r.HandleFunc(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Health{Status: "ok", Version: s.version})
	}).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle(PathMetrics, s.metrics).Methods(http.MethodGet)
	}
	if s.observer != nil {
		r.Use(s.observe)
	}
	s.router = r
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	debug.Infof("api: listening on %s", l.Addr())
	err := s.http.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg platform.Message
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err := dec.Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, platform.Response{OK: false, Error: "invalid message: " + err.Error()})
		return
	}
	debug.Logf("api: message %s", msg.Action)
	writeJSON(w, http.StatusOK, s.messages.HandleMessage(r.Context(), msg))
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	pending, err := s.pending.Pending(r.Context())
	if err != nil {
		debug.Errorf("api: list pending: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: err.Error()})
		return
	}
	if pending == nil {
		pending = []badge.PendingUpdate{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleBadge(w http.ResponseWriter, _ *http.Request) {
	if s.badge == nil {
		writeJSON(w, http.StatusOK, badge.For(0))
		return
	}
	writeJSON(w, http.StatusOK, s.badge())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.observer.ObserveRequest(route, rec.status, time.Since(start))
	})
}

// Health is the health endpoint's answer.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warnf("api: encode response: %v", err)
	}
}
