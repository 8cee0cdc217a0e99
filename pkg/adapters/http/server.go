package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/internal/presentation/graph"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/runner"
	"github.com/aretw0/relay/pkg/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "relay"

// Engine is what the HTTP surface needs from the orchestrator.
type Engine interface {
	ports.Orchestrator
	Watch(key string) (<-chan domain.Event, func())
	Validate(req domain.Request) error
}

// QueryRequest is the body of POST /query. session_id is accepted as an alias
// of session_key.
type QueryRequest struct {
	Query      string `json:"query"`
	SessionKey string `json:"session_key,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	MaxSteps   *int   `json:"max_steps,omitempty"`
}

// QueryResponse is the report of a completed query.
type QueryResponse struct {
	Query string `json:"query"`
	*domain.Report
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string   `json:"status"`
	Service          string   `json:"service"`
	Version          string   `json:"version"`
	WorkersAvailable []string `json:"workers_available"`
}

// Server implements ServerInterface over an Engine.
type Server struct {
	Engine Engine

	logger      *slog.Logger
	corsOrigins []string
	limiter     *ipLimiter
	trustProxy  bool
	gatherer    prometheus.Gatherer
}

var _ ServerInterface = (*Server)(nil)

// Option configures the HTTP handler.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCORSOrigins restricts the allowed origins. "*" or an empty list allows any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithRateLimit throttles API calls per client address. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = newIPLimiter(rps, burst)
	}
}

// WithTrustProxy takes the client address from True-Client-IP, X-Real-IP or
// X-Forwarded-For. Enable it only behind a reverse proxy that sets them.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) {
		s.trustProxy = trust
	}
}

// WithMetrics exposes the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	server := &Server{Engine: engine}
	for _, opt := range opts {
		opt(server)
	}
	if server.logger == nil {
		server.logger = logging.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if server.trustProxy {
		r.Use(middleware.RealIP)
	}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec())
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(swaggerHTML))
	})
	if server.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(g chi.Router) {
		if server.limiter != nil {
			g.Use(server.limiter.middleware)
		}
		HandlerFromMux(server, g, func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, server.logger, fmt.Errorf("%w: %w", runner.ErrInvalidRequest, err))
		})
	})

	return enableCORS(server.corsOrigins, r)
}

// SubmitQuery handles POST /query.
func (s *Server) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.logger, fmt.Errorf("%w: body: %w", runner.ErrInvalidRequest, err))
		return
	}
	req, err := toRequest(body.Query, firstNonEmpty(body.SessionKey, body.SessionID), body.MaxSteps)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	report, err := s.Engine.Submit(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Query: body.Query, Report: report, Timestamp: time.Now().UTC()})
}

// StreamChat handles GET /chat/stream. The query runs while its events are written.
// A client that disconnects stops the execution before its next step.
func (s *Server) StreamChat(w http.ResponseWriter, r *http.Request, params StreamChatParams) {
	sessionKey := ""
	switch {
	case params.SessionKey != nil:
		sessionKey = *params.SessionKey
	case params.SessionId != nil:
		sessionKey = *params.SessionId
	}
	req, err := toRequest(params.Query, sessionKey, params.MaxSteps)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.Engine.Validate(req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w)
	if err := stream.WritePing(w); err != nil {
		return
	}

	terminal := false
	_, err = s.Engine.Stream(r.Context(), req, func(ev domain.Event) error {
		if ev.Type == domain.EventDone || ev.Type == domain.EventError {
			terminal = true
		}
		if ev.SessionKey != "" {
			sessionKey = ev.SessionKey
		}
		return stream.WriteSSE(w, ev, string(ev.Type))
	})
	if err == nil || terminal || r.Context().Err() != nil {
		return
	}

	s.logger.Warn("Stream aborted before a terminal event", "session_key", sessionKey, "err", err)
	_ = stream.WriteSSE(w, domain.Event{
		Type:       domain.EventError,
		SessionKey: sessionKey,
		Error:      describe(err),
		Timestamp:  time.Now().UTC(),
	}, string(domain.EventError))
}

// ListThreads handles GET /threads.
func (s *Server) ListThreads(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Engine.Sessions(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"threads": keys})
}

// CreateThread handles POST /threads.
func (s *Server) CreateThread(w http.ResponseWriter, r *http.Request) {
	key, err := s.Engine.CreateSession(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"thread_id": key})
}

// DeleteThread handles DELETE /threads/{thread_id}.
func (s *Server) DeleteThread(w http.ResponseWriter, r *http.Request, threadID string) {
	if err := s.Engine.DeleteSession(r.Context(), threadID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetThreadMessages handles GET /threads/{thread_id}/messages.
func (s *Server) GetThreadMessages(w http.ResponseWriter, r *http.Request, threadID string) {
	log, err := s.Engine.Messages(r.Context(), threadID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	views := make([]*domain.MessageView, 0, len(log))
	for _, m := range log {
		views = append(views, stream.View(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "messages": views})
}

// WatchThread handles GET /threads/{thread_id}/events (SSE).
func (s *Server) WatchThread(w http.ResponseWriter, r *http.Request, threadID string) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.Engine.Watch(threadID)
	defer cancel()

	setSSEHeaders(w)
	if err := stream.WritePing(w); err != nil {
		return
	}
	s.logger.Info("SSE: Watching session", "session_key", threadID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: Watcher disconnected", "session_key", threadID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := stream.WriteSSE(w, ev, string(ev.Type)); err != nil {
				return
			}
		}
	}
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	workers := s.Engine.Workers()
	ids := make([]string, 0, len(workers))
	for _, info := range workers {
		ids = append(ids, info.ID)
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		Service:          ServiceName,
		Version:          relay.Version,
		WorkersAvailable: ids,
	})
}

// GetGraph handles GET /graph.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request, params GetGraphParams) {
	var overlay *graph.GraphOverlay
	if params.ThreadId != nil && *params.ThreadId != "" {
		log, err := s.Engine.Messages(r.Context(), *params.ThreadId)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		overlay = graph.OverlayFromLog(log)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, graph.GenerateMermaid("", s.Engine.Workers(), overlay))
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	} else if err != nil {
		s.logger.Error("Failed to load OpenAPI spec", "err", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "relay-http",
		"version":     relay.Version,
		"api_version": apiVersion,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func toRequest(query, sessionKey string, maxSteps *int) (domain.Request, error) {
	req := domain.Request{Query: query, SessionKey: sessionKey}
	if maxSteps != nil {
		if *maxSteps < 1 {
			return req, runner.ErrInvalidMaxSteps
		}
		req.MaxSteps = *maxSteps
	}
	return req, nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}
