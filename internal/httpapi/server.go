package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/config"
	"github.com/ent0n29/livevoice/internal/observability"
	"github.com/ent0n29/livevoice/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

// Backends names the implementation chosen for each pipeline stage. It is
// reported by the health endpoints.
type Backends struct {
	Transcoder  string `json:"transcoder"`
	Recognizer  string `json:"recognizer"`
	LLM         string `json:"llm"`
	Synthesizer string `json:"synthesizer"`
	Archive     string `json:"archive"`
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	cfg          config.Config
	registry     *session.Registry
	orchestrator Orchestrator
	metrics      *observability.Metrics
	logger       zerolog.Logger
	backends     Backends
	checks       []ReadinessCheck
	upgrader     websocket.Upgrader
	static       http.Handler
}

func New(cfg config.Config, registry *session.Registry, orchestrator Orchestrator, metrics *observability.Metrics, logger zerolog.Logger, backends Backends, checks ...ReadinessCheck) *Server {
	return &Server{
		cfg:          cfg,
		registry:     registry,
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       logger.With().Str("component", "httpapi").Logger(),
		backends:     backends,
		checks:       checks,
		static:       newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws/audio", s.handleAudioWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"backends":        s.backends,
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := map[string]string{}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			failures[c.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not_ready",
			"backends": s.backends,
			"failures": failures,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"backends": s.backends,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if !sess.Ended() {
		respondError(w, http.StatusConflict, "session_active", "session is still connected")
		return
	}
	s.registry.Remove(id)
	s.metrics.SessionEvents.WithLabelValues("removed").Inc()
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

var errNoOrchestrator = errors.New("orchestrator not configured")
