package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/config"
	"github.com/draftpilot/draftpilot/internal/events"
	"github.com/draftpilot/draftpilot/internal/jsonx"
	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/session"
	"github.com/draftpilot/draftpilot/internal/store"
)

const (
	CredentialHeader   = "X-Generator-Credential"
	defaultSessionSize = 1024
	heartbeatInterval  = 15 * time.Second
)

type Server struct {
	store     store.Store
	broker    Broker
	workflows WorkflowService
	generator llm.Generator
	cfg       config.Config
	logger    *zap.Logger

	credential string
	heartbeat  time.Duration

	sessionsMu sync.Mutex
	sessions   *lru.Cache[string, *session.Controller]

	streamCtx   context.Context
	stopStreams context.CancelFunc
	streams     sync.WaitGroup
}

type Broker interface {
	Publish(event events.SessionEvent) events.SessionEvent
	Subscribe(ctx context.Context, sessionID string) <-chan events.SessionEvent
	Forget(sessionID string)
}

// WorkflowService starts headless drafts. A nil service disables /drafts.
type WorkflowService interface {
	StartDraft(ctx context.Context, draftID string, inputs session.Inputs, pick int) error
	CancelDraft(ctx context.Context, draftID string) error
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCredential sets the generator credential used when a request carries
// no CredentialHeader.
func WithCredential(credential string) Option {
	return func(s *Server) { s.credential = strings.TrimSpace(credential) }
}

func NewServer(st store.Store, broker Broker, workflows WorkflowService, generator llm.Generator, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		store:     st,
		broker:    broker,
		workflows: workflows,
		generator: generator,
		cfg:       cfg,
		logger:    zap.NewNop(),
		heartbeat: heartbeatInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streamCtx, s.stopStreams = context.WithCancel(context.Background())

	size := cfg.SessionCacheSize
	if size <= 0 {
		size = defaultSessionSize
	}
	// size is positive, so construction cannot fail.
	s.sessions, _ = lru.NewWithEvict(size, func(id string, ctrl *session.Controller) {
		ctrl.Abandon()
		if s.broker != nil {
			s.broker.Forget(id)
		}
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/sessions", s.createSession)
	r.Get("/sessions/{id}", s.getSession)
	r.Post("/sessions/{id}/research", s.startResearch)
	r.Post("/sessions/{id}/statement", s.startStatement)
	r.Post("/sessions/{id}/select", s.selectOption)
	r.Post("/sessions/{id}/back", s.goBack)
	r.Post("/sessions/{id}/reset", s.resetSession)
	r.Delete("/sessions/{id}/stream", s.abandonStream)
	r.Get("/sessions/{id}/events", s.streamEvents)
	r.Post("/drafts", s.startDraft)
	r.Delete("/drafts/{id}", s.cancelDraft)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready" || cleanPath == "/metrics") {
		return true
	}
	return method == http.MethodOptions
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.generator == nil {
		subsystems["generator"] = subsystemStatus{Status: "error", Error: "no generator configured"}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["generator"] = subsystemStatus{Status: "ok"}
	}

	if s.workflows == nil {
		subsystems["workflows"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["workflows"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = jsonx.NewEncoder(w).Encode(value)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps generator and workflow errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var validationErr llm.ValidationError
	var credentialErr llm.CredentialError
	var networkErr llm.NetworkError
	switch {
	case errors.As(err, &validationErr):
		writeJSONStatus(w, errorResponse{Error: validationErr.Error(), Field: validationErr.Field}, http.StatusBadRequest)
	case errors.As(err, &credentialErr):
		writeJSONStatus(w, errorResponse{Error: credentialErr.Error()}, http.StatusPreconditionFailed)
	case errors.As(err, &networkErr):
		writeJSONStatus(w, errorResponse{Error: networkErr.Error()}, http.StatusBadGateway)
	default:
		writeJSONStatus(w, errorResponse{Error: err.Error()}, http.StatusInternalServerError)
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	eventsChan := s.broker.Subscribe(ctx, ctrl.ID())

	sendSSE(w, events.SessionEvent{
		SessionID: ctrl.ID(),
		Type:      "session.snapshot",
		Ts:        time.Now().UTC().Format(time.RFC3339Nano),
		Payload: map[string]any{
			"state":  ctrl.State(),
			"buffer": ctrl.Buffer(),
		},
	})
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			sendSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.SessionEvent) {
	payload, _ := jsonx.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.SessionID, event.Seq)
	fmt.Fprint(w, "event: session_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID, "+CredentialHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close abandons every open stream and waits for background generations to
// return.
func (s *Server) Close() {
	s.stopStreams()
	s.sessionsMu.Lock()
	s.sessions.Purge()
	s.sessionsMu.Unlock()
	s.streams.Wait()
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
		s.Close()
	}()
	return server.ListenAndServe()
}
