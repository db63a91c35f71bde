package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/jsonx"
	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/metrics"
	"github.com/draftpilot/draftpilot/internal/persist"
	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/session"
	"github.com/draftpilot/draftpilot/internal/store"
)

var errSessionNotFound = errors.New("session not found")

func (s *Server) newController(ctx context.Context, id string) *session.Controller {
	logger := s.logger.With(zap.String("component", "session"))
	return session.New(ctx, id, s.generator,
		session.WithPersister(persist.New(s.store, id, persist.WithLogger(logger))),
		session.WithPublisher(s.broker),
		session.WithLogger(logger),
		session.WithFlushPolicy(s.cfg.StreamFlushBytes, s.cfg.StreamFlushInterval),
		session.WithCredential(s.credential),
	)
}

// controller returns the live controller for id, restoring it from the store
// when it is not cached. An id with neither a live controller nor a stored
// record is unknown.
func (s *Server) controller(ctx context.Context, id string) (*session.Controller, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if ctrl, ok := s.sessions.Get(id); ok {
		return ctrl, nil
	}
	if _, err := s.store.Get(ctx, persist.Key(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errSessionNotFound
		}
		return nil, err
	}
	ctrl := s.newController(ctx, id)
	s.sessions.Add(id, ctrl)
	return ctrl, nil
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	ctrl, err := s.controller(r.Context(), id)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return nil, false
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return ctrl, true
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	ctrl := s.newController(r.Context(), id)
	persist.New(s.store, id, persist.WithLogger(s.logger)).Save(r.Context(), ctrl.State())

	s.sessionsMu.Lock()
	s.sessions.Add(id, ctrl)
	s.sessionsMu.Unlock()
	metrics.SessionsCreated.Inc()

	writeJSONStatus(w, map[string]any{
		"session_id": id,
		"state":      ctrl.State(),
	}, http.StatusCreated)
}

type sessionResponse struct {
	SessionID      string            `json:"session_id"`
	State          session.State     `json:"state"`
	DisplayOptions []research.Option `json:"display_options"`
	Buffer         session.Buffer    `json:"buffer"`
	LastError      string            `json:"last_error,omitempty"`
}

func snapshot(ctrl *session.Controller) sessionResponse {
	state := ctrl.State()
	return sessionResponse{
		SessionID:      ctrl.ID(),
		State:          state,
		DisplayOptions: research.SortForDisplay(state.Options),
		Buffer:         ctrl.Buffer(),
		LastError:      ctrl.LastError(),
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSONStatus(w, snapshot(ctrl), http.StatusOK)
}

// resolveCredential picks the request credential over the server one.
func (s *Server) resolveCredential(r *http.Request) (string, error) {
	if credential := strings.TrimSpace(r.Header.Get(CredentialHeader)); credential != "" {
		return credential, nil
	}
	if s.credential != "" {
		return s.credential, nil
	}
	return "", llm.CredentialError{}
}

type researchRequest struct {
	School          string `json:"school"`
	Major           string `json:"major"`
	Courses         string `json:"courses"`
	Extracurricular string `json:"extracurricular"`
}

func (s *Server) startResearch(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req researchRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	inputs := session.Inputs{
		School:          req.School,
		Major:           req.Major,
		Courses:         req.Courses,
		Extracurricular: req.Extracurricular,
	}
	if err := ctrl.CheckResearch(inputs); err != nil {
		writeError(w, err)
		return
	}
	credential, err := s.resolveCredential(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctrl.SetCredential(credential)

	s.launch(ctrl, llm.IntentResearch, func(ctx context.Context) error {
		return ctrl.StartResearchGeneration(ctx, inputs)
	})
	writeJSONStatus(w, map[string]string{
		"session_id": ctrl.ID(),
		"intent":     string(llm.IntentResearch),
		"status":     "streaming",
	}, http.StatusAccepted)
}

func (s *Server) startStatement(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := ctrl.CheckStatement(); err != nil {
		writeError(w, err)
		return
	}
	credential, err := s.resolveCredential(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctrl.SetCredential(credential)

	s.launch(ctrl, llm.IntentStatement, ctrl.StartStatementGeneration)
	writeJSONStatus(w, map[string]string{
		"session_id": ctrl.ID(),
		"intent":     string(llm.IntentStatement),
		"status":     "streaming",
	}, http.StatusAccepted)
}

// launch runs a generation detached from the request. Its outcome reaches
// clients through session events and the session snapshot.
func (s *Server) launch(ctrl *session.Controller, intent llm.Intent, run func(ctx context.Context) error) {
	s.streams.Add(1)
	go func() {
		defer s.streams.Done()
		err := run(s.streamCtx)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrStreamAbandoned):
			s.logger.Debug("generation superseded", zap.String("session_id", ctrl.ID()), zap.String("intent", string(intent)))
		default:
			s.logger.Warn("generation failed", zap.String("session_id", ctrl.ID()), zap.String("intent", string(intent)), zap.Error(err))
		}
	}()
}

type selectRequest struct {
	OptionID string `json:"option_id"`
}

func (s *Server) selectOption(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := ctrl.SelectOption(r.Context(), strings.TrimSpace(req.OptionID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, snapshot(ctrl), http.StatusOK)
}

func (s *Server) goBack(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctrl.GoBack(r.Context())
	writeJSONStatus(w, snapshot(ctrl), http.StatusOK)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctrl.Reset(r.Context())
	writeJSONStatus(w, snapshot(ctrl), http.StatusOK)
}

func (s *Server) abandonStream(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctrl.Abandon()
	w.WriteHeader(http.StatusNoContent)
}
