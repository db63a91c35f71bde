package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/jsonx"
	"github.com/draftpilot/draftpilot/internal/session"
)

type draftRequest struct {
	School          string `json:"school"`
	Major           string `json:"major"`
	Courses         string `json:"courses"`
	Extracurricular string `json:"extracurricular"`
	// Pick is the 1-based option to draft from; zero means the best score.
	Pick int `json:"pick"`
}

func (s *Server) startDraft(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		http.Error(w, "batch drafting disabled", http.StatusServiceUnavailable)
		return
	}
	var req draftRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Pick < 0 {
		http.Error(w, "pick must not be negative", http.StatusBadRequest)
		return
	}
	inputs := session.Inputs{
		School:          req.School,
		Major:           req.Major,
		Courses:         req.Courses,
		Extracurricular: req.Extracurricular,
	}
	if err := session.ValidateInputs(inputs); err != nil {
		writeError(w, err)
		return
	}

	draftID := uuid.New().String()
	if err := s.workflows.StartDraft(r.Context(), draftID, inputs, req.Pick); err != nil {
		s.logger.Warn("start draft failed", zap.String("draft_id", draftID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSONStatus(w, map[string]string{
		"draft_id":   draftID,
		"session_id": draftID,
		"status":     "queued",
	}, http.StatusAccepted)
}

func (s *Server) cancelDraft(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		http.Error(w, "batch drafting disabled", http.StatusServiceUnavailable)
		return
	}
	draftID := chi.URLParam(r, "id")
	if err := s.workflows.CancelDraft(r.Context(), draftID); err != nil {
		s.logger.Warn("cancel draft failed", zap.String("draft_id", draftID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
