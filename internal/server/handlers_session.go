package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentdesk/agentdesk/internal/gitstatus"
	"github.com/agentdesk/agentdesk/internal/session"
	"github.com/agentdesk/agentdesk/pkg/types"
)

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	states, err := s.states.ListStates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if states == nil {
		states = []*types.SessionState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	st, ok := s.cache.SessionState(sessionID)
	if !ok {
		// Fall through to the coordinator, which seeds from the store.
		state := s.coord.State(sessionID)
		st = &state
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs := s.cache.Messages(sessionID)
	if msgs == nil {
		msgs = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content required")
		return
	}

	if err := s.coord.SendMessage(r.Context(), sessionID, req.Content, req.Attachments); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coord.Cancel(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.coord.OpenSession(r.Context(), sessionID)
	writeSuccess(w)
}

type approvePlanRequest struct {
	MessageID  string `json:"message_id"`
	Mode       string `json:"mode,omitempty"`
	EditedPlan string `json:"edited_plan,omitempty"`
}

func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req approvePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "message_id required")
		return
	}

	err := s.coord.ApprovePlan(r.Context(), sessionID, req.MessageID, session.ApproveOptions{
		Mode:       types.ExecutionMode(req.Mode),
		EditedPlan: req.EditedPlan,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	writeSuccess(w)
}

type answerQuestionRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) answerQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req answerQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Answer == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "answer required")
		return
	}

	if err := s.coord.AnswerQuestion(r.Context(), sessionID, req.Answer); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) retryAfterDenial(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coord.RetryAfterDenial(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	writeSuccess(w)
}

type draftResponse struct {
	SessionID string `json:"session_id"`
	Draft     string `json:"draft"`
}

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	draft := s.cache.Draft(sessionID)
	if draft == "" {
		draft = s.coord.LoadDraft(r.Context(), sessionID)
	}
	writeJSON(w, http.StatusOK, draftResponse{SessionID: sessionID, Draft: draft})
}

type setDraftRequest struct {
	Draft string `json:"draft"`
}

func (s *Server) setDraft(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req setDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	s.coord.SetDraft(r.Context(), sessionID, req.Draft)
	writeSuccess(w)
}

func (s *Server) gitStatus(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path required")
		return
	}
	writeJSON(w, http.StatusOK, gitstatus.CurrentStatus(path))
}
