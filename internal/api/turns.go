package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/neoclaw-ai/promptsmith/internal/session"
)

const (
	defaultTurnListLimit = 20
	maxTurnListLimit     = 200
)

type turnRequest struct {
	Message string `json:"message"`
}

type turnResponse struct {
	TurnID        int64                `json:"turn_id"`
	SessionID     string               `json:"session_id"`
	Answer        string               `json:"answer"`
	Status        session.Status       `json:"status"`
	PromptVersion int                  `json:"prompt_version"`
	Invocations   []session.Invocation `json:"invocations"`
}

func (s *Server) createSession(w http.ResponseWriter, _ *http.Request) {
	id := uuid.New().String()
	asker, err := s.deps.Sessions(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.mu.Lock()
	s.sessions[id] = asker
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) createTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	asker, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "session %q not found", id)
		return
	}

	var req turnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := asker.Ask(r.Context(), req.Message)
	if err != nil {
		writeAppError(w, err)
		return
	}

	invocations := result.Turn.Invocations
	if invocations == nil {
		invocations = []session.Invocation{}
	}
	writeJSON(w, http.StatusOK, turnResponse{
		TurnID:        result.Turn.ID,
		SessionID:     id,
		Answer:        result.Answer,
		Status:        result.Turn.Status,
		PromptVersion: result.Turn.PromptVersion,
		Invocations:   invocations,
	})
}

func (s *Server) listTurns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultTurnListLimit, maxTurnListLimit)
	turns := s.deps.Turns.Recent(limit)
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) getTurn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "turn id must be a positive integer")
		return
	}
	turn, err := s.deps.Turns.Get(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}
