package api

import (
	"errors"
	"net/http"

	"github.com/neoclaw-ai/promptsmith/internal/refine"
	"github.com/neoclaw-ai/promptsmith/internal/report"
)

func (s *Server) currentPrompt(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Prompts.Current())
}

func (s *Server) promptHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": s.deps.Prompts.History(),
		"stats":    s.deps.Prompts.Stats(),
	})
}

func (s *Server) promptHistoryHTML(w http.ResponseWriter, _ *http.Request) {
	page, err := report.HTML(s.deps.Prompts.History(), s.deps.Prompts.Stats())
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

func (s *Server) improvePrompt(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.deps.Refiner.Run(r.Context(), true)
	if errors.Is(err, refine.ErrNothingPending) {
		httpError(w, http.StatusConflict, "conflict", "no pending feedback to apply")
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
