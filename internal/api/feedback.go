package api

import (
	"math"
	"net/http"

	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
)

type feedbackRequest struct {
	TurnID  int64  `json:"turn_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type feedbackResponse struct {
	refine.SubmitResult
	CycleError string `json:"cycle_error,omitempty"`
}

type triggerResponse struct {
	feedback.Decision
	MinPending      int     `json:"min_pending"`
	RatingThreshold float64 `json:"rating_threshold"`
	AverageWindow   int     `json:"average_window"`
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TurnID <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "turn_id is required")
		return
	}

	res, err := s.deps.Refiner.Submit(r.Context(), req.TurnID, req.Comment, req.Rating)
	if err != nil {
		writeAppError(w, err)
		return
	}
	res.Decision.Average = roundRating(res.Decision.Average)
	out := feedbackResponse{SubmitResult: res}
	if res.CycleErr != nil {
		out.CycleError = res.CycleErr.Error()
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) pendingFeedback(w http.ResponseWriter, _ *http.Request) {
	pending := s.deps.Feedback.Pending()
	if pending == nil {
		pending = []feedback.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(pending),
		"records": pending,
	})
}

func (s *Server) averageRating(w http.ResponseWriter, r *http.Request) {
	window := parseIntParam(r, "window", 0, 0)
	avg, ok := s.deps.Feedback.AverageRating(window)
	writeJSON(w, http.StatusOK, map[string]any{
		"average":  roundRating(avg),
		"has_data": ok,
		"window":   window,
	})
}

func (s *Server) feedbackStats(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Feedback.Stats()
	st.AverageRating = roundRating(st.AverageRating)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) trigger(w http.ResponseWriter, _ *http.Request) {
	policy := s.deps.Refiner.Policy()
	decision := s.deps.Refiner.Evaluate()
	decision.Average = roundRating(decision.Average)
	writeJSON(w, http.StatusOK, triggerResponse{
		Decision:        decision,
		MinPending:      policy.MinPending,
		RatingThreshold: policy.RatingThreshold,
		AverageWindow:   policy.AverageWindow,
	})
}

// roundRating keeps two decimals in responses.
func roundRating(v float64) float64 {
	return math.Round(v*100) / 100
}
