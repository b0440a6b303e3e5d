// Package api serves turns, feedback and prompt history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/neoclaw-ai/promptsmith/internal/agent"
	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
	"github.com/neoclaw-ai/promptsmith/internal/session"
)

const (
	maxRequestBodySize = 1 << 20
	shutdownTimeout    = 10 * time.Second
)

// Asker runs turns for one API session.
type Asker interface {
	Ask(ctx context.Context, text string) (agent.TurnResult, error)
}

// SessionFactory creates the conversation behind a new session id.
type SessionFactory func(id string) (Asker, error)

// TurnReader reads recorded turns.
type TurnReader interface {
	Get(id int64) (session.Turn, error)
	Recent(n int) []session.Turn
}

// FeedbackReader reads feedback records and aggregates.
type FeedbackReader interface {
	Pending() []feedback.Record
	AverageRating(window int) (float64, bool)
	Stats() feedback.Stats
}

// Refiner accepts feedback and runs refinement cycles.
type Refiner interface {
	Submit(ctx context.Context, turnID int64, comment string, rating int) (refine.SubmitResult, error)
	Run(ctx context.Context, force bool) (refine.Outcome, error)
	Evaluate() feedback.Decision
	Policy() feedback.Policy
}

// PromptReader reads prompt versions.
type PromptReader interface {
	Current() prompts.Version
	History() []prompts.Version
	Stats() prompts.Stats
}

// Deps are the collaborators behind the API.
type Deps struct {
	// Token, when set, is required as a bearer token on /v1 routes.
	Token    string
	Sessions SessionFactory
	Turns    TurnReader
	Feedback FeedbackReader
	Refiner  Refiner
	Prompts  PromptReader
}

// Server is the HTTP API.
type Server struct {
	router *chi.Mux
	deps   Deps

	mu       sync.Mutex
	sessions map[string]Asker
}

// NewServer builds the router over deps.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session factory is required")
	case deps.Turns == nil:
		return nil, errors.New("turn reader is required")
	case deps.Feedback == nil:
		return nil, errors.New("feedback reader is required")
	case deps.Refiner == nil:
		return nil, errors.New("refiner is required")
	case deps.Prompts == nil:
		return nil, errors.New("prompt reader is required")
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	s := &Server{router: router, deps: deps, sessions: make(map[string]Asker)}

	router.Get("/health", s.health)
	router.Route("/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/sessions", s.createSession)
		r.Post("/sessions/{id}/turns", s.createTurn)
		r.Get("/turns", s.listTurns)
		r.Get("/turns/{id}", s.getTurn)

		r.Post("/feedback", s.submitFeedback)
		r.Get("/feedback/pending", s.pendingFeedback)
		r.Get("/feedback/average", s.averageRating)
		r.Get("/feedback/stats", s.feedbackStats)

		r.Get("/prompts/current", s.currentPrompt)
		r.Get("/prompts/history", s.promptHistory)
		r.Get("/prompts/history.html", s.promptHistoryHTML)
		r.Post("/prompts/improve", s.improvePrompt)

		r.Get("/trigger", s.trigger)
	})
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger().Info("API server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Logger().Debug(
			"api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger().Warn("failed to encode api response", "err", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// writeAppError maps err onto its status code.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	errType := "api_error"
	switch status {
	case http.StatusBadRequest:
		errType = "invalid_request_error"
	case http.StatusNotFound:
		errType = "not_found"
	case http.StatusServiceUnavailable:
		errType = "generation_unavailable"
	case http.StatusBadGateway:
		errType = "synthesis_error"
	}
	if status == http.StatusInternalServerError {
		logging.Logger().Error("api request failed", "err", err)
	}
	httpError(w, status, errType, "%s", err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", tooLarge.Limit)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
