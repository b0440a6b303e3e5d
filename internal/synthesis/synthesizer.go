// Package synthesis turns pending feedback and the current prompt into a
// candidate prompt revision.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/generation"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/session"
)

const (
	turnUnavailable = "(turn unavailable)"
	excerptLength   = 80
)

const systemPrompt = "Você é um especialista em melhorar prompts de assistentes de IA. Responda apenas no formato pedido."

// TurnSource resolves the turn a feedback record refers to.
type TurnSource interface {
	Get(id int64) (session.Turn, error)
}

// Candidate is a proposed prompt revision ready to append.
type Candidate struct {
	PromptText    string
	Improvements  []string
	FeedbackCount int
}

// Synthesizer asks the generation backend for a prompt revision.
type Synthesizer struct {
	backend generation.Backend
	turns   TurnSource
}

// New returns a Synthesizer.
func New(backend generation.Backend, turns TurnSource) (*Synthesizer, error) {
	if backend == nil {
		return nil, errors.New("generation backend is required")
	}
	if turns == nil {
		return nil, errors.New("turn source is required")
	}
	return &Synthesizer{backend: backend, turns: turns}, nil
}

// Synthesize folds pending into a revision of current. The returned candidate
// always carries exactly one improvement per folded record.
func (s *Synthesizer) Synthesize(ctx context.Context, pending []feedback.Record, current prompts.Version) (Candidate, error) {
	if len(pending) == 0 {
		return Candidate{}, apperr.Synthesis("no feedback to synthesize", nil)
	}

	resp, err := s.backend.Synthesize(ctx, generation.SynthesisRequest{
		SystemPrompt: systemPrompt,
		Instructions: s.instructions(pending, current),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrSynthesis) {
			return Candidate{}, err
		}
		return Candidate{}, apperr.Synthesis("backend failed", err)
	}

	result, ok := resp.Result.(generation.SynthesisResult)
	if !ok {
		return Candidate{}, apperr.Synthesis(fmt.Sprintf("backend returned %T instead of a prompt revision", resp.Result), nil)
	}
	text := strings.TrimSpace(result.PromptText)
	if text == "" {
		return Candidate{}, apperr.Synthesis("empty prompt text", nil)
	}
	improvements := normalize(result.Improvements)
	if len(improvements) == 0 {
		return Candidate{}, apperr.Synthesis("no improvements listed", nil)
	}

	if len(improvements) > len(pending) {
		improvements = improvements[:len(pending)]
	}
	for i := len(improvements); i < len(pending); i++ {
		improvements = append(improvements, fmt.Sprintf("Addressed feedback #%d: %s", pending[i].ID, excerpt(pending[i].Comment)))
	}

	logging.Logger().Info(
		"prompt revision synthesized",
		"base_version", current.Version,
		"feedback_count", len(pending),
		"improvements", len(improvements),
	)
	return Candidate{
		PromptText:    text,
		Improvements:  improvements,
		FeedbackCount: len(pending),
	}, nil
}

func (s *Synthesizer) instructions(pending []feedback.Record, current prompts.Version) string {
	var b strings.Builder
	b.WriteString("Analise os feedbacks dos usuários e melhore o prompt do assistente.\n\n")
	b.WriteString("PROMPT ATUAL:\n")
	b.WriteString(current.Text)
	b.WriteString("\n\nFEEDBACKS RECEBIDOS:\n")

	for _, rec := range pending {
		userMessage, answer := turnUnavailable, turnUnavailable
		if turn, err := s.turns.Get(rec.TurnID); err == nil {
			userMessage, answer = turn.UserMessage, turn.Answer
		} else {
			logging.Logger().Warn("feedback turn unavailable", "feedback_id", rec.ID, "turn_id", rec.TurnID, "err", err)
		}
		comment := rec.Comment
		if comment == "" {
			comment = "(sem comentário)"
		}
		fmt.Fprintf(&b, "\nFeedback %d:\n", rec.ID)
		fmt.Fprintf(&b, "Usuário disse: %s\n", userMessage)
		fmt.Fprintf(&b, "Agente respondeu: %s\n", answer)
		fmt.Fprintf(&b, "Feedback: %s\n", comment)
		fmt.Fprintf(&b, "Avaliação: %d/%d\n", rec.Rating, feedback.MaxRating)
	}

	b.WriteString(`
TAREFA:
1. Identifique os problemas apontados nos feedbacks.
2. Ajuste o prompt para corrigir esses problemas.
3. Preserve as instruções que continuam válidas, inclusive a lista de ferramentas.
4. Liste uma melhoria por feedback, na mesma ordem.
5. Escreva o novo prompt completo.

Responda somente com um objeto JSON:
{"prompt": "<novo prompt completo>", "improvements": ["<melhoria 1>", "..."]}
`)
	return b.String()
}

func normalize(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func excerpt(comment string) string {
	comment = strings.Join(strings.Fields(comment), " ")
	if comment == "" {
		return "rating only"
	}
	runes := []rune(comment)
	if len(runes) <= excerptLength {
		return comment
	}
	return string(runes[:excerptLength]) + "..."
}
