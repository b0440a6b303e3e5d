// Package commands provides channel-agnostic slash command handling.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
	"github.com/neoclaw-ai/promptsmith/internal/runtime"
)

const helpText = `Commands:
  /feedback <rating 1-5> [comment]       rate the last answer
  /rate <turn> <rating 1-5> [comment]    rate a specific turn
  /improve                               fold pending feedback into a new prompt now
  /prompt                                show the current prompt
  /versions                              list prompt versions
  /pending                               show pending feedback and the trigger decision
  /new, /reset                           start a new conversation
  /stop                                  cancel the running answer
  /quit                                  leave`

// Conversation is the chat the commands act on.
type Conversation interface {
	Reset(ctx context.Context) error
	LastTurnID() int64
}

// Refiner accepts feedback and runs refinement cycles.
type Refiner interface {
	Submit(ctx context.Context, turnID int64, comment string, rating int) (refine.SubmitResult, error)
	Run(ctx context.Context, force bool) (refine.Outcome, error)
	Evaluate() feedback.Decision
}

// PromptHistory exposes prompt versions.
type PromptHistory interface {
	Current() prompts.Version
	History() []prompts.Version
}

// Handler dispatches supported slash commands.
type Handler struct {
	conversation Conversation
	refiner      Refiner
	prompts      PromptHistory
}

// New creates a slash command handler. Nil collaborators disable the
// commands that need them.
func New(conversation Conversation, refiner Refiner, prompts PromptHistory) *Handler {
	return &Handler{conversation: conversation, refiner: refiner, prompts: prompts}
}

// Handle executes one command and reports whether it was handled. Usage
// mistakes are reported to the user and are not errors.
func (h *Handler) Handle(ctx context.Context, text string, w runtime.ResponseWriter) (handled bool, err error) {
	if w == nil {
		return false, errors.New("response writer is required")
	}
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return false, nil
	}
	args, err := shlex.Split(text)
	if err != nil {
		// Stray quotes and apostrophes in comments are common.
		args = strings.Fields(text)
	}
	if len(args) == 0 {
		return false, nil
	}

	name, args := strings.ToLower(args[0]), args[1:]
	switch name {
	case "/help", "/commands":
		return true, w.WriteMessage(ctx, helpText)
	case "/new", "/reset":
		return true, h.handleReset(ctx, w)
	case "/feedback":
		return true, h.handleFeedback(ctx, w, args)
	case "/rate":
		return true, h.handleRate(ctx, w, args)
	case "/improve":
		return true, h.handleImprove(ctx, w)
	case "/prompt":
		return true, h.handlePrompt(ctx, w)
	case "/versions":
		return true, h.handleVersions(ctx, w)
	case "/pending":
		return true, h.handlePending(ctx, w)
	default:
		return false, nil
	}
}

func (h *Handler) handleReset(ctx context.Context, w runtime.ResponseWriter) error {
	if h.conversation == nil {
		return errors.New("reset command is unavailable")
	}
	if err := h.conversation.Reset(ctx); err != nil {
		return err
	}
	return w.WriteMessage(ctx, "Session cleared.")
}

func (h *Handler) handleFeedback(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) == 0 {
		return w.WriteMessage(ctx, "Usage: /feedback <rating 1-5> [comment]")
	}
	if h.conversation == nil {
		return errors.New("feedback command is unavailable")
	}
	turnID := h.conversation.LastTurnID()
	if turnID == 0 {
		return w.WriteMessage(ctx, "There is no answer to rate yet.")
	}
	return h.submit(ctx, w, turnID, args[0], args[1:])
}

func (h *Handler) handleRate(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) < 2 {
		return w.WriteMessage(ctx, "Usage: /rate <turn> <rating 1-5> [comment]")
	}
	turnID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || turnID <= 0 {
		return w.WriteMessage(ctx, fmt.Sprintf("Invalid turn id %q.", args[0]))
	}
	return h.submit(ctx, w, turnID, args[1], args[2:])
}

func (h *Handler) submit(ctx context.Context, w runtime.ResponseWriter, turnID int64, ratingArg string, comment []string) error {
	if h.refiner == nil {
		return errors.New("feedback is unavailable")
	}
	rating, err := strconv.Atoi(ratingArg)
	if err != nil {
		return w.WriteMessage(ctx, fmt.Sprintf("Invalid rating %q: use a number from 1 to 5.", ratingArg))
	}

	res, err := h.refiner.Submit(ctx, turnID, strings.Join(comment, " "), rating)
	if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound) {
		return w.WriteMessage(ctx, "Feedback rejected: "+err.Error())
	}
	if err != nil {
		return err
	}
	return w.WriteMessage(ctx, FormatSubmitResult(res))
}

// FormatSubmitResult describes an accepted feedback submission.
func FormatSubmitResult(res refine.SubmitResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feedback #%d recorded for turn %d (rating %d). Pending: %d",
		res.Record.ID, res.Record.TurnID, res.Record.Rating, res.Decision.Pending)
	if res.Decision.HasAverage {
		fmt.Fprintf(&b, ", average %.2f", res.Decision.Average)
	}
	b.WriteString(".")
	switch {
	case res.Outcome != nil:
		b.WriteString("\n")
		b.WriteString(FormatOutcome(*res.Outcome))
	case res.CycleErr != nil:
		fmt.Fprintf(&b, "\nPrompt refinement failed and will be retried: %v", res.CycleErr)
	}
	return b.String()
}

// FormatOutcome describes a completed refinement cycle.
func FormatOutcome(o refine.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prompt updated to version %d from %d feedback(s).", o.Version, o.FeedbackCount)
	for _, imp := range o.Improvements {
		fmt.Fprintf(&b, "\n• %s", imp)
	}
	return b.String()
}

func (h *Handler) handleImprove(ctx context.Context, w runtime.ResponseWriter) error {
	if h.refiner == nil {
		return errors.New("improve command is unavailable")
	}
	outcome, err := h.refiner.Run(ctx, true)
	switch {
	case errors.Is(err, refine.ErrNothingPending):
		return w.WriteMessage(ctx, "No pending feedback to apply.")
	case errors.Is(err, apperr.ErrSynthesis), errors.Is(err, apperr.ErrGenerationUnavailable):
		return w.WriteMessage(ctx, "Prompt refinement failed; the feedback stays pending: "+err.Error())
	case err != nil:
		return err
	}
	return w.WriteMessage(ctx, FormatOutcome(outcome))
}

func (h *Handler) handlePrompt(ctx context.Context, w runtime.ResponseWriter) error {
	if h.prompts == nil {
		return errors.New("prompt command is unavailable")
	}
	v := h.prompts.Current()
	return w.WriteMessage(ctx, fmt.Sprintf("Prompt version %d:\n\n%s", v.Version, v.Text))
}

func (h *Handler) handleVersions(ctx context.Context, w runtime.ResponseWriter) error {
	if h.prompts == nil {
		return errors.New("versions command is unavailable")
	}
	history := h.prompts.History()
	if len(history) == 0 {
		return w.WriteMessage(ctx, "No prompt versions yet.")
	}
	var b strings.Builder
	b.WriteString("Prompt versions:")
	for _, v := range history {
		fmt.Fprintf(&b, "\nv%d  %s  feedback=%d", v.Version, v.CreatedAt.Format("2006-01-02 15:04"), v.FeedbackCount)
		if len(v.Improvements) > 0 {
			fmt.Fprintf(&b, "  %s", strings.Join(v.Improvements, "; "))
		}
	}
	return w.WriteMessage(ctx, b.String())
}

func (h *Handler) handlePending(ctx context.Context, w runtime.ResponseWriter) error {
	if h.refiner == nil {
		return errors.New("pending command is unavailable")
	}
	d := h.refiner.Evaluate()
	if d.Pending == 0 {
		return w.WriteMessage(ctx, "No pending feedback.")
	}
	verdict := "waiting for more feedback"
	if d.Fire {
		verdict = "a refinement will run on the next submission or sweep"
	}
	return w.WriteMessage(ctx, fmt.Sprintf("Pending feedback: %d, average %.2f (%s).", d.Pending, d.Average, verdict))
}

// Router dispatches slash commands before delegating to the next runtime.Handler.
type Router struct {
	Commands *Handler
	Next     runtime.Handler
}

// HandleMessage runs command dispatch first, then forwards non-command input.
func (r Router) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if r.Next == nil {
		return errors.New("next handler is required")
	}
	if r.Commands != nil {
		handled, err := r.Commands.Handle(ctx, msg.Text, w)
		if handled || err != nil {
			return err
		}
	}
	return r.Next.HandleMessage(ctx, w, msg)
}
