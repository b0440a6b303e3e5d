package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
	"github.com/neoclaw-ai/promptsmith/internal/runtime"
)

func TestHelpCommand(t *testing.T) {
	h := New(nil, nil, nil)
	w := &captureWriter{}

	handled, err := h.Handle(context.Background(), "/help", w)
	if err != nil {
		t.Fatalf("handle /help: %v", err)
	}
	if !handled {
		t.Fatalf("expected /help handled")
	}
	if len(w.messages) != 1 || w.messages[0] != helpText {
		t.Fatalf("unexpected help output: %#v", w.messages)
	}
}

func TestResetAlias(t *testing.T) {
	conv := &fakeConversation{}
	h := New(conv, nil, nil)
	w := &captureWriter{}

	handled, err := h.Handle(context.Background(), "/RESET", w)
	if err != nil {
		t.Fatalf("handle /reset: %v", err)
	}
	if !handled || conv.resets != 1 {
		t.Fatalf("expected one reset, handled=%v resets=%d", handled, conv.resets)
	}
	if len(w.messages) != 1 || w.messages[0] != "Session cleared." {
		t.Fatalf("unexpected reset output: %#v", w.messages)
	}
}

func TestResetErrorReturned(t *testing.T) {
	h := New(&fakeConversation{err: errors.New("boom")}, nil, nil)

	handled, err := h.Handle(context.Background(), "/new", &captureWriter{})
	if !handled {
		t.Fatalf("expected handled=true")
	}
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected reset error, got %v", err)
	}
}

func TestFeedbackTargetsLastTurn(t *testing.T) {
	refiner := &fakeRefiner{result: refine.SubmitResult{
		Record:   feedback.Record{ID: 4, TurnID: 9, Rating: 2},
		Decision: feedback.Decision{Pending: 3, Average: 2.5, HasAverage: true, Fire: true},
		Outcome:  &refine.Outcome{Version: 2, FeedbackCount: 3, Improvements: []string{"Mais detalhes"}},
	}}
	h := New(&fakeConversation{last: 9}, refiner, nil)
	w := &captureWriter{}

	if _, err := h.Handle(context.Background(), `/feedback 2 "faltou o bairro" do CEP`, w); err != nil {
		t.Fatalf("handle /feedback: %v", err)
	}
	want := []submission{{turnID: 9, comment: "faltou o bairro do CEP", rating: 2}}
	if diff := cmp.Diff(want, refiner.submitted, cmp.AllowUnexported(submission{})); diff != "" {
		t.Fatalf("submissions mismatch (-want +got):\n%s", diff)
	}
	out := w.messages[0]
	for _, fragment := range []string{"Feedback #4 recorded for turn 9", "Pending: 3, average 2.50", "version 2", "• Mais detalhes"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in %q", fragment, out)
		}
	}
}

func TestFeedbackWithoutTurn(t *testing.T) {
	refiner := &fakeRefiner{}
	h := New(&fakeConversation{}, refiner, nil)
	w := &captureWriter{}

	if _, err := h.Handle(context.Background(), "/feedback 5", w); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(refiner.submitted) != 0 || w.messages[0] != "There is no answer to rate yet." {
		t.Fatalf("unexpected result %#v", w.messages)
	}
}

func TestRateParsesArguments(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []submission
		message string
	}{
		{name: "with comment", input: "/rate 3 4 bom", want: []submission{{turnID: 3, comment: "bom", rating: 4}}},
		{name: "missing rating", input: "/rate 3", message: "Usage: /rate"},
		{name: "bad turn", input: "/rate x 4", message: `Invalid turn id "x"`},
		{name: "bad rating", input: "/rate 3 ótimo", message: `Invalid rating "ótimo"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			refiner := &fakeRefiner{}
			h := New(&fakeConversation{}, refiner, nil)
			w := &captureWriter{}
			if _, err := h.Handle(context.Background(), tc.input, w); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if diff := cmp.Diff(tc.want, refiner.submitted, cmp.AllowUnexported(submission{})); diff != "" {
				t.Fatalf("submissions mismatch (-want +got):\n%s", diff)
			}
			if tc.message != "" && !strings.Contains(w.messages[0], tc.message) {
				t.Fatalf("expected %q in %q", tc.message, w.messages[0])
			}
		})
	}
}

func TestRateReportsRejectedFeedback(t *testing.T) {
	refiner := &fakeRefiner{err: apperr.NotFound("submit feedback", "turn 99 does not exist")}
	h := New(nil, refiner, nil)
	w := &captureWriter{}

	if _, err := h.Handle(context.Background(), "/rate 99 5", w); err != nil {
		t.Fatalf("expected rejection reported to user, got %v", err)
	}
	if !strings.HasPrefix(w.messages[0], "Feedback rejected:") {
		t.Fatalf("unexpected output %q", w.messages[0])
	}
}

func TestImprove(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nothing pending", err: refine.ErrNothingPending, want: "No pending feedback to apply."},
		{name: "synthesis failed", err: apperr.Synthesis("empty prompt", nil), want: "Prompt refinement failed"},
		{name: "updated", want: "Prompt updated to version 5 from 2 feedback(s)."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			refiner := &fakeRefiner{runErr: tc.err, outcome: refine.Outcome{Version: 5, FeedbackCount: 2}}
			h := New(nil, refiner, nil)
			w := &captureWriter{}
			if _, err := h.Handle(context.Background(), "/improve", w); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if !refiner.forced {
				t.Fatalf("expected a forced run")
			}
			if !strings.HasPrefix(w.messages[0], tc.want) {
				t.Fatalf("expected prefix %q, got %q", tc.want, w.messages[0])
			}
		})
	}
}

func TestPromptAndVersions(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	history := fakePrompts{versions: []prompts.Version{
		{Version: 1, Text: "Seja útil.", CreatedAt: at},
		{Version: 2, Text: "Seja útil e breve.", CreatedAt: at, FeedbackCount: 3, Improvements: []string{"Respostas curtas"}},
	}}
	h := New(nil, nil, history)
	w := &captureWriter{}

	if _, err := h.Handle(context.Background(), "/prompt", w); err != nil {
		t.Fatalf("handle /prompt: %v", err)
	}
	if _, err := h.Handle(context.Background(), "/versions", w); err != nil {
		t.Fatalf("handle /versions: %v", err)
	}
	want := []string{
		"Prompt version 2:\n\nSeja útil e breve.",
		"Prompt versions:\nv1  2026-03-01 12:30  feedback=0\nv2  2026-03-01 12:30  feedback=3  Respostas curtas",
	}
	if diff := cmp.Diff(want, w.messages); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestPending(t *testing.T) {
	refiner := &fakeRefiner{decision: feedback.Decision{Pending: 2, Average: 1.5, HasAverage: true, Fire: true}}
	h := New(nil, refiner, nil)
	w := &captureWriter{}
	if _, err := h.Handle(context.Background(), "/pending", w); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.HasPrefix(w.messages[0], "Pending feedback: 2, average 1.50") {
		t.Fatalf("unexpected output %q", w.messages[0])
	}
}

func TestUnknownCommandAndPlainText(t *testing.T) {
	h := New(nil, nil, nil)
	for _, input := range []string{"/unknown", "hello /help"} {
		w := &captureWriter{}
		handled, err := h.Handle(context.Background(), input, w)
		if err != nil {
			t.Fatalf("handle %q: %v", input, err)
		}
		if handled || len(w.messages) != 0 {
			t.Fatalf("expected %q not handled, got %#v", input, w.messages)
		}
	}
}

func TestUnbalancedQuotesFallBackToFields(t *testing.T) {
	refiner := &fakeRefiner{}
	h := New(&fakeConversation{last: 1}, refiner, nil)
	if _, err := h.Handle(context.Background(), `/feedback 2 faltou o "bairro`, &captureWriter{}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := []submission{{turnID: 1, comment: `faltou o "bairro`, rating: 2}}
	if diff := cmp.Diff(want, refiner.submitted, cmp.AllowUnexported(submission{})); diff != "" {
		t.Fatalf("submissions mismatch (-want +got):\n%s", diff)
	}
}

func TestRouterForwardsNonCommands(t *testing.T) {
	next := &fakeRuntimeHandler{}
	router := Router{Commands: New(nil, nil, nil), Next: next}

	if err := router.HandleMessage(context.Background(), &captureWriter{}, &runtime.Message{Text: "hello"}); err != nil {
		t.Fatalf("router forward: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected Next called once, got %d", next.calls)
	}
}

func TestRouterHandlesSlashCommand(t *testing.T) {
	next := &fakeRuntimeHandler{}
	router := Router{Commands: New(nil, nil, nil), Next: next}

	if err := router.HandleMessage(context.Background(), &captureWriter{}, &runtime.Message{Text: "/help"}); err != nil {
		t.Fatalf("router /help: %v", err)
	}
	if next.calls != 0 {
		t.Fatalf("expected Next not called for command, got %d", next.calls)
	}
}

type fakeConversation struct {
	resets int
	last   int64
	err    error
}

func (c *fakeConversation) Reset(context.Context) error {
	c.resets++
	return c.err
}

func (c *fakeConversation) LastTurnID() int64 { return c.last }

type submission struct {
	turnID  int64
	comment string
	rating  int
}

type fakeRefiner struct {
	submitted []submission
	result    refine.SubmitResult
	err       error

	forced  bool
	outcome refine.Outcome
	runErr  error

	decision feedback.Decision
}

func (r *fakeRefiner) Submit(_ context.Context, turnID int64, comment string, rating int) (refine.SubmitResult, error) {
	r.submitted = append(r.submitted, submission{turnID: turnID, comment: comment, rating: rating})
	return r.result, r.err
}

func (r *fakeRefiner) Run(_ context.Context, force bool) (refine.Outcome, error) {
	r.forced = force
	return r.outcome, r.runErr
}

func (r *fakeRefiner) Evaluate() feedback.Decision { return r.decision }

type fakePrompts struct {
	versions []prompts.Version
}

func (p fakePrompts) Current() prompts.Version { return p.versions[len(p.versions)-1] }
func (p fakePrompts) History() []prompts.Version {
	return p.versions
}

type fakeRuntimeHandler struct {
	calls int
}

func (h *fakeRuntimeHandler) HandleMessage(_ context.Context, _ runtime.ResponseWriter, _ *runtime.Message) error {
	h.calls++
	return nil
}

type captureWriter struct {
	messages []string
}

func (w *captureWriter) WriteMessage(_ context.Context, text string) error {
	w.messages = append(w.messages, text)
	return nil
}
