// Package refine runs the feedback-to-prompt cycle: it evaluates the trigger
// policy after each submission and folds pending feedback into a new prompt
// version.
package refine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/synthesis"
)

var (
	// ErrNothingPending is returned by Run when there is no feedback to fold.
	ErrNothingPending = errors.New("no pending feedback")
	// ErrNotTriggered is returned by a non-forced Run when the policy does not fire.
	ErrNotTriggered = errors.New("trigger policy not met")
)

// Synthesizer produces a prompt candidate from pending feedback.
type Synthesizer interface {
	Synthesize(ctx context.Context, pending []feedback.Record, current prompts.Version) (synthesis.Candidate, error)
}

// Notifier is told about accepted feedback and new prompt versions.
type Notifier interface {
	FeedbackSubmitted(ctx context.Context, rec feedback.Record, decision feedback.Decision) error
	PromptUpdated(ctx context.Context, version prompts.Version, feedbackIDs []int64) error
}

// Outcome describes one completed refinement cycle.
type Outcome struct {
	Version       int      `json:"version"`
	FeedbackIDs   []int64  `json:"feedback_ids"`
	FeedbackCount int      `json:"feedback_count"`
	Improvements  []string `json:"improvements"`
	DurationMS    int64    `json:"duration_ms"`
}

// SubmitResult is the result of accepting one piece of feedback.
type SubmitResult struct {
	Record   feedback.Record   `json:"record"`
	Decision feedback.Decision `json:"decision"`
	// Outcome is set when the submission triggered a successful cycle.
	Outcome *Outcome `json:"outcome,omitempty"`
	// CycleErr is set when a triggered cycle failed. The feedback itself is
	// still accepted.
	CycleErr error `json:"-"`
}

// Loop ties the feedback store, trigger policy, synthesizer and prompt store
// together.
type Loop struct {
	feedback *feedback.Store
	prompts  *prompts.Store
	synth    Synthesizer
	policy   feedback.Policy
	notifier Notifier

	cycleMu sync.Mutex
}

// Option configures a Loop.
type Option func(*Loop)

// WithNotifier publishes submissions and prompt updates to n.
func WithNotifier(n Notifier) Option {
	return func(l *Loop) { l.notifier = n }
}

// New returns a Loop.
func New(fb *feedback.Store, ps *prompts.Store, synth Synthesizer, policy feedback.Policy, opts ...Option) (*Loop, error) {
	if fb == nil {
		return nil, errors.New("feedback store is required")
	}
	if ps == nil {
		return nil, errors.New("prompt store is required")
	}
	if synth == nil {
		return nil, errors.New("synthesizer is required")
	}
	l := &Loop{feedback: fb, prompts: ps, synth: synth, policy: policy}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the trigger policy in use.
func (l *Loop) Policy() feedback.Policy {
	return l.policy
}

// Evaluate reports the policy decision for the current pending feedback.
func (l *Loop) Evaluate() feedback.Decision {
	return l.policy.Evaluate(l.feedback)
}

// Submit stores feedback, evaluates the policy and, if it fires, runs a cycle
// before returning.
func (l *Loop) Submit(ctx context.Context, turnID int64, comment string, rating int) (SubmitResult, error) {
	rec, err := l.feedback.Submit(ctx, turnID, comment, rating)
	if err != nil {
		return SubmitResult{}, err
	}
	decision := l.Evaluate()
	logging.Logger().Info(
		"feedback accepted",
		"feedback_id", rec.ID,
		"turn_id", rec.TurnID,
		"rating", rec.Rating,
		"pending", decision.Pending,
		"average", decision.Average,
		"fire", decision.Fire,
	)
	l.notify(func(n Notifier) error { return n.FeedbackSubmitted(ctx, rec, decision) })

	result := SubmitResult{Record: rec, Decision: decision}
	if !decision.Fire {
		return result, nil
	}

	outcome, err := l.Run(ctx, false)
	switch {
	case err == nil:
		result.Outcome = &outcome
	case errors.Is(err, ErrNothingPending), errors.Is(err, ErrNotTriggered):
		// A concurrent cycle already folded the records.
	default:
		result.CycleErr = err
	}
	return result, nil
}

// Run folds every pending record into a new prompt version. Unless force is
// set, the trigger policy must fire. Cycles are serialized; the synthesizer
// runs without any store lock held, so feedback submitted meanwhile stays
// pending for the next cycle.
func (l *Loop) Run(ctx context.Context, force bool) (Outcome, error) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	started := time.Now()
	pending, avg, _ := l.feedback.Snapshot(l.policy.AverageWindow)
	if len(pending) == 0 {
		return Outcome{}, ErrNothingPending
	}
	if !force && !l.policy.ShouldTrigger(len(pending), avg) {
		return Outcome{}, ErrNotTriggered
	}
	current := l.prompts.Current()

	logging.Logger().Info(
		"refinement cycle started",
		"pending", len(pending),
		"base_version", current.Version,
		"forced", force,
	)
	candidate, err := l.synth.Synthesize(ctx, pending, current)
	if err != nil {
		logging.Logger().Warn("refinement cycle failed", "stage", "synthesize", "err", err)
		return Outcome{}, err
	}

	ids := make([]int64, 0, len(pending))
	for _, rec := range pending {
		ids = append(ids, rec.ID)
	}
	var version int
	err = l.feedback.Consume(ids, func() error {
		v, err := l.prompts.Append(candidate.PromptText, candidate.FeedbackCount, candidate.Improvements)
		version = v
		return err
	})
	if err != nil {
		logging.Logger().Warn("refinement cycle failed", "stage", "commit", "err", err)
		return Outcome{}, fmt.Errorf("commit prompt version: %w", err)
	}

	outcome := Outcome{
		Version:       version,
		FeedbackIDs:   ids,
		FeedbackCount: candidate.FeedbackCount,
		Improvements:  candidate.Improvements,
		DurationMS:    time.Since(started).Milliseconds(),
	}
	logging.Logger().Info(
		"prompt version appended",
		"version", version,
		"feedback_count", outcome.FeedbackCount,
		"duration_ms", outcome.DurationMS,
	)
	if v, err := l.prompts.Get(version); err == nil {
		l.notify(func(n Notifier) error { return n.PromptUpdated(ctx, v, ids) })
	}
	return outcome, nil
}

func (l *Loop) notify(fn func(Notifier) error) {
	if l.notifier == nil {
		return
	}
	if err := fn(l.notifier); err != nil {
		logging.Logger().Warn("event notification failed", "err", err)
	}
}
