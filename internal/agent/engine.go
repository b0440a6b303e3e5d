// Package agent runs conversational turns: it sends the current prompt and
// recent history to the generation backend, runs requested capabilities
// concurrently, and records exactly one turn per call.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/capability"
	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/generation"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/memory"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/session"
	"golang.org/x/sync/errgroup"
)

// User-visible answers for turns that did not produce a model answer.
const (
	UnavailableAnswer = "Desculpe, o assistente está temporariamente indisponível. Tente novamente em instantes."
	CancelledAnswer   = "Pedido cancelado."
	incompleteHeader  = "Não consegui concluir a resposta dentro do limite de etapas."
)

const (
	defaultMaxIterations     = 5
	defaultCapabilityTimeout = 10 * time.Second
	defaultRecentMessages    = 10
	defaultMaxParallelCalls  = 4
	memoryInsertTimeout      = 5 * time.Second
	contextSnippetLength     = 200
	partialResultLength      = 300
)

// PromptSource returns the prompt snapshot for a turn.
type PromptSource interface {
	Current() prompts.Version
}

// TurnRecorder appends turn records.
type TurnRecorder interface {
	Append(ctx context.Context, t session.Turn) (session.Turn, error)
}

// Memory provides similarity search for enrichment and stores exchanges.
type Memory interface {
	Query(ctx context.Context, text string, k int) ([]memory.Match, error)
	Insert(ctx context.Context, kind memory.Kind, content string, metadata map[string]any) (memory.Entry, error)
}

// Limits bounds one turn.
type Limits struct {
	MaxIterations     int
	CapabilityTimeout time.Duration
	TurnTimeout       time.Duration
	RecentMessages    int
	MaxParallelCalls  int
	OutputLength      int
	MemoryTopK        int
	MinSimilarity     float64
}

// LimitsFromConfig maps agent and memory config onto Limits.
func LimitsFromConfig(agent config.AgentConfig, mem config.MemoryConfig) Limits {
	return Limits{
		MaxIterations:     agent.MaxIterations,
		CapabilityTimeout: agent.CapabilityTimeout,
		TurnTimeout:       agent.TurnTimeout,
		RecentMessages:    agent.RecentMessages,
		MaxParallelCalls:  agent.MaxParallelCalls,
		OutputLength:      agent.CapabilityOutputLength,
		MemoryTopK:        mem.TopK,
		MinSimilarity:     mem.MinSimilarity,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = defaultMaxIterations
	}
	if l.CapabilityTimeout <= 0 {
		l.CapabilityTimeout = defaultCapabilityTimeout
	}
	if l.RecentMessages <= 0 {
		l.RecentMessages = defaultRecentMessages
	}
	if l.MaxParallelCalls <= 0 {
		l.MaxParallelCalls = defaultMaxParallelCalls
	}
	return l
}

// TurnResult is the outcome of HandleTurn.
type TurnResult struct {
	Answer string
	// History is the conversation after the turn. Failed and cancelled turns
	// leave the caller's history unchanged.
	History []provider.ChatMessage
	Turn    session.Turn
}

// TurnOption configures a single turn.
type TurnOption func(*session.Turn)

// WithSessionID tags the turn record with a session id.
func WithSessionID(id string) TurnOption {
	return func(t *session.Turn) { t.SessionID = id }
}

// Engine runs turns. It holds no per-conversation state and is safe for
// concurrent use.
type Engine struct {
	backend  generation.Backend
	registry *capability.Registry
	prompts  PromptSource
	turns    TurnRecorder
	memory   Memory
	limits   Limits
}

// Option configures an Engine.
type Option func(*Engine)

// WithMemory enables enrichment from and recording into m.
func WithMemory(m Memory) Option {
	return func(e *Engine) { e.memory = m }
}

// NewEngine returns an Engine.
func NewEngine(backend generation.Backend, registry *capability.Registry, prompts PromptSource, turns TurnRecorder, limits Limits, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("generation backend is required")
	}
	if registry == nil {
		return nil, errors.New("capability registry is required")
	}
	if prompts == nil {
		return nil, errors.New("prompt source is required")
	}
	if turns == nil {
		return nil, errors.New("turn recorder is required")
	}
	e := &Engine{
		backend:  backend,
		registry: registry,
		prompts:  prompts,
		turns:    turns,
		limits:   limits.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HandleTurn answers userMessage given the prior conversation history. Every
// call that passes validation appends exactly one turn record, whatever the
// outcome. The returned error is non-nil only for invalid input or when the
// record cannot be persisted.
func (e *Engine) HandleTurn(ctx context.Context, userMessage string, history []provider.ChatMessage, opts ...TurnOption) (TurnResult, error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return TurnResult{}, apperr.Validation("handle turn", "message must not be empty")
	}

	snapshot := e.prompts.Current()
	turn := session.Turn{
		UserMessage:   userMessage,
		PromptVersion: snapshot.Version,
		CreatedAt:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&turn)
	}

	turnCtx := ctx
	if e.limits.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, e.limits.TurnTimeout)
		defer cancel()
	}

	systemPrompt, enriched := e.enrich(turnCtx, snapshot.Text, userMessage)
	messages := append(recentWindow(history, e.limits.RecentMessages), provider.ChatMessage{
		Role:    provider.RoleUser,
		Content: userMessage,
	})
	definitions := e.registry.Definitions()

	run := e.loop(turnCtx, ctx, systemPrompt, messages, definitions, &turn)

	turn.Answer = run.answer
	result := TurnResult{Answer: run.answer, History: history}
	if turn.Status == session.StatusCompleted || turn.Status == session.StatusIncomplete {
		next := append([]provider.ChatMessage{}, history...)
		next = append(next, run.transcript...)
		next = append(next, provider.ChatMessage{Role: provider.RoleAssistant, Content: run.answer})
		result.History = next
	}

	// The record is written even when the caller has cancelled.
	recordCtx := context.WithoutCancel(ctx)
	recorded, err := e.turns.Append(recordCtx, turn)
	if err != nil {
		return result, fmt.Errorf("record turn: %w", err)
	}
	result.Turn = recorded

	logging.Logger().Info(
		"turn recorded",
		"turn_id", recorded.ID,
		"status", recorded.Status,
		"iterations", recorded.Iterations,
		"invocations", len(recorded.Invocations),
		"prompt_version", recorded.PromptVersion,
		"total_tokens", recorded.Usage.TotalTokens,
	)

	if recorded.Status == session.StatusCompleted {
		e.remember(recordCtx, recorded, enriched)
	}
	return result, nil
}

type loopResult struct {
	answer string
	// transcript holds the assistant and tool messages exchanged in the loop.
	transcript []provider.ChatMessage
}

// loop runs round trips until an answer, the iteration cap, a backend failure
// or cancellation, filling in the status, error, usage, iterations and
// invocations of turn. ctx carries the turn timeout; callerCtx tells a caller
// cancellation apart from a timeout.
func (e *Engine) loop(ctx, callerCtx context.Context, systemPrompt string, messages []provider.ChatMessage, definitions []provider.ToolDefinition, turn *session.Turn) loopResult {
	base := len(messages)
	conversation := messages

	for iter := 1; iter <= e.limits.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return e.interrupted(ctx, callerCtx, turn)
		}
		turn.Iterations = iter

		logging.Logger().Info(
			"llm request",
			"iteration", iter,
			"message_count", len(conversation),
			"capability_count", len(definitions),
			"latest_user_message", summarizeTextForLog(turn.UserMessage, 300),
		)
		resp, err := e.backend.Converse(ctx, generation.ConverseRequest{
			SystemPrompt: systemPrompt,
			Messages:     conversation,
			Capabilities: definitions,
		})
		turn.Usage.Add(resp.Usage)
		if err != nil {
			if ctx.Err() != nil {
				return e.interrupted(ctx, callerCtx, turn)
			}
			return e.failed(err, turn)
		}

		switch r := resp.Result.(type) {
		case generation.DirectAnswer:
			turn.Status = session.StatusCompleted
			return loopResult{answer: r.Text, transcript: conversation[base:]}
		case generation.CapabilityRequest:
			logging.Logger().Info(
				"llm response",
				"iteration", iter,
				"capability_calls", len(r.Calls),
				"total_tokens", resp.Usage.TotalTokens,
			)
			conversation = append(conversation, provider.ChatMessage{
				Role:      provider.RoleAssistant,
				Content:   r.Text,
				ToolCalls: r.Calls,
			})
			for _, out := range e.invokeAll(ctx, r.Calls) {
				turn.Invocations = append(turn.Invocations, out.invocation)
				conversation = append(conversation, out.message)
			}
		case generation.SynthesisResult:
			return e.failed(apperr.Unavailable("converse", errors.New("backend returned a prompt revision during a turn")), turn)
		default:
			return e.failed(apperr.Unavailable("converse", fmt.Errorf("unexpected backend result %T", resp.Result)), turn)
		}
	}

	turn.Status = session.StatusIncomplete
	turn.Error = fmt.Sprintf("iteration cap of %d reached", e.limits.MaxIterations)
	logging.Logger().Warn("turn incomplete", "iterations", turn.Iterations, "invocations", len(turn.Invocations))
	return loopResult{answer: incompleteAnswer(turn.Invocations), transcript: conversation[base:]}
}

func (e *Engine) failed(err error, turn *session.Turn) loopResult {
	turn.Status = session.StatusError
	turn.Error = err.Error()
	logging.Logger().Warn("turn failed", "iteration", turn.Iterations, "err", err)
	return loopResult{answer: UnavailableAnswer}
}

func (e *Engine) interrupted(ctx, callerCtx context.Context, turn *session.Turn) loopResult {
	if callerCtx.Err() != nil {
		turn.Status = session.StatusCancelled
		turn.Error = callerCtx.Err().Error()
		logging.Logger().Info("turn cancelled", "iteration", turn.Iterations)
		return loopResult{answer: CancelledAnswer}
	}
	return e.failed(fmt.Errorf("turn timed out after %s: %w", e.limits.TurnTimeout, ctx.Err()), turn)
}

type callOutcome struct {
	invocation session.Invocation
	message    provider.ChatMessage
}

// invokeAll runs calls concurrently and returns their outcomes in request
// order. It returns only after every call has finished or timed out.
func (e *Engine) invokeAll(ctx context.Context, calls []provider.ToolCall) []callOutcome {
	out := make([]callOutcome, len(calls))
	var g errgroup.Group
	g.SetLimit(e.limits.MaxParallelCalls)
	for i, call := range calls {
		g.Go(func() error {
			out[i] = e.invoke(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) invoke(ctx context.Context, call provider.ToolCall) callOutcome {
	started := time.Now()
	output, err := e.execute(ctx, call)
	inv := session.Invocation{
		Capability: call.Name,
		CallID:     call.ID,
		Arguments:  call.Arguments,
		DurationMS: time.Since(started).Milliseconds(),
	}
	msg := provider.ChatMessage{
		Role:       provider.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	if err != nil {
		err = apperr.Capability(call.Name, err)
		logging.Logger().Warn(
			"capability call failed",
			"capability", call.Name,
			"call_id", call.ID,
			"duration_ms", inv.DurationMS,
			"err", err,
		)
		inv.Error = err.Error()
		msg.Content = "capability execution error: " + err.Error()
		msg.IsError = true
		return callOutcome{invocation: inv, message: msg}
	}

	text, truncated := capability.Truncate(output, e.limits.OutputLength)
	logging.Logger().Info(
		"capability call complete",
		"capability", call.Name,
		"call_id", call.ID,
		"duration_ms", inv.DurationMS,
		"truncated", truncated,
	)
	inv.Result = text
	inv.Truncated = truncated
	msg.Content = text
	return callOutcome{invocation: inv, message: msg}
}

// execute runs one call under its own timeout. A capability that ignores its
// context is abandoned when the timeout fires.
func (e *Engine) execute(ctx context.Context, call provider.ToolCall) (string, error) {
	desc, ok := e.registry.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown capability %q. Available capabilities: %s", call.Name, availableNames(e.registry))
	}
	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	logging.Logger().Info(
		"capability call start",
		"capability", call.Name,
		"call_id", call.ID,
		"args", summarizeArgs(args),
	)

	callCtx, cancel := context.WithTimeout(ctx, e.limits.CapabilityTimeout)
	defer cancel()

	type reply struct {
		output string
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		output, err := desc.Invoke(callCtx, args)
		done <- reply{output, err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("timed out after %s", e.limits.CapabilityTimeout)
	}
}

func incompleteAnswer(invocations []session.Invocation) string {
	var b strings.Builder
	b.WriteString(incompleteHeader)
	var partial []session.Invocation
	for _, inv := range invocations {
		if !inv.Failed() && strings.TrimSpace(inv.Result) != "" {
			partial = append(partial, inv)
		}
	}
	if len(partial) == 0 {
		b.WriteString(" Nenhuma consulta retornou resultados.")
		return b.String()
	}
	b.WriteString(" Resultados parciais:\n")
	for _, inv := range partial {
		fmt.Fprintf(&b, "\n- %s: %s", inv.Capability, truncateRunes(strings.TrimSpace(inv.Result), partialResultLength))
	}
	return b.String()
}
