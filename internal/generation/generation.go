// Package generation wraps an LLM provider in the closed set of responses the
// turn engine and the synthesizer understand.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
)

// Result is one of DirectAnswer, CapabilityRequest or SynthesisResult.
type Result interface {
	isResult()
}

// DirectAnswer ends a turn with final text.
type DirectAnswer struct {
	Text string
}

// CapabilityRequest asks the engine to run a batch of capability calls.
// Text is any commentary the model emitted alongside the calls.
type CapabilityRequest struct {
	Text  string
	Calls []provider.ToolCall
}

// SynthesisResult is a proposed prompt revision.
type SynthesisResult struct {
	PromptText   string
	Improvements []string
}

func (DirectAnswer) isResult()      {}
func (CapabilityRequest) isResult() {}
func (SynthesisResult) isResult()   {}

// Response pairs a result with the usage of the call that produced it.
type Response struct {
	Result Result
	Usage  provider.TokenUsage
}

// ConverseRequest is one turn-loop round trip.
type ConverseRequest struct {
	SystemPrompt string
	Messages     []provider.ChatMessage
	Capabilities []provider.ToolDefinition
}

// SynthesisRequest asks for a revised prompt.
type SynthesisRequest struct {
	SystemPrompt string
	Instructions string
}

// Backend produces generation results.
type Backend interface {
	Converse(ctx context.Context, req ConverseRequest) (Response, error)
	Synthesize(ctx context.Context, req SynthesisRequest) (Response, error)
}

// UsageRecorder receives token usage for each successful provider call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, kind string, usage provider.TokenUsage)
}

// ProviderBackend adapts a provider.Provider to Backend.
type ProviderBackend struct {
	provider provider.Provider
	usage    UsageRecorder
	// synthesisMaxTokens bounds the synthesis reply; zero uses the profile default.
	synthesisMaxTokens int
}

// Option configures a ProviderBackend.
type Option func(*ProviderBackend)

// WithUsageRecorder reports token usage after each call.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(b *ProviderBackend) { b.usage = r }
}

// WithSynthesisMaxTokens overrides the max tokens for synthesis calls.
func WithSynthesisMaxTokens(n int) Option {
	return func(b *ProviderBackend) { b.synthesisMaxTokens = n }
}

// NewProviderBackend returns a Backend over p.
func NewProviderBackend(p provider.Provider, opts ...Option) (*ProviderBackend, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	b := &ProviderBackend{provider: p}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Converse sends one round trip and classifies the reply as a direct answer
// or a capability request.
func (b *ProviderBackend) Converse(ctx context.Context, req ConverseRequest) (Response, error) {
	resp, err := b.provider.Chat(ctx, provider.ChatRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Tools:        req.Capabilities,
	})
	if err != nil {
		return Response{}, apperr.Unavailable("converse", err)
	}
	if resp == nil {
		return Response{}, apperr.Unavailable("converse", errors.New("provider returned nil response"))
	}
	b.record(ctx, "converse", resp.Usage)

	if len(resp.ToolCalls) > 0 {
		return Response{
			Result: CapabilityRequest{Text: resp.Content, Calls: resp.ToolCalls},
			Usage:  resp.Usage,
		}, nil
	}
	return Response{Result: DirectAnswer{Text: resp.Content}, Usage: resp.Usage}, nil
}

// Synthesize asks the provider for a revised prompt and parses the reply.
// Unparseable replies are returned as a synthesis error.
func (b *ProviderBackend) Synthesize(ctx context.Context, req SynthesisRequest) (Response, error) {
	resp, err := b.provider.Chat(ctx, provider.ChatRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     []provider.ChatMessage{{Role: provider.RoleUser, Content: req.Instructions}},
		MaxTokens:    b.synthesisMaxTokens,
	})
	if err != nil {
		return Response{}, apperr.Unavailable("synthesize", err)
	}
	if resp == nil {
		return Response{}, apperr.Unavailable("synthesize", errors.New("provider returned nil response"))
	}
	b.record(ctx, "synthesize", resp.Usage)

	if len(resp.ToolCalls) > 0 {
		return Response{Result: CapabilityRequest{Text: resp.Content, Calls: resp.ToolCalls}, Usage: resp.Usage}, nil
	}
	result, err := ParseSynthesis(resp.Content)
	if err != nil {
		logging.Logger().Warn(
			"synthesis reply not parseable",
			"reply", summarize(resp.Content, 300),
			"err", err,
		)
		return Response{Usage: resp.Usage}, apperr.Synthesis("unparseable synthesis reply", err)
	}
	return Response{Result: result, Usage: resp.Usage}, nil
}

func (b *ProviderBackend) record(ctx context.Context, kind string, usage provider.TokenUsage) {
	if b.usage == nil {
		return
	}
	b.usage.RecordUsage(ctx, kind, usage)
}

func summarize(text string, maxLen int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxLen {
		return string(runes)
	}
	return fmt.Sprintf("%s...[truncated %d chars]", string(runes[:maxLen]), len(runes)-maxLen)
}
