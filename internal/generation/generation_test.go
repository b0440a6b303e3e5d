package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
)

type fakeProvider struct {
	resp *provider.ChatResponse
	err  error
	got  provider.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	f.got = req
	return f.resp, f.err
}

type usageLog struct {
	kinds []string
	total provider.TokenUsage
}

func (u *usageLog) RecordUsage(_ context.Context, kind string, usage provider.TokenUsage) {
	u.kinds = append(u.kinds, kind)
	u.total.Add(usage)
}

func TestConverseClassifiesReplies(t *testing.T) {
	fp := &fakeProvider{resp: &provider.ChatResponse{Content: "Olá!", Usage: provider.TokenUsage{TotalTokens: 3}}}
	usage := &usageLog{}
	b, err := NewProviderBackend(fp, WithUsageRecorder(usage))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	resp, err := b.Converse(context.Background(), ConverseRequest{
		SystemPrompt: "sys",
		Messages:     []provider.ChatMessage{{Role: provider.RoleUser, Content: "oi"}},
		Capabilities: []provider.ToolDefinition{{Name: "consulta_cep"}},
	})
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if got, ok := resp.Result.(DirectAnswer); !ok || got.Text != "Olá!" {
		t.Fatalf("expected direct answer, got %#v", resp.Result)
	}
	if fp.got.SystemPrompt != "sys" || len(fp.got.Tools) != 1 {
		t.Fatalf("request not forwarded: %+v", fp.got)
	}

	fp.resp = &provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "1", Name: "consulta_cep", Arguments: `{"cep":"01001000"}`}}}
	resp, err = b.Converse(context.Background(), ConverseRequest{})
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	req, ok := resp.Result.(CapabilityRequest)
	if !ok || len(req.Calls) != 1 || req.Calls[0].Name != "consulta_cep" {
		t.Fatalf("expected capability request, got %#v", resp.Result)
	}
	if diff := cmp.Diff([]string{"converse", "converse"}, usage.kinds); diff != "" {
		t.Fatalf("usage kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestConverseProviderErrorIsUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	b, _ := NewProviderBackend(&fakeProvider{err: cause})
	_, err := b.Converse(context.Background(), ConverseRequest{})
	if !errors.Is(err, apperr.ErrGenerationUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected unavailable wrapping cause, got %v", err)
	}
}

func TestSynthesizeParsesReply(t *testing.T) {
	fp := &fakeProvider{resp: &provider.ChatResponse{Content: `{"prompt":"Novo prompt","improvements":["a","b"]}`}}
	b, _ := NewProviderBackend(fp, WithSynthesisMaxTokens(2048))
	resp, err := b.Synthesize(context.Background(), SynthesisRequest{SystemPrompt: "s", Instructions: "i"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	got, ok := resp.Result.(SynthesisResult)
	if !ok || got.PromptText != "Novo prompt" || len(got.Improvements) != 2 {
		t.Fatalf("unexpected result %#v", resp.Result)
	}
	if fp.got.MaxTokens != 2048 || len(fp.got.Messages) != 1 || fp.got.Messages[0].Content != "i" {
		t.Fatalf("unexpected request %+v", fp.got)
	}
}

func TestSynthesizeMalformedReply(t *testing.T) {
	b, _ := NewProviderBackend(&fakeProvider{resp: &provider.ChatResponse{Content: "I refuse."}})
	_, err := b.Synthesize(context.Background(), SynthesisRequest{})
	if !errors.Is(err, apperr.ErrSynthesis) {
		t.Fatalf("expected synthesis error, got %v", err)
	}
}

func TestNewProviderBackendRequiresProvider(t *testing.T) {
	if _, err := NewProviderBackend(nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSummarizeKeepsRunesWhole(t *testing.T) {
	got := summarize("  ação à vista  ", 2)
	if got != "aç...[truncated 10 chars]" {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := summarize("não", 3); got != "não" {
		t.Fatalf("expected short text unchanged, got %q", got)
	}
}
