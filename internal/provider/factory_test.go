package provider

import (
	"testing"

	"github.com/neoclaw-ai/promptsmith/internal/config"
)

func TestNewProviderFromConfig_SelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		check    func(Provider) bool
	}{
		{"anthropic", "claude-sonnet-4-6", func(p Provider) bool { _, ok := p.(*anthropicProvider); return ok }},
		{"openrouter", "deepseek/deepseek-chat", func(p Provider) bool { _, ok := p.(*openRouterProvider); return ok }},
		{"Gemini", "gemini-2.5-flash", func(p Provider) bool { _, ok := p.(*geminiProvider); return ok }},
	}
	for _, tc := range tests {
		t.Run(tc.provider, func(t *testing.T) {
			p, err := NewProviderFromConfig(config.LLMProviderConfig{
				Provider: tc.provider,
				APIKey:   "k",
				Model:    tc.model,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.check(p) {
				t.Fatalf("unexpected provider type %T", p)
			}
		})
	}
}

func TestNewProviderFromConfig_UnsupportedProvider(t *testing.T) {
	_, err := NewProviderFromConfig(config.LLMProviderConfig{
		Provider: "nope",
		APIKey:   "k",
		Model:    "m",
	})
	if err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}

func TestNewProviderFromConfig_RequiresAPIKey(t *testing.T) {
	for _, name := range []string{"anthropic", "openrouter", "gemini"} {
		if _, err := NewProviderFromConfig(config.LLMProviderConfig{Provider: name, Model: "m"}); err == nil {
			t.Fatalf("%s: expected missing api key error", name)
		}
	}
}

func TestTokenUsageAdd(t *testing.T) {
	cost := 0.25
	var total TokenUsage
	total.Add(TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	total.Add(TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3, CostUSD: &cost})
	total.Add(TokenUsage{CostUSD: &cost})
	if total.InputTokens != 11 || total.OutputTokens != 7 || total.TotalTokens != 18 {
		t.Fatalf("unexpected totals: %+v", total)
	}
	if total.CostUSD == nil || *total.CostUSD != 0.5 {
		t.Fatalf("unexpected cost: %v", total.CostUSD)
	}
}
