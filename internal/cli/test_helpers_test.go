package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
)

func createTestHome(t *testing.T) string {
	t.Helper()
	homeDir := filepath.Join(t.TempDir(), ".promptsmith")
	t.Setenv("PROMPTSMITH_HOME", homeDir)
	return homeDir
}

func writeValidConfig(t *testing.T, homeDir string) {
	t.Helper()
	writeConfig(t, homeDir, validConfigBody)
}

func writeConfig(t *testing.T, homeDir, configBody string) {
	t.Helper()
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(homeDir, "config.toml"), []byte(configBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

const validConfigBody = `
[llm.default]
api_key = "test-key"
provider = "anthropic"
model = "claude-sonnet-4-6"

[memory]
enabled = false

[lookups]
restrict_egress = false

[channels.telegram]
enabled = false
`

// useFakeProvider swaps the provider factory for the duration of the test.
func useFakeProvider(t *testing.T, p *fakeProvider) {
	t.Helper()
	orig := providerFactory
	t.Cleanup(func() { providerFactory = orig })
	providerFactory = func(config.LLMProviderConfig) (provider.Provider, error) {
		return p, nil
	}
}

// runCmd executes the root command with args and returns its output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type fakeProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []provider.ChatRequest
}

func (p *fakeProvider) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &provider.ChatResponse{
		Content: p.reply,
		Usage:   provider.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}
