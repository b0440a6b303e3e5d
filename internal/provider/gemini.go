package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/config"
	"google.golang.org/genai"
)

type geminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func newGeminiProvider(cfg config.LLMProviderConfig) (Provider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.RequestTimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return buildGeminiProvider(cfg.Model, cfg.MaxTokens, clientCfg)
}

func newGeminiProviderForTest(apiKey, model string, maxTokens int, baseURL string, httpClient *http.Client) (Provider, error) {
	return buildGeminiProvider(model, maxTokens, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
}

func buildGeminiProvider(model string, maxTokens int, clientCfg *genai.ClientConfig) (Provider, error) {
	if strings.TrimSpace(clientCfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiProvider{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Chat sends a provider-agnostic chat request to Gemini and normalizes the response.
func (p *geminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	genCfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if maxTokens := resolveMaxTokens(req.MaxTokens, p.maxTokens); maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini response has no candidates")
	}

	var contentParts []string
	var calls []ToolCall
	for i, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			contentParts = append(contentParts, part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return nil, fmt.Errorf("encode gemini function args for %s: %w", fc.Name, err)
			}
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("gemini-call-%d", i)
			}
			calls = append(calls, ToolCall{ID: id, Name: fc.Name, Arguments: string(args)})
		}
	}

	var usage TokenUsage
	if md := resp.UsageMetadata; md != nil {
		usage.InputTokens = int(md.PromptTokenCount)
		usage.OutputTokens = int(md.CandidatesTokenCount)
		usage.TotalTokens = int(md.TotalTokenCount)
	}

	return &ChatResponse{
		Content:   strings.Join(contentParts, "\n"),
		ToolCalls: calls,
		Usage:     usage,
	}, nil
}

func toGeminiContents(messages []ChatMessage) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for i := 0; i < len(messages); {
		msg := messages[i]
		switch msg.Role {
		case RoleUser:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleUser))
			i++
		case RoleAssistant:
			parts := make([]*genai.Part, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("parse assistant tool call args for %s: %w", tc.Name, err)
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(""))
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			i++
		case RoleTool:
			// Gemini matches function responses by name; group consecutive
			// results into one user turn like the Anthropic adapter does.
			var parts []*genai.Part
			for i < len(messages) && messages[i].Role == RoleTool {
				if messages[i].ToolName == "" {
					return nil, fmt.Errorf("tool message requires tool name")
				}
				key := "output"
				if messages[i].IsError {
					key = "error"
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(messages[i].ToolName, map[string]any{key: messages[i].Content}))
				i++
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleUser))
		default:
			return nil, fmt.Errorf("unsupported message role %s", msg.Role)
		}
	}
	return out, nil
}
