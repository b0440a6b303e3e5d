package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/config"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	openRouterAppTitle   = "promptsmith"
	openRouterAppURL     = "https://github.com/neoclaw-ai/promptsmith"

	// Completions for a chat turn or a prompt revision stay well under this.
	maxOpenRouterResponseBytes = 4 << 20
)

// APIError is a non-success reply from an HTTP-backed provider.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type openRouterProvider struct {
	apiKey     string
	model      string
	maxTokens  int
	endpoint   string
	httpClient *http.Client
}

func newOpenRouterProvider(cfg config.LLMProviderConfig) (Provider, error) {
	return buildOpenRouterProvider(cfg.APIKey, cfg.Model, cfg.MaxTokens, defaultOpenRouterURL,
		&http.Client{Timeout: cfg.RequestTimeout})
}

func newOpenRouterProviderForTest(apiKey, model string, maxTokens int, endpoint string, httpClient *http.Client) (Provider, error) {
	return buildOpenRouterProvider(apiKey, model, maxTokens, endpoint, httpClient)
}

func buildOpenRouterProvider(apiKey, model string, maxTokens int, endpoint string, httpClient *http.Client) (Provider, error) {
	switch {
	case strings.TrimSpace(apiKey) == "":
		return nil, errors.New("openrouter api key is required")
	case strings.TrimSpace(model) == "":
		return nil, errors.New("openrouter model is required")
	case strings.TrimSpace(endpoint) == "":
		return nil, errors.New("openrouter endpoint is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &openRouterProvider{
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		endpoint:   endpoint,
		httpClient: httpClient,
	}, nil
}

// Chat sends the request as an OpenAI-style chat completion. Usage accounting
// is always requested so the cost tracker gets OpenRouter's billed amount.
func (p *openRouterProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload := openRouterRequest{
		Model:     p.model,
		Messages:  toOpenRouterMessages(req.SystemPrompt, req.Messages),
		MaxTokens: resolveMaxTokens(req.MaxTokens, p.maxTokens),
		Usage:     openRouterUsageOptions{Include: true},
	}
	if len(req.Tools) > 0 {
		payload.Tools = toOpenRouterTools(req.Tools)
		// Only route to upstreams that accept tool definitions.
		payload.Provider = &openRouterRouting{RequireParameters: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal openrouter request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("HTTP-Referer", openRouterAppURL)
	httpReq.Header.Set("X-Title", openRouterAppTitle)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxOpenRouterResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read openrouter response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, openRouterError(httpResp.StatusCode, respBody)
	}

	var parsed openRouterResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode openrouter response: %w", err)
	}
	// Upstream failures can arrive with a 200 status.
	if parsed.Error != nil {
		return nil, parsed.Error.apiError(httpResp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("openrouter response has no choices")
	}
	choice := parsed.Choices[0]
	if choice.Error != nil {
		return nil, choice.Error.apiError(0)
	}
	return choice.Message.toChatResponse(parsed.Usage), nil
}

func openRouterError(status int, body []byte) error {
	var envelope struct {
		Error *openRouterErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error.apiError(status)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Provider: "openrouter", StatusCode: status, Message: msg}
}

type openRouterRequest struct {
	Model     string                 `json:"model"`
	Messages  []openRouterMessage    `json:"messages"`
	Tools     []openRouterTool       `json:"tools,omitempty"`
	MaxTokens int                    `json:"max_tokens,omitempty"`
	Usage     openRouterUsageOptions `json:"usage"`
	Provider  *openRouterRouting     `json:"provider,omitempty"`
}

type openRouterUsageOptions struct {
	Include bool `json:"include"`
}

type openRouterRouting struct {
	RequireParameters bool `json:"require_parameters"`
}

type openRouterMessage struct {
	Role       string               `json:"role"`
	Content    string               `json:"content,omitempty"`
	Name       string               `json:"name,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolCalls  []openRouterToolCall `json:"tool_calls,omitempty"`
}

type openRouterTool struct {
	Type     string             `json:"type"`
	Function openRouterFunction `json:"function"`
}

type openRouterFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Arguments   string         `json:"arguments,omitempty"`
}

type openRouterToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openRouterFunction `json:"function"`
}

type openRouterResponse struct {
	Choices []struct {
		Message openRouterMessage    `json:"message"`
		Error   *openRouterErrorBody `json:"error"`
	} `json:"choices"`
	Usage openRouterUsage      `json:"usage"`
	Error *openRouterErrorBody `json:"error"`
}

type openRouterUsage struct {
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	Cost             openRouterCost `json:"cost"`
}

type openRouterErrorBody struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

func (b *openRouterErrorBody) apiError(status int) *APIError {
	code := strings.Trim(string(b.Code), `"`)
	if status < 200 || status >= 300 {
		return &APIError{Provider: "openrouter", StatusCode: status, Code: code, Message: b.Message}
	}
	// A numeric code in a 200 body carries the upstream status.
	upstream, _ := strconv.Atoi(code)
	return &APIError{Provider: "openrouter", StatusCode: upstream, Code: code, Message: b.Message}
}

// openRouterCost accepts the billed cost as a JSON number or a numeric string.
type openRouterCost struct {
	value *float64
}

func (c *openRouterCost) UnmarshalJSON(raw []byte) error {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		// An unparseable cost leaves pricing to the local price table.
		return nil
	}
	c.value = &v
	return nil
}

func (m openRouterMessage) toChatResponse(usage openRouterUsage) *ChatResponse {
	calls := make([]ToolCall, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return &ChatResponse{
		Content:   m.Content,
		ToolCalls: calls,
		Usage: TokenUsage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
			TotalTokens:  usage.TotalTokens,
			CostUSD:      usage.Cost.value,
		},
	}
}

func toOpenRouterTools(tools []ToolDefinition) []openRouterTool {
	out := make([]openRouterTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openRouterTool{
			Type: "function",
			Function: openRouterFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

func toOpenRouterMessages(systemPrompt string, messages []ChatMessage) []openRouterMessage {
	out := make([]openRouterMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openRouterMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range messages {
		m := openRouterMessage{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == RoleTool {
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.ToolName
			// Chat completions have no error flag on tool results.
			if msg.IsError {
				m.Content = "ERROR: " + msg.Content
			}
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openRouterToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openRouterFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, m)
	}
	return out
}
