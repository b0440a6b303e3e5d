package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProviderChat_RequestAndResponse(t *testing.T) {
	var gotAPIKey string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAPIKey = r.Header.Get("X-Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1",
			"type":"message",
			"role":"assistant",
			"model":"claude-sonnet-4-5",
			"content":[
				{"type":"text","text":"Vou consultar o CEP."},
				{"type":"tool_use","id":"toolu_1","name":"consulta_cep","input":{"cep":"01001000"}}
			],
			"stop_reason":"tool_use",
			"stop_sequence":"",
			"usage":{"input_tokens":21,"output_tokens":9}
		}`))
	}))
	defer srv.Close()

	p, err := newAnthropicProviderForTest("test-key", "claude-sonnet-4-5", 1024, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	resp, err := p.Chat(context.Background(), ChatRequest{
		SystemPrompt: "be concise",
		MaxTokens:    256,
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "qual o endereço do CEP 01001-000?"},
		},
		Tools: []ToolDefinition{
			{
				Name:        "consulta_cep",
				Description: "Look up a Brazilian postal code",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"cep": map[string]any{"type": "string"},
					},
					"required": []any{"cep"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	if gotAPIKey != "test-key" {
		t.Fatalf("unexpected api key header: %q", gotAPIKey)
	}
	if gotReq["model"] != "claude-sonnet-4-5" {
		t.Fatalf("unexpected model in request: %#v", gotReq["model"])
	}
	if int(gotReq["max_tokens"].(float64)) != 256 {
		t.Fatalf("unexpected max_tokens: %#v", gotReq["max_tokens"])
	}

	if resp.Content != "Vou consultar o CEP." {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Name != "consulta_cep" {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCalls[0])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &args); err != nil {
		t.Fatalf("tool args should be valid JSON, got %q", resp.ToolCalls[0].Arguments)
	}
	if args["cep"] != "01001000" {
		t.Fatalf("unexpected tool args: %#v", args)
	}
	if resp.Usage.InputTokens != 21 || resp.Usage.OutputTokens != 9 || resp.Usage.TotalTokens != 30 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestToAnthropicMessages_GroupsToolResults(t *testing.T) {
	msgs, err := toAnthropicMessages([]ChatMessage{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Name: "consulta_cep", Arguments: `{"cep":"1"}`},
			{ID: "b", Name: "consulta_pokemon", Arguments: `{"pokemon":"pikachu"}`},
		}},
		{Role: RoleTool, ToolCallID: "a", ToolName: "consulta_cep", Content: "invalid", IsError: true},
		{Role: RoleTool, ToolCallID: "b", ToolName: "consulta_pokemon", Content: "ok"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	raw, err := json.Marshal(msgs[2])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Role    string `json:"role"`
		Content []struct {
			Type      string `json:"type"`
			ToolUseID string `json:"tool_use_id"`
			IsError   bool   `json:"is_error"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Role != "user" || len(decoded.Content) != 2 {
		t.Fatalf("expected one user message with 2 results, got %s", raw)
	}
	if !decoded.Content[0].IsError || decoded.Content[1].IsError {
		t.Fatalf("unexpected is_error flags: %s", raw)
	}
}

func TestToAnthropicMessages_ToolResultNeedsID(t *testing.T) {
	_, err := toAnthropicMessages([]ChatMessage{{Role: RoleTool, Content: "x"}})
	if err == nil {
		t.Fatalf("expected error for tool message without id")
	}
}
