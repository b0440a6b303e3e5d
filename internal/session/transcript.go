package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/store"
)

// Transcript persists one conversation's chat messages in a JSONL file.
type Transcript struct {
	path string
	mu   sync.Mutex
}

type transcriptRecord struct {
	Role       provider.Role       `json:"role"`
	Content    string              `json:"content,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolName   string              `json:"tool_name,omitempty"`
	IsError    bool                `json:"is_error,omitempty"`
	ToolCalls  []provider.ToolCall `json:"tool_calls,omitempty"`
}

// NewTranscript creates a transcript backed by path.
func NewTranscript(path string) *Transcript {
	return &Transcript{path: path}
}

// Load reads all valid records. Malformed lines are skipped.
func (t *Transcript) Load(ctx context.Context) ([]provider.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t == nil || t.path == "" {
		return nil, errors.New("transcript path is required")
	}

	messages := make([]provider.ChatMessage, 0)
	err := store.ScanJSONL(t.path, func(_ int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec transcriptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil
		}
		messages = append(messages, provider.ChatMessage{
			Role:       rec.Role,
			Content:    rec.Content,
			ToolCallID: rec.ToolCallID,
			ToolName:   rec.ToolName,
			IsError:    rec.IsError,
			ToolCalls:  rec.ToolCalls,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return messages, nil
}

// Append appends messages to the transcript.
func (t *Transcript) Append(ctx context.Context, messages []provider.ChatMessage) error {
	if len(messages) == 0 {
		return ctx.Err()
	}
	return t.write(ctx, messages, store.AppendJSONL)
}

// Rewrite replaces the transcript with messages.
func (t *Transcript) Rewrite(ctx context.Context, messages []provider.ChatMessage) error {
	return t.write(ctx, messages, store.RewriteJSONL)
}

// Reset clears the transcript.
func (t *Transcript) Reset(ctx context.Context) error {
	return t.Rewrite(ctx, nil)
}

func (t *Transcript) write(ctx context.Context, messages []provider.ChatMessage, persist func(string, ...any) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil || t.path == "" {
		return errors.New("transcript path is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]any, 0, len(messages))
	for _, msg := range messages {
		records = append(records, transcriptRecord{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			ToolName:   msg.ToolName,
			IsError:    msg.IsError,
			ToolCalls:  msg.ToolCalls,
		})
	}
	if err := persist(t.path, records...); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
