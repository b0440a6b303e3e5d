package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/capability"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/memory"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/session"
)

const relevantContextHeader = "Relevant context:"

// enrich appends memory snippets above the similarity floor to the prompt.
// Memory failures never fail the turn.
func (e *Engine) enrich(ctx context.Context, prompt, userMessage string) (string, bool) {
	if e.memory == nil || e.limits.MemoryTopK <= 0 {
		return prompt, false
	}
	matches, err := e.memory.Query(ctx, userMessage, e.limits.MemoryTopK)
	if err != nil {
		logging.Logger().Warn("memory query failed; continuing without context", "err", err)
		return prompt, false
	}

	var lines []string
	for _, m := range matches {
		if m.Similarity < e.limits.MinSimilarity {
			continue
		}
		content := m.Content
		if m.Kind == memory.KindConversation {
			content = truncateRunes(content, contextSnippetLength)
		}
		lines = append(lines, "- "+strings.ReplaceAll(content, "\n", " "))
	}
	if len(lines) == 0 {
		return prompt, false
	}
	logging.Logger().Info("turn enriched from memory", "snippets", len(lines))
	return prompt + "\n\n" + relevantContextHeader + "\n" + strings.Join(lines, "\n"), true
}

// remember stores a completed exchange for later retrieval.
func (e *Engine) remember(ctx context.Context, turn session.Turn, hadContext bool) {
	if e.memory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, memoryInsertTimeout)
	defer cancel()

	used := make([]string, 0, len(turn.Invocations))
	for _, inv := range turn.Invocations {
		used = append(used, inv.Capability)
	}
	_, err := e.memory.Insert(ctx, memory.KindConversation, memory.ConversationContent(turn.UserMessage, turn.Answer), map[string]any{
		"turn_id":           turn.ID,
		"capabilities_used": used,
		"has_context":       hadContext,
	})
	if err != nil {
		logging.Logger().Warn("memory insert failed", "turn_id", turn.ID, "err", err)
	}
}

// recentWindow returns a copy of the last n messages. The window never starts
// with tool results whose assistant call was cut off.
func recentWindow(history []provider.ChatMessage, n int) []provider.ChatMessage {
	start := 0
	if n > 0 && len(history) > n {
		start = len(history) - n
	}
	for start < len(history) && history[start].Role == provider.RoleTool {
		start++
	}
	return append([]provider.ChatMessage{}, history[start:]...)
}

func availableNames(registry *capability.Registry) string {
	names := registry.Names()
	if len(names) == 0 {
		return "<none>"
	}
	return strings.Join(names, ", ")
}

func summarizeArgs(args map[string]any) map[string]any {
	const maxLoggedStringLen = 200

	out := make(map[string]any, len(args))
	for key, value := range args {
		if s, ok := value.(string); ok {
			out[key] = summarizeTextForLog(s, maxLoggedStringLen)
			continue
		}
		out[key] = value
	}
	return out
}

func summarizeTextForLog(text string, maxLen int) string {
	if maxLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return fmt.Sprintf("%s...[truncated %d chars]", string(runes[:maxLen]), len(runes)-maxLen)
}

func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
