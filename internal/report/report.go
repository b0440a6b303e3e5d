// Package report renders the prompt version history as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const timeLayout = "2006-01-02 15:04 MST"

// Markdown renders history newest first.
func Markdown(history []prompts.Version, stats prompts.Stats) string {
	var b strings.Builder
	b.WriteString("# Prompt history\n\n")
	fmt.Fprintf(&b, "- Versions: %d\n", stats.TotalVersions)
	fmt.Fprintf(&b, "- Current version: %d\n", stats.CurrentVersion)
	fmt.Fprintf(&b, "- Feedback applied: %d\n", stats.TotalFeedbacks)
	if !stats.LastUpdate.IsZero() {
		fmt.Fprintf(&b, "- Last update: %s\n", stats.LastUpdate.Format(timeLayout))
	}

	for i := len(history) - 1; i >= 0; i-- {
		v := history[i]
		fmt.Fprintf(&b, "\n## Version %d\n\n", v.Version)
		fmt.Fprintf(&b, "| Created | Feedback |\n|---|---|\n| %s | %d |\n\n", v.CreatedAt.Format(timeLayout), v.FeedbackCount)
		if len(v.Improvements) > 0 {
			b.WriteString("**Improvements**\n\n")
			for _, imp := range v.Improvements {
				fmt.Fprintf(&b, "- %s\n", oneLine(imp))
			}
			b.WriteString("\n")
		}
		b.WriteString(fence(v.Text))
	}
	return b.String()
}

// HTML renders history as a standalone HTML page.
func HTML(history []prompts.Version, stats prompts.Stats) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(history, stats)), &body); err != nil {
		return nil, fmt.Errorf("render prompt history: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>%s</title>\n", html.EscapeString(fmt.Sprintf("Prompt history (v%d)", stats.CurrentVersion)))
	page.WriteString("<style>body{font-family:sans-serif;max-width:52rem;margin:2rem auto;padding:0 1rem}" +
		"pre{white-space:pre-wrap;background:#f5f5f5;padding:1rem}" +
		"table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .75rem}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// fence wraps text in a code fence longer than any backtick run inside it.
func fence(text string) string {
	longest, run := 0, 0
	for _, r := range text {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	marker := strings.Repeat("`", max(3, longest+1))
	return marker + "text\n" + strings.TrimRight(text, "\n") + "\n" + marker + "\n"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
