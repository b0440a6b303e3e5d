package channels

import (
	"bytes"
	"errors"
	"html"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// telegramMessageLimit stays below the Bot API limit of 4096 characters.
const telegramMessageLimit = 4000

// telegramMarkdown parses assistant Markdown before it is rewritten into the
// HTML subset Telegram accepts.
var telegramMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
)

// formatTelegram converts Markdown into Telegram HTML. It reports false when
// the text should be sent as plain text instead.
func formatTelegram(markdown string) (string, bool) {
	out, err := renderTelegram(markdown, telegramMarkdown)
	if err != nil || strings.TrimSpace(out) == "" {
		return markdown, false
	}
	return out, true
}

func renderTelegram(markdown string, md goldmark.Markdown) (string, error) {
	if md == nil {
		return "", errors.New("markdown parser is not configured")
	}
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &telegramRenderer{source: source}
	if err := ast.Walk(doc, r.walk); err != nil {
		return "", err
	}
	return strings.TrimSpace(r.buf.String()), nil
}

type telegramRenderer struct {
	source []byte
	buf    bytes.Buffer
}

func (r *telegramRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Document:
	case *ast.Paragraph, *ast.TextBlock:
		if !entering {
			r.separate(n)
		}
	case *ast.Heading:
		r.tag("b", entering)
		if !entering {
			r.separate(n)
		}
	case *ast.Blockquote:
		r.tag("blockquote", entering)
		if !entering {
			r.separate(n)
		}
	case *ast.List:
		if !entering {
			r.separate(n)
		}
	case *ast.ListItem:
		if entering {
			r.buf.WriteString(listMarker(node))
		} else if n.NextSibling() != nil {
			r.buf.WriteString("\n")
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			r.buf.WriteString("<pre><code>")
			r.writeLines(n)
			r.buf.WriteString("</code></pre>")
			r.separate(n)
		}
		return ast.WalkSkipChildren, nil
	case *ast.ThematicBreak:
		if entering {
			r.buf.WriteString("———")
			r.separate(n)
		}
	case *ast.HTMLBlock, *ast.RawHTML, *ast.Image:
		return ast.WalkSkipChildren, nil
	case *ast.Emphasis:
		if node.Level >= 2 {
			r.tag("b", entering)
		} else {
			r.tag("i", entering)
		}
	case *extast.Strikethrough:
		r.tag("s", entering)
	case *ast.CodeSpan:
		if entering {
			r.buf.WriteString("<code>")
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				r.buf.WriteString(html.EscapeString(string(nodeText(c, r.source))))
			}
			r.buf.WriteString("</code>")
		}
		return ast.WalkSkipChildren, nil
	case *ast.Link:
		if entering {
			r.buf.WriteString(`<a href="` + html.EscapeString(string(node.Destination)) + `">`)
		} else {
			r.buf.WriteString("</a>")
		}
	case *ast.AutoLink:
		if entering {
			url := string(node.URL(r.source))
			if node.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(url, "mailto:") {
				url = "mailto:" + url
			}
			r.buf.WriteString(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(string(node.Label(r.source))) + "</a>")
		}
		return ast.WalkSkipChildren, nil
	case *ast.Text:
		if entering {
			r.buf.WriteString(html.EscapeString(string(node.Segment.Value(r.source))))
			if node.HardLineBreak() || node.SoftLineBreak() {
				r.buf.WriteString("\n")
			}
		}
	case *ast.String:
		if entering {
			r.buf.WriteString(html.EscapeString(string(node.Value)))
		}
	}
	return ast.WalkContinue, nil
}

func (r *telegramRenderer) tag(name string, entering bool) {
	if entering {
		r.buf.WriteString("<" + name + ">")
		return
	}
	r.buf.WriteString("</" + name + ">")
}

// separate writes the gap between n and the next block at the same level.
func (r *telegramRenderer) separate(n ast.Node) {
	if n.NextSibling() == nil {
		return
	}
	if _, ok := n.Parent().(*ast.ListItem); ok {
		r.buf.WriteString("\n")
		return
	}
	r.buf.WriteString("\n\n")
}

func (r *telegramRenderer) writeLines(n ast.Node) {
	lines := n.Lines()
	var code strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(r.source))
	}
	r.buf.WriteString(html.EscapeString(strings.TrimRight(code.String(), "\n")))
}

func listMarker(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "- "
	}
	n := list.Start
	for s := item.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		n++
	}
	return strconv.Itoa(n) + ". "
}

func nodeText(n ast.Node, source []byte) []byte {
	switch node := n.(type) {
	case *ast.Text:
		return node.Segment.Value(source)
	case *ast.String:
		return node.Value
	}
	var out []byte
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, nodeText(c, source)...)
	}
	return out
}

// splitMessage cuts text into chunks of at most limit runes, preferring line
// boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
