package generation

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// sectionHeaders pairs the improvements header with its prompt header, in
// English and Portuguese.
var sectionHeaders = [][2]string{
	{"IMPROVEMENTS APPLIED:", "NEW PROMPT:"},
	{"MELHORIAS APLICADAS:", "NOVO PROMPT:"},
}

var (
	codeFence   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")
	bulletStart = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// ParseSynthesis reads a synthesis reply. It accepts a JSON object
// {"prompt": ..., "improvements": [...]}, optionally inside a code fence, and
// falls back to the sectioned text format with an "IMPROVEMENTS APPLIED:"
// list followed by a "NEW PROMPT:" block.
func ParseSynthesis(reply string) (SynthesisResult, error) {
	text := strings.TrimSpace(reply)
	if text == "" {
		return SynthesisResult{}, errors.New("empty reply")
	}
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	if strings.HasPrefix(text, "{") {
		var payload struct {
			Prompt       string   `json:"prompt"`
			Improvements []string `json:"improvements"`
		}
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			return SynthesisResult{}, err
		}
		return SynthesisResult{
			PromptText:   strings.TrimSpace(payload.Prompt),
			Improvements: payload.Improvements,
		}, nil
	}

	return parseSections(text)
}

func parseSections(text string) (SynthesisResult, error) {
	for _, headers := range sectionHeaders {
		if strings.Contains(text, headers[1]) {
			return parseSectionsWith(text, headers[0], headers[1]), nil
		}
	}
	return SynthesisResult{}, errors.New("reply has neither a JSON object nor a NEW PROMPT section")
}

func parseSectionsWith(text, improvementsHeader, newPromptHeader string) SynthesisResult {
	promptAt := strings.Index(text, newPromptHeader)
	prompt := strings.TrimSpace(text[promptAt+len(newPromptHeader):])

	var improvements []string
	if listAt := strings.Index(text, improvementsHeader); listAt >= 0 && listAt < promptAt {
		for _, line := range strings.Split(text[listAt+len(improvementsHeader):promptAt], "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			improvements = append(improvements, strings.TrimSpace(bulletStart.ReplaceAllString(line, "")))
		}
	}

	return SynthesisResult{PromptText: prompt, Improvements: improvements}
}
