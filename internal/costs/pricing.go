package costs

import "strings"

const perMillion = 1_000_000.0

type rate struct {
	input  float64
	output float64
}

func (r rate) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/perMillion*r.input + float64(outputTokens)/perMillion*r.output
}

// EstimateAnthropicUSD returns estimated USD cost for Anthropic models.
// Returns ok=false when no known fallback pricing exists for the model.
func EstimateAnthropicUSD(model string, inputTokens, outputTokens int) (usd float64, ok bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	var r rate
	switch {
	case strings.Contains(name, "haiku"):
		r = rate{input: 0.80, output: 4.00}
	case strings.Contains(name, "sonnet"):
		r = rate{input: 3.00, output: 15.00}
	case strings.Contains(name, "opus"):
		r = rate{input: 15.00, output: 75.00}
	default:
		return 0, false
	}
	return r.cost(inputTokens, outputTokens), true
}

// EstimateGeminiUSD returns estimated USD cost for Gemini models.
func EstimateGeminiUSD(model string, inputTokens, outputTokens int) (usd float64, ok bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	var r rate
	switch {
	case strings.Contains(name, "flash-lite"):
		r = rate{input: 0.10, output: 0.40}
	case strings.Contains(name, "flash"):
		r = rate{input: 0.30, output: 2.50}
	case strings.Contains(name, "pro"):
		r = rate{input: 1.25, output: 10.00}
	default:
		return 0, false
	}
	return r.cost(inputTokens, outputTokens), true
}

// EstimateUSD returns fallback estimated USD cost for providers that do not
// report cost themselves.
func EstimateUSD(providerName, model string, inputTokens, outputTokens int) (usd float64, ok bool) {
	switch strings.ToLower(strings.TrimSpace(providerName)) {
	case "anthropic":
		return EstimateAnthropicUSD(model, inputTokens, outputTokens)
	case "gemini":
		return EstimateGeminiUSD(model, inputTokens, outputTokens)
	default:
		return 0, false
	}
}
