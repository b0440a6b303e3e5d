package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

// Validate checks required LLM provider fields and provider-specific rules.
func (c LLMProviderConfig) Validate() error {
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be > 0")
	}

	switch c.Provider {
	case "anthropic", "openrouter", "gemini":
		if c.APIKey == "" {
			return errors.New("api_key is required")
		}
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}

// Validate checks turn loop bounds.
func (c AgentConfig) Validate() error {
	if c.MaxIterations <= 0 {
		return errors.New("max_iterations must be > 0")
	}
	if c.CapabilityTimeout <= 0 {
		return errors.New("capability_timeout must be > 0")
	}
	if c.TurnTimeout < 0 {
		return errors.New("turn_timeout must be >= 0")
	}
	if c.MaxParallelCalls <= 0 {
		return errors.New("max_parallel_calls must be > 0")
	}
	return nil
}

// Validate checks trigger thresholds.
func (c FeedbackConfig) Validate() error {
	if c.MinPending <= 0 {
		return errors.New("min_pending must be > 0")
	}
	if c.RatingThreshold < 1 || c.RatingThreshold > 5 {
		return fmt.Errorf("rating_threshold must be within [1,5], got %v", c.RatingThreshold)
	}
	if c.AverageWindow < 0 {
		return errors.New("average_window must be >= 0")
	}
	return nil
}

// Validate checks embedder selection and retrieval bounds.
func (c MemoryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Embedder {
	case EmbedderHash:
		if c.Dimensions <= 0 {
			return errors.New("dimensions must be > 0")
		}
	case EmbedderGemini:
		if c.APIKey == "" {
			return errors.New("api_key is required for the gemini embedder")
		}
	default:
		return fmt.Errorf("unsupported embedder %q", c.Embedder)
	}
	if c.TopK <= 0 {
		return errors.New("top_k must be > 0")
	}
	if c.MinSimilarity < -1 || c.MinSimilarity > 1 {
		return errors.New("min_similarity must be within [-1,1]")
	}
	return nil
}

// Validate checks that every enabled lookup is a known capability.
func (c LookupsConfig) Validate() error {
	known := make(map[string]struct{}, len(AllLookups))
	for _, name := range AllLookups {
		known[name] = struct{}{}
	}
	for _, name := range c.Enabled {
		if _, ok := known[strings.TrimSpace(name)]; !ok {
			return fmt.Errorf("unknown lookup %q", name)
		}
	}
	return nil
}

// Validate checks required channel fields when the channel is enabled.
func (c ChannelConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Token == "" {
		return errors.New("token is required when enabled=true")
	}
	return nil
}

// Validate checks the API listen address.
func (c APIConfig) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen is required")
	}
	return nil
}

// Validate checks the subject prefix when publishing is enabled.
func (c EventsConfig) Validate() error {
	if c.NATSURL != "" && strings.TrimSpace(c.SubjectPrefix) == "" {
		return errors.New("subject_prefix is required when nats_url is set")
	}
	return nil
}

// Validate validates cost limits.
func (c CostsConfig) Validate() error {
	if c.DailyLimit < 0 || c.MonthlyLimit < 0 {
		return errors.New("limits must be >= 0")
	}
	return nil
}

// Validate validates startup configuration and joins every failure.
func (cfg *Config) Validate() error {
	var errs []error

	if _, ok := cfg.LLM[defaultLLMProfile]; !ok {
		errs = append(errs, errors.New("llm.default profile is required"))
	}
	for name, llmCfg := range cfg.LLM {
		if err := llmCfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("llm.%s: %w", name, err))
		}
	}

	sections := []struct {
		name    string
		section Validatable
	}{
		{"agent", cfg.Agent},
		{"feedback", cfg.Feedback},
		{"memory", cfg.Memory},
		{"lookups", cfg.Lookups},
		{"api", cfg.API},
		{"events", cfg.Events},
		{"costs", cfg.Costs},
	}
	for _, s := range sections {
		if err := s.section.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	for name, chCfg := range cfg.Channels {
		if err := chCfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channels.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
