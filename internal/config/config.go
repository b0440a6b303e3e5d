// Package config loads promptsmith runtime configuration from a TOML file and environment variables, exposing typed structs and accessors for all sections.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultLLMProfile      = "default"
	synthesisLLMProfile    = "synthesis"
	defaultTelegramChannel = "telegram"
)

const (
	// EmbedderHash embeds text locally with feature hashing.
	EmbedderHash = "hash"
	// EmbedderGemini embeds text with the Gemini embeddings API.
	EmbedderGemini = "gemini"
)

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is runtime-resolved from PROMPTSMITH_HOME and not read from config.
	HomeDir  string                       `mapstructure:"-"`
	LLM      map[string]LLMProviderConfig `mapstructure:"llm"`
	Agent    AgentConfig                  `mapstructure:"agent"`
	Feedback FeedbackConfig               `mapstructure:"feedback"`
	Memory   MemoryConfig                 `mapstructure:"memory"`
	Lookups  LookupsConfig                `mapstructure:"lookups"`
	Channels map[string]ChannelConfig     `mapstructure:"channels"`
	API      APIConfig                    `mapstructure:"api"`
	Events   EventsConfig                 `mapstructure:"events"`
	Costs    CostsConfig                  `mapstructure:"costs"`
}

// LLMProviderConfig configures one LLM provider profile.
type LLMProviderConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AgentConfig bounds the turn loop.
type AgentConfig struct {
	MaxIterations          int           `mapstructure:"max_iterations"`
	CapabilityTimeout      time.Duration `mapstructure:"capability_timeout"`
	TurnTimeout            time.Duration `mapstructure:"turn_timeout"`
	RecentMessages         int           `mapstructure:"recent_messages"`
	MaxParallelCalls       int           `mapstructure:"max_parallel_calls"`
	CapabilityOutputLength int           `mapstructure:"capability_output_length"`
}

// FeedbackConfig holds the auto-trigger thresholds and retry sweep schedule.
type FeedbackConfig struct {
	MinPending      int     `mapstructure:"min_pending"`
	RatingThreshold float64 `mapstructure:"rating_threshold"`
	AverageWindow   int     `mapstructure:"average_window"`
	SweepSchedule   string  `mapstructure:"sweep_schedule"`
}

// MemoryConfig configures the semantic memory store used for turn enrichment.
type MemoryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Embedder       string  `mapstructure:"embedder"`
	APIKey         string  `mapstructure:"api_key"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Dimensions     int     `mapstructure:"dimensions"`
	TopK           int     `mapstructure:"top_k"`
	MinSimilarity  float64 `mapstructure:"min_similarity"`
	SeedKnowledge  bool    `mapstructure:"seed_knowledge"`
}

// LookupsConfig selects lookup capabilities and their egress policy.
type LookupsConfig struct {
	Enabled        []string `mapstructure:"enabled"`
	RestrictEgress bool     `mapstructure:"restrict_egress"`
	UserAgent      string   `mapstructure:"user_agent"`
}

// ChannelConfig configures one inbound/outbound channel.
type ChannelConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Token        string  `mapstructure:"token"`
	AllowedUsers []int64 `mapstructure:"allowed_users"`
}

// APIConfig configures the HTTP API served by `smith serve`.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
	Token  string `mapstructure:"token"`
}

// EventsConfig configures optional NATS event publishing.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Token         string `mapstructure:"token"`
}

// CostsConfig defines soft USD spending limits.
type CostsConfig struct {
	DailyLimit   float64 `mapstructure:"daily_limit"`
	MonthlyLimit float64 `mapstructure:"monthly_limit"`
}

// AllLookups lists every built-in lookup capability name.
var AllLookups = []string{
	"consulta_cep",
	"consulta_pokemon",
	"consulta_ibge",
	"consulta_clima",
	"consulta_serie",
	"consulta_livro",
	"consulta_letra_musica",
}

var defaultConfig = Config{
	LLM: map[string]LLMProviderConfig{
		defaultLLMProfile: {
			APIKey:         "",
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-6",
			MaxTokens:      4096,
			RequestTimeout: 60 * time.Second,
		},
	},
	Agent: AgentConfig{
		MaxIterations:          5,
		CapabilityTimeout:      10 * time.Second,
		TurnTimeout:            2 * time.Minute,
		RecentMessages:         10,
		MaxParallelCalls:       4,
		CapabilityOutputLength: 4000,
	},
	Feedback: FeedbackConfig{
		MinPending:      3,
		RatingThreshold: 3.0,
		AverageWindow:   0,
		SweepSchedule:   "@every 30m",
	},
	Memory: MemoryConfig{
		Enabled:        true,
		Embedder:       EmbedderHash,
		EmbeddingModel: "gemini-embedding-001",
		Dimensions:     256,
		TopK:           3,
		MinSimilarity:  0.5,
		SeedKnowledge:  true,
	},
	Lookups: LookupsConfig{
		Enabled:        AllLookups,
		RestrictEgress: true,
		UserAgent:      "promptsmith",
	},
	Channels: map[string]ChannelConfig{
		defaultTelegramChannel: {
			Enabled: false,
			Token:   "",
		},
	},
	API: APIConfig{
		Listen: "127.0.0.1:8088",
	},
	Events: EventsConfig{
		SubjectPrefix: "promptsmith",
	},
}

// defaultUserConfig is the minimal bootstrap config written for first-time
// users. It holds only user-editable essentials, not the full default surface.
var defaultUserConfig = Config{
	LLM: map[string]LLMProviderConfig{
		defaultLLMProfile: {
			APIKey:         "$ANTHROPIC_API_KEY",
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-6",
			RequestTimeout: 60 * time.Second,
		},
	},
	Feedback: FeedbackConfig{
		MinPending:      3,
		RatingThreshold: 3.0,
	},
	Channels: map[string]ChannelConfig{
		defaultTelegramChannel: {
			Enabled: false,
			Token:   "",
		},
	},
}

// HomeDir returns the promptsmith home directory.
// Uses PROMPTSMITH_HOME if set, otherwise defaults to ~/.promptsmith.
func HomeDir() (string, error) {
	if dir := os.Getenv("PROMPTSMITH_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

// Load merges hardcoded defaults and config file values in that order.
// Config is always at $PROMPTSMITH_HOME/config.toml.
func Load() (*Config, error) {
	homeDir, err := HomeDir()
	if err != nil {
		return nil, err
	}

	v, err := newViper(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir

	return &cfg, nil
}

// Write writes the merged configuration (defaults overlaid by user
// config) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	homeDir, err := HomeDir()
	if err != nil {
		return err
	}
	v, err := newViper(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for _, key := range []string{
		"llm.default.request_timeout",
		"agent.capability_timeout",
		"agent.turn_timeout",
	} {
		v.Set(key, v.GetDuration(key).String())
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultUserConfigTOML renders the minimal bootstrap user config as TOML.
func DefaultUserConfigTOML() (string, error) {
	v := viper.New()
	v.SetConfigType("toml")

	for profile, llm := range defaultUserConfig.LLM {
		v.Set("llm."+profile+".api_key", llm.APIKey)
		v.Set("llm."+profile+".provider", llm.Provider)
		v.Set("llm."+profile+".model", llm.Model)
		v.Set("llm."+profile+".request_timeout", llm.RequestTimeout.String())
	}
	for channel, ch := range defaultUserConfig.Channels {
		v.Set("channels."+channel+".enabled", ch.Enabled)
		v.Set("channels."+channel+".token", ch.Token)
	}
	v.Set("feedback.min_pending", defaultUserConfig.Feedback.MinPending)
	v.Set("feedback.rating_threshold", defaultUserConfig.Feedback.RatingThreshold)

	var out bytes.Buffer
	if err := v.WriteConfigTo(&out); err != nil {
		return "", fmt.Errorf("write default user config: %w", err)
	}
	return out.String(), nil
}

func newViper(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	llm := defaultConfig.LLM[defaultLLMProfile]
	v.SetDefault("llm.default.api_key", llm.APIKey)
	v.SetDefault("llm.default.provider", llm.Provider)
	v.SetDefault("llm.default.model", llm.Model)
	v.SetDefault("llm.default.max_tokens", llm.MaxTokens)
	v.SetDefault("llm.default.request_timeout", llm.RequestTimeout)

	v.SetDefault("agent.max_iterations", defaultConfig.Agent.MaxIterations)
	v.SetDefault("agent.capability_timeout", defaultConfig.Agent.CapabilityTimeout)
	v.SetDefault("agent.turn_timeout", defaultConfig.Agent.TurnTimeout)
	v.SetDefault("agent.recent_messages", defaultConfig.Agent.RecentMessages)
	v.SetDefault("agent.max_parallel_calls", defaultConfig.Agent.MaxParallelCalls)
	v.SetDefault("agent.capability_output_length", defaultConfig.Agent.CapabilityOutputLength)

	v.SetDefault("feedback.min_pending", defaultConfig.Feedback.MinPending)
	v.SetDefault("feedback.rating_threshold", defaultConfig.Feedback.RatingThreshold)
	v.SetDefault("feedback.average_window", defaultConfig.Feedback.AverageWindow)
	v.SetDefault("feedback.sweep_schedule", defaultConfig.Feedback.SweepSchedule)

	v.SetDefault("memory.enabled", defaultConfig.Memory.Enabled)
	v.SetDefault("memory.embedder", defaultConfig.Memory.Embedder)
	v.SetDefault("memory.api_key", defaultConfig.Memory.APIKey)
	v.SetDefault("memory.embedding_model", defaultConfig.Memory.EmbeddingModel)
	v.SetDefault("memory.dimensions", defaultConfig.Memory.Dimensions)
	v.SetDefault("memory.top_k", defaultConfig.Memory.TopK)
	v.SetDefault("memory.min_similarity", defaultConfig.Memory.MinSimilarity)
	v.SetDefault("memory.seed_knowledge", defaultConfig.Memory.SeedKnowledge)

	v.SetDefault("lookups.enabled", defaultConfig.Lookups.Enabled)
	v.SetDefault("lookups.restrict_egress", defaultConfig.Lookups.RestrictEgress)
	v.SetDefault("lookups.user_agent", defaultConfig.Lookups.UserAgent)

	v.SetDefault("channels.telegram.enabled", defaultConfig.Channels[defaultTelegramChannel].Enabled)
	v.SetDefault("channels.telegram.token", defaultConfig.Channels[defaultTelegramChannel].Token)

	v.SetDefault("api.listen", defaultConfig.API.Listen)
	v.SetDefault("api.token", defaultConfig.API.Token)

	v.SetDefault("events.nats_url", defaultConfig.Events.NATSURL)
	v.SetDefault("events.subject_prefix", defaultConfig.Events.SubjectPrefix)
	v.SetDefault("events.token", defaultConfig.Events.Token)

	v.SetDefault("costs.daily_limit", defaultConfig.Costs.DailyLimit)
	v.SetDefault("costs.monthly_limit", defaultConfig.Costs.MonthlyLimit)
}

// DefaultLLM returns the default LLM profile with fallback defaults.
func (c *Config) DefaultLLM() LLMProviderConfig {
	if llm, ok := c.LLM[defaultLLMProfile]; ok {
		return llm
	}
	return defaultConfig.LLM[defaultLLMProfile]
}

// SynthesisLLM returns the profile used for prompt synthesis, falling back
// to the default profile when no [llm.synthesis] section exists.
func (c *Config) SynthesisLLM() LLMProviderConfig {
	if llm, ok := c.LLM[synthesisLLMProfile]; ok {
		return llm
	}
	return c.DefaultLLM()
}

// TelegramChannel returns Telegram channel config with fallback defaults.
func (c *Config) TelegramChannel() ChannelConfig {
	if ch, ok := c.Channels[defaultTelegramChannel]; ok {
		return ch
	}
	return defaultConfig.Channels[defaultTelegramChannel]
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
