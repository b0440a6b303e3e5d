package config

import "path/filepath"

const (
	// Global layout under PROMPTSMITH_HOME.
	ConfigFilePath = "config.toml"
	DataDirPath    = "data"
	LogsDirPath    = "logs"

	// Data files under PROMPTSMITH_HOME/data.
	TurnsFileName    = "turns.jsonl"
	FeedbackFileName = "feedback.jsonl"
	PromptsFileName  = "prompts.jsonl"
	MemoryFileName   = "memory.db"
	CostsFileName    = "costs.jsonl"

	SessionsDirPath    = "sessions"
	CLISessionFileName = "cli.jsonl"
	TelegramDirPath    = "telegram"
	HistoryFileName    = ".smith_history"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".promptsmith")
}

func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

func (c *Config) DataDir() string {
	return filepath.Join(c.HomeDir, DataDirPath)
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir(), LogsDirPath)
}

func (c *Config) TurnsPath() string {
	return filepath.Join(c.DataDir(), TurnsFileName)
}

func (c *Config) FeedbackPath() string {
	return filepath.Join(c.DataDir(), FeedbackFileName)
}

func (c *Config) PromptsPath() string {
	return filepath.Join(c.DataDir(), PromptsFileName)
}

func (c *Config) MemoryPath() string {
	return filepath.Join(c.DataDir(), MemoryFileName)
}

func (c *Config) CostsPath() string {
	return filepath.Join(c.LogsDir(), CostsFileName)
}

func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir(), SessionsDirPath)
}

func (c *Config) CLISessionPath() string {
	return filepath.Join(c.SessionsDir(), CLISessionFileName)
}

// TelegramSessionPath returns the transcript path for one Telegram chat.
func (c *Config) TelegramSessionPath(chatID string) string {
	return filepath.Join(c.SessionsDir(), TelegramDirPath, chatID+".jsonl")
}

func (c *Config) HistoryFilePath() string {
	return filepath.Join(c.HomeDir, HistoryFileName)
}
