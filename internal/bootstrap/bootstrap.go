// Package bootstrap creates the promptsmith home layout on first run.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/neoclaw-ai/promptsmith/internal/config"
)

// Initialize creates the expected data tree and a default config.toml if
// missing. Existing files are never overwritten.
func Initialize(cfg *config.Config) error {
	dirs := []string{
		cfg.HomeDir,
		cfg.DataDir(),
		cfg.LogsDir(),
		cfg.SessionsDir(),
		filepath.Join(cfg.SessionsDir(), config.TelegramDirPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	userConfig, err := config.DefaultUserConfigTOML()
	if err != nil {
		return err
	}

	files := []struct {
		path    string
		content string
	}{
		{path: cfg.ConfigPath(), content: userConfig},
		{path: cfg.TurnsPath(), content: ""},
		{path: cfg.FeedbackPath(), content: ""},
		{path: cfg.PromptsPath(), content: ""},
		{path: cfg.CostsPath(), content: ""},
		{path: cfg.CLISessionPath(), content: ""},
	}
	for _, file := range files {
		if err := writeFileIfMissing(file.path, file.content); err != nil {
			return err
		}
	}
	return nil
}

func writeFileIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file %q: %w", path, err)
	}
	return nil
}
