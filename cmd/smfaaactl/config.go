package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/danmuck/smfaaa/internal/config"
)

const defaultConfigPath = "cmd/smfaaactl/config.toml"

// loadConfig reads path, falling back to defaults when the default path is
// absent. An explicit path that does not exist is an error.
func loadConfig(path, levelOverride string) (config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case path == defaultConfigPath && errors.Is(statErr(path), fs.ErrNotExist):
		cfg = config.Default()
	default:
		return config.Config{}, err
	}
	if strings.TrimSpace(levelOverride) != "" {
		cfg.Node.LogLevel = levelOverride
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func statErr(path string) error {
	_, err := os.Stat(path)
	return err
}
