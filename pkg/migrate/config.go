// chatdb-migrate - Recovers message text from macOS chat.db archives.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// SourcePath is the chat.db to read. Defaults to the logged-in user's
	// ~/Library/Messages/chat.db.
	SourcePath string `yaml:"source_path"`

	// TargetPath is the SQLite database the normalized messages are
	// written to.
	TargetPath string `yaml:"target_path"`

	// BatchSize is how many decoded rows go into one insert transaction.
	// Default is 500.
	BatchSize int `yaml:"batch_size"`

	// Limit caps how many source rows are read (0 = all).
	Limit int `yaml:"limit"`

	// WatchDebounce is how long watch mode waits for chat.db writes to
	// settle before re-running the migration, as a Go duration string.
	// Default is 2s.
	WatchDebounce string `yaml:"watch_debounce"`
	watchDebounce time.Duration
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	if c.TargetPath == "" {
		return fmt.Errorf("target_path is required")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if c.WatchDebounce != "" {
		d, err := time.ParseDuration(c.WatchDebounce)
		if err != nil {
			return fmt.Errorf("invalid watch_debounce: %w", err)
		}
		c.watchDebounce = d
	}
	return nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// GetSourcePath returns the configured source database, defaulting to the
// user's own chat.db.
func (c *Config) GetSourcePath() string {
	if c.SourcePath != "" {
		return c.SourcePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.db"
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

// GetBatchSize returns the configured batch size, defaulting to 500.
func (c *Config) GetBatchSize() int {
	if c.BatchSize <= 0 {
		return 500
	}
	return c.BatchSize
}

// GetWatchDebounce returns the watch-mode debounce window, defaulting to 2s.
func (c *Config) GetWatchDebounce() time.Duration {
	if c.watchDebounce <= 0 {
		return 2 * time.Second
	}
	return c.watchDebounce
}
