package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DirName is the directory holding global (under $HOME) and project configuration.
const DirName = ".taskgraph"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:   runtime.NumCPU(),
		QueueSize: 256,
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	return nil
}

// JournalPath returns the configured journal path or the default under $HOME.
func (c *Config) JournalPath() (string, error) {
	if c.Journal.Path != "" {
		return c.Journal.Path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName, "journal.db"), nil
}
