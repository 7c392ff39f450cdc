package config

// JournalConfig controls the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" toml:"path,omitempty" yaml:"path,omitempty"` // Defaults to ~/.taskgraph/journal.db
}

// UIConfig controls the terminal progress view.
type UIConfig struct {
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled"`
}

// Config is the top-level configuration.
type Config struct {
	Workers   int           `json:"workers" toml:"workers" yaml:"workers"`          // Async pool size
	QueueSize int           `json:"queue_size" toml:"queue_size" yaml:"queue_size"` // Event subscriber buffer
	Debug     bool          `json:"debug" toml:"debug" yaml:"debug"`                // Scheduler diagnostics
	Journal   JournalConfig `json:"journal" toml:"journal" yaml:"journal"`
	UI        UIConfig      `json:"ui" toml:"ui" yaml:"ui"`
}

// fileConfig is the on-disk shape. Pointers distinguish "unset" from zero so
// that a file only overrides what it mentions.
type fileConfig struct {
	Workers   *int  `json:"workers" toml:"workers" yaml:"workers"`
	QueueSize *int  `json:"queue_size" toml:"queue_size" yaml:"queue_size"`
	Debug     *bool `json:"debug" toml:"debug" yaml:"debug"`
	Journal   *struct {
		Enabled *bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
		Path    *string `json:"path" toml:"path" yaml:"path"`
	} `json:"journal" toml:"journal" yaml:"journal"`
	UI *struct {
		Enabled *bool `json:"enabled" toml:"enabled" yaml:"enabled"`
	} `json:"ui" toml:"ui" yaml:"ui"`
}

func (f *fileConfig) mergeInto(base *Config) {
	if f.Workers != nil {
		base.Workers = *f.Workers
	}
	if f.QueueSize != nil {
		base.QueueSize = *f.QueueSize
	}
	if f.Debug != nil {
		base.Debug = *f.Debug
	}
	if f.Journal != nil {
		if f.Journal.Enabled != nil {
			base.Journal.Enabled = *f.Journal.Enabled
		}
		if f.Journal.Path != nil {
			base.Journal.Path = *f.Journal.Path
		}
	}
	if f.UI != nil && f.UI.Enabled != nil {
		base.UI.Enabled = *f.UI.Enabled
	}
}
