package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon's persisted settings, read from
// <Dir()>/illuc.yaml the way wingthing reads wing.yaml.
type Config struct {
	// DefaultAgent names a preferred agent kind: "codex" or "copilot". It
	// is loaded and saved with the file, but the daemon does not pass it
	// on: task_create falls back to codex when the request omits an agent.
	DefaultAgent string `yaml:"default_agent,omitempty"`

	// ScreenRows/ScreenCols record a preferred virtual screen size. They are
	// loaded and saved with the file, but task_start does not read them: an
	// unspecified size falls back to the registry's own 40x120 default.
	ScreenRows int `yaml:"screen_rows,omitempty"`
	ScreenCols int `yaml:"screen_cols,omitempty"`

	home string
}

// Load reads <dir>/illuc.yaml. A missing file yields defaults, not an error
// — a fresh ~/.illuc is the common case on first run.
func Load(dir string) (*Config, error) {
	cfg := &Config{DefaultAgent: "codex", ScreenRows: 40, ScreenCols: 120, home: dir}

	data, err := os.ReadFile(filepath.Join(dir, "illuc.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.home = dir
	return cfg, nil
}

// Save writes the config back to <dir>/illuc.yaml.
func (c *Config) Save() error {
	if err := EnsureDir(c.home); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.home, "illuc.yaml"), data, 0o644)
}

// SocketPath is the daemon's unix socket, rooted at its home directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.home, "illucd.sock")
}

// LogPath is the daemon's structured log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.home, "illucd.log")
}
