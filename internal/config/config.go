package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Engine        EngineConfig        `toml:"engine"`
	Datasets      DatasetsConfig      `toml:"datasets"`
	History       HistoryConfig       `toml:"history"`
	Cleanup       CleanupConfig       `toml:"cleanup"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`
	Log           LogConfig           `toml:"log"`
}

// EngineConfig describes how to invoke the external form-filling worker
type EngineConfig struct {
	// Command is the worker invocation string, e.g. "python" or "py -3".
	// It is split on whitespace; the first token is the executable.
	Command string `toml:"command"`
	// Entry is the worker entry-point module, passed as "-m <entry>".
	Entry string `toml:"entry"`
	// Workdir is the working directory the worker process runs in.
	Workdir string `toml:"workdir"`
	// DefaultArgs are operator-supplied extra arguments appended to every
	// invocation. --dry-run, --no-submit and --limit N tokens are stripped
	// at load time so global defaults cannot override per-run safety flags.
	DefaultArgs string `toml:"default_args"`
	// WorkRoot is where per-run temp directories are created.
	// Empty means the OS temp directory.
	WorkRoot string `toml:"work_root"`
}

// DatasetsConfig holds dataset storage settings
type DatasetsConfig struct {
	Dir string `toml:"dir"`
}

// HistoryConfig holds run-history persistence settings
type HistoryConfig struct {
	// DatabasePath is the SQLite file for the run audit trail.
	// Empty disables history.
	DatabasePath string `toml:"database_path"`
}

// CleanupConfig controls the temp-directory reaper
type CleanupConfig struct {
	Cron           string `toml:"cron"`
	RetentionHours int    `toml:"retention_hours"`
}

// WebConfig holds HTTP server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// LogConfig holds logging settings
type LogConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".formfill-orchestrator")
	return &Config{
		Engine: EngineConfig{
			Command: "python",
			Entry:   "form_filler.cli",
		},
		Datasets: DatasetsConfig{
			Dir: filepath.Join(base, "datasets"),
		},
		History: HistoryConfig{
			DatabasePath: filepath.Join(base, "history.db"),
		},
		Cleanup: CleanupConfig{
			Cron:           "*/30 * * * *",
			RetentionHours: 24,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Log: LogConfig{
			File:  filepath.Join(base, "orchestrator.log"),
			Level: "info",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// Engine settings can be overridden with the ENGINE_COMMAND, ENGINE_ENTRY,
// ENGINE_WORKDIR and ENGINE_DEFAULT_ARGS environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	// Expand paths
	cfg.Engine.Workdir = ExpandPath(cfg.Engine.Workdir)
	cfg.Engine.WorkRoot = ExpandPath(cfg.Engine.WorkRoot)
	cfg.Datasets.Dir = ExpandPath(cfg.Datasets.Dir)
	cfg.History.DatabasePath = ExpandPath(cfg.History.DatabasePath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENGINE_COMMAND"); v != "" {
		c.Engine.Command = v
	}
	if v := os.Getenv("ENGINE_ENTRY"); v != "" {
		c.Engine.Entry = v
	}
	if v := os.Getenv("ENGINE_WORKDIR"); v != "" {
		c.Engine.Workdir = v
	}
	if v := os.Getenv("ENGINE_DEFAULT_ARGS"); v != "" {
		c.Engine.DefaultArgs = v
	}
}

// Addr returns the listen address for the web server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "formfill-orchestrator", "config.toml")
}
