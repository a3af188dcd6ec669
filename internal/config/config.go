// Package config loads the daemon configuration from a YAML file with
// environment overrides. Precedence, lowest to highest: defaults, file,
// SESSIOND_* environment, command-line flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sessiond/internal/store"
)

// Duration wraps time.Duration so YAML can say "5s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration.
type Config struct {
	Listen          string   `yaml:"listen"`
	SessionsDir     string   `yaml:"sessions_dir"`
	ClaudeBin       string   `yaml:"claude_bin"`
	PermissionMode  string   `yaml:"permission_mode"`
	AllowedTools    []string `yaml:"allowed_tools"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:          "127.0.0.1:8787",
		SessionsDir:     store.DefaultRoot(),
		ClaudeBin:       "claude",
		PermissionMode:  "bypassPermissions",
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: Duration(5 * time.Second),
	}
}

// Load reads the file at path over the defaults. An empty path means
// defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays SESSIOND_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SESSIOND_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SESSIOND_SESSIONS_DIR"); v != "" {
		c.SessionsDir = v
	}
	if v := os.Getenv("SESSIOND_CLAUDE_BIN"); v != "" {
		c.ClaudeBin = v
	}
	if v := os.Getenv("SESSIOND_PERMISSION_MODE"); v != "" {
		c.PermissionMode = v
	}
	if v := os.Getenv("SESSIOND_ALLOWED_TOOLS"); v != "" {
		c.AllowedTools = splitTools(v)
	}
	if v := os.Getenv("SESSIOND_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SESSIOND_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.SessionsDir == "" {
		return errors.New("sessions directory is required")
	}
	if c.ClaudeBin == "" {
		return errors.New("claude binary is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

// Logger builds the daemon logger described by LogLevel and LogFormat.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func splitTools(s string) []string {
	parts := strings.Split(s, ",")
	tools := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tools = append(tools, p)
		}
	}
	return tools
}
