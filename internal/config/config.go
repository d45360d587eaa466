// Package config loads and validates searchd configuration from a
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "30s".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("90s", "2m") or a
// plain number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete searchd configuration.
type Config struct {
	// Listen is the TCP address to bind. Ignored when a listener is
	// supplied via systemd socket activation.
	Listen string `yaml:"listen"`

	// DataDir holds service state, including the location cache.
	DataDir string `yaml:"data_dir"`

	// CachePath overrides the location cache file. Defaults to
	// <data_dir>/locations.db.
	CachePath string `yaml:"cache_path"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	ReadTimeout   Duration `yaml:"read_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Listen:        "127.0.0.1:8090",
		DataDir:       ".searchd",
		LogLevel:      "info",
		ReadTimeout:   Duration(30 * time.Second),
		WriteTimeout:  Duration(60 * time.Second),
		ShutdownGrace: Duration(10 * time.Second),
	}
}

// Load reads configuration from path (optional), applies environment
// overrides, and validates the result. An empty path skips the file
// and uses defaults; an explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies SEARCHD_* environment overrides. Env vars take
// precedence over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SEARCHD_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SEARCHD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SEARCHD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks for obviously broken values.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// ResolveCachePath returns the location cache file path, defaulting
// to <data_dir>/locations.db.
func (c *Config) ResolveCachePath() string {
	if c.CachePath != "" {
		return c.CachePath
	}
	return filepath.Join(c.DataDir, "locations.db")
}
