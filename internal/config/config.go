// Package config loads issuedesk settings from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment variable, e.g. ISSUEDESK_API_BASE.
	EnvPrefix = "ISSUEDESK"

	// DefaultAPIBase is the API server used when none is configured.
	DefaultAPIBase = "http://localhost:3001"
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultRetries is how many times an idempotent request is retried on transport errors.
	DefaultRetries = 2
	// DefaultLogLevel is used when log_level is unset.
	DefaultLogLevel = "warning"
)

// Config contains all runtime settings.
type Config struct {
	APIBase     string        `mapstructure:"api_base"`
	StatePath   string        `mapstructure:"state_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	LogFile     string        `mapstructure:"log_file"`
	LogLevel    string        `mapstructure:"log_level"`
	OTelEnabled bool          `mapstructure:"otel_enabled"`
	OTelStdout  bool          `mapstructure:"otel_stdout"`
}

// Dir returns the directory holding issuedesk state, config and logs.
// ISSUEDESK_HOME overrides the default of ~/.issuedesk.
func Dir() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + "_HOME")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".issuedesk"), nil
}

// LoadFromEnv reads configuration from ISSUEDESK_* variables and, if present,
// <Dir>/config.yaml. Environment variables win over the file.
func LoadFromEnv() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}
	return load(viper.New(), dir)
}

func load(v *viper.Viper, dir string) (Config, error) {
	v.SetDefault("api_base", DefaultAPIBase)
	v.SetDefault("state_path", filepath.Join(dir, "state.db"))
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("retries", DefaultRetries)
	v.SetDefault("log_file", filepath.Join(dir, "issuedesk.log"))
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_stdout", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBase) == "" {
		return fmt.Errorf("%s_API_BASE must not be empty", EnvPrefix)
	}
	if !strings.HasPrefix(c.APIBase, "http://") && !strings.HasPrefix(c.APIBase, "https://") {
		return fmt.Errorf("%s_API_BASE must be an http(s) URL, got %q", EnvPrefix, c.APIBase)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	return nil
}
