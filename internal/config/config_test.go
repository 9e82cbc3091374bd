package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ISSUEDESK_API_BASE", "")
	os.Unsetenv("ISSUEDESK_API_BASE")

	cfg, err := load(viper.New(), dir)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}

	if cfg.APIBase != DefaultAPIBase {
		t.Errorf("APIBase = %q, want %q", cfg.APIBase, DefaultAPIBase)
	}
	if cfg.StatePath != filepath.Join(dir, "state.db") {
		t.Errorf("StatePath = %q, want state.db under %q", cfg.StatePath, dir)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %s, want %s", cfg.Timeout, DefaultTimeout)
	}
	if cfg.Retries != DefaultRetries {
		t.Errorf("Retries = %d, want %d", cfg.Retries, DefaultRetries)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := "api_base: http://file.example:9000\nlog_level: info\ntimeout: 5s\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(file), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ISSUEDESK_API_BASE", "https://api.example.com/")

	cfg, err := load(viper.New(), dir)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}

	if cfg.APIBase != "https://api.example.com" {
		t.Errorf("APIBase = %q, want env value without trailing slash", cfg.APIBase)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want value from file", cfg.LogLevel)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", cfg.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{APIBase: "http://localhost:3001", Timeout: time.Second}, false},
		{"empty base", Config{APIBase: " ", Timeout: time.Second}, true},
		{"bad scheme", Config{APIBase: "ftp://x", Timeout: time.Second}, true},
		{"zero timeout", Config{APIBase: "http://x", Timeout: 0}, true},
		{"negative retries", Config{APIBase: "http://x", Timeout: time.Second, Retries: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
