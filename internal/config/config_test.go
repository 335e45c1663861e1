package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pingplot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	// Test default configuration
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}

	if len(cfg.Endpoints) != 3 {
		t.Fatalf("Expected 3 default endpoints, got %d", len(cfg.Endpoints))
	}
	for _, ep := range cfg.Endpoints {
		if !ep.Active {
			t.Errorf("Expected default endpoint %s to be active", ep.Host)
		}
	}

	if cfg.PollIntervalDuration() != 60*time.Second {
		t.Errorf("Expected default poll interval to be 60s, got %s", cfg.PollInterval)
	}

	if cfg.MaxPoints != 20 {
		t.Errorf("Expected default max points to be 20, got %d", cfg.MaxPoints)
	}

	if cfg.Persistence.CSVPath != "ping_data.csv" {
		t.Errorf("Expected default csv path to be 'ping_data.csv', got '%s'", cfg.Persistence.CSVPath)
	}

	if cfg.Persistence.PersistFailures {
		t.Error("Expected failures not to be persisted by default")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level to be 'info', got '%s'", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PINGPLOT_ENDPOINTS", "a.example, b.example,,")
	t.Setenv("PINGPLOT_POLL_INTERVAL", "5s")
	t.Setenv("PINGPLOT_MAX_POINTS", "7")
	t.Setenv("PINGPLOT_PERSIST_FAILURES", "true")
	t.Setenv("PINGPLOT_RENDERER", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config with env vars: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Errorf("Expected server addr to be '127.0.0.1:9090', got '%s'", cfg.Server.Addr)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level to be 'debug', got '%s'", cfg.Logging.Level)
	}

	if len(cfg.Endpoints) != 2 || cfg.Endpoints[0].Host != "a.example" || cfg.Endpoints[1].Host != "b.example" {
		t.Errorf("Expected endpoints [a.example b.example], got %+v", cfg.Endpoints)
	}

	if cfg.PollIntervalDuration() != 5*time.Second {
		t.Errorf("Expected poll interval 5s, got %s", cfg.PollInterval)
	}

	if cfg.MaxPoints != 7 {
		t.Errorf("Expected max points 7, got %d", cfg.MaxPoints)
	}

	if !cfg.Persistence.PersistFailures {
		t.Error("Expected persist failures to be enabled")
	}

	if cfg.Renderer.Mode != "none" {
		t.Errorf("Expected renderer mode 'none', got '%s'", cfg.Renderer.Mode)
	}
}

func TestLoadRejectsMalformedEnvironment(t *testing.T) {
	t.Setenv("PINGPLOT_MAX_POINTS", "lots")

	_, err := Load()
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
endpoints:
  - https://one.example
  - host: two.example
    active: false
  - host: three.example
poll_interval: 2s
max_points: 5
probe:
  method: tcp
persistence:
  sqlite_path: /tmp/pingplot.db
logging:
  format: console
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load config file: %v", err)
	}

	want := []EndpointConfig{
		{Host: "https://one.example", Active: true},
		{Host: "two.example", Active: false},
		{Host: "three.example", Active: true},
	}
	if len(cfg.Endpoints) != len(want) {
		t.Fatalf("Expected %d endpoints, got %d", len(want), len(cfg.Endpoints))
	}
	for i := range want {
		if cfg.Endpoints[i] != want[i] {
			t.Errorf("Endpoint %d: expected %+v, got %+v", i, want[i], cfg.Endpoints[i])
		}
	}

	if cfg.PollIntervalDuration() != 2*time.Second {
		t.Errorf("Expected poll interval 2s, got %s", cfg.PollInterval)
	}
	if cfg.Probe.Method != "tcp" {
		t.Errorf("Expected probe method 'tcp', got '%s'", cfg.Probe.Method)
	}

	// Keys absent from the file keep their defaults
	if cfg.Probe.Timeout != "10s" {
		t.Errorf("Expected default probe timeout to survive, got '%s'", cfg.Probe.Timeout)
	}
	if cfg.Persistence.CSVPath != "ping_data.csv" {
		t.Errorf("Expected default csv path to survive, got '%s'", cfg.Persistence.CSVPath)
	}
	if cfg.Persistence.SQLitePath != "/tmp/pingplot.db" {
		t.Errorf("Expected sqlite path from file, got '%s'", cfg.Persistence.SQLitePath)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected file config to be valid, got %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		if err == nil {
			t.Error("Expected an error for a missing config file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "endpoints: [unclosed\n")
		_, err := LoadFromFile(path)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{
			name:      "valid config",
			mutate:    func(c *Config) {},
			wantError: false,
		},
		{
			name:      "no endpoints",
			mutate:    func(c *Config) { c.Endpoints = nil },
			wantError: true,
		},
		{
			name:      "empty host",
			mutate:    func(c *Config) { c.Endpoints[1].Host = "" },
			wantError: true,
		},
		{
			name:      "duplicate host",
			mutate:    func(c *Config) { c.Endpoints[1].Host = c.Endpoints[0].Host },
			wantError: true,
		},
		{
			name:      "all endpoints inactive is allowed",
			mutate:    func(c *Config) { c.Endpoints = []EndpointConfig{{Host: "a"}} },
			wantError: false,
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.PollInterval = "0s" },
			wantError: true,
		},
		{
			name:      "negative poll interval",
			mutate:    func(c *Config) { c.PollInterval = "-5s" },
			wantError: true,
		},
		{
			name:      "unparseable poll interval",
			mutate:    func(c *Config) { c.PollInterval = "soon" },
			wantError: true,
		},
		{
			name:      "zero max points",
			mutate:    func(c *Config) { c.MaxPoints = 0 },
			wantError: true,
		},
		{
			name:      "unknown probe method",
			mutate:    func(c *Config) { c.Probe.Method = "smoke-signal" },
			wantError: true,
		},
		{
			name:      "zero probe timeout",
			mutate:    func(c *Config) { c.Probe.Timeout = "0s" },
			wantError: true,
		},
		{
			name:      "empty server addr",
			mutate:    func(c *Config) { c.Server.Addr = "" },
			wantError: true,
		},
		{
			name: "empty server addr with server disabled",
			mutate: func(c *Config) {
				c.Server.Enabled = false
				c.Server.Addr = ""
			},
			wantError: false,
		},
		{
			name:      "invalid renderer mode",
			mutate:    func(c *Config) { c.Renderer.Mode = "gui" },
			wantError: true,
		},
		{
			name:      "invalid log format",
			mutate:    func(c *Config) { c.Logging.Format = "xml" },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected error to wrap ErrInvalid, got %v", err)
			}
		})
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("..", "..", "configs", "pingplot.example.yaml"))
	if err != nil {
		t.Fatalf("Expected example config to load, got error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected example config to be valid, got error: %v", err)
	}
	if len(cfg.Endpoints) != 3 || cfg.Endpoints[2].Active {
		t.Errorf("Expected three endpoints with the last paused, got %+v", cfg.Endpoints)
	}
}
