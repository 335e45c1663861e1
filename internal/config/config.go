package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Endpoints    []EndpointConfig  `yaml:"endpoints"`
	PollInterval string            `yaml:"poll_interval"`
	MaxPoints    int               `yaml:"max_points"`
	Autostart    bool              `yaml:"autostart"`
	Probe        ProbeConfig       `yaml:"probe"`
	Persistence  PersistenceConfig `yaml:"persistence"`
	Server       ServerConfig      `yaml:"server"`
	Renderer     RendererConfig    `yaml:"renderer"`
	Logging      LoggingConfig     `yaml:"logging"`
}

// EndpointConfig represents one probed endpoint. In YAML it may be written
// as a bare string or as a mapping with host and active.
type EndpointConfig struct {
	Host   string `yaml:"host"`
	Active bool   `yaml:"active"`
}

// UnmarshalYAML accepts "host" and {host: ..., active: ...}. Active defaults to true.
func (e *EndpointConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Host = strings.TrimSpace(node.Value)
		e.Active = true
		return nil
	}

	var raw struct {
		Host   string `yaml:"host"`
		Active *bool  `yaml:"active"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	e.Host = strings.TrimSpace(raw.Host)
	e.Active = raw.Active == nil || *raw.Active
	return nil
}

// ProbeConfig represents the probe configuration
type ProbeConfig struct {
	Method  string `yaml:"method"`
	Timeout string `yaml:"timeout"`
}

// PersistenceConfig represents the persistence sinks configuration
type PersistenceConfig struct {
	CSVPath         string `yaml:"csv_path"`
	SQLitePath      string `yaml:"sqlite_path"`
	PersistFailures bool   `yaml:"persist_failures"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Addr             string `yaml:"addr"`
	ControlPerMinute int    `yaml:"control_per_minute"`
	MaxWSClients     int    `yaml:"max_ws_clients"`
}

// RendererConfig represents the terminal renderer configuration
type RendererConfig struct {
	Mode            string `yaml:"mode"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Endpoints: []EndpointConfig{
			{Host: "https://www.google.com", Active: true},
			{Host: "https://www.bbc.co.uk", Active: true},
			{Host: "https://www.yahoo.com", Active: true},
		},
		PollInterval: "60s",
		MaxPoints:    20,
		Autostart:    true,
		Probe: ProbeConfig{
			Method:  "http",
			Timeout: "10s",
		},
		Persistence: PersistenceConfig{
			CSVPath: "ping_data.csv",
		},
		Server: ServerConfig{
			Enabled:          true,
			Addr:             "127.0.0.1:8080",
			ControlPerMinute: 60,
			MaxWSClients:     100,
		},
		Renderer: RendererConfig{
			Mode:            "tui",
			RefreshInterval: "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides.
// A missing file is an error.
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

// loadWithDefaults loads configuration with defaults, optionally from a file
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := Default()

	// If a config file path is provided, load it over the defaults
	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	}

	// Environment variables take precedence over file values
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromYAMLFile decodes a YAML file into cfg. Keys absent from the file keep their current values.
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: failed to unmarshal YAML: %v", ErrInvalid, err)
	}

	return nil
}

func applyEnv(cfg *Config) error {
	if value := os.Getenv("PINGPLOT_ENDPOINTS"); value != "" {
		cfg.Endpoints = nil
		for _, host := range splitList(value) {
			cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{Host: host, Active: true})
		}
	}

	cfg.PollInterval = getEnv("PINGPLOT_POLL_INTERVAL", cfg.PollInterval)
	cfg.Probe.Method = getEnv("PINGPLOT_PROBE_METHOD", cfg.Probe.Method)
	cfg.Probe.Timeout = getEnv("PINGPLOT_PROBE_TIMEOUT", cfg.Probe.Timeout)
	cfg.Persistence.CSVPath = getEnv("PINGPLOT_CSV_PATH", cfg.Persistence.CSVPath)
	cfg.Persistence.SQLitePath = getEnv("PINGPLOT_SQLITE_PATH", cfg.Persistence.SQLitePath)
	cfg.Server.Addr = getEnv("PINGPLOT_SERVER_ADDR", cfg.Server.Addr)
	cfg.Renderer.Mode = getEnv("PINGPLOT_RENDERER", cfg.Renderer.Mode)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("PINGPLOT_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("PINGPLOT_LOG_FILE", cfg.Logging.File)

	var err error
	if cfg.MaxPoints, err = getEnvInt("PINGPLOT_MAX_POINTS", cfg.MaxPoints); err != nil {
		return err
	}
	if cfg.Server.ControlPerMinute, err = getEnvInt("PINGPLOT_CONTROL_PER_MINUTE", cfg.Server.ControlPerMinute); err != nil {
		return err
	}
	if cfg.Autostart, err = getEnvBool("PINGPLOT_AUTOSTART", cfg.Autostart); err != nil {
		return err
	}
	if cfg.Persistence.PersistFailures, err = getEnvBool("PINGPLOT_PERSIST_FAILURES", cfg.Persistence.PersistFailures); err != nil {
		return err
	}
	if cfg.Server.Enabled, err = getEnvBool("PINGPLOT_SERVER_ENABLED", cfg.Server.Enabled); err != nil {
		return err
	}

	// Override port if PORT env var is set
	if port := getEnv("PORT", ""); port != "" {
		host := "127.0.0.1"
		if h, _, ok := strings.Cut(cfg.Server.Addr, ":"); ok && h != "" {
			host = h
		}
		cfg.Server.Addr = host + ":" + port
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalid, key, value)
	}
	return parsed, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalid, key, value)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one endpoint is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Host == "" {
			return fmt.Errorf("%w: endpoint %d has an empty host", ErrInvalid, i)
		}
		if seen[ep.Host] {
			return fmt.Errorf("%w: endpoint %q is listed twice", ErrInvalid, ep.Host)
		}
		seen[ep.Host] = true
	}

	if _, err := positiveDuration("poll_interval", c.PollInterval); err != nil {
		return err
	}
	if c.MaxPoints <= 0 {
		return fmt.Errorf("%w: max_points must be positive, got %d", ErrInvalid, c.MaxPoints)
	}

	switch c.Probe.Method {
	case "http", "tcp", "icmp":
	default:
		return fmt.Errorf("%w: probe method must be 'http', 'tcp', or 'icmp'", ErrInvalid)
	}
	if _, err := positiveDuration("probe.timeout", c.Probe.Timeout); err != nil {
		return err
	}

	if c.Server.Enabled {
		if c.Server.Addr == "" {
			return fmt.Errorf("%w: server address cannot be empty", ErrInvalid)
		}
		if c.Server.ControlPerMinute <= 0 {
			return fmt.Errorf("%w: server.control_per_minute must be positive", ErrInvalid)
		}
	}

	switch c.Renderer.Mode {
	case "tui", "none":
	default:
		return fmt.Errorf("%w: renderer mode must be 'tui' or 'none'", ErrInvalid)
	}
	if _, err := positiveDuration("renderer.refresh_interval", c.Renderer.RefreshInterval); err != nil {
		return err
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging format must be 'json' or 'console'", ErrInvalid)
	}

	return nil
}

// PollIntervalDuration returns the parsed poll interval
func (c *Config) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// ProbeTimeoutDuration returns the parsed probe timeout
func (c *Config) ProbeTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Probe.Timeout)
	return d
}

// RefreshIntervalDuration returns the parsed renderer refresh interval
func (c *Config) RefreshIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Renderer.RefreshInterval)
	return d
}

func positiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a duration", ErrInvalid, field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, field, value)
	}
	return d, nil
}
