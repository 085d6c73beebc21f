package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from
// ~/.tokencost/config.yaml (or an explicit path). Missing file means
// defaults.
type Config struct {
	DatabasePath   string                 `yaml:"database_path"`
	DefaultProject string                 `yaml:"default_project"`
	Proxy          ProxyConfig            `yaml:"proxy"`
	Monitoring     MonitoringConfig       `yaml:"monitoring"`
	CustomModels   map[string]CustomModel `yaml:"custom_models"`
}

// ProxyConfig configures the intercept proxy.
type ProxyConfig struct {
	Port int `yaml:"port"`
	// Upstream is the base URL requests are forwarded to. Empty means
	// auto-detect the provider from request headers.
	Upstream       string `yaml:"upstream"`
	MeterQueueSize int    `yaml:"meter_queue_size"`
}

// MonitoringConfig configures the JSONL meter-event log.
type MonitoringConfig struct {
	EventLogPath string `yaml:"event_log_path"`
	LogToStdout  bool   `yaml:"log_to_stdout"`
}

// CustomModel is an operator-supplied pricing entry. Rates are USD per
// million tokens. Custom entries override built-ins with the same id.
type CustomModel struct {
	Provider      string  `yaml:"provider"`
	InputPerMTok  float64 `yaml:"input"`
	OutputPerMTok float64 `yaml:"output"`
}

// DefaultDir returns the tokencost state directory (~/.tokencost).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tokencost"
	}
	return filepath.Join(home, ".tokencost")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		DatabasePath:   filepath.Join(DefaultDir(), "tokencost.db"),
		DefaultProject: "default",
		Proxy: ProxyConfig{
			Port:           DefaultProxyPort,
			MeterQueueSize: DefaultMeterQueueSize,
		},
		Monitoring: MonitoringConfig{
			EventLogPath: filepath.Join(DefaultDir(), "meter.jsonl"),
		},
	}
}

// Load reads configuration from path, or the default location when path is
// empty. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML config data over the defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port must be in 1..65535, got %d", c.Proxy.Port)
	}
	if c.Proxy.MeterQueueSize <= 0 {
		return fmt.Errorf("proxy.meter_queue_size must be > 0, got %d", c.Proxy.MeterQueueSize)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}
	for id, m := range c.CustomModels {
		if m.InputPerMTok < 0 || m.OutputPerMTok < 0 {
			return fmt.Errorf("custom_models.%s: rates must be >= 0", id)
		}
	}
	return nil
}

// Save writes the config as YAML to path (default location when empty).
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
