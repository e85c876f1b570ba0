package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete certflow configuration
type Config struct {
	CertDir   string          `yaml:"cert_dir" json:"cert_dir"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Defaults  DefaultsConfig  `yaml:"defaults" json:"defaults"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
}

// DatabaseConfig defines the policy store database location
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"` // sqlite database file
}

// DefaultsConfig defines class-indexed validity periods and renewal defaults
type DefaultsConfig struct {
	RootCADays            int  `yaml:"root_ca_days" json:"root_ca_days"`
	IntermediateCADays    int  `yaml:"intermediate_ca_days" json:"intermediate_ca_days"`
	StandardDays          int  `yaml:"standard_days" json:"standard_days"`
	RenewDaysBeforeExpiry int  `yaml:"renew_days_before_expiry" json:"renew_days_before_expiry"`
	BackupEnabled         bool `yaml:"backup_enabled" json:"backup_enabled"`
	CASignStandard        bool `yaml:"ca_sign_standard" json:"ca_sign_standard"` // sign standard certs with a CA by default
}

// SchedulerConfig defines the periodic renewal check
type SchedulerConfig struct {
	Interval     Duration `yaml:"interval" json:"interval"`
	InitialDelay Duration `yaml:"initial_delay" json:"initial_delay"`
}

// NotifyConfig defines the operator notification channel
type NotifyConfig struct {
	PassphraseTimeout Duration `yaml:"passphrase_timeout" json:"passphrase_timeout"`
	SSEHeartbeat      Duration `yaml:"sse_heartbeat" json:"sse_heartbeat"`
}

// Duration wraps time.Duration so config files can use "12h" style values
type Duration time.Duration

// Std returns the wrapped standard library duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML parses a duration string such as "30s" or "12h"
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON parses either a duration string or a nanosecond count
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, perr := time.ParseDuration(asString)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var asInt int64
	if err := json.Unmarshal(data, &asInt); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	*d = Duration(asInt)
	return nil
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`           // debug, info, warn, error
	Format    string `yaml:"format" json:"format"`         // json, text
	Output    string `yaml:"output" json:"output"`         // stdout, stderr, file path
	AuditFile string `yaml:"audit_file" json:"audit_file"` // lifecycle audit log file path
}

// HTTPConfig defines the HTTP listen address
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Loader provides configuration loading functionality
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses configuration from file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine format by extension
	ext := filepath.Ext(path)

	var config Config
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	l.setDefaults(&config)

	return &config, nil
}

// Validate checks configuration validity
func (l *Loader) Validate(config *Config) error {
	if config.CertDir == "" {
		return fmt.Errorf("cert_dir is required")
	}
	if _, err := os.Stat(config.CertDir); err != nil {
		return fmt.Errorf("cert_dir not found: %s", config.CertDir)
	}

	// Validity periods must not be negative
	if config.Defaults.RootCADays < 0 || config.Defaults.IntermediateCADays < 0 || config.Defaults.StandardDays < 0 {
		return fmt.Errorf("validity periods must not be negative")
	}
	if config.Defaults.RenewDaysBeforeExpiry < 0 {
		return fmt.Errorf("renew_days_before_expiry must not be negative")
	}

	// Validate logging level
	switch config.Logging.Level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("invalid logging level: %s", config.Logging.Level)
	}

	// Validate logging format
	switch config.Logging.Format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("invalid logging format: %s", config.Logging.Format)
	}

	return nil
}

// setDefaults sets default values for optional fields
func (l *Loader) setDefaults(config *Config) {
	// Database defaults
	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.CertDir, "certflow.db")
	}

	// Validity defaults: 10-year root, 5-year intermediate, 1-year leaf
	if config.Defaults.RootCADays == 0 {
		config.Defaults.RootCADays = 3650
	}
	if config.Defaults.IntermediateCADays == 0 {
		config.Defaults.IntermediateCADays = 1825
	}
	if config.Defaults.StandardDays == 0 {
		config.Defaults.StandardDays = 365
	}
	if config.Defaults.RenewDaysBeforeExpiry == 0 {
		config.Defaults.RenewDaysBeforeExpiry = 30
	}

	// Scheduler defaults
	if config.Scheduler.Interval == 0 {
		config.Scheduler.Interval = Duration(12 * time.Hour)
	}
	if config.Scheduler.InitialDelay == 0 {
		config.Scheduler.InitialDelay = Duration(30 * time.Second)
	}

	// Notify defaults
	if config.Notify.PassphraseTimeout == 0 {
		config.Notify.PassphraseTimeout = Duration(2 * time.Minute)
	}
	if config.Notify.SSEHeartbeat == 0 {
		config.Notify.SSEHeartbeat = Duration(30 * time.Second)
	}

	// Logging defaults
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}

	// HTTP defaults
	if config.HTTP.Addr == "" {
		config.HTTP.Addr = ":8080"
	}
}
