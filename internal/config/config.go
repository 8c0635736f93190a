// Package config loads CLI settings from defaults, the config file, the
// environment and flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHRONICLE_REGION.
const EnvPrefix = "CHRONICLE"

// Config is the resolved CLI configuration.
type Config struct {
	CustomerID string `mapstructure:"customer_id" yaml:"customer_id"`
	ProjectID  string `mapstructure:"project_id" yaml:"project_id"`
	Region     string `mapstructure:"region" yaml:"region"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Token      string `mapstructure:"token" yaml:"-"`

	// TimeWindow is the default look-back in hours.
	TimeWindow int    `mapstructure:"time_window" yaml:"time_window"`
	StartTime  string `mapstructure:"start_time" yaml:"start_time"`
	EndTime    string `mapstructure:"end_time" yaml:"end_time"`

	Output    string          `mapstructure:"output" yaml:"output"`
	Timeout   time.Duration   `mapstructure:"timeout" yaml:"timeout"`
	Poll      PollConfig      `mapstructure:"poll" yaml:"poll"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
}

// PollConfig bounds long-running calls.
type PollConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxInterval    time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// RateLimitConfig throttles outgoing requests. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"rps" yaml:"rps"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SettableKeys are the keys `config set` may persist.
var SettableKeys = []string{
	"customer_id",
	"project_id",
	"region",
	"base_url",
	"time_window",
	"output",
}

// SetDefaults registers a default for every key. Keys without a default
// are not picked up from the environment by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("customer_id", "")
	v.SetDefault("project_id", "")
	v.SetDefault("region", "us")
	v.SetDefault("base_url", "")
	v.SetDefault("token", "")
	v.SetDefault("time_window", 24)
	v.SetDefault("start_time", "")
	v.SetDefault("end_time", "")
	v.SetDefault("output", "json")
	v.SetDefault("timeout", 60*time.Second)

	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("poll.timeout", 0)
	v.SetDefault("poll.interval", time.Second)
	v.SetDefault("poll.max_interval", 30*time.Second)
	v.SetDefault("poll.request_timeout", 2*time.Minute)

	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 1)

	v.SetDefault("logger.level", "warn")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "chronicle")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", false)
}

// DefaultPath is $HOME/.chronicle/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".chronicle", "config.yaml"), nil
}

// Prepare wires defaults, the config file and the environment into v. A
// missing config file is not an error.
func Prepare(v *viper.Viper, path string) error {
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// FromViper unmarshals and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns the configuration with only defaults applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region must not be empty")
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("time_window must be a positive number of hours")
	}
	if c.Output != "json" && c.Output != "text" {
		return fmt.Errorf("output must be json or text, got %q", c.Output)
	}
	if _, err := parseTime("start_time", c.StartTime); err != nil {
		return err
	}
	if _, err := parseTime("end_time", c.EndTime); err != nil {
		return err
	}
	if c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll.max_attempts must not be negative")
	}
	if c.Poll.MaxAttempts == 0 && c.Poll.Timeout <= 0 {
		return fmt.Errorf("poll.max_attempts or poll.timeout must bound polling")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}
	return nil
}

// TimeRange resolves the query window. EndTime defaults to now and
// StartTime to TimeWindow hours before the end.
func (c *Config) TimeRange(now time.Time) (start, end time.Time, err error) {
	end, err = parseTime("end_time", c.EndTime)
	if err != nil {
		return start, end, err
	}
	if end.IsZero() {
		end = now.UTC()
	}
	start, err = parseTime("start_time", c.StartTime)
	if err != nil {
		return start, end, err
	}
	if start.IsZero() {
		start = end.Add(-time.Duration(c.TimeWindow) * time.Hour)
	}
	if !end.After(start) {
		return start, end, fmt.Errorf("end time must be after start time")
	}
	return start, end, nil
}

func parseTime(key, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339, e.g. 2024-01-02T15:04:05Z: %w", key, err)
	}
	return t.UTC(), nil
}

// Set persists values to the config file at path, keeping what is
// already there.
func Set(path string, values map[string]any) error {
	for key := range values {
		if !slices.Contains(SettableKeys, key) {
			return fmt.Errorf("unknown config key %q", key)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	for key, value := range values {
		v.Set(key, value)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Stored returns the settings saved in the config file at path.
func Stored(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	settings := v.AllSettings()
	delete(settings, "token")
	return settings, nil
}

// Clear removes the config file at path.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing config file: %w", err)
	}
	return nil
}
