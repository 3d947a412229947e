// Package config loads the asyncinit command configuration from defaults, an optional YAML file and ASYNCINIT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by New, e.g. ASYNCINIT_LOGGING_LEVEL.
const EnvPrefix = "ASYNCINIT"

// Config represents the complete asyncinit configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Run     RunConfig     `mapstructure:"run"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Resolve ResolveConfig `mapstructure:"resolve"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default: info)
	Level string `mapstructure:"level"`
	// Format is text or json (default: text)
	Format string `mapstructure:"format"`
}

// RunConfig controls the run command
type RunConfig struct {
	// StopGrace is how long to wait for cancelled units to unwind after an interrupt (default: 5s)
	StopGrace time.Duration `mapstructure:"stop_grace"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	Addr string `mapstructure:"addr"`
}

// ResolveConfig controls the resolve command
type ResolveConfig struct {
	// Dirs are scanned for definitions, in order
	Dirs []string `mapstructure:"dirs"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Run:     RunConfig{StopGrace: 5 * time.Second},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("run.stop_grace", defaults.Run.StopGrace)
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// New returns a viper instance with defaults and environment bindings in place. If configFile is not empty, it is
// read as well.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configFile, err)
		}
	}

	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for invalid values, reporting all of them at once
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: invalid value %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: invalid value %q", c.Logging.Format))
	}
	if c.Run.StopGrace < 0 {
		errs = append(errs, fmt.Errorf("run.stop_grace: must not be negative, got %s", c.Run.StopGrace))
	}

	return errors.Join(errs...)
}
