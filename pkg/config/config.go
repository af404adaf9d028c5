package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Supported platform backends.
const (
	BackendBlueZ = "bluez"
	BackendGoBLE = "goble"
)

// Supported output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level" default:"info"`
	Backend         string        `yaml:"backend" default:"bluez"`
	Adapter         string        `yaml:"adapter" default:"hci0"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" default:"30s"`
	ResolveTimeout  time.Duration `yaml:"resolve_timeout" default:"10s"`
	ReconnectMax    time.Duration `yaml:"reconnect_max" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
	NotifyRetries   int           `yaml:"notify_retries" default:"3"`
	EMGMode         string        `yaml:"emg_mode" default:"none"`
	IMUMode         string        `yaml:"imu_mode" default:"data"`
	ClassifierMode  string        `yaml:"classifier_mode" default:"enabled"`
	OutputFormat    string        `yaml:"output_format" default:"text"` // text, json
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every field that has a closed set of values.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Backend {
	case BackendBlueZ, BackendGoBLE:
	default:
		errs = append(errs, fmt.Errorf("backend: unsupported value %q (use %s or %s)", c.Backend, BackendBlueZ, BackendGoBLE))
	}
	switch c.OutputFormat {
	case OutputText, OutputJSON:
	default:
		errs = append(errs, fmt.Errorf("output_format: unsupported value %q (use %s or %s)", c.OutputFormat, OutputText, OutputJSON))
	}
	if strings.TrimSpace(c.Adapter) == "" {
		errs = append(errs, errors.New("adapter: must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":     c.ScanTimeout,
		"resolve_timeout":  c.ResolveTimeout,
		"reconnect_max":    c.ReconnectMax,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}
	if c.NotifyRetries < 0 {
		errs = append(errs, errors.New("notify_retries: must not be negative"))
	}
	if _, err := c.Modes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Modes converts the mode strings into the command sent at initialization.
func (c *Config) Modes() (device.Modes, error) {
	emg, err := protocol.ParseEMGMode(c.EMGMode)
	if err != nil {
		return device.Modes{}, fmt.Errorf("emg_mode: %w", err)
	}
	imu, err := protocol.ParseIMUMode(c.IMUMode)
	if err != nil {
		return device.Modes{}, fmt.Errorf("imu_mode: %w", err)
	}
	cls, err := protocol.ParseClassifierMode(c.ClassifierMode)
	if err != nil {
		return device.Modes{}, fmt.Errorf("classifier_mode: %w", err)
	}
	return device.Modes{EMG: emg, IMU: imu, Classifier: cls}, nil
}

// Options returns the driver options carried by this configuration.
func (c *Config) Options() device.Options {
	return device.Options{
		Adapter:         c.Adapter,
		ScanTimeout:     c.ScanTimeout,
		ResolveTimeout:  c.ResolveTimeout,
		ReconnectMax:    c.ReconnectMax,
		ShutdownTimeout: c.ShutdownTimeout,
		NotifyRetries:   c.NotifyRetries,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
