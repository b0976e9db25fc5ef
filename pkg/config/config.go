package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// LogLevel is empty unless set; the CLI stays silent without it.
	LogLevel string        `yaml:"log_level"`
	Device   DeviceConfig  `yaml:"device"`
	Logbook  LogbookConfig `yaml:"logbook"`
	Relay    RelayConfig   `yaml:"relay"`
	Monitor  MonitorConfig `yaml:"monitor"`
}

// DeviceConfig controls how the PM5 is found and connected.
type DeviceConfig struct {
	// Address dials a known monitor; empty scans for the discovery service.
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	QueueSize      int           `yaml:"queue_size" default:"128"`
}

type LogbookConfig struct {
	Path string `yaml:"path" default:"pm5link.db"`
}

type RelayConfig struct {
	Listen string `yaml:"listen" default:"127.0.0.1:8080"`
	// ClientBuffer is the number of frames queued per WebSocket client before frames are dropped.
	ClientBuffer int           `yaml:"client_buffer" default:"64"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
}

type MonitorConfig struct {
	// RefreshRate caps live-status redraws per second.
	RefreshRate float64 `yaml:"refresh_rate" default:"4"`
}

// Environment variables that override file values.
const (
	EnvAddress  = "PM5LINK_ADDRESS"
	EnvLogLevel = "PM5LINK_LOG_LEVEL"
	EnvLogbook  = "PM5LINK_LOGBOOK"
)

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file yields the defaults.
// Environment overrides are applied last and the result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := cfg.decode(data); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnvOverrides replaces config values with any PM5LINK_* variables that are set.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAddress); v != "" {
		cfg.Device.Address = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogbook); v != "" {
		cfg.Logbook.Path = v
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}
	if c.Device.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("device.connect_timeout must be positive, got %s", c.Device.ConnectTimeout))
	}
	if c.Device.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("device.queue_size must be positive, got %d", c.Device.QueueSize))
	}
	if strings.TrimSpace(c.Logbook.Path) == "" {
		errs = append(errs, errors.New("logbook.path is required"))
	}
	if c.Relay.ClientBuffer <= 0 {
		errs = append(errs, fmt.Errorf("relay.client_buffer must be positive, got %d", c.Relay.ClientBuffer))
	}
	if c.Monitor.RefreshRate <= 0 {
		errs = append(errs, fmt.Errorf("monitor.refresh_rate must be positive, got %g", c.Monitor.RefreshRate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the parsed log level, falling back to Info when unset or invalid.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
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
