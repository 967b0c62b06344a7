package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/pkg/motion"
	"gopkg.in/yaml.v3"
)

// Transport backends.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	// Timezone is the IANA zone the motors' clocks run in. Commands fail
	// until it is set.
	Timezone   string           `yaml:"timezone"`
	Backend    string           `yaml:"backend" default:"go-ble"`
	Connection ConnectionConfig `yaml:"connection"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

// ConnectionConfig tunes the per-motor connection manager.
type ConnectionConfig struct {
	ConnectAttempts   int           `yaml:"connect_attempts" default:"5"`
	CommandRetries    int           `yaml:"command_retries" default:"3"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" default:"15s"`
	SetKeyDelay       time.Duration `yaml:"set_key_delay" default:"100ms"`
	DoubleClick       time.Duration `yaml:"double_click" default:"500ms"`
}

// MQTTConfig configures the bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id" default:"blindctl"`
	TopicPrefix     string `yaml:"topic_prefix" default:"blindctl"`
	DiscoveryPrefix string `yaml:"discovery_prefix" default:"homeassistant"`
}

// DeviceConfig describes one motor.
type DeviceConfig struct {
	Address string           `yaml:"address"`
	Name    string           `yaml:"name"`
	Type    motion.BlindType `yaml:"type" default:"position"`
}

// DisplayName returns the configured name, or the address when unnamed.
func (d DeviceConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns ~/.config/blindctl/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "blindctl", "config.yaml")
}

// Load reads a YAML config file over the defaults. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	for i := range cfg.Devices {
		defaults.SetDefaults(&cfg.Devices[i])
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendGoBLE, BackendTinyGo, c.Backend))
	}

	if c.Connection.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("connection.connect_attempts must be > 0"))
	}
	if c.Connection.CommandRetries < 0 {
		errs = append(errs, fmt.Errorf("connection.command_retries must be >= 0"))
	}
	if c.Connection.DisconnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connection.disconnect_timeout must be > 0"))
	}
	if c.Connection.SetKeyDelay < 0 || c.Connection.DoubleClick < 0 {
		errs = append(errs, fmt.Errorf("connection delays must not be negative"))
	}

	if c.MQTT.Broker != "" && (c.MQTT.TopicPrefix == "" || c.MQTT.DiscoveryPrefix == "") {
		errs = append(errs, fmt.Errorf("mqtt.topic_prefix and mqtt.discovery_prefix must not be empty"))
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Address == "" {
			errs = append(errs, fmt.Errorf("devices[%d].address must not be empty", i))
			continue
		}
		key := strings.ToUpper(d.Address)
		if seen[key] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate address %s", i, d.Address))
		}
		seen[key] = true
		if _, err := motion.CapabilitiesFor(d.Type); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Device finds a configured motor by name or address.
func (c *Config) Device(nameOrAddress string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == nameOrAddress || strings.EqualFold(d.Address, nameOrAddress) {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Level returns the parsed log level, info if it is invalid.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
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
