// Package config loads the runtime configuration: logging, queue sizing,
// the consumer poll loop, and the optional MQTT change bridge. Domain
// constants (history caps, the RSSI sentinel) are not configurable.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can spell values as "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler, accepting Go duration strings
// or plain integers (nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds application configuration.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	Queue struct {
		// Capacity bounds the provider event queue. Producers block when
		// it fills.
		Capacity int `yaml:"capacity" default:"256"`
	} `yaml:"queue"`

	Poll struct {
		// Interval is the foreground drain cadence.
		Interval Duration `yaml:"interval"`
	} `yaml:"poll"`

	Sim struct {
		// AdvertiseInterval is how often the simulated provider emits
		// discovery events while discovery is active.
		AdvertiseInterval Duration `yaml:"advertise_interval"`
	} `yaml:"sim"`

	MQTT struct {
		// Broker is the broker URL, e.g. "tcp://localhost:1883". The
		// bridge is disabled when empty.
		Broker      string `yaml:"broker"`
		TopicPrefix string `yaml:"topic_prefix" default:"bletrack/changes"`
		ClientID    string `yaml:"client_id" default:"bletrack"`
		QoS         byte   `yaml:"qos" default:"0"`
	} `yaml:"mqtt"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Poll.Interval = Duration(250 * time.Millisecond)
	cfg.Sim.AdvertiseInterval = Duration(500 * time.Millisecond)
	return cfg
}

// Load reads a YAML configuration file, applying defaults for anything the
// file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue capacity must be > 0, got %d", c.Queue.Capacity)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be > 0, got %s", c.Poll.Interval.Std())
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0..2, got %d", c.MQTT.QoS)
	}
	return nil
}

// NewLogger creates a logger configured from the LogLevel field.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
