// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Comma-separated list keys are split by the accessor methods so the same
//   value works from YAML and from a single environment variable.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory event queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize caps the number of remembered event IDs; 0 disables the cap.
	DedupeSize int `koanf:"dedupe_size"`

	// StateKey is the argument carrying the state label of sample events.
	StateKey string `koanf:"state_key"`

	// DefaultStates is the comma list queried when /occupancy names none.
	DefaultStates string `koanf:"default_states"`

	// TimestampOffsets maps event kind names to a latency correction in seconds.
	TimestampOffsets map[string]float64 `koanf:"timestamp_offsets"`

	// KafkaBrokers is a comma list of seed brokers; empty disables the consumer.
	KafkaBrokers string `koanf:"kafka_brokers"`

	// KafkaTopic and KafkaGroupID select the consumer-group subscription.
	KafkaTopic   string `koanf:"kafka_topic"`
	KafkaGroupID string `koanf:"kafka_group_id"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and service.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		QueueSize:        10_000,
		DedupeSize:       50_000,
		StateKey:         "attention_level",
		DefaultStates:    "engaged",
		TimestampOffsets: map[string]float64{},
		KafkaTopic:       "dwell.events",
		KafkaGroupID:     "dwell",
		ShutdownTimeout:  10 * time.Second,
	}
}

// States returns the default query states.
func (c *Config) States() []string {
	return splitList(c.DefaultStates)
}

// Brokers returns the configured Kafka seed brokers.
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// KafkaEnabled reports whether a Kafka source is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.Brokers()) > 0
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case c.QueueSize <= 0:
		return invalid("queue_size must be positive")
	case c.DedupeSize < 0:
		return invalid("dedupe_size must not be negative")
	case strings.TrimSpace(c.StateKey) == "":
		return invalid("state_key must not be empty")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format must be text or json")
	}
	if c.KafkaEnabled() {
		if strings.TrimSpace(c.KafkaTopic) == "" {
			return invalid("kafka_topic is required when kafka_brokers is set")
		}
		if strings.TrimSpace(c.KafkaGroupID) == "" {
			return invalid("kafka_group_id is required when kafka_brokers is set")
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
