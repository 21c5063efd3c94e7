package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type WireFormat string

const (
	WireFormatJSON    WireFormat = "json"
	WireFormatMsgpack WireFormat = "msgpack"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultListenAddr      = "127.0.0.1:8087"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = LogFormatText
	DefaultWireFormat      = WireFormatJSON
	DefaultMaxMessageBytes = int64(64 * 1024) // enough for SDP offers with many candidates
	DefaultMessagesPerSec  = 20.0
	DefaultMessageBurst    = 40
	DefaultSendQueueSize   = 64
	DefaultPingInterval    = 20 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the relay configuration, usually loaded from a YAML file.
type Config struct {
	ListenAddr string     `yaml:"listen_addr"`
	LogLevel   string     `yaml:"log_level"`
	LogFormat  LogFormat  `yaml:"log_format"`
	WireFormat WireFormat `yaml:"wire_format"`

	MaxMessageBytes int64 `yaml:"max_message_bytes"`
	// MessagesPerSecond <= 0 disables per-connection rate limiting.
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	SendQueueSize     int     `yaml:"send_queue_size"`

	PingInterval    time.Duration `yaml:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins are host patterns accepted for cross-origin upgrades.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	cfg := &Config{MessagesPerSecond: DefaultMessagesPerSec}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and expands ${VAR} environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Config{MessagesPerSecond: DefaultMessagesPerSec}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.WireFormat == "" {
		c.WireFormat = DefaultWireFormat
	}
	c.LogFormat = LogFormat(strings.ToLower(string(c.LogFormat)))
	c.WireFormat = WireFormat(strings.ToLower(string(c.WireFormat)))
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MessageBurst == 0 {
		c.MessageBurst = DefaultMessageBurst
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks the config for values the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.WireFormat {
	case WireFormatJSON, WireFormatMsgpack:
	default:
		errs = append(errs, fmt.Errorf("wire_format %q must be %q or %q", c.WireFormat, WireFormatJSON, WireFormatMsgpack))
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be %q or %q", c.LogFormat, LogFormatText, LogFormatJSON))
	}
	if c.MaxMessageBytes < 0 {
		errs = append(errs, errors.New("max_message_bytes must not be negative"))
	}
	if c.MessageBurst < 0 {
		errs = append(errs, errors.New("message_burst must not be negative"))
	}
	if c.SendQueueSize < 0 {
		errs = append(errs, errors.New("send_queue_size must not be negative"))
	}
	if c.PingInterval < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}
