package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Port range accepted for the UDP listener
const (
	MinPort = 1024
	MaxPort = 65535
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Queue      QueueConfig      `yaml:"queue"`
	Workers    WorkersConfig    `yaml:"workers"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Admin      AdminConfig      `yaml:"admin"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains UDP listener configuration
type ServerConfig struct {
	UDPPort          int     `yaml:"udp_port"`
	BindAddress      string  `yaml:"bind_address"`
	BufferSize       int     `yaml:"buffer_size"`        // bytes per datagram
	ReceiveTimeoutMs int     `yaml:"receive_timeout_ms"` // read deadline between stop checks
	MaxReceiveErrors int     `yaml:"max_receive_errors"` // consecutive failures before giving up
	RateLimit        float64 `yaml:"rate_limit"`         // datagrams per second, 0 disables
	RateBurst        int     `yaml:"rate_burst"`
}

// QueueConfig contains hand-off queue configuration
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"` // drop_newest or drop_oldest
}

// WorkersConfig contains worker pool configuration
type WorkersConfig struct {
	Count            int `yaml:"count"`
	DequeueTimeoutMs int `yaml:"dequeue_timeout_ms"`
	LatencyWarningMs int `yaml:"latency_warning_ms"`
	JoinTimeoutMs    int `yaml:"join_timeout_ms"`
}

// DictionaryConfig contains dictionary source configuration
type DictionaryConfig struct {
	Path       string `yaml:"path"`
	Watch      bool   `yaml:"watch"`
	DebounceMs int    `yaml:"debounce_ms"`
}

// AdminConfig contains admin HTTP API configuration
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:          9999,
			BindAddress:      "0.0.0.0",
			BufferSize:       1024,
			ReceiveTimeoutMs: 500,
			MaxReceiveErrors: 10,
			RateLimit:        0,
			RateBurst:        100,
		},
		Queue: QueueConfig{
			Capacity: 1024,
			Overflow: "drop_newest",
		},
		Workers: WorkersConfig{
			Count:            5,
			DequeueTimeoutMs: 500,
			LatencyWarningMs: 1000,
			JoinTimeoutMs:    2000,
		},
		Dictionary: DictionaryConfig{
			DebounceMs: 250,
		},
		Admin: AdminConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of the defaults. The dictionary path
// may be supplied later on the command line, so Load does not require it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.validateSections(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the complete configuration
func (c *Config) Validate() error {
	if err := c.validateSections(); err != nil {
		return err
	}

	if err := c.Dictionary.Validate(); err != nil {
		return fmt.Errorf("%w: dictionary config: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (c *Config) validateSections() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server config: %w", ErrInvalidConfig, err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("%w: queue config: %w", ErrInvalidConfig, err)
	}

	if err := c.Workers.Validate(); err != nil {
		return fmt.Errorf("%w: workers config: %w", ErrInvalidConfig, err)
	}

	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("%w: admin config: %w", ErrInvalidConfig, err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging config: %w", ErrInvalidConfig, err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if err := ValidatePort(s.UDPPort); err != nil {
		return err
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 64 || s.BufferSize > 65507 {
		return fmt.Errorf("buffer_size must be between 64 and 65507 bytes, got %d", s.BufferSize)
	}

	if s.ReceiveTimeoutMs < 1 {
		return fmt.Errorf("receive_timeout_ms must be positive, got %d", s.ReceiveTimeoutMs)
	}

	if s.MaxReceiveErrors < 1 {
		return fmt.Errorf("max_receive_errors must be at least 1, got %d", s.MaxReceiveErrors)
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative, got %f", s.RateLimit)
	}

	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set, got %d", s.RateBurst)
	}

	return nil
}

// ValidatePort checks that port is in the range the listener accepts
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("udp_port must be between %d and %d, got %d", MinPort, MaxPort, port)
	}
	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", q.Capacity)
	}

	validOverflow := map[string]bool{"drop_newest": true, "drop_oldest": true}
	if !validOverflow[q.Overflow] {
		return fmt.Errorf("overflow must be 'drop_newest' or 'drop_oldest', got '%s'", q.Overflow)
	}

	return nil
}

// Validate validates worker pool configuration
func (w *WorkersConfig) Validate() error {
	if w.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", w.Count)
	}

	if w.DequeueTimeoutMs < 1 {
		return fmt.Errorf("dequeue_timeout_ms must be positive, got %d", w.DequeueTimeoutMs)
	}

	if w.LatencyWarningMs < 1 {
		return fmt.Errorf("latency_warning_ms must be positive, got %d", w.LatencyWarningMs)
	}

	if w.JoinTimeoutMs < 1 {
		return fmt.Errorf("join_timeout_ms must be positive, got %d", w.JoinTimeoutMs)
	}

	return nil
}

// Validate validates dictionary configuration
func (d *DictionaryConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if d.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms cannot be negative, got %d", d.DebounceMs)
	}

	return nil
}

// Validate validates admin HTTP configuration
func (a *AdminConfig) Validate() error {
	if a.Enabled {
		if a.Port < 1 || a.Port > 65535 {
			return fmt.Errorf("admin port must be between 1 and 65535, got %d", a.Port)
		}

		if a.Address == "" {
			return fmt.Errorf("admin address cannot be empty when admin is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetReceiveTimeout returns the receive deadline as a time.Duration
func (s *ServerConfig) GetReceiveTimeout() time.Duration {
	return time.Duration(s.ReceiveTimeoutMs) * time.Millisecond
}

// GetDequeueTimeout returns the worker dequeue timeout as a time.Duration
func (w *WorkersConfig) GetDequeueTimeout() time.Duration {
	return time.Duration(w.DequeueTimeoutMs) * time.Millisecond
}

// GetLatencyWarning returns the queue latency warning threshold as a time.Duration
func (w *WorkersConfig) GetLatencyWarning() time.Duration {
	return time.Duration(w.LatencyWarningMs) * time.Millisecond
}

// GetJoinTimeout returns the worker join timeout as a time.Duration
func (w *WorkersConfig) GetJoinTimeout() time.Duration {
	return time.Duration(w.JoinTimeoutMs) * time.Millisecond
}

// GetDebounce returns the watcher debounce as a time.Duration
func (d *DictionaryConfig) GetDebounce() time.Duration {
	return time.Duration(d.DebounceMs) * time.Millisecond
}

// Addr returns the admin listen address in host:port form
func (a *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Address, a.Port)
}
