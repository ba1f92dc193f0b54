package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical controller defaults file.
const DefaultConfigPath = "config/reflex.defaults.json"

// Built-in defaults, used for any field a config file leaves out.
const (
	DefaultSafeDistance   = 0.6
	DefaultCruiseLinear   = 0.2
	DefaultTurnAngular    = 1.0
	DefaultTickPeriod     = 100 * time.Millisecond
	DefaultPublishTimeout = 80 * time.Millisecond
	DefaultScanTopic      = "/scan"
	DefaultCommandTopic   = "/turtle1/cmd_vel"
	DefaultRecordBuffer   = 256
)

// ControllerConfig holds the controller's tunables. Unset fields fall back
// to the built-in defaults through the Get* accessors, so partial configs
// are safe.
type ControllerConfig struct {
	SafeDistance *float64 `json:"safe_distance,omitempty"` // metres
	CruiseLinear *float64 `json:"cruise_linear,omitempty"` // m/s
	TurnAngular  *float64 `json:"turn_angular,omitempty"`  // rad/s, magnitude

	TickPeriod     *string `json:"tick_period,omitempty"`     // duration string like "100ms"
	PublishTimeout *string `json:"publish_timeout,omitempty"` // duration string like "80ms"

	ScanTopic    *string `json:"scan_topic,omitempty"`
	CommandTopic *string `json:"command_topic,omitempty"`

	// RecordBuffer bounds the decision-log queue.
	RecordBuffer *int `json:"record_buffer,omitempty"`
}

// EmptyControllerConfig returns a config with every field unset.
func EmptyControllerConfig() *ControllerConfig {
	return &ControllerConfig{}
}

// LoadControllerConfig loads a ControllerConfig from a JSON file. The file
// must have a .json extension and be under 1 MB.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyControllerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *ControllerConfig) Validate() error {
	if c.SafeDistance != nil && *c.SafeDistance <= 0 {
		return fmt.Errorf("safe_distance must be positive, got %f", *c.SafeDistance)
	}
	if c.CruiseLinear != nil && *c.CruiseLinear < 0 {
		return fmt.Errorf("cruise_linear must be non-negative, got %f", *c.CruiseLinear)
	}
	if c.TurnAngular != nil && *c.TurnAngular < 0 {
		return fmt.Errorf("turn_angular is a magnitude and must be non-negative, got %f", *c.TurnAngular)
	}

	if c.TickPeriod != nil && *c.TickPeriod != "" {
		d, err := time.ParseDuration(*c.TickPeriod)
		if err != nil {
			return fmt.Errorf("invalid tick_period '%s': %w", *c.TickPeriod, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_period must be positive, got %s", d)
		}
	}
	if c.PublishTimeout != nil && *c.PublishTimeout != "" {
		d, err := time.ParseDuration(*c.PublishTimeout)
		if err != nil {
			return fmt.Errorf("invalid publish_timeout '%s': %w", *c.PublishTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("publish_timeout must be positive, got %s", d)
		}
	}
	if c.GetPublishTimeout() > c.GetTickPeriod() {
		return fmt.Errorf("publish_timeout %s exceeds tick_period %s", c.GetPublishTimeout(), c.GetTickPeriod())
	}

	if c.ScanTopic != nil && *c.ScanTopic == "" {
		return fmt.Errorf("scan_topic must not be empty")
	}
	if c.CommandTopic != nil && *c.CommandTopic == "" {
		return fmt.Errorf("command_topic must not be empty")
	}
	if c.RecordBuffer != nil && *c.RecordBuffer < 1 {
		return fmt.Errorf("record_buffer must be at least 1, got %d", *c.RecordBuffer)
	}
	return nil
}

// GetSafeDistance returns the safe_distance value or the default.
func (c *ControllerConfig) GetSafeDistance() float64 {
	if c.SafeDistance == nil {
		return DefaultSafeDistance
	}
	return *c.SafeDistance
}

// GetCruiseLinear returns the cruise_linear value or the default.
func (c *ControllerConfig) GetCruiseLinear() float64 {
	if c.CruiseLinear == nil {
		return DefaultCruiseLinear
	}
	return *c.CruiseLinear
}

// GetTurnAngular returns the turn_angular value or the default.
func (c *ControllerConfig) GetTurnAngular() float64 {
	if c.TurnAngular == nil {
		return DefaultTurnAngular
	}
	return *c.TurnAngular
}

// GetTickPeriod parses and returns tick_period.
func (c *ControllerConfig) GetTickPeriod() time.Duration {
	return parseDurationOr(c.TickPeriod, DefaultTickPeriod)
}

// GetPublishTimeout parses and returns publish_timeout.
func (c *ControllerConfig) GetPublishTimeout() time.Duration {
	return parseDurationOr(c.PublishTimeout, DefaultPublishTimeout)
}

func (c *ControllerConfig) GetScanTopic() string {
	if c.ScanTopic == nil {
		return DefaultScanTopic
	}
	return *c.ScanTopic
}

func (c *ControllerConfig) GetCommandTopic() string {
	if c.CommandTopic == nil {
		return DefaultCommandTopic
	}
	return *c.CommandTopic
}

func (c *ControllerConfig) GetRecordBuffer() int {
	if c.RecordBuffer == nil {
		return DefaultRecordBuffer
	}
	return *c.RecordBuffer
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
