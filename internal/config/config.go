// Package config defines the daemon configuration, its defaults, and
// the file loader.
package config

import (
	"fmt"
	"time"

	"github.com/outland-robotics/missiond/internal/observability"
)

// Config is the full daemon configuration.
type Config struct {
	// Listen is the HTTP API listen address, host:port.
	Listen string `json:"listen" yaml:"listen" mapstructure:"listen"`

	// MissionDir is the directory of YAML mission definitions served by
	// the library. Empty disables the library.
	MissionDir string `json:"mission_dir" yaml:"mission_dir" mapstructure:"mission_dir"`

	// TickInterval is the default period of the mission tick loop.
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval" mapstructure:"tick_interval"`

	// HistoryDepth bounds the per-mission tick history buffer.
	HistoryDepth int `json:"history_depth" yaml:"history_depth" mapstructure:"history_depth"`

	// Remotes maps delegated service names onto their base URLs.
	Remotes map[string]string `json:"remotes" yaml:"remotes" mapstructure:"remotes"`

	// LeaseService is the base URL of the platform lease service. Empty
	// disables lease verification, and RetainLease nodes cannot load.
	LeaseService string `json:"lease_service" yaml:"lease_service" mapstructure:"lease_service"`

	// Platform is the base URL of the robot command and navigation API.
	// Empty disables it, and RobotCommand/NavigateTo nodes cannot load.
	Platform string `json:"platform" yaml:"platform" mapstructure:"platform"`

	Log     observability.LogConfig     `json:"log" yaml:"log" mapstructure:"log"`
	Tracing observability.TracingConfig `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8421",
		TickInterval: 100 * time.Millisecond,
		HistoryDepth: 1024,
		Log: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: observability.TracingConfig{
			Enabled:    false,
			SampleRate: 1,
		},
	}
}

// Validate checks the configuration for values the daemon cannot run
// with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	if c.TickInterval < time.Millisecond {
		return fmt.Errorf("tick interval %v is below the 1ms floor", c.TickInterval)
	}
	if c.HistoryDepth <= 0 {
		return fmt.Errorf("history depth must be positive, got %d", c.HistoryDepth)
	}
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	return nil
}
