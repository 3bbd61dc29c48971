package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Load reads and validates a configuration file. Defaults apply to any
// field the file omits.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := DefaultConfig()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("tick_interval", def.TickInterval)
	v.SetDefault("history_depth", def.HistoryDepth)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.sample_rate", def.Tracing.SampleRate)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads the file at path, or returns the defaults when
// the file does not exist.
func LoadWithDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}
