// Package config defines the YAML-shaped configuration of spec.md §6, a thin
// struct layer decoded with gopkg.in/yaml.v3; it owns shape and defaults, not
// CLI parsing.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddserrors"
)

// OutputConfig controls one writer's on-disk footprint (spec.md §4.2).
type OutputConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Path             string `yaml:"path"`
	MaxFileSizeBytes uint64 `yaml:"max_file_size_bytes"`
	MaxSizeBytes     uint64 `yaml:"max_size_bytes"`
	RotationEnabled  bool   `yaml:"rotation_enabled"`
	IncludeTimestamp bool   `yaml:"include_timestamp"`
}

// HandlerConfig controls the BaseHandler knobs of spec.md §4.6.
type HandlerConfig struct {
	BufferSize              int           `yaml:"buffer_size"`
	MaxPendingSamples       int           `yaml:"max_pending_samples"`
	OnlyWithSchema          bool          `yaml:"only_with_schema"`
	EventWindow             time.Duration `yaml:"event_window"`
	CleanupPeriod           time.Duration `yaml:"cleanup_period"`
	UseSourceTimestampAsLog bool          `yaml:"use_source_timestamp_as_log"`
}

// RecorderConfig is the top-level document for ddsrecorder.
type RecorderConfig struct {
	MCAP      OutputConfig  `yaml:"mcap"`
	SQL       OutputConfig  `yaml:"sql"`
	Handler   HandlerConfig `yaml:"handler"`
	LogFilter string        `yaml:"log_filter"`
	LogLevel  string        `yaml:"log_verbosity"`
}

// ReplayerConfig is the top-level document for ddsreplayer.
type ReplayerConfig struct {
	Rate            float64   `yaml:"rate"`
	StartReplayTime time.Time `yaml:"start_replay_time"`
	LogFilter       string    `yaml:"log_filter"`
	LogLevel        string    `yaml:"log_verbosity"`
}

// DefaultRecorderConfig returns the spec's documented defaults before YAML is
// applied on top.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		MCAP: OutputConfig{
			Enabled:          true,
			Path:             "output.mcap",
			MaxFileSizeBytes: 1 << 30, // 1 GiB
			MaxSizeBytes:     10 << 30,
			RotationEnabled:  true,
		},
		SQL: OutputConfig{
			Enabled:          false,
			Path:             "output.db",
			MaxFileSizeBytes: 1 << 30,
			MaxSizeBytes:     10 << 30,
			RotationEnabled:  true,
		},
		Handler: HandlerConfig{
			BufferSize:        100,
			MaxPendingSamples: 0,
			OnlyWithSchema:    false,
			EventWindow:       5 * time.Second,
			CleanupPeriod:     1 * time.Second,
		},
		LogLevel: "info",
	}
}

// DefaultReplayerConfig returns the spec's documented defaults for replay.
func DefaultReplayerConfig() ReplayerConfig {
	return ReplayerConfig{
		Rate:     1.0,
		LogLevel: "info",
	}
}

// LoadRecorderConfig reads path, merging it onto DefaultRecorderConfig, and
// validates the result.
func LoadRecorderConfig(path string) (RecorderConfig, error) {
	cfg := DefaultRecorderConfig()
	if path == "" {
		return cfg, validateRecorderConfig(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RecorderConfig{}, ddserrors.NewConfiguration("reading config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RecorderConfig{}, ddserrors.NewConfiguration("parsing config file %s: %v", path, err)
	}
	return cfg, validateRecorderConfig(cfg)
}

// LoadReplayerConfig reads path, merging it onto DefaultReplayerConfig, and
// validates the result.
func LoadReplayerConfig(path string) (ReplayerConfig, error) {
	cfg := DefaultReplayerConfig()
	if path == "" {
		return cfg, validateReplayerConfig(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ReplayerConfig{}, ddserrors.NewConfiguration("reading config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ReplayerConfig{}, ddserrors.NewConfiguration("parsing config file %s: %v", path, err)
	}
	return cfg, validateReplayerConfig(cfg)
}

func validateRecorderConfig(cfg RecorderConfig) error {
	if !cfg.MCAP.Enabled && !cfg.SQL.Enabled {
		return ddserrors.NewConfiguration("at least one of mcap.enabled, sql.enabled must be true")
	}
	for _, out := range []OutputConfig{cfg.MCAP, cfg.SQL} {
		if !out.Enabled {
			continue
		}
		if out.MaxFileSizeBytes == 0 || out.MaxFileSizeBytes > out.MaxSizeBytes {
			return ddserrors.NewConfiguration("max_file_size_bytes must be nonzero and <= max_size_bytes for %s", out.Path)
		}
	}
	if cfg.Handler.BufferSize <= 0 {
		return ddserrors.NewConfiguration("handler.buffer_size must be positive")
	}
	return nil
}

func validateReplayerConfig(cfg ReplayerConfig) error {
	if cfg.Rate <= 0 {
		return ddserrors.NewConfiguration("rate must be positive")
	}
	return nil
}
