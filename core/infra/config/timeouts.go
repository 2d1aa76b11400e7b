package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolTimeout overrides dispatch policy for one tool.
type ToolTimeout struct {
	WaitTimeoutSeconds int64 `yaml:"wait_timeout_seconds"`
	MaxAttempts        int   `yaml:"max_attempts"`
	InitialBackoffMs   int64 `yaml:"initial_backoff_ms"`
	RetainedJobRecords int64 `yaml:"retained_job_records"`
}

// DispatchDefaults is the policy applied when a tool has no override: wait up
// to 60s for a job, at most 2 attempts, exponential backoff from 1s, keep the
// most recent 1000 completed/failed job records.
type DispatchDefaults struct {
	WaitTimeoutSeconds int64 `yaml:"wait_timeout_seconds"`
	MaxAttempts        int   `yaml:"max_attempts"`
	InitialBackoffMs   int64 `yaml:"initial_backoff_ms"`
	RetainedJobRecords int64 `yaml:"retained_job_records"`
}

// TimeoutsConfig is the YAML timeouts overlay.
type TimeoutsConfig struct {
	Defaults DispatchDefaults       `yaml:"defaults"`
	Tools    map[string]ToolTimeout `yaml:"tools"`
}

// LoadTimeouts loads a YAML timeouts file; a missing or unparsable file yields
// defaults plus the error, so callers can log and proceed.
func LoadTimeouts(path string) (*TimeoutsConfig, error) {
	if path == "" {
		return defaultTimeouts(), nil
	}
	// #nosec G304 -- timeouts config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultTimeouts(), fmt.Errorf("read timeouts config: %w", err)
	}
	return ParseTimeouts(data)
}

// ParseTimeouts parses timeouts config from YAML bytes, filling gaps with
// defaults.
func ParseTimeouts(data []byte) (*TimeoutsConfig, error) {
	if len(data) == 0 {
		return defaultTimeouts(), nil
	}
	var cfg TimeoutsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultTimeouts(), fmt.Errorf("parse timeouts config: %w", err)
	}
	def := defaultTimeouts()
	if cfg.Defaults == (DispatchDefaults{}) {
		cfg.Defaults = def.Defaults
	}
	if cfg.Defaults.WaitTimeoutSeconds <= 0 {
		cfg.Defaults.WaitTimeoutSeconds = def.Defaults.WaitTimeoutSeconds
	}
	if cfg.Defaults.MaxAttempts <= 0 {
		cfg.Defaults.MaxAttempts = def.Defaults.MaxAttempts
	}
	if cfg.Defaults.InitialBackoffMs <= 0 {
		cfg.Defaults.InitialBackoffMs = def.Defaults.InitialBackoffMs
	}
	if cfg.Defaults.RetainedJobRecords <= 0 {
		cfg.Defaults.RetainedJobRecords = def.Defaults.RetainedJobRecords
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]ToolTimeout{}
	}
	return &cfg, nil
}

// ForTool returns the effective policy for a tool, applying defaults for any
// unset override field.
func (c *TimeoutsConfig) ForTool(tool string) ToolTimeout {
	eff := ToolTimeout{
		WaitTimeoutSeconds: c.Defaults.WaitTimeoutSeconds,
		MaxAttempts:        c.Defaults.MaxAttempts,
		InitialBackoffMs:   c.Defaults.InitialBackoffMs,
		RetainedJobRecords: c.Defaults.RetainedJobRecords,
	}
	override, ok := c.Tools[tool]
	if !ok {
		return eff
	}
	if override.WaitTimeoutSeconds > 0 {
		eff.WaitTimeoutSeconds = override.WaitTimeoutSeconds
	}
	if override.MaxAttempts > 0 {
		eff.MaxAttempts = override.MaxAttempts
	}
	if override.InitialBackoffMs > 0 {
		eff.InitialBackoffMs = override.InitialBackoffMs
	}
	if override.RetainedJobRecords > 0 {
		eff.RetainedJobRecords = override.RetainedJobRecords
	}
	return eff
}

func defaultTimeouts() *TimeoutsConfig {
	return &TimeoutsConfig{
		Defaults: DispatchDefaults{
			WaitTimeoutSeconds: 60,
			MaxAttempts:        2,
			InitialBackoffMs:   1000,
			RetainedJobRecords: 1000,
		},
		Tools: map[string]ToolTimeout{},
	}
}
