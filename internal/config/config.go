// Package config handles Thane configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/thane/config.yaml, /config/config.yaml,
// /etc/thane/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "thane", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/thane/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Thane configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Automation    AutomationConfig    `yaml:"automation"`
	Worker        WorkerConfig        `yaml:"worker"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
}

// AutomationConfig defines the event pipeline's tunables (spec.md §6's
// environment knobs).
type AutomationConfig struct {
	// WebhookSecret verifies X-Webhook-Signature on inbound events.
	// Empty disables signature verification.
	WebhookSecret string `yaml:"webhook_secret"`
	// SampleWindowSeconds bounds per-(source,entity) event sampling.
	SampleWindowSeconds int `yaml:"sample_window_seconds"`
	// ScheduleTickSeconds is the schedule ticker's poll interval.
	ScheduleTickSeconds int `yaml:"schedule_tick_seconds"`
	// ConfirmationTimeoutSeconds bounds how long the confirmation
	// mediator waits for a reply before treating it as a denial.
	ConfirmationTimeoutSeconds int `yaml:"confirmation_timeout_seconds"`
	// WorkerCount sizes the event processor's worker pool.
	WorkerCount int `yaml:"worker_count"`
}

// WorkerConfig defines worker task orchestration tunables.
type WorkerConfig struct {
	Image                    string `yaml:"image"`
	Network                  string `yaml:"network"`
	MemoryLimit              string `yaml:"memory_limit"`
	CPULimit                 string `yaml:"cpu_limit"`
	WorkspaceRoot            string `yaml:"workspace_root"`
	MaxConcurrentWorkers     int    `yaml:"max_concurrent_workers"`
	TaskRetentionHours       int    `yaml:"task_retention_hours"`
	SubmittedTimeoutHours    int    `yaml:"submitted_timeout_hours"`
	RunningBufferMinutes     int    `yaml:"running_buffer_minutes"`
	ReconcileIntervalSeconds int    `yaml:"reconcile_interval_seconds"`
	// WebhookBaseURL is prefixed to "/workers/{task_id}/complete" to
	// build each spawned worker's callback URL.
	WebhookBaseURL string `yaml:"webhook_base_url"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether the Home Assistant connection has both a
// URL and a token. A partial configuration (URL without token or vice
// versa) is treated as unconfigured.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${ANTHROPIC_API_KEY}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Automation.SampleWindowSeconds == 0 {
		c.Automation.SampleWindowSeconds = 1800
	}
	if c.Automation.ScheduleTickSeconds == 0 {
		c.Automation.ScheduleTickSeconds = 30
	}
	if c.Automation.ConfirmationTimeoutSeconds == 0 {
		c.Automation.ConfirmationTimeoutSeconds = 60
	}
	if c.Automation.WorkerCount == 0 {
		c.Automation.WorkerCount = 4
	}
	if c.Worker.MaxConcurrentWorkers == 0 {
		c.Worker.MaxConcurrentWorkers = 4
	}
	if c.Worker.TaskRetentionHours == 0 {
		c.Worker.TaskRetentionHours = 48
	}
	if c.Worker.SubmittedTimeoutHours == 0 {
		c.Worker.SubmittedTimeoutHours = 1
	}
	if c.Worker.RunningBufferMinutes == 0 {
		c.Worker.RunningBufferMinutes = 30
	}
	if c.Worker.ReconcileIntervalSeconds == 0 {
		c.Worker.ReconcileIntervalSeconds = 60
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
