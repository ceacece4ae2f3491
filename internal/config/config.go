// Package config loads the server configuration from a YAML file. Defaults
// are filled in first and the file overlays them, so a partial config names
// only what it changes.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Events    EventsConfig    `yaml:"events"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

type SchedulerConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	MaxRunning        int           `yaml:"max_running"`
	ToolExecTimeout   time.Duration `yaml:"tool_exec_timeout"`
	HumanInputTimeout time.Duration `yaml:"human_input_timeout"`
	StatusInterval    time.Duration `yaml:"status_interval"`
}

type EventsConfig struct {
	HistorySize      int `yaml:"history_size"`
	ReplayCount      int `yaml:"replay_count"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

type StorageConfig struct {
	// StateDir is where channel and session records live. Empty means the
	// XDG state directory.
	StateDir string `yaml:"state_dir"`
	// TemplatesDir holds the agent template YAML documents.
	TemplatesDir string `yaml:"templates_dir"`
	// SessionCapacity bounds live sessions; 0 means the full id space.
	SessionCapacity int `yaml:"session_capacity"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Scheduler: SchedulerConfig{
			TickInterval:      100 * time.Millisecond,
			MaxRunning:        8,
			ToolExecTimeout:   5 * time.Minute,
			HumanInputTimeout: 30 * time.Minute,
			StatusInterval:    5 * time.Second,
		},
		Events: EventsConfig{
			HistorySize:      1000,
			ReplayCount:      100,
			SubscriberBuffer: 64,
		},
		Storage: StorageConfig{
			TemplatesDir: "templates",
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads path if it exists and falls back to the defaults when
// it does not. Parse and validation errors are still fatal.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// GenerateToken returns a random hex auth token for ad-hoc deployments that
// did not configure one.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Diff lists the human-readable differences between two configs in the
// sections a live reload can apply. Logged on SIGHUP.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Scheduler.TickInterval != new.Scheduler.TickInterval {
		changes = append(changes, fmt.Sprintf("scheduler.tick_interval: %s → %s (restart required)",
			old.Scheduler.TickInterval, new.Scheduler.TickInterval))
	}
	if old.Scheduler.MaxRunning != new.Scheduler.MaxRunning {
		changes = append(changes, fmt.Sprintf("scheduler.max_running: %d → %d",
			old.Scheduler.MaxRunning, new.Scheduler.MaxRunning))
	}
	if old.Scheduler.ToolExecTimeout != new.Scheduler.ToolExecTimeout {
		changes = append(changes, fmt.Sprintf("scheduler.tool_exec_timeout: %s → %s",
			old.Scheduler.ToolExecTimeout, new.Scheduler.ToolExecTimeout))
	}
	if old.Scheduler.HumanInputTimeout != new.Scheduler.HumanInputTimeout {
		changes = append(changes, fmt.Sprintf("scheduler.human_input_timeout: %s → %s",
			old.Scheduler.HumanInputTimeout, new.Scheduler.HumanInputTimeout))
	}
	if old.Scheduler.StatusInterval != new.Scheduler.StatusInterval {
		changes = append(changes, fmt.Sprintf("scheduler.status_interval: %s → %s",
			old.Scheduler.StatusInterval, new.Scheduler.StatusInterval))
	}

	return changes
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.MaxRunning < 0 {
		return fmt.Errorf("scheduler.max_running must not be negative")
	}
	if c.Events.HistorySize > 0 && c.Events.ReplayCount > c.Events.HistorySize {
		return fmt.Errorf("events.replay_count %d exceeds history_size %d",
			c.Events.ReplayCount, c.Events.HistorySize)
	}
	return nil
}
