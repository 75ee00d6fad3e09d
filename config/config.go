// Package config loads engine configuration from TOML.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the tunable parameters of the coordination engine.
type Config struct {
	// MaxQueueSize bounds each agent's pending queue.
	MaxQueueSize int `toml:"max_queue_size"`

	// ResolutionWindowMS is the claim-batching window in milliseconds.
	ResolutionWindowMS int `toml:"resolution_window_ms"`

	// CorrelationCacheLimit caps the claim de-duplication set.
	CorrelationCacheLimit int `toml:"correlation_cache_limit"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// Agents holds per-agent overrides keyed by agent id.
	Agents map[string]AgentConfig `toml:"agents"`
}

// AgentConfig overrides engine defaults for one agent.
type AgentConfig struct {
	// MaxQueueSize overrides the global queue bound. Zero keeps the
	// global value.
	MaxQueueSize int `toml:"max_queue_size"`
}

// Default returns the engine's default configuration.
func Default() Config {
	return Config{
		MaxQueueSize:          10,
		ResolutionWindowMS:    1000,
		CorrelationCacheLimit: 10000,
		LogLevel:              "info",
	}
}

// Load reads configuration from a TOML file, filling unset fields with
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	}
	if c.ResolutionWindowMS <= 0 {
		return fmt.Errorf("resolution_window_ms must be positive, got %d", c.ResolutionWindowMS)
	}
	if c.CorrelationCacheLimit <= 0 {
		return fmt.Errorf("correlation_cache_limit must be positive, got %d", c.CorrelationCacheLimit)
	}
	for id, a := range c.Agents {
		if a.MaxQueueSize < 0 {
			return fmt.Errorf("agents.%s.max_queue_size must not be negative", id)
		}
	}
	return nil
}

// ResolutionWindow returns the claim-batching window as a Duration.
func (c Config) ResolutionWindow() time.Duration {
	return time.Duration(c.ResolutionWindowMS) * time.Millisecond
}

// QueueSizeFor returns the queue bound for an agent, honoring per-agent
// overrides.
func (c Config) QueueSizeFor(agentID string) int {
	if a, ok := c.Agents[agentID]; ok && a.MaxQueueSize > 0 {
		return a.MaxQueueSize
	}
	return c.MaxQueueSize
}
