// Package config loads and watches the hearth configuration file. The file
// is JSON5 so hand-edited configs can carry comments and trailing commas.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// AgentConfig configures one agent loop.
type AgentConfig struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	MaxIterations   int    `json:"max_iterations"`
	ToolRetries     int    `json:"tool_retries"`
	LatencyBudgetMs int    `json:"latency_budget_ms"`
	InjectionAction string `json:"injection_action"` // log | warn | block | off
}

// ProviderConfig configures the LLM backend client.
type ProviderConfig struct {
	APIKey            string  `json:"api_key"`
	BaseURL           string  `json:"base_url"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// SessionsConfig selects the session-state backend.
type SessionsConfig struct {
	Backend       string `json:"backend"` // memory | redis
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Service  string `json:"service"`
}

// Config is the root configuration document.
type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Sessions SessionsConfig `json:"sessions"`
	Tracing  TracingConfig  `json:"tracing"`

	BraveAPIKey  string `json:"brave_api_key"`
	EntitiesSeed string `json:"entities_seed"`
	HistoryPath  string `json:"history_path"`
	SinkURL      string `json:"sink_url"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hearth.json5"
	}
	return filepath.Join(home, ".hearth", "config.json5")
}

// Load reads and parses the config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault loads the config file when present, otherwise returns the
// built-in defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.ID == "" {
		c.Agent.ID = DefaultAgentID
	} else {
		c.Agent.ID = NormalizeAgentID(c.Agent.ID)
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = "openai"
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.LatencyBudgetMs <= 0 {
		c.Agent.LatencyBudgetMs = 10000
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if c.Provider.RequestsPerSecond <= 0 {
		c.Provider.RequestsPerSecond = 5
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "memory"
	}
	if c.Sessions.RedisAddr == "" {
		c.Sessions.RedisAddr = "localhost:6379"
	}
	if c.HistoryPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.HistoryPath = filepath.Join(home, ".hearth", "history.db")
		} else {
			c.HistoryPath = "hearth-history.db"
		}
	}
	if c.Tracing.Service == "" {
		c.Tracing.Service = "hearth"
	}
}
