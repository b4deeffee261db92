package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	LLM         LLMConfig       `toml:"llm"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Analysis    AnalysisConfig  `toml:"analysis"`
	Maintenance SweeperConfig   `toml:"maintenance"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent analysis workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "30m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before being dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

// LLMConfig selects the default provider and per-job model defaults
type LLMConfig struct {
	DefaultProvider    string `toml:"default_provider"`     // "claude" or "gemini"
	DefaultModel       string `toml:"default_model"`        // used when a job specifies no model
	DefaultContextSize int    `toml:"default_context_size"` // token budget hint for transcript truncation
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
}

// AnalysisConfig bounds the submission surface
type AnalysisConfig struct {
	MinPromptLength int `toml:"min_prompt_length"` // reject prompts shorter than this
	MaxSessions     int `toml:"max_sessions"`      // reject jobs selecting more sessions than this
}

// SweeperConfig drives the restart-recovery sweep
type SweeperConfig struct {
	Enabled        bool   `toml:"enabled"`
	Schedule       string `toml:"schedule"`        // cron format, e.g. "*/5 * * * *"
	StaleThreshold string `toml:"stale_threshold"` // e.g., "30m" - non-terminal jobs untouched this long are considered orphaned
}

type WebSocketConfig struct {
	TokenInterval string `toml:"token_interval"` // min interval between forwarded token events per connection ("" = no throttle)
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// DefaultConfig returns the baseline configuration before file/env overrides
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8484,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/therascript",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       2,
			VisibilityTimeout: "30m",
			MaxReceive:        3,
			QueueName:         "analysis",
		},
		LLM: LLMConfig{
			DefaultProvider:    "claude",
			DefaultContextSize: 16384,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.3,
			MaxTokens:   4096,
			Timeout:     "5m",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.0-flash",
			Temperature: 0.3,
			MaxTokens:   4096,
			Timeout:     "5m",
		},
		Analysis: AnalysisConfig{
			MinPromptLength: 10,
			MaxSessions:     50,
		},
		Maintenance: SweeperConfig{
			Enabled:        true,
			Schedule:       "*/5 * * * *",
			StaleThreshold: "30m",
		},
		WebSocket: WebSocketConfig{
			TokenInterval: "50ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration with precedence:
// defaults -> each config file in order -> environment variables.
// Later files override earlier ones.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies THERASCRIPT_* environment variables on top of the
// loaded configuration. API keys also fall back to the provider-native names.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("THERASCRIPT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("THERASCRIPT_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("THERASCRIPT_DATA_DIR"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("THERASCRIPT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("THERASCRIPT_CLAUDE_API_KEY"); v != "" {
		config.Claude.APIKey = v
	} else if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("THERASCRIPT_GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = v
	}
}

// Validate checks cross-field constraints that TOML decoding cannot express
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if _, err := time.ParseDuration(c.Queue.PollInterval); err != nil {
		return fmt.Errorf("invalid queue poll_interval %q: %w", c.Queue.PollInterval, err)
	}
	if _, err := time.ParseDuration(c.Queue.VisibilityTimeout); err != nil {
		return fmt.Errorf("invalid queue visibility_timeout %q: %w", c.Queue.VisibilityTimeout, err)
	}
	switch c.LLM.DefaultProvider {
	case "claude", "gemini":
	default:
		return fmt.Errorf("invalid llm default_provider %q (want \"claude\" or \"gemini\")", c.LLM.DefaultProvider)
	}
	if c.Maintenance.StaleThreshold != "" {
		if _, err := time.ParseDuration(c.Maintenance.StaleThreshold); err != nil {
			return fmt.Errorf("invalid maintenance stale_threshold %q: %w", c.Maintenance.StaleThreshold, err)
		}
	}
	return nil
}

// PollInterval returns the parsed queue poll interval
func (c *QueueConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// VisibilityTimeoutDuration returns the parsed visibility timeout
func (c *QueueConfig) VisibilityTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.VisibilityTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// StaleThresholdDuration returns the parsed stale-job threshold
func (c *SweeperConfig) StaleThresholdDuration() time.Duration {
	d, err := time.ParseDuration(c.StaleThreshold)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
