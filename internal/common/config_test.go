package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8484, config.Server.Port)
	assert.Equal(t, 2, config.Queue.Concurrency)
	assert.Equal(t, "claude", config.LLM.DefaultProvider)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9090

[queue]
concurrency = 4

[llm]
default_provider = "gemini"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, 4, config.Queue.Concurrency)
	assert.Equal(t, "gemini", config.LLM.DefaultProvider)
	// Untouched sections keep their defaults
	assert.Equal(t, "analysis", config.Queue.QueueName)
}

func TestLoadConfigLaterFilesWin(t *testing.T) {
	first := writeConfigFile(t, "[server]\nport = 9090\n")
	second := writeConfigFile(t, "[server]\nport = 9191\n")

	config, err := LoadConfig(first, second)
	require.NoError(t, err)
	assert.Equal(t, 9191, config.Server.Port)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "[server]\nport = 9090\n")
	t.Setenv("THERASCRIPT_PORT", "7070")
	t.Setenv("THERASCRIPT_CLAUDE_API_KEY", "sk-test")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "sk-test", config.Claude.APIKey)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Queue.Concurrency = 0 }},
		{"bad poll interval", func(c *Config) { c.Queue.PollInterval = "soon" }},
		{"bad visibility timeout", func(c *Config) { c.Queue.VisibilityTimeout = "later" }},
		{"unknown provider", func(c *Config) { c.LLM.DefaultProvider = "openai" }},
		{"bad stale threshold", func(c *Config) { c.Maintenance.StaleThreshold = "whenever" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestDurationHelpersFallBackOnBadValues(t *testing.T) {
	q := &QueueConfig{PollInterval: "garbage", VisibilityTimeout: ""}
	assert.Equal(t, time.Second, q.PollIntervalDuration())
	assert.Equal(t, 30*time.Minute, q.VisibilityTimeoutDuration())

	s := &SweeperConfig{StaleThreshold: "45m"}
	assert.Equal(t, 45*time.Minute, s.StaleThresholdDuration())
}
