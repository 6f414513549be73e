package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("KODAI_MODEL", "")
	t.Setenv("KODAI_PROVIDER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.API.GetActiveProvider())
	assert.Equal(t, "gemini-2.5-flash", cfg.Model.Name)
	assert.Equal(t, 10, cfg.Agent.MaxExecutionAttempts)
	assert.True(t, cfg.Watcher.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("KODAI_MODEL", "")
	t.Setenv("KODAI_PROVIDER", "")

	dir := filepath.Join(configHome, "kodai")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
api:
  active_provider: ollama
model:
  name: qwen2.5-coder
  supports_tool_calls: false
agent:
  max_execution_attempts: 5
`), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.API.ActiveProvider)
	assert.Equal(t, "qwen2.5-coder", cfg.Model.Name)
	assert.False(t, cfg.Model.SupportsToolCalls)
	assert.Equal(t, 5, cfg.Agent.MaxExecutionAttempts)
	// Untouched sections keep their defaults
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KODAI_MODEL", "gemini-2.5-pro")
	t.Setenv("KODAI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", cfg.Model.Name)
	assert.Equal(t, "openai", cfg.API.ActiveProvider)
	assert.Equal(t, "sk-from-env", cfg.API.OpenAIKey)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.ActiveProvider = "gemini"
	cfg.API.GeminiKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAuth)

	cfg.API.GeminiKey = "key"
	assert.NoError(t, cfg.Validate())

	// Local ollama needs no key
	cfg.API.ActiveProvider = "ollama"
	assert.NoError(t, cfg.Validate())

	cfg.API.ActiveProvider = "unknown"
	assert.Error(t, cfg.Validate())
}

func TestHasProviderAndKeys(t *testing.T) {
	api := APIConfig{}
	assert.False(t, api.HasProvider("gemini"))
	assert.True(t, api.HasProvider("ollama"))

	api.SetProviderKey("gemini", "g-key")
	api.SetProviderKey("openai", "o-key")
	assert.True(t, api.HasProvider("gemini"))
	assert.True(t, api.HasProvider("openai"))
}
