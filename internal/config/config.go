package config

import "time"

// Config represents the main application configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Model     ModelConfig     `yaml:"model"`
	Modes     ModesConfig     `yaml:"modes"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Runtime version information
	Version string `yaml:"-"`
}

// APIConfig holds API-related settings.
type APIConfig struct {
	// Separate keys for each provider
	GeminiKey string `yaml:"gemini_key,omitempty"`
	OpenAIKey string `yaml:"openai_key,omitempty"`
	OllamaKey string `yaml:"ollama_key,omitempty"` // Optional, for remote Ollama servers with auth

	// Provider endpoints
	OllamaBaseURL string `yaml:"ollama_base_url,omitempty"` // Default: http://localhost:11434
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty"` // Default: https://api.openai.com/v1

	// Active provider: gemini, openai, ollama (default: gemini)
	ActiveProvider string `yaml:"active_provider"`

	// MinRequestInterval paces consecutive provider requests (0 = none)
	MinRequestInterval time.Duration `yaml:"min_request_interval,omitempty"`

	// Retry configuration for API calls
	Retry RetryConfig `yaml:"retry"`
}

// GetActiveProvider returns the active provider name.
func (c *APIConfig) GetActiveProvider() string {
	if c.ActiveProvider != "" {
		return c.ActiveProvider
	}
	return "gemini"
}

// HasProvider checks if a provider has an API key configured.
// Ollama doesn't require a key for local servers.
func (c *APIConfig) HasProvider(provider string) bool {
	switch provider {
	case "gemini":
		return c.GeminiKey != ""
	case "openai":
		return c.OpenAIKey != ""
	case "ollama":
		return true
	}
	return false
}

// SetProviderKey sets the API key for a specific provider.
func (c *APIConfig) SetProviderKey(provider, key string) {
	switch provider {
	case "gemini":
		c.GeminiKey = key
	case "openai":
		c.OpenAIKey = key
	case "ollama":
		c.OllamaKey = key
	}
}

// RetryConfig holds retry settings for API calls.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`  // Maximum number of retry attempts (default: 3)
	RetryDelay  time.Duration `yaml:"retry_delay"`  // Initial delay between retries (default: 1s)
	HTTPTimeout time.Duration `yaml:"http_timeout"` // HTTP request timeout (default: 120s)
}

// ModelConfig holds model-related settings.
type ModelConfig struct {
	Name            string  `yaml:"name"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`

	// Whether the model supports native function calling. Models without
	// it get the text-based tool call fallback. Only meaningful for
	// Ollama; hosted providers always support tools.
	SupportsToolCalls bool `yaml:"supports_tool_calls"`
}

// ModesConfig holds prompt mode settings.
type ModesConfig struct {
	// Default mode: code, amend, plan (default: code)
	Default string `yaml:"default"`

	// CustomRules maps mode name to a free-form prompt appendix.
	CustomRules map[string]string `yaml:"custom_rules,omitempty"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	// MaxExecutionAttempts is the global per-plan dispatch budget.
	MaxExecutionAttempts int `yaml:"max_execution_attempts"` // default: 10

	// DebugLLM emits a per-request performance line into chat output.
	DebugLLM bool `yaml:"debug_llm"`
}

// ToolsConfig holds tool-related settings.
type ToolsConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	AllowedDirs []string      `yaml:"allowed_dirs"` // Additional allowed directories (besides workDir)
}

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	Enabled           bool  `yaml:"enabled"`
	RequestsPerMinute int   `yaml:"requests_per_minute"`
	TokensPerMinute   int64 `yaml:"tokens_per_minute"`
	BurstSize         int   `yaml:"burst_size"`
}

// WatcherConfig holds project file watcher settings.
type WatcherConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DebounceDelay  time.Duration `yaml:"debounce_delay"`  // Coalesce rapid events (default: 500ms)
	IgnorePatterns []string      `yaml:"ignore_patterns"` // Glob patterns to ignore
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`   // debug, info, warn, error
	ToFile bool   `yaml:"to_file"` // Write logs to the config directory
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			ActiveProvider: "gemini",
			OllamaBaseURL:  "http://localhost:11434",
			Retry: RetryConfig{
				MaxRetries:  3,
				RetryDelay:  1 * time.Second,
				HTTPTimeout: 120 * time.Second,
			},
		},
		Model: ModelConfig{
			Name:              "gemini-2.5-flash",
			Temperature:       0.7,
			MaxOutputTokens:   8192,
			SupportsToolCalls: true,
		},
		Modes: ModesConfig{
			Default: "code",
		},
		Agent: AgentConfig{
			MaxExecutionAttempts: 10,
		},
		Tools: ToolsConfig{
			Timeout: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			TokensPerMinute:   1_000_000,
			BurstSize:         10,
		},
		Watcher: WatcherConfig{
			Enabled:       true,
			DebounceDelay: 500 * time.Millisecond,
			IgnorePatterns: []string{
				".git/**", "node_modules/**", "vendor/**",
				"**/*.log", "**/.DS_Store",
			},
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}
