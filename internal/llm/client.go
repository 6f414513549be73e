package llm

import "context"

// Client defines the uniform streaming interface over LLM providers.
type Client interface {
	// SendMessage sends a user message and returns a streaming response.
	SendMessage(ctx context.Context, message string) (*StreamingResponse, error)

	// SendMessageWithHistory sends a message with conversation history.
	SendMessageWithHistory(ctx context.Context, history []*Turn, message string) (*StreamingResponse, error)

	// SendToolResults streams the model's continuation after tool
	// execution. The history must end in the tool turn carrying the
	// results; each result is sent exactly once so it correlates to one
	// call.
	SendToolResults(ctx context.Context, history []*Turn) (*StreamingResponse, error)

	// SetTools sets the tools available for the model to use.
	// Providers without function calling ignore these at request time;
	// the caller is expected to use the text fallback prompt instead.
	SetTools(decls []*ToolDeclaration)

	// SetSystemInstruction sets the system-level instruction, passed via
	// the provider's native system parameter rather than injected into
	// the history.
	SetSystemInstruction(instruction string)

	// SetRateLimiter sets the rate limiter for API calls.
	SetRateLimiter(limiter RateLimiter)

	// IsConfigured reports whether the client has what it needs to
	// reach its backend (key, model, endpoint).
	IsConfigured() bool

	// Capabilities returns the provider's declared abilities.
	Capabilities() Capabilities

	// HealthStatus probes the backend and reports reachability.
	HealthStatus(ctx context.Context) HealthStatus

	// Model returns the model name.
	Model() string

	// Close closes the client connection.
	Close() error
}

// RateLimiter paces API calls (optional).
type RateLimiter interface {
	AcquireWithContext(ctx context.Context, tokens int64) error
	ReturnTokens(requests int, tokens int64)
	RecordUsage(tokens int64)
}
