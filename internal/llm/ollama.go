package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"kodai/internal/logging"

	"github.com/ollama/ollama/api"
)

// OllamaConfig holds configuration for the Ollama API client.
type OllamaConfig struct {
	BaseURL            string        // Default: "http://localhost:11434"
	APIKey             string        // Optional, for remote Ollama servers with auth
	Model              string        // e.g., "llama3.2", "qwen2.5-coder"
	Temperature        float32       // Temperature for generation
	MaxTokens          int32         // Max output tokens
	HTTPTimeout        time.Duration // HTTP request timeout (default: 120s)
	MaxRetries         int           // Maximum retry attempts (default: 3)
	RetryDelay         time.Duration // Initial delay between retries (default: 1s)
	MinRequestInterval time.Duration // Minimum delay between requests (0 = none)
	SupportsToolCalls  bool          // Whether the model has native function calling
}

// OllamaClient implements Client for the Ollama API.
type OllamaClient struct {
	client            *api.Client
	config            OllamaConfig
	tools             []*ToolDeclaration
	rateLimiter       RateLimiter
	systemInstruction string
	pace              *pacer
	mu                sync.RWMutex
}

// authTransport adds an Authorization header to HTTP requests.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	reqClone.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(reqClone)
}

// NewOllamaClient creates a new Ollama API client.
func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 120 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 1 * time.Second
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	if baseURL.Scheme == "http" {
		host := baseURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("Ollama connection uses unencrypted HTTP to remote host",
				"host", host,
				"recommendation", "use HTTPS for remote Ollama servers")
		}
	}

	var httpClient *http.Client
	if config.APIKey != "" {
		httpClient = &http.Client{
			Timeout: config.HTTPTimeout,
			Transport: &authTransport{
				base:   http.DefaultTransport,
				apiKey: config.APIKey,
			},
		}
	} else {
		httpClient = &http.Client{Timeout: config.HTTPTimeout}
	}

	return &OllamaClient{
		client: api.NewClient(baseURL, httpClient),
		config: config,
		pace:   newPacer(config.MinRequestInterval),
	}, nil
}

// SetSystemInstruction sets the system-level instruction for the model.
func (c *OllamaClient) SetSystemInstruction(instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemInstruction = instruction
}

// SetTools sets the tools available for function calling.
func (c *OllamaClient) SetTools(decls []*ToolDeclaration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = decls
}

// SetRateLimiter sets the rate limiter for API calls.
func (c *OllamaClient) SetRateLimiter(limiter RateLimiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimiter = limiter
}

// IsConfigured reports whether the client can reach its backend.
func (c *OllamaClient) IsConfigured() bool {
	return c.config.Model != "" && c.config.BaseURL != ""
}

// Capabilities returns the provider's declared abilities.
func (c *OllamaClient) Capabilities() Capabilities {
	return Capabilities{
		Provider:                "ollama",
		MaxOutputTokens:         c.config.MaxTokens,
		MaxContextTokens:        128_000,
		SupportsFunctionCalling: c.config.SupportsToolCalls,
		MinRequestInterval:      c.config.MinRequestInterval,
	}
}

// HealthStatus verifies that the Ollama server is accessible.
func (c *OllamaClient) HealthStatus(ctx context.Context) HealthStatus {
	// No explicit ping in the SDK; List doubles as a healthcheck
	if _, err := c.client.List(ctx); err != nil {
		return HealthStatus{Healthy: false, Detail: c.wrapOllamaError(err).Error()}
	}
	return HealthStatus{Healthy: true}
}

// Model returns the model name.
func (c *OllamaClient) Model() string {
	return c.config.Model
}

// Close closes the client connection.
func (c *OllamaClient) Close() error {
	return nil
}

// needsToolCallFallback reports whether this model needs text-based tool
// call parsing instead of native function calling.
func (c *OllamaClient) needsToolCallFallback() bool {
	return !c.config.SupportsToolCalls
}

// SendMessage sends a message and returns a streaming response.
func (c *OllamaClient) SendMessage(ctx context.Context, message string) (*StreamingResponse, error) {
	return c.SendMessageWithHistory(ctx, nil, message)
}

// SendMessageWithHistory sends a message with conversation history.
func (c *OllamaClient) SendMessageWithHistory(ctx context.Context, history []*Turn, message string) (*StreamingResponse, error) {
	var messages []api.Message
	if c.needsToolCallFallback() {
		messages = c.convertHistoryForFallback(history)
	} else {
		messages = c.convertHistory(history)
	}
	if message != "" {
		messages = append(messages, api.Message{Role: "user", Content: message})
	}

	return c.streamChat(ctx, c.buildRequest(messages))
}

// SendToolResults sends tool results back to the model. The trailing
// tool turn in history is the only source of result messages.
func (c *OllamaClient) SendToolResults(ctx context.Context, history []*Turn) (*StreamingResponse, error) {
	var messages []api.Message
	if c.needsToolCallFallback() {
		// Fallback models don't understand the tool role; results go in
		// as user messages instead.
		messages = c.convertHistoryForFallback(history)
	} else {
		messages = c.convertHistory(history)
	}

	return c.streamChat(ctx, c.buildRequest(messages))
}

// buildRequest assembles a chat request with options and tools.
func (c *OllamaClient) buildRequest(messages []api.Message) *api.ChatRequest {
	req := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   Ptr(true),
		Options: map[string]interface{}{
			"num_predict": c.config.MaxTokens,
		},
	}
	if c.config.Temperature > 0 {
		req.Options["temperature"] = c.config.Temperature
	}

	if !c.needsToolCallFallback() {
		c.mu.RLock()
		if len(c.tools) > 0 {
			req.Tools = convertToolsToOllama(c.tools)
		}
		c.mu.RUnlock()
	}

	return req
}

// streamChat performs a streaming chat request with retry logic.
func (c *OllamaClient) streamChat(ctx context.Context, req *api.ChatRequest) (*StreamingResponse, error) {
	var estimatedTokens int64 = 500 // Rough estimate for Ollama requests
	c.mu.RLock()
	rateLimiter := c.rateLimiter
	c.mu.RUnlock()

	if rateLimiter != nil {
		if err := rateLimiter.AcquireWithContext(ctx, estimatedTokens); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var lastErr error
	maxDelay := 30 * time.Second

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.RetryDelay, attempt-1, maxDelay)
			logging.Info("retrying Ollama request",
				"attempt", attempt, "delay", delay, "reason", shortenRetryReason(lastErr))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := c.doStreamChat(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			if rateLimiter != nil {
				rateLimiter.ReturnTokens(1, estimatedTokens)
			}
			return nil, c.wrapOllamaError(err)
		}

		logging.Warn("Ollama request failed, will retry", "attempt", attempt, "error", err)
	}

	if rateLimiter != nil {
		rateLimiter.ReturnTokens(1, estimatedTokens)
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, c.wrapOllamaError(lastErr))
}

// doStreamChat performs a single streaming chat request.
func (c *OllamaClient) doStreamChat(ctx context.Context, req *api.ChatRequest) (*StreamingResponse, error) {
	if err := c.pace.wait(ctx); err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, 10)
	done := make(chan struct{})

	go func() {
		defer close(chunks)
		defer close(done)

		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			chunk := Chunk{}

			if resp.Message.Content != "" {
				chunk.Text = resp.Message.Content
			}

			for i, tc := range resp.Message.ToolCalls {
				chunk.ToolCalls = append(chunk.ToolCalls, convertOllamaToolCall(tc, i))
			}

			if resp.Done {
				chunk.Done = true
				chunk.FinishReason = "stop"
				chunk.InputTokens = resp.PromptEvalCount
				chunk.OutputTokens = resp.EvalCount
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}

			return nil
		})

		if err != nil {
			select {
			case chunks <- Chunk{Error: c.wrapOllamaError(err), Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	return &StreamingResponse{Chunks: chunks, Done: done}, nil
}

// convertHistory converts canonical history to Ollama messages. Every
// tool result part maps to exactly one tool-role message.
func (c *OllamaClient) convertHistory(history []*Turn) []api.Message {
	messages := make([]api.Message, 0, len(history)+1)

	c.mu.RLock()
	sysInstruction := c.systemInstruction
	c.mu.RUnlock()
	if sysInstruction != "" {
		messages = append(messages, api.Message{Role: "system", Content: sysInstruction})
	}

	for _, turn := range history {
		if turn == nil {
			continue
		}
		if turn.Role == RoleTool {
			for _, p := range turn.Parts {
				if p.ToolResult != nil {
					messages = append(messages, toolResultMessage(p.ToolResult))
				}
			}
			continue
		}
		msg := c.convertTurn(turn)
		if msg.Role != "" {
			messages = append(messages, msg)
		}
	}

	return messages
}

// convertTurn converts a single canonical turn to an Ollama message.
func (c *OllamaClient) convertTurn(turn *Turn) api.Message {
	msg := api.Message{}

	switch turn.Role {
	case RoleUser:
		msg.Role = "user"
	case RoleModel:
		msg.Role = "assistant"
	default:
		msg.Role = string(turn.Role)
	}

	var textParts []string
	var toolCalls []api.ToolCall

	for _, p := range turn.Parts {
		if p.Text != "" {
			textParts = append(textParts, p.Text)
		}
		if p.ToolCall != nil {
			toolCalls = append(toolCalls, convertToolCallToOllama(p.ToolCall))
		}
	}

	msg.Content = strings.Join(textParts, "\n")
	msg.ToolCalls = toolCalls

	return msg
}

// toolResultMessage builds a tool-role message from a canonical result.
func toolResultMessage(result *ToolResult) api.Message {
	return api.Message{
		Role:       "tool",
		Content:    toolResultContent(result),
		ToolName:   result.Name,
		ToolCallID: result.ID,
	}
}

// toolResultContent extracts a display string from a result response map.
func toolResultContent(result *ToolResult) string {
	if result.Response != nil {
		if val, ok := result.Response["content"].(string); ok && val != "" {
			return val
		}
		if errStr, ok := result.Response["error"].(string); ok && errStr != "" {
			return "Error: " + errStr
		}
		if data, ok := result.Response["data"]; ok {
			if jsonBytes, err := json.Marshal(data); err == nil {
				return string(jsonBytes)
			}
		}
	}
	return "Operation completed"
}

// convertHistoryForFallback converts history for models using text-based
// tool calling. Tool calls in model turns become plain text and tool
// results become user messages.
func (c *OllamaClient) convertHistoryForFallback(history []*Turn) []api.Message {
	messages := make([]api.Message, 0, len(history)+1)

	c.mu.RLock()
	sysInstruction := c.systemInstruction
	c.mu.RUnlock()
	if sysInstruction != "" {
		messages = append(messages, api.Message{Role: "system", Content: sysInstruction})
	}

	for _, turn := range history {
		if turn == nil {
			continue
		}

		msg := api.Message{}
		switch turn.Role {
		case RoleUser, RoleTool:
			msg.Role = "user"
		case RoleModel:
			msg.Role = "assistant"
		default:
			msg.Role = string(turn.Role)
		}

		var textParts []string
		for _, p := range turn.Parts {
			if p.Text != "" {
				textParts = append(textParts, p.Text)
			}
			if p.ToolCall != nil {
				argsJSON, _ := json.Marshal(p.ToolCall.Args)
				textParts = append(textParts, fmt.Sprintf(
					"```json\n{\"tool\": \"%s\", \"args\": %s}\n```",
					p.ToolCall.Name, string(argsJSON)))
			}
			if p.ToolResult != nil {
				textParts = append(textParts, fmt.Sprintf(
					"Tool result for %s:\n%s", p.ToolResult.Name, toolResultContent(p.ToolResult)))
			}
		}

		msg.Content = strings.Join(textParts, "\n")
		if msg.Content != "" {
			messages = append(messages, msg)
		}
	}

	return messages
}

// convertToolsToOllama converts canonical declarations to Ollama tools.
func convertToolsToOllama(decls []*ToolDeclaration) []api.Tool {
	tools := make([]api.Tool, 0, len(decls))

	for _, decl := range decls {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: api.NewToolPropertiesMap(),
		}

		if decl.Parameters != nil {
			if len(decl.Parameters.Required) > 0 {
				params.Required = decl.Parameters.Required
			}

			for name, propSchema := range decl.Parameters.Properties {
				prop := api.ToolProperty{
					Description: propSchema.Description,
				}
				if propSchema.Type != "" {
					prop.Type = api.PropertyType{strings.ToLower(propSchema.Type)}
				}
				if len(propSchema.Enum) > 0 {
					enumVals := make([]any, len(propSchema.Enum))
					for i, v := range propSchema.Enum {
						enumVals[i] = v
					}
					prop.Enum = enumVals
				}
				params.Properties.Set(name, prop)
			}
		}

		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
		})
	}

	return tools
}

// convertOllamaToolCall converts an Ollama tool call to canonical form.
func convertOllamaToolCall(tc api.ToolCall, index int) *ToolCall {
	id := tc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
		if tc.Function.Index > 0 {
			id = fmt.Sprintf("call_%d", tc.Function.Index)
		}
	}
	return &ToolCall{
		ID:   id,
		Name: tc.Function.Name,
		Args: tc.Function.Arguments.ToMap(),
	}
}

// convertToolCallToOllama converts a canonical tool call to Ollama form.
func convertToolCallToOllama(call *ToolCall) api.ToolCall {
	args := api.NewToolCallFunctionArguments()
	for k, v := range call.Args {
		args.Set(k, v)
	}
	return api.ToolCall{
		ID: call.ID,
		Function: api.ToolCallFunction{
			Name:      call.Name,
			Arguments: args,
		},
	}
}

// wrapOllamaError wraps Ollama errors with user-friendly messages.
func (c *OllamaClient) wrapOllamaError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") {
		return fmt.Errorf(`Ollama server is not running.

To fix this:
  1. Start Ollama: ollama serve
  2. Or check if it's running: ollama list

Original error: %w`, err)
	}

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return fmt.Errorf(`Ollama request timed out.

Possible causes:
  • Model is loading into memory (first request is slow)
  • Model is too large for available RAM/VRAM
  • Server is overloaded

Try again or use a smaller model.

Original error: %w`, err)
	}

	var statusErr *api.StatusError
	notFound := errors.As(err, &statusErr) && statusErr.StatusCode == 404
	if notFound || (strings.Contains(errStr, "model") && strings.Contains(errStr, "not found")) {
		return fmt.Errorf(`Model '%s' is not installed.

To fix this:
  1. Pull the model: ollama pull %s
  2. Or list available models: ollama list

Original error: %w`, c.config.Model, c.config.Model, err)
	}

	return err
}
