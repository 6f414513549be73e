package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"kodai/internal/logging"
)

// OpenAIConfig holds configuration for OpenAI-compatible APIs.
type OpenAIConfig struct {
	BaseURL            string // Default: "https://api.openai.com/v1"
	APIKey             string
	Model              string        // e.g., "gpt-4o-mini"
	Temperature        float32       // Temperature for generation
	MaxTokens          int32         // Max output tokens
	HTTPTimeout        time.Duration // HTTP request timeout (default: 120s)
	MaxRetries         int           // Maximum retry attempts (default: 3)
	RetryDelay         time.Duration // Initial delay between retries (default: 1s)
	MinRequestInterval time.Duration // Minimum delay between requests (0 = none)
}

// OpenAIClient implements Client for OpenAI-compatible chat APIs using
// raw SSE streaming.
type OpenAIClient struct {
	httpClient        *http.Client
	config            OpenAIConfig
	tools             []*ToolDeclaration
	rateLimiter       RateLimiter
	systemInstruction string
	pace              *pacer
	mu                sync.RWMutex
}

// NewOpenAIClient creates a new OpenAI-compatible API client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key required: set OPENAI_API_KEY or api.openai_key in config")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
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

	return &OpenAIClient{
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		config:     config,
		pace:       newPacer(config.MinRequestInterval),
	}, nil
}

// SetSystemInstruction sets the system-level instruction for the model.
func (c *OpenAIClient) SetSystemInstruction(instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemInstruction = instruction
}

// SetTools sets the tools available for function calling.
func (c *OpenAIClient) SetTools(decls []*ToolDeclaration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = decls
}

// SetRateLimiter sets the rate limiter for API calls.
func (c *OpenAIClient) SetRateLimiter(limiter RateLimiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimiter = limiter
}

// IsConfigured reports whether the client can reach its backend.
func (c *OpenAIClient) IsConfigured() bool {
	return c.config.APIKey != "" && c.config.Model != ""
}

// Capabilities returns the provider's declared abilities.
func (c *OpenAIClient) Capabilities() Capabilities {
	return Capabilities{
		Provider:                "openai",
		MaxOutputTokens:         c.config.MaxTokens,
		MaxContextTokens:        128_000,
		SupportsFunctionCalling: true,
		MinRequestInterval:      c.config.MinRequestInterval,
	}
}

// HealthStatus probes the models endpoint.
func (c *OpenAIClient) HealthStatus(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/models", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Healthy: false, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return HealthStatus{Healthy: true}
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.config.Model
}

// Close closes the client connection.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SendMessage sends a message and returns a streaming response.
func (c *OpenAIClient) SendMessage(ctx context.Context, message string) (*StreamingResponse, error) {
	return c.SendMessageWithHistory(ctx, nil, message)
}

// SendMessageWithHistory sends a message with conversation history.
func (c *OpenAIClient) SendMessageWithHistory(ctx context.Context, history []*Turn, message string) (*StreamingResponse, error) {
	messages := c.convertHistory(history)
	if message != "" {
		messages = append(messages, oaiMessage{Role: "user", Content: message})
	}
	return c.streamCompletion(ctx, messages)
}

// SendToolResults sends tool results back to the model. The tool turn
// already present in history is the only source of result messages.
func (c *OpenAIClient) SendToolResults(ctx context.Context, history []*Turn) (*StreamingResponse, error) {
	return c.streamCompletion(ctx, c.convertHistory(history))
}

// oaiMessage is the wire shape of an OpenAI chat message.
type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string     `json:"type"`
	Function oaiToolDef `json:"function"`
}

type oaiToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// convertHistory converts canonical history to OpenAI wire messages.
// Every tool result part maps to exactly one role:"tool" message.
func (c *OpenAIClient) convertHistory(history []*Turn) []oaiMessage {
	messages := make([]oaiMessage, 0, len(history)+1)

	c.mu.RLock()
	sysInstruction := c.systemInstruction
	c.mu.RUnlock()
	if sysInstruction != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: sysInstruction})
	}

	for _, turn := range history {
		if turn == nil {
			continue
		}

		if turn.Role == RoleTool {
			for _, p := range turn.Parts {
				if p.ToolResult != nil {
					messages = append(messages, toolResultOAIMessage(p.ToolResult))
				}
			}
			continue
		}

		msg := oaiMessage{Role: "user"}
		if turn.Role == RoleModel {
			msg.Role = "assistant"
		}

		var textParts []string
		for _, p := range turn.Parts {
			if p.Text != "" {
				textParts = append(textParts, p.Text)
			}
			if p.ToolCall != nil {
				argsJSON, _ := json.Marshal(p.ToolCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, oaiToolCall{
					ID:   p.ToolCall.ID,
					Type: "function",
					Function: oaiFunction{
						Name:      p.ToolCall.Name,
						Arguments: string(argsJSON),
					},
				})
			}
		}
		msg.Content = strings.Join(textParts, "\n")

		if msg.Content != "" || len(msg.ToolCalls) > 0 {
			messages = append(messages, msg)
		}
	}

	return messages
}

func toolResultOAIMessage(result *ToolResult) oaiMessage {
	return oaiMessage{
		Role:       "tool",
		Content:    toolResultContent(result),
		ToolCallID: result.ID,
	}
}

// convertToolsToOpenAI converts canonical declarations to wire tools.
func convertToolsToOpenAI(decls []*ToolDeclaration) []oaiTool {
	tools := make([]oaiTool, 0, len(decls))
	for _, decl := range decls {
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiToolDef{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  schemaToJSONMap(decl.Parameters),
			},
		})
	}
	return tools
}

// schemaToJSONMap converts a Schema to a plain JSON-schema map.
func schemaToJSONMap(s *Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = schemaToJSONMap(prop)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = schemaToJSONMap(s.Items)
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	return out
}

// streamCompletion performs a streaming request with retry logic.
func (c *OpenAIClient) streamCompletion(ctx context.Context, messages []oaiMessage) (*StreamingResponse, error) {
	var estimatedTokens int64 = 500
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
			logging.Info("retrying OpenAI request",
				"attempt", attempt, "delay", delay, "reason", shortenRetryReason(lastErr))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := c.doStreamCompletion(ctx, messages)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			if rateLimiter != nil {
				rateLimiter.ReturnTokens(1, estimatedTokens)
			}
			return nil, err
		}

		logging.Warn("OpenAI request failed, will retry", "attempt", attempt, "error", err)
	}

	if rateLimiter != nil {
		rateLimiter.ReturnTokens(1, estimatedTokens)
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, lastErr)
}

// chunkDelta mirrors the streaming delta shape of the chat completions API.
type chunkDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// partialToolCall accumulates a tool call streamed across deltas.
type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

// doStreamCompletion performs a single SSE streaming request.
func (c *OpenAIClient) doStreamCompletion(ctx context.Context, messages []oaiMessage) (*StreamingResponse, error) {
	if err := c.pace.wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"model":          c.config.Model,
		"messages":       messages,
		"stream":         true,
		"max_tokens":     c.config.MaxTokens,
		"stream_options": map[string]any{"include_usage": true},
	}
	if c.config.Temperature > 0 {
		body["temperature"] = c.config.Temperature
	}

	c.mu.RLock()
	if len(c.tools) > 0 {
		body["tools"] = convertToolsToOpenAI(c.tools)
	}
	c.mu.RUnlock()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	chunks := make(chan Chunk, 10)
	done := make(chan struct{})

	go func() {
		defer close(chunks)
		defer close(done)
		defer resp.Body.Close()

		partials := make(map[int]*partialToolCall)
		var usageIn, usageOut int

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		emit := func(chunk Chunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var delta chunkDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				logging.Debug("skipping malformed SSE event", "error", err)
				continue
			}

			if delta.Usage != nil {
				usageIn = delta.Usage.PromptTokens
				usageOut = delta.Usage.CompletionTokens
			}

			if len(delta.Choices) == 0 {
				continue
			}
			choice := delta.Choices[0]

			if choice.Delta.Content != "" {
				if !emit(Chunk{Text: choice.Delta.Content, InputTokens: usageIn, OutputTokens: usageOut}) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				p, ok := partials[tc.Index]
				if !ok {
					p = &partialToolCall{}
					partials[tc.Index] = p
				}
				if tc.ID != "" {
					p.id = tc.ID
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args.WriteString(tc.Function.Arguments)
			}
		}

		if err := scanner.Err(); err != nil {
			emit(Chunk{Error: err, Done: true})
			return
		}

		final := Chunk{
			Done:         true,
			FinishReason: "stop",
			InputTokens:  usageIn,
			OutputTokens: usageOut,
			ToolCalls:    assembleToolCalls(partials),
		}
		if len(final.ToolCalls) > 0 {
			final.FinishReason = "tool_calls"
		}
		emit(final)
	}()

	return &StreamingResponse{Chunks: chunks, Done: done}, nil
}

// assembleToolCalls finalizes accumulated partial tool calls in index order.
func assembleToolCalls(partials map[int]*partialToolCall) []*ToolCall {
	if len(partials) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(partials))
	for i := range partials {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]*ToolCall, 0, len(partials))
	for _, i := range indexes {
		p := partials[i]
		if p.name == "" {
			continue
		}

		args := make(map[string]any)
		raw := strings.TrimSpace(p.args.String())
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				logging.Warn("failed to decode tool call arguments", "tool", p.name, "error", err)
				args = map[string]any{}
			}
		}

		id := p.id
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		calls = append(calls, &ToolCall{ID: id, Name: p.name, Args: args})
	}

	return calls
}
