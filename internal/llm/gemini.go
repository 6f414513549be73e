package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kodai/internal/logging"

	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey             string
	Model              string        // e.g., "gemini-2.5-flash"
	Temperature        float32       // Temperature for generation
	MaxOutputTokens    int32         // Max output tokens (0 = provider default)
	MaxRetries         int           // Maximum retry attempts (default: 3)
	RetryDelay         time.Duration // Initial delay between retries (default: 1s)
	MinRequestInterval time.Duration // Minimum delay between requests (0 = none)
}

// GeminiClient wraps the Google Gemini API.
type GeminiClient struct {
	client            *genai.Client
	config            GeminiConfig
	genConfig         *genai.GenerateContentConfig
	tools             []*ToolDeclaration
	rateLimiter       RateLimiter
	systemInstruction string
	pace              *pacer
	mu                sync.RWMutex
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key required: set GEMINI_API_KEY or api.gemini_key in config")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 1 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: Ptr(cfg.Temperature),
	}
	if cfg.MaxOutputTokens > 0 {
		genConfig.MaxOutputTokens = cfg.MaxOutputTokens
	}

	return &GeminiClient{
		client:    client,
		config:    cfg,
		genConfig: genConfig,
		pace:      newPacer(cfg.MinRequestInterval),
	}, nil
}

// SetSystemInstruction sets the system-level instruction for the model.
func (c *GeminiClient) SetSystemInstruction(instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemInstruction = instruction
}

// SetTools sets the tools available for function calling.
func (c *GeminiClient) SetTools(decls []*ToolDeclaration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = decls
}

// SetRateLimiter sets the rate limiter for API calls.
func (c *GeminiClient) SetRateLimiter(limiter RateLimiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimiter = limiter
}

// IsConfigured reports whether the client can reach its backend.
func (c *GeminiClient) IsConfigured() bool {
	return c.config.APIKey != "" && c.config.Model != ""
}

// Capabilities returns the provider's declared abilities.
func (c *GeminiClient) Capabilities() Capabilities {
	return Capabilities{
		Provider:                "gemini",
		MaxOutputTokens:         c.config.MaxOutputTokens,
		MaxContextTokens:        1_000_000,
		SupportsFunctionCalling: true,
		MinRequestInterval:      c.config.MinRequestInterval,
	}
}

// HealthStatus probes the backend with a minimal token count request.
func (c *GeminiClient) HealthStatus(ctx context.Context) HealthStatus {
	contents := []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}
	_, err := c.client.Models.CountTokens(ctx, c.config.Model, contents, nil)
	if err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

// Model returns the model name.
func (c *GeminiClient) Model() string {
	return c.config.Model
}

// Close closes the client connection.
func (c *GeminiClient) Close() error {
	// The genai client has no explicit close
	return nil
}

// SendMessage sends a user message and returns a streaming response.
func (c *GeminiClient) SendMessage(ctx context.Context, message string) (*StreamingResponse, error) {
	return c.SendMessageWithHistory(ctx, nil, message)
}

// SendMessageWithHistory sends a message with conversation history.
func (c *GeminiClient) SendMessageWithHistory(ctx context.Context, history []*Turn, message string) (*StreamingResponse, error) {
	contents := convertTurnsToContents(history)
	if message != "" {
		contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))
	}
	return c.generateContentStream(ctx, contents)
}

// SendToolResults sends tool results back to the model. The trailing
// tool turn in history becomes the function response content; Gemini
// rejects requests where call and response counts diverge, so nothing
// is appended beyond what the history carries.
func (c *GeminiClient) SendToolResults(ctx context.Context, history []*Turn) (*StreamingResponse, error) {
	return c.generateContentStream(ctx, convertTurnsToContents(history))
}

// convertTurnsToContents converts canonical history to genai contents.
func convertTurnsToContents(history []*Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		if turn == nil {
			continue
		}

		role := genai.RoleUser
		if turn.Role == RoleModel {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, p := range turn.Parts {
			switch {
			case p.ToolCall != nil:
				fc := &genai.FunctionCall{
					ID:   p.ToolCall.ID,
					Name: p.ToolCall.Name,
					Args: p.ToolCall.Args,
				}
				parts = append(parts, &genai.Part{FunctionCall: fc})
			case p.ToolResult != nil:
				part := genai.NewPartFromFunctionResponse(p.ToolResult.Name, p.ToolResult.Response)
				part.FunctionResponse.ID = p.ToolResult.ID
				parts = append(parts, part)
			case p.Text != "":
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		if len(parts) == 0 {
			parts = []*genai.Part{genai.NewPartFromText(" ")}
		}

		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGenai converts canonical declarations to genai tools.
func convertToolsToGenai(decls []*ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}

	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  convertSchemaToGenai(decl.Parameters),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func convertSchemaToGenai(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       convertSchemaToGenai(s.Items),
	}

	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}

	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchemaToGenai(prop)
		}
	}

	return out
}

// generateContentStream handles streaming content generation with retry.
func (c *GeminiClient) generateContentStream(ctx context.Context, contents []*genai.Content) (*StreamingResponse, error) {
	var lastErr error

	maxDelay := 30 * time.Second
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.RetryDelay, attempt-1, maxDelay)
			logging.Info("retrying Gemini request", "attempt", attempt, "delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := c.doGenerateContentStream(ctx, contents)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}

		logging.Warn("Gemini request failed, will retry", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, lastErr)
}

// resetTimer safely resets a timer to a new duration.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// doGenerateContentStream performs a single streaming request attempt.
func (c *GeminiClient) doGenerateContentStream(ctx context.Context, contents []*genai.Content) (*StreamingResponse, error) {
	if err := c.pace.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	rateLimiter := c.rateLimiter
	sysInstruction := c.systemInstruction
	tools := c.tools
	c.mu.RUnlock()

	var estimatedTokens int64
	if rateLimiter != nil {
		estimatedTokens = int64(len(contents) * 125)
		if err := rateLimiter.AcquireWithContext(ctx, estimatedTokens); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	config := *c.genConfig
	if sysInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(sysInstruction, genai.RoleUser)
	}
	if len(tools) > 0 {
		config.Tools = convertToolsToGenai(tools)
	}

	iter := c.client.Models.GenerateContentStream(ctx, c.config.Model, contents, &config)

	chunks := make(chan Chunk, 10)
	done := make(chan struct{})

	const streamIdleTimeout = 30 * time.Second

	go func() {
		defer close(chunks)
		defer close(done)

		hasError := false

		type iterResult struct {
			resp *genai.GenerateContentResponse
			err  error
		}
		iterCh := make(chan iterResult)

		go func() {
			defer close(iterCh)
			for resp, err := range iter {
				iterCh <- iterResult{resp, err}
			}
		}()

		idleTimer := time.NewTimer(streamIdleTimeout)
		defer idleTimer.Stop()

	streamLoop:
		for {
			select {
			case <-ctx.Done():
				hasError = true
				select {
				case chunks <- Chunk{Error: ctx.Err(), Done: true}:
				default:
				}
				break streamLoop

			case <-idleTimer.C:
				hasError = true
				logging.Warn("stream idle timeout exceeded", "timeout", streamIdleTimeout)
				chunks <- Chunk{
					Error: fmt.Errorf("stream idle timeout: no data received for %v", streamIdleTimeout),
					Done:  true,
				}
				break streamLoop

			case result, ok := <-iterCh:
				resetTimer(idleTimer, streamIdleTimeout)

				if !ok {
					break streamLoop
				}

				if result.err != nil {
					hasError = true
					select {
					case chunks <- Chunk{Error: result.err, Done: true}:
					case <-ctx.Done():
					}
					break streamLoop
				}

				if result.resp == nil {
					break streamLoop
				}

				chunk := processGeminiResponse(result.resp)

				select {
				case chunks <- chunk:
				case <-ctx.Done():
					hasError = true
					break streamLoop
				}

				if chunk.Done {
					break streamLoop
				}
			}
		}

		// Return tokens if streaming failed
		if hasError && rateLimiter != nil && estimatedTokens > 0 {
			rateLimiter.ReturnTokens(1, estimatedTokens)
		}
	}()

	return &StreamingResponse{Chunks: chunks, Done: done}, nil
}

// processGeminiResponse converts a Gemini response to a Chunk.
func processGeminiResponse(resp *genai.GenerateContentResponse) Chunk {
	chunk := Chunk{}

	if resp.UsageMetadata != nil {
		chunk.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		chunk.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	if len(resp.Candidates) == 0 {
		chunk.Done = true
		return chunk
	}

	candidate := resp.Candidates[0]
	chunk.FinishReason = string(candidate.FinishReason)

	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != "" {
				chunk.Text += part.Text
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", i)
				}
				chunk.ToolCalls = append(chunk.ToolCalls, &ToolCall{
					ID:   id,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}

	if candidate.FinishReason != "" {
		chunk.Done = true
	}

	return chunk
}

// shortenRetryReason compresses an error message for status display.
func shortenRetryReason(err error) string {
	if err == nil {
		return "API error"
	}
	reason := err.Error()
	switch {
	case strings.Contains(reason, "429"):
		return "rate limit"
	case strings.Contains(reason, "connection"):
		return "connection error"
	case strings.Contains(reason, "timeout"):
		return "timeout"
	}
	if len(reason) > 50 {
		return reason[:47] + "..."
	}
	return reason
}
