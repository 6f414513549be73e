package llm

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Turn is a single entry in the conversation history.
type Turn struct {
	Role  Role
	Parts []Part
}

// Part is one piece of a turn: text, a tool call, or a tool result.
// Exactly one field should be set.
type Part struct {
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// NewTextTurn creates a turn containing a single text part.
func NewTextTurn(role Role, text string) *Turn {
	return &Turn{Role: role, Parts: []Part{{Text: text}}}
}

// NewToolResultTurn creates a tool turn carrying the given results in order.
func NewToolResultTurn(results []*ToolResult) *Turn {
	turn := &Turn{Role: RoleTool, Parts: make([]Part, 0, len(results))}
	for _, r := range results {
		turn.Parts = append(turn.Parts, Part{ToolResult: r})
	}
	return turn
}

// Text returns the concatenated text parts of a turn.
func (t *Turn) Text() string {
	var s string
	for _, p := range t.Parts {
		s += p.Text
	}
	return s
}

// ToolCalls returns the tool-call parts of a turn in declaration order.
func (t *Turn) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			calls = append(calls, p.ToolCall)
		}
	}
	return calls
}

// ToolCall is the canonical form of a model-requested tool invocation.
// ID is preserved across the provider boundary so results correlate to
// exactly one call.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the canonical outcome of a tool invocation, keyed by the
// originating call ID. Response carries either {"success": true, ...} or
// {"success": false, "error": ...}.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// ErrorText returns the error message from a failed result, or "".
func (r *ToolResult) ErrorText() string {
	if r.Response == nil {
		return ""
	}
	if msg, ok := r.Response["error"].(string); ok {
		return msg
	}
	return ""
}

// Schema describes a tool parameter in JSON-schema shape.
type Schema struct {
	Type        string // "object", "string", "integer", "number", "boolean", "array"
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
	Enum        []string
}

// ToolDeclaration describes a callable tool to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Chunk is a single piece of a streaming response.
type Chunk struct {
	// Text contains any text content in this chunk.
	Text string

	// ToolCalls contains normalized tool calls seen in this chunk,
	// in the order the provider emitted them.
	ToolCalls []*ToolCall

	// Error contains any error that occurred.
	Error error

	// Done indicates if this is the final chunk.
	Done bool

	// FinishReason indicates why the response finished.
	FinishReason string

	// InputTokens is the absolute prompt token count reported so far.
	InputTokens int

	// OutputTokens is the absolute completion token count reported so far.
	OutputTokens int
}

// StreamingResponse represents a streaming response from the model.
type StreamingResponse struct {
	// Chunks is a channel that receives response chunks.
	Chunks <-chan Chunk

	// Done is closed when the response is complete.
	Done <-chan struct{}
}

// Response is a fully collected model response.
type Response struct {
	Text         string
	ToolCalls    []*ToolCall
	FinishReason string

	// Token counters use max semantics: providers report absolute
	// values per chunk, so the largest value seen wins.
	InputTokens  int
	OutputTokens int
}

// Collect drains a streaming response into a single Response.
func (sr *StreamingResponse) Collect() (*Response, error) {
	resp := &Response{}

	for chunk := range sr.Chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}

		resp.Text += chunk.Text
		resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)

		if chunk.InputTokens > resp.InputTokens {
			resp.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > resp.OutputTokens {
			resp.OutputTokens = chunk.OutputTokens
		}

		if chunk.Done {
			resp.FinishReason = chunk.FinishReason
		}
	}

	return resp, nil
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Provider                string
	MaxOutputTokens         int32
	MaxContextTokens        int
	SupportsFunctionCalling bool
	// MinRequestInterval is the minimum delay the client enforces
	// between consecutive requests. Zero means no pacing.
	MinRequestInterval time.Duration
}

// HealthStatus is a point-in-time provider health snapshot.
type HealthStatus struct {
	Healthy bool
	Detail  string
}

// Usage captures the token accounting of one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Ptr returns a pointer to the given value.
func Ptr[T any](v T) *T {
	return &v
}
