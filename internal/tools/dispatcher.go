package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"kodai/internal/llm"
	"kodai/internal/logging"
	"kodai/internal/robustness"
	"kodai/internal/security"
)

// uiFlushInterval caps visible text updates at 20 per second.
const uiFlushInterval = 50 * time.Millisecond

// Handler provides callbacks for dispatch events. Text callbacks are
// throttled; tool callbacks fire once per event.
type Handler struct {
	// OnText is called with batched text streamed from the model.
	OnText func(text string)

	// OnToolStart is called when a tool begins execution.
	OnToolStart func(name string, args map[string]any)

	// OnToolEnd is called when a tool finishes execution.
	OnToolEnd func(name string, result ToolResult)

	// OnToolRetry is called before each retry of a failing tool with
	// the error from the previous attempt.
	OnToolRetry func(name string, attempt, maxAttempts int, err error)
}

// DispatchOptions controls a single dispatch.
type DispatchOptions struct {
	// SingleTurn stops after the first model response even if it
	// requested tools. The tools still run and their results are
	// appended, but no follow-up model call is made.
	SingleTurn bool
}

// DispatchResult is the outcome of one dispatch.
type DispatchResult struct {
	// History is the updated conversation including every turn this
	// dispatch appended.
	History []*llm.Turn

	// Text is the final visible model text.
	Text string

	// Usage sums the token accounting of every model call made.
	Usage llm.Usage
}

// Dispatcher runs the model conversation loop for one turn: stream the
// response, execute any requested tools in declaration order, feed the
// results back, and repeat until the model answers with plain text.
type Dispatcher struct {
	registry  *Registry
	client    llm.Client
	timeout   time.Duration
	handler   *Handler
	retryOpts robustness.RetryOptions
	breakers  *robustness.BreakerSet
	redactor  *security.SecretRedactor
}

// NewDispatcher creates a dispatcher with the default tool retry policy
// and per-tool circuit breakers.
func NewDispatcher(registry *Registry, client llm.Client, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		client:    client,
		timeout:   timeout,
		handler:   &Handler{},
		retryOpts: robustness.DefaultToolRetryOptions(),
		breakers:  robustness.NewBreakerSet(5, time.Minute),
		redactor:  security.NewSecretRedactor(),
	}
}

// SetHandler sets the dispatch event handler.
func (d *Dispatcher) SetHandler(handler *Handler) {
	if handler != nil {
		d.handler = handler
	}
}

// SetClient swaps the underlying model client.
func (d *Dispatcher) SetClient(client llm.Client) {
	d.client = client
}

// SetRetryOptions overrides the tool retry policy.
func (d *Dispatcher) SetRetryOptions(opts robustness.RetryOptions) {
	d.retryOpts = opts
}

// Dispatch sends message on top of history and runs the tool loop.
// The returned history always ends in a model turn unless the context
// was cancelled, in which case no partial state is appended.
func (d *Dispatcher) Dispatch(ctx context.Context, history []*llm.Turn, message string, opts DispatchOptions) (*DispatchResult, error) {
	stream, err := d.client.SendMessageWithHistory(ctx, history, message)
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}

	history = append(history, llm.NewTextTurn(llm.RoleUser, message))
	result := &DispatchResult{}
	textFallback := !d.client.Capabilities().SupportsFunctionCalling

	for {
		resp, err := d.collect(ctx, stream)
		if err != nil {
			result.History = history
			return result, err
		}

		result.Usage.InputTokens += resp.InputTokens
		result.Usage.OutputTokens += resp.OutputTokens

		// Models without native function calling emit tool calls as JSON
		// in their text instead.
		if textFallback && len(resp.ToolCalls) == 0 {
			if calls := llm.ParseToolCallsFromText(resp.Text); len(calls) > 0 {
				resp.ToolCalls = calls
				resp.Text = llm.StripToolCallText(resp.Text)
			}
		}

		history = append(history, modelTurn(resp))
		result.Text = resp.Text

		if len(resp.ToolCalls) == 0 {
			break
		}

		toolResults, execErr := d.executeAll(ctx, resp.ToolCalls)
		if execErr != nil {
			// Cancelled mid-plan: the already-completed results are
			// dropped rather than appended as a dangling tool turn.
			result.History = history
			return result, execErr
		}

		history = append(history, llm.NewToolResultTurn(toolResults))

		if opts.SingleTurn {
			break
		}

		stream, err = d.client.SendToolResults(ctx, history)
		if err != nil {
			result.History = history
			return result, fmt.Errorf("tool results request: %w", err)
		}
	}

	result.History = history
	return result, nil
}

// collect drains a stream through llm.ProcessStream, forwarding text to
// the handler in batches no more often than uiFlushInterval.
func (d *Dispatcher) collect(ctx context.Context, stream *llm.StreamingResponse) (*llm.Response, error) {
	var pending strings.Builder
	lastFlush := time.Now()

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		if d.handler.OnText != nil {
			d.handler.OnText(pending.String())
		}
		pending.Reset()
		lastFlush = time.Now()
	}

	resp, err := llm.ProcessStream(ctx, stream, &llm.StreamHandler{
		OnText: func(text string) {
			pending.WriteString(text)
			if time.Since(lastFlush) >= uiFlushInterval {
				flush()
			}
		},
	})
	flush()
	return resp, err
}

// executeAll runs the calls sequentially in declaration order. A failed
// tool still produces a result for the model; only cancellation aborts
// the sequence.
func (d *Dispatcher) executeAll(ctx context.Context, calls []*llm.ToolCall) ([]*llm.ToolResult, error) {
	results := make([]*llm.ToolResult, 0, len(calls))

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := d.executeTool(ctx, call)

		if d.redactor != nil {
			result.Content = d.redactor.Redact(result.Content)
			result.Error = d.redactor.Redact(result.Error)
		}

		results = append(results, &llm.ToolResult{
			ID:       call.ID,
			Name:     call.Name,
			Response: result.ToMap(),
		})
	}

	return results, nil
}

// executeTool runs one call through the retry policy and the tool's
// circuit breaker. The error of an exhausted retry becomes an error
// result; it never aborts the dispatch.
func (d *Dispatcher) executeTool(ctx context.Context, call *llm.ToolCall) ToolResult {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return NewErrorResult(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	if err := tool.Validate(call.Args); err != nil {
		return NewErrorResult(fmt.Sprintf("validation error: %s", err))
	}

	if d.handler.OnToolStart != nil {
		d.handler.OnToolStart(call.Name, call.Args)
	}

	breaker := d.breakers.Get(call.Name)
	start := time.Now()

	result, err := robustness.Retry(ctx, "tool", d.retryOpts,
		func(ctx context.Context) (ToolResult, error) {
			return d.attemptTool(ctx, tool, call, breaker)
		},
		func(a robustness.Attempt) {
			logging.Info("retrying tool", "tool", call.Name, "attempt", a.Number, "error", a.Err)
			if d.handler.OnToolRetry != nil {
				d.handler.OnToolRetry(call.Name, a.Number, d.retryOpts.MaxAttempts, a.Err)
			}
		})

	if err != nil {
		result = NewErrorResult(err.Error())
	}

	logging.Info("tool execution completed",
		"tool", call.Name,
		"success", result.Success,
		"duration", time.Since(start))

	if d.handler.OnToolEnd != nil {
		d.handler.OnToolEnd(call.Name, result)
	}

	return result
}

// attemptTool is a single retryable execution. A running tool is never
// interrupted by session cancellation; the timeout is its only bound.
func (d *Dispatcher) attemptTool(ctx context.Context, tool Tool, call *llm.ToolCall, breaker *robustness.CircuitBreaker) (ToolResult, error) {
	var result ToolResult

	err := breaker.Execute(ctx, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := make([]byte, 4096)
				n := runtime.Stack(stack, false)
				logging.Error("tool panic", "tool", call.Name, "panic", r, "stack", string(stack[:n]))
				err = robustness.Permanent(fmt.Errorf("panic: %v", r))
			}
		}()

		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		res, execErr := tool.Execute(execCtx, call.Args)
		if execErr != nil {
			return execErr
		}
		result = res

		if !res.Success {
			toolErr := errors.New(res.Error)
			cls := robustness.Classify(res.Error)
			if cls.Category == robustness.ErrorPermissionDenied {
				return robustness.Permanent(toolErr)
			}
			return toolErr
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, robustness.ErrCircuitOpen) {
			return result, robustness.Permanent(fmt.Errorf("tool %s temporarily disabled after repeated failures", call.Name))
		}
		return result, err
	}

	return result, nil
}

// modelTurn builds a history turn from a collected response.
func modelTurn(resp *llm.Response) *llm.Turn {
	turn := &llm.Turn{Role: llm.RoleModel}
	if resp.Text != "" {
		turn.Parts = append(turn.Parts, llm.Part{Text: resp.Text})
	}
	for _, call := range resp.ToolCalls {
		turn.Parts = append(turn.Parts, llm.Part{ToolCall: call})
	}
	return turn
}
