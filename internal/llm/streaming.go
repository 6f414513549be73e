package llm

import "context"

// StreamHandler provides callbacks for handling streaming responses.
type StreamHandler struct {
	// OnText is called for each text chunk received.
	OnText func(text string)

	// OnToolCall is called for each normalized tool call received.
	OnToolCall func(call *ToolCall)

	// OnError is called when an error occurs.
	OnError func(err error)

	// OnComplete is called when the response is complete.
	OnComplete func(response *Response)
}

// ProcessStream processes a streaming response with the given handler.
// Token counters use max semantics across chunks.
func ProcessStream(ctx context.Context, sr *StreamingResponse, handler *StreamHandler) (*Response, error) {
	resp := &Response{}

	for {
		// Cancellation wins over a ready chunk
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-sr.Chunks:
			if !ok {
				if handler.OnComplete != nil {
					handler.OnComplete(resp)
				}
				return resp, nil
			}

			if chunk.Error != nil {
				if handler.OnError != nil {
					handler.OnError(chunk.Error)
				}
				return nil, chunk.Error
			}

			if chunk.Text != "" {
				resp.Text += chunk.Text
				if handler.OnText != nil {
					handler.OnText(chunk.Text)
				}
			}

			for _, call := range chunk.ToolCalls {
				resp.ToolCalls = append(resp.ToolCalls, call)
				if handler.OnToolCall != nil {
					handler.OnToolCall(call)
				}
			}

			if chunk.InputTokens > resp.InputTokens {
				resp.InputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > resp.OutputTokens {
				resp.OutputTokens = chunk.OutputTokens
			}

			if chunk.Done {
				resp.FinishReason = chunk.FinishReason
				if handler.OnComplete != nil {
					handler.OnComplete(resp)
				}
				return resp, nil
			}
		}
	}
}

// CollectText is a convenience function that collects only text from a stream.
func CollectText(ctx context.Context, sr *StreamingResponse) (string, error) {
	resp, err := ProcessStream(ctx, sr, &StreamHandler{})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
