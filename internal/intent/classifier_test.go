package intent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"kodai/internal/llm"
)

// replyClient answers every message with a fixed reply, or errors.
type replyClient struct {
	reply string
	fail  bool
}

func (c *replyClient) stream() (*llm.StreamingResponse, error) {
	if c.fail {
		return nil, fmt.Errorf("provider unavailable")
	}
	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: c.reply}
	ch <- llm.Chunk{Done: true}
	close(ch)
	done := make(chan struct{})
	close(done)
	return &llm.StreamingResponse{Chunks: ch, Done: done}, nil
}

func (c *replyClient) SendMessage(ctx context.Context, message string) (*llm.StreamingResponse, error) {
	return c.stream()
}

func (c *replyClient) SendMessageWithHistory(ctx context.Context, history []*llm.Turn, message string) (*llm.StreamingResponse, error) {
	return c.stream()
}

func (c *replyClient) SendToolResults(ctx context.Context, history []*llm.Turn) (*llm.StreamingResponse, error) {
	return c.stream()
}

func (c *replyClient) SetTools(decls []*llm.ToolDeclaration) {}

func (c *replyClient) SetSystemInstruction(instruction string) {}

func (c *replyClient) SetRateLimiter(limiter llm.RateLimiter) {}

func (c *replyClient) IsConfigured() bool { return true }

func (c *replyClient) Capabilities() llm.Capabilities { return llm.Capabilities{} }

func (c *replyClient) HealthStatus(ctx context.Context) llm.HealthStatus {
	return llm.HealthStatus{Healthy: true}
}

func (c *replyClient) Model() string { return "reply" }

func (c *replyClient) Close() error { return nil }

func TestClassify_RoutesModelReply(t *testing.T) {
	c := NewClassifier(&replyClient{reply: "INTENT: TASK\nLABELS: multi_step"})
	d := c.Classify(context.Background(), nil, "add retry handling to the fetcher")
	assert.Equal(t, IntentTask, d.Intent)
}

func TestClassify_ProviderFailureFallsBackToDirect(t *testing.T) {
	c := NewClassifier(&replyClient{fail: true})
	d := c.Classify(context.Background(), nil, "anything")
	assert.Equal(t, IntentDirect, d.Intent)
}

func TestClassify_EmptyUtterance(t *testing.T) {
	c := NewClassifier(&replyClient{reply: "INTENT: TASK"})
	d := c.Classify(context.Background(), nil, "   ")
	assert.Equal(t, IntentDirect, d.Intent)
}

func TestParseDecision_ClosedIntentSet(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		intent Intent
	}{
		{"direct", "INTENT: DIRECT\nLABELS: question", IntentDirect},
		{"tool", "INTENT: TOOL\nLABELS:", IntentTool},
		{"task", "INTENT: TASK\nLABELS: multi_step", IntentTask},
		{"lowercase accepted", "intent: task\nlabels: chat", IntentTask},
		{"unknown intent falls back", "INTENT: MAYBE\nLABELS: question", IntentDirect},
		{"garbage falls back", "I think this is probably a task?", IntentDirect},
		{"empty reply falls back", "", IntentDirect},
		{"surrounding prose ignored", "Sure!\nINTENT: TOOL\nLABELS: question\nHope that helps.", IntentTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.intent, ParseDecision(tt.reply).Intent)
		})
	}
}

func TestParseDecision_Labels(t *testing.T) {
	d := ParseDecision("INTENT: DIRECT\nLABELS: Question, chat ,")
	assert.Equal(t, []string{"question", "chat"}, d.Labels)
	assert.Equal(t, IntentDirect, d.Intent)
}

func TestParseDecision_LabelUpgrades(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		intent Intent
	}{
		{"strong label upgrades", "INTENT: DIRECT\nLABELS: implement_feature", IntentTask},
		{"multi_step upgrades", "INTENT: TOOL\nLABELS: multi_step", IntentTask},
		{"two actionable upgrade", "INTENT: DIRECT\nLABELS: modify_files, write_tests", IntentTask},
		{"one actionable stays", "INTENT: DIRECT\nLABELS: modify_files", IntentDirect},
		{"non-actionable stay", "INTENT: DIRECT\nLABELS: question, chat", IntentDirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.intent, ParseDecision(tt.reply).Intent)
		})
	}
}

func TestParseDecision_KeepsRaw(t *testing.T) {
	reply := "INTENT: TOOL\nLABELS: question"
	assert.Equal(t, reply, ParseDecision(reply).Raw)
}
