package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kodai/internal/agent"
	"kodai/internal/config"
	"kodai/internal/llm"
)

// nullClient satisfies llm.Client for tests that never reach a model.
type nullClient struct{}

func (nullClient) SendMessage(ctx context.Context, message string) (*llm.StreamingResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (nullClient) SendMessageWithHistory(ctx context.Context, history []*llm.Turn, message string) (*llm.StreamingResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (nullClient) SendToolResults(ctx context.Context, history []*llm.Turn) (*llm.StreamingResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (nullClient) SetTools(decls []*llm.ToolDeclaration) {}

func (nullClient) SetSystemInstruction(instruction string) {}

func (nullClient) SetRateLimiter(limiter llm.RateLimiter) {}

func (nullClient) IsConfigured() bool { return true }

func (nullClient) Capabilities() llm.Capabilities { return llm.Capabilities{} }

func (nullClient) HealthStatus(ctx context.Context) llm.HealthStatus { return llm.HealthStatus{} }

func (nullClient) Model() string { return "null" }

func (nullClient) Close() error { return nil }

func turns(n int) []*llm.Turn {
	out := make([]*llm.Turn, 0, n)
	for i := 0; i < n; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleModel
		}
		out = append(out, llm.NewTextTurn(role, fmt.Sprintf("turn %d", i)))
	}
	return out
}

func TestNewSession_Defaults(t *testing.T) {
	s := NewSession(&config.Config{})
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, agent.ModeCode, s.Mode())

	s.SetMode(agent.ModePlan)
	assert.Equal(t, agent.ModePlan, s.Mode())
}

func TestSendMessage_RequiresInitialize(t *testing.T) {
	s := NewSession(&config.Config{})
	_, err := s.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBeginSend_RejectsConcurrentSends(t *testing.T) {
	s := NewSession(&config.Config{})
	s.client = nullClient{}

	_, err := s.beginSend(context.Background())
	require.NoError(t, err)

	_, err = s.beginSend(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	s.endSend()
	_, err = s.beginSend(context.Background())
	assert.NoError(t, err)
	s.endSend()
}

func TestCancel_AbortsSendContext(t *testing.T) {
	s := NewSession(&config.Config{})
	s.client = nullClient{}

	ctx, err := s.beginSend(context.Background())
	require.NoError(t, err)
	defer s.endSend()

	s.Cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func offlineConfig() *config.Config {
	return &config.Config{
		API:   config.APIConfig{ActiveProvider: "ollama"},
		Model: config.ModelConfig{Name: "test-model"},
	}
}

func TestInitialize_LoadsPriorHistory(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	cfg := offlineConfig()

	prior := NewSession(cfg)
	prior.history = []*llm.Turn{
		llm.NewTextTurn(llm.RoleUser, "where is the parser?"),
		llm.NewTextTurn(llm.RoleModel, "internal/intent/parser.go"),
	}
	mgr, err := NewHistoryManager()
	require.NoError(t, err)
	require.NoError(t, mgr.Save(prior))

	s := NewSession(cfg)
	require.NoError(t, s.Initialize(context.Background(), t.TempDir()))
	defer s.Close()

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "where is the parser?", history[0].Text())
	assert.Equal(t, llm.RoleModel, history[1].Role)
}

func TestClose_SavesTranscript(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	s := NewSession(offlineConfig())
	require.NoError(t, s.Initialize(context.Background(), t.TempDir()))
	s.history = turns(2)
	require.NoError(t, s.Close())

	mgr, err := NewHistoryManager()
	require.NoError(t, err)
	loaded, err := mgr.Load(s.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Entries, 2)
}

func TestClearHistory_DeletesTranscript(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	s := NewSession(offlineConfig())
	require.NoError(t, s.Initialize(context.Background(), t.TempDir()))
	defer s.Close()

	s.history = turns(2)
	require.NoError(t, s.histMgr.Save(s))

	s.ClearHistory()
	assert.Empty(t, s.History())
	_, err := s.histMgr.Load(s.ID)
	assert.Error(t, err)
}

func TestGetLLMDebugInfo_MasksKey(t *testing.T) {
	cfg := &config.Config{
		API: config.APIConfig{ActiveProvider: "openai", OpenAIKey: "sk-test-abcd1234"},
	}
	s := NewSession(cfg)
	s.client = nullClient{}

	info := s.GetLLMDebugInfo()
	assert.Contains(t, info, "provider=openai")
	assert.Contains(t, info, "model=null")
	assert.Contains(t, info, "key=****1234")
	assert.NotContains(t, info, "sk-test-abcd1234")
	assert.Contains(t, info, "no model calls recorded")
}

func TestCondenseHistory(t *testing.T) {
	s := NewSession(&config.Config{})
	s.history = turns(12)

	s.CondenseHistory()

	history := s.History()
	require.Len(t, history, condenseKeepTurns+1)

	summary := history[0]
	assert.Equal(t, llm.RoleUser, summary.Role)
	assert.Contains(t, summary.Text(), "Summary of the earlier conversation:")
	assert.Contains(t, summary.Text(), "[user] turn 0")
	assert.Contains(t, summary.Text(), "[model] turn 3")

	// The kept tail survives verbatim
	assert.Equal(t, "turn 4", history[1].Text())
	assert.Equal(t, "turn 11", history[len(history)-1].Text())
}

func TestCondenseHistory_ShortHistoryUntouched(t *testing.T) {
	s := NewSession(&config.Config{})
	s.history = turns(condenseKeepTurns)

	s.CondenseHistory()
	assert.Len(t, s.History(), condenseKeepTurns)
}

func TestClearHistory(t *testing.T) {
	s := NewSession(&config.Config{})
	s.history = turns(4)

	s.ClearHistory()
	assert.Empty(t, s.History())
}

func TestHistorySnapshotIsolated(t *testing.T) {
	s := NewSession(&config.Config{})
	s.history = turns(2)

	snapshot := s.History()
	snapshot[0] = llm.NewTextTurn(llm.RoleUser, "mutated")

	assert.Equal(t, "turn 0", s.History()[0].Text())
}
