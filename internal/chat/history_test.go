package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kodai/internal/config"
	"kodai/internal/llm"
)

func TestHistoryManager_RoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	m, err := NewHistoryManager()
	require.NoError(t, err)

	session := NewSession(&config.Config{})
	session.history = []*llm.Turn{
		llm.NewTextTurn(llm.RoleUser, "what does main.go do?"),
		llm.NewTextTurn(llm.RoleModel, "It starts the CLI."),
		llm.NewToolResultTurn([]*llm.ToolResult{{ID: "c1", Name: "grep"}}),
	}

	require.NoError(t, m.Save(session))

	loaded, err := m.Load(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.SessionID)
	// Tool-only turns are not persisted
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, "user", loaded.Entries[0].Role)
	assert.Equal(t, "what does main.go do?", loaded.Entries[0].Content)
	assert.Equal(t, "model", loaded.Entries[1].Role)

	sessions, err := m.List()
	require.NoError(t, err)
	assert.Contains(t, sessions, session.ID)

	require.NoError(t, m.Delete(session.ID))
	sessions, err = m.List()
	require.NoError(t, err)
	assert.NotContains(t, sessions, session.ID)
}

func TestHistoryManager_Latest(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	m, err := NewHistoryManager()
	require.NoError(t, err)

	empty, err := m.Latest()
	require.NoError(t, err)
	assert.Nil(t, empty)

	older := NewSession(&config.Config{})
	older.history = []*llm.Turn{llm.NewTextTurn(llm.RoleUser, "first session")}
	require.NoError(t, m.Save(older))

	time.Sleep(10 * time.Millisecond)

	newer := NewSession(&config.Config{})
	newer.history = []*llm.Turn{llm.NewTextTurn(llm.RoleUser, "second session")}
	require.NoError(t, m.Save(newer))

	latest, err := m.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.SessionID)

	turns := latest.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, llm.RoleUser, turns[0].Role)
	assert.Equal(t, "second session", turns[0].Text())
}

func TestHistoryManager_LoadMissing(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	m, err := NewHistoryManager()
	require.NoError(t, err)

	_, err = m.Load("no-such-session")
	assert.Error(t, err)
}

func TestVisibleEntries(t *testing.T) {
	entries := visibleEntries([]*llm.Turn{
		llm.NewTextTurn(llm.RoleUser, "  hello  "),
		{Role: llm.RoleModel, Parts: []llm.Part{{ToolCall: &llm.ToolCall{ID: "c1", Name: "tree"}}}},
		llm.NewTextTurn(llm.RoleModel, "hi"),
	})

	require.Len(t, entries, 2)
	assert.Equal(t, "hello", entries[0].Content)
	assert.Equal(t, "hi", entries[1].Content)
}
