package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		utterance string
		tool      string
		args      map[string]any
	}{
		{"read main.go", "read_file", map[string]any{"file_path": "main.go"}},
		{"open internal/chat/session.go", "read_file", map[string]any{"file_path": "internal/chat/session.go"}},
		{"show README.md", "read_file", map[string]any{"file_path": "README.md"}},
		{"cat go.mod", "read_file", map[string]any{"file_path": "go.mod"}},
		{"ls", "list_dir", map[string]any{}},
		{"list files in internal", "list_dir", map[string]any{"path": "internal"}},
		{"tree", "tree", map[string]any{}},
		{"tree cmd", "tree", map[string]any{"path": "cmd"}},
		{"find **/*.go", "glob", map[string]any{"pattern": "**/*.go"}},
		{"glob *.md", "glob", map[string]any{"pattern": "*.md"}},
		{"grep TODO", "grep", map[string]any{"pattern": "TODO"}},
		{`search for "NewStore"`, "grep", map[string]any{"pattern": "NewStore"}},
		{"diff a.go b.go", "diff", map[string]any{"file1": "a.go", "file2": "b.go"}},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			cmd, ok := ParseCommand(tt.utterance)
			require.True(t, ok)
			assert.Equal(t, tt.tool, cmd.Tool)
			assert.Equal(t, tt.args, cmd.Args)
		})
	}
}

func TestParseCommand_Rejections(t *testing.T) {
	utterances := []string{
		"how does the retry policy work?",
		"fix the bug in session.go",
		"find the bug",           // no glob metacharacters
		"search for two words",   // multi-word search is a model call
		"read",                   // missing argument
		"diff only_one_file.go",  // diff needs two files
		"please list the files",  // leading filler defeats the anchor
		"",
	}

	for _, u := range utterances {
		t.Run(u, func(t *testing.T) {
			_, ok := ParseCommand(u)
			assert.False(t, ok)
		})
	}
}
