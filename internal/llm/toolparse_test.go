package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCallsFromText_CodeBlock(t *testing.T) {
	text := "```json\n{\"tool\": \"read_file\", \"args\": {\"file_path\": \"main.go\"}}\n```"

	calls := ParseToolCallsFromText(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, "main.go", calls[0].Args["file_path"])
	assert.Equal(t, "text_call_0_read_file", calls[0].ID)
}

func TestParseToolCallsFromText_BareJSON(t *testing.T) {
	calls := ParseToolCallsFromText(`Let me look. {"tool": "grep", "args": {"pattern": "TODO"}}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "grep", calls[0].Name)
	assert.Equal(t, "TODO", calls[0].Args["pattern"])
}

func TestParseToolCallsFromText_NameAlias(t *testing.T) {
	calls := ParseToolCallsFromText(`{"name": "list_dir", "args": {}}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "list_dir", calls[0].Name)
	assert.NotNil(t, calls[0].Args)
}

func TestParseToolCallsFromText_MultipleCalls(t *testing.T) {
	text := "```json\n{\"tool\": \"read_file\", \"args\": {\"file_path\": \"a.go\"}}\n```\n" +
		"```json\n{\"tool\": \"read_file\", \"args\": {\"file_path\": \"b.go\"}}\n```"

	calls := ParseToolCallsFromText(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "a.go", calls[0].Args["file_path"])
	assert.Equal(t, "b.go", calls[1].Args["file_path"])
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestParseToolCallsFromText_NestedArgs(t *testing.T) {
	calls := ParseToolCallsFromText(`{"tool": "edit_file", "args": {"old_string": "a {b}", "new_string": "c \"quoted\""}}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "a {b}", calls[0].Args["old_string"])
	assert.Equal(t, `c "quoted"`, calls[0].Args["new_string"])
}

func TestStripToolCallText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"code block removed around prose",
			"Reading it now.\n```json\n{\"tool\": \"read_file\", \"args\": {\"file_path\": \"a.go\"}}\n```\nDone.",
			"Reading it now.\n\nDone.",
		},
		{
			"bare json removed",
			`Let me look. {"tool": "grep", "args": {"pattern": "TODO"}}`,
			"Let me look.",
		},
		{
			"non-call code block kept",
			"Here is the config:\n```json\n{\"timeout\": 30}\n```",
			"Here is the config:\n```json\n{\"timeout\": 30}\n```",
		},
		{
			"plain prose untouched",
			"Nothing to strip here.",
			"Nothing to strip here.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripToolCallText(tt.text))
		})
	}
}

func TestParseToolCallsFromText_Rejections(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"plain prose", "I would read the file first."},
		{"json without tool key", `{"result": "ok"}`},
		{"empty tool name", `{"tool": "", "args": {}}`},
		{"unbalanced braces", `{"tool": "grep", "args": {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ParseToolCallsFromText(tt.text))
		})
	}
}

func TestToolCallFallbackPrompt(t *testing.T) {
	decls := []*ToolDeclaration{
		{
			Name:        "read_file",
			Description: "Reads a file.",
			Parameters: &Schema{
				Type: "object",
				Properties: map[string]*Schema{
					"file_path": {Type: "string", Description: "Path to read"},
					"limit":     {Type: "integer", Description: "Max lines"},
				},
				Required: []string{"file_path"},
			},
		},
	}

	prompt := ToolCallFallbackPrompt(decls)
	assert.Contains(t, prompt, "### read_file")
	assert.Contains(t, prompt, "`file_path` (required)")
	assert.Contains(t, prompt, "`limit`: Max lines")
	assert.Contains(t, prompt, `{"tool": "tool_name"`)

	assert.Empty(t, ToolCallFallbackPrompt(nil))
}
