package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"kodai/internal/logging"
)

// toolCallFromText represents a tool call parsed from text output.
type toolCallFromText struct {
	Tool string         `json:"tool"`
	Name string         `json:"name"` // alias for "tool"
	Args map[string]any `json:"args"`
}

// ParseToolCallsFromText attempts to extract tool calls from model text
// output. This is the fallback path for providers whose models lack native
// function calling. Supported formats:
//   - {"tool": "name", "args": {...}}
//   - {"name": "tool_name", "args": {...}}
//   - ```json\n{"tool": "name", "args": {...}}\n```
//   - Multiple tool calls in sequence
func ParseToolCallsFromText(text string) []*ToolCall {
	if text == "" {
		return nil
	}

	calls := extractFromCodeBlocks(text)
	if len(calls) > 0 {
		return calls
	}

	return extractFromBareJSON(text)
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")

func extractFromCodeBlocks(text string) []*ToolCall {
	matches := codeBlockPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var calls []*ToolCall
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		if call := parseToolCallJSON(match[1], len(calls)); call != nil {
			calls = append(calls, call)
		}
	}
	return calls
}

func extractFromBareJSON(text string) []*ToolCall {
	var calls []*ToolCall
	for _, obj := range findJSONObjects(text) {
		if call := parseToolCallJSON(obj, len(calls)); call != nil {
			calls = append(calls, call)
		}
	}
	return calls
}

// findJSONObjects extracts JSON objects from text by matching braces.
func findJSONObjects(text string) []string {
	var objects []string
	i := 0
	for i < len(text) {
		if text[i] != '{' {
			i++
			continue
		}

		depth := 0
		inString := false
		escaped := false
		j := i
		for j < len(text) {
			ch := text[j]
			if escaped {
				escaped = false
				j++
				continue
			}
			if ch == '\\' && inString {
				escaped = true
				j++
				continue
			}
			if ch == '"' {
				inString = !inString
			}
			if !inString {
				if ch == '{' {
					depth++
				} else if ch == '}' {
					depth--
					if depth == 0 {
						candidate := text[i : j+1]
						// Must contain a "tool" or "name" key to be worth parsing
						if strings.Contains(candidate, `"tool"`) || strings.Contains(candidate, `"name"`) {
							objects = append(objects, candidate)
						}
						break
					}
				}
			}
			j++
		}
		if depth != 0 {
			// Unmatched brace, skip
			i++
			continue
		}
		i = j + 1
	}
	return objects
}

func parseToolCallJSON(jsonStr string, index int) *ToolCall {
	jsonStr = strings.TrimSpace(jsonStr)

	var tc toolCallFromText
	if err := json.Unmarshal([]byte(jsonStr), &tc); err != nil {
		return nil
	}

	toolName := tc.Tool
	if toolName == "" {
		toolName = tc.Name
	}
	if toolName == "" {
		return nil
	}

	if tc.Args == nil {
		tc.Args = make(map[string]any)
	}

	logging.Debug("parsed tool call from text", "tool", toolName, "args_count", len(tc.Args))

	return &ToolCall{
		ID:   fmt.Sprintf("text_call_%d_%s", index, toolName),
		Name: toolName,
		Args: tc.Args,
	}
}

// StripToolCallText removes the tool call JSON that ParseToolCallsFromText
// extracts, leaving any surrounding prose. Code blocks and bare objects
// that do not parse as tool calls are kept.
func StripToolCallText(text string) string {
	stripped := codeBlockPattern.ReplaceAllStringFunc(text, func(block string) string {
		sub := codeBlockPattern.FindStringSubmatch(block)
		if len(sub) > 1 && parseToolCallJSON(sub[1], 0) != nil {
			return ""
		}
		return block
	})
	if stripped != text {
		return strings.TrimSpace(stripped)
	}

	for _, obj := range findJSONObjects(text) {
		if parseToolCallJSON(obj, 0) != nil {
			stripped = strings.Replace(stripped, obj, "", 1)
		}
	}
	return strings.TrimSpace(stripped)
}

// ToolCallFallbackPrompt returns the system prompt appendix that instructs
// models without native function calling to output tool calls in a
// parseable JSON format.
func ToolCallFallbackPrompt(decls []*ToolDeclaration) string {
	if len(decls) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n## Tool Calling Instructions\n\n")
	sb.WriteString("You have access to tools. To call a tool, output a JSON object in a code block:\n\n")
	sb.WriteString("```json\n{\"tool\": \"tool_name\", \"args\": {\"param1\": \"value1\"}}\n```\n\n")
	sb.WriteString("IMPORTANT RULES:\n")
	sb.WriteString("- Output ONLY the JSON block when calling a tool, no other text before or after\n")
	sb.WriteString("- Wait for the tool result before continuing\n")
	sb.WriteString("- Use exact parameter names as defined below\n")
	sb.WriteString("- You can call only ONE tool at a time\n\n")
	sb.WriteString("Available tools:\n\n")

	for _, decl := range decls {
		fmt.Fprintf(&sb, "### %s\n", decl.Name)
		fmt.Fprintf(&sb, "%s\n", decl.Description)

		if decl.Parameters != nil && len(decl.Parameters.Properties) > 0 {
			sb.WriteString("Parameters:\n")
			required := make(map[string]bool)
			for _, r := range decl.Parameters.Required {
				required[r] = true
			}
			for name, prop := range decl.Parameters.Properties {
				reqMark := ""
				if required[name] {
					reqMark = " (required)"
				}
				fmt.Fprintf(&sb, "- `%s`%s: %s\n", name, reqMark, prop.Description)
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
