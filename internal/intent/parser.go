package intent

import (
	"regexp"
	"strings"
)

// Command is an explicit tool request parsed straight from an
// utterance. Matching one skips the model entirely.
type Command struct {
	Tool string
	Args map[string]any
}

var (
	readPattern = regexp.MustCompile(`(?i)^(?:read|open|show|cat)\s+(\S+)$`)
	listPattern = regexp.MustCompile(`(?i)^(?:ls|list)(?:\s+(?:files\s+)?(?:in\s+)?(\S+))?$`)
	treePattern = regexp.MustCompile(`(?i)^tree(?:\s+(\S+))?$`)
	grepPattern = regexp.MustCompile(`(?i)^(?:grep|search(?:\s+for)?)\s+(.+)$`)
	globPattern = regexp.MustCompile(`(?i)^(?:glob|find)\s+(\S+)$`)
	diffPattern = regexp.MustCompile(`(?i)^diff\s+(\S+)\s+(\S+)$`)
)

// ParseCommand recognizes the explicit command forms the TOOL intent
// covers. Returns false when the utterance is not a direct command.
func ParseCommand(utterance string) (*Command, bool) {
	text := strings.TrimSpace(utterance)

	if m := readPattern.FindStringSubmatch(text); m != nil {
		return &Command{Tool: "read_file", Args: map[string]any{"file_path": m[1]}}, true
	}

	if m := listPattern.FindStringSubmatch(text); m != nil {
		args := map[string]any{}
		if m[1] != "" {
			args["path"] = m[1]
		}
		return &Command{Tool: "list_dir", Args: args}, true
	}

	if m := treePattern.FindStringSubmatch(text); m != nil {
		args := map[string]any{}
		if m[1] != "" {
			args["path"] = m[1]
		}
		return &Command{Tool: "tree", Args: args}, true
	}

	if m := globPattern.FindStringSubmatch(text); m != nil {
		// Only treat it as a glob when the argument looks like a pattern,
		// otherwise "find the bug" would match.
		if strings.ContainsAny(m[1], "*?{[") {
			return &Command{Tool: "glob", Args: map[string]any{"pattern": m[1]}}, true
		}
		return nil, false
	}

	if m := grepPattern.FindStringSubmatch(text); m != nil {
		pattern := strings.Trim(m[1], `"'`)
		if !strings.ContainsRune(pattern, ' ') {
			return &Command{Tool: "grep", Args: map[string]any{"pattern": pattern}}, true
		}
		return nil, false
	}

	if m := diffPattern.FindStringSubmatch(text); m != nil {
		return &Command{Tool: "diff", Args: map[string]any{"file1": m[1], "file2": m[2]}}, true
	}

	return nil, false
}
