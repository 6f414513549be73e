package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"kodai/internal/llm"
	"kodai/internal/security"
)

// DiffTool compares two files, or a file with provided content.
type DiffTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewDiffTool creates a new DiffTool rooted at workDir.
func NewDiffTool(workDir string) *DiffTool {
	return &DiffTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

func (t *DiffTool) Name() string {
	return "diff"
}

func (t *DiffTool) Description() string {
	return "Compares two files, or a file with provided content, and shows a line diff with -/+ markers."
}

func (t *DiffTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"file1": {
					Type:        "string",
					Description: "Path to the first file",
				},
				"file2": {
					Type:        "string",
					Description: "Path to the second file (optional if content is provided)",
				},
				"content": {
					Type:        "string",
					Description: "Content to compare against file1 (alternative to file2)",
				},
			},
			Required: []string{"file1"},
		},
	}
}

func (t *DiffTool) Validate(args map[string]any) error {
	file1, ok := GetString(args, "file1")
	if !ok || file1 == "" {
		return NewValidationError("file1", "is required")
	}

	file2, hasFile2 := GetString(args, "file2")
	content, hasContent := GetString(args, "content")

	if (!hasFile2 || file2 == "") && (!hasContent || content == "") {
		return NewValidationError("file2", "either file2 or content must be provided")
	}

	return nil
}

func (t *DiffTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	file1, _ := GetString(args, "file1")
	file2, hasFile2 := GetString(args, "file2")
	content, _ := GetString(args, "content")

	text1, err := t.readValidated(file1)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("error reading file1: %s", err)), nil
	}

	var text2, label2 string
	if hasFile2 && file2 != "" {
		text2, err = t.readValidated(file2)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("error reading file2: %s", err)), nil
		}
		label2 = file2
	} else {
		text2 = content
		label2 = "(provided content)"
	}

	diff := LineDiff(text1, text2)
	if diff == "" {
		return NewSuccessResult("Files are identical"), nil
	}

	header := fmt.Sprintf("--- %s\n+++ %s\n", file1, label2)
	return NewSuccessResult(header + diff), nil
}

func (t *DiffTool) readValidated(path string) (string, error) {
	path = resolvePath(t.workDir, path)
	if t.pathValidator != nil {
		valid, err := t.pathValidator.ValidateFile(path)
		if err != nil {
			return "", err
		}
		path = valid
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LineDiff renders a line-level diff with -/+ markers. Unchanged runs
// longer than six lines are collapsed to three lines of context on each
// side. Returns "" when the texts are equal.
func LineDiff(text1, text2 string) string {
	if text1 == text2 {
		return ""
	}

	dmp := diffmatchpatch.New()
	c1, c2, lineArray := dmp.DiffLinesToChars(text1, text2)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lineArray)

	const contextLines = 3
	var out strings.Builder

	for i, d := range diffs {
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, line := range lines {
				out.WriteString("-" + line + "\n")
			}
		case diffmatchpatch.DiffInsert:
			for _, line := range lines {
				out.WriteString("+" + line + "\n")
			}
		case diffmatchpatch.DiffEqual:
			if len(lines) > contextLines*2 {
				if i > 0 {
					for _, line := range lines[:contextLines] {
						out.WriteString(" " + line + "\n")
					}
				}
				out.WriteString("...\n")
				if i < len(diffs)-1 {
					for _, line := range lines[len(lines)-contextLines:] {
						out.WriteString(" " + line + "\n")
					}
				}
			} else {
				for _, line := range lines {
					out.WriteString(" " + line + "\n")
				}
			}
		}
	}

	return out.String()
}
