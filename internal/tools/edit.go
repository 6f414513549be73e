package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"kodai/internal/fileutil"
	"kodai/internal/llm"
	"kodai/internal/security"
)

// EditTool performs search/replace operations in files.
type EditTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewEditTool creates a new EditTool rooted at workDir.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

// SetAllowedDirs sets additional allowed directories for path validation.
func (t *EditTool) SetAllowedDirs(dirs []string) {
	allDirs := append([]string{t.workDir}, dirs...)
	t.pathValidator = security.NewPathValidator(allDirs, false)
}

func (t *EditTool) Name() string {
	return "edit_file"
}

func (t *EditTool) Description() string {
	return "Performs string replacement in a file. The old_string must be unique in the file unless replace_all is true."
}

func (t *EditTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"file_path": {
					Type:        "string",
					Description: "The path to the file to edit",
				},
				"old_string": {
					Type:        "string",
					Description: "The text to find and replace",
				},
				"new_string": {
					Type:        "string",
					Description: "The text to replace with (must be different from old_string)",
				},
				"replace_all": {
					Type:        "boolean",
					Description: "If true, replace all occurrences. If false (default), old_string must be unique.",
				},
			},
			Required: []string{"file_path", "old_string", "new_string"},
		},
	}
}

func (t *EditTool) Validate(args map[string]any) error {
	filePath, ok := GetString(args, "file_path")
	if !ok || filePath == "" {
		return NewValidationError("file_path", "is required")
	}

	oldStr, ok := GetString(args, "old_string")
	if !ok || oldStr == "" {
		return NewValidationError("old_string", "is required")
	}

	newStr, ok := GetString(args, "new_string")
	if !ok {
		return NewValidationError("new_string", "is required")
	}

	if oldStr == newStr {
		return NewValidationError("new_string", "must be different from old_string")
	}

	return nil
}

func (t *EditTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	filePath, _ := GetString(args, "file_path")
	oldStr, _ := GetString(args, "old_string")
	newStr, _ := GetString(args, "new_string")
	replaceAll := GetBoolDefault(args, "replace_all", false)
	filePath = resolvePath(t.workDir, filePath)

	if t.pathValidator != nil {
		validPath, err := t.pathValidator.ValidateFile(filePath)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
		}
		filePath = validPath
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorResult(fmt.Sprintf("file not found: %s", filePath)), nil
		}
		return NewErrorResult(fmt.Sprintf("error reading file: %s", err)), nil
	}

	// Reject binary files by checking for null bytes in the first 512 bytes
	checkLen := len(data)
	if checkLen > 512 {
		checkLen = 512
	}
	for _, b := range data[:checkLen] {
		if b == 0 {
			return NewErrorResult(fmt.Sprintf("cannot edit binary file: %s", filePath)), nil
		}
	}

	content := string(data)
	count := strings.Count(content, oldStr)

	if count == 0 {
		return NewErrorResult(fmt.Sprintf("old_string not found in file: %s", filePath)), nil
	}

	if count > 1 && !replaceAll {
		// Report line numbers of occurrences for a more helpful error
		lines := strings.Split(content, "\n")
		var lineNums []string
		for i, line := range lines {
			if strings.Contains(line, oldStr) {
				lineNums = append(lineNums, fmt.Sprintf("%d", i+1))
			}
		}
		lineInfo := ""
		if len(lineNums) > 0 {
			lineInfo = fmt.Sprintf(" (lines: %s)", strings.Join(lineNums, ", "))
		}
		return NewErrorResult(fmt.Sprintf("old_string appears %d times in %s%s. Provide more surrounding context to make it unique, or set replace_all=true.", count, filePath, lineInfo)), nil
	}

	var newContent string
	if replaceAll {
		newContent = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		newContent = strings.Replace(content, oldStr, newStr, 1)
	}

	if err := fileutil.AtomicWrite(filePath, []byte(newContent), 0644); err != nil {
		return NewErrorResult(fmt.Sprintf("error writing file: %s", err)), nil
	}

	if replaceAll {
		return NewSuccessResult(fmt.Sprintf("Replaced %d occurrence(s) in %s", count, filePath)), nil
	}
	return NewSuccessResult(fmt.Sprintf("Replaced 1 occurrence in %s", filePath)), nil
}
