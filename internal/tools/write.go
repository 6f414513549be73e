package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"kodai/internal/fileutil"
	"kodai/internal/llm"
	"kodai/internal/security"
)

// WriteTool writes content to files.
type WriteTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewWriteTool creates a new WriteTool rooted at workDir.
func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

// SetAllowedDirs sets additional allowed directories for path validation.
func (t *WriteTool) SetAllowedDirs(dirs []string) {
	allDirs := append([]string{t.workDir}, dirs...)
	t.pathValidator = security.NewPathValidator(allDirs, false)
}

func (t *WriteTool) Name() string {
	return "write_file"
}

func (t *WriteTool) Description() string {
	return "Writes content to a file. Creates the file if it doesn't exist, or overwrites if it does. Parent directories are created as needed."
}

func (t *WriteTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"file_path": {
					Type:        "string",
					Description: "The path to the file to write",
				},
				"content": {
					Type:        "string",
					Description: "The content to write to the file",
				},
			},
			Required: []string{"file_path", "content"},
		},
	}
}

func (t *WriteTool) Validate(args map[string]any) error {
	filePath, ok := GetString(args, "file_path")
	if !ok || filePath == "" {
		return NewValidationError("file_path", "is required")
	}

	if _, ok := GetString(args, "content"); !ok {
		return NewValidationError("content", "is required")
	}

	return nil
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	filePath, _ := GetString(args, "file_path")
	content, _ := GetString(args, "content")
	filePath = resolvePath(t.workDir, filePath)

	if t.pathValidator != nil {
		validPath, err := t.pathValidator.Validate(filePath)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
		}
		filePath = validPath
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return NewErrorResult(fmt.Sprintf("error creating directories: %s", err)), nil
	}

	_, existErr := os.Stat(filePath)
	isNew := os.IsNotExist(existErr)

	if err := fileutil.AtomicWrite(filePath, []byte(content), 0644); err != nil {
		return NewErrorResult(fmt.Sprintf("error writing file: %s", err)), nil
	}

	var status string
	if isNew {
		status = fmt.Sprintf("Created new file: %s (%d bytes)", filePath, len(content))
	} else {
		status = fmt.Sprintf("Updated file: %s (%d bytes)", filePath, len(content))
	}

	return NewSuccessResult(status), nil
}
