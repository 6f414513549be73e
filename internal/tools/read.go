package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"kodai/internal/llm"
	"kodai/internal/security"
)

const (
	// defaultReadLimit is the maximum number of lines returned per call.
	defaultReadLimit = 2000
	// maxLineLen truncates pathological single lines.
	maxLineLen = 2000
)

// ReadTool reads files and returns their contents with line numbers.
type ReadTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewReadTool creates a new ReadTool rooted at workDir.
func NewReadTool(workDir string) *ReadTool {
	return &ReadTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

// SetAllowedDirs sets additional allowed directories for path validation.
func (t *ReadTool) SetAllowedDirs(dirs []string) {
	allDirs := append([]string{t.workDir}, dirs...)
	t.pathValidator = security.NewPathValidator(allDirs, false)
}

func (t *ReadTool) Name() string {
	return "read_file"
}

func (t *ReadTool) Description() string {
	return `Reads a file from the filesystem and returns its contents with line numbers (cat -n style).

PARAMETERS:
- file_path (required): Path to the file to read
- offset (optional): Line number to start reading from (1-indexed, default: 1)
- limit (optional): Maximum number of lines to read (default: 2000)

LIMITATIONS:
- Lines longer than 2000 characters are truncated
- Maximum 2000 lines per request (use offset for more)

USAGE TIPS:
- Always read files BEFORE editing them
- Use offset/limit for large files`
}

func (t *ReadTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"file_path": {
					Type:        "string",
					Description: "The path to the file to read",
				},
				"offset": {
					Type:        "integer",
					Description: "The line number to start reading from (1-indexed). Optional.",
				},
				"limit": {
					Type:        "integer",
					Description: "The maximum number of lines to read. Optional, defaults to 2000.",
				},
			},
			Required: []string{"file_path"},
		},
	}
}

func (t *ReadTool) Validate(args map[string]any) error {
	filePath, ok := GetString(args, "file_path")
	if !ok || filePath == "" {
		return NewValidationError("file_path", "is required")
	}
	return nil
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	filePath, _ := GetString(args, "file_path")
	filePath = t.resolve(filePath)

	if t.pathValidator != nil {
		validPath, err := t.pathValidator.ValidateFile(filePath)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
		}
		filePath = validPath
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorResult(fmt.Sprintf("file not found: %s", filePath)), nil
		}
		return NewErrorResult(fmt.Sprintf("error accessing file: %s", err)), nil
	}

	if info.IsDir() {
		return NewErrorResult(fmt.Sprintf("%s is a directory, not a file", filePath)), nil
	}

	offset := GetIntDefault(args, "offset", 1)
	limit := GetIntDefault(args, "limit", defaultReadLimit)
	if offset < 1 {
		offset = 1
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	file, err := os.Open(filePath)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("error opening file: %s", err)), nil
	}
	defer file.Close()

	var builder strings.Builder
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer for long lines

	lineNum := 0
	linesRead := 0

	for scanner.Scan() {
		lineNum++

		if lineNum < offset {
			continue
		}
		if linesRead >= limit {
			break
		}

		line := scanner.Text()
		if len(line) > maxLineLen {
			line = line[:maxLineLen] + "..."
		}

		builder.WriteString(fmt.Sprintf("%6d\t%s\n", lineNum, line))
		linesRead++
	}

	if err := scanner.Err(); err != nil {
		return NewErrorResult(fmt.Sprintf("error reading file: %s", err)), nil
	}

	content := builder.String()
	if content == "" {
		if offset > 1 && lineNum > 0 {
			content = fmt.Sprintf("(offset %d is beyond end of file, file has %d lines)", offset, lineNum)
		} else {
			content = "(empty file)"
		}
	}

	return NewSuccessResult(content), nil
}

// resolve makes a relative path absolute against the work directory.
func (t *ReadTool) resolve(path string) string {
	return resolvePath(t.workDir, path)
}
