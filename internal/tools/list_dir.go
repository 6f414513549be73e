package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"kodai/internal/llm"
	"kodai/internal/security"
)

// ListDirTool lists the entries of a directory.
type ListDirTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewListDirTool creates a new ListDirTool rooted at workDir.
func NewListDirTool(workDir string) *ListDirTool {
	return &ListDirTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

func (t *ListDirTool) Name() string {
	return "list_dir"
}

func (t *ListDirTool) Description() string {
	return "Lists the entries of a directory. Directories are suffixed with '/', files show their size in bytes."
}

func (t *ListDirTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"path": {
					Type:        "string",
					Description: "The directory to list. Defaults to the working directory.",
				},
				"show_hidden": {
					Type:        "boolean",
					Description: "If true, include dotfiles. Default false.",
				},
			},
		},
	}
}

func (t *ListDirTool) Validate(args map[string]any) error {
	return nil
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	path := GetStringDefault(args, "path", t.workDir)
	showHidden := GetBoolDefault(args, "show_hidden", false)
	path = resolvePath(t.workDir, path)

	if t.pathValidator != nil {
		validPath, err := t.pathValidator.ValidateDir(path)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
		}
		path = validPath
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorResult(fmt.Sprintf("path does not exist: %s", path)), nil
		}
		return NewErrorResult(fmt.Sprintf("error reading directory: %s", err)), nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var builder strings.Builder
	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			builder.WriteString(name + "/\n")
		} else {
			info, err := entry.Info()
			if err != nil {
				builder.WriteString(name + "\n")
			} else {
				builder.WriteString(fmt.Sprintf("%s (%d bytes)\n", name, info.Size()))
			}
		}
		count++
	}

	if count == 0 {
		return NewSuccessResult("(empty directory)"), nil
	}
	return NewSuccessResult(builder.String()), nil
}
