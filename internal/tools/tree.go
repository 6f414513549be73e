package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kodai/internal/llm"
	"kodai/internal/security"
)

// TreeTool renders a directory tree.
type TreeTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewTreeTool creates a new TreeTool rooted at workDir.
func NewTreeTool(workDir string) *TreeTool {
	return &TreeTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

func (t *TreeTool) Name() string {
	return "tree"
}

func (t *TreeTool) Description() string {
	return "Renders a directory tree. Depth is limited (default 3) and common vendor directories are skipped."
}

func (t *TreeTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"path": {
					Type:        "string",
					Description: "The root directory. Defaults to the working directory.",
				},
				"depth": {
					Type:        "integer",
					Description: "Maximum depth to descend. Default 3.",
				},
			},
		},
	}
}

func (t *TreeTool) Validate(args map[string]any) error {
	return nil
}

func (t *TreeTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	path := GetStringDefault(args, "path", t.workDir)
	depth := GetIntDefault(args, "depth", 3)
	if depth < 1 {
		depth = 1
	}
	path = resolvePath(t.workDir, path)

	if t.pathValidator != nil {
		validPath, err := t.pathValidator.ValidateDir(path)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
		}
		path = validPath
	}

	var builder strings.Builder
	builder.WriteString(filepath.Base(path) + "/\n")
	if err := t.render(path, "", depth, &builder); err != nil {
		return NewErrorResult(fmt.Sprintf("error walking tree: %s", err)), nil
	}

	return NewSuccessResult(builder.String()), nil
}

func (t *TreeTool) render(dir, prefix string, depth int, out *strings.Builder) error {
	if depth == 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var visible []os.DirEntry
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || skippedDirs[name] {
			continue
		}
		visible = append(visible, entry)
	}

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].IsDir() != visible[j].IsDir() {
			return visible[i].IsDir()
		}
		return visible[i].Name() < visible[j].Name()
	})

	for i, entry := range visible {
		connector := "├── "
		childPrefix := prefix + "│   "
		if i == len(visible)-1 {
			connector = "└── "
			childPrefix = prefix + "    "
		}

		if entry.IsDir() {
			out.WriteString(prefix + connector + entry.Name() + "/\n")
			if err := t.render(filepath.Join(dir, entry.Name()), childPrefix, depth-1, out); err != nil {
				return err
			}
		} else {
			out.WriteString(prefix + connector + entry.Name() + "\n")
		}
	}

	return nil
}
