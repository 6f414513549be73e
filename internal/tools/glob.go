package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"kodai/internal/llm"
	"kodai/internal/security"
)

// GlobTool finds files matching a glob pattern.
type GlobTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewGlobTool creates a new GlobTool rooted at workDir.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

func (t *GlobTool) Name() string {
	return "glob"
}

func (t *GlobTool) Description() string {
	return `Finds files matching a glob pattern. Returns file paths sorted by modification time (newest first).

PATTERN SYNTAX:
- *: Matches any characters except /
- **: Matches any characters including / (recursive)
- ?: Matches single character
- {a,b}: Matches either a or b

LIMITATIONS:
- Maximum 1000 results returned
- Directories are not included (files only)`
}

func (t *GlobTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"pattern": {
					Type:        "string",
					Description: "The glob pattern to match (e.g., '**/*.go', 'src/**/*.ts')",
				},
				"path": {
					Type:        "string",
					Description: "The directory to search in. Defaults to the working directory.",
				},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *GlobTool) Validate(args map[string]any) error {
	pattern, ok := GetString(args, "pattern")
	if !ok || pattern == "" {
		return NewValidationError("pattern", "is required")
	}
	return nil
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	pattern, _ := GetString(args, "pattern")
	searchPath := GetStringDefault(args, "path", t.workDir)
	searchPath = resolvePath(t.workDir, searchPath)

	if t.pathValidator != nil {
		validPath, err := t.pathValidator.ValidateDir(searchPath)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
		}
		searchPath = validPath
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(searchPath, pattern))
	if err != nil {
		return NewErrorResult(fmt.Sprintf("invalid pattern: %s", err)), nil
	}

	type fileInfo struct {
		path    string
		modTime int64
	}
	var files []fileInfo

	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, fileInfo{path: match, modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime > files[j].modTime
	})

	const maxResults = 1000
	totalFound := len(files)
	if len(files) > maxResults {
		files = files[:maxResults]
	}

	if len(files) == 0 {
		return NewSuccessResult("(no matches)"), nil
	}

	var builder strings.Builder
	if totalFound > maxResults {
		builder.WriteString(fmt.Sprintf("(showing %d of %d)\n", maxResults, totalFound))
	}
	for _, f := range files {
		relPath, err := filepath.Rel(t.workDir, f.path)
		if err != nil {
			relPath = f.path
		}
		builder.WriteString(relPath)
		builder.WriteString("\n")
	}

	return NewSuccessResult(builder.String()), nil
}
