package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"kodai/internal/llm"
	"kodai/internal/security"
)

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	workDir       string
	pathValidator *security.PathValidator
}

// NewGrepTool creates a new GrepTool rooted at workDir.
func NewGrepTool(workDir string) *GrepTool {
	return &GrepTool{
		workDir:       workDir,
		pathValidator: security.NewPathValidator([]string{workDir}, false),
	}
}

func (t *GrepTool) Name() string {
	return "grep"
}

func (t *GrepTool) Description() string {
	return `Searches file contents with a regular expression. Returns matching lines as path:line:text.

PARAMETERS:
- pattern (required): Go regular expression to search for
- path (optional): Directory to search in (default: working directory)
- include (optional): Glob filter for file names (e.g. '*.go')

LIMITATIONS:
- Maximum 500 matching lines returned
- Binary files and common vendor directories are skipped`
}

func (t *GrepTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"pattern": {
					Type:        "string",
					Description: "The regular expression to search for",
				},
				"path": {
					Type:        "string",
					Description: "The directory to search in. Defaults to the working directory.",
				},
				"include": {
					Type:        "string",
					Description: "Glob filter for file names, e.g. '*.go' or '*.{ts,tsx}'.",
				},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *GrepTool) Validate(args map[string]any) error {
	pattern, ok := GetString(args, "pattern")
	if !ok || pattern == "" {
		return NewValidationError("pattern", "is required")
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return NewValidationError("pattern", fmt.Sprintf("invalid regex: %s", err))
	}
	return nil
}

// skippedDirs are never descended into during a search.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	pattern, _ := GetString(args, "pattern")
	searchPath := GetStringDefault(args, "path", t.workDir)
	include, _ := GetString(args, "include")
	searchPath = resolvePath(t.workDir, searchPath)

	if t.pathValidator != nil {
		validPath, err := t.pathValidator.ValidateDir(searchPath)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
		}
		searchPath = validPath
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("invalid regex: %s", err)), nil
	}

	const maxMatches = 500
	var builder strings.Builder
	matches := 0

	walkErr := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" {
			ok, err := doublestar.Match(include, d.Name())
			if err != nil || !ok {
				return nil
			}
		}
		if matches >= maxMatches {
			return filepath.SkipAll
		}

		found, err := t.searchFile(path, re, maxMatches-matches, &builder)
		if err != nil {
			return nil
		}
		matches += found
		return nil
	})
	if walkErr != nil && walkErr == ctx.Err() {
		return NewErrorResult("search cancelled"), nil
	}

	if matches == 0 {
		return NewSuccessResult("No matches found."), nil
	}

	content := builder.String()
	if matches >= maxMatches {
		content += fmt.Sprintf("(truncated at %d matches)\n", maxMatches)
	}
	return NewSuccessResult(content), nil
}

// searchFile scans one file, appending up to remaining matches to out.
func (t *GrepTool) searchFile(path string, re *regexp.Regexp, remaining int, out *strings.Builder) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 256*1024), 1024*1024)

	relPath, err := filepath.Rel(t.workDir, path)
	if err != nil {
		relPath = path
	}

	found := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if lineNum == 1 && strings.ContainsRune(line, '\x00') {
			return 0, nil // binary
		}
		if re.MatchString(line) {
			if len(line) > maxLineLen {
				line = line[:maxLineLen] + "..."
			}
			out.WriteString(fmt.Sprintf("%s:%d:%s\n", relPath, lineNum, line))
			found++
			if found >= remaining {
				break
			}
		}
	}

	return found, nil
}
