// Package render formats assistant output for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"kodai/internal/tasks"
)

// Theme colors.
var (
	colorPrimary   = lipgloss.Color("#A78BFA")
	colorSecondary = lipgloss.Color("#22D3EE")
	colorSuccess   = lipgloss.Color("#059669")
	colorWarning   = lipgloss.Color("#D97706")
	colorError     = lipgloss.Color("#DC2626")
	colorMuted     = lipgloss.Color("#9CA3AF")
	colorDim       = lipgloss.Color("#6B7280")
)

// Styles holds the lipgloss styles used by the renderer.
type Styles struct {
	UserPrompt lipgloss.Style
	ToolCall   lipgloss.Style
	ToolOK     lipgloss.Style
	ToolFail   lipgloss.Style
	Error      lipgloss.Style
	Notice     lipgloss.Style
	TaskDone   lipgloss.Style
	TaskFailed lipgloss.Style
	Dim        lipgloss.Style
}

// DefaultStyles returns the default style set.
func DefaultStyles() *Styles {
	return &Styles{
		UserPrompt: lipgloss.NewStyle().Foreground(colorSecondary).Bold(true),
		ToolCall:   lipgloss.NewStyle().Foreground(colorWarning).Italic(true),
		ToolOK:     lipgloss.NewStyle().Foreground(colorSuccess),
		ToolFail:   lipgloss.NewStyle().Foreground(colorError),
		Error:      lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Notice:     lipgloss.NewStyle().Foreground(colorPrimary),
		TaskDone:   lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
		TaskFailed: lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Dim:        lipgloss.NewStyle().Foreground(colorDim),
	}
}

// Renderer writes formatted output to a terminal.
type Renderer struct {
	out      io.Writer
	styles   *Styles
	markdown *glamour.TermRenderer
}

// New creates a renderer writing to out. Markdown rendering degrades to
// plain text if the terminal renderer cannot be created.
func New(out io.Writer) *Renderer {
	md, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(100),
	)
	return &Renderer{out: out, styles: DefaultStyles(), markdown: md}
}

// Text writes streamed text verbatim.
func (r *Renderer) Text(text string) {
	fmt.Fprint(r.out, text)
}

// Markdown renders a complete markdown document.
func (r *Renderer) Markdown(text string) {
	if r.markdown != nil {
		if rendered, err := r.markdown.Render(text); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintln(r.out, text)
}

// Prompt writes the input prompt marker.
func (r *Renderer) Prompt() {
	fmt.Fprint(r.out, r.styles.UserPrompt.Render("❯ "))
}

// ToolStart announces a tool invocation.
func (r *Renderer) ToolStart(name string, args map[string]any) {
	line := "⚙ " + name
	if summary := argSummary(args); summary != "" {
		line += " " + summary
	}
	fmt.Fprintln(r.out, r.styles.ToolCall.Render(line))
}

// ToolEnd reports a finished tool.
func (r *Renderer) ToolEnd(name string, success bool, detail string) {
	if success {
		fmt.Fprintln(r.out, r.styles.ToolOK.Render("✓ "+name))
		return
	}
	line := "✗ " + name
	if detail != "" {
		line += ": " + detail
	}
	fmt.Fprintln(r.out, r.styles.ToolFail.Render(line))
}

// ToolRetry reports a retry of a failing tool.
func (r *Renderer) ToolRetry(name string, attempt, maxAttempts int) {
	fmt.Fprintln(r.out, r.styles.Dim.Render(
		fmt.Sprintf("↻ Retrying %s (%d/%d)", name, attempt, maxAttempts)))
}

// Error writes an error line.
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.out, r.styles.Error.Render("✗ Error: "+err.Error()))
}

// Notice writes an informational line.
func (r *Renderer) Notice(msg string) {
	fmt.Fprintln(r.out, r.styles.Notice.Render(msg))
}

// TaskProgress writes a one-line task status update.
func (r *Renderer) TaskProgress(task tasks.Task, metrics tasks.Metrics) {
	var style lipgloss.Style
	var icon string
	switch task.Status {
	case tasks.StatusCompleted:
		style, icon = r.styles.ToolOK, "✓"
	case tasks.StatusFailed:
		style, icon = r.styles.ToolFail, "✗"
	case tasks.StatusInProgress:
		style, icon = r.styles.ToolCall, "●"
	default:
		style, icon = r.styles.Dim, "○"
	}
	fmt.Fprintln(r.out, style.Render(fmt.Sprintf("%s %s", icon, task.Title))+
		r.styles.Dim.Render(fmt.Sprintf("  [%d/%d done]", metrics.Completed, metrics.TotalSubtasks)))
}

// PlanSummary writes the final plan banner.
func (r *Renderer) PlanSummary(summary tasks.Summary) {
	line := strings.Repeat("─", 60)
	style := r.styles.TaskDone
	if summary.Status != tasks.StatusCompleted {
		style = r.styles.TaskFailed
	}
	fmt.Fprintln(r.out, r.styles.Dim.Render(line))
	fmt.Fprintln(r.out, style.Render(fmt.Sprintf("Plan %s: %d/%d subtasks completed, %d failed (%s)",
		summary.Status, summary.Metrics.Completed, summary.Metrics.TotalSubtasks,
		summary.Metrics.Failed, summary.Duration.Round(time.Millisecond))))
	fmt.Fprintln(r.out, r.styles.Dim.Render(line))
}

// argSummary picks the most informative argument for the tool line.
func argSummary(args map[string]any) string {
	for _, key := range []string{"file_path", "path", "pattern", "task_id", "file1"} {
		if val, ok := args[key].(string); ok && val != "" {
			if len(val) > 60 {
				val = val[:57] + "..."
			}
			return val
		}
	}
	return ""
}
