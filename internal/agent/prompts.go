package agent

import (
	"fmt"
	"strings"

	"kodai/internal/llm"
	"kodai/internal/tasks"
)

// Mode selects the system prompt template for a session.
type Mode string

const (
	ModeCode  Mode = "code"
	ModeAmend Mode = "amend"
	ModePlan  Mode = "plan"
)

const codeSystemPrompt = `You are a coding assistant working inside the user's project directory. You read, search, and modify files through the tools provided.

Rules:
- Read a file before editing it.
- Prefer small, targeted edits over whole-file rewrites.
- When a task is done, report what changed and where.
- Never invent file contents; if a file is missing, say so.`

const amendSystemPrompt = `You are a coding assistant amending existing code in the user's project directory. Favor minimal diffs: locate the exact lines to change with the edit and diff tools before touching anything else.

Rules:
- Inspect current content with diff/read before every change.
- Change only what the task requires; preserve surrounding code and style.
- Report each change as a concise before/after summary.`

const planSystemPrompt = `You are a coding assistant in planning mode. Analyze the project and produce plans; do not modify any files. Use read and search tools freely, and present conclusions as ordered steps.`

// SystemPrompt returns the system prompt for a mode, with any custom
// rules appended.
func SystemPrompt(mode Mode, customRules string) string {
	var base string
	switch mode {
	case ModeAmend:
		base = amendSystemPrompt
	case ModePlan:
		base = planSystemPrompt
	default:
		base = codeSystemPrompt
	}

	if rules := strings.TrimSpace(customRules); rules != "" {
		base += "\n\nProject rules:\n" + rules
	}
	return base
}

// OrderDeclarations orders tool declarations for a mode. Amend mode
// moves diff-oriented tools to the front so the model reaches for them
// first.
func OrderDeclarations(mode Mode, decls []*llm.ToolDeclaration) []*llm.ToolDeclaration {
	if mode != ModeAmend {
		return decls
	}

	rank := func(name string) int {
		switch name {
		case "diff", "edit_file":
			return 0
		case "read_file":
			return 1
		default:
			return 2
		}
	}

	ordered := append([]*llm.ToolDeclaration(nil), decls...)
	// Stable insertion sort keeps the original relative order inside
	// each rank bucket.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && rank(ordered[j].Name) < rank(ordered[j-1].Name); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}

// breakdownPrompt instructs the model to decompose the root task.
func breakdownPrompt(root tasks.Task) string {
	return fmt.Sprintf(`Break the following task into concrete subtasks by calling the break_down_task tool with task_id=%q.

Task: %s
%s

Each subtask should be independently executable and verifiable. Order them so earlier subtasks unblock later ones. Do not start executing; only call break_down_task.`,
		root.ID, root.Title, root.Description)
}

// taskPrompt builds the per-task execution prompt: the task itself plus
// a context block assembled from plan state.
func taskPrompt(task tasks.Task, store *tasks.Store) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Execute this subtask (id=%s): %s\n", task.ID, task.Title)
	if task.Description != "" {
		b.WriteString(task.Description + "\n")
	}

	b.WriteString("\nContext:\n")
	fmt.Fprintf(&b, "- priority: %s\n", task.Priority)
	if task.Context.RiskLevel != "" {
		fmt.Fprintf(&b, "- risk: %s\n", task.Context.RiskLevel)
	}
	if task.Context.Complexity != "" {
		fmt.Fprintf(&b, "- complexity: %s\n", task.Context.Complexity)
	}
	fmt.Fprintf(&b, "- confidence: %.2f\n", task.Confidence)
	if task.Context.PatternUsed != "" {
		fmt.Fprintf(&b, "- pattern: %s (%.2f)\n", task.Context.PatternUsed, task.Context.PatternConfidence)
	}
	if task.Attempts > 0 {
		fmt.Fprintf(&b, "- previous attempts: %d\n", task.Attempts)
	}

	if parent, ok := store.Get(task.ParentID); ok {
		fmt.Fprintf(&b, "- part of: %s\n", parent.Title)
	}

	if history := task.Context.ErrorHistory; len(history) > 0 {
		b.WriteString("- earlier errors on this subtask:\n")
		for _, e := range history {
			fmt.Fprintf(&b, "    %s: %s\n", e.Classification, e.Message)
		}
	}

	if failed := store.FailedSiblings(task.ID); len(failed) > 0 {
		fmt.Fprintf(&b, "- failed sibling subtasks: %s\n", strings.Join(failed, "; "))
	}

	b.WriteString("\nWhen the subtask's goal is achieved, call update_task_status with status=completed and a short results summary. If it cannot be achieved, call it with status=failed.")
	return b.String()
}

// replanPrompt asks the model to review plan state and optionally add
// recovery subtasks. Existing subtasks are never removed or reordered.
func replanPrompt(store *tasks.Store) string {
	root, ok := store.Get(store.RootID())
	if !ok {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review progress on: %s\n\nSubtasks:\n", root.Title)

	for _, id := range root.SubtaskIDs {
		task, ok := store.Get(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s", task.Status, task.Title)
		if len(task.Context.ErrorHistory) > 0 {
			last := task.Context.ErrorHistory[len(task.Context.ErrorHistory)-1]
			fmt.Fprintf(&b, " (last error: %s)", last.Message)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `
If failures above need a different approach, call break_down_task with task_id=%q to append recovery subtasks. Only add subtasks; never repeat ones already completed. If the plan is on track, reply with a one-line status and no tool calls.`, root.ID)
	return b.String()
}
