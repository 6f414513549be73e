package tools

import (
	"context"
	"fmt"
	"strings"

	"kodai/internal/llm"
	"kodai/internal/tasks"
)

// BreakDownTaskTool lets the model split a task into ordered subtasks.
// The agent exposes it during the breakdown turn of a plan.
type BreakDownTaskTool struct {
	store *tasks.Store
}

// NewBreakDownTaskTool creates a breakdown tool bound to a task store.
func NewBreakDownTaskTool(store *tasks.Store) *BreakDownTaskTool {
	return &BreakDownTaskTool{store: store}
}

func (t *BreakDownTaskTool) Name() string {
	return "break_down_task"
}

func (t *BreakDownTaskTool) Description() string {
	return `Breaks a task into smaller subtasks. Subtasks are executed in the order given; use depends_on (0-based indices into this list) when a subtask requires earlier ones to finish first.`
}

func (t *BreakDownTaskTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"task_id": {
					Type:        "string",
					Description: "The ID of the task to break down",
				},
				"subtasks": {
					Type:        "array",
					Description: "The ordered list of subtasks",
					Items: &llm.Schema{
						Type: "object",
						Properties: map[string]*llm.Schema{
							"title": {
								Type:        "string",
								Description: "Short imperative title",
							},
							"description": {
								Type:        "string",
								Description: "What the subtask must accomplish",
							},
							"priority": {
								Type:        "string",
								Description: "Execution priority",
								Enum:        []string{"low", "medium", "high"},
							},
							"risk_level": {
								Type:        "string",
								Description: "Estimated risk of the change",
								Enum:        []string{"low", "medium", "high"},
							},
							"complexity": {
								Type:        "string",
								Description: "Estimated complexity",
								Enum:        []string{"trivial", "moderate", "complex"},
							},
							"depends_on": {
								Type:        "array",
								Description: "0-based indices of subtasks in this list that must complete first",
								Items:       &llm.Schema{Type: "integer"},
							},
						},
						Required: []string{"title"},
					},
				},
			},
			Required: []string{"task_id", "subtasks"},
		},
	}
}

func (t *BreakDownTaskTool) Validate(args map[string]any) error {
	taskID, ok := GetString(args, "task_id")
	if !ok || taskID == "" {
		return NewValidationError("task_id", "is required")
	}
	raw, ok := args["subtasks"]
	if !ok {
		return NewValidationError("subtasks", "is required")
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return NewValidationError("subtasks", "must be a non-empty array")
	}
	return nil
}

func (t *BreakDownTaskTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	taskID, _ := GetString(args, "task_id")
	list, _ := args["subtasks"].([]any)

	specs := make([]tasks.SubtaskSpec, 0, len(list))
	for i, raw := range list {
		item, ok := raw.(map[string]any)
		if !ok {
			return NewErrorResult(fmt.Sprintf("subtask %d is not an object", i)), nil
		}
		title, _ := GetString(item, "title")
		if strings.TrimSpace(title) == "" {
			return NewErrorResult(fmt.Sprintf("subtask %d has no title", i)), nil
		}
		indices, err := dependencyIndices(item["depends_on"])
		if err != nil {
			return NewErrorResult(fmt.Sprintf("subtask %d: %s", i, err)), nil
		}
		specs = append(specs, tasks.SubtaskSpec{
			Title:            title,
			Description:      GetStringDefault(item, "description", ""),
			Priority:         tasks.Priority(GetStringDefault(item, "priority", "")),
			DependsOnIndices: indices,
			RiskLevel:        GetStringDefault(item, "risk_level", ""),
			Complexity:       GetStringDefault(item, "complexity", ""),
		})
	}

	ids, err := t.store.RegisterSubtaskSpecs(taskID, specs)
	if err != nil {
		return NewErrorResult(err.Error()), nil
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Registered %d subtasks:\n", len(ids)))
	for i, id := range ids {
		builder.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, specs[i].Title, id))
	}

	return NewSuccessResultWithData(builder.String(), map[string]any{
		"subtask_ids": ids,
	}), nil
}

// dependencyIndices coerces a depends_on argument into indices. JSON
// numbers arrive as float64.
func dependencyIndices(raw any) ([]int, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("depends_on must be an array of indices")
	}
	indices := make([]int, 0, len(list))
	for _, v := range list {
		switch n := v.(type) {
		case float64:
			indices = append(indices, int(n))
		case int:
			indices = append(indices, n)
		default:
			return nil, fmt.Errorf("depends_on entry %v is not an index", v)
		}
	}
	return indices, nil
}

// UpdateTaskStatusTool lets the model report progress on a subtask.
type UpdateTaskStatusTool struct {
	store *tasks.Store
}

// NewUpdateTaskStatusTool creates a status tool bound to a task store.
func NewUpdateTaskStatusTool(store *tasks.Store) *UpdateTaskStatusTool {
	return &UpdateTaskStatusTool{store: store}
}

func (t *UpdateTaskStatusTool) Name() string {
	return "update_task_status"
}

func (t *UpdateTaskStatusTool) Description() string {
	return "Updates the status of a task. Use 'completed' when the task's goal is achieved, 'failed' when it cannot be."
}

func (t *UpdateTaskStatusTool) Declaration() *llm.ToolDeclaration {
	return &llm.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"task_id": {
					Type:        "string",
					Description: "The ID of the task to update",
				},
				"status": {
					Type:        "string",
					Description: "The new status",
					Enum:        []string{"in_progress", "completed", "failed"},
				},
				"results": {
					Type:        "string",
					Description: "Summary of what was done (for completed tasks)",
				},
			},
			Required: []string{"task_id", "status"},
		},
	}
}

func (t *UpdateTaskStatusTool) Validate(args map[string]any) error {
	taskID, ok := GetString(args, "task_id")
	if !ok || taskID == "" {
		return NewValidationError("task_id", "is required")
	}
	status, ok := GetString(args, "status")
	if !ok || status == "" {
		return NewValidationError("status", "is required")
	}
	switch tasks.Status(status) {
	case tasks.StatusInProgress, tasks.StatusCompleted, tasks.StatusFailed:
		return nil
	}
	return NewValidationError("status", fmt.Sprintf("invalid value %q", status))
}

func (t *UpdateTaskStatusTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	taskID, _ := GetString(args, "task_id")
	status, _ := GetString(args, "status")
	results, _ := GetString(args, "results")

	update := tasks.StatusUpdate{}
	if results != "" {
		update.Results = map[string]any{"summary": results}
	}

	if err := t.store.SetStatus(taskID, tasks.Status(status), update); err != nil {
		return NewErrorResult(err.Error()), nil
	}

	return NewSuccessResult(fmt.Sprintf("Task %s marked %s", taskID, status)), nil
}
