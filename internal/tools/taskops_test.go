package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kodai/internal/tasks"
)

func TestBreakDownTaskTool(t *testing.T) {
	store := tasks.NewStore()
	root := store.Initialize("build feature", "")
	tool := NewBreakDownTaskTool(store)

	t.Run("registers specs with metadata", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"task_id": root.ID,
			"subtasks": []any{
				map[string]any{
					"title":       "write the parser",
					"description": "tokenize and parse input",
					"priority":    "high",
					"risk_level":  "medium",
					"complexity":  "complex",
				},
				map[string]any{"title": "add tests"},
			},
		})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Contains(t, res.Content, "Registered 2 subtasks")

		data, ok := res.Data.(map[string]any)
		require.True(t, ok)
		ids, ok := data["subtask_ids"].([]string)
		require.True(t, ok)
		require.Len(t, ids, 2)

		first, ok := store.Get(ids[0])
		require.True(t, ok)
		assert.Equal(t, "write the parser", first.Title)
		assert.Equal(t, tasks.PriorityHigh, first.Priority)
		assert.Equal(t, "medium", first.Context.RiskLevel)
		assert.Equal(t, "complex", first.Context.Complexity)

		second, _ := store.Get(ids[1])
		assert.Equal(t, tasks.PriorityMedium, second.Priority)
	})

	t.Run("depends_on indices resolve to sibling IDs", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"task_id": root.ID,
			"subtasks": []any{
				map[string]any{"title": "write the schema"},
				map[string]any{"title": "write the migration", "depends_on": []any{float64(0)}},
			},
		})
		require.NoError(t, err)
		require.True(t, res.Success)

		ids := res.Data.(map[string]any)["subtask_ids"].([]string)
		require.Len(t, ids, 2)

		second, ok := store.Get(ids[1])
		require.True(t, ok)
		assert.Equal(t, []string{ids[0]}, second.DependsOn)

		first, _ := store.Get(ids[0])
		assert.Empty(t, first.DependsOn)
	})

	t.Run("out of range dependency rejected", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"task_id": root.ID,
			"subtasks": []any{
				map[string]any{"title": "solo", "depends_on": []any{float64(3)}},
			},
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("untitled subtask rejected", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"task_id":  root.ID,
			"subtasks": []any{map[string]any{"description": "no title"}},
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("unknown parent surfaces store error", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"task_id":  "nope",
			"subtasks": []any{map[string]any{"title": "orphan"}},
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("validation", func(t *testing.T) {
		assert.Error(t, tool.Validate(map[string]any{"task_id": root.ID}))
		assert.Error(t, tool.Validate(map[string]any{"task_id": root.ID, "subtasks": []any{}}))
		assert.NoError(t, tool.Validate(map[string]any{
			"task_id":  root.ID,
			"subtasks": []any{map[string]any{"title": "x"}},
		}))
	})
}

func TestUpdateTaskStatusTool(t *testing.T) {
	store := tasks.NewStore()
	root := store.Initialize("root", "")
	ids, err := store.RegisterSubtasks(root.ID, []string{"a"})
	require.NoError(t, err)
	tool := NewUpdateTaskStatusTool(store)

	t.Run("records completion with results", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"task_id": ids[0], "status": "in_progress",
		})
		require.NoError(t, err)
		require.True(t, res.Success)

		res, err = tool.Execute(context.Background(), map[string]any{
			"task_id": ids[0], "status": "completed", "results": "added the parser",
		})
		require.NoError(t, err)
		require.True(t, res.Success)

		task, _ := store.Get(ids[0])
		assert.Equal(t, tasks.StatusCompleted, task.Status)
		assert.Equal(t, "added the parser", task.Results["summary"])
	})

	t.Run("invalid transition surfaces store error", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"task_id": ids[0], "status": "failed",
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("validation rejects foreign statuses", func(t *testing.T) {
		assert.Error(t, tool.Validate(map[string]any{"task_id": ids[0], "status": "cancelled"}))
		assert.Error(t, tool.Validate(map[string]any{"task_id": ids[0], "status": "paused"}))
		assert.NoError(t, tool.Validate(map[string]any{"task_id": ids[0], "status": "completed"}))
	})
}
