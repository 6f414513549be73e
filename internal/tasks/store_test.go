package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlan(t *testing.T, titles ...string) (*Store, []string) {
	t.Helper()
	s := NewStore()
	root := s.Initialize("root task", "")
	ids, err := s.RegisterSubtasks(root.ID, titles)
	require.NoError(t, err)
	return s, ids
}

// metricsConsistent checks that the counters always sum to the subtask
// total.
func metricsConsistent(t *testing.T, s *Store) {
	t.Helper()
	m := s.Metrics()
	assert.Equal(t, m.TotalSubtasks, m.Pending+m.InProgress+m.Completed+m.Failed+cancelledCount(s),
		"metrics must sum to total subtasks")
}

func cancelledCount(s *Store) int {
	count := 0
	root, _ := s.Get(s.RootID())
	for _, id := range root.SubtaskIDs {
		if task, ok := s.Get(id); ok && task.Status == StatusCancelled {
			count++
		}
	}
	return count
}

func TestRegisterSubtasks_Metrics(t *testing.T) {
	s, ids := newPlan(t, "a", "b", "c")

	assert.Len(t, ids, 3)
	m := s.Metrics()
	assert.Equal(t, 3, m.TotalSubtasks)
	assert.Equal(t, 3, m.Pending)
	metricsConsistent(t, s)
}

func TestRegisterSubtaskSpecs_CarriesMetadata(t *testing.T) {
	s := NewStore()
	root := s.Initialize("root", "")

	ids, err := s.RegisterSubtaskSpecs(root.ID, []SubtaskSpec{
		{Title: "risky", Priority: PriorityHigh, RiskLevel: "high", Complexity: "complex", Confidence: 0.4},
		{Title: "plain"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	risky, ok := s.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, risky.Priority)
	assert.Equal(t, "high", risky.Context.RiskLevel)
	assert.Equal(t, "complex", risky.Context.Complexity)
	assert.InDelta(t, 0.4, risky.Confidence, 1e-9)

	plain, _ := s.Get(ids[1])
	assert.Equal(t, PriorityMedium, plain.Priority)
	assert.InDelta(t, 0.8, plain.Confidence, 1e-9)
}

func TestRegisterSubtasks_UnknownParent(t *testing.T) {
	s := NewStore()
	s.Initialize("root", "")
	_, err := s.RegisterSubtasks("nope", []string{"a"})
	assert.Error(t, err)
}

func TestSetStatus_HappyPath(t *testing.T) {
	s, ids := newPlan(t, "a")

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	metricsConsistent(t, s)

	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{
		Results: map[string]any{"summary": "done"},
	}))
	metricsConsistent(t, s)

	task, _ := s.Get(ids[0])
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "done", task.Results["summary"])
	assert.False(t, task.CompletedAt.IsZero())
}

func TestSetStatus_Idempotent(t *testing.T) {
	s, ids := newPlan(t, "a")

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	before := s.Metrics()

	// Same-status transition is a no-op, counters untouched
	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	assert.Equal(t, before, s.Metrics())
}

func TestSetStatus_MonotonicTransitions(t *testing.T) {
	s, ids := newPlan(t, "a")

	// pending -> completed skips in_progress
	assert.Error(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))

	// Terminal tasks admit nothing further
	assert.Error(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	assert.Error(t, s.SetStatus(ids[0], StatusFailed, StatusUpdate{}))
	metricsConsistent(t, s)
}

func TestSetStatus_NoPendingReentry(t *testing.T) {
	s, ids := newPlan(t, "a")
	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	assert.Error(t, s.SetStatus(ids[0], StatusPending, StatusUpdate{}))
}

func TestSetStatus_SingleInProgress(t *testing.T) {
	s, ids := newPlan(t, "a", "b")

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	assert.Error(t, s.SetStatus(ids[1], StatusInProgress, StatusUpdate{}))

	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))
	assert.NoError(t, s.SetStatus(ids[1], StatusInProgress, StatusUpdate{}))
}

func TestReenterPending_OnlyPathBack(t *testing.T) {
	s, ids := newPlan(t, "a")

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.ReenterPending(ids[0], ErrorEntry{Message: "transient failure"}))

	task, _ := s.Get(ids[0])
	assert.Equal(t, StatusPending, task.Status)
	require.Len(t, task.Context.ErrorHistory, 1)
	assert.Equal(t, "transient failure", task.Context.ErrorHistory[0].Message)
	metricsConsistent(t, s)
}

func TestReenterPending_RejectsTerminalSuccess(t *testing.T) {
	s, ids := newPlan(t, "a")

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))
	assert.Error(t, s.ReenterPending(ids[0], ErrorEntry{Message: "x"}))
}

func TestNextPending_OrderAndDependencies(t *testing.T) {
	s := NewStore()
	root := s.Initialize("root", "")

	ids, err := s.RegisterSubtaskSpecs(root.ID, []SubtaskSpec{{Title: "first"}})
	require.NoError(t, err)

	blocked, err := s.RegisterSubtaskSpecs(root.ID, []SubtaskSpec{
		{Title: "second", DependsOn: []string{ids[0]}},
	})
	require.NoError(t, err)

	next, ok := s.NextPending()
	require.True(t, ok)
	assert.Equal(t, ids[0], next.ID)

	// Dependency incomplete: blocked task is not schedulable
	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	_, ok = s.NextPending()
	assert.False(t, ok)

	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))
	next, ok = s.NextPending()
	require.True(t, ok)
	assert.Equal(t, blocked[0], next.ID)
}

func TestIncrementAttempt(t *testing.T) {
	s, ids := newPlan(t, "a")

	require.NoError(t, s.IncrementAttempt(ids[0]))
	require.NoError(t, s.IncrementAttempt(ids[0]))

	task, _ := s.Get(ids[0])
	assert.Equal(t, 2, task.Attempts)
	assert.Equal(t, 2, s.Metrics().TotalAttempts)
}

func TestFinalize_AllCompleted(t *testing.T) {
	s, ids := newPlan(t, "a", "b")
	for _, id := range ids {
		require.NoError(t, s.SetStatus(id, StatusInProgress, StatusUpdate{}))
		require.NoError(t, s.SetStatus(id, StatusCompleted, StatusUpdate{}))
	}

	summary := s.Finalize(false)
	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.Metrics.Completed)
	assert.True(t, s.Finalized())
}

func TestFinalize_AnyFailedMeansFailed(t *testing.T) {
	s, ids := newPlan(t, "a", "b")

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[1], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[1], StatusFailed, StatusUpdate{}))

	summary := s.Finalize(false)
	assert.Equal(t, StatusFailed, summary.Status)
}

func TestFinalize_CancelledLeavesIncomplete(t *testing.T) {
	s, ids := newPlan(t, "a", "b")
	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))

	summary := s.Finalize(true)
	assert.Equal(t, StatusCancelled, summary.Status)
	assert.Equal(t, 1, summary.Metrics.Completed)
}

func TestFinalize_RejectsFurtherRegistration(t *testing.T) {
	s, _ := newPlan(t, "a")
	s.Finalize(true)

	_, err := s.RegisterSubtasks(s.RootID(), []string{"late"})
	assert.Error(t, err)
}

func TestObserver_SeesReconciledMetrics(t *testing.T) {
	s, ids := newPlan(t, "a")

	var seen []Metrics
	s.Subscribe(func(task Task, metrics Metrics) {
		seen = append(seen, metrics)
	})

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[0], StatusCompleted, StatusUpdate{}))

	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].InProgress)
	assert.Equal(t, 0, seen[0].Completed)
	assert.Equal(t, 0, seen[1].InProgress)
	assert.Equal(t, 1, seen[1].Completed)
}

func TestFailedSiblings(t *testing.T) {
	s, ids := newPlan(t, "a", "b", "c")

	require.NoError(t, s.SetStatus(ids[0], StatusInProgress, StatusUpdate{}))
	require.NoError(t, s.SetStatus(ids[0], StatusFailed, StatusUpdate{}))

	failed := s.FailedSiblings(ids[2])
	assert.Equal(t, []string{"a"}, failed)
	assert.Empty(t, s.FailedSiblings(ids[0]))
}

func TestSnapshotIsolation(t *testing.T) {
	s, ids := newPlan(t, "a")

	task, _ := s.Get(ids[0])
	task.Title = "mutated"
	task.SubtaskIDs = append(task.SubtaskIDs, "ghost")

	fresh, _ := s.Get(ids[0])
	assert.Equal(t, "a", fresh.Title)
	assert.Empty(t, fresh.SubtaskIDs)
}
