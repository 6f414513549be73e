package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kodai/internal/logging"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// terminal reports whether a status admits no further transitions.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority represents task priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ErrorEntry records one failure on a task.
type ErrorEntry struct {
	Timestamp      time.Time
	Message        string
	Details        string
	Classification string
}

// TaskContext carries planner metadata and the error history for a task.
type TaskContext struct {
	RiskLevel         string
	Complexity        string
	PatternUsed       string
	PatternConfidence float64
	ErrorHistory      []ErrorEntry
}

// Task is a node in the plan graph. Relations are expressed as IDs into
// the store, never pointers, so mutation stays safe under observers.
type Task struct {
	ID          string
	Title       string
	Description string
	ParentID    string
	SubtaskIDs  []string
	DependsOn   []string
	Status      Status
	Priority    Priority
	Confidence  float64
	Attempts    int
	Context     TaskContext
	Results     map[string]any
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Metrics counts subtasks by status. The counters are reconciled inside
// every mutation, so observers never see them disagree with statuses.
type Metrics struct {
	TotalSubtasks int
	Pending       int
	InProgress    int
	Completed     int
	Failed        int
	TotalAttempts int
}

// Summary is the frozen outcome of a finalized plan.
type Summary struct {
	RootID   string
	Title    string
	Status   Status
	Metrics  Metrics
	Duration time.Duration
}

// Observer receives a task snapshot and reconciled metrics after each
// status change.
type Observer func(task Task, metrics Metrics)

// StatusUpdate carries optional data for a status transition.
type StatusUpdate struct {
	Results map[string]any
	Note    string
}

// Store is the single source of truth for plan state. It owns every
// task; other components hold IDs and read through it.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	order     []string // subtask IDs in registration order
	rootID    string
	metrics   Metrics
	observers []Observer
	finalized bool
	startedAt time.Time
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*Task),
	}
}

// Subscribe registers an observer for status transitions.
func (s *Store) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Initialize clears the graph, creates the root task, and resets metrics.
func (s *Store) Initialize(title, description string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      StatusInProgress,
		Priority:    PriorityMedium,
		Confidence:  1,
		CreatedAt:   time.Now(),
		StartedAt:   time.Now(),
	}

	s.tasks = map[string]*Task{root.ID: root}
	s.order = nil
	s.rootID = root.ID
	s.metrics = Metrics{}
	s.finalized = false
	s.startedAt = time.Now()

	logging.Debug("plan initialized", "root_id", root.ID, "title", title)
	return *root
}

// RootID returns the current root task ID, or "".
func (s *Store) RootID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootID
}

// Get returns a snapshot of a task.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return snapshot(t), true
}

// snapshot copies a task so callers can't mutate store state.
func snapshot(t *Task) Task {
	cp := *t
	cp.SubtaskIDs = append([]string(nil), t.SubtaskIDs...)
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.Context.ErrorHistory = append([]ErrorEntry(nil), t.Context.ErrorHistory...)
	if t.Results != nil {
		cp.Results = make(map[string]any, len(t.Results))
		for k, v := range t.Results {
			cp.Results[k] = v
		}
	}
	return cp
}

// Metrics returns the current reconciled metrics.
func (s *Store) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// SubtaskSpec describes a subtask to register. Zero-value fields fall
// back to defaults (medium priority, 0.8 confidence).
type SubtaskSpec struct {
	Title       string
	Description string
	Priority    Priority
	DependsOn   []string
	// DependsOnIndices references earlier specs of the same batch by
	// 0-based position; they resolve to IDs at registration.
	DependsOnIndices []int
	RiskLevel        string
	Complexity       string
	Confidence       float64
}

// RegisterSubtasks allocates pending subtasks under a parent, in order.
func (s *Store) RegisterSubtasks(parentID string, titles []string) ([]string, error) {
	specs := make([]SubtaskSpec, 0, len(titles))
	for _, title := range titles {
		specs = append(specs, SubtaskSpec{Title: title})
	}
	return s.RegisterSubtaskSpecs(parentID, specs)
}

// RegisterSubtaskSpecs allocates pending subtasks under a parent, in
// order, carrying planner metadata.
func (s *Store) RegisterSubtaskSpecs(parentID string, specs []SubtaskSpec) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.tasks[parentID]
	if !ok {
		return nil, fmt.Errorf("unknown parent task: %s", parentID)
	}
	if s.finalized {
		return nil, fmt.Errorf("plan already finalized")
	}

	// IDs are allocated up front so index dependencies can resolve to
	// siblings of the same batch.
	ids := make([]string, len(specs))
	for i := range specs {
		ids[i] = uuid.NewString()
	}
	for i, spec := range specs {
		for _, idx := range spec.DependsOnIndices {
			if idx < 0 || idx >= len(specs) || idx == i {
				return nil, fmt.Errorf("subtask %d: invalid dependency index %d", i, idx)
			}
		}
	}

	for i, spec := range specs {
		priority := spec.Priority
		if priority == "" {
			priority = PriorityMedium
		}
		confidence := spec.Confidence
		if confidence == 0 {
			confidence = 0.8
		}

		dependsOn := append([]string(nil), spec.DependsOn...)
		for _, idx := range spec.DependsOnIndices {
			dependsOn = append(dependsOn, ids[idx])
		}

		t := &Task{
			ID:          ids[i],
			Title:       spec.Title,
			Description: spec.Description,
			ParentID:    parentID,
			DependsOn:   dependsOn,
			Status:      StatusPending,
			Priority:    priority,
			Confidence:  confidence,
			Context: TaskContext{
				RiskLevel:  spec.RiskLevel,
				Complexity: spec.Complexity,
			},
			CreatedAt: time.Now(),
		}
		s.tasks[t.ID] = t
		parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
		s.order = append(s.order, t.ID)

		s.metrics.TotalSubtasks++
		s.metrics.Pending++
	}

	logging.Debug("registered subtasks", "parent_id", parentID, "count", len(ids))
	return ids, nil
}

// SetStatus transitions a task, enforcing monotonic progress. A task
// re-enters pending only through ReenterPending (an explicit replan
// decision). Setting the current status again is a no-op.
func (s *Store) SetStatus(id string, status Status, update StatusUpdate) error {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown task: %s", id)
	}

	if t.Status == status {
		// Idempotent: repeated transition leaves metrics unchanged
		s.mu.Unlock()
		return nil
	}

	if err := validTransition(t.Status, status); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, err)
	}

	if status == StatusInProgress && s.metrics.InProgress > 0 && id != s.rootID {
		s.mu.Unlock()
		return fmt.Errorf("task %s: another task is already in progress", id)
	}

	s.applyStatusLocked(t, status, update)

	task := snapshot(t)
	metrics := s.metrics
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	// Observers see the new state after counter reconciliation
	for _, obs := range observers {
		obs(task, metrics)
	}

	return nil
}

// applyStatusLocked performs the transition and counter adjustment.
// Caller must hold the write lock.
func (s *Store) applyStatusLocked(t *Task, status Status, update StatusUpdate) {
	if t.ID != s.rootID {
		s.adjustCounter(t.Status, -1)
		s.adjustCounter(status, +1)
	}

	t.Status = status
	switch status {
	case StatusInProgress:
		t.StartedAt = time.Now()
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = time.Now()
		if update.Results != nil {
			t.Results = update.Results
		}
	}
	if update.Note != "" {
		if t.Results == nil {
			t.Results = make(map[string]any)
		}
		t.Results["note"] = update.Note
	}

	logging.Debug("task status changed", "task_id", t.ID, "status", status)
}

func validTransition(from, to Status) error {
	switch from {
	case StatusPending:
		if to == StatusInProgress || to == StatusCancelled {
			return nil
		}
	case StatusInProgress:
		if to == StatusCompleted || to == StatusFailed || to == StatusCancelled {
			return nil
		}
	}
	if from.terminal() {
		return fmt.Errorf("invalid transition: %s -> %s (terminal)", from, to)
	}
	return fmt.Errorf("invalid transition: %s -> %s", from, to)
}

func (s *Store) adjustCounter(status Status, delta int) {
	switch status {
	case StatusPending:
		s.metrics.Pending += delta
	case StatusInProgress:
		s.metrics.InProgress += delta
	case StatusCompleted:
		s.metrics.Completed += delta
	case StatusFailed:
		s.metrics.Failed += delta
	}
}

// ReenterPending resets a failed or in-progress task to pending. This is
// the only path back to pending and exists for replan decisions.
func (s *Store) ReenterPending(id string, entry ErrorEntry) error {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown task: %s", id)
	}
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		s.mu.Unlock()
		return fmt.Errorf("task %s: cannot replan a %s task", id, t.Status)
	}
	if t.Status == StatusPending {
		s.mu.Unlock()
		return nil
	}

	if t.ID != s.rootID {
		s.adjustCounter(t.Status, -1)
		s.adjustCounter(StatusPending, +1)
	}
	t.Status = StatusPending
	if entry.Message != "" {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		t.Context.ErrorHistory = append(t.Context.ErrorHistory, entry)
	}

	task := snapshot(t)
	metrics := s.metrics
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(task, metrics)
	}

	logging.Debug("task re-entered pending", "task_id", id)
	return nil
}

// IncrementAttempt bumps a task's attempt counter and the global total.
func (s *Store) IncrementAttempt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	t.Attempts++
	s.metrics.TotalAttempts++
	return nil
}

// RecordError appends an error entry to a task's history.
func (s *Store) RecordError(id string, entry ErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	t.Context.ErrorHistory = append(t.Context.ErrorHistory, entry)
	return nil
}

// NextPending returns the earliest pending subtask whose dependencies
// are all completed, or false when none remain.
func (s *Store) NextPending() (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != StatusPending {
			continue
		}
		if !s.dependenciesMetLocked(t) {
			continue
		}
		return snapshot(t), true
	}
	return Task{}, false
}

func (s *Store) dependenciesMetLocked(t *Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// FailedSiblings returns the titles of failed siblings of a task, for
// prompt context.
func (s *Store) FailedSiblings(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	parent, ok := s.tasks[t.ParentID]
	if !ok {
		return nil
	}

	var failed []string
	for _, sibID := range parent.SubtaskIDs {
		if sibID == id {
			continue
		}
		if sib := s.tasks[sibID]; sib != nil && sib.Status == StatusFailed {
			failed = append(failed, sib.Title)
		}
	}
	return failed
}

// Finalize freezes the plan and returns aggregate metrics. The root
// status is derived from its subtasks: completed iff all completed,
// failed if any failed, cancelled otherwise.
func (s *Store) Finalize(cancelled bool) Summary {
	s.mu.Lock()

	summary := Summary{Metrics: s.metrics}
	root, ok := s.tasks[s.rootID]
	if !ok {
		s.mu.Unlock()
		return summary
	}

	if !s.finalized {
		status := StatusCompleted
		switch {
		case s.metrics.Failed > 0:
			status = StatusFailed
		case cancelled || s.metrics.Completed < s.metrics.TotalSubtasks:
			status = StatusCancelled
		}

		if !root.Status.terminal() {
			s.applyStatusLocked(root, status, StatusUpdate{})
		}
		s.finalized = true
	}

	summary.RootID = root.ID
	summary.Title = root.Title
	summary.Status = root.Status
	summary.Metrics = s.metrics
	summary.Duration = time.Since(s.startedAt)

	task := snapshot(root)
	metrics := s.metrics
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(task, metrics)
	}

	logging.Info("plan finalized",
		"root_id", summary.RootID,
		"status", summary.Status,
		"subtasks", summary.Metrics.TotalSubtasks,
		"completed", summary.Metrics.Completed,
		"failed", summary.Metrics.Failed,
		"duration", summary.Duration)

	return summary
}

// Finalized reports whether the plan has been frozen.
func (s *Store) Finalized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized
}
