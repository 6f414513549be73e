package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kodai/internal/llm"
	"kodai/internal/logging"
	"kodai/internal/robustness"
	"kodai/internal/tasks"
	"kodai/internal/tools"
)

// DefaultMaxExecutionAttempts bounds subtask dispatches per plan.
const DefaultMaxExecutionAttempts = 10

// livelockLimit breaks the loop when the scheduler keeps returning the
// same re-entered task.
const livelockLimit = 3

// Loop drives a plan to completion: pick the next pending subtask,
// dispatch it, interpret the outcome, replan, repeat.
type Loop struct {
	store       *tasks.Store
	dispatcher  *tools.Dispatcher
	client      llm.Client
	registry    *tools.Registry
	maxAttempts int

	history []*llm.Turn

	mu          sync.Mutex
	currentTask string
}

// NewLoop creates an agent loop over a task store and dispatcher. The
// registry must contain the break_down_task and update_task_status
// tools bound to the same store.
func NewLoop(store *tasks.Store, dispatcher *tools.Dispatcher, client llm.Client, registry *tools.Registry, maxAttempts int) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxExecutionAttempts
	}
	return &Loop{
		store:       store,
		dispatcher:  dispatcher,
		client:      client,
		registry:    registry,
		maxAttempts: maxAttempts,
	}
}

// ApplyTools binds the tool declarations and system prompt to a client.
// Providers without native function calling get no tool declarations
// and a system prompt teaching the text fallback format instead.
func ApplyTools(client llm.Client, decls []*llm.ToolDeclaration, mode Mode, customRules string) {
	base := SystemPrompt(mode, customRules)
	if client.Capabilities().SupportsFunctionCalling {
		client.SetTools(OrderDeclarations(mode, decls))
		client.SetSystemInstruction(base)
	} else {
		client.SetTools(nil)
		client.SetSystemInstruction(base + "\n\n" + llm.ToolCallFallbackPrompt(decls))
	}
}

// Run executes a plan for the given root task on top of history. The
// base handler receives dispatch events; the loop additionally records
// tool retries on the task being executed. Returns the plan summary and
// the updated conversation.
func (l *Loop) Run(ctx context.Context, title, description string, history []*llm.Turn, base *tools.Handler) (tasks.Summary, []*llm.Turn, error) {
	if base == nil {
		base = &tools.Handler{}
	}
	l.dispatcher.SetHandler(l.wrapHandler(base))
	l.history = history

	root := l.store.Initialize(title, description)

	if err := l.breakdown(ctx, root); err != nil {
		cancelled := errors.Is(err, context.Canceled)
		summary := l.store.Finalize(cancelled)
		return summary, l.history, err
	}

	cancelled := l.execute(ctx)

	summary := l.store.Finalize(cancelled)
	logging.Info("plan finalized",
		"root_id", summary.RootID,
		"status", summary.Status,
		"completed", summary.Metrics.Completed,
		"failed", summary.Metrics.Failed,
		"attempts", summary.Metrics.TotalAttempts)

	if cancelled {
		return summary, l.history, context.Canceled
	}
	return summary, l.history, nil
}

// breakdown runs the single-turn decomposition call.
func (l *Loop) breakdown(ctx context.Context, root tasks.Task) error {
	res, err := l.dispatcher.Dispatch(ctx, l.history, breakdownPrompt(root), tools.DispatchOptions{SingleTurn: true})
	if res != nil {
		l.history = res.History
	}
	if err != nil {
		return fmt.Errorf("task breakdown: %w", err)
	}
	if l.store.Metrics().TotalSubtasks == 0 {
		return errors.New("task breakdown: model registered no subtasks")
	}
	return nil
}

// execute runs subtasks until the plan drains, the attempt budget is
// spent, or the context is cancelled. Reports whether it was cancelled.
func (l *Loop) execute(ctx context.Context) bool {
	attempts := 0
	lastID := ""
	repeats := 0

	for attempts < l.maxAttempts {
		if ctx.Err() != nil {
			return true
		}

		next, ok := l.store.NextPending()
		if !ok {
			return false
		}

		if next.ID == lastID {
			repeats++
			if repeats >= livelockLimit {
				logging.Warn("breaking livelock on repeated task", "task_id", next.ID, "repeats", repeats)
				l.store.RecordError(next.ID, tasks.ErrorEntry{
					Timestamp: time.Now(),
					Message:   "abandoned after repeated failed attempts",
				})
				l.store.SetStatus(next.ID, tasks.StatusInProgress, tasks.StatusUpdate{})
				l.store.SetStatus(next.ID, tasks.StatusFailed, tasks.StatusUpdate{Note: "livelock"})
				return false
			}
		} else {
			lastID = next.ID
			repeats = 0
		}

		attempts++
		l.runTask(ctx, next)

		if ctx.Err() != nil {
			return true
		}
		l.replan(ctx)
	}

	return false
}

// runTask dispatches one subtask and reconciles its final status.
func (l *Loop) runTask(ctx context.Context, task tasks.Task) {
	l.store.SetStatus(task.ID, tasks.StatusInProgress, tasks.StatusUpdate{})
	l.store.IncrementAttempt(task.ID)
	l.setCurrent(task.ID)
	defer l.setCurrent("")

	res, err := l.dispatcher.Dispatch(ctx, l.history, taskPrompt(task, l.store), tools.DispatchOptions{})
	if res != nil {
		l.history = res.History
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		l.recoverTask(task.ID, err)
		return
	}

	// The model may have already reported completion or failure through
	// update_task_status. A task still in progress after a clean
	// dispatch is treated as done.
	current, ok := l.store.Get(task.ID)
	if ok && current.Status == tasks.StatusInProgress {
		l.store.SetStatus(task.ID, tasks.StatusCompleted, tasks.StatusUpdate{
			Results: map[string]any{"completedAutomatically": true},
		})
	}
}

// recoverTask classifies a dispatch failure and either re-enters the
// task as pending or marks it failed.
func (l *Loop) recoverTask(id string, err error) {
	cls := robustness.ClassifyError(err)
	entry := tasks.ErrorEntry{
		Timestamp:      time.Now(),
		Message:        err.Error(),
		Classification: string(cls.Category),
	}

	current, ok := l.store.Get(id)
	if !ok {
		return
	}

	if cls.CanRecover(current.Attempts) {
		logging.Info("re-entering failed task",
			"task_id", id, "category", cls.Category, "strategy", cls.Strategy, "attempts", current.Attempts)
		if rerr := l.store.ReenterPending(id, entry); rerr == nil {
			return
		}
	}

	l.store.RecordError(id, entry)
	l.store.SetStatus(id, tasks.StatusFailed, tasks.StatusUpdate{Note: err.Error()})
}

// replan gives the model one tool-enabled turn to append recovery
// subtasks based on results so far. Replanning is additive: existing
// subtasks are never removed.
func (l *Loop) replan(ctx context.Context) {
	prompt := replanPrompt(l.store)
	if prompt == "" {
		return
	}

	res, err := l.dispatcher.Dispatch(ctx, l.history, prompt, tools.DispatchOptions{SingleTurn: true})
	if res != nil {
		l.history = res.History
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn("replan dispatch failed", "error", err)
	}
}

// wrapHandler layers error-history recording onto the caller's handler.
func (l *Loop) wrapHandler(base *tools.Handler) *tools.Handler {
	return &tools.Handler{
		OnText:      base.OnText,
		OnToolStart: base.OnToolStart,
		OnToolEnd:   base.OnToolEnd,
		OnToolRetry: func(name string, attempt, maxAttempts int, err error) {
			if id := l.current(); id != "" && err != nil {
				l.store.RecordError(id, tasks.ErrorEntry{
					Timestamp:      time.Now(),
					Message:        err.Error(),
					Details:        fmt.Sprintf("tool %s attempt %d/%d", name, attempt, maxAttempts),
					Classification: string(robustness.ClassifyError(err).Category),
				})
			}
			if base.OnToolRetry != nil {
				base.OnToolRetry(name, attempt, maxAttempts, err)
			}
		},
	}
}

func (l *Loop) setCurrent(id string) {
	l.mu.Lock()
	l.currentTask = id
	l.mu.Unlock()
}

func (l *Loop) current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTask
}
