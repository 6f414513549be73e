package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kodai/internal/agent"
	"kodai/internal/config"
	"kodai/internal/intent"
	"kodai/internal/llm"
	"kodai/internal/logging"
	"kodai/internal/ratelimit"
	"kodai/internal/tasks"
	"kodai/internal/tools"
	"kodai/internal/watcher"
)

// ErrBusy is returned when a message arrives while another is still
// being processed.
var ErrBusy = errors.New("a message is already being processed")

// ErrNotInitialized is returned when the session has no project root yet.
var ErrNotInitialized = errors.New("session not initialized")

// condenseKeepTurns is how many recent turns survive a condense.
const condenseKeepTurns = 8

// Reply is the outcome of one user message.
type Reply struct {
	// Text is the final assistant text shown to the user.
	Text string

	// Intent is the route the message took.
	Intent intent.Intent

	// Summary is set for task-routed messages.
	Summary *tasks.Summary
}

// DebugRecord captures one model round trip for the debug view.
type DebugRecord struct {
	Time      time.Time
	Operation string
	Model     string
	Duration  time.Duration
	Usage     llm.Usage
}

// Session owns one conversation: the provider client, tool registry,
// intent routing, the agent loop, and the shared history they append to.
type Session struct {
	ID        string
	StartTime time.Time

	cfg     *config.Config
	workDir string
	mode    agent.Mode

	client     llm.Client
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	classifier *intent.Classifier
	store      *tasks.Store
	loop       *agent.Loop
	fsWatcher  *watcher.Watcher
	handler    *tools.Handler
	histMgr    *HistoryManager

	mu      sync.Mutex
	sending bool
	cancel  context.CancelFunc
	history []*llm.Turn
	debug   []DebugRecord
}

// NewSession creates a session from configuration. Initialize must be
// called with a project root before sending messages.
func NewSession(cfg *config.Config) *Session {
	mode := agent.Mode(cfg.Modes.Default)
	if mode == "" {
		mode = agent.ModeCode
	}
	return &Session{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		cfg:       cfg,
		mode:      mode,
		handler:   &tools.Handler{},
	}
}

// SetHandler sets the UI callbacks for streamed text and tool events.
func (s *Session) SetHandler(handler *tools.Handler) {
	if handler != nil {
		s.handler = handler
	}
}

// SetMode switches the prompt mode for subsequent messages.
func (s *Session) SetMode(mode agent.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode returns the current prompt mode.
func (s *Session) Mode() agent.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Initialize binds the session to a project root and wires the client,
// tools, and file watcher. It must be called exactly once.
func (s *Session) Initialize(ctx context.Context, rootDir string) error {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project root is not a directory: %s", absRoot)
	}
	s.workDir = absRoot

	client, err := llm.NewClient(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("create provider client: %w", err)
	}
	s.client = client

	if s.cfg.RateLimit.Enabled {
		client.SetRateLimiter(ratelimit.NewLimiter(ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: s.cfg.RateLimit.RequestsPerMinute,
			TokensPerMinute:   s.cfg.RateLimit.TokensPerMinute,
			BurstSize:         s.cfg.RateLimit.BurstSize,
		}))
	}

	s.store = tasks.NewStore()
	s.registry = tools.DefaultRegistry(absRoot)
	s.registry.MustRegister(tools.NewBreakDownTaskTool(s.store))
	s.registry.MustRegister(tools.NewUpdateTaskStatusTool(s.store))
	s.applyAllowedDirs()

	s.dispatcher = tools.NewDispatcher(s.registry, client, s.cfg.Tools.Timeout)
	s.dispatcher.SetHandler(s.handler)
	s.classifier = intent.NewClassifier(client)
	s.loop = agent.NewLoop(s.store, s.dispatcher, client, s.registry, s.cfg.Agent.MaxExecutionAttempts)

	if mgr, err := NewHistoryManager(); err != nil {
		logging.Warn("chat history persistence unavailable", "error", err)
	} else {
		s.histMgr = mgr
		if prev, err := mgr.Latest(); err != nil {
			logging.Warn("prior chat history unreadable", "error", err)
		} else if prev != nil {
			s.mu.Lock()
			s.history = prev.Turns()
			s.mu.Unlock()
		}
	}

	if s.cfg.Watcher.Enabled {
		w, err := watcher.New(absRoot, watcher.Config{
			Enabled:        true,
			Debounce:       s.cfg.Watcher.DebounceDelay,
			IgnorePatterns: s.cfg.Watcher.IgnorePatterns,
		})
		if err != nil {
			logging.Warn("file watcher unavailable", "error", err)
		} else if err := w.Start(); err != nil {
			logging.Warn("file watcher failed to start", "error", err)
		} else {
			s.fsWatcher = w
		}
	}

	logging.Info("session initialized",
		"session_id", s.ID,
		"root", absRoot,
		"provider", client.Capabilities().Provider,
		"model", client.Model())
	return nil
}

// applyAllowedDirs extends the file tools' sandbox with the configured
// extra directories.
func (s *Session) applyAllowedDirs() {
	extra := s.cfg.Tools.AllowedDirs
	if len(extra) == 0 {
		return
	}
	for _, t := range s.registry.List() {
		if st, ok := t.(interface{ SetAllowedDirs(dirs []string) }); ok {
			st.SetAllowedDirs(extra)
		}
	}
}

// SendMessage classifies the utterance and routes it: plain questions go
// straight to the model, explicit tool commands run without a model
// call, and multi-step work goes through the agent loop. Concurrent
// sends are rejected with ErrBusy.
func (s *Session) SendMessage(ctx context.Context, utterance string) (*Reply, error) {
	ctx, err := s.beginSend(ctx)
	if err != nil {
		return nil, err
	}
	defer s.endSend()

	decision := s.classifier.Classify(ctx, s.snapshotHistory(), utterance)
	logging.Debug("intent classified", "intent", decision.Intent, "labels", decision.Labels)

	switch decision.Intent {
	case intent.IntentTool:
		if cmd, ok := intent.ParseCommand(utterance); ok {
			return s.runToolCommand(ctx, utterance, cmd)
		}
		// Unparseable tool requests degrade to a direct answer.
		return s.runDirect(ctx, utterance, intent.IntentDirect)

	case intent.IntentTask:
		return s.runTask(ctx, utterance)

	default:
		return s.runDirect(ctx, utterance, intent.IntentDirect)
	}
}

// SendDirectCommand sends a prompt straight to the model with tools
// available, skipping classification. The model gets a single turn.
func (s *Session) SendDirectCommand(ctx context.Context, prompt string) (*Reply, error) {
	ctx, err := s.beginSend(ctx)
	if err != nil {
		return nil, err
	}
	defer s.endSend()

	s.applyTools()
	start := time.Now()

	res, err := s.dispatcher.Dispatch(ctx, s.snapshotHistory(), prompt, tools.DispatchOptions{SingleTurn: true})
	if res != nil {
		s.setHistory(res.History)
		s.recordDebug("direct_command", time.Since(start), res.Usage)
	}
	if err != nil {
		return nil, err
	}
	return &Reply{Text: res.Text, Intent: intent.IntentDirect}, nil
}

// Cancel aborts the in-flight message, if any. A tool already running
// finishes; everything after it is discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ClearHistory drops the conversation and its saved transcript.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()

	if s.histMgr != nil {
		_ = s.histMgr.Delete(s.ID)
	}
}

// CondenseHistory replaces older turns with a one-turn textual summary,
// keeping the most recent turns verbatim.
func (s *Session) CondenseHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) <= condenseKeepTurns {
		return
	}

	dropped := s.history[:len(s.history)-condenseKeepTurns]
	kept := s.history[len(s.history)-condenseKeepTurns:]

	var b strings.Builder
	b.WriteString("Summary of the earlier conversation:\n")
	for _, turn := range dropped {
		text := strings.TrimSpace(turn.Text())
		if text == "" {
			continue
		}
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Fprintf(&b, "[%s] %s\n", turn.Role, text)
	}

	condensed := []*llm.Turn{llm.NewTextTurn(llm.RoleUser, b.String())}
	s.history = append(condensed, kept...)
}

// History returns a copy of the conversation.
func (s *Session) History() []*llm.Turn {
	return s.snapshotHistory()
}

// GetLLMDebugInfo renders the provider snapshot and the recorded model
// round trips. The API key is masked down to its last characters.
func (s *Session) GetLLMDebugInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	provider := s.cfg.API.GetActiveProvider()

	var b strings.Builder
	fmt.Fprintf(&b, "provider=%s", provider)
	if s.client != nil {
		fmt.Fprintf(&b, " model=%s", s.client.Model())
	}
	fmt.Fprintf(&b, " key=%s\n", maskKey(s.providerKey(provider)))

	if len(s.debug) == 0 {
		b.WriteString("no model calls recorded")
		return b.String()
	}

	for _, r := range s.debug {
		fmt.Fprintf(&b, "%s %-16s model=%s duration=%s in=%d out=%d\n",
			r.Time.Format("15:04:05"), r.Operation, r.Model,
			r.Duration.Round(time.Millisecond), r.Usage.InputTokens, r.Usage.OutputTokens)
	}
	return b.String()
}

// RecentChanges renders the watcher's view of recent file edits, or "".
func (s *Session) RecentChanges() string {
	if s.fsWatcher == nil {
		return ""
	}
	return s.fsWatcher.ChangeSummary()
}

// Close shuts the session down, saving the transcript.
func (s *Session) Close() error {
	s.Cancel()
	if s.histMgr != nil && len(s.History()) > 0 {
		if err := s.histMgr.Save(s); err != nil {
			logging.Warn("failed to save chat history", "error", err)
		}
	}
	if s.fsWatcher != nil {
		_ = s.fsWatcher.Stop()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// beginSend takes the sending slot and installs a cancellable context.
func (s *Session) beginSend(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, ErrNotInitialized
	}
	if s.sending {
		return nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	s.sending = true
	s.cancel = cancel
	return ctx, nil
}

func (s *Session) endSend() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.sending = false
	s.mu.Unlock()
}

// runDirect answers without tools: a single model turn over the history
// plus any recent file change context.
func (s *Session) runDirect(ctx context.Context, utterance string, route intent.Intent) (*Reply, error) {
	s.client.SetTools(nil)
	s.client.SetSystemInstruction(agent.SystemPrompt(s.Mode(), s.customRules()))

	prompt := utterance
	if changes := s.RecentChanges(); changes != "" {
		prompt = changes + "\n" + utterance
	}

	start := time.Now()
	res, err := s.dispatcher.Dispatch(ctx, s.snapshotHistory(), prompt, tools.DispatchOptions{SingleTurn: true})
	if res != nil {
		s.setHistory(res.History)
		s.recordDebug("direct", time.Since(start), res.Usage)
	}
	if err != nil {
		return nil, err
	}
	return &Reply{Text: res.Text, Intent: route}, nil
}

// runToolCommand executes an explicitly requested tool without any
// model involvement and records the exchange in history.
func (s *Session) runToolCommand(ctx context.Context, utterance string, cmd *intent.Command) (*Reply, error) {
	tool, ok := s.registry.Get(cmd.Tool)
	if !ok {
		return s.runDirect(ctx, utterance, intent.IntentDirect)
	}

	if s.handler.OnToolStart != nil {
		s.handler.OnToolStart(cmd.Tool, cmd.Args)
	}

	result, err := tool.Execute(ctx, cmd.Args)
	if err != nil {
		result = tools.NewErrorResult(err.Error())
	}

	if s.handler.OnToolEnd != nil {
		s.handler.OnToolEnd(cmd.Tool, result)
	}

	text := result.Content
	if !result.Success {
		text = "Error: " + result.Error
	}

	s.mu.Lock()
	s.history = append(s.history,
		llm.NewTextTurn(llm.RoleUser, utterance),
		llm.NewTextTurn(llm.RoleModel, fmt.Sprintf("Ran %s:\n%s", cmd.Tool, text)))
	s.mu.Unlock()

	return &Reply{Text: text, Intent: intent.IntentTool}, nil
}

// runTask routes the utterance through the agent loop.
func (s *Session) runTask(ctx context.Context, utterance string) (*Reply, error) {
	s.applyTools()

	description := ""
	if changes := s.RecentChanges(); changes != "" {
		description = changes
	}

	start := time.Now()
	summary, history, err := s.loop.Run(ctx, utterance, description, s.snapshotHistory(), s.handler)
	s.setHistory(history)
	s.recordDebug("task", time.Since(start), llm.Usage{})

	reply := &Reply{
		Intent:  intent.IntentTask,
		Summary: &summary,
		Text: fmt.Sprintf("Plan %s: %d/%d subtasks completed, %d failed.",
			summary.Status, summary.Metrics.Completed, summary.Metrics.TotalSubtasks, summary.Metrics.Failed),
	}
	if err != nil {
		return reply, err
	}
	return reply, nil
}

// applyTools rebinds declarations and the system prompt. The classifier
// clears tools for its probe, so every route that needs them reapplies.
func (s *Session) applyTools() {
	agent.ApplyTools(s.client, s.registry.Declarations(), s.Mode(), s.customRules())
}

func (s *Session) providerKey(provider string) string {
	switch provider {
	case "gemini":
		return s.cfg.API.GeminiKey
	case "openai":
		return s.cfg.API.OpenAIKey
	case "ollama":
		return s.cfg.API.OllamaKey
	}
	return ""
}

// maskKey hides all but the last four characters of an API key.
func maskKey(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func (s *Session) customRules() string {
	if s.cfg.Modes.CustomRules == nil {
		return ""
	}
	return s.cfg.Modes.CustomRules[string(s.Mode())]
}

func (s *Session) snapshotHistory() []*llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*llm.Turn(nil), s.history...)
}

func (s *Session) setHistory(history []*llm.Turn) {
	if history == nil {
		return
	}
	s.mu.Lock()
	s.history = history
	s.mu.Unlock()
}

func (s *Session) recordDebug(op string, duration time.Duration, usage llm.Usage) {
	if !s.cfg.Agent.DebugLLM {
		return
	}
	s.mu.Lock()
	s.debug = append(s.debug, DebugRecord{
		Time:      time.Now(),
		Operation: op,
		Model:     s.client.Model(),
		Duration:  duration,
		Usage:     usage,
	})
	s.mu.Unlock()
}
