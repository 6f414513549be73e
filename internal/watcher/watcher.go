package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"kodai/internal/logging"
)

// skippedDirNames are never watched regardless of ignore patterns.
var skippedDirNames = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".idea": true, ".vscode": true, "__pycache__": true,
	"target": true, "build": true, "dist": true,
}

// Watcher monitors a project directory and keeps a bounded log of
// recent changes so prompts can mention what the user just edited.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	workDir   string
	cfg       Config
	onChange  ChangeHandler

	mu      sync.Mutex
	pending map[string]time.Time
	recent  []Event
	running bool

	done     chan struct{}
	stopOnce sync.Once
}

// maxRecent bounds the recent-change log.
const maxRecent = 20

// New creates a watcher for workDir. A disabled config yields an inert
// watcher whose methods are all no-ops.
func New(workDir string, cfg Config) (*Watcher, error) {
	if !cfg.Enabled {
		return &Watcher{workDir: workDir, cfg: cfg}, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.MaxWatches <= 0 {
		cfg.MaxWatches = 1000
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		workDir:   workDir,
		cfg:       cfg,
		pending:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}, nil
}

// SetOnChange sets the callback invoked per debounced event.
func (w *Watcher) SetOnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = handler
}

// Start begins watching. Safe to call on a disabled watcher.
func (w *Watcher) Start() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirectories(); err != nil {
		return err
	}

	go w.processEvents()
	go w.processDebounce()
	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.stopOnce.Do(func() {
		close(w.done)
	})
	return w.fsWatcher.Close()
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RecentChanges returns the debounced events observed so far, oldest
// first, capped at maxRecent.
func (w *Watcher) RecentChanges() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Event(nil), w.recent...)
}

// ChangeSummary renders recent changes as a prompt context block, or ""
// when nothing changed.
func (w *Watcher) ChangeSummary() string {
	events := w.RecentChanges()
	if len(events) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recently changed files:\n")
	for _, e := range events {
		rel, err := filepath.Rel(w.workDir, e.Path)
		if err != nil {
			rel = e.Path
		}
		b.WriteString("- " + rel + " (" + e.Operation.String() + ")\n")
	}
	return b.String()
}

func (w *Watcher) addDirectories() error {
	count := 0
	return filepath.Walk(w.workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if skippedDirNames[info.Name()] {
			return filepath.SkipDir
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if count >= w.cfg.MaxWatches {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return nil
		}
		count++
		return nil
	})
}

// ignored matches a path against the configured glob patterns,
// relative to the work directory.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.workDir, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.cfg.IgnorePatterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if w.ignored(path) {
		return
	}

	// Editor temp files
	base := filepath.Base(path)
	if base == "" || base[0] == '.' || base[0] == '#' || base[len(base)-1] == '~' {
		return
	}

	// Watch newly created directories too
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() && !skippedDirNames[info.Name()] {
			w.mu.Lock()
			if len(w.fsWatcher.WatchList()) < w.cfg.MaxWatches {
				_ = w.fsWatcher.Add(path)
			}
			w.mu.Unlock()
			return
		}
	}

	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounce() {
	ticker := time.NewTicker(w.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushPending()
		}
	}
}

// flushPending emits events for paths that have been quiet for the full
// debounce window.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.cfg.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	handler := w.onChange
	w.mu.Unlock()

	for _, path := range ready {
		event := Event{Path: path, Operation: detectOperation(path), Time: now}

		w.mu.Lock()
		w.recent = append(w.recent, event)
		if len(w.recent) > maxRecent {
			w.recent = w.recent[len(w.recent)-maxRecent:]
		}
		w.mu.Unlock()

		if handler != nil {
			handler(event)
		}
	}
}

func detectOperation(path string) Operation {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return OpDelete
	}
	return OpModify
}
