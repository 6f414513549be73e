package watcher

import "time"

// Operation represents the type of file system operation.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event represents a debounced file system event.
type Event struct {
	Path      string
	Operation Operation
	Time      time.Time
}

// Config holds file watcher configuration.
type Config struct {
	Enabled        bool
	Debounce       time.Duration
	MaxWatches     int
	IgnorePatterns []string
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Debounce:   500 * time.Millisecond,
		MaxWatches: 1000,
		IgnorePatterns: []string{
			".git/**", "node_modules/**", "vendor/**", "**/*.log",
		},
	}
}

// ChangeHandler is a callback for debounced file change events.
type ChangeHandler func(event Event)
