package chat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kodai/internal/fileutil"
	"kodai/internal/llm"
)

// HistoryEntry is one visible exchange line in a saved transcript. Tool
// call and result parts are not persisted.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryFile is a saved session transcript.
type HistoryFile struct {
	SessionID string         `json:"session_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Entries   []HistoryEntry `json:"entries"`
}

// HistoryManager persists session transcripts under the user data dir.
type HistoryManager struct {
	dataDir string
}

// NewHistoryManager creates a history manager, creating the data
// directory if needed.
func NewHistoryManager() (*HistoryManager, error) {
	dataDir, err := historyDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return &HistoryManager{dataDir: dataDir}, nil
}

// Save writes the session's visible transcript to disk.
func (m *HistoryManager) Save(session *Session) error {
	file := HistoryFile{
		SessionID: session.ID,
		StartTime: session.StartTime,
		EndTime:   time.Now(),
		Entries:   visibleEntries(session.History()),
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	filename := filepath.Join(m.dataDir, session.ID+".json")
	return fileutil.AtomicWrite(filename, data, 0o644)
}

// Load reads a saved transcript.
func (m *HistoryManager) Load(sessionID string) (*HistoryFile, error) {
	data, err := os.ReadFile(filepath.Join(m.dataDir, sessionID+".json"))
	if err != nil {
		return nil, err
	}

	var file HistoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// List returns the IDs of all saved transcripts.
func (m *HistoryManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return nil, err
	}

	var sessions []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			sessions = append(sessions, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return sessions, nil
}

// Delete removes a saved transcript.
func (m *HistoryManager) Delete(sessionID string) error {
	return os.Remove(filepath.Join(m.dataDir, sessionID+".json"))
}

// Latest loads the most recently written transcript, or nil when none
// has been saved yet.
func (m *HistoryManager) Latest() (*HistoryFile, error) {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return nil, err
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = strings.TrimSuffix(entry.Name(), ".json")
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return nil, nil
	}
	return m.Load(newest)
}

// Turns rebuilds conversation turns from a saved transcript.
func (f *HistoryFile) Turns() []*llm.Turn {
	turns := make([]*llm.Turn, 0, len(f.Entries))
	for _, entry := range f.Entries {
		turns = append(turns, llm.NewTextTurn(llm.Role(entry.Role), entry.Content))
	}
	return turns
}

// visibleEntries flattens history into text-only entries, skipping turns
// that carried only tool traffic.
func visibleEntries(history []*llm.Turn) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(history))
	for _, turn := range history {
		text := strings.TrimSpace(turn.Text())
		if text == "" {
			continue
		}
		entries = append(entries, HistoryEntry{
			Role:      string(turn.Role),
			Content:   text,
			Timestamp: time.Now(),
		})
	}
	return entries
}

func historyDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "kodai", "history"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "share", "kodai", "history"), nil
}
