package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown session IDs
var ErrNotFound = errors.New("session not found")

// Manager keeps the history of normalized lines per session
type Manager struct {
	sessions  map[string]*Session
	mu        sync.RWMutex
	exportDir string
}

// Session represents one run of the clipboard watcher
type Session struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Lines     []Line     `json:"lines"`
}

// Line represents a single normalized capture
type Line struct {
	Timestamp time.Time `json:"timestamp"`
	CaptureID string    `json:"captureId"`
	Raw       string    `json:"raw"`
	Text      string    `json:"text"`
}

// NewManager creates a new session manager exporting to "exports"
func NewManager() *Manager {
	return NewManagerWithExportDir("exports")
}

// NewManagerWithExportDir creates a session manager exporting to dir
func NewManagerWithExportDir(dir string) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		exportDir: dir,
	}
}

// CreateSession starts a new session for source and returns its ID
func (m *Manager) CreateSession(source string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := &Session{
		ID:        uuid.New().String(),
		Source:    source,
		StartTime: time.Now(),
		Lines:     []Line{},
	}

	m.sessions[session.ID] = session
	return session.ID
}

// AddLine appends a normalized line to a session
func (m *Manager) AddLine(sessionID, captureID, raw, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if session.EndTime != nil {
		return fmt.Errorf("session %s has ended", sessionID)
	}

	session.Lines = append(session.Lines, Line{
		Timestamp: time.Now(),
		CaptureID: captureID,
		Raw:       raw,
		Text:      text,
	})
	return nil
}

// EndSession marks a session as ended
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if session.EndTime == nil {
		now := time.Now()
		session.EndTime = &now
	}
	return nil
}

// GetSession returns a copy of the session
func (m *Manager) GetSession(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	return session.clone(), nil
}

// ListSessions returns copies of all sessions, oldest first
func (m *Manager) ListSessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session.clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions
}

// LastLine returns the most recent line of a session
func (m *Manager) LastLine(sessionID string) (Line, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists || len(session.Lines) == 0 {
		return Line{}, false
	}
	return session.Lines[len(session.Lines)-1], true
}

// ExportSession writes a session to a JSON file and returns its path
func (m *Manager) ExportSession(sessionID string) (string, error) {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}

	// #nosec G301 - Export directory needs to be readable for serving files
	if err := os.MkdirAll(m.exportDir, 0750); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%s.json", session.ID, session.StartTime.Format("20060102_150405"))
	path := filepath.Join(m.exportDir, filename)

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling session: %w", err)
	}

	// #nosec G306 - Export files need to be readable by the user
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}

	return path, nil
}

func (s *Session) clone() Session {
	c := *s
	c.Lines = append([]Line(nil), s.Lines...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return c
}
