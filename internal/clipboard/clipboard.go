package clipboard

import (
	"errors"
	"fmt"
	"sync"

	atotto "github.com/atotto/clipboard"
)

var (
	// ErrUnsupported is returned when no clipboard backend exists on this system
	ErrUnsupported = errors.New("clipboard not supported on this system")
)

// Clipboard reads and replaces the current text content
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// System is the OS clipboard
type System struct{}

// NewSystem returns the OS clipboard, or ErrUnsupported when no backend is available
func NewSystem() (*System, error) {
	if atotto.Unsupported {
		return nil, ErrUnsupported
	}
	return &System{}, nil
}

// ReadText returns the current clipboard text
func (s *System) ReadText() (string, error) {
	text, err := atotto.ReadAll()
	if err != nil {
		return "", fmt.Errorf("reading clipboard: %w", err)
	}
	return text, nil
}

// WriteText replaces the clipboard content with text
func (s *System) WriteText(text string) error {
	if err := atotto.WriteAll(text); err != nil {
		return fmt.Errorf("writing clipboard: %w", err)
	}
	return nil
}

// Memory is an in-process clipboard for tests and benchmarks
type Memory struct {
	mu       sync.Mutex
	text     string
	reads    int
	writes   int
	readErr  error
	writeErr error
	failN    int
}

// NewMemory creates a memory clipboard holding text
func NewMemory(text string) *Memory {
	return &Memory{text: text}
}

// ReadText returns the stored text
func (m *Memory) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.readErr != nil {
		return "", m.readErr
	}
	return m.text, nil
}

// WriteText stores text, failing while injected write failures remain
func (m *Memory) WriteText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failN > 0 {
		m.failN--
		return m.writeErr
	}
	m.text = text
	m.writes++
	return nil
}

// SetText replaces the content as another application would
func (m *Memory) SetText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
}

// Text returns the stored text without counting a read
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Reads returns the number of ReadText calls
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Writes returns the number of successful writes
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// FailReads makes every ReadText return err until called with nil
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes the next n WriteText calls return err
func (m *Memory) FailWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
	m.writeErr = err
}
