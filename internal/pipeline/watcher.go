package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/sirupsen/logrus"
)

// Submitter accepts captures for processing
type Submitter interface {
	Submit(capture *Capture) error
}

// WatcherConfig holds watcher configuration
type WatcherConfig struct {
	PollInterval time.Duration
	SessionID    string
	Source       string
}

// DefaultWatcherConfig returns default configuration
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval: 250 * time.Millisecond,
		Source:       "clipboard",
	}
}

// Handlers receive the outcome of every capture the watcher submits
type Handlers struct {
	OnNormalized func(capture *Capture, res textnorm.Result)
	OnSkipped    func(capture *Capture, res textnorm.Result)
	OnFailed     func(capture *Capture, err error)
}

// Watcher polls the clipboard and submits every new text as a capture.
// Text written through Clipboard() is not captured again.
type Watcher struct {
	clipboard clipboard.Clipboard
	queue     Submitter
	events    *feedback.EventBus
	config    WatcherConfig
	handlers  Handlers

	mu      sync.Mutex
	last    string
	written string

	readFailures int64
	observed     int64
}

// NewWatcher creates a watcher reading from clip and submitting to queue
func NewWatcher(clip clipboard.Clipboard, queue Submitter, events *feedback.EventBus, config WatcherConfig, handlers Handlers) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWatcherConfig().PollInterval
	}
	return &Watcher{
		clipboard: clip,
		queue:     queue,
		events:    events,
		config:    config,
		handlers:  handlers,
	}
}

// Run polls until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	logger := logrus.WithFields(logrus.Fields{
		"source":   w.config.Source,
		"interval": w.config.PollInterval,
	})
	logger.Info("Clipboard watcher started")
	defer logger.Info("Clipboard watcher stopped")

	// Whatever is on the clipboard at startup is not a new capture
	if text, err := w.clipboard.ReadText(); err == nil {
		w.mu.Lock()
		w.last = text
		w.mu.Unlock()
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll reads the clipboard once and submits its text if it is new
func (w *Watcher) Poll() {
	text, err := w.clipboard.ReadText()
	if err != nil {
		atomic.AddInt64(&w.readFailures, 1)
		logrus.WithError(err).Debug("Failed to read clipboard")
		if w.events != nil {
			w.events.Publish(feedback.Event{
				Type:      feedback.EventClipboardReadFailed,
				SessionID: w.config.SessionID,
				Data:      err.Error(),
			})
		}
		return
	}

	w.mu.Lock()
	if text == w.last {
		w.mu.Unlock()
		return
	}
	w.last = text
	selfWrite := text == w.written
	w.mu.Unlock()

	if selfWrite || strings.TrimSpace(text) == "" {
		return
	}

	capture := w.newCapture(text)
	atomic.AddInt64(&w.observed, 1)
	if w.events != nil {
		w.events.Publish(feedback.Event{
			Type:      feedback.EventCaptureObserved,
			SessionID: w.config.SessionID,
			Data: feedback.CaptureObservedData{
				CaptureID: capture.ID,
				Length:    len(text),
			},
		})
	}

	if err := w.queue.Submit(capture); err != nil {
		logrus.WithError(err).WithField("capture_id", capture.ID).Warn("Failed to submit capture")
	}
}

func (w *Watcher) newCapture(text string) *Capture {
	capture := &Capture{
		SessionID:  w.config.SessionID,
		Source:     w.config.Source,
		Text:       text,
		ObservedAt: time.Now(),
	}
	capture.ID = newCaptureID()

	if w.handlers.OnNormalized != nil {
		capture.OnComplete = func(res textnorm.Result) { w.handlers.OnNormalized(capture, res) }
	}
	if w.handlers.OnSkipped != nil {
		capture.OnSkip = func(res textnorm.Result) { w.handlers.OnSkipped(capture, res) }
	}
	if w.handlers.OnFailed != nil {
		capture.OnError = func(err error) { w.handlers.OnFailed(capture, err) }
	}
	return capture
}

// MarkWritten records text as written by this process so the next poll
// does not capture it again
func (w *Watcher) MarkWritten(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = text
}

// Clipboard returns a clipboard that marks every write before passing it on
func (w *Watcher) Clipboard() clipboard.Clipboard {
	return &markingClipboard{Clipboard: w.clipboard, watcher: w}
}

// Stats returns the number of observed captures and failed reads
func (w *Watcher) Stats() (observed, readFailures int64) {
	return atomic.LoadInt64(&w.observed), atomic.LoadInt64(&w.readFailures)
}

type markingClipboard struct {
	clipboard.Clipboard
	watcher *Watcher
}

func (m *markingClipboard) WriteText(text string) error {
	m.watcher.MarkWritten(text)
	return m.Clipboard.WriteText(text)
}
