package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is passed to OnError of a capture evicted by a newer one
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueStopped is returned when the queue has been stopped
	ErrQueueStopped = errors.New("queue has been stopped")

	// ErrProcessTimeout is returned when processing exceeds timeout
	ErrProcessTimeout = errors.New("processing timeout exceeded")

	// ErrWriteFailed is returned when the clipboard rejected every write attempt
	ErrWriteFailed = errors.New("clipboard write failed")
)

type processOutcome int

const (
	outcomeNormalized processOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// Worker normalizes captures and writes the result back to the clipboard
type Worker struct {
	id          int
	queue       *CaptureQueue
	transformer textnorm.Transformer
	clipboard   clipboard.Clipboard
	config      QueueConfig
	logger      *logrus.Entry
	busy        int32
}

// NewWorker creates a new worker
func NewWorker(id int, queue *CaptureQueue, trans textnorm.Transformer, clip clipboard.Clipboard, config QueueConfig) *Worker {
	return &Worker{
		id:          id,
		queue:       queue,
		transformer: trans,
		clipboard:   clip,
		config:      config,
		logger: logrus.WithFields(logrus.Fields{
			"worker_id": id,
		}),
	}
}

// Run starts the worker processing loop
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker started")
	defer w.logger.Info("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case capture := <-w.queue.captures:
			atomic.AddInt32(&w.queue.metrics.CurrentQueueDepth, -1)
			atomic.AddInt32(&w.queue.metrics.ActiveWorkers, 1)
			atomic.StoreInt32(&w.busy, 1)
			w.processCapture(ctx, capture)
			atomic.StoreInt32(&w.busy, 0)
			atomic.AddInt32(&w.queue.metrics.ActiveWorkers, -1)
		}
	}
}

// processCapture handles a single capture
func (w *Worker) processCapture(parent context.Context, capture *Capture) {
	startTime := time.Now()
	logger := w.logger.WithField("capture_id", capture.ID)

	res := w.transformer.Normalize(capture.Text)
	if !res.OK() {
		w.queue.updateMetricsAfterProcess(time.Since(startTime), outcomeSkipped)
		logger.WithField("reason", res.Outcome.String()).Debug("Capture left unchanged")

		if w.queue.events != nil {
			w.queue.events.PublishCaptureSkipped(capture.SessionID, feedback.CaptureSkippedData{
				CaptureID: capture.ID,
				Reason:    res.Outcome.String(),
			})
		}
		if capture.OnSkip != nil {
			capture.OnSkip(res)
		}
		return
	}

	ctx, cancel := context.WithTimeout(parent, w.config.ProcessTimeout)
	defer cancel()

	attempts, err := w.writeWithRetry(ctx, res.Text)
	processTime := time.Since(startTime)
	if err != nil {
		w.queue.updateMetricsAfterProcess(processTime, outcomeFailed)
		logger.WithError(err).WithField("attempts", attempts).Error("Failed to write normalized text")

		if w.queue.events != nil {
			w.queue.events.PublishCaptureFailed(capture.SessionID, feedback.CaptureFailedData{
				CaptureID: capture.ID,
				Error:     err.Error(),
				Attempts:  attempts,
			})
		}
		if capture.OnError != nil {
			capture.OnError(err)
		}
		return
	}

	w.queue.updateMetricsAfterProcess(processTime, outcomeNormalized)
	logger.WithFields(logrus.Fields{
		"process_time": processTime,
		"raw_length":   len(capture.Text),
		"text_length":  len(res.Text),
	}).Info("Capture normalized")

	if w.queue.events != nil {
		w.queue.events.PublishCaptureNormalized(capture.SessionID, feedback.CaptureNormalizedData{
			CaptureID:   capture.ID,
			Raw:         capture.Text,
			Text:        res.Text,
			ProcessTime: processTime,
		})
	}
	if capture.OnComplete != nil {
		capture.OnComplete(res)
	}
}

// writeWithRetry writes text, retrying failed writes up to MaxRetries attempts
func (w *Worker) writeWithRetry(ctx context.Context, text string) (int, error) {
	var lastError error
	attempts := 0
	for attempt := 0; attempt < w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.config.RetryDelay):
			case <-ctx.Done():
				return attempts, fmt.Errorf("%w: %w", ErrProcessTimeout, lastError)
			}
		}

		attempts++
		err := w.clipboard.WriteText(text)
		if err == nil {
			return attempts, nil
		}

		lastError = err
		w.logger.WithError(err).WithField("attempt", attempts).Warn("Clipboard write failed, retrying...")
	}

	return attempts, fmt.Errorf("%w: %w", ErrWriteFailed, lastError)
}

// GetStatus returns the worker's current status
func (w *Worker) GetStatus() WorkerStatus {
	return WorkerStatus{
		ID:       w.id,
		IsActive: atomic.LoadInt32(&w.busy) == 1,
	}
}

// WorkerStatus represents the status of a worker
type WorkerStatus struct {
	ID       int
	IsActive bool
}
