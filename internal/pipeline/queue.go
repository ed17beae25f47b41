package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Capture represents one observed clipboard text waiting to be normalized
type Capture struct {
	ID         string
	SessionID  string
	Source     string
	Text       string
	ObservedAt time.Time

	// Callbacks for outcome tracking
	OnComplete func(res textnorm.Result)
	OnSkip     func(res textnorm.Result)
	OnError    func(error)
}

func newCaptureID() string {
	return uuid.New().String()
}

// CaptureQueue hands captures to the worker pool. When the queue is full the
// oldest pending capture is dropped so the most recent clipboard text wins.
type CaptureQueue struct {
	captures chan *Capture

	// Worker management
	workers  []*Worker
	workerWg sync.WaitGroup

	// Metrics
	metrics *QueueMetrics

	// Optional event sink
	events *feedback.EventBus

	// Control
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	// Configuration
	config QueueConfig
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	WorkerCount    int
	QueueSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	ProcessTimeout time.Duration
}

// DefaultQueueConfig returns default configuration. A single worker keeps
// clipboard writes in capture order.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:    1,
		QueueSize:      8,
		MaxRetries:     3,
		RetryDelay:     100 * time.Millisecond,
		ProcessTimeout: 5 * time.Second,
	}
}

// QueueMetrics tracks queue performance
type QueueMetrics struct {
	CapturesQueued     int64
	CapturesNormalized int64
	CapturesSkipped    int64
	CapturesFailed     int64
	CapturesDropped    int64
	TotalProcessTime   int64 // in microseconds
	AverageProcessTime int64 // in microseconds
	CurrentQueueDepth  int32
	ActiveWorkers      int32
}

// NewCaptureQueue creates a new capture queue
func NewCaptureQueue(config QueueConfig, events *feedback.EventBus) *CaptureQueue {
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CaptureQueue{
		captures: make(chan *Capture, config.QueueSize),
		workers:  make([]*Worker, 0, config.WorkerCount),
		metrics:  &QueueMetrics{},
		events:   events,
		ctx:      ctx,
		cancel:   cancel,
		config:   config,
	}
}

// Start begins processing with worker pool
func (q *CaptureQueue) Start(trans textnorm.Transformer, clip clipboard.Clipboard) {
	// Create and start workers
	for i := 0; i < q.config.WorkerCount; i++ {
		worker := NewWorker(i, q, trans, clip, q.config)
		q.workers = append(q.workers, worker)

		q.workerWg.Add(1)
		go func(w *Worker) {
			defer q.workerWg.Done()
			w.Run(q.ctx)
		}(worker)
	}

	logrus.WithField("workers", q.config.WorkerCount).Info("Capture queue started")
}

// Stop gracefully shuts down the queue. Pending captures are discarded.
func (q *CaptureQueue) Stop() {
	q.stopOnce.Do(func() {
		logrus.Info("Stopping capture queue...")

		// Cancel context to stop workers
		q.cancel()

		// Wait for workers to finish
		q.workerWg.Wait()

		logrus.Info("Capture queue stopped")
	})
}

// Submit queues a capture, evicting the oldest pending one when full
func (q *CaptureQueue) Submit(capture *Capture) error {
	select {
	case <-q.ctx.Done():
		return ErrQueueStopped
	default:
	}

	// Assign ID if not set
	if capture.ID == "" {
		capture.ID = newCaptureID()
	}
	if capture.ObservedAt.IsZero() {
		capture.ObservedAt = time.Now()
	}

	atomic.AddInt64(&q.metrics.CapturesQueued, 1)

	for {
		select {
		case q.captures <- capture:
			depth := atomic.AddInt32(&q.metrics.CurrentQueueDepth, 1)
			logrus.WithFields(logrus.Fields{
				"capture_id": capture.ID,
				"length":     len(capture.Text),
				"depth":      depth,
			}).Debug("Capture queued")
			q.publishDepth()
			return nil
		default:
		}

		// Queue is full: drop the oldest pending capture
		select {
		case stale := <-q.captures:
			atomic.AddInt32(&q.metrics.CurrentQueueDepth, -1)
			atomic.AddInt64(&q.metrics.CapturesDropped, 1)
			logrus.WithFields(logrus.Fields{
				"capture_id": stale.ID,
				"replaced":   capture.ID,
			}).Debug("Queue full, dropped stale capture")
			if stale.OnError != nil {
				stale.OnError(ErrQueueFull)
			}
		default:
			// A worker took one in between; retry the send
		}
	}
}

// GetMetrics returns current queue metrics
func (q *CaptureQueue) GetMetrics() QueueMetrics {
	metrics := QueueMetrics{
		CapturesQueued:     atomic.LoadInt64(&q.metrics.CapturesQueued),
		CapturesNormalized: atomic.LoadInt64(&q.metrics.CapturesNormalized),
		CapturesSkipped:    atomic.LoadInt64(&q.metrics.CapturesSkipped),
		CapturesFailed:     atomic.LoadInt64(&q.metrics.CapturesFailed),
		CapturesDropped:    atomic.LoadInt64(&q.metrics.CapturesDropped),
		TotalProcessTime:   atomic.LoadInt64(&q.metrics.TotalProcessTime),
		CurrentQueueDepth:  atomic.LoadInt32(&q.metrics.CurrentQueueDepth),
		ActiveWorkers:      atomic.LoadInt32(&q.metrics.ActiveWorkers),
	}

	// Calculate average process time
	if done := metrics.CapturesNormalized + metrics.CapturesSkipped; done > 0 {
		metrics.AverageProcessTime = metrics.TotalProcessTime / done
	}

	return metrics
}

// GetWorkerStatuses returns the status of every started worker
func (q *CaptureQueue) GetWorkerStatuses() []WorkerStatus {
	statuses := make([]WorkerStatus, 0, len(q.workers))
	for _, w := range q.workers {
		statuses = append(statuses, w.GetStatus())
	}
	return statuses
}

// GetQueueDepth returns the number of pending captures
func (q *CaptureQueue) GetQueueDepth() int {
	return len(q.captures)
}

func (q *CaptureQueue) publishDepth() {
	if q.events == nil {
		return
	}
	q.events.PublishQueueDepthChanged(feedback.QueueDepthData{
		Depth:         q.GetQueueDepth(),
		ActiveWorkers: int(atomic.LoadInt32(&q.metrics.ActiveWorkers)),
	})
}

// updateMetricsAfterProcess updates metrics after processing a capture
func (q *CaptureQueue) updateMetricsAfterProcess(processTime time.Duration, outcome processOutcome) {
	switch outcome {
	case outcomeNormalized:
		atomic.AddInt64(&q.metrics.CapturesNormalized, 1)
		atomic.AddInt64(&q.metrics.TotalProcessTime, processTime.Microseconds())
	case outcomeSkipped:
		atomic.AddInt64(&q.metrics.CapturesSkipped, 1)
		atomic.AddInt64(&q.metrics.TotalProcessTime, processTime.Microseconds())
	default:
		atomic.AddInt64(&q.metrics.CapturesFailed, 1)
	}
}
