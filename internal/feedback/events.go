package feedback

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of event
type EventType string

const (
	// Capture events
	EventCaptureObserved   EventType = "capture.observed"
	EventCaptureNormalized EventType = "capture.normalized"
	EventCaptureSkipped    EventType = "capture.skipped"
	EventCaptureFailed     EventType = "capture.failed"

	// Clipboard events
	EventClipboardReadFailed EventType = "clipboard.read_failed"

	// System events
	EventQueueDepthChanged EventType = "queue.depth.changed"
	EventSessionCreated    EventType = "session.created"
	EventSessionEnded      EventType = "session.ended"
)

// Event represents a system event
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      interface{}
}

// CaptureObservedData contains data for capture observed events
type CaptureObservedData struct {
	CaptureID string
	Length    int
}

// CaptureNormalizedData contains data for capture normalized events
type CaptureNormalizedData struct {
	CaptureID   string
	Raw         string
	Text        string
	ProcessTime time.Duration
}

// CaptureSkippedData contains data for captures the pipeline declined
type CaptureSkippedData struct {
	CaptureID string
	Reason    string
}

// CaptureFailedData contains data for captures that could not be written back
type CaptureFailedData struct {
	CaptureID string
	Error     string
	Attempts  int
}

// QueueDepthData contains data for queue depth change events
type QueueDepthData struct {
	Depth         int
	ActiveWorkers int
}

// EventHandler is a function that handles events
type EventHandler func(event Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus manages event distribution
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]subscription
	allHandlers []subscription
	nextID      uint64
	buffer      chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	metricsMu   sync.Mutex
	metrics     EventMetrics
}

// EventMetrics tracks event statistics
type EventMetrics struct {
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]subscription),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		metrics: EventMetrics{
			EventsPublished: make(map[EventType]int64),
		},
	}

	// Start event processor
	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for specific event types
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	// Return unsubscribe function
	return func() {
		eb.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a handler for all events
func (eb *EventBus) SubscribeAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.allHandlers = append(eb.allHandlers, subscription{id: id, handler: handler})

	// Return unsubscribe function
	return func() {
		eb.unsubscribeAll(id)
	}
}

func (eb *EventBus) unsubscribe(eventType EventType, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = removeSubscription(eb.handlers[eventType], id)
}

func (eb *EventBus) unsubscribeAll(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allHandlers = removeSubscription(eb.allHandlers, id)
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-eb.stopCh:
		return
	default:
	}

	// Update metrics
	eb.metricsMu.Lock()
	eb.metrics.EventsPublished[event.Type]++
	eb.metricsMu.Unlock()

	// Non-blocking send
	select {
	case eb.buffer <- event:
		// Event queued
	default:
		// Buffer full, drop event
		eb.metricsMu.Lock()
		eb.metrics.EventsDropped++
		eb.metricsMu.Unlock()

		logrus.WithFields(logrus.Fields{
			"event_type": event.Type,
			"session_id": event.SessionID,
		}).Warn("Event dropped, buffer full")
	}
}

// processEvents handles event distribution to subscribers
func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.buffer:
			eb.deliverEvent(event)

		case <-eb.stopCh:
			// Process remaining events
			for {
				select {
				case event := <-eb.buffer:
					eb.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent sends an event to all relevant handlers in subscription order
func (eb *EventBus) deliverEvent(event Event) {
	eb.mu.RLock()
	targets := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, s := range eb.handlers[event.Type] {
		targets = append(targets, s.handler)
	}
	for _, s := range eb.allHandlers {
		targets = append(targets, s.handler)
	}
	eb.mu.RUnlock()

	for _, h := range targets {
		eb.callHandler(h, event)
	}
}

func (eb *EventBus) callHandler(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_type": event.Type,
				"panic":      r,
			}).Error("Event handler panic")
		}
	}()

	h(event)

	eb.metricsMu.Lock()
	eb.metrics.EventsDelivered++
	eb.metricsMu.Unlock()
}

// Stop delivers queued events and shuts down the event bus
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopCh)
		eb.wg.Wait()
	})
}

// GetMetrics returns event bus metrics
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.metricsMu.Lock()
	defer eb.metricsMu.Unlock()

	// Create a copy
	metrics := EventMetrics{
		EventsPublished: make(map[EventType]int64),
		EventsDelivered: eb.metrics.EventsDelivered,
		EventsDropped:   eb.metrics.EventsDropped,
	}

	for k, v := range eb.metrics.EventsPublished {
		metrics.EventsPublished[k] = v
	}

	return metrics
}

// Helper functions for common event publishing

// PublishCaptureNormalized publishes a capture normalized event
func (eb *EventBus) PublishCaptureNormalized(sessionID string, data CaptureNormalizedData) {
	eb.Publish(Event{
		Type:      EventCaptureNormalized,
		SessionID: sessionID,
		Data:      data,
	})
}

// PublishCaptureSkipped publishes a capture skipped event
func (eb *EventBus) PublishCaptureSkipped(sessionID string, data CaptureSkippedData) {
	eb.Publish(Event{
		Type:      EventCaptureSkipped,
		SessionID: sessionID,
		Data:      data,
	})
}

// PublishCaptureFailed publishes a capture failed event
func (eb *EventBus) PublishCaptureFailed(sessionID string, data CaptureFailedData) {
	eb.Publish(Event{
		Type:      EventCaptureFailed,
		SessionID: sessionID,
		Data:      data,
	})
}

// PublishQueueDepthChanged publishes a queue depth change event
func (eb *EventBus) PublishQueueDepthChanged(data QueueDepthData) {
	eb.Publish(Event{
		Type: EventQueueDepthChanged,
		Data: data,
	})
}
