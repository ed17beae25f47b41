package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const revealed = "<color=#fff>このテキスト</color>このテキストです"

// MockTransformer for testing
type MockTransformer struct {
	mock.Mock
}

func (m *MockTransformer) Normalize(raw string) textnorm.Result {
	args := m.Called(raw)
	return args.Get(0).(textnorm.Result)
}

func testQueueConfig() QueueConfig {
	config := DefaultQueueConfig()
	config.RetryDelay = time.Millisecond
	config.ProcessTimeout = time.Second
	return config
}

func startQueue(t *testing.T, config QueueConfig, clip clipboard.Clipboard, events *feedback.EventBus) *CaptureQueue {
	t.Helper()
	queue := NewCaptureQueue(config, events)
	queue.Start(textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor()), clip)
	t.Cleanup(queue.Stop)
	return queue
}

func TestQueueNormalizesAndWritesBack(t *testing.T) {
	clip := clipboard.NewMemory("")
	queue := startQueue(t, testQueueConfig(), clip, nil)

	done := make(chan textnorm.Result, 1)
	err := queue.Submit(&Capture{
		Text:       revealed,
		OnComplete: func(res textnorm.Result) { done <- res },
		OnError:    func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	require.NoError(t, err)

	select {
	case res := <-done:
		assert.Equal(t, "このテキストです", res.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("capture was not processed")
	}

	assert.Equal(t, "このテキストです", clip.Text())
	metrics := queue.GetMetrics()
	assert.Equal(t, int64(1), metrics.CapturesQueued)
	assert.Equal(t, int64(1), metrics.CapturesNormalized)
	assert.Equal(t, int32(0), metrics.CurrentQueueDepth)
}

func TestQueueSkipsUnrecognizedText(t *testing.T) {
	clip := clipboard.NewMemory("")
	events := feedback.NewEventBus(16)
	defer events.Stop()

	skippedEvent := make(chan feedback.CaptureSkippedData, 1)
	events.Subscribe(feedback.EventCaptureSkipped, func(e feedback.Event) {
		skippedEvent <- e.Data.(feedback.CaptureSkippedData)
	})

	queue := startQueue(t, testQueueConfig(), clip, events)

	skipped := make(chan textnorm.Result, 1)
	require.NoError(t, queue.Submit(&Capture{
		ID:     "capture-1",
		Text:   "plain ascii <b>text</b>",
		OnSkip: func(res textnorm.Result) { skipped <- res },
	}))

	select {
	case res := <-skipped:
		assert.Equal(t, textnorm.NotTargetScript, res.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("capture was not skipped")
	}

	select {
	case data := <-skippedEvent:
		assert.Equal(t, "capture-1", data.CaptureID)
		assert.Equal(t, "not_target_script", data.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("skip event not published")
	}

	assert.Equal(t, 0, clip.Writes())
	assert.Equal(t, int64(1), queue.GetMetrics().CapturesSkipped)
}

func TestWorkerRetriesFailedWrites(t *testing.T) {
	clip := clipboard.NewMemory("")
	clip.FailWrites(2, errors.New("clipboard busy"))

	queue := startQueue(t, testQueueConfig(), clip, nil)

	done := make(chan struct{})
	require.NoError(t, queue.Submit(&Capture{
		Text:       revealed,
		OnComplete: func(textnorm.Result) { close(done) },
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture was not written after retries")
	}
	assert.Equal(t, 1, clip.Writes())
	assert.Equal(t, "このテキストです", clip.Text())
}

func TestWorkerGivesUpAfterMaxRetries(t *testing.T) {
	clip := clipboard.NewMemory("")
	busy := errors.New("clipboard busy")
	clip.FailWrites(10, busy)

	config := testQueueConfig()
	config.MaxRetries = 2
	queue := startQueue(t, config, clip, nil)

	failed := make(chan error, 1)
	require.NoError(t, queue.Submit(&Capture{
		Text:    revealed,
		OnError: func(err error) { failed <- err },
	}))

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.ErrorIs(t, err, busy)
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not fail")
	}
	assert.Equal(t, int64(1), queue.GetMetrics().CapturesFailed)
	assert.Equal(t, 0, clip.Writes())
}

func TestWorkerUsesTransformer(t *testing.T) {
	trans := &MockTransformer{}
	trans.On("Normalize", "raw").Return(textnorm.Result{Text: "clean", Outcome: textnorm.Normalized})

	clip := clipboard.NewMemory("")
	queue := NewCaptureQueue(testQueueConfig(), nil)
	queue.Start(trans, clip)
	defer queue.Stop()

	done := make(chan struct{})
	require.NoError(t, queue.Submit(&Capture{Text: "raw", OnComplete: func(textnorm.Result) { close(done) }}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture was not processed")
	}
	assert.Equal(t, "clean", clip.Text())
	trans.AssertExpectations(t)
}

func TestSubmitDropsOldestWhenFull(t *testing.T) {
	config := testQueueConfig()
	config.QueueSize = 2
	// Not started: captures stay queued.
	queue := NewCaptureQueue(config, nil)
	defer queue.Stop()

	var dropped []string
	var mu sync.Mutex
	submit := func(id string) {
		require.NoError(t, queue.Submit(&Capture{
			ID:   id,
			Text: id,
			OnError: func(err error) {
				assert.ErrorIs(t, err, ErrQueueFull)
				mu.Lock()
				dropped = append(dropped, id)
				mu.Unlock()
			},
		}))
	}
	submit("first")
	submit("second")
	submit("third")

	assert.Equal(t, []string{"first"}, dropped)
	metrics := queue.GetMetrics()
	assert.Equal(t, int64(3), metrics.CapturesQueued)
	assert.Equal(t, int64(1), metrics.CapturesDropped)
	assert.Equal(t, int32(2), metrics.CurrentQueueDepth)
	assert.Equal(t, 2, queue.GetQueueDepth())

	assert.Equal(t, "second", (<-queue.captures).ID)
	assert.Equal(t, "third", (<-queue.captures).ID)
}

func TestSubmitAfterStop(t *testing.T) {
	queue := NewCaptureQueue(testQueueConfig(), nil)
	queue.Start(textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor()), clipboard.NewMemory(""))
	queue.Stop()
	queue.Stop()

	err := queue.Submit(&Capture{Text: revealed})
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestSubmitAssignsID(t *testing.T) {
	queue := NewCaptureQueue(testQueueConfig(), nil)
	defer queue.Stop()

	capture := &Capture{Text: "x"}
	require.NoError(t, queue.Submit(capture))
	assert.NotEmpty(t, capture.ID)
	assert.False(t, capture.ObservedAt.IsZero())
}

func TestWorkerStatuses(t *testing.T) {
	config := testQueueConfig()
	config.WorkerCount = 3
	queue := startQueue(t, config, clipboard.NewMemory(""), nil)

	statuses := queue.GetWorkerStatuses()
	require.Len(t, statuses, 3)
	for i, s := range statuses {
		assert.Equal(t, i, s.ID)
	}
}

// recordingSubmitter collects submitted captures
type recordingSubmitter struct {
	mu       sync.Mutex
	captures []*Capture
}

func (r *recordingSubmitter) Submit(capture *Capture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, capture)
	return nil
}

func (r *recordingSubmitter) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.captures))
	for _, c := range r.captures {
		out = append(out, c.Text)
	}
	return out
}

func TestWatcherPollSubmitsChangedText(t *testing.T) {
	clip := clipboard.NewMemory("")
	sub := &recordingSubmitter{}
	w := NewWatcher(clip, sub, nil, WatcherConfig{SessionID: "session-1", Source: "test"}, Handlers{})

	w.Poll()
	assert.Empty(t, sub.texts(), "empty text is not a capture")

	clip.SetText("一回目")
	w.Poll()
	w.Poll()
	assert.Equal(t, []string{"一回目"}, sub.texts())

	clip.SetText("二回目")
	w.Poll()
	assert.Equal(t, []string{"一回目", "二回目"}, sub.texts())

	sub.mu.Lock()
	last := sub.captures[1]
	sub.mu.Unlock()
	assert.Equal(t, "session-1", last.SessionID)
	assert.Equal(t, "test", last.Source)
	assert.NotEmpty(t, last.ID)

	observed, failures := w.Stats()
	assert.Equal(t, int64(2), observed)
	assert.Equal(t, int64(0), failures)
}

func TestWatcherIgnoresOwnWrites(t *testing.T) {
	clip := clipboard.NewMemory("")
	sub := &recordingSubmitter{}
	w := NewWatcher(clip, sub, nil, DefaultWatcherConfig(), Handlers{})

	require.NoError(t, w.Clipboard().WriteText("自分で書いた"))
	assert.Equal(t, "自分で書いた", clip.Text())

	w.Poll()
	assert.Empty(t, sub.texts())
}

func TestWatcherCountsReadFailures(t *testing.T) {
	clip := clipboard.NewMemory("")
	clip.FailReads(errors.New("format unavailable"))
	events := feedback.NewEventBus(4)

	sub := &recordingSubmitter{}
	w := NewWatcher(clip, sub, events, DefaultWatcherConfig(), Handlers{})
	w.Poll()
	w.Poll()
	events.Stop()

	_, failures := w.Stats()
	assert.Equal(t, int64(2), failures)
	assert.Equal(t, int64(2), events.GetMetrics().EventsPublished[feedback.EventClipboardReadFailed])
	assert.Empty(t, sub.texts())
}

func TestWatcherEndToEnd(t *testing.T) {
	clip := clipboard.NewMemory("起動時の内容")
	config := testQueueConfig()
	queue := NewCaptureQueue(config, nil)

	normalized := make(chan string, 4)
	w := NewWatcher(clip, queue, nil, WatcherConfig{PollInterval: 5 * time.Millisecond}, Handlers{
		OnNormalized: func(c *Capture, res textnorm.Result) {
			assert.Equal(t, revealed, c.Text)
			normalized <- res.Text
		},
	})
	queue.Start(textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor()), w.Clipboard())
	defer queue.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher time to record the startup content.
	require.Eventually(t, func() bool { return clip.Reads() > 1 }, time.Second, time.Millisecond)
	clip.SetText(revealed)

	select {
	case text := <-normalized:
		assert.Equal(t, "このテキストです", text)
	case <-time.After(2 * time.Second):
		t.Fatal("clipboard was not normalized")
	}
	assert.Equal(t, "このテキストです", clip.Text())

	// Several more polls must not capture the written text.
	reads := clip.Reads()
	require.Eventually(t, func() bool { return clip.Reads() > reads+3 }, time.Second, time.Millisecond)
	observed, _ := w.Stats()
	assert.Equal(t, int64(1), observed)
}
