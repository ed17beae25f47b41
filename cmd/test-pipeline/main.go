package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/pipeline"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/hostabi"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
)

var (
	encodingName string
	trailing     int
	selfCheck    bool
)

func init() {
	flag.StringVar(&encodingName, "encoding", "utf8", "Input encoding: utf8 (one capture per line) or utf16le (whole input is one capture)")
	flag.IntVar(&trailing, "dialogue-trailing", textnorm.DefaultTrailing, "Characters kept after the closing dialogue bracket")
	flag.BoolVar(&selfCheck, "self-check", false, "Run the built-in pipeline checks instead of reading stdin")
	flag.Parse()
}

func main() {
	extractor := textnorm.DefaultDialogueExtractor()
	extractor.Trailing = trailing
	normalizer := textnorm.NewNormalizer(extractor)

	if selfCheck {
		runSelfCheck(normalizer)
		return
	}

	switch strings.ToLower(encodingName) {
	case "utf8":
		normalizeLines(normalizer, os.Stdin, os.Stdout)
	case "utf16le":
		normalizeUTF16(normalizer, os.Stdin, os.Stdout)
	default:
		log.Fatalf("unknown encoding %q", encodingName)
	}
}

// normalizeLines treats each input line as one capture and prints the result
// or the reason it was left unchanged
func normalizeLines(n *textnorm.Normalizer, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		res := n.Normalize(scanner.Text())
		if res.OK() {
			fmt.Fprintln(out, res.Text)
		} else {
			fmt.Fprintf(out, "# unchanged (%s)\n", res.Outcome)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("reading input: %v", err)
	}
}

// normalizeUTF16 runs the whole input through the host boundary and writes
// the NUL-terminated UTF-16LE result
func normalizeUTF16(n *textnorm.Normalizer, in io.Reader, out io.Writer) {
	data, err := io.ReadAll(in)
	if err != nil {
		log.Fatalf("reading input: %v", err)
	}

	host := hostabi.NewHost(n)
	buf, ok, err := host.Modify(data)
	if err != nil {
		log.Fatalf("modify: %v", err)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "unchanged")
		os.Exit(1)
	}
	defer func() {
		if err := host.Release(buf.Handle); err != nil {
			log.Printf("release: %v", err)
		}
	}()

	if _, err := out.Write(buf.Data); err != nil {
		log.Fatalf("writing output: %v", err)
	}
}

func runSelfCheck(n *textnorm.Normalizer) {
	fmt.Println("Testing Clipboard Dialogue Pipeline")
	fmt.Println("===================================")

	// Test 1: core normalization
	fmt.Println("\n1. Testing Normalizer...")
	got, ok := n.Process("<color=#fff>この</color>このテキストです")
	if !ok || got != "このテキストです" {
		log.Fatalf("❌ Unexpected normalization: %q (ok=%v)", got, ok)
	}
	fmt.Printf("✅ Normalized to %q\n", got)

	// Test 2: watcher, queue and event bus against an in-memory clipboard
	fmt.Println("\n2. Testing Capture Queue...")
	clip := clipboard.NewMemory("")
	events := feedback.NewEventBus(32)
	queue := pipeline.NewCaptureQueue(pipeline.DefaultQueueConfig(), events)

	done := make(chan string, 1)
	watcher := pipeline.NewWatcher(clip, queue, events, pipeline.DefaultWatcherConfig(), pipeline.Handlers{
		OnNormalized: func(c *pipeline.Capture, res textnorm.Result) { done <- res.Text },
	})
	queue.Start(n, watcher.Clipboard())

	clip.SetText("<b>テスト</b>")
	watcher.Poll()

	select {
	case text := <-done:
		fmt.Printf("✅ Clipboard rewritten to %q\n", text)
	case <-time.After(5 * time.Second):
		log.Fatal("❌ Capture was not processed")
	}

	// Test 3: self-write suppression
	fmt.Println("\n3. Testing Self-Write Suppression...")
	watcher.Poll()
	if observed, _ := watcher.Stats(); observed != 1 {
		log.Fatalf("❌ Expected 1 observed capture, got %d", observed)
	}
	fmt.Println("✅ Own write was not captured again")

	// Test 4: metrics
	fmt.Println("\n4. Testing Metrics Collection...")
	m := queue.GetMetrics()
	fmt.Printf("✅ Queue Metrics: Queued=%d, Normalized=%d, Depth=%d\n",
		m.CapturesQueued, m.CapturesNormalized, m.CurrentQueueDepth)

	// Test 5: host boundary
	fmt.Println("\n5. Testing Host Boundary...")
	in, err := hostabi.EncodeString("<i>ホスト</i>")
	if err != nil {
		log.Fatalf("❌ Encode failed: %v", err)
	}
	host := hostabi.NewHost(n)
	buf, ok, err := host.Modify(in)
	if err != nil || !ok {
		log.Fatalf("❌ Modify failed: ok=%v err=%v", ok, err)
	}
	text, err := hostabi.DecodeString(buf.Data)
	if err != nil {
		log.Fatalf("❌ Decode failed: %v", err)
	}
	if err := host.Release(buf.Handle); err != nil || host.Live() != 0 {
		log.Fatalf("❌ Release failed: %v", err)
	}
	fmt.Printf("✅ Host returned %q and released its buffer\n", text)

	// Test 6: graceful shutdown
	fmt.Println("\n6. Testing Graceful Shutdown...")
	shutdownStart := time.Now()
	queue.Stop()
	events.Stop()
	fmt.Printf("✅ Graceful shutdown completed in %v\n", time.Since(shutdownStart))

	fmt.Println("\n🎉 All pipeline checks completed successfully!")
}
