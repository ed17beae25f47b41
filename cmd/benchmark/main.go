package main

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/pipeline"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/hostabi"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
)

// BenchmarkResults holds benchmark results
type BenchmarkResults struct {
	TestName            string
	Duration            time.Duration
	OperationsPerSecond float64
	MemoryUsed          uint64
	GoroutineCount      int
	Details             string
}

const sampleLine = "「ゲームは大きく分けて、「更新」「軍備」「内政」「政略」「作戦」「合戦」６つのフェイズに分かれています」"

func main() {
	fmt.Println("Clipboard Dialogue MCP - Performance Benchmarks")
	fmt.Println("===============================================")

	results := make([]BenchmarkResults, 0)

	// Benchmark 1: Normalizer
	fmt.Println("\n1. Normalizer Performance")
	results = append(results, benchmarkNormalizer())

	// Benchmark 2: Collapser on long input
	fmt.Println("\n2. Repetition Collapse Scaling")
	results = append(results, benchmarkCollapseScaling())

	// Benchmark 3: Queue processing
	fmt.Println("\n3. Queue Processing Performance")
	results = append(results, benchmarkQueueProcessing())

	// Benchmark 4: Event bus
	fmt.Println("\n4. Event Bus Performance")
	results = append(results, benchmarkEventBus())

	// Benchmark 5: Host boundary
	fmt.Println("\n5. Host Boundary Performance")
	results = append(results, benchmarkHostBoundary())

	printBenchmarkSummary(results)
}

// revealTranscript renders line the way a typewriter effect leaves it on the
// clipboard: every growing prefix, the newest character wrapped in a color tag
func revealTranscript(line string) string {
	runes := []rune(line)
	var b strings.Builder
	for i := 1; i <= len(runes); i++ {
		b.WriteString(string(runes[:i-1]))
		fmt.Fprintf(&b, "<color=#ffffff%02x>%s</color>", (i*255/len(runes))&0xff, string(runes[i-1]))
	}
	return b.String()
}

func memoryBefore() runtime.MemStats {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return m
}

func memoryUsedSince(before runtime.MemStats) uint64 {
	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	if after.Alloc < before.Alloc {
		return 0
	}
	return after.Alloc - before.Alloc
}

func benchmarkNormalizer() BenchmarkResults {
	const iterations = 2000

	normalizer := textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor())
	input := revealTranscript(sampleLine)

	memBefore := memoryBefore()
	start := time.Now()

	for i := 0; i < iterations; i++ {
		if res := normalizer.Normalize(input); !res.OK() {
			panic("sample was not normalized")
		}
	}

	duration := time.Since(start)
	memUsed := memoryUsedSince(memBefore)
	opsPerSec := float64(iterations) / duration.Seconds()

	fmt.Printf("  Normalized %d captures of %d characters in %v\n", iterations, len([]rune(input)), duration)
	fmt.Printf("  Operations/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Memory used: %d bytes\n", memUsed)

	return BenchmarkResults{
		TestName:            "Normalizer",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d captures, %d characters each", iterations, len([]rune(input))),
	}
}

func benchmarkCollapseScaling() BenchmarkResults {
	sizes := []int{100, 1000, 10000}

	memBefore := memoryBefore()
	start := time.Now()
	var details []string

	for _, size := range sizes {
		line := []rune(strings.Repeat("あ", size-1) + "い")
		input := strings.Repeat(string(line[:size/2]), 2) + string(line)

		lineStart := time.Now()
		textnorm.CollapseRepetition(input)
		elapsed := time.Since(lineStart)

		fmt.Printf("  %6d characters: %v\n", len([]rune(input)), elapsed)
		details = append(details, fmt.Sprintf("%d:%v", size, elapsed))
	}

	duration := time.Since(start)
	memUsed := memoryUsedSince(memBefore)

	return BenchmarkResults{
		TestName:       "Repetition Collapse",
		Duration:       duration,
		MemoryUsed:     memUsed,
		GoroutineCount: runtime.NumGoroutine(),
		Details:        strings.Join(details, ", "),
	}
}

func benchmarkQueueProcessing() BenchmarkResults {
	const captures = 1000
	const workerCount = 4

	clip := clipboard.NewMemory("")
	config := pipeline.DefaultQueueConfig()
	config.WorkerCount = workerCount
	config.QueueSize = 100
	queue := pipeline.NewCaptureQueue(config, nil)
	queue.Start(textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor()), clip)

	input := revealTranscript(sampleLine)

	memBefore := memoryBefore()
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < captures; i++ {
		wg.Add(1)
		done := func(textnorm.Result) { wg.Done() }
		capture := &pipeline.Capture{
			ID:         fmt.Sprintf("capture-%d", i),
			Text:       input,
			OnComplete: done,
			OnSkip:     done,
			OnError:    func(error) { wg.Done() },
		}
		if err := queue.Submit(capture); err != nil {
			wg.Done()
		}
	}
	wg.Wait()

	duration := time.Since(start)
	memUsed := memoryUsedSince(memBefore)
	metrics := queue.GetMetrics()
	queue.Stop()

	opsPerSec := float64(captures) / duration.Seconds()

	fmt.Printf("  Processed %d captures with %d workers in %v\n", captures, workerCount, duration)
	fmt.Printf("  Throughput: %.2f captures/sec\n", opsPerSec)
	fmt.Printf("  Normalized: %d, dropped: %d\n", metrics.CapturesNormalized, metrics.CapturesDropped)
	fmt.Printf("  Memory used: %d bytes\n", memUsed)

	return BenchmarkResults{
		TestName:            "Queue Processing",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d captures, %d workers, %d dropped", captures, workerCount, metrics.CapturesDropped),
	}
}

func benchmarkEventBus() BenchmarkResults {
	const events = 10000
	const subscribers = 5

	bus := feedback.NewEventBus(events)

	var eventCounter int64
	for i := 0; i < subscribers; i++ {
		bus.Subscribe(feedback.EventCaptureNormalized, func(feedback.Event) {
			atomic.AddInt64(&eventCounter, 1)
		})
	}

	memBefore := memoryBefore()
	start := time.Now()

	for i := 0; i < events; i++ {
		bus.PublishCaptureNormalized("bench", feedback.CaptureNormalizedData{
			CaptureID: fmt.Sprintf("capture-%d", i),
			Text:      sampleLine,
		})
	}
	bus.Stop()

	duration := time.Since(start)
	memUsed := memoryUsedSince(memBefore)
	opsPerSec := float64(events) / duration.Seconds()

	fmt.Printf("  Published %d events to %d subscribers in %v\n", events, subscribers, duration)
	fmt.Printf("  Events/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Events processed: %d\n", atomic.LoadInt64(&eventCounter))
	fmt.Printf("  Memory used: %d bytes\n", memUsed)

	return BenchmarkResults{
		TestName:            "Event Bus",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d events, %d subscribers", events, subscribers),
	}
}

func benchmarkHostBoundary() BenchmarkResults {
	const iterations = 2000

	host := hostabi.NewHost(textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor()))
	input, err := hostabi.EncodeString(revealTranscript(sampleLine))
	if err != nil {
		panic(err)
	}

	memBefore := memoryBefore()
	start := time.Now()

	for i := 0; i < iterations; i++ {
		buf, ok, err := host.Modify(input)
		if err != nil || !ok {
			panic(fmt.Sprintf("modify failed: ok=%v err=%v", ok, err))
		}
		if err := host.Release(buf.Handle); err != nil {
			panic(err)
		}
	}

	duration := time.Since(start)
	memUsed := memoryUsedSince(memBefore)
	opsPerSec := float64(iterations) / duration.Seconds()

	fmt.Printf("  Modified and released %d buffers in %v\n", iterations, duration)
	fmt.Printf("  Operations/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Live buffers: %d\n", host.Live())

	return BenchmarkResults{
		TestName:            "Host Boundary",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d UTF-16LE round trips", iterations),
	}
}

func printBenchmarkSummary(results []BenchmarkResults) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	for _, result := range results {
		fmt.Printf("\n📊 %s\n", result.TestName)
		fmt.Printf("   Duration: %v\n", result.Duration)
		if result.OperationsPerSecond > 0 {
			fmt.Printf("   Ops/sec: %.2f\n", result.OperationsPerSecond)
		}
		fmt.Printf("   Memory: %.2f MB\n", float64(result.MemoryUsed)/1024/1024)
		fmt.Printf("   Goroutines: %d\n", result.GoroutineCount)
		fmt.Printf("   Details: %s\n", result.Details)
	}

	var bestOpsPerSec float64
	var bestTest string
	for _, result := range results {
		if result.OperationsPerSecond > bestOpsPerSec {
			bestOpsPerSec = result.OperationsPerSecond
			bestTest = result.TestName
		}
	}

	if bestTest != "" {
		fmt.Printf("\n🏆 Highest throughput: %s (%.2f ops/sec)\n", bestTest, bestOpsPerSec)
	}
	fmt.Printf("⚡ Current goroutines: %d\n", runtime.NumGoroutine())

	fmt.Println("\n✅ All benchmarks completed successfully!")
}
