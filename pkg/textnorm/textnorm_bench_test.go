package textnorm

import (
	"strings"
	"testing"
)

// revealTranscript builds the clipboard content a renderer leaves behind after
// revealing line one rune at a time.
func revealTranscript(line string) string {
	runes := []rune(line)
	var b strings.Builder
	for i := 1; i <= len(runes); i++ {
		b.WriteString(string(runes[:i]))
	}
	return b.String()
}

func TestRevealTranscriptCollapses(t *testing.T) {
	line := "御館様の想定通り、信濃勢は徹底抗戦の構えを見せた。"
	if got := CollapseRepetition(revealTranscript(line)); got != line {
		t.Fatalf("expected %q, got %q", line, got)
	}
}

func BenchmarkCollapseRepetition(b *testing.B) {
	input := revealTranscript(strings.Repeat("手元に広げられた紙面に、", 4))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CollapseRepetition(input)
	}
}

func BenchmarkNormalize(b *testing.B) {
	n := NewNormalizer(DefaultDialogueExtractor())
	input := "「" + revealTranscript("ゆるりと視線を<color=#fff>這</color>わせる") + "」</color>xx"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.Normalize(input)
	}
}
