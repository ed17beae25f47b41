// Package textnorm reduces clipboard captures of incrementally revealed
// dialogue to the single complete line, without markup.
package textnorm

import "strings"

// Outcome tells whether Normalize produced text or why it declined.
type Outcome int

const (
	// Normalized means Result.Text holds the cleaned line.
	Normalized Outcome = iota
	// NotTargetScript means the input had no rune from TargetRanges.
	NotTargetScript
	// NoMarkup means the input carried no <...> tag to strip.
	NoMarkup
)

func (o Outcome) String() string {
	switch o {
	case Normalized:
		return "normalized"
	case NotTargetScript:
		return "not_target_script"
	case NoMarkup:
		return "no_markup"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Normalize call.
type Result struct {
	Text    string
	Outcome Outcome
}

// OK reports whether Text is usable.
func (r Result) OK() bool {
	return r.Outcome == Normalized
}

// Transformer turns raw captured text into its cleaned form. A Result whose
// Outcome is not Normalized means the text should be left alone.
type Transformer interface {
	Normalize(raw string) Result
}

// Normalizer runs the full pipeline. The zero value is not usable; use
// NewNormalizer.
type Normalizer struct {
	extractor DialogueExtractor
}

// NewNormalizer creates a normalizer that narrows to dialogue with extractor.
func NewNormalizer(extractor DialogueExtractor) *Normalizer {
	return &Normalizer{extractor: extractor}
}

var defaultNormalizer = NewNormalizer(DefaultDialogueExtractor())

// Process runs the default normalizer.
func Process(raw string) (string, bool) {
	return defaultNormalizer.Process(raw)
}

// Process returns the cleaned text, or false when raw is not renderer output.
func (n *Normalizer) Process(raw string) (string, bool) {
	res := n.Normalize(raw)
	return res.Text, res.OK()
}

// Normalize runs script gate, trim, dialogue narrowing, markup gate, collapse
// and line-break removal, in that order.
func (n *Normalizer) Normalize(raw string) Result {
	if !IsTargetScript(raw) {
		return Result{Outcome: NotTargetScript}
	}

	text := strings.TrimSpace(raw)
	if span, ok := n.extractor.Extract(text); ok {
		text = span
	}

	markup := StripTags(text)
	if !markup.Found() {
		return Result{Outcome: NoMarkup}
	}

	return Result{
		Text:    RemoveLineBreaks(CollapseRepetition(markup.Text)),
		Outcome: Normalized,
	}
}

// RemoveLineBreaks deletes every line-break rune from text.
func RemoveLineBreaks(text string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\v', '\f', '\u0085', '\u2028', '\u2029':
			return -1
		}
		return r
	}, text)
}
