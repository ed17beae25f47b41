package textnorm

import "slices"

// DefaultTrailing is the number of runes kept from the closing delimiter onwards:
// the delimiter itself plus the two runes that follow it. It is tuned to one
// renderer's trailing-tag layout; other renderers may need a different value.
const DefaultTrailing = 3

// Delimiters holds the quote runes that open and close a dialogue span.
type Delimiters struct {
	Open  []rune
	Close []rune
}

// DefaultDelimiters are the corner brackets and fullwidth parentheses.
var DefaultDelimiters = Delimiters{
	Open:  []rune{'「', '（'},
	Close: []rune{'」', '）'},
}

// DialogueExtractor narrows text to the span between the first opening and the
// last closing delimiter.
type DialogueExtractor struct {
	Delimiters Delimiters
	// Trailing counts runes kept starting at the closing delimiter.
	Trailing int
}

// DefaultDialogueExtractor returns an extractor with DefaultDelimiters and DefaultTrailing.
func DefaultDialogueExtractor() DialogueExtractor {
	return DialogueExtractor{Delimiters: DefaultDelimiters, Trailing: DefaultTrailing}
}

// ExtractDialogue runs the default extractor.
func ExtractDialogue(text string) (string, bool) {
	return DefaultDialogueExtractor().Extract(text)
}

// Extract returns the dialogue span of text. It reports false when there is no
// opening or closing delimiter, when the closing one comes first, or when the
// span would reach the end of text (the capture is treated as truncated).
// Callers fall back to the unmodified text on false.
func (e DialogueExtractor) Extract(text string) (string, bool) {
	runes := []rune(text)

	begin := -1
	for i, r := range runes {
		if slices.Contains(e.Delimiters.Open, r) {
			begin = i
			break
		}
	}
	end := -1
	for i := len(runes) - 1; i >= 0; i-- {
		if slices.Contains(e.Delimiters.Close, runes[i]) {
			end = i
			break
		}
	}
	if begin < 0 || end < 0 || end < begin {
		return "", false
	}

	trailing := e.Trailing
	if trailing < 1 {
		trailing = 1
	}
	stop := end + trailing
	if stop >= len(runes) {
		return "", false
	}
	return string(runes[begin:stop]), true
}
