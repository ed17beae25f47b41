package textnorm

import (
	"regexp"
	"sync"
)

// tagPattern matches one flat markup tag such as <color=#fff> or </color>.
var tagPattern = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`<[^>]+>`)
})

// MarkupResult is the outcome of StripTags.
type MarkupResult struct {
	// Text is the input with every tag removed. Equal to the input when Tags is 0.
	Text string
	// Tags is the number of tags removed.
	Tags int
}

// Found reports whether any markup was removed. Text without markup is not
// treated as renderer output, so callers abort on !Found.
func (r MarkupResult) Found() bool {
	return r.Tags > 0
}

// StripTags removes every non-nested <...> tag from text.
func StripTags(text string) MarkupResult {
	re := tagPattern()
	tags := 0
	stripped := re.ReplaceAllStringFunc(text, func(string) string {
		tags++
		return ""
	})
	if tags == 0 {
		return MarkupResult{Text: text}
	}
	return MarkupResult{Text: stripped, Tags: tags}
}
