package textnorm

import "unicode"

// ScriptRange is an inclusive range of code points belonging to the target script family.
type ScriptRange struct {
	Name string
	Lo   rune
	Hi   rune
}

// TargetRanges lists the blocks that mark text as target-script content.
// Entries must stay sorted by Lo and must not overlap.
var TargetRanges = []ScriptRange{
	{Name: "cjk_punctuation", Lo: 0x3000, Hi: 0x303F},
	{Name: "hiragana", Lo: 0x3040, Hi: 0x309F},
	{Name: "katakana", Lo: 0x30A0, Hi: 0x30FF},
	{Name: "rare_ideographs", Lo: 0x3400, Hi: 0x4DBF},
	{Name: "common_ideographs", Lo: 0x4E00, Hi: 0x9FAF},
	{Name: "fullwidth_forms", Lo: 0xFF00, Hi: 0xFFEF},
}

var targetTable = newRangeTable(TargetRanges)

func newRangeTable(ranges []ScriptRange) *unicode.RangeTable {
	table := &unicode.RangeTable{R16: make([]unicode.Range16, 0, len(ranges))}
	for _, r := range ranges {
		table.R16 = append(table.R16, unicode.Range16{Lo: uint16(r.Lo), Hi: uint16(r.Hi), Stride: 1})
	}
	return table
}

// IsTargetScript reports whether text contains at least one rune from TargetRanges.
func IsTargetScript(text string) bool {
	for _, r := range text {
		if unicode.Is(targetTable, r) {
			return true
		}
	}
	return false
}
