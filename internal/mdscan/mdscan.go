// Package mdscan implements the line-oriented hardening primitives shared by
// the document parser, guillemet preprocessor, and reference converter: fenced code
// block detection and inline code span detection. The fence rule here is
// deliberately narrower than CommonMark (exactly three backticks, tildes
// never fence, indentation capped at three spaces), so a goldmark-based
// converter accepting the full CommonMark fence grammar cannot stand in for
// this pass; the three hardening passes must agree on exactly the same
// notion of "inside code" or a `---` or `<<…>>` span could be treated as
// live in one pass and as code in another.
package mdscan

import "strings"

// FenceRanges returns the half-open [start,end) line index ranges (0-based,
// inclusive-exclusive) that lie inside a fenced code block, given the
// document split into lines. The opening and closing fence lines themselves
// are included in the range.
func FenceRanges(lines []string) [][2]int {
	var ranges [][2]int
	open := -1
	for i, line := range lines {
		if isFenceLine(line) {
			if open < 0 {
				open = i
			} else {
				ranges = append(ranges, [2]int{open, i + 1})
				open = -1
			}
		}
	}
	if open >= 0 {
		// Unterminated fence: everything through EOF is still "inside code"
		// so the scanner never misreads trailing content as metadata.
		ranges = append(ranges, [2]int{open, len(lines)})
	}
	return ranges
}

// InFenceLine reports, given FenceRanges output, whether line index i falls
// inside a fenced block.
func InFenceLine(ranges [][2]int, i int) bool {
	for _, r := range ranges {
		if i >= r[0] && i < r[1] {
			return true
		}
	}
	return false
}

// isFenceLine reports whether line opens or closes a strict fence: exactly
// three backticks, at most three leading spaces, nothing load-bearing after
// the fence marker besides an optional info string (which we don't need to
// distinguish here; only the toggle matters).
func isFenceLine(line string) bool {
	trimmed := line
	spaces := 0
	for spaces < len(trimmed) && trimmed[spaces] == ' ' {
		spaces++
	}
	if spaces > 3 {
		return false
	}
	rest := trimmed[spaces:]
	if !strings.HasPrefix(rest, "```") {
		return false
	}
	// Exactly three backticks: a fourth backtick immediately following
	// disqualifies the line as a fence (fences of any other length are not
	// fences here).
	if len(rest) > 3 && rest[3] == '`' {
		return false
	}
	return true
}

// CodeSpanRanges returns the byte ranges within a single line that are
// covered by inline code spans (`...`), so scanners can skip guillemet or
// metadata-delimiter matches that land inside one. Code spans do not cross
// line boundaries in this engine's restricted dialect.
func CodeSpanRanges(line string) [][2]int {
	var ranges [][2]int
	runes := []rune(line)
	i := 0
	for i < len(runes) {
		if runes[i] != '`' {
			i++
			continue
		}
		start := i
		tickLen := 0
		for i < len(runes) && runes[i] == '`' {
			tickLen++
			i++
		}
		closeStart := -1
		j := i
		for j < len(runes) {
			if runes[j] == '`' {
				k := j
				count := 0
				for k < len(runes) && runes[k] == '`' {
					count++
					k++
				}
				if count == tickLen {
					closeStart = j
					i = k
					break
				}
				j = k
				continue
			}
			j++
		}
		if closeStart == -1 {
			// No matching close tick run; the backtick run is literal text.
			continue
		}
		ranges = append(ranges, [2]int{runeByteOffset(line, start), runeByteOffset(line, i)})
	}
	return ranges
}

// InCodeSpan reports whether a byte offset on a line falls inside a code span.
func InCodeSpan(ranges [][2]int, offset int) bool {
	for _, r := range ranges {
		if offset >= r[0] && offset < r[1] {
			return true
		}
	}
	return false
}

func runeByteOffset(s string, runeIdx int) int {
	count := 0
	for i := range s {
		if count == runeIdx {
			return i
		}
		count++
	}
	return len(s)
}
