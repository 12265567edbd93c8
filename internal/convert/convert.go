// Package convert implements the backend converter contract: what a
// backend's markdown-to-markup converter must guarantee when the engine
// calls it during Backend.TransformFields. Concrete backends (Typst,
// AcroForm) live outside this module, but the contract and its interaction
// with the parser/guillemet hardening passes belong here, so this package
// defines the Converter interface plus a minimal Reference implementation
// exercising every hardening-relevant guarantee: escaping, HTML/image
// refusal, strong-emphasis disambiguation, and bounded recursion. The
// rune-scanning-with-code-span-awareness shape matches internal/guillemet,
// since both passes must agree on what counts as "inside code".
package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/quillmark/internal/mdscan"
	"github.com/goliatone/quillmark/pkg/diagnostic"
)

// Converter is the contract a backend's markdown-to-markup converter must
// satisfy. The engine calls it once per markdown-typed field
// (including BODY and card bodies) during TransformFields.
type Converter interface {
	Convert(ctx context.Context, markdown string) (string, error)
}

// specialChars lists every backend-special character the contract requires
// escaping in plain text, in Typst-flavoured markup.
var specialChars = map[rune]struct{}{
	'\\': {}, '*': {}, '_': {}, '`': {}, '#': {}, '[': {}, ']': {},
	'$': {}, '<': {}, '>': {}, '@': {}, '~': {},
}

var lineLeading = map[rune]struct{}{'=': {}, '+': {}, '-': {}}

// Reference is a minimal, backend-agnostic Converter. It is not a concrete
// backend; it demonstrates the hardening-relevant contract a real one must
// uphold: every plain-text special character is escaped, HTML/images/block
// quotes/thematic breaks/tables are never interpreted, `<` and `>` are
// escaped like the other special characters (so a `<<…>>` span left over
// after the guillemet preprocessor, which runs before this converter, is
// not re-interpreted), the «…» output of that preprocessor passes through
// untouched, and `__x__`/`**x**` are disambiguated into distinct markup
// constructs.
type Reference struct{}

// NewReference constructs the Reference converter.
func NewReference() Reference { return Reference{} }

// Convert implements Converter. Empty input produces empty output; the
// function never panics and always returns a result or a bounded error.
func (Reference) Convert(ctx context.Context, markdown string) (string, error) {
	if markdown == "" {
		return "", nil
	}
	lines := strings.Split(markdown, "\n")
	fences := mdscan.FenceRanges(lines)

	var out strings.Builder
	for i, line := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		if mdscan.InFenceLine(fences, i) {
			// Code fences are never interpreted or escaped: their contents
			// are opaque to the converter, same as a fenced block is to the
			// metadata scanner.
			out.WriteString(line)
			continue
		}
		converted, err := convertLine(line)
		if err != nil {
			return "", err
		}
		out.WriteString(converted)
	}
	return out.String(), nil
}

func convertLine(line string) (string, error) {
	trimmed := strings.TrimLeft(line, " \t")
	switch {
	case strings.HasPrefix(trimmed, "> "), trimmed == ">":
		// Block quotes: refused per contract, rendered as literal text.
		return escapeRunes([]rune(line)), nil
	case isThematicBreak(trimmed):
		// Thematic breaks (***, ___; --- is reserved for metadata and never
		// reaches this stage): refused per contract, rendered literally.
		return escapeRunes([]rune(line)), nil
	case looksLikeTableRow(trimmed):
		// Tables: refused per contract, rendered literally.
		return escapeRunes([]rune(line)), nil
	case strings.HasPrefix(trimmed, "<!--"):
		// Raw HTML comments: dropped.
		return "", nil
	}
	return convertInline(line)
}

func isThematicBreak(trimmed string) bool {
	if len(trimmed) < 3 {
		return false
	}
	var r rune
	count := 0
	for _, c := range trimmed {
		if c == ' ' {
			continue
		}
		if r == 0 {
			r = c
		}
		if c != r {
			return false
		}
		count++
	}
	return count >= 3 && (r == '*' || r == '_')
}

func looksLikeTableRow(trimmed string) bool {
	return strings.HasPrefix(trimmed, "|") || (strings.Contains(trimmed, "|") && strings.Contains(trimmed, "---"))
}

// convertInline runs the single-pass rune scanner over one non-block-level
// line: code spans pass through raw, images and raw inline HTML are
// dropped, `**bold**`/`__underline__` are disambiguated into distinct
// markup constructs, and every other special character is escaped.
func convertInline(line string) (string, error) {
	codeSpans := mdscan.CodeSpanRanges(line)
	runes := []rune(line)
	var out strings.Builder

	i := 0
	for i < len(runes) {
		byteOff := runeByteOffset(line, i)
		if end, ok := codeSpanEnd(codeSpans, byteOff); ok {
			endRune := byteOffsetToRuneIndex(line, end)
			out.WriteString(string(runes[i:endRune]))
			i = endRune
			continue
		}

		if i == 0 {
			if _, reserved := lineLeading[runes[i]]; reserved {
				out.WriteByte('\\')
				out.WriteRune(runes[i])
				i++
				continue
			}
		}

		if runes[i] == '!' && i+1 < len(runes) && runes[i+1] == '[' {
			if end, ok := findImageEnd(runes, i); ok {
				i = end // image construct dropped entirely
				continue
			}
		}
		if runes[i] == '<' {
			if end, ok := findRawHTMLEnd(runes, i); ok {
				i = end // raw inline HTML dropped entirely
				continue
			}
		}
		if strings.HasPrefix(string(runes[i:]), "**") {
			if end, ok := findClose(runes, i+2, "**"); ok {
				inner := string(runes[i+2 : end])
				out.WriteString("#strong[")
				out.WriteString(escapeRunes([]rune(inner)))
				out.WriteString("]")
				i = end + 2
				continue
			}
		}
		if strings.HasPrefix(string(runes[i:]), "__") {
			if end, ok := findClose(runes, i+2, "__"); ok {
				inner := string(runes[i+2 : end])
				out.WriteString("#underline[")
				out.WriteString(escapeRunes([]rune(inner)))
				out.WriteString("]")
				i = end + 2
				continue
			}
		}

		if _, special := specialChars[runes[i]]; special {
			out.WriteByte('\\')
		}
		out.WriteRune(runes[i])
		i++
	}
	return out.String(), nil
}

// escapeRunes escapes every backend-special character with no other
// interpretation, used for lines/spans the contract says to render literal.
func escapeRunes(runes []rune) string {
	var b strings.Builder
	for i, r := range runes {
		if i == 0 {
			if _, reserved := lineLeading[r]; reserved {
				b.WriteByte('\\')
			}
		}
		if _, special := specialChars[r]; special {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func findClose(runes []rune, start int, delim string) (int, bool) {
	d := []rune(delim)
	for i := start; i+len(d) <= len(runes); i++ {
		match := true
		for j, r := range d {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if match && i > start {
			return i, true
		}
	}
	return 0, false
}

// findImageEnd locates the end of a `![alt](url)` construct starting at i
// (where runes[i] == '!'), returning the rune index just past the closing
// ')'. Reports false if the line doesn't actually close the construct.
func findImageEnd(runes []rune, i int) (int, bool) {
	j := i + 2 // past "!["
	for j < len(runes) && runes[j] != ']' {
		j++
	}
	if j >= len(runes) || j+1 >= len(runes) || runes[j+1] != '(' {
		return 0, false
	}
	k := j + 2
	for k < len(runes) && runes[k] != ')' {
		k++
	}
	if k >= len(runes) {
		return 0, false
	}
	return k + 1, true
}

// findRawHTMLEnd locates the end of a `<tag ...>` construct starting at i
// (where runes[i] == '<'), a conservative heuristic: no whitespace
// immediately after '<', no nested '<' before the closing '>'.
func findRawHTMLEnd(runes []rune, i int) (int, bool) {
	if i+1 >= len(runes) {
		return 0, false
	}
	next := runes[i+1]
	if !(next == '/' || (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') || next == '!') {
		return 0, false
	}
	for j := i + 1; j < len(runes); j++ {
		if runes[j] == '<' {
			return 0, false
		}
		if runes[j] == '>' {
			return j + 1, true
		}
	}
	return 0, false
}

func codeSpanEnd(ranges [][2]int, offset int) (int, bool) {
	for _, r := range ranges {
		if offset >= r[0] && offset < r[1] {
			return r[1], true
		}
	}
	return 0, false
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

func byteOffsetToRuneIndex(s string, byteOff int) int {
	count := 0
	for i := range s {
		if i >= byteOff {
			return count
		}
		count++
	}
	return count
}

func templateErr(format string, args ...any) error {
	return diagnostic.Wrap(diagnostic.CategoryTemplate, "convert::failed", fmt.Sprintf(format, args...))
}
