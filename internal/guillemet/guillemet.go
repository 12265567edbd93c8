// Package guillemet implements the workflow's guillemet-expansion pass:
// scanning a markdown body for "<<...>>" spans, re-parsing each
// span's content as inline markdown, and replacing the span with true
// guillemets wrapping its plain-text rendering, except a span containing
// raw HTML or an image, which reverts to its original "<<...>>" text
// untouched. A parser-only goldmark instance with no block extensions does
// the inner re-parse, since this pass only ever needs inline-level parsing
// of a single span's content.
package guillemet

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/goliatone/quillmark/internal/mdscan"
)

const (
	// MaxSpanBytes bounds a single <<...>> span's content.
	MaxSpanBytes = 64 * 1024
	// MaxIterations bounds how many spans one document may expand.
	MaxIterations = 10000

	openMarker  = "<<"
	closeMarker = ">>"

	guillemetOpen  = "«"
	guillemetClose = "»"
)

var md = goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID()))

// Expand scans body for "<<...>>" spans and replaces each with a true
// guillemet span "«...»" whose content has had its inline markdown
// formatting stripped, skipping spans inside fenced code blocks or inline
// code spans (those are left entirely untouched, markers included).
// Exhausting the per-document iteration budget stops expansion
// and emits the remainder of the document literally; an oversized span is
// emitted literally in place, markers included. Neither is an error.
func Expand(body string) string {
	lines := strings.Split(body, "\n")
	fences := mdscan.FenceRanges(lines)

	var out strings.Builder
	budget := MaxIterations

	for i, line := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		if mdscan.InFenceLine(fences, i) || budget <= 0 {
			out.WriteString(line)
			continue
		}
		expanded, n := expandLine(line, budget)
		budget -= n
		out.WriteString(expanded)
	}
	return out.String()
}

func expandLine(line string, budget int) (string, int) {
	codeSpans := mdscan.CodeSpanRanges(line)
	runes := []rune(line)

	var out strings.Builder
	count := 0
	i := 0
	for i < len(runes) {
		if !startsWith(runes, i, openMarker) {
			out.WriteRune(runes[i])
			i++
			continue
		}
		if count >= budget {
			// Iteration budget spent: the rest of the line is literal.
			out.WriteString(string(runes[i:]))
			break
		}
		byteOff := runeByteOffset(line, i)
		if mdscan.InCodeSpan(codeSpans, byteOff) {
			out.WriteRune(runes[i])
			i++
			continue
		}
		end := findClose(runes, i+2)
		if end == -1 {
			// No matching ">>" on this line: emit "<<" literally and keep
			// scanning from just past it.
			out.WriteString(openMarker)
			i += 2
			continue
		}
		spanContent := string(runes[i+2 : end])
		count++
		rendered, literal := "", true
		if len(spanContent) <= MaxSpanBytes {
			rendered, literal = renderSpan(spanContent)
		}
		if literal {
			out.WriteString(openMarker)
			out.WriteString(spanContent)
			out.WriteString(closeMarker)
		} else {
			out.WriteString(guillemetOpen)
			out.WriteString(rendered)
			out.WriteString(guillemetClose)
		}
		i = end + 2
	}
	return out.String(), count
}

func startsWith(runes []rune, i int, marker string) bool {
	m := []rune(marker)
	if i+len(m) > len(runes) {
		return false
	}
	for j, r := range m {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

// findClose returns the rune index of the first ">>" at or after start.
func findClose(runes []rune, start int) int {
	for i := start; i+1 < len(runes); i++ {
		if runes[i] == '>' && runes[i+1] == '>' {
			return i
		}
	}
	return -1
}

// renderSpan re-parses span content as inline markdown and renders it to
// plain text. If the content contains raw HTML or an image, the span is
// reported literal so the caller preserves the original text verbatim.
func renderSpan(content string) (rendered string, literal bool) {
	doc := md.Parser().Parse(text.NewReader([]byte(content)))
	hasLiteralNode := false
	var b strings.Builder

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch tn := n.(type) {
		case *ast.Image, *ast.RawHTML, *ast.HTMLBlock:
			hasLiteralNode = true
			return ast.WalkStop, nil
		case *ast.Text:
			b.Write(tn.Segment.Value([]byte(content)))
			if tn.SoftLineBreak() || tn.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(tn.Value)
		}
		return ast.WalkContinue, nil
	})

	if hasLiteralNode {
		return "", true
	}
	return b.String(), false
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
