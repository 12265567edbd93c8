package docparser

import (
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/quillmark/pkg/diagnostic"
)

// Minimal frontmatter + body.
func TestParseMinimalDocument(t *testing.T) {
	input := []byte("---\nQUILL: \"greeting@1.0\"\nname: \"World\"\n---\nHello, {{ name }}!\n")
	doc, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Quill == nil || doc.Quill.Name != "greeting" {
		t.Fatalf("expected quill reference to greeting, got %+v", doc.Quill)
	}
	name, ok := doc.Fields.Get("name")
	if !ok {
		t.Fatalf("expected name field")
	}
	s, _ := name.AsString()
	if s != "World" {
		t.Fatalf("got name=%q", s)
	}
	body, _ := doc.Fields.Get("BODY")
	bodyStr, _ := body.AsString()
	if !strings.Contains(bodyStr, "Hello, {{ name }}!") {
		t.Fatalf("unexpected body: %q", bodyStr)
	}
	cards, _ := doc.Fields.Get("CARDS")
	items, _ := cards.AsSequence()
	if len(items) != 0 {
		t.Fatalf("expected no cards, got %d", len(items))
	}
}

// Card accumulation: tagged blocks become ordered CARDS entries, each
// carrying the markdown between its block and the next.
func TestParseCardAccumulation(t *testing.T) {
	input := []byte(`---
title: "Report"
---
Intro.

---
!section
heading: "Alpha"
---
Alpha body.

---
!section
heading: "Beta"
---
Beta body.`)
	doc, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := doc.Fields.Get("BODY")
	bodyStr, _ := body.AsString()
	if bodyStr != "Intro.\n\n" {
		t.Fatalf("got BODY=%q", bodyStr)
	}
	title, _ := doc.Fields.Get("title")
	titleStr, _ := title.AsString()
	if titleStr != "Report" {
		t.Fatalf("got title=%q", titleStr)
	}

	cards, _ := doc.Fields.Get("CARDS")
	items, _ := cards.AsSequence()
	if len(items) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(items))
	}

	tag0, _ := items[0].Get("CARD")
	tag0Str, _ := tag0.AsString()
	heading0, _ := items[0].Get("heading")
	heading0Str, _ := heading0.AsString()
	body0, _ := items[0].Get("BODY")
	body0Str, _ := body0.AsString()
	if tag0Str != "section" || heading0Str != "Alpha" || body0Str != "Alpha body.\n\n" {
		t.Fatalf("card 0 mismatch: tag=%q heading=%q body=%q", tag0Str, heading0Str, body0Str)
	}

	tag1, _ := items[1].Get("CARD")
	tag1Str, _ := tag1.AsString()
	heading1, _ := items[1].Get("heading")
	heading1Str, _ := heading1.AsString()
	body1, _ := items[1].Get("BODY")
	body1Str, _ := body1.AsString()
	if tag1Str != "section" || heading1Str != "Beta" || body1Str != "Beta body." {
		t.Fatalf("card 1 mismatch: tag=%q heading=%q body=%q", tag1Str, heading1Str, body1Str)
	}
}

// Fence disambiguation: "---" lines inside a fenced code block are never
// treated as metadata delimiters.
func TestParseFenceDisambiguation(t *testing.T) {
	input := []byte("---\ntitle: \"T\"\n---\n```\n---\n!x\nfoo: bar\n---\n```\n")
	doc, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cards, _ := doc.Fields.Get("CARDS")
	items, _ := cards.AsSequence()
	if len(items) != 0 {
		t.Fatalf("expected no cards, the fenced '---' lines must not parse as metadata, got %d", len(items))
	}
	body, _ := doc.Fields.Get("BODY")
	bodyStr, _ := body.AsString()
	if !strings.Contains(bodyStr, "```") || !strings.Contains(bodyStr, "!x") {
		t.Fatalf("expected fenced block verbatim in BODY, got %q", bodyStr)
	}
}

// An invalid QUILL tag must surface at parse time, not as a later
// version-resolution failure.
func TestParseInvalidQuillTag(t *testing.T) {
	input := []byte("---\nQUILL: \"resume@2.x\"\n---\nbody\n")
	_, err := Parse(input)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !goerrors.IsCategory(err, diagnostic.CategoryParse) {
		t.Fatalf("expected a parse-category error, got %v", err)
	}
}

// Reserved-key purity: a document can never produce a
// ParsedDocument carrying user-originated BODY/CARDS/QUILL keys except in
// their reserved roles.
func TestReservedKeyCollisionInFrontmatterIsError(t *testing.T) {
	for _, key := range []string{"BODY", "CARDS"} {
		input := []byte("---\n" + key + ": \"oops\"\n---\nbody\n")
		if _, err := Parse(input); err == nil {
			t.Fatalf("expected error for reserved key %q in frontmatter", key)
		}
	}
}

func TestReservedKeyCollisionInCardIsError(t *testing.T) {
	input := []byte("---\ntitle: \"T\"\n---\nbody\n\n---\n!section\nCARD: \"oops\"\n---\nmore\n")
	if _, err := Parse(input); err == nil {
		t.Fatalf("expected error for reserved CARD key collision inside a card block")
	}
}

func TestMultipleUntaggedBlocksIsError(t *testing.T) {
	input := []byte("---\ntitle: \"A\"\n---\nbody\n\n---\nother: \"B\"\n---\nmore\n")
	if _, err := Parse(input); err == nil {
		t.Fatalf("expected error for multiple untagged metadata blocks")
	}
}

func TestInputTooLargeMarkdown(t *testing.T) {
	big := make([]byte, MaxMarkdownBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	if _, err := Parse(big); err == nil {
		t.Fatalf("expected InputTooLarge error")
	}
}

func TestNoFrontmatterProducesEmptyBodyFields(t *testing.T) {
	doc, err := Parse([]byte("just some text\nno frontmatter here\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := doc.Fields.Get("BODY")
	bodyStr, _ := body.AsString()
	if !strings.Contains(bodyStr, "just some text") {
		t.Fatalf("got %q", bodyStr)
	}
	if doc.Quill != nil {
		t.Fatalf("expected no quill reference")
	}
}

// A comment's closing "-->" glued to following content gets a newline so it
// can't swallow a metadata delimiter; a standalone "-->" with no opening
// "<!--" is left alone.
func TestRepairAdjacentComments(t *testing.T) {
	if got := repairAdjacentComments("<!-- note -->---"); got != "<!-- note -->\n---" {
		t.Fatalf("got %q", got)
	}
	if got := repairAdjacentComments("<!-- a --> kept <!-- b -->x"); got != "<!-- a --> kept <!-- b -->\nx" {
		t.Fatalf("got %q", got)
	}
	if got := repairAdjacentComments("no opening -->text"); got != "no opening -->text" {
		t.Fatalf("standalone --> must be left alone, got %q", got)
	}
}

func TestCustomYAMLTagIsStrippedKeepingScalarValue(t *testing.T) {
	input := []byte("---\nprice: !money \"9.99\"\n---\nbody\n")
	doc, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	price, ok := doc.Fields.Get("price")
	if !ok {
		t.Fatalf("expected price field")
	}
	s, ok := price.AsString()
	if !ok || s != "9.99" {
		t.Fatalf("expected stripped-tag string value \"9.99\", got %+v", price)
	}
}
