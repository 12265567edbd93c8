// Package normalize implements the workflow's normalization stage: walking
// a parsed document's ValueTree and normalizing every string
// leaf to NFC, stripping bidi-control and other invisible characters so two
// byte-distinct-but-visually-identical documents compare and render
// identically. The recursive-walk shape follows the same depth-budget
// convention as internal/docparser's YAML decoder.
package normalize

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/goliatone/quillmark/internal/guillemet"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

// MaxDepth bounds recursion over a parsed value tree, mirroring
// docparser.MaxValueDepth.
const MaxDepth = 100

// invisible lists the code points stripped from every string leaf: bidi
// control characters (which can reorder rendered glyphs without changing the
// visible character set) and the zero-width space/joiner family.
var invisible = map[rune]struct{}{
	'​': {}, // zero width space
	'‌': {}, // zero width non-joiner
	'‍': {}, // zero width joiner
	'⁠': {}, // word joiner
	'\uFEFF': {}, // byte order mark / zero width no-break space
	'‎': {}, // LRM
	'‏': {}, // RLM
	'‪': {}, // LRE
	'‫': {}, // RLE
	'‬': {}, // PDF
	'‭': {}, // LRO
	'‮': {}, // RLO
	'⁦': {}, // LRI
	'⁧': {}, // RLI
	'⁨': {}, // FSI
	'⁩': {}, // PDI
}

// Document normalizes every string leaf of a parsed document's field tree
// (value semantics: returns a new Value, the input is left untouched), then
// applies the guillemet-expansion pass to the top-level BODY field and every
// card's BODY field.
func Document(fields valuetree.Value) (valuetree.Value, error) {
	normalized, err := walk(fields, 0)
	if err != nil {
		return valuetree.Value{}, err
	}
	if normalized.Kind() != valuetree.KindMapping {
		return normalized, nil
	}
	return normalizeBodies(normalized)
}

// normalizeBodies applies the body-specific passes to the document's
// top-level BODY and to each CARDS entry's BODY.
func normalizeBodies(fields valuetree.Value) (valuetree.Value, error) {
	out := valuetree.NewMapping()
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		switch k {
		case "BODY":
			processed, err := processBody(v)
			if err != nil {
				return valuetree.Value{}, err
			}
			out.Set(k, processed)
		case "CARDS":
			processed, err := normalizeCardBodies(v)
			if err != nil {
				return valuetree.Value{}, err
			}
			out.Set(k, processed)
		default:
			out.Set(k, v)
		}
	}
	return out, nil
}

func normalizeCardBodies(cards valuetree.Value) (valuetree.Value, error) {
	items, ok := cards.AsSequence()
	if !ok {
		return cards, nil
	}
	out := make([]valuetree.Value, len(items))
	for i, card := range items {
		if card.Kind() != valuetree.KindMapping {
			out[i] = card
			continue
		}
		updated := valuetree.NewMapping()
		for _, k := range card.Keys() {
			v, _ := card.Get(k)
			if k == "BODY" {
				processed, err := processBody(v)
				if err != nil {
					return valuetree.Value{}, err
				}
				updated.Set(k, processed)
				continue
			}
			updated.Set(k, v)
		}
		out[i] = updated
	}
	return valuetree.Sequence(out...), nil
}

// processBody runs the guillemet-expansion pass over a single BODY value.
// HTML-comment fence repair already ran once over the raw document text in
// docparser.Parse, before BODY and card bodies were ever split out, so it
// is not repeated here.
func processBody(v valuetree.Value) (valuetree.Value, error) {
	s, ok := v.AsString()
	if !ok {
		return v, nil
	}
	return valuetree.String(guillemet.Expand(s)), nil
}

func walk(v valuetree.Value, depth int) (valuetree.Value, error) {
	if depth > MaxDepth {
		return valuetree.Value{}, diagnostic.WrapCause(
			fmt.Errorf("normalize: nesting depth exceeds %d", MaxDepth),
			diagnostic.CategoryValidation, "normalize::depth_exceeded", "document too deeply nested",
		)
	}

	switch v.Kind() {
	case valuetree.KindString:
		s, _ := v.AsString()
		return valuetree.String(NormalizeText(s)), nil
	case valuetree.KindSequence:
		items, _ := v.AsSequence()
		out := make([]valuetree.Value, len(items))
		for i, item := range items {
			nv, err := walk(item, depth+1)
			if err != nil {
				return valuetree.Value{}, err
			}
			out[i] = nv
		}
		return valuetree.Sequence(out...), nil
	case valuetree.KindMapping:
		out := valuetree.NewMapping()
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			nv, err := walk(val, depth+1)
			if err != nil {
				return valuetree.Value{}, err
			}
			// Keys are normalized too: a composed and a decomposed spelling of
			// the same name must resolve to one map entry. Later spellings win.
			out.Set(NormalizeText(k), nv)
		}
		return out, nil
	default:
		return v, nil
	}
}

// NormalizeText applies NFC normalization and strips invisible/bidi control
// characters from a single string. Idempotent: NormalizeText(NormalizeText(s))
// == NormalizeText(s) for all s, satisfying the workflow's testable
// normalization property.
func NormalizeText(s string) string {
	s = normalizeLineEndings(s)
	s = norm.NFC.String(s)
	if !containsInvisible(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if _, strip := invisible[r]; strip {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeLineEndings collapses CRLF and lone CR to LF. docparser.Parse
// already does this once over the raw document text; it is repeated here
// per individual field so normalize stays correct standalone (e.g. for
// fields synthesized after parsing, not just the ones docparser produced).
func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func containsInvisible(s string) bool {
	for _, r := range s {
		if _, ok := invisible[r]; ok {
			return true
		}
	}
	return false
}
