package normalize

import (
	"testing"
	"unicode/utf8"

	"github.com/goliatone/quillmark/pkg/valuetree"
)

func TestNormalizeTextStripsBidiAndZeroWidth(t *testing.T) {
	in := "hello​world‪!"
	out := NormalizeText(in)
	if !utf8.ValidString(out) {
		t.Fatalf("expected valid utf8 output")
	}
	for _, r := range []rune{'​', '‪'} {
		for _, c := range out {
			if c == r {
				t.Fatalf("expected invisible character %U to be stripped", r)
			}
		}
	}
	if out != "helloworld!" {
		t.Fatalf("got %q", out)
	}
}

// TestNormalizeTextComposesNFC verifies NFC composition. decomposed uses "e"
// (U+0065) plus a combining acute accent (U+0301); composed uses the single
// precomposed code point (U+00E9). They must be byte-distinct inputs that
// normalize to the same result.
func TestNormalizeTextComposesNFC(t *testing.T) {
	decomposed := "caf" + "e\u0301" // "e" + combining acute accent (NFD)
	composed := "caf\u00e9"          // precomposed form (NFC)
	if decomposed == composed {
		t.Fatalf("test fixture error: decomposed and composed forms must differ byte-for-byte")
	}
	if NormalizeText(decomposed) != composed {
		t.Fatalf("expected NFC normalization to produce %q, got %q", composed, NormalizeText(decomposed))
	}
	if NormalizeText(decomposed) != NormalizeText(composed) {
		t.Fatalf("expected NFC-decomposed and precomposed forms to normalize identically")
	}
}

// TestNormalizeTextIdempotent covers the normalization idempotence law.
func TestNormalizeTextIdempotent(t *testing.T) {
	cases := []string{"plain", "caf" + "é", "a​b", "line1\r\nline2\rline3"}
	for _, c := range cases {
		once := NormalizeText(c)
		twice := NormalizeText(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: once=%q twice=%q", c, once, twice)
		}
	}
}

func TestNormalizeTextCollapsesLineEndings(t *testing.T) {
	out := NormalizeText("a\r\nb\rc")
	if out != "a\nb\nc" {
		t.Fatalf("got %q", out)
	}
}

func TestDocumentNormalizesStringValuesAndBodies(t *testing.T) {
	fields := valuetree.NewMapping()
	fields.Set("name", valuetree.String("caf"+"é"))
	fields.Set("BODY", valuetree.String("hello <<world>> end"))
	fields.Set("CARDS", valuetree.Sequence())

	out, err := Document(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name, _ := out.Get("name")
	nameStr, _ := name.AsString()
	if nameStr != "caf"+"é" {
		t.Fatalf("got name=%q", nameStr)
	}
	body, _ := out.Get("BODY")
	bodyStr, _ := body.AsString()
	if bodyStr != "hello «world» end" {
		t.Fatalf("expected guillemet expansion on BODY, got %q", bodyStr)
	}
}

// Composed and decomposed spellings of the same mapping key must resolve to
// one entry after normalization.
func TestDocumentNormalizesMappingKeysToNFC(t *testing.T) {
	fields := valuetree.NewMapping()
	fields.Set("caf"+"é", valuetree.String("decomposed"))
	fields.Set("BODY", valuetree.String(""))
	fields.Set("CARDS", valuetree.Sequence())

	out, err := Document(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := out.Get("café")
	if !ok {
		t.Fatalf("expected decomposed key to resolve under its NFC form; keys=%v", out.Keys())
	}
	if s, _ := v.AsString(); s != "decomposed" {
		t.Fatalf("got %q", s)
	}
}

func TestDocumentNormalizesCardBodies(t *testing.T) {
	card := valuetree.NewMapping()
	card.Set("CARD", valuetree.String("section"))
	card.Set("BODY", valuetree.String("a <<b>> c"))

	fields := valuetree.NewMapping()
	fields.Set("BODY", valuetree.String(""))
	fields.Set("CARDS", valuetree.Sequence(card))

	out, err := Document(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cards, _ := out.Get("CARDS")
	items, _ := cards.AsSequence()
	body, _ := items[0].Get("BODY")
	bodyStr, _ := body.AsString()
	if bodyStr != "a «b» c" {
		t.Fatalf("got %q", bodyStr)
	}
}

func TestDocumentDepthLimitExceeded(t *testing.T) {
	var v valuetree.Value = valuetree.String("leaf")
	for i := 0; i < MaxDepth+5; i++ {
		v = valuetree.Sequence(v)
	}
	fields := valuetree.NewMapping()
	fields.Set("deep", v)
	fields.Set("BODY", valuetree.String(""))
	fields.Set("CARDS", valuetree.Sequence())

	if _, err := Document(fields); err == nil {
		t.Fatalf("expected depth-exceeded error")
	}
}
