package schemaengine

import (
	"strings"
	"testing"

	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

func intPtr(i int) *int { return &i }

func TestCompileEmitsRequiredAndTypes(t *testing.T) {
	def := valuetree.String("anon")
	fields := []FieldSchema{
		{Name: "title", Type: TypeString, Required: true},
		{Name: "body", Type: TypeMarkdown},
		{Name: "logo", Type: TypeAsset},
		{Name: "author", Type: TypeString, Default: &def},
	}
	doc, err := Compile(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	props := doc["properties"].(map[string]any)
	bodyNode := props["body"].(map[string]any)
	if bodyNode["type"] != TypeString || bodyNode["x-quill-type"] != TypeMarkdown {
		t.Fatalf("got body node %+v", bodyNode)
	}
	logoNode := props["logo"].(map[string]any)
	if logoNode["x-quill-type"] != TypeAsset {
		t.Fatalf("got logo node %+v", logoNode)
	}
	required := doc["required"].([]string)
	if len(required) != 1 || required[0] != "title" {
		t.Fatalf("got required=%v", required)
	}
}

func TestFieldNodeAcceptsEveryEmittableKeyword(t *testing.T) {
	// Items recursion still goes through validateSubset. Since FieldSchema
	// itself can't express arbitrary keywords, this exercises the keyword
	// allowlist indirectly via a well-formed schema, confirming compile
	// succeeds for every keyword the struct can emit.
	fields := []FieldSchema{
		{Name: "tags", Type: TypeArray, MinItems: intPtr(1), MaxItems: intPtr(5),
			Items: &FieldSchema{Type: TypeString, Pattern: "^[a-z]+$"}},
	}
	if _, err := Compile(fields); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompileSchemaAndValidateSucceeds(t *testing.T) {
	fields := []FieldSchema{
		{Name: "title", Type: TypeString, Required: true},
		{Name: "count", Type: TypeInteger},
	}
	doc, err := Compile(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	schema, err := CompileSchema(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	good := valuetree.NewMapping()
	good.Set("title", valuetree.String("hello"))
	good.Set("count", valuetree.Int(3))
	if issues := schema.Validate(good); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidateReportsMissingRequiredField(t *testing.T) {
	fields := []FieldSchema{{Name: "title", Type: TypeString, Required: true}}
	doc, err := Compile(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	schema, err := CompileSchema(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := valuetree.NewMapping()
	issues := schema.Validate(bad)
	if len(issues) == 0 {
		t.Fatalf("expected a validation issue for missing required field")
	}
	if issues[0].Code != "validation::required" {
		t.Fatalf("got code %q", issues[0].Code)
	}
}

func TestValidateReportsTypeMismatch(t *testing.T) {
	fields := []FieldSchema{{Name: "count", Type: TypeInteger}}
	doc, _ := Compile(fields)
	schema, err := CompileSchema(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := valuetree.NewMapping()
	bad.Set("count", valuetree.String("not a number"))
	issues := schema.Validate(bad)
	if len(issues) == 0 || issues[0].Code != "validation::type" {
		t.Fatalf("got issues %+v", issues)
	}
	if !strings.Contains(issues[0].Hint, "integer") {
		t.Fatalf("expected hint to name the expected type, got %q", issues[0].Hint)
	}
}

func TestCompileCardsAndValidateKnownTag(t *testing.T) {
	cards := []CardSchema{
		{Tag: "section", Fields: []FieldSchema{{Name: "heading", Type: TypeString, Required: true}}},
	}
	cs, err := CompileCards(cards)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	card := valuetree.NewMapping()
	card.Set("CARD", valuetree.String("section"))
	card.Set("heading", valuetree.String("Alpha"))
	issues := cs.ValidateCards(valuetree.Sequence(card))
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

// An unrecognised card tag is a warning, passing through untyped.
func TestValidateCardsUnknownTagIsWarningNotError(t *testing.T) {
	cards := []CardSchema{
		{Tag: "section", Fields: []FieldSchema{{Name: "heading", Type: TypeString}}},
	}
	cs, err := CompileCards(cards)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	card := valuetree.NewMapping()
	card.Set("CARD", valuetree.String("mystery"))
	issues := cs.ValidateCards(valuetree.Sequence(card))
	if len(issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", issues)
	}
	if issues[0].Severity != diagnostic.SeverityWarning {
		t.Fatalf("expected a warning, not a hard failure, got severity %v", issues[0].Severity)
	}
	if issues[0].Code != "schema::unknown_card_tag" {
		t.Fatalf("got code %q", issues[0].Code)
	}
}

func TestExtractDefaultsAndExamples(t *testing.T) {
	def := valuetree.String("Untitled")
	ex1 := valuetree.String("Example A")
	ex2 := valuetree.String("Example B")
	fields := []FieldSchema{
		{Name: "title", Type: TypeString, Default: &def, Examples: []valuetree.Value{ex1, ex2}},
		{Name: "count", Type: TypeInteger},
	}
	defaults := ExtractDefaults(fields)
	if len(defaults) != 1 {
		t.Fatalf("got defaults=%+v", defaults)
	}
	s, _ := defaults["title"].AsString()
	if s != "Untitled" {
		t.Fatalf("got default=%q", s)
	}
	examples := ExtractExamples(fields)
	if len(examples["title"]) != 2 {
		t.Fatalf("got examples=%+v", examples["title"])
	}
}
