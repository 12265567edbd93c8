// Package schemaengine compiles a Quill's declared field schemas into JSON
// Schema documents and validates parsed documents against them, via
// santhosh-tekuri/jsonschema/v5's Draft2020 compiler, with a defensive
// allowlist walk over every emitted keyword plus the x-ui/x-quill-type
// extensions the FieldSchema model carries.
package schemaengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

// allowedKeywords lists every schema keyword the FieldSchema model can
// emit and the engine knows how to carry through to a backend.
var allowedKeywords = map[string]struct{}{
	"$schema": {}, "$id": {}, "$ref": {}, "$defs": {}, "$anchor": {},
	"type": {}, "properties": {}, "required": {}, "items": {},
	"oneOf": {}, "allOf": {}, "const": {}, "enum": {}, "default": {},
	"title": {}, "description": {}, "format": {}, "additionalProperties": {},
	"pattern": {}, "minItems": {}, "maxItems": {}, "minimum": {}, "maximum": {},
	"examples": {}, "x-ui": {}, "x-quill-type": {},
}

// Field type identifiers supported by a Quill manifest. Two
// are engine extensions layered on top of plain JSON Schema types: Markdown
// (a UTF-8 markdown string a backend converts to its own markup during
// TransformFields) and Asset (a filename constrained to the Quill's asset
// set or dynamically added assets).
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeInteger  = "integer"
	TypeBoolean  = "boolean"
	TypeArray    = "array"
	TypeObject   = "object"
	TypeMarkdown = "markdown"
	TypeAsset    = "asset"
)

// FieldSchema is one declared field of a Quill's schema.
type FieldSchema struct {
	Name        string
	Type        string // string|number|integer|boolean|array|object|markdown|asset
	Title       string
	Required    bool
	Default     *valuetree.Value
	Examples    []valuetree.Value
	Description string
	Pattern     string
	Enum        []valuetree.Value
	MinItems    *int
	MaxItems    *int
	Items       *FieldSchema
	Properties  []FieldSchema
	UISchema    map[string]any // x-ui extension, opaque to this engine
	QuillType   string         // x-quill-type extension; defaults from Type for markdown/asset
}

// IsMarkdown reports whether this field itself is declared as the markdown
// engine extension type; its properties/items are not inspected.
func (f FieldSchema) IsMarkdown() bool {
	return f.Type == TypeMarkdown
}

// Compile builds a JSON Schema document (as a map, ready for
// jsonschema.Compiler.AddResource) from a field list, the shape
// internal/quillload populates from Quill.toml/Quill.yaml's `fields` table.
func Compile(fields []FieldSchema) (map[string]any, error) {
	schema := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": true,
	}
	props := schema["properties"].(map[string]any)
	var required []string

	for _, f := range fields {
		node, err := fieldNode(f)
		if err != nil {
			return nil, err
		}
		props[f.Name] = node
		if f.Required {
			required = append(required, f.Name)
		}
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema, nil
}

// jsonType maps a FieldSchema's declared type onto the JSON Schema type it
// emits, plus the x-quill-type extension implied when the declared type is
// one of this engine's markdown/asset extensions.
func jsonType(t string) (string, string) {
	switch t {
	case TypeMarkdown:
		return TypeString, TypeMarkdown
	case TypeAsset:
		return TypeString, TypeAsset
	default:
		return t, ""
	}
}

func fieldNode(f FieldSchema) (map[string]any, error) {
	node := map[string]any{}
	jt, impliedQuillType := jsonType(f.Type)
	if jt != "" {
		node["type"] = jt
	}
	if f.Title != "" {
		node["title"] = f.Title
	}
	if f.Description != "" {
		node["description"] = f.Description
	}
	if f.Pattern != "" {
		node["pattern"] = f.Pattern
	}
	if len(f.Enum) > 0 {
		enum := make([]any, len(f.Enum))
		for i, v := range f.Enum {
			enum[i] = valuetree.ToGo(v)
		}
		node["enum"] = enum
	}
	if f.MinItems != nil {
		node["minItems"] = *f.MinItems
	}
	if f.MaxItems != nil {
		node["maxItems"] = *f.MaxItems
	}
	if f.Default != nil {
		node["default"] = valuetree.ToGo(*f.Default)
	}
	if len(f.Examples) > 0 {
		examples := make([]any, len(f.Examples))
		for i, v := range f.Examples {
			examples[i] = valuetree.ToGo(v)
		}
		node["examples"] = examples
	}
	if f.UISchema != nil {
		node["x-ui"] = f.UISchema
	}
	quillType := f.QuillType
	if quillType == "" {
		quillType = impliedQuillType
	}
	if quillType != "" {
		node["x-quill-type"] = quillType
	}
	if f.Items != nil {
		itemNode, err := fieldNode(*f.Items)
		if err != nil {
			return nil, err
		}
		node["items"] = itemNode
	}
	if len(f.Properties) > 0 {
		childProps := map[string]any{}
		var required []string
		for _, child := range f.Properties {
			childNode, err := fieldNode(child)
			if err != nil {
				return nil, err
			}
			childProps[child.Name] = childNode
			if child.Required {
				required = append(required, child.Name)
			}
		}
		node["properties"] = childProps
		if len(required) > 0 {
			sort.Strings(required)
			node["required"] = required
		}
	}
	if err := validateSubset(node, f.Name); err != nil {
		return nil, err
	}
	return node, nil
}

// validateSubset rejects any keyword this engine doesn't know how to carry
// through to a backend.
func validateSubset(node map[string]any, path string) error {
	for k := range node {
		if strings.HasPrefix(k, "x-") {
			continue
		}
		if _, ok := allowedKeywords[k]; !ok {
			return schemaErr(fmt.Sprintf("field %q uses unsupported schema keyword %q", path, k))
		}
	}
	return nil
}

// CardSchema is one declared `cards.<tag-name>` entry from a Quill
// manifest: an ordered field list plus the tag the discriminated CARDS
// union matches it against.
type CardSchema struct {
	Tag         string
	Title       string
	Description string
	Fields      []FieldSchema
}

// Schema wraps a compiled jsonschema.Schema for reuse across renders of the
// same Quill version.
type Schema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document (as produced by Compile)
// for repeated validation: construct a Draft2020 compiler, register the
// document as an in-memory resource, and compile it.
func CompileSchema(doc map[string]any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, schemaErr("failed to marshal schema: " + err.Error())
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	const resourceURL = "quillmark://schema.json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, schemaErr("failed to register schema: " + err.Error())
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, schemaErr("failed to compile schema: " + err.Error())
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks a document's fields (as plain Go values, via
// valuetree.ToGo) against the compiled schema, collecting every violation
// rather than stopping at the first by walking
// jsonschema.ValidationError.Causes.
func (s *Schema) Validate(fields valuetree.Value) []diagnostic.Diagnostic {
	payload := valuetree.ToGo(fields)
	err := s.compiled.Validate(payload)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		d := diagnostic.FromError(err)
		d.Code = "schema::validation_failed"
		return []diagnostic.Diagnostic{d}
	}
	var out []diagnostic.Diagnostic
	collectIssues(ve, &out)
	return out
}

func collectIssues(ve *jsonschema.ValidationError, out *[]diagnostic.Diagnostic) {
	if len(ve.Causes) == 0 {
		code, hint := classifyKeyword(ve.KeywordLocation, ve.Message)
		*out = append(*out, diagnostic.Diagnostic{
			Severity: diagnostic.SeverityError,
			Code:     code,
			Message:  fmt.Sprintf("%s: %s", ve.InstanceLocation, ve.Message),
			Primary:  &diagnostic.Location{File: "frontmatter"},
			Hint:     hint,
		})
		return
	}
	for _, cause := range ve.Causes {
		collectIssues(cause, out)
	}
}

var expectedType = regexp.MustCompile(`expected ([a-z, ]+?), but got`)

// classifyKeyword maps a jsonschema KeywordLocation's trailing segment onto
// a stable validation code plus a short remediation hint. Type mismatches
// name the expected type in the hint, pulled out of the validator's
// "expected <type>, but got <type>" message.
func classifyKeyword(loc, msg string) (code, hint string) {
	switch {
	case strings.HasSuffix(loc, "/type"):
		hint = "check the field's declared type"
		if m := expectedType.FindStringSubmatch(msg); m != nil {
			hint = "value must be of type " + m[1]
		}
		return "validation::type", hint
	case strings.Contains(loc, "/required"):
		return "validation::required", "this field is required"
	case strings.HasSuffix(loc, "/pattern"):
		return "validation::pattern", "value does not match the required pattern"
	case strings.HasSuffix(loc, "/enum"):
		return "validation::enum", "value is not one of the allowed options"
	case strings.HasSuffix(loc, "/minItems"), strings.HasSuffix(loc, "/maxItems"):
		return "validation::items", "array length is out of bounds"
	default:
		return "validation::constraint", ""
	}
}

// CardSet compiles every declared card schema once, keyed by tag, so
// CARDS entries can be validated per-tag at render time without recompiling.
type CardSet struct {
	byTag map[string]*Schema
	decls map[string]CardSchema
}

// CompileCards compiles a Quill's declared card schemas.
func CompileCards(cards []CardSchema) (*CardSet, error) {
	cs := &CardSet{byTag: map[string]*Schema{}, decls: map[string]CardSchema{}}
	for _, c := range cards {
		doc, err := Compile(c.Fields)
		if err != nil {
			return nil, err
		}
		// A card's own CARD/BODY reserved keys ride alongside its declared
		// fields without being part of the field-declared schema.
		compiled, err := CompileSchema(doc)
		if err != nil {
			return nil, err
		}
		cs.byTag[c.Tag] = compiled
		cs.decls[c.Tag] = c
	}
	return cs, nil
}

// ValidateCards walks a parsed document's CARDS sequence, validating each
// entry against its tag's declared schema. An unknown tag produces a
// Severity: Warning diagnostic and passes through untyped, never a hard
// validation failure.
func (cs *CardSet) ValidateCards(cards valuetree.Value) []diagnostic.Diagnostic {
	if cs == nil {
		return nil
	}
	items, ok := cards.AsSequence()
	if !ok {
		return nil
	}
	var out []diagnostic.Diagnostic
	for i, item := range items {
		tagVal, _ := item.Get("CARD")
		tag, _ := tagVal.AsString()
		schema, known := cs.byTag[tag]
		if !known {
			out = append(out, diagnostic.Diagnostic{
				Severity: diagnostic.SeverityWarning,
				Code:     "schema::unknown_card_tag",
				Message:  fmt.Sprintf("CARDS[%d]: unrecognised card tag %q", i, tag),
				Hint:     "the card passes through untyped",
			})
			continue
		}
		for _, d := range schema.Validate(item) {
			d.Message = fmt.Sprintf("CARDS[%d] (%s): %s", i, tag, d.Message)
			out = append(out, d)
		}
	}
	return out
}

// ExtractDefaults collects each field's declared default.
func ExtractDefaults(fields []FieldSchema) map[string]valuetree.Value {
	out := map[string]valuetree.Value{}
	for _, f := range fields {
		if f.Default != nil {
			out[f.Name] = *f.Default
		}
	}
	return out
}

// ExtractExamples collects each field's declared example list.
func ExtractExamples(fields []FieldSchema) map[string][]valuetree.Value {
	out := map[string][]valuetree.Value{}
	for _, f := range fields {
		if len(f.Examples) > 0 {
			out[f.Name] = f.Examples
		}
	}
	return out
}

func schemaErr(msg string) error {
	return diagnostic.Wrap(diagnostic.CategoryValidation, "schema::invalid", msg)
}
