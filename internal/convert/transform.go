package convert

import (
	"context"

	"github.com/goliatone/quillmark/internal/schemaengine"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/quillspec"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

// MaxFieldDepth bounds the field-transform walk's recursion, the same
// nesting-depth convention internal/docparser and internal/normalize apply.
const MaxFieldDepth = 100

// TransformFields replaces every BODY value and every field declared
// `markdown` (recursively, through object/array schemas and card schemas)
// with its backend markup rendering via conv, leaving `asset` fields and
// everything else untouched. It is the shared implementation
// a Backend.TransformFields hook delegates to.
func TransformFields(ctx context.Context, fields valuetree.Value, quill quillspec.Quill, conv Converter) (valuetree.Value, []diagnostic.Diagnostic, error) {
	if fields.Kind() != valuetree.KindMapping {
		return fields, nil, nil
	}
	out := valuetree.NewMapping()
	var diags []diagnostic.Diagnostic

	fieldByName := map[string]schemaengine.FieldSchema{}
	for _, f := range quill.Fields {
		fieldByName[f.Name] = f
	}
	cardByTag := map[string]quillspec.CardSchema{}
	for _, c := range quill.Cards {
		cardByTag[c.Tag] = c
	}

	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		switch k {
		case "BODY":
			converted, err := convertField(ctx, v, conv, 0)
			if err != nil {
				return valuetree.Value{}, nil, err
			}
			out.Set(k, converted)
		case "CARDS":
			converted, cardDiags, err := transformCards(ctx, v, cardByTag, conv, 0)
			if err != nil {
				return valuetree.Value{}, nil, err
			}
			diags = append(diags, cardDiags...)
			out.Set(k, converted)
		default:
			if decl, ok := fieldByName[k]; ok {
				converted, err := transformValue(ctx, v, decl, conv, 0)
				if err != nil {
					return valuetree.Value{}, nil, err
				}
				out.Set(k, converted)
				continue
			}
			out.Set(k, v)
		}
	}
	return out, diags, nil
}

func transformCards(ctx context.Context, cards valuetree.Value, cardByTag map[string]quillspec.CardSchema, conv Converter, depth int) (valuetree.Value, []diagnostic.Diagnostic, error) {
	items, ok := cards.AsSequence()
	if !ok {
		return cards, nil, nil
	}
	var diags []diagnostic.Diagnostic
	out := make([]valuetree.Value, len(items))
	for i, card := range items {
		tagVal, _ := card.Get("CARD")
		tag, _ := tagVal.AsString()
		decl, known := cardByTag[tag]

		transformed := valuetree.NewMapping()
		fieldByName := map[string]schemaengine.FieldSchema{}
		if known {
			for _, f := range decl.Fields {
				fieldByName[f.Name] = f
			}
		}
		for _, k := range card.Keys() {
			v, _ := card.Get(k)
			if k == "BODY" {
				converted, err := convertField(ctx, v, conv, depth+1)
				if err != nil {
					return valuetree.Value{}, nil, err
				}
				transformed.Set(k, converted)
				continue
			}
			if decl, ok := fieldByName[k]; ok {
				converted, err := transformValue(ctx, v, decl, conv, depth+1)
				if err != nil {
					return valuetree.Value{}, nil, err
				}
				transformed.Set(k, converted)
				continue
			}
			transformed.Set(k, v)
		}
		out[i] = transformed
	}
	return valuetree.Sequence(out...), diags, nil
}

// transformValue applies a single field declaration's transform: convert a
// markdown leaf, recurse into an object's declared properties, or recurse
// into an array's declared item schema. Anything else passes through.
func transformValue(ctx context.Context, v valuetree.Value, decl schemaengine.FieldSchema, conv Converter, depth int) (valuetree.Value, error) {
	if depth > MaxFieldDepth {
		return valuetree.Value{}, templateErr("field %q: nesting depth exceeds %d", decl.Name, MaxFieldDepth)
	}
	switch decl.Type {
	case schemaengine.TypeMarkdown:
		return convertField(ctx, v, conv, depth+1)
	case schemaengine.TypeObject:
		if v.Kind() != valuetree.KindMapping || len(decl.Properties) == 0 {
			return v, nil
		}
		propByName := map[string]schemaengine.FieldSchema{}
		for _, p := range decl.Properties {
			propByName[p.Name] = p
		}
		out := valuetree.NewMapping()
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			if prop, ok := propByName[k]; ok {
				converted, err := transformValue(ctx, val, prop, conv, depth+1)
				if err != nil {
					return valuetree.Value{}, err
				}
				out.Set(k, converted)
				continue
			}
			out.Set(k, val)
		}
		return out, nil
	case schemaengine.TypeArray:
		if v.Kind() != valuetree.KindSequence || decl.Items == nil {
			return v, nil
		}
		items, _ := v.AsSequence()
		out := make([]valuetree.Value, len(items))
		for i, item := range items {
			converted, err := transformValue(ctx, item, *decl.Items, conv, depth+1)
			if err != nil {
				return valuetree.Value{}, err
			}
			out[i] = converted
		}
		return valuetree.Sequence(out...), nil
	default:
		return v, nil
	}
}

func convertField(ctx context.Context, v valuetree.Value, conv Converter, depth int) (valuetree.Value, error) {
	if depth > MaxFieldDepth {
		return valuetree.Value{}, templateErr("markdown field: nesting depth exceeds %d", MaxFieldDepth)
	}
	s, ok := v.AsString()
	if !ok {
		return v, nil
	}
	converted, err := conv.Convert(ctx, s)
	if err != nil {
		return valuetree.Value{}, templateErr("markdown conversion failed: %s", err.Error())
	}
	return valuetree.String(converted), nil
}
