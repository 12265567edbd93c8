package engine

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/quillmark/internal/docparser"
	"github.com/goliatone/quillmark/internal/version"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/quillspec"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

type stubBackend struct{ id string }

func (b stubBackend) ID() string                              { return b.id }
func (b stubBackend) SupportedFormats() []quillspec.OutputFormat { return []quillspec.OutputFormat{quillspec.OutputTXT} }
func (b stubBackend) HelperPackagePath() string                { return "data.json" }
func (b stubBackend) TransformFields(ctx context.Context, fields valuetree.Value, quill quillspec.Quill) (valuetree.Value, []diagnostic.Diagnostic, error) {
	return fields, nil, nil
}
func (b stubBackend) Compile(ctx context.Context, req quillspec.RenderRequest) (quillspec.RenderResult, error) {
	return quillspec.RenderResult{}, nil
}

func quillAt(name string, major, minor uint32) quillspec.Quill {
	return quillspec.Quill{Name: name, Version: version.Version{Major: major, Minor: minor}, BackendID: "stub"}
}

func TestRegisterQuillRejectsReservedZeroVersion(t *testing.T) {
	e := New()
	err := e.RegisterQuill(quillAt("resume", 0, 0))
	if err == nil {
		t.Fatalf("expected error registering version 0.0")
	}
}

func TestRegisterQuillRejectsDuplicateVersion(t *testing.T) {
	e := New()
	if err := e.RegisterQuill(quillAt("resume", 1, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.RegisterQuill(quillAt("resume", 1, 0)); err == nil {
		t.Fatalf("expected collision error for duplicate version")
	}
}

func TestGetQuillResolvesLatest(t *testing.T) {
	e := New()
	must(t, e.RegisterQuill(quillAt("resume", 1, 0)))
	must(t, e.RegisterQuill(quillAt("resume", 1, 1)))
	q, err := e.GetQuill(version.Reference{Name: "resume", Selector: version.Selector{Kind: version.SelectorLatest}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Version.Minor != 1 {
		t.Fatalf("got version %+v", q.Version)
	}
}

func TestGetQuillUnknownNameIsQuillNotFound(t *testing.T) {
	e := New()
	_, err := e.GetQuill(version.Reference{Name: "missing", Selector: version.Selector{Kind: version.SelectorLatest}})
	if !goerrors.IsCategory(err, diagnostic.CategoryQuillNotFound) {
		t.Fatalf("expected quill-not-found category, got %v", err)
	}
}

func TestUnregisterQuillRemovesEveryVersion(t *testing.T) {
	e := New()
	must(t, e.RegisterQuill(quillAt("resume", 1, 0)))
	must(t, e.RegisterQuill(quillAt("resume", 2, 0)))
	must(t, e.UnregisterQuill("resume"))
	if names := e.ListQuills(); len(names) != 0 {
		t.Fatalf("expected name dropped entirely, got %v", names)
	}
}

func TestUnregisterQuillUnknownNameIsError(t *testing.T) {
	e := New()
	if err := e.UnregisterQuill("missing"); err == nil {
		t.Fatalf("expected quill-not-found error")
	}
}

func TestListVersionsUnknownNameIsError(t *testing.T) {
	e := New()
	if _, err := e.ListVersions("missing"); err == nil {
		t.Fatalf("expected error for unknown quill name")
	}
}

func TestWorkflowForNameRequiresRegisteredBackend(t *testing.T) {
	e := New()
	must(t, e.RegisterQuill(quillAt("resume", 1, 0)))
	if _, err := e.WorkflowForName("resume"); err == nil {
		t.Fatalf("expected error: backend 'stub' is not registered")
	}
	e.RegisterBackend(stubBackend{id: "stub"})
	wf, err := e.WorkflowForName("resume")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.QuillName() != "resume" {
		t.Fatalf("got %q", wf.QuillName())
	}
}

func TestListBackendsReflectsRegistrations(t *testing.T) {
	e := New()
	e.RegisterBackend(stubBackend{id: "a"})
	e.RegisterBackend(stubBackend{id: "b"})
	ids := e.ListBackends()
	if len(ids) != 2 {
		t.Fatalf("got %v", ids)
	}
}

func TestWorkflowForDocumentRequiresQuillReference(t *testing.T) {
	e := New()
	doc, err := docparser.Parse([]byte("just text, no frontmatter\n"))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := e.WorkflowForDocument(doc); err == nil {
		t.Fatalf("expected error for document with no QUILL tag")
	}
}

func TestWorkflowForDocumentFallsBackToDefaultQuill(t *testing.T) {
	e := New()
	e.RegisterBackend(stubBackend{id: "stub"})
	must(t, e.RegisterQuill(quillAt("greeting", 1, 0)))
	e.SetDefaultQuill(version.Reference{Name: "greeting", Selector: version.Selector{Kind: version.SelectorLatest}})

	doc, err := docparser.Parse([]byte("no frontmatter at all\n"))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	wf, err := e.WorkflowForDocument(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.QuillName() != "greeting" {
		t.Fatalf("got %q", wf.QuillName())
	}

	e.ClearDefaultQuill()
	if _, err := e.WorkflowForDocument(doc); err == nil {
		t.Fatalf("expected error once the default is cleared")
	}
}

func TestWorkflowForDocumentResolvesOwnReference(t *testing.T) {
	e := New()
	e.RegisterBackend(stubBackend{id: "stub"})
	must(t, e.RegisterQuill(quillAt("greeting", 1, 0)))
	doc, err := docparser.Parse([]byte("---\nQUILL: \"greeting@1\"\n---\nHello\n"))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	wf, err := e.WorkflowForDocument(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.QuillName() != "greeting" {
		t.Fatalf("got %q", wf.QuillName())
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
