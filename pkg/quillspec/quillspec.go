// Package quillspec defines the engine's public domain types: the Quill
// template bundle, its virtual file tree, the pluggable Backend contract,
// and the render output shapes. Service contracts are kept as small
// interfaces next to the domain structs they operate on.
package quillspec

import (
	"context"
	"encoding/json"
	"io/fs"

	"github.com/goliatone/quillmark/internal/schemaengine"
	"github.com/goliatone/quillmark/internal/version"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

// Version re-exports the version engine's Version for callers that only
// need the public surface.
type Version = version.Version

// VersionSelector re-exports the version engine's Selector.
type VersionSelector = version.Selector

// QuillReference re-exports the version engine's parsed "name@selector".
type QuillReference = version.Reference

// FieldSchema re-exports the schema engine's field declaration shape.
type FieldSchema = schemaengine.FieldSchema

// OutputFormat identifies a backend's compiled artifact kind.
type OutputFormat int

const (
	OutputPDF OutputFormat = iota
	OutputSVG
	OutputTXT
	OutputPNG
	OutputHTML
	OutputOther
)

func (f OutputFormat) String() string {
	switch f {
	case OutputPDF:
		return "pdf"
	case OutputSVG:
		return "svg"
	case OutputTXT:
		return "txt"
	case OutputPNG:
		return "png"
	case OutputHTML:
		return "html"
	default:
		return "other"
	}
}

// MimeType returns the canonical MIME type for an Artifact's format.
func (f OutputFormat) MimeType() string {
	switch f {
	case OutputPDF:
		return "application/pdf"
	case OutputSVG:
		return "image/svg+xml"
	case OutputTXT:
		return "text/plain"
	case OutputPNG:
		return "image/png"
	case OutputHTML:
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// VirtualFileTree is the sandboxed, read-only filesystem view a Quill and
// its dynamic assets present to a Backend. It composes several sources
// (Quill files, injected template helpers, per-render dynamic assets) behind
// a single fs.FS so backends never see the host filesystem.
type VirtualFileTree struct {
	fsys fs.FS
	// paths lists every file present, in deterministic (sorted) order, so
	// backends that enumerate the tree get stable iteration order.
	paths []string
}

// NewVirtualFileTree wraps a composed fs.FS with its known path listing.
func NewVirtualFileTree(fsys fs.FS, paths []string) VirtualFileTree {
	cp := make([]string, len(paths))
	copy(cp, paths)
	return VirtualFileTree{fsys: fsys, paths: cp}
}

// FS returns the underlying filesystem view.
func (t VirtualFileTree) FS() fs.FS { return t.fsys }

// Paths returns every file path present, in deterministic order.
func (t VirtualFileTree) Paths() []string {
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// CardSchema re-exports the schema engine's declared `cards.<tag-name>`
// entry.
type CardSchema = schemaengine.CardSchema

// Quill is an immutable, versioned template bundle: its metadata, declared
// field schemas, and the virtual file tree backends compile against.
type Quill struct {
	Name        string
	Version     Version
	BackendID   string
	Description string
	PlateFile   string // path within Tree to the primary template entry point
	Fields      []FieldSchema
	Cards       []CardSchema
	Tree        VirtualFileTree

	// CompiledSchema is the document-level JSON schema compiled from Fields
	// at registration time, reused across every render of this Quill version
	// rather than recompiled per call.
	CompiledSchema *schemaengine.Schema
	// Defaults maps field name -> default ValueTree, present only for fields
	// that declared one.
	Defaults map[string]valuetree.Value
	// Examples maps field name -> its declared example list.
	Examples map[string][]valuetree.Value
	// Metadata carries free-form manifest metadata opaque to the engine: the
	// manifest's metadata table plus author, description, and (for a
	// serialized tree) base_path. Backend-specific manifest sub-tables are
	// not captured.
	Metadata map[string]any
	// ExampleMarkdown is the optional example document's raw markdown,
	// loaded from the manifest's example_file when present.
	ExampleMarkdown string
}

// Artifact is one compiled output produced by a Backend.
type Artifact struct {
	Format   OutputFormat
	Name     string
	Bytes    []byte
	MimeType string
}

// MarshalJSON emits the cross-binding exchange shape for one artifact:
// {"output_format": ..., "bytes": <base64>, "mime_type": ...}.
func (a Artifact) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OutputFormat string `json:"output_format"`
		Bytes        []byte `json:"bytes"`
		MimeType     string `json:"mime_type"`
	}{a.Format.String(), a.Bytes, a.MimeType})
}

// RenderResult is a Workflow render's full output: the artifacts produced
// plus any non-fatal diagnostics collected along the way.
type RenderResult struct {
	OutputFormat OutputFormat
	Artifacts    []Artifact
	Diagnostics  []diagnostic.Diagnostic
}

// MarshalJSON emits the cross-binding exchange shape:
// {"output_format": ..., "artifacts": [...], "warnings": [...]}. Absent
// slices serialize as empty arrays, never null, so bindings can index
// unconditionally.
func (r RenderResult) MarshalJSON() ([]byte, error) {
	artifacts := r.Artifacts
	if artifacts == nil {
		artifacts = []Artifact{}
	}
	warnings := r.Diagnostics
	if warnings == nil {
		warnings = []diagnostic.Diagnostic{}
	}
	return json.Marshal(struct {
		OutputFormat string                  `json:"output_format"`
		Artifacts    []Artifact              `json:"artifacts"`
		Warnings     []diagnostic.Diagnostic `json:"warnings"`
	}{r.OutputFormat.String(), artifacts, warnings})
}

// RenderRequest is everything a Backend needs to compile one document
// against one Quill version: the validated, normalized, transformed field
// tree, its canonical JSON serialization, the composed virtual file tree
// (Quill files plus the injected helper package plus any dynamic
// assets/fonts for this render), and the requested output format.
type RenderRequest struct {
	Fields valuetree.Value
	Data   []byte // canonical JSON serialization of Fields, insertion-key order
	Tree   VirtualFileTree
	Quill  Quill
	Format OutputFormat
}

// Backend is the pluggable compiler contract a rendering engine implements
// to turn a RenderRequest into artifacts. The method set is kept
// deliberately minimal so new compilers are easy to register.
type Backend interface {
	// ID identifies the backend, matched against Quill.BackendID at
	// workflow-resolution time.
	ID() string
	// SupportedFormats lists every OutputFormat this backend can produce;
	// the first entry is the default when a render doesn't request one.
	SupportedFormats() []OutputFormat
	// HelperPackagePath names the well-known virtual-tree path under which
	// the engine injects the render's JSON data; it is a backend convention,
	// not a core invariant.
	HelperPackagePath() string
	// TransformFields returns fields with every declared `markdown`-typed
	// field (including nested fields under card and array schemas) replaced
	// by this backend's markup representation. Assets are
	// left as filename strings. Non-fatal issues ride along as Diagnostics;
	// a field that cannot be converted is a TemplateError.
	TransformFields(ctx context.Context, fields valuetree.Value, quill Quill) (valuetree.Value, []diagnostic.Diagnostic, error)
	// Compile renders req into one or more artifacts. ctx carries
	// cancellation/deadline for long-running compiles (e.g. a LaTeX or
	// typesetting subprocess).
	Compile(ctx context.Context, req RenderRequest) (RenderResult, error)
}
