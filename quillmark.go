// Package quillmark is the public façade over the rendering engine: a
// template-first document pipeline turning Markdown+YAML-frontmatter
// documents into backend-compiled artifacts (PDF/SVG/plain-text) via
// pluggable, versioned Quill templates. The engine's internals stay behind
// internal/; this package re-exports their contracts as package-level type
// aliases behind a thin constructor.
package quillmark

import (
	"github.com/goliatone/quillmark/internal/docparser"
	"github.com/goliatone/quillmark/internal/engine"
	"github.com/goliatone/quillmark/internal/logging"
	"github.com/goliatone/quillmark/internal/logging/gologger"
	"github.com/goliatone/quillmark/internal/quillload"
	"github.com/goliatone/quillmark/internal/version"
	"github.com/goliatone/quillmark/internal/workflow"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/quillspec"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

// Re-exported domain types, so callers only need to import this one package
// for everyday use.
type (
	// Quill is an immutable, versioned template bundle.
	Quill = quillspec.Quill
	// FieldSchema is one declared field of a Quill's schema.
	FieldSchema = quillspec.FieldSchema
	// CardSchema is one declared `cards.<tag-name>` entry.
	CardSchema = quillspec.CardSchema
	// Backend is the pluggable compiler contract an engine dispatches to.
	Backend = quillspec.Backend
	// OutputFormat identifies a backend's compiled artifact kind.
	OutputFormat = quillspec.OutputFormat
	// RenderResult is a render's full output: artifacts plus diagnostics.
	RenderResult = quillspec.RenderResult
	// Artifact is one compiled output produced by a Backend.
	Artifact = quillspec.Artifact
	// Version identifies a Quill revision (MAJOR.MINOR).
	Version = quillspec.Version
	// VersionSelector is a parsed "@selector" suffix (exact/major/latest).
	VersionSelector = quillspec.VersionSelector
	// QuillReference is a parsed "name@selector" reference.
	QuillReference = quillspec.QuillReference
	// Document is a parsed document's field tree plus its QUILL reference.
	Document = docparser.Document
	// Diagnostic is the structured error/warning shape produced throughout
	// the pipeline.
	Diagnostic = diagnostic.Diagnostic
	// Value is the recursive dynamic value type backing every parsed field.
	Value = valuetree.Value
	// Workflow is a single-Quill rendering pipeline instance.
	Workflow = workflow.Workflow
	// LogProvider vends module-scoped structured loggers; attach one with
	// WithLogProvider.
	LogProvider = logging.Provider
	// LogConfig configures the go-logger-backed provider built by
	// NewLogProvider.
	LogConfig = gologger.Config
)

const (
	OutputPDF  = quillspec.OutputPDF
	OutputSVG  = quillspec.OutputSVG
	OutputTXT  = quillspec.OutputTXT
	OutputPNG  = quillspec.OutputPNG
	OutputHTML = quillspec.OutputHTML
)

// ParseDocument runs stage one of the pipeline over raw markdown bytes,
// extracting frontmatter fields, the CARDS sequence, and the QUILL
// reference.
func ParseDocument(input []byte) (*Document, error) {
	return docparser.Parse(input)
}

// ParseVersion parses a "MAJOR.MINOR" version string.
func ParseVersion(s string) (Version, error) {
	return version.ParseVersion(s)
}

// ParseReference parses a "name", "name@MAJOR", "name@MAJOR.MINOR", or
// "name@latest" selector string.
func ParseReference(s string) (QuillReference, error) {
	return version.ParseReference(s)
}

// LoadQuill constructs a Quill from a flat filesystem-style file map (path
// -> bytes), locating and decoding its Quill.toml/Quill.yaml manifest,
// compiling its document-level field schema, and validating the result
// (card schemas are compiled when a Workflow is created). Register the
// result with Engine.RegisterQuill to make it available to Engine.Workflow.
func LoadQuill(files map[string][]byte) (Quill, error) {
	return quillload.Load(files)
}

// SerializeQuillTree renders a flat file map as the JSON exchange format
// for transporting a Quill's file tree out of process.
func SerializeQuillTree(files map[string][]byte) ([]byte, error) {
	return quillload.Serialize(files)
}

// DeserializeQuillTree parses the JSON exchange format back into a flat file
// map suitable for LoadQuill, discarding the reserved name/base_path
// defaults; use LoadQuillFromJSON to have them applied.
func DeserializeQuillTree(data []byte) (map[string][]byte, error) {
	tree, err := quillload.Deserialize(data)
	if err != nil {
		return nil, err
	}
	return tree.Files, nil
}

// LoadQuillFromJSON constructs a Quill directly from the serialized tree
// exchange format, applying the tree's reserved name default when the
// manifest omits its own.
func LoadQuillFromJSON(data []byte) (Quill, error) {
	return quillload.LoadSerialized(data)
}

// Engine owns the backend registry and the versioned Quill registry; it is
// the entry point for resolving a name, reference, concrete Quill, or
// parsed document into a ready-to-run Workflow.
type Engine struct {
	inner *engine.Engine
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogProvider attaches a structured-logging provider to the engine and
// every Workflow it creates.
func WithLogProvider(p LogProvider) Option {
	return func(e *Engine) {
		e.inner.SetLogProvider(p)
	}
}

// NewLogProvider builds a go-logger-backed LogProvider from cfg.
func NewLogProvider(cfg LogConfig) (LogProvider, error) {
	return gologger.NewProvider(cfg)
}

// New constructs an Engine, applying any options.
func New(opts ...Option) *Engine {
	e := &Engine{inner: engine.New()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// RegisterBackend adds or replaces a backend under its own ID(); a
// duplicate ID silently replaces the prior registration.
func (e *Engine) RegisterBackend(b Backend) {
	e.inner.RegisterBackend(b)
}

// RegisterQuill adds a Quill version to its named set, rejecting the
// reserved 0.0 version and a version collision within the same name.
func (e *Engine) RegisterQuill(q Quill) error {
	return e.inner.RegisterQuill(q)
}

// UnregisterQuill removes a named Quill and every version registered under it.
func (e *Engine) UnregisterQuill(name string) error {
	return e.inner.UnregisterQuill(name)
}

// GetQuill resolves a reference against the registry.
func (e *Engine) GetQuill(ref QuillReference) (Quill, error) {
	return e.inner.GetQuill(ref)
}

// ListQuills lists every registered Quill name.
func (e *Engine) ListQuills() []string {
	return e.inner.ListQuills()
}

// ListVersions lists every registered version of a named Quill.
func (e *Engine) ListVersions(name string) ([]Version, error) {
	return e.inner.ListVersions(name)
}

// ListBackends lists every registered backend ID.
func (e *Engine) ListBackends() []string {
	return e.inner.ListBackends()
}

// Workflow resolves a bare name or a "name@selector" string into a
// ready-to-run Workflow.
func (e *Engine) Workflow(nameOrRef string) (*Workflow, error) {
	ref, err := version.ParseReference(nameOrRef)
	if err != nil {
		return nil, err
	}
	return e.inner.WorkflowForReference(ref)
}

// SetDefaultQuill registers the fallback reference used when a document
// declares no QUILL tag of its own.
func (e *Engine) SetDefaultQuill(ref QuillReference) {
	e.inner.SetDefaultQuill(ref)
}

// ClearDefaultQuill removes the fallback reference.
func (e *Engine) ClearDefaultQuill() {
	e.inner.ClearDefaultQuill()
}

// WorkflowForReference starts a Workflow by resolving an explicit reference.
func (e *Engine) WorkflowForReference(ref QuillReference) (*Workflow, error) {
	return e.inner.WorkflowForReference(ref)
}

// WorkflowForQuill starts a Workflow from an already-resolved Quill.
func (e *Engine) WorkflowForQuill(q Quill) (*Workflow, error) {
	return e.inner.WorkflowForQuill(q)
}

// WorkflowForDocument starts a Workflow using a parsed document's own QUILL
// tag.
func (e *Engine) WorkflowForDocument(doc *Document) (*Workflow, error) {
	return e.inner.WorkflowForDocument(doc)
}
