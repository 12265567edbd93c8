// Package workflow implements the single-Quill rendering pipeline: parse,
// normalize, validate, transform, compile, plus the dry-run short-circuit
// and the per-render dynamic asset/font buffers a Workflow owns. Each
// Render call attaches a uuid correlation id to its request-scoped logging
// fields (internal/logging.ContextWithFields).
package workflow

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/quillmark/internal/docparser"
	"github.com/goliatone/quillmark/internal/logging"
	"github.com/goliatone/quillmark/internal/normalize"
	"github.com/goliatone/quillmark/internal/schemaengine"
	"github.com/goliatone/quillmark/internal/vfs"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/quillspec"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

// AssetPrefix and FontPrefix are the well-known virtual-tree prefixes under
// which a Workflow's dynamic assets/fonts are composed into the tree handed
// to a Backend.
const (
	AssetPrefix = "assets/"
	FontPrefix  = "fonts/"
)

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Workflow is a single-Quill rendering pipeline instance. Not thread-safe:
// each goroutine must create its own. The Quill
// it borrows is immutable and shareable; the dynamic asset/font maps below
// are owned exclusively by this Workflow.
type Workflow struct {
	mu sync.Mutex

	// Document is set when a Workflow is created directly from an
	// already-parsed document's own QUILL tag (engine.WorkflowForDocument);
	// Render/DryRun fall back to it when called with a nil document.
	Document *docparser.Document

	quill   quillspec.Quill
	backend quillspec.Backend

	cards    *schemaengine.CardSet
	cardsErr error

	dynamicAssets map[string][]byte
	dynamicFonts  map[string][]byte

	logger logging.Logger
}

// New constructs a Workflow bound to one Quill version and its backend.
func New(quill quillspec.Quill, backend quillspec.Backend) *Workflow {
	cards, err := schemaengine.CompileCards(quill.Cards)
	return &Workflow{
		quill:         quill,
		backend:       backend,
		cards:         cards,
		cardsErr:      err,
		dynamicAssets: map[string][]byte{},
		dynamicFonts:  map[string][]byte{},
		logger:        logging.NoOp(),
	}
}

// WithProvider attaches a logging.Provider, replacing the no-op default.
// Returns the same Workflow for chaining.
func (w *Workflow) WithProvider(provider logging.Provider) *Workflow {
	w.logger = logging.WorkflowLogger(provider)
	return w
}

// BackendID returns the bound backend's stable identifier.
func (w *Workflow) BackendID() string { return w.backend.ID() }

// SupportedFormats lists every OutputFormat the bound backend can produce.
func (w *Workflow) SupportedFormats() []quillspec.OutputFormat { return w.backend.SupportedFormats() }

// QuillName returns the bound Quill's name.
func (w *Workflow) QuillName() string { return w.quill.Name }

// AddAsset registers a dynamic asset, checked against the filename allowlist
// and against collisions with the Quill's own tree and previously added
// assets/fonts.
func (w *Workflow) AddAsset(name string, data []byte) error {
	return w.addDynamic(&w.dynamicAssets, AssetPrefix, name, data)
}

// AddFont registers a dynamic font, same rules as AddAsset.
func (w *Workflow) AddFont(name string, data []byte) error {
	return w.addDynamic(&w.dynamicFonts, FontPrefix, name, data)
}

func (w *Workflow) addDynamic(into *map[string][]byte, prefix, name string, data []byte) error {
	if !filenamePattern.MatchString(name) {
		return diagnostic.WrapCause(
			fmt.Errorf("invalid dynamic filename %q", name),
			diagnostic.CategoryValidation, "workflow::invalid_filename", "filename does not match the allowlist",
		)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	virtualPath := prefix + name
	category := diagnostic.CategoryAssetCollision
	if prefix == FontPrefix {
		category = diagnostic.CategoryFontCollision
	}
	for _, p := range w.quill.Tree.Paths() {
		if p == virtualPath {
			return diagnostic.WrapCause(
				fmt.Errorf("dynamic path %q collides with the quill's own tree", virtualPath),
				category, "workflow::dynamic_collision", "virtual path collision",
			)
		}
	}
	if _, exists := w.dynamicAssets[name]; exists && prefix == AssetPrefix {
		return diagnostic.WrapCause(
			fmt.Errorf("dynamic asset %q already registered", name),
			category, "workflow::dynamic_collision", "virtual path collision",
		)
	}
	if _, exists := w.dynamicFonts[name]; exists && prefix == FontPrefix {
		return diagnostic.WrapCause(
			fmt.Errorf("dynamic font %q already registered", name),
			category, "workflow::dynamic_collision", "virtual path collision",
		)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	(*into)[name] = cp
	return nil
}

// ClearAssets discards every registered dynamic asset.
func (w *Workflow) ClearAssets() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dynamicAssets = map[string][]byte{}
}

// ClearFonts discards every registered dynamic font.
func (w *Workflow) ClearFonts() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dynamicFonts = map[string][]byte{}
}

// DynamicAssetNames lists every currently registered dynamic asset name.
func (w *Workflow) DynamicAssetNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return names(w.dynamicAssets)
}

// DynamicFontNames lists every currently registered dynamic font name.
func (w *Workflow) DynamicFontNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return names(w.dynamicFonts)
}

func names(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// prepared is the shared result of normalize+validate, reused by both
// Render and DryRun so the two entry points can never drift.
type prepared struct {
	fields valuetree.Value
	diags  []diagnostic.Diagnostic
}

func (w *Workflow) resolveDocument(doc *docparser.Document) (*docparser.Document, error) {
	if doc != nil {
		return doc, nil
	}
	if w.Document != nil {
		return w.Document, nil
	}
	return nil, diagnostic.WrapCause(
		fmt.Errorf("workflow has no parsed document to render"),
		diagnostic.CategoryValidation, "workflow::missing_document", "missing parsed document",
	)
}

// normalizeAndValidate runs the pipeline's first two stages: normalize, then
// validate against the Quill's compiled schema plus its card declarations.
// Validation errors (Severity Error) abort with an
// aggregated error; warnings ride along in the returned diagnostics.
func (w *Workflow) normalizeAndValidate(doc *docparser.Document) (prepared, error) {
	normalized, err := normalize.Document(doc.Fields)
	if err != nil {
		return prepared{}, err
	}

	var diags []diagnostic.Diagnostic
	if w.quill.CompiledSchema != nil {
		diags = append(diags, w.quill.CompiledSchema.Validate(normalized)...)
	}
	if w.cardsErr != nil {
		return prepared{}, w.cardsErr
	}
	if cardsField, ok := normalized.Get("CARDS"); ok && w.cards != nil {
		diags = append(diags, w.cards.ValidateCards(cardsField)...)
	}

	var fatal []diagnostic.Diagnostic
	for _, d := range diags {
		if d.Severity == diagnostic.SeverityError {
			fatal = append(fatal, d)
		}
	}
	if len(fatal) > 0 {
		return prepared{}, diagnostic.Aggregate(diagnostic.CategoryValidation, "workflow::validation_failed", fatal)
	}
	return prepared{fields: normalized, diags: diags}, nil
}

// DryRun runs parse (already done by the caller) + normalize + validate,
// stopping before transform/compile.
func (w *Workflow) DryRun(ctx context.Context, doc *docparser.Document) ([]diagnostic.Diagnostic, error) {
	resolved, err := w.resolveDocument(doc)
	if err != nil {
		return nil, err
	}
	p, err := w.normalizeAndValidate(resolved)
	if err != nil {
		return nil, err
	}
	return p.diags, nil
}

// Render runs the full pipeline: normalize, validate, transform, serialize,
// compose virtual tree, compile. format selects the output; omitted, it
// falls back to the backend's first supported format.
func (w *Workflow) Render(ctx context.Context, doc *docparser.Document, format ...quillspec.OutputFormat) (quillspec.RenderResult, error) {
	resolved, err := w.resolveDocument(doc)
	if err != nil {
		return quillspec.RenderResult{}, err
	}
	resolvedFormat, err := w.resolveFormat(format...)
	if err != nil {
		return quillspec.RenderResult{}, err
	}

	renderID := uuid.New().String()
	ctx = logging.ContextWithFields(ctx, map[string]any{
		"render_id": renderID,
		"quill":     w.quill.Name,
		"backend":   w.backend.ID(),
	})
	log := w.logger.WithContext(ctx)
	log.Info("render starting")

	p, err := w.normalizeAndValidate(resolved)
	if err != nil {
		log.Error("render failed validation", "error", err.Error())
		return quillspec.RenderResult{}, err
	}

	transformed, transformDiags, err := w.backend.TransformFields(ctx, p.fields, w.quill)
	if err != nil {
		log.Error("render failed transform", "error", err.Error())
		return quillspec.RenderResult{}, err
	}
	diags := append(p.diags, transformDiags...)

	data, err := transformed.MarshalJSON()
	if err != nil {
		return quillspec.RenderResult{}, diagnostic.WrapCause(err, diagnostic.CategoryTemplate, "workflow::serialize_failed", "failed to serialize fields")
	}

	tree, err := w.composeTree(data)
	if err != nil {
		return quillspec.RenderResult{}, err
	}

	req := quillspec.RenderRequest{
		Fields: transformed,
		Data:   data,
		Tree:   tree,
		Quill:  w.quill,
		Format: resolvedFormat,
	}
	result, err := w.backend.Compile(ctx, req)
	if err != nil {
		log.Error("render failed compile", "error", err.Error())
		return quillspec.RenderResult{}, diagnostic.WrapCause(err, diagnostic.CategoryCompilation, "backend::compile", "backend compilation failed")
	}
	result.Diagnostics = append(diags, result.Diagnostics...)
	result.OutputFormat = resolvedFormat
	log.Info("render complete", "artifacts", len(result.Artifacts))
	return result, nil
}

// resolveFormat picks the render's output format: an explicitly requested
// format must be one the backend supports, and an omitted one falls back to
// the backend's first supported format.
func (w *Workflow) resolveFormat(format ...quillspec.OutputFormat) (quillspec.OutputFormat, error) {
	supported := w.backend.SupportedFormats()
	if len(format) > 0 {
		for _, f := range supported {
			if f == format[0] {
				return format[0], nil
			}
		}
		return 0, diagnostic.WrapCause(
			fmt.Errorf("backend %q does not support output format %q", w.backend.ID(), format[0]),
			diagnostic.CategoryUnsupportedFormat, "workflow::unsupported_format", "unsupported output format",
		)
	}
	if len(supported) > 0 {
		return supported[0], nil
	}
	return quillspec.OutputOther, nil
}

// composeTree builds the combined virtual file tree a Backend.Compile call
// receives: the Quill's own files, the injected helper package (the render's
// canonical JSON at the backend's declared path), and this Workflow's
// dynamic assets/fonts under their well-known prefixes. Dynamic entries
// colliding with the Quill's own tree are a hard error.
func (w *Workflow) composeTree(data []byte) (quillspec.VirtualFileTree, error) {
	w.mu.Lock()
	assets := make(map[string][]byte, len(w.dynamicAssets))
	for k, v := range w.dynamicAssets {
		assets[AssetPrefix+k] = v
	}
	fonts := make(map[string][]byte, len(w.dynamicFonts))
	for k, v := range w.dynamicFonts {
		fonts[FontPrefix+k] = v
	}
	w.mu.Unlock()

	quillFiles, err := vfs.ReadAll(w.quill.Tree.FS())
	if err != nil {
		return quillspec.VirtualFileTree{}, err
	}
	helperFiles := map[string][]byte{w.backend.HelperPackagePath(): data}

	fsys, paths, err := vfs.Compose(
		vfs.CollisionIsError,
		vfs.Layer{Name: "quill", Files: quillFiles},
		vfs.Layer{Name: "helper", Files: helperFiles},
		vfs.Layer{Name: "assets", Files: assets},
		vfs.Layer{Name: "fonts", Files: fonts},
	)
	if err != nil {
		return quillspec.VirtualFileTree{}, err
	}
	return quillspec.NewVirtualFileTree(fsys, paths), nil
}
