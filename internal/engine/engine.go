// Package engine implements the rendering engine's core: the long-lived
// registry of backends and Quills, and the entry point that resolves a
// name, reference, concrete Quill, or already-parsed document into a
// ready-to-run Workflow.
package engine

import (
	"fmt"
	"sync"

	"github.com/goliatone/quillmark/internal/backendreg"
	"github.com/goliatone/quillmark/internal/docparser"
	"github.com/goliatone/quillmark/internal/logging"
	"github.com/goliatone/quillmark/internal/version"
	"github.com/goliatone/quillmark/internal/workflow"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/quillspec"
)

// Engine owns every registered Backend and every registered Quill version,
// guarded by one RWMutex since registration is expected to be rare relative
// to render throughput.
type Engine struct {
	mu       sync.RWMutex
	backends *backendreg.Registry
	quills   map[string]*version.Set[quillspec.Quill]
	// defaultRef is the fallback reference used when a document declares no
	// QUILL tag of its own; nil means documents must carry their own.
	defaultRef *version.Reference

	// logs is the structured-logging provider inherited by every Workflow
	// this engine creates; log is the engine's own scoped logger.
	logs logging.Provider
	log  logging.Logger
}

// New constructs an empty engine.
func New() *Engine {
	return &Engine{
		backends: backendreg.New(),
		quills:   map[string]*version.Set[quillspec.Quill]{},
		log:      logging.NoOp(),
	}
}

// SetLogProvider attaches a structured-logging provider. The engine logs
// registrations through it and every Workflow created afterwards inherits it.
func (e *Engine) SetLogProvider(p logging.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = p
	e.log = logging.EngineLogger(p)
}

// RegisterBackend adds or replaces a backend under its own ID(); a
// duplicate ID silently replaces the prior registration.
func (e *Engine) RegisterBackend(b quillspec.Backend) {
	e.backends.Register(b)
	e.mu.RLock()
	log := e.log
	e.mu.RUnlock()
	log.Debug("backend registered", "backend", b.ID())
}

// RegisterQuill adds a Quill version to its named set, rejecting the
// reserved 0.0 version and a version collision within the same name.
func (e *Engine) RegisterQuill(q quillspec.Quill) error {
	if q.Version.Major == 0 && q.Version.Minor == 0 {
		return diagnostic.WrapCause(
			fmt.Errorf("quill %q: version 0.0 is reserved and cannot be registered", q.Name),
			diagnostic.CategoryQuillValidation, "engine::reserved_version", "reserved quill version",
		)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.quills[q.Name]
	if !ok {
		set = version.NewSet[quillspec.Quill](q.Name)
		e.quills[q.Name] = set
	}
	if err := set.Insert(q.Version, q); err != nil {
		return err
	}
	e.log.Info("quill registered", "quill", q.Name, "version", q.Version.String(), "backend", q.BackendID)
	return nil
}

// UnregisterQuill removes a named Quill and every version registered under
// it.
func (e *Engine) UnregisterQuill(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.quills[name]; !ok {
		return quillNotFound(name)
	}
	delete(e.quills, name)
	return nil
}

// GetQuill resolves a reference against the registry.
func (e *Engine) GetQuill(ref version.Reference) (quillspec.Quill, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.quills[ref.Name]
	if !ok {
		return quillspec.Quill{}, quillNotFound(ref.Name)
	}
	_, q, err := set.Resolve(ref.Selector)
	return q, err
}

// ListQuills lists every registered Quill name.
func (e *Engine) ListQuills() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.quills))
	for name := range e.quills {
		out = append(out, name)
	}
	return out
}

// ListVersions lists every registered version of a named Quill.
func (e *Engine) ListVersions(name string) ([]version.Version, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.quills[name]
	if !ok {
		return nil, quillNotFound(name)
	}
	return set.Sorted(), nil
}

// ListBackends lists every registered backend ID.
func (e *Engine) ListBackends() []string {
	return e.backends.IDs()
}

func (e *Engine) backendFor(q quillspec.Quill) (quillspec.Backend, error) {
	b, ok := e.backends.Get(q.BackendID)
	if !ok {
		return nil, diagnostic.WrapCause(
			fmt.Errorf("quill %q requires backend %q, which is not registered", q.Name, q.BackendID),
			diagnostic.CategoryOther, "engine::backend_not_registered", "backend not registered",
		)
	}
	return b, nil
}

// WorkflowForName starts a Workflow against a Quill's latest version.
func (e *Engine) WorkflowForName(name string) (*workflow.Workflow, error) {
	return e.WorkflowForReference(version.Reference{Name: name, Selector: version.Selector{Kind: version.SelectorLatest}})
}

// WorkflowForReference starts a Workflow by resolving an explicit reference.
func (e *Engine) WorkflowForReference(ref version.Reference) (*workflow.Workflow, error) {
	q, err := e.GetQuill(ref)
	if err != nil {
		return nil, err
	}
	return e.WorkflowForQuill(q)
}

// WorkflowForQuill starts a Workflow from an already-resolved Quill,
// skipping the name/version registry lookup (used when a caller already
// holds the Quill, e.g. one returned by GetQuill). The Workflow inherits the
// engine's logging provider.
func (e *Engine) WorkflowForQuill(q quillspec.Quill) (*workflow.Workflow, error) {
	backend, err := e.backendFor(q)
	if err != nil {
		return nil, err
	}
	wf := workflow.New(q, backend)
	e.mu.RLock()
	p := e.logs
	e.mu.RUnlock()
	if p != nil {
		wf.WithProvider(p)
	}
	return wf, nil
}

// SetDefaultQuill registers the fallback reference used when a document
// declares no QUILL tag of its own.
func (e *Engine) SetDefaultQuill(ref version.Reference) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultRef = &ref
}

// ClearDefaultQuill removes the fallback reference; documents must then
// carry their own QUILL tag.
func (e *Engine) ClearDefaultQuill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultRef = nil
}

// WorkflowForDocument starts a Workflow using a parsed document's own QUILL
// tag, falling back to the engine's registered default when the document
// declares none.
func (e *Engine) WorkflowForDocument(doc *docparser.Document) (*workflow.Workflow, error) {
	ref := doc.Quill
	if ref == nil {
		e.mu.RLock()
		ref = e.defaultRef
		e.mu.RUnlock()
	}
	if ref == nil {
		return nil, diagnostic.WrapCause(
			fmt.Errorf("document declares no QUILL reference and no default is registered"),
			diagnostic.CategoryQuillNotFound, "engine::missing_quill_reference", "missing quill reference",
		)
	}
	wf, err := e.WorkflowForReference(*ref)
	if err != nil {
		return nil, err
	}
	wf.Document = doc
	return wf, nil
}

func quillNotFound(name string) error {
	return diagnostic.WrapCause(
		fmt.Errorf("quill %q is not registered", name),
		diagnostic.CategoryQuillNotFound, "engine::quill_not_found", "quill not found",
	)
}
