// Package gologger backs the logging.Provider contract with
// github.com/goliatone/go-logger. Every logger it vends lives under the
// "quillmark" namespace, and WithContext folds the render-scoped fields the
// pipeline stamps on its context (render_id, quill, backend — see
// logging.ContextWithFields) into each subsequent entry, so one provider
// wired at engine construction gives correlated structured output for every
// render without the pipeline knowing which logging backend is behind it.
package gologger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/quillmark/internal/logging"
)

// Config captures the go-logger options the engine exposes.
type Config struct {
	// Level is the minimum level emitted: trace, debug, info, warn, error,
	// fatal. Empty keeps go-logger's default.
	Level string
	// Format selects the output encoder: "json" (default), "console", or
	// "pretty".
	Format string
	// AddSource annotates entries with the emitting source location.
	AddSource bool
	// Fields are stamped on every logger the provider vends, e.g. a service
	// or deployment name.
	Fields map[string]any
}

var levels = map[string]string{
	"trace":   glog.Trace,
	"debug":   glog.Debug,
	"info":    glog.Info,
	"warn":    glog.Warn,
	"warning": glog.Warn,
	"error":   glog.Error,
	"fatal":   glog.Fatal,
}

// Provider vends quillmark-scoped loggers backed by a shared go-logger root.
type Provider struct {
	root *glog.BaseLogger
	base map[string]any
}

// NewProvider builds a Provider from cfg, rejecting unknown levels and
// formats rather than silently falling back.
func NewProvider(cfg Config) (*Provider, error) {
	opts := []glog.Option{}

	if raw := strings.ToLower(strings.TrimSpace(cfg.Level)); raw != "" {
		level, ok := levels[raw]
		if !ok {
			return nil, fmt.Errorf("gologger: unknown level %q", cfg.Level)
		}
		opts = append(opts, glog.WithLevel(level))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		opts = append(opts, glog.WithLoggerTypeJSON())
	case "console":
		opts = append(opts, glog.WithLoggerTypeConsole())
	case "pretty":
		opts = append(opts, glog.WithLoggerTypePretty())
	default:
		return nil, fmt.Errorf("gologger: unsupported format %q", cfg.Format)
	}

	if cfg.AddSource {
		opts = append(opts, glog.WithAddSource(true))
	}

	return &Provider{root: glog.NewLogger(opts...), base: cfg.Fields}, nil
}

// GetLogger satisfies logging.Provider. A bare stage name ("workflow") is
// scoped under the quillmark namespace; already-scoped names pass through.
func (p *Provider) GetLogger(module string) logging.Logger {
	if p == nil || p.root == nil {
		return logging.NoOp()
	}
	module = strings.TrimSpace(module)
	switch {
	case module == "":
		module = "quillmark"
	case !strings.HasPrefix(module, "quillmark"):
		module = "quillmark." + module
	}
	log := &adapter{inner: p.root.GetLogger(module)}
	if len(p.base) > 0 {
		return log.WithFields(p.base)
	}
	return log
}

// adapter bridges one go-logger child logger to the logging.Logger contract.
type adapter struct {
	inner glog.Logger
}

func (l *adapter) Trace(msg string, args ...any) { l.inner.Trace(msg, args...) }
func (l *adapter) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *adapter) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *adapter) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *adapter) Error(msg string, args ...any) { l.inner.Error(msg, args...) }
func (l *adapter) Fatal(msg string, args ...any) { l.inner.Fatal(msg, args...) }

// WithContext folds the pipeline's context-carried fields (render_id,
// quill, backend) into the logger, so every entry a render emits is
// correlated without each call site repeating them.
func (l *adapter) WithContext(ctx context.Context) logging.Logger {
	if ctx == nil {
		return l
	}
	next := &adapter{inner: l.inner.WithContext(ctx)}
	if fields := logging.ContextFields(ctx); len(fields) > 0 {
		return next.WithFields(fields)
	}
	return next
}

// WithFields satisfies logging.FieldsLogger, preferring go-logger's own
// structured-fields support and degrading to sorted key/value args when the
// child logger doesn't expose it.
func (l *adapter) WithFields(fields map[string]any) logging.Logger {
	if len(fields) == 0 {
		return l
	}
	if fl, ok := l.inner.(glog.FieldsLogger); ok {
		copied := make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		return &adapter{inner: fl.WithFields(copied)}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	if with, ok := l.inner.(interface{ With(...any) *glog.BaseLogger }); ok {
		return &adapter{inner: with.With(args...)}
	}
	return l
}
