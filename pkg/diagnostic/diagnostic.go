// Package diagnostic defines the structured error/warning shape shared by
// every stage of the rendering pipeline, along with the error-category
// taxonomy used to classify failures.
package diagnostic

import (
	"encoding/json"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Severity classifies how serious a Diagnostic is.
type Severity int

const (
	// SeverityError marks a failure that aborts the current operation.
	SeverityError Severity = iota
	// SeverityWarning marks a non-fatal condition surfaced alongside a result.
	SeverityWarning
	// SeverityNote marks informational context attached to another Diagnostic.
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the severity's string form, the shape language bindings
// exchange.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Location is a 1-based position into a user document or a plate source.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// Diagnostic is the structured, user-facing shape for every error and
// warning the engine produces.
type Diagnostic struct {
	Severity    Severity  `json:"severity"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message"`
	Primary     *Location `json:"primary,omitempty"`
	Hint        string    `json:"hint,omitempty"`
	SourceChain []string  `json:"source_chain,omitempty"`
}

func (d Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(d.Severity.String())
	if d.Code != "" {
		b.WriteString(" [" + d.Code + "]")
	}
	b.WriteString(": " + d.Message)
	if d.Primary != nil {
		fmt.Fprintf(&b, " (%s:%d:%d)", d.Primary.File, d.Primary.Line, d.Primary.Col)
	}
	return b.String()
}

// Category values classify every failure the engine produces. Each is a
// distinct goerrors.Category so callers can classify failures with
// goerrors.IsCategory without string comparisons.
const (
	CategoryParse             goerrors.Category = "quillmark.parse"
	CategoryValidation        goerrors.Category = "quillmark.validation"
	CategoryTemplate          goerrors.Category = "quillmark.template"
	CategoryCompilation       goerrors.Category = "quillmark.compilation"
	CategoryQuillNotFound     goerrors.Category = "quillmark.quill_not_found"
	CategoryVersionNotFound   goerrors.Category = "quillmark.version_not_found"
	CategoryQuillCollision    goerrors.Category = "quillmark.quill_collision"
	CategoryQuillValidation   goerrors.Category = "quillmark.quill_validation"
	CategoryUnsupportedFormat goerrors.Category = "quillmark.unsupported_format"
	CategoryAssetCollision    goerrors.Category = "quillmark.asset_collision"
	CategoryFontCollision     goerrors.Category = "quillmark.font_collision"
	CategoryOther             goerrors.Category = "quillmark.other"
)

// Wrap builds a category-tagged, coded error from a message via the
// goliatone/go-errors chain
// (goerrors.Wrap(cause, category, message).WithTextCode(code)).
func Wrap(category goerrors.Category, code, message string) error {
	return goerrors.Wrap(fmt.Errorf("%s", message), category, message).WithTextCode(code)
}

// WrapCause attaches category/code metadata to an existing error, preserving
// it as the underlying cause.
func WrapCause(cause error, category goerrors.Category, code, message string) error {
	if cause == nil {
		return Wrap(category, code, message)
	}
	return goerrors.Wrap(cause, category, message).WithTextCode(code)
}

// FromError adapts any error into a single-severity Diagnostic. A Diagnostic
// or *Diagnostic passes through unchanged; any other error becomes an
// error-severity Diagnostic whose Message is err.Error() and whose Code is
// empty (a category or text code attached to err is not carried over).
func FromError(err error) Diagnostic {
	if err == nil {
		return Diagnostic{}
	}
	if d, ok := err.(Diagnostic); ok {
		return d
	}
	if d, ok := err.(*Diagnostic); ok && d != nil {
		return *d
	}
	return Diagnostic{
		Severity: SeverityError,
		Message:  err.Error(),
	}
}

// Aggregate renders a set of Diagnostics into a single error value, used by
// dry_run and validation failures that must surface every issue at once.
func Aggregate(category goerrors.Category, code string, diags []Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	messages := make([]string, 0, len(diags))
	for _, d := range diags {
		messages = append(messages, d.Error())
	}
	return WrapCause(fmt.Errorf("%s", strings.Join(messages, "; ")), category, code, fmt.Sprintf("%d diagnostic(s)", len(diags)))
}
