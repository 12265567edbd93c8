// Package version implements the Quill version engine: parsing a
// "name@selector" reference, storing multiple versions per Quill name in a
// sorted set, and resolving a selector (exact, major, latest) to a concrete
// version under the two-component MAJOR.MINOR scheme.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/quillmark/pkg/diagnostic"
)

var namePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Version identifies a Quill revision. Ordering is lexicographic on
// (Major, Minor).
type Version struct {
	Major uint32
	Minor uint32
}

// String renders "MAJOR.MINOR".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// ParseVersion parses a strict "MAJOR.MINOR" string. A bare version string
// of "0.0" is syntactically valid here and only forbidden when registering
// a Quill.
func ParseVersion(value string) (Version, error) {
	trimmed := strings.TrimSpace(value)
	parts := strings.Split(trimmed, ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("%w: %q", errInvalidVersion, value)
	}
	major, err := parseU32(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", errInvalidVersion, value)
	}
	minor, err := parseU32(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", errInvalidVersion, value)
	}
	return Version{Major: major, Minor: minor}, nil
}

func parseU32(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty component")
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

var errInvalidVersion = fmt.Errorf("version: invalid MAJOR.MINOR string")

// SelectorKind discriminates a VersionSelector's shape.
type SelectorKind int

const (
	SelectorLatest SelectorKind = iota
	SelectorMajor
	SelectorExact
)

// Selector is the sum Exact(major,minor) | Major(major) | Latest.
type Selector struct {
	Kind  SelectorKind
	Major uint32
	Minor uint32
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectorExact:
		return fmt.Sprintf("%d.%d", s.Major, s.Minor)
	case SelectorMajor:
		return fmt.Sprintf("%d", s.Major)
	default:
		return "latest"
	}
}

// Reference is a parsed QUILL value: a Quill name plus a version selector.
type Reference struct {
	Name     string
	Selector Selector
}

// String renders the canonical "name" or "name@selector" form, so
// ParseReference(r.String()) round-trips.
func (r Reference) String() string {
	if r.Selector.Kind == SelectorLatest {
		return r.Name
	}
	return r.Name + "@" + r.Selector.String()
}

var selectorExact = regexp.MustCompile(`^(\d+)\.(\d+)$`)
var selectorMajor = regexp.MustCompile(`^(\d+)$`)

// ParseReference parses "<name>" or "<name>@<selector>".
func ParseReference(value string) (Reference, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Reference{}, quillTagErr(value, "empty reference")
	}

	name := trimmed
	selectorRaw := ""
	hasSelector := false
	if idx := strings.IndexByte(trimmed, '@'); idx >= 0 {
		name = trimmed[:idx]
		selectorRaw = trimmed[idx+1:]
		hasSelector = true
	}

	if !namePattern.MatchString(name) || len(name) > 64 {
		return Reference{}, quillTagErr(value, "invalid quill name")
	}

	if !hasSelector {
		return Reference{Name: name, Selector: Selector{Kind: SelectorLatest}}, nil
	}

	if selectorRaw == "latest" {
		return Reference{Name: name, Selector: Selector{Kind: SelectorLatest}}, nil
	}
	if m := selectorExact.FindStringSubmatch(selectorRaw); m != nil {
		major, err1 := parseU32(m[1])
		minor, err2 := parseU32(m[2])
		if err1 != nil || err2 != nil {
			return Reference{}, quillTagErr(value, "selector out of range")
		}
		return Reference{Name: name, Selector: Selector{Kind: SelectorExact, Major: major, Minor: minor}}, nil
	}
	if m := selectorMajor.FindStringSubmatch(selectorRaw); m != nil {
		major, err := parseU32(m[1])
		if err != nil {
			return Reference{}, quillTagErr(value, "selector out of range")
		}
		return Reference{Name: name, Selector: Selector{Kind: SelectorMajor, Major: major}}, nil
	}
	return Reference{}, quillTagErr(value, "unrecognised selector")
}

// TagError is returned by ParseReference; it carries the offending tag and
// reason so callers can surface ParseError::InvalidQuillTag(tag, reason).
type TagError struct {
	Tag    string
	Reason string
}

func (e *TagError) Error() string {
	return fmt.Sprintf("invalid quill tag %q: %s", e.Tag, e.Reason)
}

func quillTagErr(tag, reason string) error {
	base := &TagError{Tag: tag, Reason: reason}
	return diagnostic.WrapCause(base, diagnostic.CategoryParse, "parser::quill_tag_invalid", "invalid QUILL tag")
}

// Set stores every registered version of one named Quill, keyed by Version,
// with the invariant that it is never empty once a version has been
// inserted and no Version key repeats.
type Set[T any] struct {
	name     string
	versions map[Version]T
}

// NewSet constructs an empty set for the given Quill name.
func NewSet[T any](name string) *Set[T] {
	return &Set[T]{name: name, versions: map[Version]T{}}
}

// Name returns the Quill name this set tracks.
func (s *Set[T]) Name() string { return s.name }

// Insert adds a version, failing if the version is already registered.
func (s *Set[T]) Insert(v Version, value T) error {
	if _, exists := s.versions[v]; exists {
		return diagnostic.WrapCause(
			fmt.Errorf("quill %q already has version %s registered", s.name, v),
			diagnostic.CategoryQuillCollision, "engine::quill_collision", "duplicate quill registration",
		)
	}
	s.versions[v] = value
	return nil
}

// Len reports how many versions are registered.
func (s *Set[T]) Len() int { return len(s.versions) }

// Sorted returns every registered Version in ascending order.
func (s *Set[T]) Sorted() []Version {
	out := make([]Version, 0, len(s.versions))
	for v := range s.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Get fetches the value stored at an exact version.
func (s *Set[T]) Get(v Version) (T, bool) {
	val, ok := s.versions[v]
	return val, ok
}

// Remove deletes one version, reporting whether it was present.
func (s *Set[T]) Remove(v Version) bool {
	if _, ok := s.versions[v]; !ok {
		return false
	}
	delete(s.versions, v)
	return true
}

// Resolve applies a Selector against the set:
//   - Exact(M,m): lookup (M,m); miss -> VersionNotFound.
//   - Major(M): highest minor whose major == M; miss -> VersionNotFound.
//   - Latest: highest version overall (guaranteed to exist for a non-empty set).
func (s *Set[T]) Resolve(sel Selector) (Version, T, error) {
	var zero T
	sorted := s.Sorted()
	if len(sorted) == 0 {
		return Version{}, zero, versionNotFound(s.name, sel, nil)
	}

	switch sel.Kind {
	case SelectorExact:
		v := Version{Major: sel.Major, Minor: sel.Minor}
		val, ok := s.versions[v]
		if !ok {
			return Version{}, zero, versionNotFound(s.name, sel, sorted)
		}
		return v, val, nil
	case SelectorMajor:
		for i := len(sorted) - 1; i >= 0; i-- {
			if sorted[i].Major == sel.Major {
				return sorted[i], s.versions[sorted[i]], nil
			}
		}
		return Version{}, zero, versionNotFound(s.name, sel, sorted)
	default: // SelectorLatest
		top := sorted[len(sorted)-1]
		return top, s.versions[top], nil
	}
}

// NotFoundError reports that a name exists but the selector couldn't be
// satisfied, listing the versions that were available.
type NotFoundError struct {
	Name      string
	Selector  Selector
	Available []Version
}

func (e *NotFoundError) Error() string {
	avail := make([]string, len(e.Available))
	for i, v := range e.Available {
		avail[i] = v.String()
	}
	return fmt.Sprintf("quill %q has no version matching %q (available: %s)", e.Name, e.Selector, strings.Join(avail, ", "))
}

func versionNotFound(name string, sel Selector, available []Version) error {
	base := &NotFoundError{Name: name, Selector: sel, Available: available}
	return diagnostic.WrapCause(base, diagnostic.CategoryVersionNotFound, "engine::version_not_found", "version not found")
}
