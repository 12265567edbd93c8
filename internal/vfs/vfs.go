// Package vfs implements the sandboxed virtual file tree a Quill and its
// dynamic render-time assets present to a Backend: path validation, an
// in-memory fs.FS, and layered composition of a Quill's own files with
// injected helper files and per-render dynamic assets/fonts. The overlay
// behavior needed here is a flat map merge, which testing/fstest.MapFS
// already provides, so the composition is built directly on io/fs.
package vfs

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"testing/fstest"

	"golang.org/x/text/unicode/norm"

	"github.com/goliatone/quillmark/pkg/diagnostic"
)

// ValidatePath enforces the sandbox's path grammar: POSIX-style, relative,
// NFC-normalized, with no ".." traversal and no empty segments.
func ValidatePath(p string) (string, error) {
	if p == "" {
		return "", pathErr(p, "empty path")
	}
	normalized := norm.NFC.String(p)
	if strings.HasPrefix(normalized, "/") {
		return "", pathErr(p, "absolute paths are not allowed")
	}
	if strings.Contains(normalized, "\\") {
		return "", pathErr(p, "path separators must be '/'")
	}
	for _, seg := range strings.Split(normalized, "/") {
		if seg == "" {
			return "", pathErr(p, "empty path segment")
		}
		if seg == "." || seg == ".." {
			return "", pathErr(p, "path traversal is not allowed")
		}
	}
	return normalized, nil
}

func pathErr(p, reason string) error {
	return diagnostic.WrapCause(
		fmt.Errorf("invalid virtual path %q: %s", p, reason),
		diagnostic.CategoryValidation, "vfs::invalid_path", "invalid virtual path",
	)
}

// Layer is one named source of files composed into a virtual tree: a
// Quill's own files, an injected template-helper package, or a render's
// dynamic assets/fonts. Later layers in a Compose call win on path
// collision, except where Compose is told to treat a collision as an error
// (asset/font collisions).
type Layer struct {
	Name  string
	Files map[string][]byte
}

// CollisionPolicy controls what Compose does when two layers declare the
// same path.
type CollisionPolicy int

const (
	// CollisionLastWriterWins lets a later layer silently override an
	// earlier one's file at the same path.
	CollisionLastWriterWins CollisionPolicy = iota
	// CollisionIsError reports a collision as a diagnostic.Category error,
	// used for dynamically injected assets/fonts which must not shadow a
	// Quill's own declared files.
	CollisionIsError
)

// Compose layers filesystems in order, producing one fs.FS plus a
// deterministically sorted path listing. policy governs path collisions
// between layers after the first.
func Compose(policy CollisionPolicy, layers ...Layer) (fs.FS, []string, error) {
	merged := fstest.MapFS{}
	owner := map[string]string{}

	for _, layer := range layers {
		for rawPath, content := range layer.Files {
			cleanPath, err := ValidatePath(rawPath)
			if err != nil {
				return nil, nil, err
			}
			if prevOwner, exists := owner[cleanPath]; exists && policy == CollisionIsError {
				category := diagnostic.CategoryAssetCollision
				if isFontPath(cleanPath) {
					category = diagnostic.CategoryFontCollision
				}
				return nil, nil, diagnostic.WrapCause(
					fmt.Errorf("path %q is declared by both %q and %q", cleanPath, prevOwner, layer.Name),
					category, "vfs::collision", "virtual path collision",
				)
			}
			merged[cleanPath] = &fstest.MapFile{Data: content}
			owner[cleanPath] = layer.Name
		}
	}

	paths := make([]string, 0, len(merged))
	for p := range merged {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return merged, paths, nil
}

func isFontPath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".ttf", ".otf", ".woff", ".woff2":
		return true
	default:
		return false
	}
}

// ReadAll reads an fs.FS's full contents into a flat map; the workflow uses
// it to flatten a Quill's tree before composing the tree for a backend.
func ReadAll(fsys fs.FS) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, rerr := fs.ReadFile(fsys, p)
		if rerr != nil {
			return rerr
		}
		out[p] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
