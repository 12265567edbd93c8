package vfs

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/quillmark/pkg/diagnostic"
)

func TestValidatePathAcceptsRelativeNested(t *testing.T) {
	out, err := ValidatePath("assets/logo.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "assets/logo.png" {
		t.Fatalf("got %q", out)
	}
}

func TestValidatePathRejectsEmpty(t *testing.T) {
	if _, err := ValidatePath(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestValidatePathRejectsAbsolute(t *testing.T) {
	if _, err := ValidatePath("/etc/passwd"); err == nil {
		t.Fatalf("expected error for absolute path")
	}
}

func TestValidatePathRejectsBackslash(t *testing.T) {
	if _, err := ValidatePath("assets\\logo.png"); err == nil {
		t.Fatalf("expected error for backslash separator")
	}
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	cases := []string{"../etc/passwd", "assets/../../etc", "./x", "a/./b"}
	for _, c := range cases {
		if _, err := ValidatePath(c); err == nil {
			t.Fatalf("expected traversal error for %q", c)
		}
	}
}

func TestValidatePathRejectsEmptySegment(t *testing.T) {
	if _, err := ValidatePath("assets//logo.png"); err == nil {
		t.Fatalf("expected error for empty path segment")
	}
}

func TestComposeLastWriterWins(t *testing.T) {
	base := Layer{Name: "quill", Files: map[string][]byte{"plate.typ": []byte("base")}}
	override := Layer{Name: "helper", Files: map[string][]byte{"plate.typ": []byte("override")}}
	fsys, paths, err := Compose(CollisionLastWriterWins, base, override)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 || paths[0] != "plate.typ" {
		t.Fatalf("got paths=%v", paths)
	}
	data, err := ReadAll(fsys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data["plate.typ"]) != "override" {
		t.Fatalf("expected later layer to win, got %q", data["plate.typ"])
	}
}

func TestComposeCollisionIsErrorForAssets(t *testing.T) {
	quill := Layer{Name: "quill", Files: map[string][]byte{"assets/logo.png": []byte("a")}}
	dynamic := Layer{Name: "dynamic-asset", Files: map[string][]byte{"assets/logo.png": []byte("b")}}
	_, _, err := Compose(CollisionIsError, quill, dynamic)
	if err == nil {
		t.Fatalf("expected collision error")
	}
	if !goerrors.IsCategory(err, diagnostic.CategoryAssetCollision) {
		t.Fatalf("expected asset-collision category, got %v", err)
	}
}

func TestComposeCollisionIsErrorForFonts(t *testing.T) {
	quill := Layer{Name: "quill", Files: map[string][]byte{"fonts/Body.ttf": []byte("a")}}
	dynamic := Layer{Name: "dynamic-font", Files: map[string][]byte{"fonts/Body.ttf": []byte("b")}}
	_, _, err := Compose(CollisionIsError, quill, dynamic)
	if err == nil {
		t.Fatalf("expected collision error")
	}
	if !goerrors.IsCategory(err, diagnostic.CategoryFontCollision) {
		t.Fatalf("expected font-collision category, got %v", err)
	}
}

func TestComposeSortsPathsDeterministically(t *testing.T) {
	layer := Layer{Name: "quill", Files: map[string][]byte{
		"z.txt": []byte("z"), "a.txt": []byte("a"), "m/n.txt": []byte("n"),
	}}
	_, paths, err := Compose(CollisionLastWriterWins, layer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a.txt", "m/n.txt", "z.txt"}
	if len(paths) != len(want) {
		t.Fatalf("got %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("got %v, want %v", paths, want)
		}
	}
}

func TestReadAllRoundTripsFromCompose(t *testing.T) {
	layer := Layer{Name: "quill", Files: map[string][]byte{"a.txt": []byte("hello")}}
	fsys, _, err := Compose(CollisionLastWriterWins, layer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := ReadAll(fsys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data["a.txt"]) != "hello" {
		t.Fatalf("got %q", data["a.txt"])
	}
}
