// Package quillload builds a quillspec.Quill from a raw virtual file tree:
// locating and decoding its manifest (Quill.toml or Quill.yaml), building
// its declared field schemas, and validating the result. Manifests are
// commonly authored in TOML, with YAML as the alternative; manifest-field
// validation collects an ozzo-validation error map keyed by field name
// rather than failing on the first invalid field.
package quillload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/quillmark/internal/schemaengine"
	"github.com/goliatone/quillmark/internal/version"
	"github.com/goliatone/quillmark/internal/vfs"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/quillspec"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

var namePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// manifestFieldDecl mirrors one [[fields]] table entry in Quill.toml/.yaml.
type manifestFieldDecl struct {
	Name        string              `toml:"name" yaml:"name"`
	Type        string              `toml:"type" yaml:"type"`
	Title       string              `toml:"title" yaml:"title"`
	Required    bool                `toml:"required" yaml:"required"`
	Default     any                 `toml:"default" yaml:"default"`
	Examples    []any               `toml:"examples" yaml:"examples"`
	Description string              `toml:"description" yaml:"description"`
	Pattern     string              `toml:"pattern" yaml:"pattern"`
	Enum        []any               `toml:"enum" yaml:"enum"`
	MinItems    *int                `toml:"min_items" yaml:"min_items"`
	MaxItems    *int                `toml:"max_items" yaml:"max_items"`
	UISchema    map[string]any      `toml:"ui" yaml:"ui"`
	QuillType   string              `toml:"quill_type" yaml:"quill_type"`
	Items       *manifestFieldDecl  `toml:"items" yaml:"items"`
	Properties  []manifestFieldDecl `toml:"properties" yaml:"properties"`
}

// manifestCardDecl mirrors one [[cards]] table entry: a declared
// `cards.<tag-name>` discriminated-union member.
type manifestCardDecl struct {
	Tag         string              `toml:"tag" yaml:"tag"`
	Title       string              `toml:"title" yaml:"title"`
	Description string              `toml:"description" yaml:"description"`
	Fields      []manifestFieldDecl `toml:"fields" yaml:"fields"`
}

type manifest struct {
	Name        string              `toml:"name" yaml:"name"`
	Version     string              `toml:"version" yaml:"version"`
	Backend     string              `toml:"backend" yaml:"backend"`
	Description string              `toml:"description" yaml:"description"`
	Author      string              `toml:"author" yaml:"author"`
	PlateFile   string              `toml:"plate_file" yaml:"plate_file"`
	ExampleFile string              `toml:"example_file" yaml:"example_file"`
	Fields      []manifestFieldDecl `toml:"fields" yaml:"fields"`
	Cards       []manifestCardDecl  `toml:"cards" yaml:"cards"`
	Metadata    map[string]any      `toml:"metadata" yaml:"metadata"`
}

// Validate implements ozzo-validation's Validatable: build an Errors map
// keyed by field name rather than returning on the first failure.
func (m manifest) Validate() error {
	errs := validation.Errors{}
	if m.Name == "" {
		errs["name"] = validation.NewError("quillmark.manifest.name_required", "name is required")
	} else if !namePattern.MatchString(m.Name) {
		errs["name"] = validation.NewError("quillmark.manifest.name_invalid", "name must match [a-z_][a-z0-9_]*")
	}
	if m.Version == "" {
		errs["version"] = validation.NewError("quillmark.manifest.version_required", "version is required")
	} else if _, err := version.ParseVersion(m.Version); err != nil {
		errs["version"] = validation.NewError("quillmark.manifest.version_invalid", "version must be MAJOR.MINOR")
	}
	if m.Backend == "" {
		errs["backend"] = validation.NewError("quillmark.manifest.backend_required", "backend is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

const (
	manifestTOMLPath = "Quill.toml"
	manifestYAMLPath = "Quill.yaml"
)

// Load constructs a Quill from a flat file map (path -> bytes), locating the
// manifest, decoding it, resolving field schemas, and validating that the
// declared plate file is present in the tree.
func Load(files map[string][]byte) (quillspec.Quill, error) {
	return loadWithDefaults(files, "")
}

// loadWithDefaults is Load with the exchange tree's reserved name default
// applied when the manifest omits its own.
func loadWithDefaults(files map[string][]byte, defaultName string) (quillspec.Quill, error) {
	m, err := readManifest(files)
	if err != nil {
		return quillspec.Quill{}, err
	}
	if m.Name == "" && defaultName != "" {
		m.Name = defaultName
	}
	if err := m.Validate(); err != nil {
		return quillspec.Quill{}, wrapManifestError(err)
	}

	v, err := version.ParseVersion(m.Version)
	if err != nil {
		return quillspec.Quill{}, wrapManifestError(err)
	}

	platePath := m.PlateFile
	if platePath == "" {
		platePath, err = defaultPlateFile(files, m.Backend)
		if err != nil {
			return quillspec.Quill{}, err
		}
	}
	cleanPlate, err := vfs.ValidatePath(platePath)
	if err != nil {
		return quillspec.Quill{}, err
	}
	if _, ok := files[cleanPlate]; !ok {
		return quillspec.Quill{}, diagnostic.WrapCause(
			fmt.Errorf("plate file %q not present in quill tree", cleanPlate),
			diagnostic.CategoryQuillValidation, "quillload::missing_plate", "missing plate file",
		)
	}

	if err := validateAssetLeaves(files); err != nil {
		return quillspec.Quill{}, err
	}

	fsys, paths, err := vfs.Compose(vfs.CollisionLastWriterWins, vfs.Layer{Name: "quill", Files: files})
	if err != nil {
		return quillspec.Quill{}, err
	}

	fields := make([]schemaengine.FieldSchema, 0, len(m.Fields))
	for _, fd := range m.Fields {
		field, err := toFieldSchema(fd)
		if err != nil {
			return quillspec.Quill{}, err
		}
		fields = append(fields, field)
	}
	if err := checkReservedFieldNames(fields); err != nil {
		return quillspec.Quill{}, err
	}

	cards := make([]schemaengine.CardSchema, 0, len(m.Cards))
	for _, cd := range m.Cards {
		card, err := toCardSchema(cd)
		if err != nil {
			return quillspec.Quill{}, err
		}
		if isReservedName(card.Tag) {
			return quillspec.Quill{}, reservedNameErr("card tag", card.Tag)
		}
		if err := checkReservedFieldNames(card.Fields); err != nil {
			return quillspec.Quill{}, err
		}
		cards = append(cards, card)
	}

	doc, err := schemaengine.Compile(fields)
	if err != nil {
		return quillspec.Quill{}, err
	}
	compiled, err := schemaengine.CompileSchema(doc)
	if err != nil {
		return quillspec.Quill{}, err
	}

	var exampleMarkdown string
	if m.ExampleFile != "" {
		cleanExample, err := vfs.ValidatePath(m.ExampleFile)
		if err != nil {
			return quillspec.Quill{}, err
		}
		data, ok := files[cleanExample]
		if !ok {
			return quillspec.Quill{}, diagnostic.WrapCause(
				fmt.Errorf("example file %q not present in quill tree", cleanExample),
				diagnostic.CategoryQuillValidation, "quillload::missing_example_file", "missing example file",
			)
		}
		exampleMarkdown = string(data)
	}

	metadata := map[string]any{}
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	if m.Description != "" {
		metadata["description"] = m.Description
	}
	if m.Author != "" {
		metadata["author"] = m.Author
	}

	return quillspec.Quill{
		Name:            m.Name,
		Version:         v,
		BackendID:       m.Backend,
		Description:     m.Description,
		PlateFile:       cleanPlate,
		Fields:          fields,
		Cards:           cards,
		Tree:            quillspec.NewVirtualFileTree(fsys, paths),
		CompiledSchema:  compiled,
		Defaults:        schemaengine.ExtractDefaults(fields),
		Examples:        schemaengine.ExtractExamples(fields),
		Metadata:        metadata,
		ExampleMarkdown: exampleMarkdown,
	}, nil
}

func toFieldSchema(fd manifestFieldDecl) (schemaengine.FieldSchema, error) {
	out := schemaengine.FieldSchema{
		Name:        fd.Name,
		Type:        fd.Type,
		Title:       fd.Title,
		Required:    fd.Required,
		Description: fd.Description,
		Pattern:     fd.Pattern,
		MinItems:    fd.MinItems,
		MaxItems:    fd.MaxItems,
		UISchema:    fd.UISchema,
		QuillType:   fd.QuillType,
	}
	if fd.Default != nil {
		v := valuetree.FromGo(fd.Default)
		out.Default = &v
	}
	for _, ex := range fd.Examples {
		out.Examples = append(out.Examples, valuetree.FromGo(ex))
	}
	for _, e := range fd.Enum {
		out.Enum = append(out.Enum, valuetree.FromGo(e))
	}
	if fd.Items != nil {
		child, err := toFieldSchema(*fd.Items)
		if err != nil {
			return schemaengine.FieldSchema{}, err
		}
		out.Items = &child
	}
	for _, prop := range fd.Properties {
		child, err := toFieldSchema(prop)
		if err != nil {
			return schemaengine.FieldSchema{}, err
		}
		out.Properties = append(out.Properties, child)
	}
	return out, nil
}

// toCardSchema converts one manifest [[cards]] entry into the schema
// engine's CardSchema, following the same field-by-field conversion as
// toFieldSchema.
func toCardSchema(cd manifestCardDecl) (schemaengine.CardSchema, error) {
	out := schemaengine.CardSchema{
		Tag:         cd.Tag,
		Title:       cd.Title,
		Description: cd.Description,
	}
	for _, fd := range cd.Fields {
		field, err := toFieldSchema(fd)
		if err != nil {
			return schemaengine.CardSchema{}, err
		}
		out.Fields = append(out.Fields, field)
	}
	return out, nil
}

// defaultPlateFile resolves an omitted plate_file: the single root-level file
// whose extension matches the backend's conventional glob (".typ" for typst,
// ".<backend-id>" otherwise). Zero or several candidates is an error.
func defaultPlateFile(files map[string][]byte, backendID string) (string, error) {
	ext := "." + backendID
	if backendID == "typst" {
		ext = ".typ"
	}
	var candidates []string
	for p := range files {
		if strings.Contains(p, "/") {
			continue
		}
		if strings.HasSuffix(p, ext) {
			candidates = append(candidates, p)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return "", diagnostic.WrapCause(
			fmt.Errorf("manifest declares no plate_file and no root-level *%s file exists", ext),
			diagnostic.CategoryQuillValidation, "quillload::missing_plate", "missing plate file",
		)
	default:
		sort.Strings(candidates)
		return "", diagnostic.WrapCause(
			fmt.Errorf("manifest declares no plate_file and several root-level *%s candidates exist: %s", ext, strings.Join(candidates, ", ")),
			diagnostic.CategoryQuillValidation, "quillload::ambiguous_plate", "ambiguous plate file",
		)
	}
}

var assetLeafPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// validateAssetLeaves enforces the asset filename allowlist on every leaf
// under the quill's assets/ directory.
func validateAssetLeaves(files map[string][]byte) error {
	for p := range files {
		if !strings.HasPrefix(p, "assets/") {
			continue
		}
		leaf := p[strings.LastIndex(p, "/")+1:]
		if !assetLeafPattern.MatchString(leaf) {
			return diagnostic.WrapCause(
				fmt.Errorf("asset filename %q does not match the allowlist", leaf),
				diagnostic.CategoryQuillValidation, "quillload::invalid_asset_filename", "invalid asset filename",
			)
		}
	}
	return nil
}

func isReservedName(name string) bool {
	return name == "BODY" || name == "CARDS" || name == "QUILL"
}

// checkReservedFieldNames rejects BODY/CARDS/QUILL anywhere in a declared
// field tree, per the manifest grammar's reserved-name rule.
func checkReservedFieldNames(fields []schemaengine.FieldSchema) error {
	for _, f := range fields {
		if isReservedName(f.Name) {
			return reservedNameErr("field", f.Name)
		}
		if f.Items != nil {
			if err := checkReservedFieldNames([]schemaengine.FieldSchema{*f.Items}); err != nil {
				return err
			}
		}
		if err := checkReservedFieldNames(f.Properties); err != nil {
			return err
		}
	}
	return nil
}

func reservedNameErr(what, name string) error {
	return diagnostic.WrapCause(
		fmt.Errorf("%s %q uses a reserved name", what, name),
		diagnostic.CategoryQuillValidation, "quillload::reserved_name", "reserved name in manifest",
	)
}

func readManifest(files map[string][]byte) (manifest, error) {
	var m manifest
	if data, ok := files[manifestTOMLPath]; ok {
		if _, err := toml.Decode(string(data), &m); err != nil {
			return manifest{}, manifestDecodeErr(manifestTOMLPath, err)
		}
		return m, nil
	}
	if data, ok := files[manifestYAMLPath]; ok {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return manifest{}, manifestDecodeErr(manifestYAMLPath, err)
		}
		return m, nil
	}
	return manifest{}, diagnostic.WrapCause(
		fmt.Errorf("no %s or %s found in quill tree", manifestTOMLPath, manifestYAMLPath),
		diagnostic.CategoryQuillValidation, "quillload::missing_manifest", "missing quill manifest",
	)
}

func manifestDecodeErr(file string, cause error) error {
	return diagnostic.WrapCause(cause, diagnostic.CategoryQuillValidation, "quillload::manifest_decode_failed", fmt.Sprintf("failed to decode %s", file))
}

func wrapManifestError(cause error) error {
	return diagnostic.WrapCause(cause, diagnostic.CategoryQuillValidation, "quillload::manifest_invalid", "quill manifest failed validation")
}

// Tree is a decoded virtual-file-tree exchange document: the
// flat path -> bytes map plus the reserved top-level name/base_path defaults,
// applied when the manifest does not override them.
type Tree struct {
	Name     string
	BasePath string
	Files    map[string][]byte
}

// Serialize renders a flat file map as the JSON exchange format: nested
// explicit directories ({"files": {...}}) with file leaves
// ({"contents": ...}) whose contents serialize as a string when valid UTF-8
// and as a byte array otherwise.
func Serialize(files map[string][]byte) ([]byte, error) {
	root := map[string]any{}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		segments := strings.Split(p, "/")
		node := root
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = map[string]any{"files": map[string]any{}}
				node[seg] = child
			}
			inner, ok := child["files"].(map[string]any)
			if !ok {
				return nil, treeErr(fmt.Sprintf("path %q is both a file and a directory", seg), nil)
			}
			node = inner
		}
		node[segments[len(segments)-1]] = map[string]any{"contents": contentsValue(files[p])}
	}
	return json.Marshal(root)
}

func contentsValue(data []byte) any {
	if utf8.Valid(data) {
		return string(data)
	}
	nums := make([]int, len(data))
	for i, b := range data {
		nums[i] = int(b)
	}
	return nums
}

// Deserialize parses the JSON exchange format back into a flat file map,
// accepting every entry shape allowed: a {"contents": ...} file leaf, an
// explicit {"files": {...}} directory, or any other object as a shorthand
// directory. The reserved top-level keys name and base_path are lifted out
// of the tree.
func Deserialize(data []byte) (Tree, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return Tree{}, treeErr("invalid serialized quill tree", err)
	}
	out := Tree{Files: map[string][]byte{}}
	for key, raw := range root {
		switch key {
		case "name":
			if err := json.Unmarshal(raw, &out.Name); err != nil {
				return Tree{}, treeErr(`reserved key "name" must be a string`, err)
			}
		case "base_path":
			if err := json.Unmarshal(raw, &out.BasePath); err != nil {
				return Tree{}, treeErr(`reserved key "base_path" must be a string`, err)
			}
		default:
			if err := decodeEntry(key, raw, out.Files); err != nil {
				return Tree{}, err
			}
		}
	}
	return out, nil
}

func decodeEntry(path string, raw json.RawMessage, into map[string][]byte) error {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil {
		return treeErr(fmt.Sprintf("entry %q is not an object", path), err)
	}
	if contents, ok := node["contents"]; ok {
		data, err := decodeContents(path, contents)
		if err != nil {
			return err
		}
		into[path] = data
		return nil
	}
	children := node
	if filesRaw, ok := node["files"]; ok {
		children = nil
		if err := json.Unmarshal(filesRaw, &children); err != nil {
			return treeErr(fmt.Sprintf(`directory %q has a non-object "files" entry`, path), err)
		}
	}
	for name, childRaw := range children {
		if err := decodeEntry(path+"/"+name, childRaw, into); err != nil {
			return err
		}
	}
	return nil
}

// decodeContents accepts the two leaf encodings: a string (literal
// UTF-8 content) or an array of byte values.
func decodeContents(path string, raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s), nil
	}
	var nums []int
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, treeErr(fmt.Sprintf("file %q contents must be a string or byte array", path), err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, treeErr(fmt.Sprintf("file %q contents has out-of-range byte %d", path, n), nil)
		}
		out[i] = byte(n)
	}
	return out, nil
}

func treeErr(msg string, cause error) error {
	if cause == nil {
		return diagnostic.Wrap(diagnostic.CategoryQuillValidation, "quillload::invalid_serialized_tree", msg)
	}
	return diagnostic.WrapCause(cause, diagnostic.CategoryQuillValidation, "quillload::invalid_serialized_tree", msg)
}

// LoadSerialized builds a Quill directly from the JSON exchange format,
// applying the tree's reserved name default when the manifest omits its own.
func LoadSerialized(data []byte) (quillspec.Quill, error) {
	tree, err := Deserialize(data)
	if err != nil {
		return quillspec.Quill{}, err
	}
	q, err := loadWithDefaults(tree.Files, tree.Name)
	if err != nil {
		return quillspec.Quill{}, err
	}
	if tree.BasePath != "" {
		q.Metadata["base_path"] = tree.BasePath
	}
	return q, nil
}

