// Package docparser implements stage one of the rendering pipeline: turning
// raw markdown bytes into a ParsedDocument (frontmatter fields, an ordered
// CARDS sequence, and a BODY string per block). Single-block frontmatter
// extractors can't express the multi-block tagged-card grammar (arbitrary
// !tag-name-prefixed, ----delimited blocks interleaved with body text), so
// the block scanner here is written atop gopkg.in/yaml.v3 and
// internal/mdscan.
package docparser

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/quillmark/internal/mdscan"
	"github.com/goliatone/quillmark/internal/version"
	"github.com/goliatone/quillmark/pkg/diagnostic"
	"github.com/goliatone/quillmark/pkg/valuetree"
)

const (
	// MaxMarkdownBytes bounds the raw markdown input.
	MaxMarkdownBytes = 10 * 1024 * 1024
	// MaxYAMLBlockBytes bounds any single metadata block's decoded content.
	MaxYAMLBlockBytes = 1 * 1024 * 1024
	// MaxValueDepth bounds nesting depth for any decoded YAML value.
	MaxValueDepth = 100
	// MaxFields bounds the frontmatter's top-level field count.
	MaxFields = 1000
	// MaxCards bounds the number of CARDS entries.
	MaxCards = 1000
)

var tagLine = regexp.MustCompile(`^![a-z_][a-z0-9_]*$`)

// Document is the parser's output: the assembled frontmatter/body/cards
// value tree plus the extracted Quill reference, if any.
type Document struct {
	// Fields is the Mapping of global frontmatter keys plus the reserved
	// BODY (string) and CARDS (sequence of Mapping) entries.
	Fields valuetree.Value
	// Quill is the QUILL tag's resolved reference, or nil if the document
	// declared none.
	Quill *version.Reference
}

// ErrorKind discriminates the parser's failure modes.
type ErrorKind int

const (
	ErrInvalidStructure ErrorKind = iota
	ErrInvalidYAML
	ErrInvalidQuillTag
	ErrInputTooLarge
)

// Error is the parser's error type, carried as the cause inside the shared
// diagnostic taxonomy.
type Error struct {
	Kind    ErrorKind
	Message string
	Line    int // 1-based; 0 when not applicable
	Col     int
	Limit   int64
	Size    int64
	What    string // "markdown" | "yaml_block" | "frontmatter_fields" | "cards"
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrInputTooLarge:
		return fmt.Sprintf("input too large: %s is %d, limit is %d", e.What, e.Size, e.Limit)
	case ErrInvalidYAML:
		if e.Line > 0 {
			return fmt.Sprintf("invalid yaml at line %d: %s", e.Line, e.Message)
		}
		return "invalid yaml: " + e.Message
	default:
		return e.Message
	}
}

func wrapErr(e *Error, code string) error {
	return diagnostic.WrapCause(e, diagnostic.CategoryParse, code, e.Message)
}

func structureErr(format string, args ...any) error {
	e := &Error{Kind: ErrInvalidStructure, Message: fmt.Sprintf(format, args...)}
	return wrapErr(e, "parser::invalid_structure")
}

func yamlErr(line int, msg string) error {
	e := &Error{Kind: ErrInvalidYAML, Line: line, Message: msg}
	return wrapErr(e, "parser::invalid_yaml")
}

func tooLargeErr(what string, size, limit int64) error {
	e := &Error{Kind: ErrInputTooLarge, What: what, Size: size, Limit: limit}
	return wrapErr(e, "parser::input_too_large")
}

// Parse runs the full stage-one pipeline over raw markdown bytes.
func Parse(input []byte) (*Document, error) {
	if int64(len(input)) > MaxMarkdownBytes {
		return nil, tooLargeErr("markdown", int64(len(input)), MaxMarkdownBytes)
	}

	text := normalizeLineEndings(string(input))
	text = repairAdjacentComments(text)
	lines := strings.Split(text, "\n")

	blocks, err := scanBlocks(lines)
	if err != nil {
		return nil, err
	}

	var frontmatterBlock *rawBlock
	var cardBlocks []rawBlock
	untaggedCount := 0
	for i := range blocks {
		b := &blocks[i]
		if b.tag == "" {
			untaggedCount++
			if b.startLine != 0 {
				continue // classified below, after the count check
			}
			frontmatterBlock = b
		} else {
			cardBlocks = append(cardBlocks, *b)
		}
	}
	if untaggedCount > 1 {
		return nil, structureErr("document has %d untagged metadata blocks, only one is allowed", untaggedCount)
	}
	if untaggedCount == 1 && frontmatterBlock == nil {
		return nil, structureErr("the document's untagged metadata block must be its first block")
	}

	fields := valuetree.NewMapping()
	var quillRef *version.Reference

	if frontmatterBlock != nil {
		fm, err := decodeYAMLBlock(frontmatterBlock.content, frontmatterBlock.startLine+2)
		if err != nil {
			return nil, err
		}
		if fm.Kind() != valuetree.KindMapping {
			return nil, structureErr("global frontmatter must decode to a mapping")
		}
		for _, k := range fm.Keys() {
			v, _ := fm.Get(k)
			if k == "QUILL" {
				s, ok := v.AsString()
				if !ok {
					return nil, structureErr("QUILL must be a string")
				}
				ref, perr := version.ParseReference(s)
				if perr != nil {
					return nil, perr
				}
				quillRef = &ref
				continue
			}
			if k == "BODY" || k == "CARDS" {
				return nil, structureErr("reserved key %q cannot appear in frontmatter", k)
			}
			fields.Set(k, v)
		}
		if len(fields.Keys()) > MaxFields {
			return nil, tooLargeErr("frontmatter_fields", int64(len(fields.Keys())), MaxFields)
		}
	}

	if len(cardBlocks) > MaxCards {
		return nil, tooLargeErr("cards", int64(len(cardBlocks)), MaxCards)
	}

	globalBodyEnd := len(lines)
	if len(cardBlocks) > 0 {
		globalBodyEnd = cardBlocks[0].startLine
	}
	globalBodyStart := 0
	if frontmatterBlock != nil {
		globalBodyStart = frontmatterBlock.endLine + 1
	}
	body := joinBody(lines, globalBodyStart, globalBodyEnd)
	fields.Set("BODY", valuetree.String(body))

	cards := make([]valuetree.Value, 0, len(cardBlocks))
	for i, cb := range cardBlocks {
		cardFields, err := decodeYAMLBlock(cb.content, cb.startLine+2)
		if err != nil {
			return nil, err
		}
		if cardFields.IsNull() {
			cardFields = valuetree.NewMapping()
		}
		if cardFields.Kind() != valuetree.KindMapping {
			return nil, structureErr("card %q (block %d) must decode to a mapping", cb.tag, i+1)
		}
		card := valuetree.NewMapping()
		for _, k := range cardFields.Keys() {
			if k == "CARD" || k == "BODY" {
				return nil, structureErr("reserved key %q cannot appear in card %q", k, cb.tag)
			}
			v, _ := cardFields.Get(k)
			card.Set(k, v)
		}
		card.Set("CARD", valuetree.String(cb.tag))
		end := len(lines)
		if i+1 < len(cardBlocks) {
			end = cardBlocks[i+1].startLine
		}
		card.Set("BODY", valuetree.String(joinBody(lines, cb.endLine+1, end)))
		cards = append(cards, card)
	}
	fields.Set("CARDS", valuetree.Sequence(cards...))

	return &Document{Fields: fields, Quill: quillRef}, nil
}

// joinBody reconstructs the raw text spanned by lines[start:end]. When the
// range ends before the document's last line (i.e. a following block's "---"
// line exists), the newline that separated the range's last line from that
// following line belongs to the body and must be preserved: a plain
// strings.Join only inserts separators *between* included lines, so without
// this the body loses its trailing blank line whenever it ends at a card
// boundary rather than at EOF.
func joinBody(lines []string, start, end int) string {
	if start >= end || start < 0 || start >= len(lines) {
		return ""
	}
	hasFollowingLine := end < len(lines)
	if end > len(lines) {
		end = len(lines)
	}
	body := strings.Join(lines[start:end], "\n")
	if hasFollowingLine {
		body += "\n"
	}
	return body
}

type rawBlock struct {
	tag       string // "" for untagged (frontmatter candidate)
	startLine int    // index of the opening "---" line
	endLine   int    // index of the closing "---" line
	content   string // joined YAML body, excluding the tag directive line
}

// scanBlocks walks the document line by line, collecting every metadata
// block: a contiguous run of non-blank lines opened and closed by a line
// whose only content is "---", skipping anything inside a fenced code block.
func scanBlocks(lines []string) ([]rawBlock, error) {
	fences := mdscan.FenceRanges(lines)
	var blocks []rawBlock

	i := 0
	for i < len(lines) {
		if mdscan.InFenceLine(fences, i) {
			i++
			continue
		}
		if strings.TrimSpace(lines[i]) != "---" {
			i++
			continue
		}

		j := i + 1
		closed := false
		for j < len(lines) {
			if mdscan.InFenceLine(fences, j) {
				break
			}
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" {
				break
			}
			if trimmed == "---" {
				closed = true
				break
			}
			j++
		}

		if !closed {
			i++
			continue
		}

		content := lines[i+1 : j]
		tag := ""
		body := content
		if len(content) > 0 && tagLine.MatchString(strings.TrimSpace(content[0])) {
			tag = strings.TrimSpace(content[0])[1:]
			body = content[1:]
		}
		blocks = append(blocks, rawBlock{
			tag:       tag,
			startLine: i,
			endLine:   j,
			content:   strings.Join(body, "\n"),
		})
		i = j + 1
	}
	return blocks, nil
}

// decodeYAMLBlock decodes one metadata block's content into a ValueTree,
// enforcing the per-block size and depth budgets and stripping custom
// scalar tags.
func decodeYAMLBlock(content string, startLineForErrors int) (valuetree.Value, error) {
	if int64(len(content)) > MaxYAMLBlockBytes {
		return valuetree.Value{}, tooLargeErr("yaml_block", int64(len(content)), MaxYAMLBlockBytes)
	}
	if strings.TrimSpace(content) == "" {
		return valuetree.NewMapping(), nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(content), &node); err != nil {
		return valuetree.Value{}, yamlErr(startLineForErrors, err.Error())
	}
	if len(node.Content) == 0 {
		return valuetree.NewMapping(), nil
	}
	return nodeToValue(node.Content[0], 0)
}

func nodeToValue(n *yaml.Node, depth int) (valuetree.Value, error) {
	if depth > MaxValueDepth {
		return valuetree.Value{}, yamlErr(n.Line, fmt.Sprintf("nesting depth exceeds %d", MaxValueDepth))
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return scalarToValue(n), nil
	case yaml.SequenceNode:
		items := make([]valuetree.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeToValue(c, depth+1)
			if err != nil {
				return valuetree.Value{}, err
			}
			items = append(items, v)
		}
		return valuetree.Sequence(items...), nil
	case yaml.MappingNode:
		m := valuetree.NewMapping()
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode := n.Content[i]
			valNode := n.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return valuetree.Value{}, yamlErr(keyNode.Line, "mapping keys must be scalar")
			}
			v, err := nodeToValue(valNode, depth+1)
			if err != nil {
				return valuetree.Value{}, err
			}
			m.Set(keyNode.Value, v)
		}
		return m, nil
	case yaml.AliasNode:
		return nodeToValue(n.Alias, depth+1)
	default:
		return valuetree.Null(), nil
	}
}

// scalarToValue resolves a scalar node's Go type from its tag, defaulting
// any non-core tag (a custom "!something" directive) to a plain string:
// the tag is discarded, the value text survives.
func scalarToValue(n *yaml.Node) valuetree.Value {
	switch n.Tag {
	case "!!null":
		return valuetree.Null()
	case "!!bool":
		var b bool
		if n.Decode(&b) == nil {
			return valuetree.Bool(b)
		}
	case "!!int":
		var i int64
		if n.Decode(&i) == nil {
			return valuetree.Int(i)
		}
	case "!!float":
		var f float64
		if n.Decode(&f) == nil {
			return valuetree.Float(f)
		}
	case "!!str", "":
		return valuetree.String(n.Value)
	case "!!binary":
		var b []byte
		if n.Decode(&b) == nil {
			return valuetree.Bytes(b)
		}
	}
	// Custom or unrecognised tag: strip it, keep the literal scalar text.
	return valuetree.String(n.Value)
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// repairAdjacentComments inserts a newline after an HTML comment's closing
// "-->" when it's immediately followed by non-whitespace content on the same
// line, so the metadata-block scanner's line-oriented `---` matching can't be
// defeated by a comment glued to the start of the next logical line. A
// standalone "-->" with no opening "<!--" before it is left alone.
func repairAdjacentComments(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	for {
		open := strings.Index(s, "<!--")
		if open == -1 {
			out.WriteString(s)
			return out.String()
		}
		close_ := strings.Index(s[open+4:], "-->")
		if close_ == -1 {
			out.WriteString(s)
			return out.String()
		}
		end := open + 4 + close_ + 3
		out.WriteString(s[:end])
		if end < len(s) && s[end] != '\n' && s[end] != ' ' && s[end] != '\t' {
			out.WriteByte('\n')
		}
		s = s[end:]
	}
}
