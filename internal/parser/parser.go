// Package parser converts between note files and models.Note.
//
// A note is a YAML front matter block followed by a prose body:
//
//	---
//	entity: Michael
//	facts:
//	  likes:
//	    - value: flowers
//	      id: ...
//	---
//
//	Free-form prose.
//
// Serialize(Parse(b)) == b for every note Serialize produced.
package parser

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/vaultkeeper/internal/models"
)

const delim = "---"

var wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// document is the structured section as it appears on disk.
type document struct {
	Entity    string                   `yaml:"entity"`
	Aliases   []string                 `yaml:"aliases,omitempty"`
	Facts     map[string][]models.Fact `yaml:"facts,omitempty"`
	Backlinks []models.Backlink        `yaml:"backlinks,omitempty"`
	// Extra holds keys written by other tools (tags, dates, ...). They are
	// carried through unchanged and emitted after the keys above.
	Extra map[string]yaml.Node `yaml:",inline"`
}

// Parse decodes a note file. notePath is the vault-relative path and
// supplies the entity id. Files without front matter are accepted: the
// entity name falls back to the first H1 heading, then the file stem.
// Malformed front matter is an error so that a later write cannot clobber
// hand-edited content.
func Parse(notePath string, data []byte) (*models.Note, error) {
	id := models.IDFromPath(notePath)
	n := &models.Note{ID: id, Path: notePath}

	yamlBlock, body, ok := splitFrontmatter(data)
	if !ok {
		n.Body = string(data)
		n.Name = deriveName(n.Body, id)
		return n, nil
	}

	var doc document
	if err := yaml.Unmarshal(yamlBlock, &doc); err != nil {
		return nil, fmt.Errorf("parser: %s: invalid front matter: %w", notePath, err)
	}

	n.Name = strings.TrimSpace(doc.Entity)
	if n.Name == "" {
		n.Name = deriveName(body, id)
	}
	n.Aliases = doc.Aliases
	n.Backlinks = doc.Backlinks
	n.Body = body
	if len(doc.Extra) > 0 {
		n.Extra = make(map[string]any, len(doc.Extra))
		for k, v := range doc.Extra {
			n.Extra[k] = v
		}
	}
	if len(doc.Facts) > 0 {
		n.Facts = make(map[string][]models.Fact, len(doc.Facts))
		for p, vs := range doc.Facts {
			for i := range vs {
				vs[i].Subject = id
				vs[i].Predicate = p
			}
			n.Facts[p] = vs
		}
	}
	return n, nil
}

// Serialize encodes n in canonical form. Predicates are emitted in sorted
// order; fact and backlink order is preserved.
func Serialize(n *models.Note) ([]byte, error) {
	doc := document{
		Entity:    n.Name,
		Aliases:   n.Aliases,
		Backlinks: n.Backlinks,
	}
	if len(n.Facts) > 0 {
		doc.Facts = make(map[string][]models.Fact, len(n.Facts))
		for p, vs := range n.Facts {
			if len(vs) > 0 {
				doc.Facts[p] = vs
			}
		}
	}
	extra, err := extraNodes(n.Extra)
	if err != nil {
		return nil, fmt.Errorf("parser: encode %s: %w", n.Path, err)
	}
	doc.Extra = extra

	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("parser: encode %s: %w", n.Path, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: encode %s: %w", n.Path, err)
	}
	buf.WriteString(delim + "\n")
	if n.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(n.Body)
	}
	return buf.Bytes(), nil
}

// extraNodes converts foreign front matter back to YAML nodes. Values read
// by Parse are already nodes; anything else is encoded as-is. Keys owned by
// the note format are skipped so they cannot be emitted twice.
func extraNodes(extra map[string]any) (map[string]yaml.Node, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	out := make(map[string]yaml.Node, len(extra))
	for k, v := range extra {
		if reserved[k] {
			continue
		}
		switch v := v.(type) {
		case yaml.Node:
			out[k] = v
		case *yaml.Node:
			out[k] = *v
		default:
			var node yaml.Node
			if err := node.Encode(v); err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = node
		}
	}
	return out, nil
}

var reserved = map[string]bool{"entity": true, "aliases": true, "facts": true, "backlinks": true}

// splitFrontmatter separates the YAML block from the body. ok is false when
// data does not open with a front matter fence or the fence is unclosed.
// One blank separator line after the closing fence belongs to the format,
// not to the body.
func splitFrontmatter(data []byte) (yamlBlock []byte, body string, ok bool) {
	if !bytes.HasPrefix(data, []byte(delim+"\n")) {
		return nil, "", false
	}
	rest := data[len(delim)+1:]

	var after []byte
	switch {
	case bytes.HasPrefix(rest, []byte(delim+"\n")):
		yamlBlock, after = nil, rest[len(delim)+1:]
	case bytes.Equal(rest, []byte(delim)):
		yamlBlock, after = nil, nil
	default:
		idx := bytes.Index(rest, []byte("\n"+delim+"\n"))
		switch {
		case idx >= 0:
			yamlBlock = rest[:idx+1]
			after = rest[idx+1+len(delim)+1:]
		case bytes.HasSuffix(rest, []byte("\n"+delim)):
			yamlBlock = rest[:len(rest)-len(delim)]
		default:
			return nil, "", false
		}
	}

	after = bytes.TrimPrefix(after, []byte("\n"))
	return yamlBlock, string(after), true
}

// Links returns deduplicated [[wikilink]] targets found in s, normalising
// [[Target|Alias]] to Target and dropping any folder prefix.
func Links(s string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(s, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(path.Base(strings.TrimSpace(target)))
		if target == "" || target == "." || target == "/" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// Unlink strips wikilink brackets: "[[Anna|my sister]]" becomes "Anna".
func Unlink(s string) string {
	s = strings.TrimSpace(s)
	if links := Links(s); len(links) == 1 && strings.HasPrefix(s, "[[") && strings.HasSuffix(s, "]]") {
		return links[0]
	}
	return s
}

// deriveName returns the first H1 heading of body, or fallback.
func deriveName(body, fallback string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return path.Base(fallback)
}
