// Package frontmatter reads and writes markdown records with typed front
// matter. Two historical envelope shapes are readable: the fenced form
// (`---` delimited YAML mapping) and a legacy HTML-comment block. Writing
// always emits the fenced form. Unknown keys survive a read/write cycle.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Doc is a decoded record: a front-matter mapping plus the markdown body.
type Doc struct {
	Fields map[string]any
	Body   string
}

const (
	fence       = "---"
	legacyOpen  = "<!--"
	legacyClose = "-->"
)

// Parse decodes raw file content. A document with no recognizable envelope
// yields a Doc with empty Fields and the whole content as Body; the caller
// decides how to treat it (the memory store adopts it as an active record).
func Parse(raw []byte) (*Doc, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	trimmed := strings.TrimLeft(text, "\n")

	switch {
	case strings.HasPrefix(trimmed, fence+"\n"):
		return parseFenced(trimmed)
	case strings.HasPrefix(trimmed, legacyOpen):
		return parseLegacy(trimmed)
	default:
		return &Doc{Fields: map[string]any{}, Body: text}, nil
	}
}

func parseFenced(text string) (*Doc, error) {
	rest := strings.TrimPrefix(text, fence+"\n")
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return nil, fmt.Errorf("front matter: unterminated fenced block")
	}
	head := rest[:end]
	body := rest[end+len("\n"+fence):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	fields := map[string]any{}
	if err := yaml.Unmarshal([]byte(head), &fields); err != nil {
		return nil, fmt.Errorf("front matter: decoding mapping: %w", err)
	}
	return &Doc{Fields: fields, Body: body}, nil
}

// parseLegacy reads the historical `<!-- key: value -->` block line-wise.
// Each value goes through a YAML scalar decode so inline lists, numbers and
// booleans come out typed, matching the fenced form.
func parseLegacy(text string) (*Doc, error) {
	end := strings.Index(text, legacyClose)
	if end < 0 {
		return nil, fmt.Errorf("front matter: unterminated comment block")
	}
	head := strings.TrimPrefix(text[:end], legacyOpen)
	body := strings.TrimPrefix(text[end+len(legacyClose):], "\n")
	body = strings.TrimPrefix(body, "\n")

	fields := map[string]any{}
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		fields[key] = decodeScalar(strings.TrimSpace(value))
	}
	return &Doc{Fields: fields, Body: body}, nil
}

func decodeScalar(value string) any {
	var v any
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		return value
	}
	if v == nil {
		return ""
	}
	return v
}

// Marshal renders the fenced envelope followed by the body. Keys are emitted
// in YAML's stable (sorted) order so re-writing an unchanged record is
// byte-for-byte deterministic.
func (d *Doc) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	if len(d.Fields) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d.Fields); err != nil {
			return nil, fmt.Errorf("front matter: encoding mapping: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("front matter: closing encoder: %w", err)
		}
	}
	buf.WriteString(fence + "\n\n")
	buf.WriteString(d.Body)
	return buf.Bytes(), nil
}

// String returns the string field for key, or "" when absent or not a string.
func (d *Doc) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Int returns the integer field for key, tolerating the numeric types YAML
// may produce.
func (d *Doc) Int(key string) int {
	switch v := d.Fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Bool returns the boolean field for key.
func (d *Doc) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// StringList normalizes the field for key to a list of strings. Inline YAML
// sequences, single scalars and bare comma-separated legacy strings all
// decode to the same shape, so `tags` and `related_memories` round-trip as
// lists regardless of which envelope they were read from.
func (d *Doc) StringList(key string) []string {
	return ToStringList(d.Fields[key])
}

// ToStringList coerces an arbitrary decoded value into a []string.
func ToStringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}
