package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFenced(t *testing.T) {
	raw := []byte(`---
id: mem-123
access_count: 4
priority: high
pinned: true
tags: ["rate-limit", "title:Backoff notes"]
---

Use exponential backoff on 429 responses.
`)
	doc, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "mem-123", doc.String("id"))
	assert.Equal(t, 4, doc.Int("access_count"))
	assert.Equal(t, "high", doc.String("priority"))
	assert.True(t, doc.Bool("pinned"))
	assert.Equal(t, []string{"rate-limit", "title:Backoff notes"}, doc.StringList("tags"))
	assert.Equal(t, "Use exponential backoff on 429 responses.\n", doc.Body)
}

func TestParseLegacyComment(t *testing.T) {
	raw := []byte(`<!--
id: mem-legacy
timestamp: 2024-01-15T10:00:00Z
tags: alpha, beta
related_memories: m1,m2
access_count: 2
-->

legacy body text
`)
	doc, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "mem-legacy", doc.String("id"))
	assert.Equal(t, 2, doc.Int("access_count"))
	// Bare comma-separated legacy values still normalize to lists.
	assert.Equal(t, []string{"alpha", "beta"}, doc.StringList("tags"))
	assert.Equal(t, []string{"m1", "m2"}, doc.StringList("related_memories"))
	assert.Equal(t, "legacy body text\n", doc.Body)
}

func TestParseNoEnvelope(t *testing.T) {
	doc, err := Parse([]byte("just some notes without metadata"))
	require.NoError(t, err)
	assert.Empty(t, doc.Fields)
	assert.Equal(t, "just some notes without metadata", doc.Body)
}

func TestParseUnterminated(t *testing.T) {
	_, err := Parse([]byte("---\nid: x\nno closing fence"))
	require.Error(t, err)

	_, err = Parse([]byte("<!--\nid: x\nno closing marker"))
	require.Error(t, err)
}

func TestRoundTripPreservesUnknownKeys(t *testing.T) {
	doc := &Doc{
		Fields: map[string]any{
			"id":           "mem-7",
			"custom_field": "kept as-is",
			"weight":       3,
			"tags":         []string{"a", "b"},
		},
		Body: "body\n",
	}
	raw, err := doc.Marshal()
	require.NoError(t, err)

	back, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "mem-7", back.String("id"))
	assert.Equal(t, "kept as-is", back.String("custom_field"))
	assert.Equal(t, 3, back.Int("weight"))
	assert.Equal(t, []string{"a", "b"}, back.StringList("tags"))
	assert.Equal(t, "body\n", back.Body)
}

func TestMarshalIsDeterministic(t *testing.T) {
	doc := &Doc{Fields: map[string]any{"b": 2, "a": 1, "c": 3}, Body: "x"}
	first, err := doc.Marshal()
	require.NoError(t, err)
	second, err := doc.Marshal()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestToStringList(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "sequence", in: []any{"x", "y"}, want: []string{"x", "y"}},
		{name: "comma string", in: "x, y ,z", want: []string{"x", "y", "z"}},
		{name: "blank string", in: "  ", want: nil},
		{name: "single scalar", in: 42, want: []string{"42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToStringList(tt.in))
		})
	}
}
