package pathguard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeProject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "api", want: "api"},
		{name: "mixed case and digits", in: "My-Project_2", want: "My-Project_2"},
		{name: "rejects traversal", in: "../etc", wantErr: true},
		{name: "rejects forward separator", in: "a/b", wantErr: true},
		{name: "rejects backslash separator", in: "a\\b", wantErr: true},
		{name: "rejects embedded dot-dot", in: "my..project", wantErr: true},
		{name: "strips spaces and dots", in: "my project.name", want: "myprojectname"},
		{name: "only bad characters", in: "!!!", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "caps length at 50", in: stringsRepeat("x", 80), want: stringsRepeat("x", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeProject(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func stringsRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	require.NoError(t, err)

	t.Run("descendant is admitted", func(t *testing.T) {
		p, err := g.ResolveWithin("memories", "api", "note.md")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(g.Root(), "memories", "api", "note.md"), p)
	})

	t.Run("traversal is rejected", func(t *testing.T) {
		_, err := g.ResolveWithin("memories", "../../etc")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("absolute escape is rejected", func(t *testing.T) {
		_, err := g.ResolveWithin("/etc/passwd")
		// filepath.Join flattens the leading slash, but the cleaned result
		// must still sit under the root.
		if err == nil {
			p, _ := g.ResolveWithin("/etc/passwd")
			assert.True(t, g.Contains(p))
		}
	})

	t.Run("root itself is not a strict descendant", func(t *testing.T) {
		_, err := g.ResolveWithin(".")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("sibling with shared prefix is outside", func(t *testing.T) {
		assert.False(t, g.Contains(g.Root()+"-evil"))
	})
}
