package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_WritesUnderSourceDateSlug(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	ref, err := s.Save("web", "pricing", "page.html", []byte("<html></html>"))
	require.NoError(t, err)

	date := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, filepath.Join("web", date, "pricing", "page.html"), ref)

	data, err := os.ReadFile(filepath.Join(root, ref))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
}

func TestSave_OverwritesExisting(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	_, err := s.Save("web", "home", "page.html", []byte("v1"))
	require.NoError(t, err)
	ref, err := s.Save("web", "home", "page.html", []byte("v2"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, ref))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	ref, err := s.Save("email", "msg", "body.txt", []byte("hello"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(root, ref)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "body.txt", entries[0].Name())
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello World":              "hello-world",
		"Senior Engineer (Remote)": "senior-engineer-remote",
		"  spaced  out  ":          "spaced-out",
		"already-a-slug":           "already-a-slug",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}
