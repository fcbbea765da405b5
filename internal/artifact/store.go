// Package artifact stores raw collected payloads on the filesystem. The
// ledger records only the returned references; artifact retention and layout
// are this package's concern, not the ledger's.
package artifact

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Store writes artifacts under root using a source/date/slug layout.
type Store struct {
	root string
}

// NewStore creates an artifact store rooted at dir.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Save writes content under root/source/YYYY-MM-DD/slug/name and returns the
// reference relative to root. The write goes through a uniquely named temp
// file in the target directory followed by a rename, so readers never see a
// partial artifact.
func (s *Store) Save(source, slug, name string, content []byte) (string, error) {
	date := time.Now().UTC().Format("2006-01-02")
	rel := filepath.Join(source, date, slug, name)
	full := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", eris.Wrapf(err, "artifact: mkdir %s", filepath.Dir(full))
	}

	tmp := full + ".tmp-" + uuid.New().String()
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", eris.Wrapf(err, "artifact: write %s", rel)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", eris.Wrapf(err, "artifact: rename %s", rel)
	}
	return rel, nil
}

var (
	nonSlugRe  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSepRe  = regexp.MustCompile(`[-\s]+`)
)

// Slugify converts text to a filesystem-safe slug.
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = nonSlugRe.ReplaceAllString(s, "")
	s = slugSepRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
