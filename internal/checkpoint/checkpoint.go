// Package checkpoint persists finalized records across runs. The
// output artifact doubles as the checkpoint log: it is re-parsed on
// startup to recover which citation keys are already done, so the
// file stays ordinary readable bibliography text.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsen/bibfix/internal/bibtex"
)

// Store accumulates finalized records and rewrites the whole output
// artifact after each addition. A crash between additions leaves
// every previously added record durable on disk.
type Store struct {
	path  string
	order []string
	texts map[string]string
}

// New returns an empty store writing to path. Any existing file at
// path is ignored and will be overwritten by the first Add.
func New(path string) *Store {
	return &Store{path: path, texts: make(map[string]string)}
}

// Load restores a store from the output artifact at path. A missing
// file yields an empty store. Records already present count as done
// and are preserved verbatim by later rewrites.
func Load(path string) (*Store, error) {
	s := New(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	entries, _ := bibtex.Extract(string(data))
	for _, e := range entries {
		if _, ok := s.texts[e.CitationKey]; ok {
			continue
		}
		s.order = append(s.order, e.CitationKey)
		s.texts[e.CitationKey] = e.Raw
	}
	return s, nil
}

// Done reports whether key was already finalized, returning its
// stored text.
func (s *Store) Done(key string) (string, bool) {
	text, ok := s.texts[key]
	return text, ok
}

// Count returns the number of finalized records.
func (s *Store) Count() int { return len(s.order) }

// Add finalizes a record and rewrites the output artifact. Adding a
// key again replaces its text without changing its position.
func (s *Store) Add(key, text string) error {
	if _, ok := s.texts[key]; !ok {
		s.order = append(s.order, key)
	}
	s.texts[key] = text
	return s.flush()
}

func (s *Store) flush() error {
	blocks := make([]string, 0, len(s.order))
	for _, key := range s.order {
		blocks = append(blocks, s.texts[key])
	}
	if err := writeAtomic(s.path, []byte(strings.Join(blocks, "\n\n"))); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// writeAtomic replaces path's content through a temp file in the same
// directory, so a crash mid-write never leaves a truncated artifact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
