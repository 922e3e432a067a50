package checkpoint

import (
	"fmt"
	"strings"
)

// FailureList records claimed titles that exhausted every provider,
// one per line. The artifact is rewritten after every addition so an
// interrupted run still leaves the failures seen so far on disk.
type FailureList struct {
	path   string
	titles []string
}

// NewFailureList returns an empty failure list writing to path.
func NewFailureList(path string) *FailureList {
	return &FailureList{path: path}
}

// Add records a failed title and rewrites the artifact.
func (f *FailureList) Add(title string) error {
	f.titles = append(f.titles, title)
	return f.Flush()
}

// Flush rewrites the artifact with every recorded title.
func (f *FailureList) Flush() error {
	var b strings.Builder
	for _, title := range f.titles {
		b.WriteString(title)
		b.WriteString("\n")
	}
	if err := writeAtomic(f.path, []byte(b.String())); err != nil {
		return fmt.Errorf("writing failure list: %w", err)
	}
	return nil
}

// Titles returns the recorded titles in failure order.
func (f *FailureList) Titles() []string { return f.titles }

// Count returns the number of recorded failures.
func (f *FailureList) Count() int { return len(f.titles) }
