package ingest

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hyperjump/docvec/internal/extract"
)

// Filter decides which files under a root are ingested: the extension must be supported and
// neither the relative path nor the base name may match an exclude glob.
type Filter struct {
	exclude []string
}

// NewFilter validates the exclude globs (doublestar syntax, "**" crosses directories).
func NewFilter(exclude []string) (*Filter, error) {
	for _, p := range exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return &Filter{exclude: append([]string(nil), exclude...)}, nil
}

// Excluded reports whether relPath matches an exclude glob. A nil filter excludes nothing.
func (f *Filter) Excluded(relPath string) bool {
	if f == nil {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	base := filepath.Base(relPath)
	for _, pattern := range f.exclude {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Accept reports whether the file at relPath should be ingested.
func (f *Filter) Accept(relPath string) bool {
	return extract.Supported(filepath.Ext(relPath)) && !f.Excluded(relPath)
}
