package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hyperjump/docvec/internal/extract"
)

// uploadTmpPrefix marks partially written uploads; the default exclude pattern "**/.*" keeps
// the watcher away from them.
const uploadTmpPrefix = ".upload-"

// SanitizeFilename reduces name to a plain file name: directories are dropped, control
// characters and path separators are removed, and surrounding dots and spaces are trimmed.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' || r == ':' {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" {
		return "", fmt.Errorf("invalid file name")
	}
	return name, nil
}

// SaveUpload writes r to the upload directory under the sanitised name and returns the final
// path. An existing file with the same name is replaced. Unsupported extensions are rejected
// before anything is written.
func (s *Service) SaveUpload(name string, r io.Reader) (string, error) {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if !extract.Supported(filepath.Ext(clean)) {
		return "", fmt.Errorf("%s: %w", clean, extract.ErrUnsupportedFormat)
	}
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.uploadDir, uploadTmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close upload: %w", err)
	}

	final := filepath.Join(s.uploadDir, clean)
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("store upload: %w", err)
	}
	return final, nil
}

// DeleteUpload removes the document ingested from path. When path lies inside the upload
// directory the file is deleted as well; files elsewhere are left alone.
func (s *Service) DeleteUpload(ctx context.Context, path string) error {
	if err := s.Remove(ctx, path); err != nil {
		return err
	}
	if !within(realPath(s.uploadDir), realPath(path)) {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

// realPath returns path made absolute with symlinks resolved, or just absolute when it cannot be
// resolved.
func realPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// within reports whether path lies strictly inside dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
