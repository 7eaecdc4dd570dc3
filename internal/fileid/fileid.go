// Package fileid derives stable document IDs from file paths, so re-ingesting or watching the same
// file always addresses the same catalogue rows.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const (
	prefix = "doc-"
	// hex characters kept from the digest
	idLength = 32
)

// Resolve returns the cleaned absolute form of path.
func Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// DocID returns the document ID for an already resolved path.
func DocID(resolvedPath string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(resolvedPath)))
	return prefix + hex.EncodeToString(hash[:])[:idLength]
}

// ForPath resolves path and returns it together with its document ID.
func ForPath(path string) (resolved, id string, err error) {
	resolved, err = Resolve(path)
	if err != nil {
		return "", "", err
	}
	return resolved, DocID(resolved), nil
}
