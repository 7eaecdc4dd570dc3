package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/vectorstore"
)

// FileError records a file that could not be ingested.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// DirectoryResult summarises a directory ingest.
type DirectoryResult struct {
	Ingested int         `json:"ingested"`
	Skipped  int         `json:"skipped"`
	Chunks   int         `json:"chunks"`
	Failed   []FileError `json:"failed,omitempty"`
}

// IngestDirectory walks dir recursively and ingests every accepted regular file. A file that
// fails is recorded and the walk continues; only a walk error or a cancelled ctx stops it.
// progress may be nil.
func (s *Service) IngestDirectory(ctx context.Context, dir string, progress Progress) (*DirectoryResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	files, err := s.collectFiles(absDir)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress.Start(len(files))
		defer progress.Finish()
	}
	res := &DirectoryResult{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := s.IngestFile(ctx, path)
		switch {
		case err == nil || errors.Is(err, vectorstore.ErrPersistence):
			if r.Skipped {
				res.Skipped++
			} else {
				res.Ingested++
				res.Chunks += r.Chunks
			}
			if err != nil {
				res.Failed = append(res.Failed, FileError{Path: path, Err: err.Error()})
			}
		default:
			s.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
			res.Failed = append(res.Failed, FileError{Path: path, Err: err.Error()})
		}
		if progress != nil {
			progress.Increment()
		}
	}
	return res, nil
}

func (s *Service) collectFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && s.filter.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.filter.Accept(rel) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
