// Package ingest turns uploaded files into catalogue rows and index vectors: extract, chunk,
// store, then hand the chunks to the vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/chunker"
	"github.com/hyperjump/docvec/internal/extract"
	"github.com/hyperjump/docvec/internal/fileid"
	"github.com/hyperjump/docvec/internal/keyword"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/storage"
	"github.com/hyperjump/docvec/internal/vector"
	"github.com/hyperjump/docvec/internal/vectorstore"
)

// VectorStore is the part of vectorstore.Manager the service writes through.
type VectorStore interface {
	AddTexts(ctx context.Context, chunks []vector.Chunk) error
	CreateOrUpdate(ctx context.Context, chunks []vector.Chunk, forceRebuild bool) error
}

// Result describes one ingested file.
type Result struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
	Title      string `json:"title"`
	Chunks     int    `json:"chunks"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// UpdateResult describes one vector store update from the catalogue.
type UpdateResult struct {
	Chunks       int  `json:"chunks"`
	ForceRebuild bool `json:"force_rebuild"`
}

// Service ingests files into the catalogue, the keyword catalogue and the vector store.
type Service struct {
	store     storage.Storage
	catalogue keyword.Catalogue
	vectors   VectorStore
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	uploadDir string
	filter    *Filter
	logger    *zap.Logger

	// mu keeps catalogue rows and their indexed flags consistent with what reached the vector store.
	mu sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for ingest events.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFilter sets the exclude filter applied by IngestDirectory.
func WithFilter(f *Filter) ServiceOption {
	return func(s *Service) { s.filter = f }
}

// NewService creates a service. uploadDir is where SaveUpload writes files.
func NewService(
	store storage.Storage,
	catalogue keyword.Catalogue,
	vectors VectorStore,
	chunks *chunker.Chunker,
	uploadDir string,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		store:     store,
		catalogue: catalogue,
		vectors:   vectors,
		extractor: extract.NewExtractor(),
		chunker:   chunks,
		uploadDir: uploadDir,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadDir returns the directory uploads are written to.
func (s *Service) UploadDir() string { return s.uploadDir }

// IngestFile extracts, chunks and stores the file at path, then adds its chunks to the vector
// store. A file whose size and modification time match the catalogue is skipped.
//
// If the chunks reached the index but the triggered persist failed, they are marked indexed and
// the ErrPersistence error is returned together with the result.
func (s *Service) IngestFile(ctx context.Context, path string) (*Result, error) {
	resolved, docID, err := fileid.ForPath(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(resolved))
	if !extract.Supported(ext) {
		return nil, fmt.Errorf("%s: %w", resolved, extract.ErrUnsupportedFormat)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", resolved)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.store.GetDocumentByPath(ctx, resolved); err == nil {
		if existing.Unchanged(info.Size(), info.ModTime()) {
			// The keyword catalogue may have been recreated empty.
			if err := s.catalogue.Index(ctx, existing); err != nil {
				s.logger.Warn("keyword index unchanged document", zap.String("path", resolved), zap.Error(err))
			}
			s.logger.Debug("skipping unchanged file", zap.String("path", resolved))
			return &Result{DocumentID: existing.ID, Path: resolved, Title: existing.Title, Chunks: existing.ChunkCount, Skipped: true}, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up document: %w", err)
	}

	segments, err := s.extractor.Extract(resolved)
	if err != nil {
		return nil, err
	}
	chunks := s.chunker.Chunk(docID, segments)

	doc := &models.Document{
		ID:          docID,
		Title:       filepath.Base(resolved),
		SourcePath:  resolved,
		ContentType: extract.ContentType(ext),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Content:     strings.Join(segments, "\n\n"),
	}
	if err := s.store.ReplaceDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := s.catalogue.Index(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to index keywords: %w", err)
	}
	result := &Result{DocumentID: docID, Path: resolved, Title: doc.Title, Chunks: len(chunks)}
	if len(chunks) == 0 {
		s.logger.Info("file has no text", zap.String("path", resolved))
		return result, nil
	}

	addErr := s.vectors.AddTexts(ctx, toVectorChunks(chunks))
	if addErr != nil && !errors.Is(addErr, vectorstore.ErrPersistence) {
		// Chunks stay pending; the next update picks them up.
		return nil, addErr
	}
	if err := s.store.MarkChunksIndexed(ctx, chunkIDs(chunks)); err != nil {
		return nil, fmt.Errorf("failed to mark chunks indexed: %w", errors.Join(err, addErr))
	}
	s.logger.Info("file ingested",
		zap.String("path", resolved),
		zap.String("doc_id", docID),
		zap.Int("segments", len(segments)),
		zap.Int("chunks", len(chunks)))
	return result, addErr
}

// Update feeds catalogue chunks to the vector store and persists it. With forceRebuild the index
// is rebuilt from every chunk in the catalogue; otherwise only chunks not yet indexed are added.
func (s *Service) Update(ctx context.Context, forceRebuild bool) (*UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		chunks []*models.DocumentChunk
		err    error
	)
	if forceRebuild {
		chunks, err = s.store.ListAllChunks(ctx)
	} else {
		chunks, err = s.store.ListPendingChunks(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	s.logger.Info("updating vector store", zap.Bool("force_rebuild", forceRebuild), zap.Int("chunks", len(chunks)))
	updateErr := s.vectors.CreateOrUpdate(ctx, toVectorChunks(chunks), forceRebuild)
	if updateErr != nil && !errors.Is(updateErr, vectorstore.ErrPersistence) {
		return nil, updateErr
	}
	if err := s.store.MarkChunksIndexed(ctx, chunkIDs(chunks)); err != nil {
		return nil, fmt.Errorf("failed to mark chunks indexed: %w", errors.Join(err, updateErr))
	}
	return &UpdateResult{Chunks: len(chunks), ForceRebuild: forceRebuild}, updateErr
}

// Remove drops the document ingested from path from the catalogue and the keyword catalogue.
// Its vectors stay in the index until the next forced rebuild. Unknown paths are not an error.
func (s *Service) Remove(ctx context.Context, path string) error {
	resolved, err := fileid.Resolve(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.store.GetDocumentByPath(ctx, resolved)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up document: %w", err)
	}
	if err := s.catalogue.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	s.logger.Info("document removed", zap.String("path", resolved), zap.String("doc_id", doc.ID))
	return nil
}

// ListDocuments returns catalogued documents. A non-empty query keeps only documents whose title
// or text contains every query term.
func (s *Service) ListDocuments(ctx context.Context, query string, offset, limit int) ([]*models.Document, error) {
	if strings.TrimSpace(query) == "" {
		return s.store.ListDocuments(ctx, offset, limit)
	}
	ids, err := s.catalogue.Search(ctx, query, offset+limit, nil)
	if err != nil {
		return nil, err
	}
	if offset >= len(ids) {
		return []*models.Document{}, nil
	}
	ids = ids[offset:]
	docs := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.store.GetDocument(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Document returns a catalogued document without its chunks.
func (s *Service) Document(ctx context.Context, id string) (*models.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// GetDocument returns a document and its chunks.
func (s *Service) GetDocument(ctx context.Context, id string) (*models.Document, []*models.DocumentChunk, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.store.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

// Stats counts catalogue rows.
type Stats struct {
	Documents     int64 `json:"documents"`
	Chunks        int64 `json:"chunks"`
	PendingChunks int64 `json:"pending_chunks"`
}

// Stats returns catalogue counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Documents, err = s.store.CountDocuments(ctx); err != nil {
		return st, err
	}
	if st.Chunks, err = s.store.CountChunks(ctx); err != nil {
		return st, err
	}
	if st.PendingChunks, err = s.store.CountPendingChunks(ctx); err != nil {
		return st, err
	}
	return st, nil
}

func toVectorChunks(chunks []*models.DocumentChunk) []vector.Chunk {
	out := make([]vector.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = vector.Chunk{Text: c.Content, SourceID: c.DocumentID}
	}
	return out
}

func chunkIDs(chunks []*models.DocumentChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
