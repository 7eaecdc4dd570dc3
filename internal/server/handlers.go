package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/extract"
	"github.com/hyperjump/docvec/internal/ingest"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/storage"
	"github.com/hyperjump/docvec/internal/vectorstore"
	"github.com/hyperjump/docvec/pkg/utils"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 500
	defaultSearchLimit = 5
	maxSearchLimit     = 100
	previewLength      = 300
	multipartMemory    = 32 << 20
)

// statusForError maps error kinds to HTTP status codes.
func statusForError(err error) int {
	var extractErr *extract.ExtractionError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &extractErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vectorstore.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, vectorstore.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResult struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id,omitempty"`
	Chunks     int    `json:"chunks"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleUpload stores each file of the multipart field "files" in the upload directory and
// ingests it. Every file is attempted; the first failure decides the response status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		s.respondError(w, status, "invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, `no files in form field "files"`)
		return
	}

	status := http.StatusCreated
	persisted := true
	results := make([]uploadResult, 0, len(files))
	for _, fh := range files {
		res := uploadResult{Filename: fh.Filename}
		ingested, err := s.ingestUpload(r, fh)
		if ingested != nil {
			res.DocumentID = ingested.DocumentID
			res.Chunks = ingested.Chunks
			res.Skipped = ingested.Skipped
		}
		if err != nil {
			s.logger.Warn("upload failed", zap.String("file", fh.Filename), zap.Error(err))
			res.Error = err.Error()
			if errors.Is(err, vectorstore.ErrPersistence) {
				persisted = false
			}
			if status == http.StatusCreated {
				status = statusForError(err)
			}
		}
		results = append(results, res)
	}

	resp := map[string]interface{}{"results": results}
	if !persisted {
		resp["persisted"] = false
	}
	if status == http.StatusUnsupportedMediaType {
		resp["supported_extensions"] = extract.SupportedExtensions()
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) ingestUpload(r *http.Request, fh *multipart.FileHeader) (*ingest.Result, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	path, err := s.ingest.SaveUpload(fh.Filename, f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	return s.ingest.IngestFile(r.Context(), path)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := strings.TrimSpace(q.Get("q"))
	docs, err := s.ingest.ListDocuments(r.Context(), query, offset, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	for _, d := range docs {
		d.Content = ""
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"query":     query,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, chunks, err := s.ingest.GetDocument(r.Context(), id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("get document failed", zap.String("id", id), zap.Error(err))
		}
		s.respondError(w, statusForError(err), "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document": doc, "chunks": chunks})
}

// handleDeleteDocument drops a document from the catalogue. A file inside the upload directory is
// deleted too, so the watcher does not ingest it again.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, _, err := s.ingest.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, statusForError(err), "document not found")
		return
	}
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.ingest.DeleteUpload(r.Context(), doc.SourcePath); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

type updateRequest struct {
	ForceRebuild bool `json:"force_rebuild"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.ingest.Update(r.Context(), req.ForceRebuild)
	if err != nil {
		s.logger.Error("vector store update failed", zap.Bool("force_rebuild", req.ForceRebuild), zap.Error(err))
		resp := map[string]interface{}{"error": err.Error()}
		if errors.Is(err, vectorstore.ErrPersistence) {
			resp["persisted"] = false
			if res != nil {
				resp["chunks"] = res.Chunks
			}
		}
		s.respondJSON(w, statusForError(err), resp)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "updated",
		"chunks":        res.Chunks,
		"force_rebuild": res.ForceRebuild,
		"vectordb":      s.vectors.Status(),
	})
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if err := s.vectors.Persist(r.Context()); err != nil {
		s.logger.Error("persist failed", zap.Error(err))
		s.respondJSON(w, statusForError(err), map[string]interface{}{"error": err.Error(), "persisted": false})
		return
	}
	st := s.vectors.Status()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "persisted",
		"persisted":        true,
		"snapshot_version": st.SnapshotVersion,
		"size":             st.Size,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ingest.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: count catalogue failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg := s.config
	resp := map[string]interface{}{
		"vectordb":  s.vectors.Status(),
		"catalogue": stats,
		"config":    ConfigSummary(cfg),
	}
	diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorDBDir)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("limit", req.Limit))

	resp, err := Search(r.Context(), s.ingest, s.vectors, req.Query, req.Limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// Search runs a similarity lookup and decorates each hit with its document title and a text
// preview.
func Search(ctx context.Context, svc *ingest.Service, vectors VectorStore, query string, limit int) (*models.SearchResponse, error) {
	start := time.Now()
	hits, err := vectors.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{Query: query, Results: make([]*models.SearchResult, 0, len(hits))}
	titles := make(map[string]string)
	for _, h := range hits {
		id := h.Chunk.SourceID
		title, ok := titles[id]
		if !ok {
			// Vectors of removed documents stay until a rebuild; they keep an empty title.
			if doc, err := svc.Document(ctx, id); err == nil {
				title = doc.Title
			}
			titles[id] = title
		}
		resp.Results = append(resp.Results, &models.SearchResult{
			ID:         h.ID,
			DocumentID: id,
			Title:      title,
			Score:      h.Score,
			Text:       utils.Truncate(h.Chunk.Text, previewLength),
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// ConfigSummary lists the settings reported by the status endpoint.
func ConfigSummary(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"embedding_backend":    cfg.Embedding.Backend,
		"embedding_model":      cfg.Embedding.Model,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"device":               cfg.Embedding.Device,
		"chunk_size":           cfg.Chunking.ChunkSize,
		"chunk_overlap":        cfg.Chunking.ChunkOverlap,
		"save_interval":        cfg.VectorStore.SaveInterval,
		"index_type":           cfg.VectorStore.IndexType,
		"vectordb_dir":         cfg.Storage.VectorDBDir,
		"upload_dir":           cfg.Storage.UploadDir,
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
