package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/docvec/internal/chunker"
	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/extract"
	"github.com/hyperjump/docvec/internal/ingest"
	"github.com/hyperjump/docvec/internal/keyword"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/storage"
	"github.com/hyperjump/docvec/internal/vector"
	"github.com/hyperjump/docvec/internal/vectorstore"
)

type vectorBackend interface {
	ingest.VectorStore
	VectorStore
}

// fakeVectors fails on demand and otherwise accepts everything.
type fakeVectors struct {
	addErr     error
	updateErr  error
	persistErr error
	hits       []vector.Hit
	size       int
}

func (f *fakeVectors) AddTexts(_ context.Context, chunks []vector.Chunk) error {
	if f.addErr == nil || errors.Is(f.addErr, vectorstore.ErrPersistence) {
		f.size += len(chunks)
	}
	return f.addErr
}

func (f *fakeVectors) CreateOrUpdate(_ context.Context, chunks []vector.Chunk, _ bool) error {
	return f.updateErr
}

func (f *fakeVectors) Persist(context.Context) error { return f.persistErr }

func (f *fakeVectors) Search(context.Context, string, int) ([]vector.Hit, error) {
	return f.hits, nil
}

func (f *fakeVectors) Status() vectorstore.Status {
	return vectorstore.Status{State: "populated", Size: f.size}
}

type watchStub []string

func (w watchStub) Directories() []string { return w }

func newTestServer(t *testing.T, vectors vectorBackend) (*Server, *ingest.Service) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "catalogue.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "keyword")
	cfg.Storage.VectorDBDir = filepath.Join(dir, "vectordb")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	config.ApplyDefaults(cfg)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	catalogue, err := keyword.NewMemIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalogue.Close() })

	if vectors == nil {
		manager, err := vectorstore.New(vectorstore.Config{Dir: cfg.Storage.VectorDBDir, SaveInterval: 10},
			embedding.NewHashEmbedder(32))
		require.NoError(t, err)
		t.Cleanup(func() { _ = manager.Close() })
		vectors = manager
	}

	chunks, err := chunker.New(100, 10)
	require.NoError(t, err)
	svc := ingest.NewService(store, catalogue, vectors, chunks, cfg.Storage.UploadDir)
	return NewServer(svc, vectors, cfg, nil, WithWatcher(watchStub{cfg.Storage.UploadDir})), svc
}

type upload struct {
	name, content string
}

func uploadRequest(t *testing.T, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func paragraphs(n int, word string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s paragraph number %d with enough words to stand alone in a chunk", word, i)
	}
	return strings.Join(parts, "\n\n")
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestUploadListGetSearch(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := serve(srv, uploadRequest(t,
		upload{"alpha.txt", paragraphs(3, "alpha")},
		upload{"beta.md", paragraphs(2, "beta")},
	))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up struct {
		Results []uploadResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&up))
	require.Len(t, up.Results, 2)
	assert.Equal(t, 3, up.Results[0].Chunks)
	assert.Equal(t, 2, up.Results[1].Chunks)
	alphaID := up.Results[0].DocumentID
	require.NotEmpty(t, alphaID)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents?q=alpha", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Documents []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"documents"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Documents, 1)
	assert.Equal(t, alphaID, list.Documents[0].ID)
	assert.Empty(t, list.Documents[0].Content, "listing omits document text")

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+alphaID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Chunks []json.RawMessage `json:"chunks"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Len(t, got.Chunks, 3)

	w = serve(srv, jsonRequest(http.MethodPost, "/api/v1/search", `{"query":"alpha paragraph number 1","limit":2}`))
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Results, 2)
	assert.NotEmpty(t, res.Results[0].Title)
}

func TestUpload_Errors(t *testing.T) {
	embedErr := &vectorstore.Error{Op: "add", Kind: vectorstore.ErrEmbedding, Err: errors.New("model offline")}
	persistErr := &vectorstore.Error{Op: "persist", Kind: vectorstore.ErrPersistence, Err: errors.New("disk full")}

	tests := []struct {
		name          string
		file          upload
		addErr        error
		wantStatus    int
		wantPersisted bool
	}{
		{"unsupported", upload{"setup.exe", "MZ"}, nil, http.StatusUnsupportedMediaType, true},
		{"extraction", upload{"broken.pdf", "not a pdf"}, nil, http.StatusUnprocessableEntity, true},
		{"embedding", upload{"a.txt", paragraphs(1, "a")}, embedErr, http.StatusBadGateway, true},
		{"persistence", upload{"b.txt", paragraphs(1, "b")}, persistErr, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeVectors{addErr: tt.addErr})
			w := serve(srv, uploadRequest(t, tt.file))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			out := decode(t, w)
			persisted, present := out["persisted"]
			if tt.wantPersisted {
				assert.False(t, present)
			} else {
				assert.Equal(t, false, persisted)
			}
			results := out["results"].([]interface{})
			require.Len(t, results, 1)
			assert.NotEmpty(t, results[0].(map[string]interface{})["error"])
			if tt.wantStatus == http.StatusUnsupportedMediaType {
				assert.Contains(t, out["supported_extensions"], ".pdf")
			}
		})
	}
}

func TestUpload_PartialFailureStillIngestsOthers(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	w := serve(srv, uploadRequest(t,
		upload{"setup.exe", "MZ"},
		upload{"ok.txt", paragraphs(1, "ok")},
	))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Documents)
}

func TestUpload_NoFiles(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := serve(srv, uploadRequest(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := jsonRequest(http.MethodPost, "/api/v1/documents/upload", `{}`)
	w = serve(srv, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.config.Server.MaxUploadMB = 1
	w := serve(srv, uploadRequest(t, upload{"big.txt", strings.Repeat("x", 2<<20)}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGetDocument_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/doc-missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	w := serve(srv, uploadRequest(t, upload{"gone.txt", paragraphs(1, "gone")}))
	require.Equal(t, http.StatusCreated, w.Code)
	var up struct {
		Results []uploadResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&up))

	w = serve(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+up.Results[0].DocumentID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NoFileExists(t, filepath.Join(svc.UploadDir(), "gone.txt"))

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+up.Results[0].DocumentID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDocuments_InvalidParams(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, q := range []string{"offset=-1", "offset=x", "limit=0", "limit=abc"} {
		w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["documents"])
}

func TestUpdate(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := serve(srv, uploadRequest(t, upload{"a.txt", paragraphs(2, "a")}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(srv, jsonRequest(http.MethodPost, "/api/v1/vectordb/update", `{"force_rebuild":true}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, float64(2), out["chunks"])
	assert.Equal(t, true, out["force_rebuild"])

	// An empty body means an incremental update.
	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/vectordb/update", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["chunks"])

	w = serve(srv, jsonRequest(http.MethodPost, "/api/v1/vectordb/update", `{"force_rebuild":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdate_PersistenceFailure(t *testing.T) {
	persistErr := &vectorstore.Error{Op: "persist", Kind: vectorstore.ErrPersistence, Err: errors.New("disk full")}
	srv, _ := newTestServer(t, &fakeVectors{updateErr: persistErr})
	w := serve(srv, jsonRequest(http.MethodPost, "/api/v1/vectordb/update", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decode(t, w)["persisted"])
}

func TestPersist(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := serve(srv, uploadRequest(t, upload{"a.txt", paragraphs(1, "a")}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/vectordb/persist", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["persisted"])
	assert.Equal(t, float64(1), out["snapshot_version"])
}

func TestPersist_Failure(t *testing.T) {
	persistErr := &vectorstore.Error{Op: "persist", Kind: vectorstore.ErrPersistence, Err: errors.New("read-only")}
	srv, _ := newTestServer(t, &fakeVectors{persistErr: persistErr})
	w := serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/vectordb/persist", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decode(t, w)["persisted"])
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := serve(srv, uploadRequest(t, upload{"a.txt", paragraphs(3, "a")}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/vectordb/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)

	catalogue := out["catalogue"].(map[string]interface{})
	assert.Equal(t, float64(1), catalogue["documents"])
	assert.Equal(t, float64(3), catalogue["chunks"])
	assert.Equal(t, float64(0), catalogue["pending_chunks"])

	vdb := out["vectordb"].(map[string]interface{})
	assert.Equal(t, float64(3), vdb["size"])
	assert.Equal(t, float64(3), vdb["docs_since_persist"])

	assert.Contains(t, out, "disk_usage_bytes")
	assert.Len(t, out["watch_directories"], 1)
	assert.Equal(t, float64(1000), out["config"].(map[string]interface{})["chunk_size"])
}

func TestSearch_Validation(t *testing.T) {
	long := strings.Repeat("word ", 200)
	srv, _ := newTestServer(t, &fakeVectors{hits: []vector.Hit{
		{ID: 7, Chunk: vector.Chunk{Text: long, SourceID: "doc-1"}, Score: 0.9},
	}})

	w := serve(srv, jsonRequest(http.MethodPost, "/api/v1/search", `{"query":"   "}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(srv, jsonRequest(http.MethodPost, "/api/v1/search", `not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(srv, jsonRequest(http.MethodPost, "/api/v1/search", `{"query":"word"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "doc-1", res.Results[0].DocumentID)
	assert.Equal(t, int64(7), res.Results[0].ID)
	assert.True(t, strings.HasSuffix(res.Results[0].Text, "..."))
	assert.Len(t, []rune(res.Results[0].Text), previewLength+3)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", extract.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{&extract.ExtractionError{Path: "a.pdf", Err: errors.New("bad xref")}, http.StatusUnprocessableEntity},
		{&vectorstore.Error{Op: "add", Kind: vectorstore.ErrEmbedding, Err: errors.New("x")}, http.StatusBadGateway},
		{&vectorstore.Error{Op: "persist", Kind: vectorstore.ErrPersistence, Err: errors.New("x")}, http.StatusServiceUnavailable},
		{fmt.Errorf("get: %w", storage.ErrNotFound), http.StatusNotFound},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), tt.err.Error())
	}
}
