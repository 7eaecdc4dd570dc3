package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
chunking:
  chunk_size: 500
  chunk_overlap: 50
vectorstore:
  save_interval: 25
storage:
  database_path: "/tmp/docvec-test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Chunking.ChunkSize != 500 || cfg.Chunking.ChunkOverlap != 50 {
		t.Errorf("unexpected chunking config: %+v", cfg.Chunking)
	}
	if cfg.VectorStore.SaveInterval != 25 {
		t.Errorf("save_interval = %d, want 25", cfg.VectorStore.SaveInterval)
	}
	if cfg.Storage.DatabasePath != "/tmp/docvec-test.db" {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/catalogue.db"
  vectordb_dir: "./data/vectordb"
watch:
  directories: ["./dev/sample"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "db", "catalogue.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "data", "vectordb"); cfg.Storage.VectorDBDir != want {
		t.Errorf("vectordb_dir = %s, want %s", cfg.Storage.VectorDBDir, want)
	}
	// defaults are "./" paths too
	if want := filepath.Join(dir, "data", "uploads"); cfg.Storage.UploadDir != want {
		t.Errorf("upload_dir = %s, want %s", cfg.Storage.UploadDir, want)
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != filepath.Join(dir, "dev", "sample") {
		t.Errorf("watch directories = %v", cfg.Watch.Directories)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("DOCVEC_CHUNK_SIZE", "800")
	t.Setenv("DOCVEC_CHUNK_OVERLAP", "100")
	t.Setenv("DOCVEC_SAVE_INTERVAL", "3")
	t.Setenv("DOCVEC_DEVICE", "cuda")
	t.Setenv("DOCVEC_VECTORDB_DIR", "/srv/vectordb")
	t.Setenv("DOCVEC_EMBEDDING_MODEL", "intfloat/multilingual-e5-small")

	cfg, err := Load(writeConfig(t, `
chunking:
  chunk_size: 500
vectorstore:
  save_interval: 25
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking.ChunkSize != 800 || cfg.Chunking.ChunkOverlap != 100 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.VectorStore.SaveInterval != 3 {
		t.Errorf("save_interval = %d, want 3", cfg.VectorStore.SaveInterval)
	}
	if cfg.Embedding.Device != "cuda" || cfg.Embedding.Model != "intfloat/multilingual-e5-small" {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Storage.VectorDBDir != "/srv/vectordb" {
		t.Errorf("vectordb_dir = %s", cfg.Storage.VectorDBDir)
	}
}

func TestApplyEnv_invalidNumber(t *testing.T) {
	env := map[string]string{"DOCVEC_CHUNK_SIZE": "big", "DOCVEC_DEBUG": "maybe"}
	err := ApplyEnv(&Config{}, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DOCVEC_CHUNK_SIZE") || !strings.Contains(err.Error(), "DOCVEC_DEBUG") {
		t.Errorf("error should name both variables: %v", err)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name, content string
	}{
		{"overlap not below size", "chunking:\n  chunk_size: 100\n  chunk_overlap: 100\n"},
		{"negative save interval", "vectorstore:\n  save_interval: -1\n"},
		{"unknown index type", "vectorstore:\n  index_type: hnsw\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoadOrDefault_missingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(cfg.Storage.VectorDBDir) {
		t.Errorf("vectordb_dir should be absolute, got %s", cfg.Storage.VectorDBDir)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Chunking.ChunkSize != 1000 || cfg.Chunking.ChunkOverlap != 200 {
		t.Errorf("default chunking: %+v", cfg.Chunking)
	}
	if cfg.VectorStore.SaveInterval != 10 || cfg.VectorStore.IndexType != "memory" {
		t.Errorf("default vectorstore: %+v", cfg.VectorStore)
	}
	if cfg.Embedding.Backend != "hash" {
		t.Errorf("without a model path the backend should be hash, got %s", cfg.Embedding.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_onnxWhenModelPathSet(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{ModelPath: "/models/bge-m3.onnx"}}
	ApplyDefaults(cfg)
	if cfg.Embedding.Backend != "onnx" {
		t.Errorf("backend = %s, want onnx", cfg.Embedding.Backend)
	}
}

func TestApplyDefaults_smallChunkSize(t *testing.T) {
	cfg := &Config{Chunking: ChunkingConfig{ChunkSize: 100}}
	ApplyDefaults(cfg)
	if cfg.Chunking.ChunkOverlap != 20 {
		t.Errorf("overlap = %d, want 20", cfg.Chunking.ChunkOverlap)
	}
}

func TestWatchConfig_Defaults(t *testing.T) {
	f := false
	tests := []struct {
		name string
		w    WatchConfig
		want bool
	}{
		{"nil_returns_true", WatchConfig{}, true},
		{"false_returns_false", WatchConfig{Enabled: &f, Recursive: &f, SyncOnStart: &f}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.EnabledOrDefault(); got != tt.want {
				t.Errorf("EnabledOrDefault() = %v, want %v", got, tt.want)
			}
			if got := tt.w.RecursiveOrDefault(); got != tt.want {
				t.Errorf("RecursiveOrDefault() = %v, want %v", got, tt.want)
			}
			if got := tt.w.SyncOnStartOrDefault(); got != tt.want {
				t.Errorf("SyncOnStartOrDefault() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DOCVEC_TEST_DOTENV=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCVEC_TEST_DOTENV", "")
	os.Unsetenv("DOCVEC_TEST_DOTENV")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("DOCVEC_TEST_DOTENV"); got != "from-file" {
		t.Errorf("DOCVEC_TEST_DOTENV = %q", got)
	}
}
