// Package config provides configuration loading and structs for the docvec server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/docvec/internal/vector"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	LogDir      string            `yaml:"log_dir"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	VectorStore VectorStoreConfig `yaml:"vectorstore"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxUploadMB    int64  `yaml:"max_upload_mb"`
}

// StorageConfig holds paths for the catalogue, indices and uploads.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
	VectorDBDir    string `yaml:"vectordb_dir"`
	UploadDir      string `yaml:"upload_dir"`
}

// EmbeddingConfig holds embedder settings. Backend "onnx" needs ModelPath; "hash" needs nothing.
type EmbeddingConfig struct {
	Backend    string `yaml:"backend"`
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	Device     string `yaml:"device"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// ChunkingConfig holds splitter settings, counted in characters.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// VectorStoreConfig holds vector index settings.
type VectorStoreConfig struct {
	IndexType    string `yaml:"index_type"`
	SaveInterval int    `yaml:"save_interval"`
}

// WatchConfig holds upload directory watch settings.
type WatchConfig struct {
	Enabled     *bool    `yaml:"enabled"`
	Directories []string `yaml:"directories"`
	Exclude     []string `yaml:"exclude"`
	DebounceMS  int      `yaml:"debounce_ms"`
	Recursive   *bool    `yaml:"recursive"`
	SyncOnStart *bool    `yaml:"sync_on_start"`
}

// EnabledOrDefault returns whether the upload directory is watched; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	return w.Enabled == nil || *w.Enabled
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	return w.Recursive == nil || *w.Recursive
}

// SyncOnStartOrDefault returns whether existing files are ingested when watching starts; defaults
// to true when unset.
func (w *WatchConfig) SyncOnStartOrDefault() bool {
	return w.SyncOnStart == nil || *w.SyncOnStart
}

// Load reads and parses the config file at path, applies DOCVEC_* environment overrides and
// defaults, expands paths, and validates the result.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, filepath.Dir(path))
}

// LoadOrDefault loads path when it exists and otherwise starts from defaults, with paths relative
// to the working directory.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	return finish(&Config{}, wd)
}

func finish(cfg *Config, configDir string) (*Config, error) {
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)

	cfg.LogDir = expandPath(cfg.LogDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorDBDir = expandPath(cfg.Storage.VectorDBDir, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunking.chunk_size must be positive"))
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size)"))
	}
	if c.VectorStore.SaveInterval <= 0 {
		errs = append(errs, fmt.Errorf("vectorstore.save_interval must be positive"))
	}
	switch vector.IndexType(c.VectorStore.IndexType) {
	case vector.IndexTypeMemory, vector.IndexTypeFAISS:
	default:
		errs = append(errs, fmt.Errorf("vectorstore.index_type %q is not one of %q, %q",
			c.VectorStore.IndexType, vector.IndexTypeMemory, vector.IndexTypeFAISS))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
