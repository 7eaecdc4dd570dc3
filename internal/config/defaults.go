package config

import (
	"github.com/hyperjump/docvec/internal/chunker"
	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/vector"
	"github.com/hyperjump/docvec/internal/vectorstore"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TimeoutSeconds == 0 {
		cfg.Server.TimeoutSeconds = 300
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 100
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/catalogue.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "./data/keyword"
	}
	if cfg.Storage.VectorDBDir == "" {
		cfg.Storage.VectorDBDir = "./data/vectordb"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./data/uploads"
	}
	if cfg.Embedding.Backend == "" {
		if cfg.Embedding.ModelPath != "" {
			cfg.Embedding.Backend = embedding.BackendONNX
		} else {
			cfg.Embedding.Backend = embedding.BackendHash
		}
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-m3"
	}
	if cfg.Embedding.Device == "" {
		cfg.Embedding.Device = "cpu"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = embedding.DefaultDimensions
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 512
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = chunker.DefaultChunkSize
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = chunker.DefaultChunkOverlap
		if cfg.Chunking.ChunkOverlap >= cfg.Chunking.ChunkSize {
			cfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkSize / 5
		}
	}
	if cfg.VectorStore.IndexType == "" {
		cfg.VectorStore.IndexType = string(vector.IndexTypeMemory)
	}
	if cfg.VectorStore.SaveInterval == 0 {
		cfg.VectorStore.SaveInterval = vectorstore.DefaultSaveInterval
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 500
	}
	if cfg.Watch.Exclude == nil {
		cfg.Watch.Exclude = []string{"**/.*", "**/~$*", "**/*.tmp"}
	}
}
