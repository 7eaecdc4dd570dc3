package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/chunker"
	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/ingest"
	"github.com/hyperjump/docvec/internal/keyword"
	"github.com/hyperjump/docvec/internal/storage"
	"github.com/hyperjump/docvec/internal/vectorstore"
)

// components holds the long-lived pieces shared by every command.
type components struct {
	Storage *storage.SQLiteStorage
	Keyword *keyword.BleveIndex
	Vectors *vectorstore.Manager
	Filter  *ingest.Filter
	Ingest  *ingest.Service
	closed  bool
}

// Close releases everything. Unpersisted vectors are dropped; callers persist first.
func (c *components) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	if c.Keyword != nil {
		errs = append(errs, c.Keyword.Close())
	}
	if c.Storage != nil {
		errs = append(errs, c.Storage.Close())
	}
	if c.Vectors != nil {
		errs = append(errs, c.Vectors.Close())
	}
	return errors.Join(errs...)
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	embedder, err := embedding.New(embedding.Config{
		Backend:    cfg.Embedding.Backend,
		Model:      cfg.Embedding.Model,
		ModelPath:  cfg.Embedding.ModelPath,
		Device:     cfg.Embedding.Device,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	logger.Info("embedder ready",
		zap.String("backend", cfg.Embedding.Backend),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", embedder.Dimensions()),
	)

	c := &components{}
	c.Vectors, err = vectorstore.New(vectorstore.Config{
		Dir:          cfg.Storage.VectorDBDir,
		SaveInterval: cfg.VectorStore.SaveInterval,
		IndexType:    cfg.VectorStore.IndexType,
	}, embedder, vectorstore.WithLogger(logger))
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	if loadErr := c.Vectors.LoadError(); loadErr != nil {
		logger.Warn("vector store snapshot unreadable, starting empty", zap.Error(loadErr))
	}

	if c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	if c.Keyword, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}
	chunks, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if c.Filter, err = ingest.NewFilter(cfg.Watch.Exclude); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Ingest = ingest.NewService(c.Storage, c.Keyword, c.Vectors, chunks, cfg.Storage.UploadDir,
		ingest.WithLogger(logger), ingest.WithFilter(c.Filter))
	return c, nil
}
