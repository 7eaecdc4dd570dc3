// Package embedding turns chunk text into fixed-dimension vectors.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder produces vector embeddings for text. Output for a given text is deterministic for a
// fixed model configuration, and every vector has length Dimensions().
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Backend names accepted by New.
const (
	BackendONNX = "onnx"
	BackendHash = "hash"
)

// Config selects and configures an embedder backend.
type Config struct {
	Backend    string
	Model      string // model identifier, informational
	ModelPath  string // path to the .onnx file
	Device     string // "cpu" or "cuda"
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New returns the embedder described by cfg. An empty backend means onnx when a model path is
// configured and hash otherwise.
func New(cfg Config) (Embedder, error) {
	backend := strings.ToLower(cfg.Backend)
	if backend == "" {
		backend = BackendHash
		if cfg.ModelPath != "" {
			backend = BackendONNX
		}
	}
	switch backend {
	case BackendHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case BackendONNX:
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("onnx backend requires a model path")
		}
		return NewONNXEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (supported: onnx, hash)", cfg.Backend)
	}
}

// embedEach embeds texts one by one, stopping at the first failure.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
