package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCVEC_"

// LoadDotEnv loads variables from the given .env files (".env" when none are given) into the
// process environment. Missing files are skipped; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields from DOCVEC_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDEBUG: %w", EnvPrefix, err))
		} else {
			cfg.Debug = b
		}
	}
	str("EMBEDDING_BACKEND", &cfg.Embedding.Backend)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("EMBEDDING_MODEL_PATH", &cfg.Embedding.ModelPath)
	str("DEVICE", &cfg.Embedding.Device)
	num("EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	num("CHUNK_SIZE", &cfg.Chunking.ChunkSize)
	num("CHUNK_OVERLAP", &cfg.Chunking.ChunkOverlap)
	num("SAVE_INTERVAL", &cfg.VectorStore.SaveInterval)
	str("INDEX_TYPE", &cfg.VectorStore.IndexType)
	str("VECTORDB_DIR", &cfg.Storage.VectorDBDir)
	str("UPLOAD_DIR", &cfg.Storage.UploadDir)
	str("DATABASE_PATH", &cfg.Storage.DatabasePath)
	str("LOG_DIR", &cfg.LogDir)
	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}
