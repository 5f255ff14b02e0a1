package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"voxelstream.ai/internal/persistence/chunkdb"
	"voxelstream.ai/internal/persistence/memstore"
	"voxelstream.ai/internal/persistence/pgstore"
	"voxelstream.ai/internal/persistence/writeback"
	"voxelstream.ai/internal/provider"
	"voxelstream.ai/internal/tuning"
)

type chunkStorage interface {
	provider.Storage
	Close() error
}

// writebackStats is implemented by the database backends.
type writebackStats interface {
	Stats() writeback.Stats
}

// openStorage picks the chunk storage backend. VS_STORAGE_BACKEND and
// VS_POSTGRES_DSN override the config file.
func openStorage(ctx context.Context, tune tuning.Tuning, dataDir string, logger *log.Logger) (chunkStorage, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_STORAGE_BACKEND")))
	if backend == "" {
		backend = tune.Storage.Backend
	}

	switch backend {
	case tuning.BackendSQLite:
		path := tune.Storage.Path
		if path == "" {
			path = "chunks.sqlite"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dataDir, path)
		}
		s, err := chunkdb.OpenSQLite(path, logger)
		if err != nil {
			return nil, backend, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		return s, backend, nil
	case tuning.BackendPostgres:
		dsn := strings.TrimSpace(os.Getenv("VS_POSTGRES_DSN"))
		if dsn == "" {
			dsn = tune.Storage.DSN
		}
		if dsn == "" {
			return nil, backend, fmt.Errorf("storage backend postgres but no dsn (set VS_POSTGRES_DSN)")
		}
		s, err := pgstore.Open(ctx, dsn, logger)
		if err != nil {
			return nil, backend, fmt.Errorf("open postgres: %w", err)
		}
		return s, backend, nil
	case tuning.BackendMemory:
		logger.Printf("storage backend memory: chunks are lost on exit")
		return memstore.New(), backend, nil
	default:
		return nil, backend, fmt.Errorf("unsupported VS_STORAGE_BACKEND: %s", backend)
	}
}
