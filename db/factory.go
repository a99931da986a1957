package db

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by the storage config.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// NewProvider constructs the provider selected by the storage config.
func NewProvider(backend, dataDir, postgresDSN string) (IterableProvider, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryProvider(), nil
	case BackendBolt:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create data dir: %w", err)
		}
		return NewBoltProvider(filepath.Join(dataDir, "bankd.db"))
	case BackendPostgres:
		if postgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_dsn")
		}
		return NewPostgresProvider(postgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
