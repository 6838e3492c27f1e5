package ledger

import (
	"database/sql"
	"errors"

	"github.com/gaslift/facilitator/internal/metrics"
)

// WriterConfig holds configuration for creating a ledger writer.
type WriterConfig struct {
	Backend         string  // "memory", "postgres", or "mongodb"
	PostgresURL     string  // Connection string for postgres
	PostgresDB      *sql.DB // Optional shared database connection
	MongoDBURL      string
	MongoDBDatabase string
	Metrics         *metrics.Metrics
}

// NewWriter creates a ledger writer based on configuration.
func NewWriter(cfg WriterConfig) (Writer, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryWriter(), nil
	case "postgres":
		if cfg.PostgresDB != nil {
			return NewPostgresWriterWithDB(cfg.PostgresDB, cfg.Metrics), nil
		}
		if cfg.PostgresURL == "" {
			return nil, errors.New("postgres_url required for postgres backend")
		}
		return NewPostgresWriter(cfg.PostgresURL, cfg.Metrics)
	case "mongodb":
		if cfg.MongoDBURL == "" || cfg.MongoDBDatabase == "" {
			return nil, errors.New("mongodb_url and mongodb_database required for mongodb backend")
		}
		return NewMongoWriter(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.Metrics)
	default:
		return nil, errors.New("unknown ledger backend: " + cfg.Backend)
	}
}
