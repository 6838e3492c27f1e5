package sponsor

import (
	"context"
	"database/sql"
	"errors"
)

// Common errors returned by repository operations.
var (
	ErrNotFound = errors.New("sponsor wallet not found")
)

// Repository defines the interface for sponsor wallet and rule storage.
type Repository interface {
	// GetWallet retrieves a sponsor wallet by ID.
	GetWallet(ctx context.Context, id string) (SponsorWallet, error)

	// GetDedicatedWallet finds the wallet dedicated to a specific payer on a
	// network. Returns ErrNotFound when the payer has no dedicated wallet.
	GetDedicatedWallet(ctx context.Context, network, payer string) (SponsorWallet, error)

	// ListRules returns the enabled rules for a network ordered by
	// descending priority.
	ListRules(ctx context.Context, network string) ([]SponsorRule, error)

	// ListWallets returns every enabled sponsor wallet, across all networks.
	// Used by the gas balance monitor.
	ListWallets(ctx context.Context) ([]SponsorWallet, error)

	// PutWallet inserts or replaces a sponsor wallet.
	PutWallet(ctx context.Context, w SponsorWallet) error

	// PutRule inserts or replaces a routing rule.
	PutRule(ctx context.Context, r SponsorRule) error

	// Close releases any resources held by the repository.
	Close() error
}

// RepositoryConfig holds configuration for creating a repository.
type RepositoryConfig struct {
	Backend     string  // "memory" or "postgres"
	PostgresURL string  // Connection string for postgres
	PostgresDB  *sql.DB // Optional shared database connection
}

// NewRepository creates a repository based on configuration.
func NewRepository(cfg RepositoryConfig) (Repository, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryRepository(), nil
	case "postgres":
		if cfg.PostgresDB != nil {
			return NewPostgresRepositoryWithDB(cfg.PostgresDB), nil
		}
		if cfg.PostgresURL == "" {
			return nil, errors.New("postgres_url required for postgres backend")
		}
		return NewPostgresRepository(cfg.PostgresURL)
	default:
		return nil, errors.New("unknown sponsor repository backend: " + cfg.Backend)
	}
}
