package quota

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

// ErrNoAssignment reports a payer with no stored tier assignment.
var ErrNoAssignment = errors.New("no tier assignment")

// Repository stores tier assignments and monthly usage counters.
type Repository interface {
	// GetAssignment returns the tier name assigned to a payer.
	// Returns ErrNoAssignment for unknown payers.
	GetAssignment(ctx context.Context, payer string) (string, error)

	// PutAssignment assigns a payer to a tier.
	PutAssignment(ctx context.Context, payer, tier string) error

	// Usage returns the number of settlements consumed in the period.
	Usage(ctx context.Context, payer string, period Period) (int64, error)

	// Increment atomically adds one settlement to the period's counter and
	// returns the new total.
	Increment(ctx context.Context, payer string, period Period) (int64, error)

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
		return nil, errors.New("unknown quota repository backend: " + cfg.Backend)
	}
}

// MemoryRepository implements Repository with in-process maps.
type MemoryRepository struct {
	mu          sync.Mutex
	assignments map[string]string
	usage       map[string]int64 // payer + period start
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assignments: make(map[string]string),
		usage:       make(map[string]int64),
	}
}

// GetAssignment returns the tier name assigned to a payer.
func (m *MemoryRepository) GetAssignment(_ context.Context, payer string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tier, ok := m.assignments[strings.ToLower(payer)]
	if !ok {
		return "", ErrNoAssignment
	}
	return tier, nil
}

// PutAssignment assigns a payer to a tier.
func (m *MemoryRepository) PutAssignment(_ context.Context, payer, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[strings.ToLower(payer)] = tier
	return nil
}

// Usage returns the number of settlements consumed in the period.
func (m *MemoryRepository) Usage(_ context.Context, payer string, period Period) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[usageKey(payer, period)], nil
}

// Increment adds one settlement to the period's counter.
func (m *MemoryRepository) Increment(_ context.Context, payer string, period Period) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := usageKey(payer, period)
	m.usage[key]++
	return m.usage[key], nil
}

// Close is a no-op for the memory repository.
func (m *MemoryRepository) Close() error {
	return nil
}

func usageKey(payer string, period Period) string {
	return strings.ToLower(payer) + ":" + period.Start.Format("2006-01")
}
