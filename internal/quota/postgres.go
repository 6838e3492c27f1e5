package quota

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(connStr string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := &PostgresRepository{db: db, ownsDB: true}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return repo, nil
}

// NewPostgresRepositoryWithDB creates a repository using a shared database connection.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	repo := &PostgresRepository{db: db, ownsDB: false}
	// Attempt to create tables, but don't fail if they already exist
	_ = repo.createTables()
	return repo
}

func (r *PostgresRepository) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS payer_tiers (
			payer      TEXT PRIMARY KEY,
			tier       TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS payer_usage (
			payer        TEXT NOT NULL,
			period_start DATE NOT NULL,
			used         BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (payer, period_start)
		);
	`
	_, err := r.db.Exec(query)
	return err
}

// GetAssignment returns the tier name assigned to a payer.
func (r *PostgresRepository) GetAssignment(ctx context.Context, payer string) (string, error) {
	var tier string
	err := r.db.QueryRowContext(ctx,
		`SELECT tier FROM payer_tiers WHERE payer = LOWER($1)`, payer).Scan(&tier)
	if err == sql.ErrNoRows {
		return "", ErrNoAssignment
	}
	if err != nil {
		return "", fmt.Errorf("query tier assignment: %w", err)
	}
	return tier, nil
}

// PutAssignment assigns a payer to a tier.
func (r *PostgresRepository) PutAssignment(ctx context.Context, payer, tier string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payer_tiers (payer, tier, updated_at)
		VALUES (LOWER($1), $2, NOW())
		ON CONFLICT (payer) DO UPDATE SET tier = EXCLUDED.tier, updated_at = NOW()
	`, payer, tier)
	if err != nil {
		return fmt.Errorf("upsert tier assignment: %w", err)
	}
	return nil
}

// Usage returns the number of settlements consumed in the period.
func (r *PostgresRepository) Usage(ctx context.Context, payer string, period Period) (int64, error) {
	var used int64
	err := r.db.QueryRowContext(ctx, `
		SELECT used FROM payer_usage WHERE payer = LOWER($1) AND period_start = $2
	`, payer, period.Start).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query usage: %w", err)
	}
	return used, nil
}

// Increment atomically adds one settlement to the period's counter.
func (r *PostgresRepository) Increment(ctx context.Context, payer string, period Period) (int64, error) {
	var used int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payer_usage (payer, period_start, used)
		VALUES (LOWER($1), $2, 1)
		ON CONFLICT (payer, period_start) DO UPDATE SET used = payer_usage.used + 1
		RETURNING used
	`, payer, period.Start).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return used, nil
}

// Close closes the database connection if this repository owns it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
