package sponsor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	ownsDB bool // Whether we created the DB connection (vs. shared)
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
		CREATE TABLE IF NOT EXISTS sponsor_wallets (
			id                  TEXT PRIMARY KEY,
			user_wallet_address TEXT,
			network             TEXT NOT NULL,
			sponsor_address     TEXT NOT NULL,
			signer_handle       TEXT NOT NULL,
			signer_user_share   TEXT,
			enabled             BOOLEAN NOT NULL DEFAULT TRUE,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sponsor_wallets_user
			ON sponsor_wallets(network, LOWER(user_wallet_address))
			WHERE user_wallet_address IS NOT NULL AND user_wallet_address != '';

		CREATE TABLE IF NOT EXISTS sponsor_rules (
			id              TEXT PRIMARY KEY,
			network         TEXT NOT NULL,
			sponsor_id      TEXT NOT NULL REFERENCES sponsor_wallets(id),
			agent_whitelist TEXT[],
			priority        INTEGER NOT NULL DEFAULT 0,
			enabled         BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sponsor_rules_network
			ON sponsor_rules(network, priority DESC) WHERE enabled;
	`
	_, err := r.db.Exec(query)
	return err
}

// GetWallet retrieves a sponsor wallet by ID.
func (r *PostgresRepository) GetWallet(ctx context.Context, id string) (SponsorWallet, error) {
	query := `
		SELECT id, user_wallet_address, network, sponsor_address, signer_handle,
			signer_user_share, enabled, created_at, updated_at
		FROM sponsor_wallets WHERE id = $1
	`
	return r.scanWallet(r.db.QueryRowContext(ctx, query, id))
}

// GetDedicatedWallet finds the wallet dedicated to a payer on a network.
func (r *PostgresRepository) GetDedicatedWallet(ctx context.Context, network, payer string) (SponsorWallet, error) {
	query := `
		SELECT id, user_wallet_address, network, sponsor_address, signer_handle,
			signer_user_share, enabled, created_at, updated_at
		FROM sponsor_wallets
		WHERE network = $1 AND LOWER(user_wallet_address) = LOWER($2) AND enabled
		LIMIT 1
	`
	return r.scanWallet(r.db.QueryRowContext(ctx, query, network, payer))
}

// ListRules returns enabled rules for a network, highest priority first.
func (r *PostgresRepository) ListRules(ctx context.Context, network string) ([]SponsorRule, error) {
	query := `
		SELECT id, network, sponsor_id, agent_whitelist, priority, enabled, created_at, updated_at
		FROM sponsor_rules
		WHERE network = $1 AND enabled
		ORDER BY priority DESC
	`
	rows, err := r.db.QueryContext(ctx, query, network)
	if err != nil {
		return nil, fmt.Errorf("query sponsor rules: %w", err)
	}
	defer rows.Close()

	var out []SponsorRule
	for rows.Next() {
		var rule SponsorRule
		var whitelist pq.StringArray
		if err := rows.Scan(&rule.ID, &rule.Network, &rule.SponsorID, &whitelist,
			&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sponsor rule: %w", err)
		}
		rule.AgentWhitelist = whitelist
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ListWallets returns every enabled sponsor wallet.
func (r *PostgresRepository) ListWallets(ctx context.Context) ([]SponsorWallet, error) {
	query := `
		SELECT id, user_wallet_address, network, sponsor_address, signer_handle,
			signer_user_share, enabled, created_at, updated_at
		FROM sponsor_wallets
		WHERE enabled
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sponsor wallets: %w", err)
	}
	defer rows.Close()

	var out []SponsorWallet
	for rows.Next() {
		var w SponsorWallet
		var userWallet, userShare sql.NullString
		if err := rows.Scan(&w.ID, &userWallet, &w.Network, &w.SponsorAddress, &w.SignerHandle,
			&userShare, &w.Enabled, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sponsor wallet: %w", err)
		}
		w.UserWalletAddress = userWallet.String
		w.SignerUserShare = userShare.String
		out = append(out, w)
	}
	return out, rows.Err()
}

// PutWallet inserts or replaces a sponsor wallet.
func (r *PostgresRepository) PutWallet(ctx context.Context, w SponsorWallet) error {
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	query := `
		INSERT INTO sponsor_wallets (
			id, user_wallet_address, network, sponsor_address, signer_handle,
			signer_user_share, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_wallet_address = EXCLUDED.user_wallet_address,
			network = EXCLUDED.network,
			sponsor_address = EXCLUDED.sponsor_address,
			signer_handle = EXCLUDED.signer_handle,
			signer_user_share = EXCLUDED.signer_user_share,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		w.ID, w.UserWalletAddress, w.Network, w.SponsorAddress, w.SignerHandle,
		w.SignerUserShare, w.Enabled, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sponsor wallet: %w", err)
	}
	return nil
}

// PutRule inserts or replaces a routing rule.
func (r *PostgresRepository) PutRule(ctx context.Context, rule SponsorRule) error {
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO sponsor_rules (
			id, network, sponsor_id, agent_whitelist, priority, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			network = EXCLUDED.network,
			sponsor_id = EXCLUDED.sponsor_id,
			agent_whitelist = EXCLUDED.agent_whitelist,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Network, rule.SponsorID, pq.StringArray(rule.AgentWhitelist),
		rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sponsor rule: %w", err)
	}
	return nil
}

// Close closes the database connection if this repository owns it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

func (r *PostgresRepository) scanWallet(row *sql.Row) (SponsorWallet, error) {
	var w SponsorWallet
	var userWallet, userShare sql.NullString
	err := row.Scan(&w.ID, &userWallet, &w.Network, &w.SponsorAddress, &w.SignerHandle,
		&userShare, &w.Enabled, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return SponsorWallet{}, ErrNotFound
	}
	if err != nil {
		return SponsorWallet{}, fmt.Errorf("scan sponsor wallet: %w", err)
	}
	w.UserWalletAddress = userWallet.String
	w.SignerUserShare = userShare.String
	return w, nil
}
