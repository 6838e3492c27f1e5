package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/gaslift/facilitator/internal/metrics"
)

// PostgresWriter implements Writer using PostgreSQL.
// Idempotency is enforced by unique constraints plus ON CONFLICT DO NOTHING;
// replayed writes are indistinguishable from first writes.
type PostgresWriter struct {
	db      *sql.DB
	metrics *metrics.Metrics
	ownsDB  bool
}

// NewPostgresWriter creates a new PostgreSQL ledger writer.
func NewPostgresWriter(connStr string, m *metrics.Metrics) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	w := &PostgresWriter{db: db, metrics: m, ownsDB: true}
	if err := w.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return w, nil
}

// NewPostgresWriterWithDB creates a ledger writer using a shared database connection.
func NewPostgresWriterWithDB(db *sql.DB, m *metrics.Metrics) *PostgresWriter {
	w := &PostgresWriter{db: db, metrics: m, ownsDB: false}
	// Attempt to create tables, but don't fail if they already exist
	_ = w.createTables()
	return w
}

func (w *PostgresWriter) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS x402_transactions (
			transaction_hash  TEXT PRIMARY KEY,
			payer             TEXT NOT NULL,
			recipient         TEXT NOT NULL,
			sponsor_wallet_id TEXT,
			amount_atomic     NUMERIC(78, 0) NOT NULL,
			asset             TEXT NOT NULL,
			network           TEXT NOT NULL,
			chain_id          BIGINT NOT NULL,
			scheme            TEXT NOT NULL,
			status            TEXT NOT NULL,
			vendor_domain     TEXT,
			vendor_endpoint   TEXT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_x402_transactions_payer
			ON x402_transactions(payer, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_x402_transactions_vendor
			ON x402_transactions(vendor_domain) WHERE vendor_domain IS NOT NULL;

		CREATE TABLE IF NOT EXISTS sponsor_spending (
			sponsor_wallet_id TEXT NOT NULL,
			tx_hash           TEXT NOT NULL,
			gas_used          BIGINT NOT NULL DEFAULT 0,
			gas_cost_wei      NUMERIC(78, 0),
			agent             TEXT,
			chain_id          BIGINT NOT NULL,
			spent_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (sponsor_wallet_id, tx_hash)
		);
	`
	_, err := w.db.Exec(query)
	return err
}

// RecordTransaction inserts a settled transaction; duplicates are no-ops.
func (w *PostgresWriter) RecordTransaction(ctx context.Context, rec TransactionRecord) error {
	defer metrics.MeasureDBQuery(w.metrics, "record_transaction", "postgres")()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO x402_transactions (
			transaction_hash, payer, recipient, sponsor_wallet_id, amount_atomic,
			asset, network, chain_id, scheme, status, vendor_domain, vendor_endpoint, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (transaction_hash) DO NOTHING
	`
	_, err := w.db.ExecContext(ctx, query,
		rec.TxHash, rec.Payer, rec.Recipient, nullString(rec.SponsorWalletID),
		rec.AmountAtomic, rec.Asset, rec.Network, rec.ChainID, rec.Scheme,
		rec.Status, nullString(rec.VendorDomain), nullString(rec.VendorEndpoint), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert x402 transaction: %w", err)
	}
	return nil
}

// RecordSponsorSpend inserts a gas spend; duplicates are no-ops.
func (w *PostgresWriter) RecordSponsorSpend(ctx context.Context, rec SponsorSpendRecord) error {
	defer metrics.MeasureDBQuery(w.metrics, "record_sponsor_spend", "postgres")()

	if rec.SpentAt.IsZero() {
		rec.SpentAt = time.Now()
	}

	query := `
		INSERT INTO sponsor_spending (
			sponsor_wallet_id, tx_hash, gas_used, gas_cost_wei, agent, chain_id, spent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sponsor_wallet_id, tx_hash) DO NOTHING
	`
	_, err := w.db.ExecContext(ctx, query,
		rec.SponsorWalletID, rec.TxHash, rec.GasUsed, nullString(rec.GasCostWei),
		nullString(rec.Agent), rec.ChainID, rec.SpentAt,
	)
	if err != nil {
		return fmt.Errorf("insert sponsor spend: %w", err)
	}
	return nil
}

// Close closes the database connection if this writer owns it.
func (w *PostgresWriter) Close() error {
	if w.ownsDB {
		return w.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
