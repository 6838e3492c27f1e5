package ledger

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gaslift/facilitator/internal/metrics"
)

// MongoWriter implements Writer using MongoDB. Idempotency comes from unique
// indexes; duplicate-key errors on insert are treated as success.
type MongoWriter struct {
	client       *mongo.Client
	transactions *mongo.Collection
	spending     *mongo.Collection
	metrics      *metrics.Metrics
}

// NewMongoWriter creates a new MongoDB-backed ledger writer.
func NewMongoWriter(connectionString, database string, m *metrics.Metrics) (*MongoWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect() error during initialization cleanup is not actionable;
		// the primary error is returned to the caller.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	w := &MongoWriter{
		client:       client,
		transactions: db.Collection("x402_transactions"),
		spending:     db.Collection("sponsor_spending"),
		metrics:      m,
	}

	if err := w.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return w, nil
}

func (w *MongoWriter) createIndexes(ctx context.Context) error {
	_, err := w.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tx_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "payer", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "vendor_domain", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}

	_, err = w.spending.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sponsor_wallet_id", Value: 1}, {Key: "tx_hash", Value: 1}},
			Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create spending indexes: %w", err)
	}
	return nil
}

// RecordTransaction inserts a settled transaction; duplicates are no-ops.
func (w *MongoWriter) RecordTransaction(ctx context.Context, rec TransactionRecord) error {
	defer metrics.MeasureDBQuery(w.metrics, "record_transaction", "mongodb")()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := w.transactions.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert x402 transaction: %w", err)
	}
	return nil
}

// RecordSponsorSpend inserts a gas spend; duplicates are no-ops.
func (w *MongoWriter) RecordSponsorSpend(ctx context.Context, rec SponsorSpendRecord) error {
	defer metrics.MeasureDBQuery(w.metrics, "record_sponsor_spend", "mongodb")()

	if rec.SpentAt.IsZero() {
		rec.SpentAt = time.Now()
	}

	_, err := w.spending.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert sponsor spend: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (w *MongoWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.client.Disconnect(ctx)
}
