package ledger

import (
	"context"
	"sync"
)

// MemoryWriter implements Writer with in-process maps. Used by tests and
// deployments without an analytics store.
type MemoryWriter struct {
	mu           sync.RWMutex
	transactions map[string]TransactionRecord
	spends       map[string]SponsorSpendRecord // keyed by sponsorID+txHash
}

// NewMemoryWriter creates an empty in-memory ledger.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{
		transactions: make(map[string]TransactionRecord),
		spends:       make(map[string]SponsorSpendRecord),
	}
}

// RecordTransaction stores a transaction, keeping the first write per hash.
func (m *MemoryWriter) RecordTransaction(_ context.Context, rec TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[rec.TxHash]; exists {
		return nil
	}
	m.transactions[rec.TxHash] = rec
	return nil
}

// RecordSponsorSpend stores a gas spend, keeping the first write per
// (sponsor, tx hash).
func (m *MemoryWriter) RecordSponsorSpend(_ context.Context, rec SponsorSpendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.SponsorWalletID + ":" + rec.TxHash
	if _, exists := m.spends[key]; exists {
		return nil
	}
	m.spends[key] = rec
	return nil
}

// Transaction returns a recorded transaction by hash.
func (m *MemoryWriter) Transaction(txHash string) (TransactionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.transactions[txHash]
	return rec, ok
}

// TransactionCount reports the number of recorded transactions.
func (m *MemoryWriter) TransactionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}

// SpendCount reports the number of recorded sponsor spends.
func (m *MemoryWriter) SpendCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.spends)
}

// Close is a no-op for the memory writer.
func (m *MemoryWriter) Close() error {
	return nil
}
