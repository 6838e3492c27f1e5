package quota

import (
	"context"
	"sync"
	"time"

	"github.com/gaslift/facilitator/internal/cacheutil"
)

// CachedRepository wraps a Repository with an in-process TTL cache for tier
// assignments. Assignments change rarely but are read on every request, so
// the cache keeps the hot path off the database. Usage counters are never
// cached: they must stay exact for quota enforcement.
type CachedRepository struct {
	underlying Repository
	ttl        time.Duration

	mu          sync.RWMutex
	assignments map[string]cacheutil.CachedValue[string]
}

// NewCachedRepository wraps a repository with assignment caching.
func NewCachedRepository(underlying Repository, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRepository{
		underlying:  underlying,
		ttl:         ttl,
		assignments: make(map[string]cacheutil.CachedValue[string]),
	}
}

// GetAssignment returns the cached tier for a payer, reading through to the
// underlying repository on a miss. ErrNoAssignment is not cached; a payer
// gaining an assignment should see it on the next request.
func (r *CachedRepository) GetAssignment(ctx context.Context, payer string) (string, error) {
	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (string, bool) {
			if entry, ok := r.assignments[payer]; ok && now.Sub(entry.FetchedAt) < r.ttl {
				return entry.Value, true
			}
			return "", false
		},
		func(now time.Time) (string, error) {
			tier, err := r.underlying.GetAssignment(ctx, payer)
			if err != nil {
				return "", err
			}
			r.assignments[payer] = cacheutil.CachedValue[string]{Value: tier, FetchedAt: now}
			return tier, nil
		},
	)
}

// PutAssignment writes through and invalidates the payer's cached entry.
func (r *CachedRepository) PutAssignment(ctx context.Context, payer, tier string) error {
	return cacheutil.WriteThrough(
		func() {
			r.mu.Lock()
			delete(r.assignments, payer)
			r.mu.Unlock()
		},
		func() error {
			return r.underlying.PutAssignment(ctx, payer, tier)
		},
	)
}

// Usage passes through uncached.
func (r *CachedRepository) Usage(ctx context.Context, payer string, period Period) (int64, error) {
	return r.underlying.Usage(ctx, payer, period)
}

// Increment passes through uncached.
func (r *CachedRepository) Increment(ctx context.Context, payer string, period Period) (int64, error) {
	return r.underlying.Increment(ctx, payer, period)
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
