package quota

import (
	"sync"
	"time"
)

// rateWindow is one fixed 60-second counting window for a key.
type rateWindow struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a fixed-window per-key counter. Windows reset every
// windowSize; expired entries are swept periodically so the map stays
// bounded by the set of recently active payers.
type RateLimiter struct {
	mu         sync.Mutex
	windows    map[string]*rateWindow
	windowSize time.Duration
	stopSweep  chan struct{}

	// now is swappable for window-boundary tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter with 60-second windows and starts the
// background sweep.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		windows:    make(map[string]*rateWindow),
		windowSize: time.Minute,
		stopSweep:  make(chan struct{}),
		now:        time.Now,
	}
	go rl.sweep()
	return rl
}

// Allow counts one request against key with the given per-window limit.
// A limit <= 0 disables limiting for the key.
func (rl *RateLimiter) Allow(key string, limit int) RateResult {
	if limit <= 0 {
		return RateResult{Allowed: true, Limit: limit, Remaining: -1}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.windowStart) >= rl.windowSize {
		w = &rateWindow{windowStart: now}
		rl.windows[key] = w
	}

	resetAt := w.windowStart.Add(rl.windowSize)
	if w.count >= limit {
		return RateResult{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}
	}
	w.count++
	return RateResult{Allowed: true, Limit: limit, Remaining: limit - w.count, ResetAt: resetAt}
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() error {
	close(rl.stopSweep)
	return nil
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopSweep:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-2 * rl.windowSize)
			for key, w := range rl.windows {
				if w.windowStart.Before(cutoff) {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
