// Package attempts tracks failed verification attempts per license key
// and enforces lockouts after repeated failures.
package attempts

import (
	"context"
	"sync"
	"time"
)

// Config holds attempt tracking thresholds
type Config struct {
	MaxAttempts int           // Failures within Window that trigger a lockout
	Window      time.Duration // Rolling window over which failures are counted
	Lockout     time.Duration // Fixed lockout duration once the threshold is crossed
}

// MemoryTracker is an in-process attempt tracker. Failures are kept in a
// rolling window pruned on access; a lockout has a fixed expiry set at
// the moment the threshold was crossed, and its expiry clears the
// accumulated failure history.
type MemoryTracker struct {
	mu          sync.Mutex
	cfg         Config
	failures    map[string][]time.Time
	lockedUntil map[string]time.Time
	now         func() time.Time
}

// NewMemoryTracker creates an in-memory attempt tracker
func NewMemoryTracker(cfg Config) *MemoryTracker {
	return &MemoryTracker{
		cfg:         cfg,
		failures:    make(map[string][]time.Time),
		lockedUntil: make(map[string]time.Time),
		now:         time.Now,
	}
}

// IsLockedOut reports whether the key is currently locked out and for
// how much longer.
func (t *MemoryTracker) IsLockedOut(_ context.Context, key string) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if until, ok := t.lockedUntil[key]; ok {
		if now.Before(until) {
			return true, until.Sub(now), nil
		}
		// Lockout expiry resets the failure history, not a success
		delete(t.lockedUntil, key)
		delete(t.failures, key)
	}
	return false, 0, nil
}

// RecordFailure appends a failure and starts a lockout when the windowed
// count reaches the threshold. Failures during an active lockout do not
// extend it.
func (t *MemoryTracker) RecordFailure(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if until, ok := t.lockedUntil[key]; ok && now.Before(until) {
		return nil
	}

	recent := t.prune(key, now)
	recent = append(recent, now)
	t.failures[key] = recent

	if len(recent) >= t.cfg.MaxAttempts {
		t.lockedUntil[key] = now.Add(t.cfg.Lockout)
	}
	return nil
}

// RecordSuccess is bookkeeping only. A success does not clear prior
// failure history; the window is rolling and expires on its own.
func (t *MemoryTracker) RecordSuccess(_ context.Context, _ string) error {
	return nil
}

// Reset clears all attempt state for a key (admin action)
func (t *MemoryTracker) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
	delete(t.lockedUntil, key)
	return nil
}

// Prune drops expired window entries and lockouts for all keys. Called
// periodically so idle keys do not accumulate.
func (t *MemoryTracker) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key := range t.failures {
		if len(t.prune(key, now)) == 0 {
			delete(t.failures, key)
		}
	}
	for key, until := range t.lockedUntil {
		if !now.Before(until) {
			delete(t.lockedUntil, key)
			delete(t.failures, key)
		}
	}
}

// prune removes window-expired failures for a key. Caller holds the lock.
func (t *MemoryTracker) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-t.cfg.Window)
	recent := t.failures[key][:0]
	for _, ts := range t.failures[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	t.failures[key] = recent
	return recent
}
