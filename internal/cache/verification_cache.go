package cache

import (
	"context"
	"time"

	"license-server/internal/logging"
	"license-server/internal/verification"

	"github.com/redis/go-redis/v9"
)

// VerificationCache caches verification results keyed by (license key,
// domain). It uses Redis when available and an in-memory store otherwise.
// Redis failures degrade to always-miss: the cache fails open, never
// serving stale or invented results.
type VerificationCache struct {
	svc *CacheService      // nil when Redis is disabled
	mem *MemoryResultCache // used when svc is nil
	ttl time.Duration
	log *logging.Logger
}

// NewVerificationCache creates a verification result cache. Pass a nil
// CacheService to run on the in-memory backend.
func NewVerificationCache(svc *CacheService, ttl time.Duration, log *logging.Logger) *VerificationCache {
	if ttl <= 0 {
		ttl = DefaultVerifyTTL
	}
	if log == nil {
		log = logging.Default()
	}
	vc := &VerificationCache{
		svc: svc,
		ttl: ttl,
		log: log.WithComponent("verify-cache"),
	}
	if svc == nil {
		vc.mem = NewMemoryResultCache(ttl)
	}
	return vc
}

// Get returns the cached result for (key, domain). Any backend error is
// reported as a miss.
func (vc *VerificationCache) Get(ctx context.Context, licenseKey, domain string) (*verification.Result, bool) {
	if vc.svc == nil {
		return vc.mem.Get(licenseKey, domain)
	}

	var result verification.Result
	err := vc.svc.GetJSON(ctx, VerifyResultKey(licenseKey, domain), &result)
	if err != nil {
		if err != redis.Nil {
			vc.log.Debug("cache read degraded to miss", "error", err)
		}
		return nil, false
	}
	return &result, true
}

// Put stores a result with the configured TTL. Write failures are logged
// and ignored; the next request recomputes.
func (vc *VerificationCache) Put(ctx context.Context, licenseKey, domain string, result *verification.Result) {
	if vc.svc == nil {
		vc.mem.Set(licenseKey, domain, result)
		return
	}
	if err := vc.svc.SetJSON(ctx, VerifyResultKey(licenseKey, domain), result, vc.ttl); err != nil {
		vc.log.Debug("cache write skipped", "error", err)
	}
}

// Backend names the active backend, "redis" or "memory"
func (vc *VerificationCache) Backend() string {
	if vc.svc != nil {
		return "redis"
	}
	return "memory"
}

// Healthy reports whether the backend is currently usable. The memory
// backend is always healthy; Redis health follows the circuit breaker.
func (vc *VerificationCache) Healthy() bool {
	if vc.svc != nil {
		return vc.svc.IsHealthy()
	}
	return true
}

// Sweep drops expired entries from the in-memory backend. Redis expires
// keys itself, so this is a no-op there.
func (vc *VerificationCache) Sweep() {
	if vc.mem != nil {
		vc.mem.Sweep()
	}
}

// InvalidateAll removes every cached result for a license key. Callers
// that mutate license state must invoke this synchronously; the returned
// error signals that stale entries may survive until TTL expiry.
func (vc *VerificationCache) InvalidateAll(ctx context.Context, licenseKey string) error {
	if vc.svc == nil {
		vc.mem.DeleteAll(licenseKey)
		return nil
	}
	return vc.svc.DeletePattern(ctx, VerifyResultPattern(licenseKey))
}
