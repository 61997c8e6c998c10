package cache

import (
	"context"
	"testing"
	"time"

	"license-server/internal/license"
	"license-server/internal/verification"
)

func TestMemoryResultCacheRoundTrip(t *testing.T) {
	mem := NewMemoryResultCache(time.Minute)

	result := &verification.Result{Status: verification.StatusValid, LicenseType: license.TypeRegular}
	mem.Set("REG-1111-2222-3333", "example.com", result)

	got, found := mem.Get("REG-1111-2222-3333", "example.com")
	if !found {
		t.Fatal("expected cache hit")
	}
	if got.Status != verification.StatusValid || got.LicenseType != license.TypeRegular {
		t.Errorf("cached result = %+v", got)
	}

	if _, found := mem.Get("REG-1111-2222-3333", "other.com"); found {
		t.Error("different domain should miss")
	}
}

func TestMemoryResultCacheTTL(t *testing.T) {
	mem := NewMemoryResultCache(time.Minute)
	now := time.Now()
	mem.now = func() time.Time { return now }

	mem.Set("REG-1111-2222-3333", "example.com", &verification.Result{Status: verification.StatusValid})

	now = now.Add(2 * time.Minute)
	if _, found := mem.Get("REG-1111-2222-3333", "example.com"); found {
		t.Error("expired entry must never be served")
	}
}

func TestMemoryResultCacheDeleteAll(t *testing.T) {
	mem := NewMemoryResultCache(time.Minute)

	mem.Set("REG-1111-2222-3333", "a.example.com", &verification.Result{Status: verification.StatusValid})
	mem.Set("REG-1111-2222-3333", "b.example.com", &verification.Result{Status: verification.StatusValid})
	mem.Set("EXT-4444-5555-6666", "a.example.com", &verification.Result{Status: verification.StatusValid})

	mem.DeleteAll("REG-1111-2222-3333")

	if _, found := mem.Get("REG-1111-2222-3333", "a.example.com"); found {
		t.Error("entries for invalidated key should be gone")
	}
	if _, found := mem.Get("REG-1111-2222-3333", "b.example.com"); found {
		t.Error("all domains for the key should be invalidated")
	}
	if _, found := mem.Get("EXT-4444-5555-6666", "a.example.com"); !found {
		t.Error("other keys must not be affected")
	}
}

func TestMemoryResultCacheSweep(t *testing.T) {
	mem := NewMemoryResultCache(time.Minute)
	now := time.Now()
	mem.now = func() time.Time { return now }

	mem.Set("REG-1111-2222-3333", "example.com", &verification.Result{Status: verification.StatusValid})
	now = now.Add(2 * time.Minute)
	mem.Sweep()

	if mem.Len() != 0 {
		t.Errorf("sweep left %d entries", mem.Len())
	}
}

func TestVerificationCacheMemoryBackend(t *testing.T) {
	vc := NewVerificationCache(nil, time.Minute, nil)
	ctx := context.Background()

	vc.Put(ctx, "REG-1111-2222-3333", "example.com", &verification.Result{Status: verification.StatusValid})

	if _, found := vc.Get(ctx, "REG-1111-2222-3333", "example.com"); !found {
		t.Fatal("expected hit on memory backend")
	}

	if err := vc.InvalidateAll(ctx, "REG-1111-2222-3333"); err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}
	if _, found := vc.Get(ctx, "REG-1111-2222-3333", "example.com"); found {
		t.Error("invalidated entry should miss")
	}
}

func TestVerifyResultKeys(t *testing.T) {
	if got := VerifyResultKey("REG-1111-2222-3333", "example.com"); got != "verify:result:REG-1111-2222-3333:example.com" {
		t.Errorf("VerifyResultKey = %q", got)
	}
	if got := VerifyResultPattern("REG-1111-2222-3333"); got != "verify:result:REG-1111-2222-3333:*" {
		t.Errorf("VerifyResultPattern = %q", got)
	}
}
