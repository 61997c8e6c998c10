package verification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"license-server/internal/license"
)

// In-package fakes for the engine's collaborators.

type fakeStore struct {
	licenses map[string]*license.License
	err      error
}

func (s *fakeStore) GetByKey(_ context.Context, key string) (*license.License, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.licenses[key], nil
}

type fakeLedger struct {
	bindings  map[string][]Binding
	cooldown  map[string]bool
	err       error
	bindCalls int
}

func (l *fakeLedger) GetActiveBindings(_ context.Context, licenseID string) ([]Binding, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.bindings[licenseID], nil
}

func (l *fakeLedger) Bind(_ context.Context, licenseID, domain string, maxDomains int) (BindOutcome, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.bindCalls++
	if l.cooldown[domain] {
		return BindCooldown, nil
	}
	if maxDomains != license.UnlimitedDomains && len(l.bindings[licenseID]) >= maxDomains {
		return BindLimitExceeded, nil
	}
	l.bindings[licenseID] = append(l.bindings[licenseID], Binding{Domain: domain, BoundAt: time.Now()})
	return BindBound, nil
}

func (l *fakeLedger) Touch(_ context.Context, _, _ string) error { return nil }

type fakeTracker struct {
	max       int
	failures  map[string]int
	successes int
}

func (t *fakeTracker) IsLockedOut(_ context.Context, key string) (bool, time.Duration, error) {
	if t.failures[key] >= t.max {
		return true, 10 * time.Minute, nil
	}
	return false, 0, nil
}

func (t *fakeTracker) RecordFailure(_ context.Context, key string) error {
	t.failures[key]++
	return nil
}

func (t *fakeTracker) RecordSuccess(_ context.Context, _ string) error {
	t.successes++
	return nil
}

func (t *fakeTracker) Reset(_ context.Context, key string) error {
	delete(t.failures, key)
	return nil
}

type fakeCache struct {
	entries map[string]*Result
}

func (c *fakeCache) Get(_ context.Context, key, domain string) (*Result, bool) {
	r, ok := c.entries[key+"|"+domain]
	return r, ok
}

func (c *fakeCache) Put(_ context.Context, key, domain string, result *Result) {
	c.entries[key+"|"+domain] = result
}

func (c *fakeCache) InvalidateAll(_ context.Context, key string) error {
	for k := range c.entries {
		if strings.HasPrefix(k, key+"|") {
			delete(c.entries, k)
		}
	}
	return nil
}

type fakeAuthority struct {
	outcome AuthorityOutcome
	err     error
	calls   int
}

func (a *fakeAuthority) Confirm(_ context.Context, _, _ string) (AuthorityOutcome, error) {
	a.calls++
	return a.outcome, a.err
}

type fakeAudit struct {
	entries []*AuditEntry
}

func (a *fakeAudit) Record(_ context.Context, entry *AuditEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type testHarness struct {
	engine    *Engine
	store     *fakeStore
	ledger    *fakeLedger
	tracker   *fakeTracker
	cache     *fakeCache
	authority *fakeAuthority
	audit     *fakeAudit
}

func newTestHarness(opts Options) *testHarness {
	h := &testHarness{
		store:     &fakeStore{licenses: make(map[string]*license.License)},
		ledger:    &fakeLedger{bindings: make(map[string][]Binding), cooldown: make(map[string]bool)},
		tracker:   &fakeTracker{max: 5, failures: make(map[string]int)},
		cache:     &fakeCache{entries: make(map[string]*Result)},
		authority: &fakeAuthority{outcome: AuthorityConfirmed},
		audit:     &fakeAudit{},
	}
	h.engine = New(Deps{
		Store:     h.store,
		Ledger:    h.ledger,
		Tracker:   h.tracker,
		Cache:     h.cache,
		Authority: h.authority,
		Audit:     h.audit,
	}, opts)
	return h
}

func (h *testHarness) addLicense(t *testing.T, typ license.Type, mutate func(*license.License)) *license.License {
	t.Helper()
	key, err := license.GenerateKey(typ)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	defaults := license.DefaultsFor(typ)
	expires := time.Now().AddDate(0, 0, defaults.DurationDays)
	lic := &license.License{
		ID:              "lic-" + key,
		Key:             key,
		ProductID:       "prod-1",
		Type:            typ,
		Status:          license.StatusActive,
		IssuedAt:        time.Now(),
		ExpiresAt:       &expires,
		MaxDomains:      defaults.MaxDomains,
		GracePeriodDays: defaults.GracePeriodDays,
	}
	if mutate != nil {
		mutate(lic)
	}
	h.store.licenses[key] = lic
	return lic
}

func request(lic *license.License, domain string) *Request {
	return &Request{Key: lic.Key, Domain: domain, ProductID: lic.ProductID}
}

func TestVerifyValidLicense(t *testing.T) {
	h := newTestHarness(Options{CacheResults: true})
	lic := h.addLicense(t, license.TypeRegular, nil)

	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusValid {
		t.Fatalf("status = %s (%s), want valid", result.Status, result.Reason)
	}
	if result.LicenseType != license.TypeRegular {
		t.Errorf("license type = %s, want regular", result.LicenseType)
	}
	if len(h.ledger.bindings[lic.ID]) != 1 {
		t.Errorf("expected one binding, got %d", len(h.ledger.bindings[lic.ID]))
	}
	if len(h.audit.entries) != 1 {
		t.Errorf("expected one audit entry, got %d", len(h.audit.entries))
	}
}

func TestVerifyCacheHitIsIdempotent(t *testing.T) {
	h := newTestHarness(Options{CacheResults: true})
	lic := h.addLicense(t, license.TypeRegular, nil)

	first := h.engine.Verify(context.Background(), request(lic, "example.com"))
	second := h.engine.Verify(context.Background(), request(lic, "example.com"))

	if first.Status != StatusValid || second.Status != StatusValid {
		t.Fatalf("statuses = %s, %s, want valid twice", first.Status, second.Status)
	}
	if !second.FromCache {
		t.Error("second result should come from cache")
	}
	if h.ledger.bindCalls != 1 {
		t.Errorf("bind calls = %d, want 1", h.ledger.bindCalls)
	}
	if len(h.audit.entries) != 1 {
		t.Errorf("audit entries = %d, want 1 (cache hit must not double-log)", len(h.audit.entries))
	}
	if h.tracker.successes != 1 {
		t.Errorf("tracker successes = %d, want 1", h.tracker.successes)
	}
}

func TestVerifyUnknownKey(t *testing.T) {
	h := newTestHarness(Options{})
	key, _ := license.GenerateKey(license.TypeRegular)

	result := h.engine.Verify(context.Background(), &Request{Key: key, Domain: "example.com", ProductID: "prod-1"})
	if result.Status != StatusInvalid || result.Reason != ReasonNotFound {
		t.Fatalf("result = %s/%s, want invalid/not_found", result.Status, result.Reason)
	}
	if h.tracker.failures[key] != 1 {
		t.Errorf("unknown key should consume an attempt, failures = %d", h.tracker.failures[key])
	}
}

func TestVerifyMalformedInputConsumesNoAttempt(t *testing.T) {
	h := newTestHarness(Options{})

	for _, req := range []*Request{
		{Key: "", Domain: "example.com", ProductID: "prod-1"},
		{Key: "NOT-A-KEY", Domain: "example.com", ProductID: "prod-1"},
	} {
		result := h.engine.Verify(context.Background(), req)
		if result.Status != StatusInvalid || result.Reason != ReasonNotFound {
			t.Errorf("result = %s/%s, want invalid/not_found", result.Status, result.Reason)
		}
	}
	lic := h.addLicense(t, license.TypeRegular, nil)
	result := h.engine.Verify(context.Background(), &Request{Key: lic.Key, Domain: "not a domain", ProductID: lic.ProductID})
	if result.Status != StatusInvalid {
		t.Errorf("bad domain result = %s, want invalid", result.Status)
	}

	for key, n := range h.tracker.failures {
		t.Errorf("malformed input recorded %d failures for %q", n, key)
	}
}

func TestVerifyProductMismatch(t *testing.T) {
	h := newTestHarness(Options{})
	lic := h.addLicense(t, license.TypeRegular, nil)

	req := request(lic, "example.com")
	req.ProductID = "other-product"
	result := h.engine.Verify(context.Background(), req)
	if result.Status != StatusInvalid || result.Reason != ReasonProductMismatch {
		t.Fatalf("result = %s/%s, want invalid/product_mismatch", result.Status, result.Reason)
	}
}

func TestVerifySuspendedAndRevoked(t *testing.T) {
	h := newTestHarness(Options{})

	suspended := h.addLicense(t, license.TypeRegular, func(l *license.License) { l.Status = license.StatusSuspended })
	if r := h.engine.Verify(context.Background(), request(suspended, "example.com")); r.Reason != ReasonSuspended {
		t.Errorf("suspended reason = %s, want suspended", r.Reason)
	}

	revoked := h.addLicense(t, license.TypeRegular, func(l *license.License) { l.Status = license.StatusRevoked })
	if r := h.engine.Verify(context.Background(), request(revoked, "example.com")); r.Reason != ReasonRevoked {
		t.Errorf("revoked reason = %s, want revoked", r.Reason)
	}
}

func TestLockoutMonotonicity(t *testing.T) {
	h := newTestHarness(Options{})
	lic := h.addLicense(t, license.TypeRegular, nil)

	// Five failures via product mismatch within the window
	bad := request(lic, "example.com")
	bad.ProductID = "wrong"
	for i := 0; i < 5; i++ {
		if r := h.engine.Verify(context.Background(), bad); r.Reason != ReasonProductMismatch {
			t.Fatalf("attempt %d reason = %s, want product_mismatch", i+1, r.Reason)
		}
	}

	// The sixth call is locked out even though its credentials would succeed
	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusInvalid || result.Reason != ReasonLockedOut {
		t.Fatalf("result = %s/%s, want invalid/locked_out", result.Status, result.Reason)
	}
	if result.LockoutRemainingSecs <= 0 {
		t.Error("locked_out result should carry remaining seconds")
	}
	if h.authority.calls != 0 {
		t.Error("locked-out request must not reach the authority")
	}
}

func TestCapacityEnforcement(t *testing.T) {
	h := newTestHarness(Options{})
	lic := h.addLicense(t, license.TypeRegular, nil) // max_domains = 1

	if r := h.engine.Verify(context.Background(), request(lic, "a.example.com")); r.Status != StatusValid {
		t.Fatalf("first domain status = %s (%s), want valid", r.Status, r.Reason)
	}
	if r := h.engine.Verify(context.Background(), request(lic, "b.example.com")); r.Reason != ReasonDomainLimitExceeded {
		t.Fatalf("second domain reason = %s, want domain_limit_exceeded", r.Reason)
	}
	if r := h.engine.Verify(context.Background(), request(lic, "a.example.com")); r.Status != StatusValid {
		t.Errorf("bound domain should keep verifying, got %s (%s)", r.Status, r.Reason)
	}
}

func TestUnlimitedDomains(t *testing.T) {
	h := newTestHarness(Options{})
	lic := h.addLicense(t, license.TypeDeveloper, func(l *license.License) { l.ExpiresAt = nil })

	for _, d := range []string{"a.example.com", "b.example.com", "c.example.com"} {
		if r := h.engine.Verify(context.Background(), request(lic, d)); r.Status != StatusValid {
			t.Errorf("domain %s status = %s (%s), want valid", d, r.Status, r.Reason)
		}
	}
}

func TestWildcardBindingCoversSubdomains(t *testing.T) {
	h := newTestHarness(Options{DomainPolicy: DomainPolicy{AllowWildcards: true}})
	lic := h.addLicense(t, license.TypeRegular, nil)

	if r := h.engine.Verify(context.Background(), request(lic, "*.example.com")); r.Status != StatusValid {
		t.Fatalf("wildcard bind status = %s (%s), want valid", r.Status, r.Reason)
	}
	if r := h.engine.Verify(context.Background(), request(lic, "www.example.com")); r.Status != StatusValid {
		t.Errorf("subdomain under wildcard status = %s (%s), want valid", r.Status, r.Reason)
	}
	if h.ledger.bindCalls != 1 {
		t.Errorf("bind calls = %d, want 1 (wildcard consumes one slot)", h.ledger.bindCalls)
	}
}

func TestGracePeriodBoundary(t *testing.T) {
	h := newTestHarness(Options{})

	lic := h.addLicense(t, license.TypeRegular, func(l *license.License) {
		expired := time.Now().AddDate(0, 0, -3)
		l.ExpiresAt = &expired
		l.GracePeriodDays = 7
	})
	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusGracePeriod {
		t.Fatalf("status = %s (%s), want valid_grace_period", result.Status, result.Reason)
	}
	if result.GraceDaysRemaining != 4 {
		t.Errorf("grace days remaining = %d, want 4", result.GraceDaysRemaining)
	}

	past := h.addLicense(t, license.TypeRegular, func(l *license.License) {
		expired := time.Now().AddDate(0, 0, -8)
		l.ExpiresAt = &expired
		l.GracePeriodDays = 7
	})
	result = h.engine.Verify(context.Background(), request(past, "example.org"))
	if result.Status != StatusInvalid || result.Reason != ReasonExpired {
		t.Fatalf("result = %s/%s, want invalid/expired", result.Status, result.Reason)
	}
}

func TestAllowExpiredOverride(t *testing.T) {
	h := newTestHarness(Options{AllowExpired: true})
	lic := h.addLicense(t, license.TypeRegular, func(l *license.License) {
		expired := time.Now().AddDate(0, 0, -30)
		l.ExpiresAt = &expired
		l.GracePeriodDays = 7
	})

	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusGracePeriod {
		t.Fatalf("status = %s (%s), want valid_grace_period under override", result.Status, result.Reason)
	}
}

func TestAuthorityRejectedOverridesInternalState(t *testing.T) {
	h := newTestHarness(Options{UseAuthority: true})
	h.authority.outcome = AuthorityRejected
	lic := h.addLicense(t, license.TypeRegular, nil)

	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusInvalid || result.Reason != ReasonAuthorityRejected {
		t.Fatalf("result = %s/%s, want invalid/authority_rejected", result.Status, result.Reason)
	}
	if h.tracker.failures[lic.Key] != 1 {
		t.Errorf("authority rejection should consume an attempt")
	}
}

func TestAuthorityFallback(t *testing.T) {
	h := newTestHarness(Options{UseAuthority: true, FallbackToInternal: true, AllowOffline: true})
	h.authority.outcome = AuthorityUnreachable
	h.authority.err = errors.New("connection refused")
	lic := h.addLicense(t, license.TypeRegular, nil)

	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusValid {
		t.Fatalf("status = %s (%s), want valid via fallback", result.Status, result.Reason)
	}
	if !result.UsedAuthorityFallback {
		t.Error("result should carry used_authority_fallback")
	}
	if len(h.audit.entries) != 1 || !h.audit.entries[0].UsedAuthorityFallback {
		t.Error("audit entry should record the fallback path")
	}
}

func TestAuthorityUnreachableWithoutFallback(t *testing.T) {
	h := newTestHarness(Options{UseAuthority: true})
	h.authority.outcome = AuthorityUnreachable
	lic := h.addLicense(t, license.TypeRegular, nil)

	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusIndeterminate || result.Reason != ReasonAuthorityUnreachable {
		t.Fatalf("result = %s/%s, want indeterminate/authority_unreachable", result.Status, result.Reason)
	}
	if h.tracker.failures[lic.Key] != 0 {
		t.Error("infrastructure failure must not consume an attempt")
	}
	if _, found := h.cache.Get(context.Background(), lic.Key, "example.com"); found {
		t.Error("indeterminate result must not be cached")
	}
}

func TestCacheInvalidationOnMutation(t *testing.T) {
	h := newTestHarness(Options{CacheResults: true})
	lic := h.addLicense(t, license.TypeRegular, nil)

	if r := h.engine.Verify(context.Background(), request(lic, "example.com")); r.Status != StatusValid {
		t.Fatalf("initial status = %s, want valid", r.Status)
	}

	// Admin suspends the license and synchronously invalidates the cache
	lic.Status = license.StatusSuspended
	if err := h.cache.InvalidateAll(context.Background(), lic.Key); err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}

	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusInvalid || result.Reason != ReasonSuspended {
		t.Fatalf("result = %s/%s, want invalid/suspended (not stale cache)", result.Status, result.Reason)
	}
}

func TestCooldownEnforcement(t *testing.T) {
	h := newTestHarness(Options{})
	lic := h.addLicense(t, license.TypeRegular, nil)
	h.ledger.cooldown["moved.example.com"] = true

	result := h.engine.Verify(context.Background(), request(lic, "moved.example.com"))
	if result.Status != StatusInvalid || result.Reason != ReasonDomainCooldownActive {
		t.Fatalf("result = %s/%s, want invalid/domain_cooldown_active", result.Status, result.Reason)
	}
}

func TestStoreUnavailableIsIndeterminate(t *testing.T) {
	h := newTestHarness(Options{})
	h.store.err = errors.New("connection reset")
	key, _ := license.GenerateKey(license.TypeRegular)

	result := h.engine.Verify(context.Background(), &Request{Key: key, Domain: "example.com", ProductID: "prod-1"})
	if result.Status != StatusIndeterminate || result.Reason != ReasonStoreUnavailable {
		t.Fatalf("result = %s/%s, want indeterminate/store_unavailable", result.Status, result.Reason)
	}
	if h.tracker.failures[key] != 0 {
		t.Error("store failure must not consume an attempt")
	}
}

func TestLedgerUnavailableFailsClosed(t *testing.T) {
	h := newTestHarness(Options{})
	lic := h.addLicense(t, license.TypeRegular, nil)
	h.ledger.err = errors.New("deadlock detected")

	result := h.engine.Verify(context.Background(), request(lic, "example.com"))
	if result.Status != StatusIndeterminate || result.Reason != ReasonStoreUnavailable {
		t.Fatalf("result = %s/%s, want indeterminate/store_unavailable", result.Status, result.Reason)
	}
}
