package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"license-server/internal/license"
	"license-server/internal/verification"
)

type stubStore struct {
	licenses map[string]*license.License
	err      error
}

func (s *stubStore) GetByKey(_ context.Context, key string) (*license.License, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.licenses[key], nil
}

type stubLedger struct{}

func (l *stubLedger) GetActiveBindings(_ context.Context, _ string) ([]verification.Binding, error) {
	return nil, nil
}

func (l *stubLedger) Bind(_ context.Context, _, _ string, _ int) (verification.BindOutcome, error) {
	return verification.BindBound, nil
}

func (l *stubLedger) Touch(_ context.Context, _, _ string) error { return nil }

type stubTracker struct {
	locked bool
}

func (t *stubTracker) IsLockedOut(_ context.Context, _ string) (bool, time.Duration, error) {
	if t.locked {
		return true, 5 * time.Minute, nil
	}
	return false, 0, nil
}

func (t *stubTracker) RecordFailure(_ context.Context, _ string) error { return nil }
func (t *stubTracker) RecordSuccess(_ context.Context, _ string) error { return nil }
func (t *stubTracker) Reset(_ context.Context, _ string) error         { return nil }

type stubAudit struct {
	entries int
}

func (a *stubAudit) Record(_ context.Context, _ *verification.AuditEntry) error {
	a.entries++
	return nil
}

func newTestServer(t *testing.T) (*Server, *stubStore, *stubTracker) {
	t.Helper()

	store := &stubStore{licenses: make(map[string]*license.License)}
	tracker := &stubTracker{}
	engine := verification.New(verification.Deps{
		Store:   store,
		Ledger:  &stubLedger{},
		Tracker: tracker,
		Audit:   &stubAudit{},
	}, verification.Options{})

	server := NewServer(ServerConfig{RateLimit: 1000, RateWindow: time.Minute},
		engine, nil, nil, nil, nil, tracker, nil, nil, nil, nil)
	return server, store, tracker
}

func addLicense(t *testing.T, store *stubStore) *license.License {
	t.Helper()
	key, err := license.GenerateKey(license.TypeRegular)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	expires := time.Now().AddDate(1, 0, 0)
	lic := &license.License{
		ID:         "lic-1",
		Key:        key,
		ProductID:  "prod-1",
		Type:       license.TypeRegular,
		Status:     license.StatusActive,
		IssuedAt:   time.Now(),
		ExpiresAt:  &expires,
		MaxDomains: 1,
	}
	store.licenses[key] = lic
	return lic
}

func postVerify(server *Server, payload map[string]string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestHandleVerifyValid(t *testing.T) {
	server, store, _ := newTestServer(t)
	lic := addLicense(t, store)

	w := postVerify(server, map[string]string{
		"license_key": lic.Key,
		"domain":      "example.com",
		"product_id":  "prod-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp VerifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Status != "valid" {
		t.Errorf("response = %+v", resp)
	}
	if resp.LicenseType != "regular" {
		t.Errorf("license_type = %q, want regular", resp.LicenseType)
	}
}

func TestHandleVerifyMissingFields(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := postVerify(server, map[string]string{"license_key": "REG-1111-2222-3333"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleVerifyUnknownKey(t *testing.T) {
	server, _, _ := newTestServer(t)
	key, _ := license.GenerateKey(license.TypeRegular)

	w := postVerify(server, map[string]string{
		"license_key": key,
		"domain":      "example.com",
		"product_id":  "prod-1",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	var resp VerifyResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Reason != "not_found" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleVerifyLockedOut(t *testing.T) {
	server, store, tracker := newTestServer(t)
	lic := addLicense(t, store)
	tracker.locked = true

	w := postVerify(server, map[string]string{
		"license_key": lic.Key,
		"domain":      "example.com",
		"product_id":  "prod-1",
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	var resp VerifyResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Reason != "locked_out" || resp.LockoutRemainingSecs <= 0 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleVerifyStoreDown(t *testing.T) {
	server, store, _ := newTestServer(t)
	store.err = context.DeadlineExceeded
	key, _ := license.GenerateKey(license.TypeRegular)

	w := postVerify(server, map[string]string{
		"license_key": key,
		"domain":      "example.com",
		"product_id":  "prod-1",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("1.2.3.4") {
		t.Error("4th request should be rejected")
	}
	if !limiter.Allow("5.6.7.8") {
		t.Error("different client should be allowed")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		result *verification.Result
		want   int
	}{
		{&verification.Result{Status: verification.StatusValid}, http.StatusOK},
		{&verification.Result{Status: verification.StatusGracePeriod}, http.StatusOK},
		{&verification.Result{Status: verification.StatusInvalid, Reason: verification.ReasonExpired}, http.StatusForbidden},
		{&verification.Result{Status: verification.StatusInvalid, Reason: verification.ReasonLockedOut}, http.StatusTooManyRequests},
		{&verification.Result{Status: verification.StatusIndeterminate, Reason: verification.ReasonStoreUnavailable}, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		if got := httpStatusFor(c.result); got != c.want {
			t.Errorf("httpStatusFor(%s/%s) = %d, want %d", c.result.Status, c.result.Reason, got, c.want)
		}
	}
}
