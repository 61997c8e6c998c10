package authority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"license-server/internal/verification"
)

func newTestClient(baseURL string, retries int) *Client {
	return NewClient(Config{
		BaseURL:       baseURL,
		Token:         "test-token",
		Timeout:       2 * time.Second,
		RetryAttempts: retries,
		RetryBackoff:  10 * time.Millisecond,
	}, nil)
}

func TestConfirmConfirmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("code"); got != "REG-1111-2222-3333" {
			t.Errorf("code = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid": true, "product_id": "prod-1"}`))
	}))
	defer server.Close()

	outcome, err := newTestClient(server.URL, 0).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if outcome != verification.AuthorityConfirmed {
		t.Errorf("outcome = %s, want confirmed", outcome)
	}
}

func TestConfirmRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid": false, "message": "code not issued"}`))
	}))
	defer server.Close()

	outcome, _ := newTestClient(server.URL, 2).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if outcome != verification.AuthorityRejected {
		t.Errorf("outcome = %s, want rejected", outcome)
	}
}

func TestConfirmUnknownCodeIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	outcome, _ := newTestClient(server.URL, 2).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if outcome != verification.AuthorityRejected {
		t.Errorf("outcome = %s, want rejected", outcome)
	}
}

func TestConfirmProductMismatchIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"valid": true, "product_id": "prod-other"}`))
	}))
	defer server.Close()

	outcome, _ := newTestClient(server.URL, 0).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if outcome != verification.AuthorityRejected {
		t.Errorf("outcome = %s, want rejected", outcome)
	}
}

func TestConfirmRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"valid": true}`))
	}))
	defer server.Close()

	outcome, _ := newTestClient(server.URL, 2).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if outcome != verification.AuthorityConfirmed {
		t.Errorf("outcome = %s, want confirmed after retries", outcome)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestConfirmUnreachableAfterRetryBudget(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	outcome, err := newTestClient(server.URL, 2).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if err != nil {
		t.Fatalf("Confirm should not surface transport errors, got: %v", err)
	}
	if outcome != verification.AuthorityUnreachable {
		t.Errorf("outcome = %s, want unreachable", outcome)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
}

func TestConfirmUnreachableOnConnectionFailure(t *testing.T) {
	// Port is closed: the server is created and immediately stopped
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	outcome, _ := newTestClient(addr, 1).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if outcome != verification.AuthorityUnreachable {
		t.Errorf("outcome = %s, want unreachable", outcome)
	}
}

func TestConfirmHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, _ := newTestClient(server.URL, 5).Confirm(ctx, "REG-1111-2222-3333", "prod-1")
	if outcome != verification.AuthorityUnreachable {
		t.Errorf("outcome = %s, want unreachable on cancelled context", outcome)
	}
}

func TestConfirmMalformedBodyIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	outcome, _ := newTestClient(server.URL, 0).Confirm(context.Background(), "REG-1111-2222-3333", "prod-1")
	if outcome != verification.AuthorityUnreachable {
		t.Errorf("outcome = %s, want unreachable", outcome)
	}
}
