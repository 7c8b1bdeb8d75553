package syncclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFrac:    0,
	}
}

func TestTokenChanged(t *testing.T) {
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/push/token" {
			t.Errorf("path = %q", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		body.Store(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "machine-1")
	c.retry = fastRetry()

	if err := c.TokenChanged(context.Background(), "tok"); err != nil {
		t.Fatalf("TokenChanged: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(body.Load().([]byte), &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload["machine_id"] != "machine-1" || payload["token"] != "tok" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "machine-1")
	c.retry = fastRetry()

	if err := c.TokenChanged(context.Background(), "tok"); err != nil {
		t.Fatalf("TokenChanged: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server called %d times, want 2", got)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "machine-1")
	c.retry = fastRetry()

	if err := c.TokenChanged(context.Background(), "tok"); err == nil {
		t.Fatal("want error on 403")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server called %d times, want 1", got)
	}
}
