package fetch

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchAll_ConcurrencyBound(t *testing.T) {
	var active, maxActive int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	targets := make([]Target, 12)
	for i := range targets {
		targets[i] = Target{Tag: "t", URL: srv.URL, Kind: KindSubscription}
	}
	results := FetchAll(context.Background(), targets, PoolOptions{Concurrency: 3})
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
	}
	if atomic.LoadInt32(&maxActive) > 3 {
		t.Fatalf("expected concurrency bounded to 3, observed %d", maxActive)
	}
}

func TestFetchAll_UserinfoCaptured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Subscription-Userinfo", "upload=1; download=2; total=3; expire=4")
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	results := FetchAll(context.Background(), []Target{{Tag: "a", URL: srv.URL, Kind: KindSubscription}}, PoolOptions{})
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if results[0].UserInfo == "" {
		t.Fatalf("expected userinfo header to be captured")
	}
}

func TestFetchAll_GzipDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("ss://hello"))
		gz.Close()
	}))
	defer srv.Close()

	results := FetchAll(context.Background(), []Target{{Tag: "a", URL: srv.URL, Kind: KindSubscription}}, PoolOptions{})
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if results[0].Text != "ss://hello" {
		t.Fatalf("expected decoded gzip body, got %q", results[0].Text)
	}
}

func TestFetchAll_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	results := FetchAll(context.Background(), []Target{{Tag: "a", URL: srv.URL, Kind: KindSubscription}},
		PoolOptions{Retries: 5, RetryBase: time.Millisecond})
	if results[0].Err != nil {
		t.Fatalf("expected eventual success, got %v", results[0].Err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchAll_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	results := FetchAll(context.Background(), []Target{{Tag: "a", URL: srv.URL, Kind: KindSubscription}},
		PoolOptions{Retries: 5, RetryBase: time.Millisecond})
	if results[0].Err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 attempt for a 4xx, got %d", calls)
	}
}

func TestFetchAll_HonorsSharedBudget(t *testing.T) {
	var active, maxActive int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	budget := NewBudget(2)
	targets := make([]Target, 10)
	for i := range targets {
		targets[i] = Target{Tag: "t", URL: srv.URL, Kind: KindSubscription}
	}
	// Concurrency is wide open; only the shared Budget should bound
	// simultaneous in-flight requests.
	results := FetchAll(context.Background(), targets, PoolOptions{Concurrency: 10, Budget: budget})
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
	}
	if atomic.LoadInt32(&maxActive) > 2 {
		t.Fatalf("expected shared budget to cap concurrency at 2, observed %d", maxActive)
	}
}

func TestBudget_NilIsUnbounded(t *testing.T) {
	var b *Budget
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("nil budget should never block or error: %v", err)
	}
	b.Release() // must not panic
}

func TestBudget_BlocksBeyondCapacity(t *testing.T) {
	b := NewBudget(1)
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); err == nil {
		t.Fatalf("expected second acquire to block until context deadline")
	}

	b.Release()
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire to succeed after release: %v", err)
	}
}

func TestFetchAll_StrictCancelsRemainingOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	targets := []Target{
		{Tag: "bad", URL: srv.URL, Kind: KindSubscription},
		{Tag: "bad2", URL: srv.URL, Kind: KindSubscription},
	}
	results := FetchAll(context.Background(), targets, PoolOptions{Strict: true, Retries: 1})
	for _, r := range results {
		if r.Err == nil {
			t.Fatalf("expected every target to report an error in strict mode")
		}
	}
}
