package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	l := New(5, 5, time.Second)
	defer l.Stop()

	// Should allow up to burst.
	for i := range 5 {
		if !l.allow("test") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// Next should be denied.
	if l.allow("test") {
		t.Fatal("request 6 should be denied")
	}
}

func TestRefill(t *testing.T) {
	l := New(10, 10, 50*time.Millisecond)
	defer l.Stop()

	// Exhaust tokens.
	for range 10 {
		l.allow("test")
	}
	if l.allow("test") {
		t.Fatal("should be denied after exhaustion")
	}

	// Wait for refill.
	time.Sleep(60 * time.Millisecond)

	if !l.allow("test") {
		t.Fatal("should be allowed after refill")
	}
}

func TestSeparateCallers(t *testing.T) {
	l := New(1, 1, time.Second)
	defer l.Stop()

	if !l.allow("key:abc") {
		t.Fatal("first caller should be allowed")
	}
	if l.allow("key:abc") {
		t.Fatal("first caller should be denied")
	}
	// A different caller has its own bucket.
	if !l.allow("ip:10.0.0.2") {
		t.Fatal("second caller should be allowed")
	}
}

func TestMiddleware(t *testing.T) {
	l := New(2, 2, time.Second)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 2 {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	// Third request should be rate limited.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestEvictionRemovesLRU(t *testing.T) {
	l := New(10, 10, time.Hour, WithMaxKeys(3))
	defer l.Stop()

	l.allow("A")
	l.allow("B")
	l.allow("C")

	// Touch A so B becomes the least recently used.
	l.allow("A")

	// Adding D should evict B.
	l.allow("D")

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) != 3 {
		t.Fatalf("expected 3 buckets after eviction, got %d", len(l.buckets))
	}
	if _, ok := l.buckets["B"]; ok {
		t.Error("expected B to be evicted (least recently used)")
	}
	for _, key := range []string{"A", "C", "D"} {
		if _, ok := l.buckets[key]; !ok {
			t.Errorf("expected %s to still be present", key)
		}
	}
}
