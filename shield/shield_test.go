package shield

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docextract/kit"
)

func TestRateLimiter_BlocksAfterMax(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimitConfig{
		"POST /extract": {MaxRequests: 2, WindowSeconds: 60, Enabled: true},
	}, "/health")
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/extract", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	want := []int{200, 200, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/extract", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other ip: code = %d", rec.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(map[string]RateLimitConfig{
		"GET /formats": {MaxRequests: 1, WindowSeconds: 10, Enabled: true},
	})
	rl.now = func() time.Time { return now }

	if !rl.allow("ip", "GET /formats") {
		t.Fatal("first request blocked")
	}
	if rl.allow("ip", "GET /formats") {
		t.Fatal("second request allowed within window")
	}
	now = now.Add(11 * time.Second)
	if !rl.allow("ip", "GET /formats") {
		t.Fatal("request blocked after window reset")
	}
	now = now.Add(time.Hour)
	rl.gc()
	if _, ok := rl.buckets.Load("ip:GET /formats"); ok {
		t.Error("expired bucket survived gc")
	}
}

func TestRateLimiter_ExcludedAndUnknown(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimitConfig{
		"GET /health": {MaxRequests: 0, Enabled: true},
	}, "/health")
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	for _, path := range []string{"/health", "/anything"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: code = %d", path, rec.Code)
		}
	}
}

func TestRequestID(t *testing.T) {
	var gotID, gotTransport string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotTransport = kit.GetTransport(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(rec, req)
	if gotID != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("id = %q, header = %q", gotID, rec.Header().Get("X-Request-ID"))
	}
	if gotTransport != "http" {
		t.Errorf("transport = %q", gotTransport)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 100))
	h.ServeHTTP(rec, req)
	if len(gotID) != 36 {
		t.Errorf("oversized client id not replaced: %q", gotID)
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(4)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, k := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if rec.Header().Get(k) == "" {
			t.Errorf("missing %s", k)
		}
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { method = r.Method }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/", nil))
	if method != http.MethodGet {
		t.Errorf("method = %s", method)
	}
}
