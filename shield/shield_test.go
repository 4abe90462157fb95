package shield

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("CSP not set")
	}
}

func TestHeadToGet(t *testing.T) {
	var seen string
	h := HeadToGet(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/", nil))
	if seen != http.MethodGet {
		t.Fatalf("method = %q", seen)
	}
}

// WHAT: requests past the window budget get 429; unconfigured endpoints
// and other IPs are unaffected.
func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimitConfig{
		"POST /api/convert/images-to-pdf": {MaxRequests: 2, WindowSeconds: 60},
	})
	h := rl.Middleware(okHandler())

	do := func(method, path, addr string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("POST", "/api/convert/images-to-pdf", "10.0.0.1:555"); code != http.StatusOK {
			t.Fatalf("request %d blocked: %d", i, code)
		}
	}
	if code := do("POST", "/api/convert/images-to-pdf", "10.0.0.1:555"); code != http.StatusTooManyRequests {
		t.Fatalf("over-budget request = %d, want 429", code)
	}
	// Different IP has its own bucket.
	if code := do("POST", "/api/convert/images-to-pdf", "10.0.0.2:555"); code != http.StatusOK {
		t.Fatalf("other IP blocked: %d", code)
	}
	// Unconfigured endpoint passes through.
	if code := do("GET", "/health", "10.0.0.1:555"); code != http.StatusOK {
		t.Fatalf("unconfigured endpoint blocked: %d", code)
	}
}

// WHAT: gc drops buckets whose window has passed and keeps live ones,
// so the bucket map does not grow without bound.
func TestRateLimiter_GCDropsExpiredBuckets(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimitConfig{
		"POST /api/convert/images-to-pdf": {MaxRequests: 2, WindowSeconds: 60},
	})
	rl.allow("10.0.0.1", "POST /api/convert/images-to-pdf")
	rl.allow("10.0.0.2", "POST /api/convert/images-to-pdf")

	expiredKey := "10.0.0.1:POST /api/convert/images-to-pdf"
	val, ok := rl.buckets.Load(expiredKey)
	if !ok {
		t.Fatal("bucket not created")
	}
	val.(*bucket).resetAt = time.Now().Add(-time.Minute)

	rl.gc()

	if _, ok := rl.buckets.Load(expiredKey); ok {
		t.Error("expired bucket survived gc")
	}
	if _, ok := rl.buckets.Load("10.0.0.2:POST /api/convert/images-to-pdf"); !ok {
		t.Error("live bucket dropped by gc")
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.5:4242"
	if ip := ExtractIP(req); ip != "192.168.1.5" {
		t.Errorf("RemoteAddr ip = %q", ip)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := ExtractIP(req); ip != "203.0.113.9" {
		t.Errorf("XFF ip = %q", ip)
	}
}
