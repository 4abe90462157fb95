// Package shield provides HTTP hardening middleware for the conversion
// service: security headers, per-IP rate limiting on the expensive
// conversion endpoints and HEAD method handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(rules, ctx.Done()) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// Stack returns the standard middleware stack, ordered:
// HeadToGet, SecurityHeaders, RateLimiter. Pass nil rules to skip rate
// limiting. The limiter's bucket GC runs until done is closed.
func Stack(rules map[string]RateLimitConfig, done <-chan struct{}) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
	}
	if len(rules) > 0 {
		rl := NewRateLimiter(rules)
		rl.StartGC(done)
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// HeadToGet converts HEAD requests to GET so that route handlers registered
// with r.Get() respond with 200 instead of 405 (Method Not Allowed).
// Go's net/http automatically strips the body for HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
