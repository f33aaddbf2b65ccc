package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per client IP to
// limit per window, using a sliding window.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.LimitByIP(limit, window)
}

// RateLimitByHeader limits requests keyed by a header value, such as
// X-License-Key. Requests without the header share one bucket per IP.
func RateLimitByHeader(headerName string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				return headerName + ":" + v, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
