package middleware

import (
	"net/http"

	"github.com/unrolled/secure"
)

// SecureHeaders sets the usual hardening headers. HSTS is only sent in production.
func SecureHeaders(development bool) func(http.Handler) http.Handler {
	s := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'",
		STSSeconds:            15552000,
		STSIncludeSubdomains:  true,
		IsDevelopment:         development,
	})
	return s.Handler
}

// LimitBody caps request bodies at n bytes. Reading past it fails with
// *http.MaxBytesError.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
