// This file defines middleware used to attach common security headers to every
// HTTP response.
package handlers

import "net/http"

// SecurityHeaders wraps another http.Handler and sets security related HTTP
// headers before delegating to it. The API serves only JSON so the content
// security policy forbids everything. Responses carry user data and must not
// be cached. When served over HTTPS Strict Transport Security is enabled too.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
