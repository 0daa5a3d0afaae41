// Package middleware holds small, composable HTTP wrappers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/yanizio/adept-shell/internal/tenant"
)

// ForceHTTPS returns a wrapper that issues a 308 Permanent Redirect to the
// HTTPS version of the same URL when the request arrived over plain HTTP.
// Loopback hosts pass through so local development works without TLS, as
// do requests a TLS-terminating proxy marked with X-Forwarded-Proto.
func ForceHTTPS(loopback []string) func(http.Handler) http.Handler {
	if loopback == nil {
		loopback = tenant.DefaultLoopback
	}
	dev := tenant.AllowList{Loopback: loopback}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil ||
				strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") ||
				dev.Matches(r.Host) {
				next.ServeHTTP(w, r)
				return
			}
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
		})
	}
}
