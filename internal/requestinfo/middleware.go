// internal/requestinfo/middleware.go
//
// HTTP middleware that enriches each request with *Info.
//
/*
Context
--------
This handler sits high in the chain, right after the access log is
armed and before security filters.  For every request it:

  1. Parses the User-Agent header.
  2. Extracts the left-most client IP from X-Forwarded-For or X-Real-IP,
     falling back to `r.RemoteAddr`.
  3. Performs a GeoLite2 country lookup when a database is loaded.
  4. Stores an `*Info` value in `request.Context`.

Notes
-----
  - Look-ups are read-only, so the middleware is safe under heavy
    concurrency.
  - Oxford commas, two spaces after periods.  No em dash.
*/
package requestinfo

import (
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/tenant"
)

// Enricher attaches *Info to requests.
type Enricher struct {
	geo Geo
	log *zap.Logger
	now func() time.Time
}

// NewEnricher returns middleware backed by geo, which may be nil.
func NewEnricher(geo Geo, log *zap.Logger) *Enricher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enricher{geo: geo, log: log, now: time.Now}
}

// Handler wraps next.
func (e *Enricher) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		info := &Info{
			UA:         ParseUA(r.UserAgent()),
			IP:         ip,
			CountryISO: countryOf(e.geo, ip),
			Host:       tenant.NormalizeHost(r.Host),
			Timestamp:  e.now().UTC(),
		}

		if ce := e.log.Check(zap.DebugLevel, "request info"); ce != nil {
			ce.Write(
				zap.Stringer("ip", ip),
				zap.String("country", info.CountryISO),
				zap.String("browser", info.UA.Browser),
				zap.String("device", info.UA.Device),
				zap.Bool("bot", info.UA.IsBot),
				zap.String("path", r.URL.Path),
			)
		}

		next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
	})
}

// clientIP extracts the left-most parseable address from X-Forwarded-For
// or X-Real-IP, falling back to r.RemoteAddr ("ip:port").
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	if xrip := r.Header.Get("X-Real-Ip"); xrip != "" {
		if ip := net.ParseIP(strings.TrimSpace(xrip)); ip != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(host)
	}
	return nil
}
