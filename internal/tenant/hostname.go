// internal/tenant/hostname.go
//
// Tenant identifiers and the static main-site allow-list.
//
// Context
// -------
// Tenant 0 is the main site.  A handful of hostnames are known to be the
// main site without asking the backend: loopback names used in
// development, the production main domain, and every subdomain of the
// preview-deployment suffix.  Everything else needs one remote lookup.
//
// Notes
// -----
//   - Host normalisation strips the port, IPv6 brackets, and any trailing
//     dot, then lower-cases.  Callers may pass r.Host directly.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"net"
	"strings"
)

// ID identifies a tenant.  Zero is the default site.
type ID uint64

// Default is the main site's tenant id.
const Default ID = 0

// IsDefault reports whether id is the main site.
func (id ID) IsDefault() bool { return id == Default }

// DefaultLoopback lists the loopback names that map to the main site.
var DefaultLoopback = []string{"localhost", "127.0.0.1", "::1"}

// AllowList holds hostnames that resolve to Default with no remote call.
type AllowList struct {
	Loopback      []string
	MainDomain    string
	PreviewSuffix string
}

// Matches reports whether host is a main-site identity.
func (a AllowList) Matches(host string) bool {
	h := NormalizeHost(host)
	if h == "" {
		return false
	}
	loop := a.Loopback
	if loop == nil {
		loop = DefaultLoopback
	}
	for _, l := range loop {
		if h == strings.ToLower(l) {
			return true
		}
	}
	if main := NormalizeHost(a.MainDomain); main != "" && h == main {
		return true
	}
	if suffix := strings.TrimPrefix(NormalizeHost(a.PreviewSuffix), "."); suffix != "" &&
		strings.HasSuffix(h, "."+suffix) {
		return true
	}
	return false
}

// NormalizeHost turns a Host header value into a lookup key.
func NormalizeHost(h string) string {
	h = strings.TrimSpace(h)
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.TrimPrefix(strings.TrimSuffix(h, "]"), "[")
	h = strings.TrimSuffix(h, ".")
	return strings.ToLower(h)
}
