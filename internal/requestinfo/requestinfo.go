//
//  internal/requestinfo/requestinfo.go
//
//  Lightweight per-request metadata: user-agent fingerprint, client IP,
//  and country.  The structs are inert, so they are safe to log or
//  JSON-encode.
//
//  Dependencies
//  • github.com/avct/uasurfer           (UA parsing)
//  • github.com/oschwald/geoip2-golang  (MaxMind country lookup)
//

package requestinfo

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"
)

//
//  -----------------------------
//  Struct definitions
//  -----------------------------
//

// UA holds the parsed user-agent properties that end up in access logs.
type UA struct {
	Browser string // "Chrome", "Firefox", "Safari", etc.
	Version string // "124.0.6367"
	OS      string
	Device  string // "Desktop", "Mobile", "Tablet", or "Other"
	IsBot   bool
}

// Info is stored on the request context by Enricher.
type Info struct {
	UA         UA
	IP         net.IP
	CountryISO string // empty when no geo database is loaded
	Host       string
	Timestamp  time.Time
}

//
//  -----------------------------
//  Geo database
//  -----------------------------
//

// Geo answers country lookups.  *geoip2.Reader satisfies it.
type Geo interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

// OpenGeo opens a GeoLite2 country database.  An empty path returns a nil
// reader and no error; geo enrichment is optional.
func OpenGeo(path string) (*geoip2.Reader, error) {
	if path == "" {
		return nil, nil
	}
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo db %s: %w", path, err)
	}
	return r, nil
}

func countryOf(g Geo, ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	rec, err := g.Country(ip)
	if err != nil || rec == nil {
		return ""
	}
	return rec.Country.IsoCode
}

//
//  -----------------------------
//  Context helpers
//  -----------------------------
//

type ctxKey struct{}

// FromContext returns the Info stored by Enricher, or nil.
func FromContext(ctx context.Context) *Info {
	v, _ := ctx.Value(ctxKey{}).(*Info)
	return v
}

// WithInfo returns ctx carrying info.
func WithInfo(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

//
//  -----------------------------
//  UA parsing
//  -----------------------------
//

// ParseUA converts a raw header into UA.
func ParseUA(raw string) UA {
	u := uasurfer.Parse(raw)
	out := UA{
		Browser: u.Browser.Name.StringTrimPrefix(),
		Version: versionString(u.Browser.Version),
		OS:      u.OS.Name.StringTrimPrefix(),
		IsBot:   u.IsBot(),
	}
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		out.Device = "Desktop"
	case uasurfer.DeviceTablet:
		out.Device = "Tablet"
	case uasurfer.DevicePhone, uasurfer.DeviceWearable:
		out.Device = "Mobile"
	default:
		out.Device = "Other"
	}
	return out
}

// versionString renders 17.0.0 as "17", 17.3.0 as "17.3", and 17.3.1 as
// "17.3.1".  A zero version is "".
func versionString(v uasurfer.Version) string {
	switch {
	case v.Major == 0 && v.Minor == 0 && v.Patch == 0:
		return ""
	case v.Patch != 0:
		return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
	case v.Minor != 0:
		return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
	default:
		return strconv.Itoa(v.Major)
	}
}
