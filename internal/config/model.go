// internal/config/model.go
//
// Typed configuration model for the Adept shell.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   - optional `.env`                         – dotenv values,
//   - `conf/global.yaml`                      – primary static file,
//   - `ADEPT_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through a SecretResolver *before* validation (see Load), so the rest of
// the app never sees Vault URIs, only plain strings.
//
// Notes
// -----
//   - Struct tags use `koanf:"…"`, not `yaml:"…"`.  Koanf ignores `yaml`
//     tags unless configured otherwise.
//   - Durations are plain strings in YAML ("30m", "1s"); koanf's default
//     decode hook turns them into time.Duration.
//   - The `Paths` block is filled at runtime; YAML must not try to set it.
//   - Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS bool   `koanf:"force_https"`
}

//
// Database section
//

// Database holds the DSN template and its secret.
//
// The DSN is kept in YAML so operators can tweak host, port, or flags
// without touching Vault.  The password is usually a `vault:` reference
// and is spliced into the DSN at connect time.
type Database struct {
	DSN      string `koanf:"dsn"      validate:"required"`
	Password string `koanf:"password"`
	MaxOpen  int    `koanf:"max_open" validate:"gte=0"`
	MaxIdle  int    `koanf:"max_idle" validate:"gte=0"`
}

//
// Site section
//

// Site names the hosts that belong to the main site.
//
// Hostname is the host this process serves as its primary identity; it is
// resolved once at boot to open the tenant half of the readiness gate.
type Site struct {
	Hostname      string   `koanf:"hostname"       validate:"required"`
	MainDomain    string   `koanf:"main_domain"    validate:"required,fqdn"`
	PreviewSuffix string   `koanf:"preview_suffix" validate:"omitempty,fqdn"`
	Loopback      []string `koanf:"loopback"`
}

//
// Retry section
//

// Retry is the default policy for backend calls.
type Retry struct {
	MaxRetries int           `koanf:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay  time.Duration `koanf:"base_delay"  validate:"gte=0"`
}

//
// Auth section
//

// Auth configures the session event feed and sign-out redirect.
type Auth struct {
	EntryPoint    string `koanf:"entry_point"    validate:"required,startswith=/"`
	ArtifactPath  string `koanf:"artifact_path"  validate:"required"`
	WebhookSecret string `koanf:"webhook_secret" validate:"required,min=16"`
}

//
// Tenant section
//

// Tenant tunes the hostname cache.
type Tenant struct {
	IdleTTL    time.Duration `koanf:"idle_ttl"    validate:"gte=0"`
	MaxEntries int           `koanf:"max_entries" validate:"gte=0"`
}

//
// Content section
//

// Content tunes the per-section row memo.  CacheSize 0 disables it.
type Content struct {
	CacheSize int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `koanf:"cache_ttl"  validate:"gte=0"`
}

// Log picks the minimum level.
type Log struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Geo points at an optional GeoLite2 country database.
type Geo struct {
	DBPath string `koanf:"db_path"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers `Root` (repo root or ADEPT_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // ADEPT_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Site     Site     `koanf:"site"`
	Retry    Retry    `koanf:"retry"`
	Auth     Auth     `koanf:"auth"`
	Tenant   Tenant   `koanf:"tenant"`
	Content  Content  `koanf:"content"`
	Log      Log      `koanf:"log"`
	Geo      Geo      `koanf:"geo"`
	Paths    Paths    `koanf:"-"` // not loaded from config files
}

// defaults seeds the koanf tree before any file is read.
var defaults = map[string]any{
	"http.listen_addr":    ":8080",
	"database.max_open":   15,
	"database.max_idle":   5,
	"retry.max_retries":   2,
	"retry.base_delay":    "1s",
	"auth.entry_point":    "/login",
	"auth.artifact_path":  "var/session.json",
	"tenant.idle_ttl":     "30m",
	"tenant.max_entries":  1000,
	"content.cache_size":  256,
	"content.cache_ttl":   "30s",
	"log.level":           "info",
	"site.hostname":       "localhost",
	"site.preview_suffix": "",
}
