// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from four layers (highest
precedence last):

  0. Built-in defaults (see `defaults` in model.go).
  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `ADEPT_`, where `__` maps to “.”
     (e.g., `ADEPT_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, every string value that starts with `vault:` is swapped
for the secret it names, then the tree is unmarshalled into typed
structs, validated, enriched with the runtime root path, and cached in an
`atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  - DEBUG spans: root discovery, YAML read, secret resolution.
  - ERROR spans: YAML parse, env overlay, unmarshal, validation failures.
  - INFO  span : final “config loaded” with key highlights.
  - Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.

Notes
-----
  - `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`;
    this lets `go run ./cmd/web` work from any sub-directory.
  - Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// VaultPrefix marks a value that must be fetched from the secret store.
const VaultPrefix = "vault:"

// SecretResolver turns a `vault:` reference (without the prefix) into
// the secret value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves ADEPT_ROOT or climbs directories until conf/global.yaml
// is found.  Falls back to executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("ADEPT_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads defaults, .env, YAML, and env overrides, resolves secrets
// through sr, validates, and caches the Config.  sr may be nil when no
// value uses the vault: prefix.
func Load(ctx context.Context, sr SecretResolver) (*Config, error) {
	return loadFrom(ctx, rootDir(), sr)
}

func loadFrom(ctx context.Context, root string, sr SecretResolver) (*Config, error) {
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// Env overrides: ADEPT_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("ADEPT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ADEPT_")
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	if err := resolveSecrets(ctx, k, sr); err != nil {
		zap.S().Errorw("config secret resolution failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}
	if !filepath.IsAbs(cfg.Auth.ArtifactPath) {
		cfg.Auth.ArtifactPath = filepath.Join(root, cfg.Auth.ArtifactPath)
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"force_https", cfg.HTTP.ForceHTTPS,
		"site", cfg.Site.Hostname,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// resolveSecrets replaces every vault: value in k.  Keys are visited in
// sorted order so failures are reported deterministically.
func resolveSecrets(ctx context.Context, k *koanf.Koanf, sr SecretResolver) error {
	keys := k.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		s, ok := k.Get(key).(string)
		if !ok || !strings.HasPrefix(s, VaultPrefix) {
			continue
		}
		if sr == nil {
			return fmt.Errorf("config %s: vault reference but no secret resolver", key)
		}
		val, err := sr.Resolve(ctx, strings.TrimPrefix(s, VaultPrefix))
		if err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
		if err := k.Set(key, val); err != nil {
			return err
		}
		zap.S().Debugw("config secret resolved", "key", key)
	}
	return nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

// Get returns the most recently loaded Config, or nil before Load.
func Get() *Config { return current.Load() }
