// internal/vault/vault.go
//
// Vault client wrapper for the Adept shell.
//
// Context
// -------
//   - Provides a concurrency‑safe client around the HashiCorp Vault Go SDK.
//   - Adds background token renewal, KV‑v2 reads, and per‑key caching.
//   - Implements config.SecretResolver so `vault:` values in YAML or env
//     are swapped for secrets at boot.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, log)                  // during boot.
//  2. pw,  err := cli.GetKV(ctx, path, key, ttl)       // anywhere in the app.
//  3. pw,  err := cli.Resolve(ctx, "secret/app#pw")    // reference form.
//
// Lazy wraps New so a process with no `vault:` references never needs
// VAULT_ADDR at all.
//
// Build tags: none.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

//
// SECTION 1.  Public façade
//

// Client is safe for concurrent use.  Zero value is invalid.
type Client struct {
	api *vault.Client
	log *zap.Logger

	cacheMu sync.RWMutex
	cache   map[string]cached // canonical path#key → value + expiry.
}

type cached struct {
	val string
	exp time.Time
}

// CacheTTL is how long Resolve keeps a secret.
const CacheTTL = 10 * time.Minute

// New constructs a Vault client and starts a background token‑renewal
// loop bound to ctx.
//
// Environment expectations
// ------------------------
//   - VAULT_ADDR   – scheme and host of the Vault server.
//   - VAULT_TOKEN  – initial token (falls back to ~/.vault‑token).
func New(ctx context.Context, log *zap.Logger) (*Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	c := newClient(apiCli, log)
	go c.renewLoop(ctx)
	return c, nil
}

func newClient(api *vault.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{api: api, log: log.Named("vault"), cache: make(map[string]cached)}
}

// GetKV fetches a single key from a KV‑v2 secret.  If ttl > 0 the result is
// cached for that duration.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non‑empty")
	}

	canonical := secretPath + "#" + key

	if ttl > 0 {
		c.cacheMu.RLock()
		if cv, ok := c.cache[canonical]; ok && time.Now().Before(cv.exp) {
			c.cacheMu.RUnlock()
			return cv.val, nil
		}
		c.cacheMu.RUnlock()
	}

	mount, rel := splitMount(secretPath)
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: sval, exp: time.Now().Add(ttl)}
		c.cacheMu.Unlock()
	}
	return sval, nil
}

// Resolve reads a "mount/path#key" reference.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	p, k, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	return c.GetKV(ctx, p, k, CacheTTL)
}

// Lazy defers New until the first Resolve.
type Lazy struct {
	ctx context.Context
	log *zap.Logger

	once sync.Once
	cli  *Client
	err  error
}

// NewLazy returns a resolver whose client, once built, renews until ctx
// is done.
func NewLazy(ctx context.Context, log *zap.Logger) *Lazy {
	return &Lazy{ctx: ctx, log: log}
}

// Resolve implements config.SecretResolver.
func (l *Lazy) Resolve(ctx context.Context, ref string) (string, error) {
	l.once.Do(func() { l.cli, l.err = New(l.ctx, l.log) })
	if l.err != nil {
		return "", l.err
	}
	return l.cli.Resolve(ctx, ref)
}

//
// SECTION 2.  Background token renewal
//

func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			c.log.Warn("token renew self failed", zap.Error(err))
			backoff(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.log.Info("token is not renewable, sleeping 1h")
			backoff(ctx, time.Hour)
			continue
		}

		w, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{Secret: sec})
		if err != nil {
			c.log.Warn("lifetime watcher init failed", zap.Error(err))
			backoff(ctx, 30*time.Second)
			continue
		}
		c.watch(ctx, w)
		backoff(ctx, 15*time.Second)
	}
}

// watch runs w until it stops or ctx is done.
func (c *Client) watch(ctx context.Context, w *vault.LifetimeWatcher) {
	go w.Start()
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				c.log.Warn("token renewal stopped", zap.Error(err))
			}
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.log.Debug("token renewed", zap.Int("ttl_seconds", ev.Secret.Auth.LeaseDuration))
			}
		}
	}
}

//
// SECTION 3.  Helpers
//

// ParseRef splits "mount/path#key" into its path and key.
func ParseRef(ref string) (path, key string, err error) {
	path, key, ok := strings.Cut(strings.TrimSpace(ref), "#")
	if !ok || path == "" || key == "" || !strings.Contains(path, "/") {
		return "", "", fmt.Errorf("vault reference %q: want mount/path#key", ref)
	}
	return path, key, nil
}

func splitMount(p string) (mount, rel string) {
	if p == "" {
		return "", ""
	}
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
