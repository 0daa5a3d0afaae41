package tenant

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yanizio/adept-shell/internal/metrics"
)

// Static defaults.  Override via the tenant section of the config.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 1000
	EvictInterval = 5 * time.Minute
)

// entry is one cached hostname.
type entry struct {
	id       ID
	lastSeen int64 // UnixNano
}

// Cache memoises hostname resolutions, collapses concurrent lookups for the
// same host with singleflight, and evicts entries on idle TTL or LRU
// pressure.  Fallback answers are never stored, so a host that failed to
// resolve is retried on its next request.
type Cache struct {
	resolver   *Resolver
	sfg        singleflight.Group
	m          sync.Map
	idleTTL    time.Duration
	maxEntries int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewCache constructs a Cache and starts the background evictor.  Call
// Close to stop it.
func NewCache(r *Resolver, idleTTL time.Duration, maxEntries int) *Cache {
	return newCache(r, idleTTL, maxEntries, EvictInterval)
}

func newCache(r *Resolver, idleTTL time.Duration, maxEntries int, every time.Duration) *Cache {
	c := &Cache{
		resolver:   r,
		idleTTL:    idleTTL,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	if every > 0 {
		go c.evictLoop(every)
	}
	return c
}

// Get returns the tenant for host, resolving it on first use.
func (c *Cache) Get(ctx context.Context, host string) ID {
	key := NormalizeHost(host)
	if id, ok := c.load(key); ok {
		return id
	}

	v, _, _ := c.sfg.Do(key, func() (any, error) {
		// Double-check after singleflight barrier.
		if id, ok := c.load(key); ok {
			return id, nil
		}
		// Waiters share this lookup, so one caller hanging up must not
		// abort it for the rest.
		id, src := c.resolver.Lookup(context.WithoutCancel(ctx), key)
		if src != SourceFallback {
			c.m.Store(key, &entry{id: id, lastSeen: time.Now().UnixNano()})
			metrics.ActiveTenants.Inc()
		}
		return id, nil
	})
	return v.(ID)
}

// Len reports the number of cached hostnames.
func (c *Cache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Close stops the evictor.  It is safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) load(key string) (ID, bool) {
	v, ok := c.m.Load(key)
	if !ok {
		return Default, false
	}
	ent := v.(*entry)
	atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
	return ent.id, true
}
