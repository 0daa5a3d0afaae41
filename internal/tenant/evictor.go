// evictor.go houses the eviction loop for Cache.  On every tick it scans
// the map and removes:
//
//   - hostnames idle longer than idleTTL
//   - least-recently-used hostnames when map size exceeds maxEntries
//
// Each eviction updates Prometheus counters.  An evicted host is resolved
// again on its next request.
package tenant

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/yanizio/adept-shell/internal/metrics"
)

func (c *Cache) evictLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.evict(time.Now())
		}
	}
}

// evict runs one idle pass and one LRU pass relative to now.
func (c *Cache) evict(now time.Time) {
	var count int

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	c.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		idle := time.Duration(now.UnixNano() - atomic.LoadInt64(&ent.lastSeen))
		if c.idleTTL > 0 && idle > c.idleTTL {
			c.m.Delete(key)
			metrics.TenantEvictTotal.Inc()
			metrics.ActiveTenants.Dec()
			return true
		}
		count++
		return true
	})

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if c.maxEntries <= 0 || count <= c.maxEntries {
		return
	}
	type kv struct {
		key string
		at  int64
	}
	all := make([]kv, 0, count)
	c.m.Range(func(key, value any) bool {
		all = append(all, kv{key: key.(string), at: atomic.LoadInt64(&value.(*entry).lastSeen)})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
	for i := 0; i < len(all)-c.maxEntries; i++ {
		if _, ok := c.m.LoadAndDelete(all[i].key); ok {
			metrics.TenantEvictTotal.Inc()
			metrics.ActiveTenants.Dec()
		}
	}
}
