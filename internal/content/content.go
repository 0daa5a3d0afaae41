// internal/content/content.go
//
// Layered content fallback.
//
// Context
// -------
// Every page section can carry rows for several tenants.  The effective
// list for a tenant is:
//
//   - the tenant's own rows, ordered by position, when it has any;
//   - otherwise the main site's (tenant 0) rows, ordered by position;
//   - otherwise nothing.
//
// The two sets are never merged.  A tenant that overrides a section owns
// that section in full.  Rows for unrelated tenants are ignored even if the
// backend returns them.
//
// Notes
// -----
//   - Backend failures yield an empty list.  The rpc client has already
//     told the user; callers render their placeholder state.
//   - Oxford commas, two spaces after periods.
package content

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/cache"
	"github.com/yanizio/adept-shell/internal/metrics"
	"github.com/yanizio/adept-shell/internal/rpc"
	"github.com/yanizio/adept-shell/internal/tenant"
)

// ErrNotReady is returned when Resolve runs before the readiness gate
// opens.
var ErrNotReady = errors.New("content: application not ready")

// Item is one overridable unit of page content.
type Item struct {
	ID       uint64          `json:"id"`
	Page     string          `json:"page"`
	Section  string          `json:"section"`
	TenantID tenant.ID       `json:"tenant_id"`
	Position int             `json:"position"`
	Content  json.RawMessage `json:"content"`
}

// Querier fetches every row for a page section across tenants.
type Querier interface {
	QueryContentItems(ctx context.Context, page, section string) ([]Item, error)
}

// Readiness reports whether tenant-scoped work may start.
type Readiness interface {
	Ready() bool
}

// Resolver computes effective content lists.
type Resolver struct {
	rpc  *rpc.Client
	q    Querier
	gate Readiness
	memo *cache.LRU[key, []Item]
	log  *zap.Logger
}

type key struct{ page, section string }

// Option configures a Resolver.
type Option func(*Resolver)

// WithMemo keeps raw rows per (page, section) for ttl, bounded to size
// keys.  Zero ttl or size leaves memoisation off.
func WithMemo(size int, ttl time.Duration) Option {
	return func(r *Resolver) {
		if size > 0 && ttl > 0 {
			r.memo = cache.New[key, []Item](size, ttl)
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewResolver wires a Resolver.  A nil gate is treated as always ready.
func NewResolver(client *rpc.Client, q Querier, gate Readiness, opts ...Option) *Resolver {
	r := &Resolver{rpc: client, q: q, gate: gate, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the effective ordered content payloads for active.
func (r *Resolver) Resolve(ctx context.Context, page, section string, active tenant.ID) ([]json.RawMessage, error) {
	items, err := r.ResolveItems(ctx, page, section, active)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = it.Content
	}
	return out, nil
}

// ResolveItems is Resolve returning whole rows.
func (r *Resolver) ResolveItems(ctx context.Context, page, section string, active tenant.ID) ([]Item, error) {
	if r.gate != nil && !r.gate.Ready() {
		return nil, ErrNotReady
	}

	rows, ok := r.fetch(ctx, page, section)
	if !ok {
		metrics.ContentResolveTotal.WithLabelValues("error").Inc()
		return []Item{}, nil
	}

	eff := Effective(rows, active)
	switch {
	case len(eff) == 0:
		metrics.ContentResolveTotal.WithLabelValues("empty").Inc()
	case eff[0].TenantID == active && !active.IsDefault():
		metrics.ContentResolveTotal.WithLabelValues("tenant").Inc()
	default:
		metrics.ContentResolveTotal.WithLabelValues("default").Inc()
	}
	return eff, nil
}

func (r *Resolver) fetch(ctx context.Context, page, section string) ([]Item, bool) {
	k := key{page: page, section: section}
	if r.memo != nil {
		if rows, hit := r.memo.Get(k); hit {
			return rows, true
		}
	}

	res := rpc.Do(ctx, r.rpc, func(ctx context.Context) ([]Item, error) {
		return r.q.QueryContentItems(ctx, page, section)
	}, rpc.Named("query_content_items"))

	if !res.OK() {
		if res.Err.Kind.Logical() {
			return nil, true
		}
		r.log.Warn("content query failed",
			zap.String("page", page),
			zap.String("section", section),
			zap.Error(res.Err))
		return nil, false
	}
	if r.memo != nil {
		r.memo.Add(k, res.Data)
	}
	return res.Data, true
}

// Effective partitions rows into the active tenant's set and the default
// set, and returns the winning set sorted by position.  rows is not
// modified.
func Effective(rows []Item, active tenant.ID) []Item {
	var own, fallback []Item
	for _, it := range rows {
		switch it.TenantID {
		case active:
			own = append(own, it)
		case tenant.Default:
			fallback = append(fallback, it)
		}
	}

	winner := own
	if len(winner) == 0 {
		winner = fallback
	}
	if len(winner) == 0 {
		return []Item{}
	}
	slices.SortStableFunc(winner, func(a, b Item) int { return cmp.Compare(a.Position, b.Position) })
	return winner
}
