package tenant

import (
	"context"

	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/metrics"
	"github.com/yanizio/adept-shell/internal/rpc"
)

// Lookup is the backend operation that maps a hostname to a tenant.  It
// returns Default for hostnames the backend does not recognise.
type Lookup interface {
	ResolveTenantByHostname(ctx context.Context, hostname string) (ID, error)
}

// Source records how a hostname was resolved.
type Source string

const (
	SourceAllowList Source = "allowlist"
	SourceRemote    Source = "remote"
	SourceFallback  Source = "fallback"
)

// Resolver maps hostnames to tenant ids.  It never fails: any terminal
// backend error degrades to the main site.
type Resolver struct {
	allow  AllowList
	rpc    *rpc.Client
	lookup Lookup
	log    *zap.Logger
}

// NewResolver wires a Resolver.  A nil logger disables logging.
func NewResolver(allow AllowList, client *rpc.Client, lookup Lookup, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{allow: allow, rpc: client, lookup: lookup, log: log}
}

// Resolve returns the tenant for hostname.
func (r *Resolver) Resolve(ctx context.Context, hostname string) ID {
	id, _ := r.Lookup(ctx, hostname)
	return id
}

// Lookup returns the tenant for hostname and where the answer came from.
func (r *Resolver) Lookup(ctx context.Context, hostname string) (ID, Source) {
	host := NormalizeHost(hostname)
	if r.allow.Matches(host) {
		metrics.TenantResolveTotal.WithLabelValues(string(SourceAllowList)).Inc()
		return Default, SourceAllowList
	}

	res := rpc.Do(ctx, r.rpc, func(ctx context.Context) (ID, error) {
		return r.lookup.ResolveTenantByHostname(ctx, host)
	}, rpc.Named("resolve_tenant_by_hostname"))

	if !res.OK() {
		// Fail open: a broken lookup serves the main site rather than
		// blocking the shell.
		r.log.Warn("tenant lookup failed, serving main site",
			zap.String("host", host),
			zap.String("class", res.Err.Kind.String()),
			zap.Error(res.Err))
		metrics.TenantResolveTotal.WithLabelValues(string(SourceFallback)).Inc()
		return Default, SourceFallback
	}

	metrics.TenantResolveTotal.WithLabelValues(string(SourceRemote)).Inc()
	r.log.Debug("tenant resolved", zap.String("host", host), zap.Uint64("tenant", uint64(res.Data)))
	return res.Data, SourceRemote
}
