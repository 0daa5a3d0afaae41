// internal/app/service.go
//
// Process-wide resolver service.
//
// Context
// -------
// Service owns the tenant cache, the session bootstrapper, the readiness
// gate, and the content resolver, and is handed to the HTTP layer as one
// explicit dependency.  Run starts primary-tenant resolution and the
// session bootstrap concurrently; the gate is their only join point.
//
// Workflow
// --------
//  1. Run resolves the configured primary hostname through the tenant
//     cache, stores the active tenant, then marks tenant loading done.
//  2. In parallel the bootstrapper resolves the current session and
//     keeps consuming session events.
//  3. Request-scoped calls (TenantFor, Content) resolve the request's own
//     host through the same cache.
//
// Notes
// -----
//   - Resolution never fails hard; Run returns only on shutdown or when
//     the session stream ends.
//   - Oxford commas, two spaces after periods.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/adept-shell/internal/content"
	"github.com/yanizio/adept-shell/internal/notify"
	"github.com/yanizio/adept-shell/internal/readiness"
	"github.com/yanizio/adept-shell/internal/session"
	"github.com/yanizio/adept-shell/internal/tenant"
)

// Publisher accepts inbound session events.  *session.Feed satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev session.Event) error
}

// Deps groups Service collaborators.  Notices and Log are optional.
type Deps struct {
	PrimaryHost string
	Tenants     *tenant.Cache
	Session     *session.Bootstrapper
	Events      Publisher
	Gate        *readiness.Gate
	Content     *content.Resolver
	Notices     *notify.Queue
	Log         *zap.Logger
}

// Service is safe for concurrent use once constructed.
type Service struct {
	primary string
	tenants *tenant.Cache
	session *session.Bootstrapper
	events  Publisher
	gate    *readiness.Gate
	content *content.Resolver
	notices *notify.Queue
	log     *zap.Logger

	active   atomic.Uint64
	resolved atomic.Bool
}

// New wires a Service.  Nothing runs until Run.
func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Service{
		primary: d.PrimaryHost,
		tenants: d.Tenants,
		session: d.Session,
		events:  d.Events,
		gate:    d.Gate,
		content: d.Content,
		notices: d.Notices,
		log:     d.Log,
	}
}

// Run blocks until ctx is done or the session stream closes.  A cancelled
// ctx is a clean shutdown and returns nil.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		id := s.tenants.Get(gctx, s.primary)
		s.active.Store(uint64(id))
		s.resolved.Store(true)
		s.gate.TenantDone()
		s.log.Info("primary tenant resolved",
			zap.String("host", s.primary), zap.Uint64("tenant", uint64(id)))
		return nil
	})

	g.Go(func() error {
		err := s.session.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := g.Wait()
	s.tenants.Close()
	return err
}

// ActiveTenant is the primary host's tenant.  ok is false until resolved.
func (s *Service) ActiveTenant() (id tenant.ID, ok bool) {
	return tenant.ID(s.active.Load()), s.resolved.Load()
}

// TenantFor resolves host, falling back to the primary tenant when host
// is empty.
func (s *Service) TenantFor(ctx context.Context, host string) tenant.ID {
	if tenant.NormalizeHost(host) == "" {
		id, _ := s.ActiveTenant()
		return id
	}
	return s.tenants.Get(ctx, host)
}

// Ready reports whether both tenant and session loading are done.
func (s *Service) Ready() bool { return s.gate.Ready() }

// State returns the readiness flags.
func (s *Service) State() readiness.State { return s.gate.State() }

// WaitReady blocks until the gate opens or ctx is done.
func (s *Service) WaitReady(ctx context.Context) error { return s.gate.Wait(ctx) }

// Session returns a copy of the session state.
func (s *Service) Session() session.Snapshot { return s.session.Current() }

// SessionState reports the bootstrapper's lifecycle state.
func (s *Service) SessionState() session.State { return s.session.State() }

// SignOut clears the session synchronously.
func (s *Service) SignOut(ctx context.Context) error { return s.session.SignOut(ctx) }

// PublishSession forwards an inbound session event to the bootstrapper.
func (s *Service) PublishSession(ctx context.Context, ev session.Event) error {
	return s.events.Publish(ctx, ev)
}

// Content returns the effective list for (page, section) on host, along
// with the tenant it was resolved for.  host is resolved exactly once.
func (s *Service) Content(ctx context.Context, host, page, section string) (tenant.ID, []json.RawMessage, error) {
	if !s.gate.Ready() {
		return tenant.Default, nil, content.ErrNotReady
	}
	id := s.TenantFor(ctx, host)
	items, err := s.content.Resolve(ctx, page, section, id)
	return id, items, err
}

// Notifications drains queued user-visible notifications.
func (s *Service) Notifications() []notify.Notification {
	if s.notices == nil {
		return []notify.Notification{}
	}
	return s.notices.Drain()
}
