// internal/session/bootstrap.go
//
// Session bootstrap sequencer.
//
// Context
// -------
// At process start the Bootstrapper fetches the current session snapshot,
// loads the user's profile and authorization flags, then keeps consuming
// session events for the lifetime of the process.  Each event repeats the
// same sequence.
//
// Workflow
// --------
//  1. Run enters StateResolving and fetches the snapshot from the Source.
//  2. handleSession sets the session, then (with a user) fetches Profile,
//     derives IsSuperAdmin, and asks the backend for IsTenantAdmin.
//  3. The result is applied and the state returns to StateReady.
//  4. Run reads Source.Events() on one consumer loop.  Every event gets a
//     new generation id and cancels the previous resolution; a resolution
//     whose generation is no longer current is discarded.
//
// Notes
// -----
//   - A failed profile fetch is recoverable: the user is treated as having
//     no authorization flags and the gate still opens.  The rpc client
//     raises the only user notice for it.
//   - While a same-user event reloads, readers keep the previous profile
//     and flags alongside the new session.
//   - Oxford commas, two spaces after periods.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/metrics"
	"github.com/yanizio/adept-shell/internal/rpc"
)

// Backend is the remote surface the bootstrapper needs.
type Backend interface {
	FetchProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	IsAnyTenantAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Source supplies the current session and the stream of later changes.
type Source interface {
	Current(ctx context.Context) (*Session, error)
	Events() <-chan Event
}

// ArtifactStore holds locally persisted auth artifacts.
type ArtifactStore interface {
	Clear() error
}

// Gate is the readiness input the bootstrapper drives.
type Gate interface {
	SessionDone()
	BeginSessionTransition()
}

// Deps groups Bootstrapper collaborators.  Store, Gate, and Log are
// optional.
type Deps struct {
	RPC     *rpc.Client
	Backend Backend
	Source  Source
	Store   ArtifactStore
	Gate    Gate
	Log     *zap.Logger
}

// Bootstrapper owns the process-wide session state.
type Bootstrapper struct {
	rpc     *rpc.Client
	backend Backend
	source  Source
	store   ArtifactStore
	gate    Gate
	log     *zap.Logger

	mu     sync.RWMutex
	state  State
	snap   Snapshot
	gen    uint64
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New returns an unstarted Bootstrapper.
func New(d Deps) *Bootstrapper {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Bootstrapper{
		rpc:     d.RPC,
		backend: d.Backend,
		source:  d.Source,
		store:   d.Store,
		gate:    d.Gate,
		log:     d.Log,
	}
}

// Run resolves the initial session, then handles events until the stream
// closes or ctx is done.  In-flight resolutions are waited for before Run
// returns.
func (b *Bootstrapper) Run(ctx context.Context) error {
	b.begin(ctx, nil)

	events := b.source.Events()
	for {
		select {
		case <-ctx.Done():
			b.stop()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				b.wg.Wait()
				return nil
			}
			b.log.Debug("session event", zap.String("event", string(ev.Kind)))
			b.begin(ctx, &ev)
		}
	}
}

// Current returns a copy of the session state.
func (b *Bootstrapper) Current() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := b.snap
	if out.Session != nil {
		s := *out.Session
		out.Session = &s
	}
	if out.Profile != nil {
		p := *out.Profile
		out.Profile = &p
	}
	return out
}

// State returns the session-loading state.
func (b *Bootstrapper) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsLoading reports whether a resolution is in flight or has not started.
func (b *Bootstrapper) IsLoading() bool { return b.State() != StateReady }

// SignOut clears session, profile, and flags at once, drops any in-flight
// resolution, and removes persisted auth artifacts.  Callers redirect to
// the auth entry point afterwards whatever the error.
func (b *Bootstrapper) SignOut(_ context.Context) error {
	b.mu.Lock()
	b.gen++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.snap = Snapshot{}
	b.state = StateReady
	b.mu.Unlock()

	// A resolution dropped above would otherwise leave the gate closed.
	if b.gate != nil {
		b.gate.SessionDone()
	}
	if b.store == nil {
		return nil
	}
	if err := b.store.Clear(); err != nil {
		b.log.Error("clear auth artifacts", zap.Error(err))
		return err
	}
	b.log.Info("signed out")
	return nil
}

// begin allocates a generation and starts its resolution.  ev == nil
// means the initial snapshot.
func (b *Bootstrapper) begin(parent context.Context, ev *Event) {
	ctx, cancel := context.WithCancel(parent)

	b.mu.Lock()
	b.gen++
	gen := b.gen
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = cancel
	b.state = StateResolving
	b.mu.Unlock()

	if ev != nil && ev.Kind.transition() && b.gate != nil {
		b.gate.BeginSessionTransition()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		var s *Session
		if ev == nil {
			s = b.fetchCurrent(ctx)
		} else {
			s = ev.Session
		}
		b.handleSession(ctx, gen, s)
	}()
}

func (b *Bootstrapper) fetchCurrent(ctx context.Context) *Session {
	res := rpc.Do(ctx, b.rpc, b.source.Current, rpc.Named("current_session"))
	if !res.OK() {
		if res.Err.Kind != rpc.KindSessionNotFound && res.Err.Kind != rpc.KindAborted {
			b.log.Warn("session snapshot unavailable", zap.Error(res.Err))
		}
		return nil
	}
	return res.Data
}

// handleSession sets the session, then resolves profile and flags.
func (b *Bootstrapper) handleSession(ctx context.Context, gen uint64, s *Session) {
	if !b.setSession(gen, s) {
		return
	}

	snap := Snapshot{Session: s}
	if s.HasUser() {
		snap.Profile, snap.IsSuperAdmin, snap.IsTenantAdmin = b.loadRoles(ctx, s.UserID)
	}
	b.apply(ctx, gen, snap)
}

func (b *Bootstrapper) loadRoles(ctx context.Context, uid uuid.UUID) (*Profile, bool, bool) {
	res := rpc.Do(ctx, b.rpc, func(ctx context.Context) (*Profile, error) {
		return b.backend.FetchProfile(ctx, uid)
	}, rpc.Named("fetch_profile"))

	if !res.OK() || res.Data == nil {
		switch {
		case res.Err == nil, res.Err.Kind.Logical():
			b.log.Info("no profile for user", zap.String("user", uid.String()))
		case res.Err.Kind == rpc.KindAborted:
			// superseded; the result is dropped in apply
		default:
			// The rpc client has already told the user.
			b.log.Error("profile fetch failed", zap.String("user", uid.String()), zap.Error(res.Err))
		}
		return nil, false, false
	}

	profile := res.Data
	superAdmin := profile.Role == RoleAdmin

	admin := rpc.Do(ctx, b.rpc, func(ctx context.Context) (bool, error) {
		return b.backend.IsAnyTenantAdmin(ctx, uid)
	}, rpc.Named("is_any_tenant_admin"))

	return profile, superAdmin, admin.OK() && admin.Data
}

// setSession stores s if gen is current.  Profile and flags survive when
// the user is unchanged, so a refresh never shows a signed-in admin as a
// plain user while the reload runs.
func (b *Bootstrapper) setSession(gen uint64, s *Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return false
	}
	if s.HasUser() && b.snap.Session.HasUser() && b.snap.Session.UserID == s.UserID {
		b.snap.Session = s
		return true
	}
	b.snap = Snapshot{Session: s}
	return true
}

// apply commits snap and reasserts StateReady if gen is still current.
func (b *Bootstrapper) apply(ctx context.Context, gen uint64, snap Snapshot) {
	b.mu.Lock()
	if gen != b.gen || ctx.Err() != nil {
		b.mu.Unlock()
		metrics.SessionResolutionsTotal.WithLabelValues("stale").Inc()
		b.log.Debug("stale session resolution dropped", zap.Uint64("generation", gen))
		return
	}
	b.snap = snap
	b.state = StateReady
	b.cancel = nil
	b.mu.Unlock()

	metrics.SessionResolutionsTotal.WithLabelValues("applied").Inc()
	if b.gate != nil {
		b.gate.SessionDone()
	}
	b.log.Info("session resolved",
		zap.Bool("signed_in", snap.Session.HasUser()),
		zap.Bool("super_admin", snap.IsSuperAdmin),
		zap.Bool("tenant_admin", snap.IsTenantAdmin))
}

func (b *Bootstrapper) stop() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.mu.Unlock()
	b.wg.Wait()
}
