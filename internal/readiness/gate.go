// internal/readiness/gate.go
//
// Application readiness gate.
//
// Context
// -------
// Tenant resolution and session bootstrap start together and finish in
// any order.  The Gate is their join point:
//
//	ready = !tenantLoading && !sessionLoading
//
// Tenant loading is one-way.  Session loading may re-enter only through
// BeginSessionTransition, which the session bootstrapper calls for sign-in
// and sign-out.  Consumers must not run tenant-scoped work until Ready.
//
// Notes
// -----
//   - Wait blocks on a channel that is closed each time the gate opens and
//     replaced when a session transition closes it again.
//   - Oxford commas, two spaces after periods.
package readiness

import (
	"context"
	"sync"

	"github.com/yanizio/adept-shell/internal/metrics"
)

// State is a snapshot of the gate's inputs and output.
type State struct {
	TenantLoading  bool `json:"tenant_loading"`
	SessionLoading bool `json:"session_loading"`
	Ready          bool `json:"ready"`
}

// Gate combines the two loading flags.  The zero value is not usable;
// construct with NewGate.
type Gate struct {
	mu             sync.Mutex
	tenantLoading  bool
	sessionLoading bool
	openCh         chan struct{}
	opened         int // number of times the gate has opened
}

// NewGate returns a gate with both inputs still loading.
func NewGate() *Gate {
	metrics.Ready.Set(0)
	return &Gate{
		tenantLoading:  true,
		sessionLoading: true,
		openCh:         make(chan struct{}),
	}
}

// TenantDone marks tenant resolution complete.  Later calls are no-ops.
func (g *Gate) TenantDone() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tenantLoading = false
	g.recompute()
}

// SessionDone marks the current session resolution complete.
func (g *Gate) SessionDone() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionLoading = false
	g.recompute()
}

// BeginSessionTransition re-enters session loading for a sign-in or
// sign-out.  The gate closes until the next SessionDone.
func (g *Gate) BeginSessionTransition() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionLoading {
		return
	}
	wasReady := !g.tenantLoading
	g.sessionLoading = true
	if wasReady {
		g.openCh = make(chan struct{})
		metrics.Ready.Set(0)
	}
}

// Ready reports whether both inputs have completed.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready()
}

// State returns a snapshot of the gate.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		TenantLoading:  g.tenantLoading,
		SessionLoading: g.sessionLoading,
		Ready:          g.ready(),
	}
}

// Opened reports how many times the gate has flipped to ready.
func (g *Gate) Opened() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

// Wait blocks until the gate is ready or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.ready() {
			g.mu.Unlock()
			return nil
		}
		ch := g.openCh
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			// Re-check: a transition may have closed the gate again.
		}
	}
}

func (g *Gate) ready() bool { return !g.tenantLoading && !g.sessionLoading }

// recompute opens the gate on the false → true edge.  Caller holds mu.
func (g *Gate) recompute() {
	if !g.ready() {
		return
	}
	select {
	case <-g.openCh:
		// already open
	default:
		close(g.openCh)
		g.opened++
		metrics.Ready.Set(1)
	}
}
