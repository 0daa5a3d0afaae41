package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yanizio/adept-shell/internal/notify"
	"github.com/yanizio/adept-shell/internal/readiness"
	"github.com/yanizio/adept-shell/internal/rpc"
)

// fakeBackend satisfies Backend.  Profiles listed in hold block until the
// channel is closed, ignoring ctx, so stale results really arrive late.
type fakeBackend struct {
	mu          sync.Mutex
	profiles    map[uuid.UUID]*Profile
	tenantAdmin map[uuid.UUID]bool
	profileErr  error
	hold        map[uuid.UUID]chan struct{}
	fetches     int
}

func (f *fakeBackend) FetchProfile(_ context.Context, id uuid.UUID) (*Profile, error) {
	f.mu.Lock()
	f.fetches++
	ch := f.hold[id]
	err := f.profileErr
	p, ok := f.profiles[id]
	f.mu.Unlock()

	if ch != nil {
		<-ch
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rpc.Errorf(rpc.KindNoRows, "no profile")
	}
	return p, nil
}

func (f *fakeBackend) IsAnyTenantAdmin(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenantAdmin[id], nil
}

// fakeSource satisfies Source.
type fakeSource struct {
	current *Session
	events  chan Event
}

func newFakeSource(s *Session) *fakeSource {
	return &fakeSource{current: s, events: make(chan Event, 4)}
}

func (f *fakeSource) Current(context.Context) (*Session, error) {
	if f.current == nil {
		return nil, rpc.Errorf(rpc.KindSessionNotFound, "session_not_found")
	}
	return f.current, nil
}

func (f *fakeSource) Events() <-chan Event { return f.events }

// fakeStore satisfies ArtifactStore.
type fakeStore struct{ cleared int }

func (f *fakeStore) Clear() error { f.cleared++; return nil }

type harness struct {
	b       *Bootstrapper
	gate    *readiness.Gate
	queue   *notify.Queue
	source  *fakeSource
	backend *fakeBackend
	store   *fakeStore
	cancel  context.CancelFunc
	done    chan error
}

func start(t *testing.T, current *Session, be *fakeBackend) *harness {
	t.Helper()
	h := &harness{
		gate:    readiness.NewGate(),
		queue:   notify.NewQueue(8, nil),
		source:  newFakeSource(current),
		backend: be,
		store:   &fakeStore{},
		done:    make(chan error, 1),
	}
	h.gate.TenantDone()
	client := rpc.New(h.queue, rpc.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	h.b = New(Deps{
		RPC:     client,
		Backend: be,
		Source:  h.source,
		Store:   h.store,
		Gate:    h.gate,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBootstrap_NoSessionBecomesReady(t *testing.T) {
	h := start(t, nil, &fakeBackend{})
	waitFor(t, "gate ready", h.gate.Ready)

	snap := h.b.Current()
	if snap.Session != nil || snap.Profile != nil || snap.IsSuperAdmin || snap.IsTenantAdmin {
		t.Fatalf("snapshot = %+v, want empty", snap)
	}
	if h.b.State() != StateReady {
		t.Fatalf("state = %s, want ready", h.b.State())
	}
	if h.queue.Len() != 0 {
		t.Fatalf("session_not_found produced a notification")
	}
}

func TestBootstrap_AdminProfileAndTenantAdmin(t *testing.T) {
	uid := uuid.New()
	be := &fakeBackend{
		profiles:    map[uuid.UUID]*Profile{uid: {ID: uid, Role: RoleAdmin}},
		tenantAdmin: map[uuid.UUID]bool{uid: true},
	}
	h := start(t, &Session{AccessToken: "tok", UserID: uid}, be)
	waitFor(t, "gate ready", h.gate.Ready)

	snap := h.b.Current()
	if snap.Profile == nil || snap.Profile.ID != uid {
		t.Fatalf("profile = %+v", snap.Profile)
	}
	if !snap.IsSuperAdmin || !snap.IsTenantAdmin {
		t.Fatalf("flags = %v / %v, want true / true", snap.IsSuperAdmin, snap.IsTenantAdmin)
	}
}

func TestBootstrap_TenantAdminIndependentOfRole(t *testing.T) {
	uid := uuid.New()
	be := &fakeBackend{
		profiles:    map[uuid.UUID]*Profile{uid: {ID: uid, Role: RoleUser}},
		tenantAdmin: map[uuid.UUID]bool{uid: true},
	}
	h := start(t, &Session{UserID: uid}, be)
	waitFor(t, "gate ready", h.gate.Ready)

	snap := h.b.Current()
	if snap.IsSuperAdmin || !snap.IsTenantAdmin {
		t.Fatalf("flags = %v / %v, want false / true", snap.IsSuperAdmin, snap.IsTenantAdmin)
	}
}

func TestBootstrap_ProfileFailureIsRecoverable(t *testing.T) {
	uid := uuid.New()
	be := &fakeBackend{profileErr: errors.New("backend down")}
	h := start(t, &Session{UserID: uid}, be)
	waitFor(t, "gate ready", h.gate.Ready)

	snap := h.b.Current()
	if snap.Session == nil || snap.Session.UserID != uid {
		t.Fatalf("session lost on profile failure: %+v", snap.Session)
	}
	if snap.Profile != nil || snap.IsSuperAdmin || snap.IsTenantAdmin {
		t.Fatalf("snapshot = %+v, want no profile and no flags", snap)
	}

	var titles []string
	for _, n := range h.queue.Drain() {
		titles = append(titles, n.Title)
	}
	if len(titles) != 1 || titles[0] != "Request failed" {
		t.Fatalf("notifications = %v, want one Request failed", titles)
	}
}

func TestBootstrap_MissingProfileIsSilent(t *testing.T) {
	h := start(t, &Session{UserID: uuid.New()}, &fakeBackend{})
	waitFor(t, "gate ready", h.gate.Ready)
	if h.queue.Len() != 0 {
		t.Fatalf("no-rows profile produced a notification")
	}
	if h.b.Current().Profile != nil {
		t.Fatalf("profile present")
	}
}

func TestBootstrap_StaleResolutionDropped(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	release := make(chan struct{})
	be := &fakeBackend{
		profiles: map[uuid.UUID]*Profile{
			first:  {ID: first, Role: RoleAdmin},
			second: {ID: second, Role: RoleUser},
		},
		hold: map[uuid.UUID]chan struct{}{first: release},
	}
	h := start(t, nil, be)
	waitFor(t, "initial ready", h.gate.Ready)

	h.source.events <- Event{Kind: EventSignedIn, Session: &Session{UserID: first}}
	waitFor(t, "first fetch started", func() bool {
		be.mu.Lock()
		defer be.mu.Unlock()
		return be.fetches == 1
	})
	if h.gate.Ready() {
		t.Fatalf("gate stayed open across sign-in")
	}

	h.source.events <- Event{Kind: EventSignedIn, Session: &Session{UserID: second}}
	waitFor(t, "second applied", func() bool {
		p := h.b.Current().Profile
		return p != nil && p.ID == second
	})

	close(release)
	// Give the stale resolution time to land.
	time.Sleep(20 * time.Millisecond)

	snap := h.b.Current()
	if snap.Profile == nil || snap.Profile.ID != second || snap.IsSuperAdmin {
		t.Fatalf("stale result won: %+v", snap.Profile)
	}
	if !h.gate.Ready() {
		t.Fatalf("gate closed after newest event applied")
	}
}

func TestBootstrap_TokenRefreshKeepsGateOpen(t *testing.T) {
	uid := uuid.New()
	release := make(chan struct{})
	be := &fakeBackend{profiles: map[uuid.UUID]*Profile{uid: {ID: uid, Role: RoleUser}}}
	h := start(t, &Session{UserID: uid}, be)
	waitFor(t, "initial ready", h.gate.Ready)

	be.mu.Lock()
	be.hold = map[uuid.UUID]chan struct{}{uid: release}
	be.mu.Unlock()

	h.source.events <- Event{Kind: EventTokenRefreshed, Session: &Session{AccessToken: "new", UserID: uid}}
	waitFor(t, "resolving", func() bool { return h.b.State() == StateResolving })
	if !h.gate.Ready() {
		t.Fatalf("token refresh closed the gate")
	}
	close(release)
	waitFor(t, "ready again", func() bool { return h.b.State() == StateReady })
	if h.b.Current().Session.AccessToken != "new" {
		t.Fatalf("refreshed token not applied")
	}
}

func TestBootstrap_TokenRefreshKeepsFlags(t *testing.T) {
	uid := uuid.New()
	release := make(chan struct{})
	be := &fakeBackend{
		profiles:    map[uuid.UUID]*Profile{uid: {ID: uid, Role: RoleAdmin}},
		tenantAdmin: map[uuid.UUID]bool{uid: true},
	}
	h := start(t, &Session{AccessToken: "old", UserID: uid}, be)
	waitFor(t, "initial ready", h.gate.Ready)

	be.mu.Lock()
	be.hold = map[uuid.UUID]chan struct{}{uid: release}
	be.mu.Unlock()

	h.source.events <- Event{Kind: EventTokenRefreshed, Session: &Session{AccessToken: "new", UserID: uid}}
	waitFor(t, "new token visible", func() bool {
		s := h.b.Current().Session
		return s != nil && s.AccessToken == "new"
	})

	snap := h.b.Current()
	if !h.gate.Ready() || snap.Profile == nil || !snap.IsSuperAdmin || !snap.IsTenantAdmin {
		t.Fatalf("during refresh: ready=%v snapshot=%+v", h.gate.Ready(), snap)
	}

	close(release)
	waitFor(t, "ready again", func() bool { return h.b.State() == StateReady })
	if snap := h.b.Current(); !snap.IsSuperAdmin || !snap.IsTenantAdmin {
		t.Fatalf("after refresh: %+v", snap)
	}
}

func TestBootstrap_UserChangeDropsOldFlags(t *testing.T) {
	admin, other := uuid.New(), uuid.New()
	release := make(chan struct{})
	be := &fakeBackend{
		profiles: map[uuid.UUID]*Profile{
			admin: {ID: admin, Role: RoleAdmin},
			other: {ID: other, Role: RoleUser},
		},
		hold: map[uuid.UUID]chan struct{}{other: release},
	}
	h := start(t, &Session{UserID: admin}, be)
	waitFor(t, "initial ready", func() bool { return h.gate.Ready() && h.b.Current().IsSuperAdmin })

	h.source.events <- Event{Kind: EventSignedIn, Session: &Session{UserID: other}}
	waitFor(t, "new user visible", func() bool {
		s := h.b.Current().Session
		return s != nil && s.UserID == other
	})
	if snap := h.b.Current(); snap.Profile != nil || snap.IsSuperAdmin {
		t.Fatalf("previous user's flags leaked: %+v", snap)
	}
	close(release)
	waitFor(t, "ready again", h.gate.Ready)
}

func TestBootstrap_SignOutClearsEverything(t *testing.T) {
	uid := uuid.New()
	be := &fakeBackend{
		profiles:    map[uuid.UUID]*Profile{uid: {ID: uid, Role: RoleAdmin}},
		tenantAdmin: map[uuid.UUID]bool{uid: true},
	}
	h := start(t, &Session{UserID: uid}, be)
	waitFor(t, "gate ready", h.gate.Ready)

	if err := h.b.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	snap := h.b.Current()
	if snap.Session != nil || snap.Profile != nil || snap.IsSuperAdmin || snap.IsTenantAdmin {
		t.Fatalf("snapshot after sign-out = %+v", snap)
	}
	if h.store.cleared != 1 {
		t.Fatalf("artifacts cleared %d times, want 1", h.store.cleared)
	}
}

func TestBootstrap_RunReturnsWhenStreamCloses(t *testing.T) {
	src := newFakeSource(nil)
	client := rpc.New(nil)
	b := New(Deps{RPC: client, Backend: &fakeBackend{}, Source: src})

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()
	close(src.events)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after the stream closed")
	}
	if b.State() != StateReady {
		t.Fatalf("state = %s, want ready", b.State())
	}
}
