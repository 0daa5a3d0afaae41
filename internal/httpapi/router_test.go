package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yanizio/adept-shell/internal/content"
	"github.com/yanizio/adept-shell/internal/notify"
	"github.com/yanizio/adept-shell/internal/readiness"
	"github.com/yanizio/adept-shell/internal/session"
	"github.com/yanizio/adept-shell/internal/tenant"
)

const secret = "0123456789abcdef0123"

type fakeShell struct {
	mu        sync.Mutex
	ready     bool
	snap      session.Snapshot
	published []session.Event
	signedOut int
	notices   []notify.Notification
	lastHost  string
	resolves  int
	publisher error
}

func (f *fakeShell) State() readiness.State {
	return readiness.State{TenantLoading: !f.ready, Ready: f.ready}
}

func (f *fakeShell) tenantFor(host string) tenant.ID {
	f.resolves++
	if tenant.NormalizeHost(host) == "shop.example.com" {
		return 5
	}
	return tenant.Default
}

func (f *fakeShell) Content(_ context.Context, host, page, section string) (tenant.ID, []json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHost = host
	if !f.ready {
		return tenant.Default, nil, content.ErrNotReady
	}
	id := f.tenantFor(host)
	return id, []json.RawMessage{json.RawMessage(`"` + page + "/" + section + `"`)}, nil
}

func (f *fakeShell) Session() session.Snapshot { return f.snap }

func (f *fakeShell) SessionState() session.State { return session.StateReady }

func (f *fakeShell) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut++
	return nil
}

func (f *fakeShell) PublishSession(_ context.Context, ev session.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publisher != nil {
		return f.publisher
	}
	f.published = append(f.published, ev)
	return nil
}

func (f *fakeShell) Notifications() []notify.Notification {
	out := f.notices
	f.notices = []notify.Notification{}
	return out
}

func serve(h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestReadyz(t *testing.T) {
	shell := &fakeShell{}
	h := NewRouter(shell, Options{WebhookSecret: secret})

	w := serve(h, http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ready"] != false || body["tenant_loading"] != true || body["session"] != "ready" {
		t.Fatalf("body = %v", body)
	}

	shell.ready = true
	if w := serve(h, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if w := serve(h, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func TestContent(t *testing.T) {
	shell := &fakeShell{}
	h := NewRouter(shell, Options{})

	w := serve(h, http.MethodGet, "http://shop.example.com/api/content/home/hero", "", nil)
	if w.Code != http.StatusServiceUnavailable || w.Header().Get("Retry-After") == "" {
		t.Fatalf("not-ready response = %d %v", w.Code, w.Header())
	}

	shell.ready = true
	w = serve(h, http.MethodGet, "http://shop.example.com/api/content/home/hero", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got contentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tenant != 5 || len(got.Items) != 1 || string(got.Items[0]) != `"home/hero"` {
		t.Fatalf("response = %+v", got)
	}
	if shell.lastHost != "shop.example.com" {
		t.Fatalf("host passed = %q", shell.lastHost)
	}
	if shell.resolves != 1 {
		t.Fatalf("tenant resolved %d times for one request, want 1", shell.resolves)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	if w := serve(h, http.MethodGet, "http://shop.example.com/api/content/Home/hero", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("non-normalised key code = %d, want 404", w.Code)
	}
}

func TestSessionHidesToken(t *testing.T) {
	uid := uuid.New()
	shell := &fakeShell{snap: session.Snapshot{
		Session:      &session.Session{AccessToken: "super-secret-token", UserID: uid},
		Profile:      &session.Profile{ID: uid, Role: session.RoleAdmin, DisplayName: "Ada"},
		IsSuperAdmin: true,
	}}
	w := serve(NewRouter(shell, Options{}), http.MethodGet, "/api/session", "", nil)
	if strings.Contains(w.Body.String(), "super-secret-token") {
		t.Fatalf("token leaked: %s", w.Body)
	}
	var got sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.SignedIn || got.UserID != uid.String() || !got.IsSuperAdmin || got.IsTenantAdmin || got.Role != "admin" {
		t.Fatalf("response = %+v", got)
	}
}

func TestSessionEvents(t *testing.T) {
	uid := uuid.New()
	signIn := `{"event":"SIGNED_IN","session":{"access_token":"t","user_id":"` + uid.String() + `"}}`
	auth := map[string]string{"Authorization": "Bearer " + secret}

	tests := []struct {
		name string
		body string
		hdr  map[string]string
		want int
	}{
		{"no auth", signIn, nil, http.StatusUnauthorized},
		{"wrong secret", signIn, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"malformed", `{"event":`, auth, http.StatusBadRequest},
		{"unknown kind", `{"event":"PASSWORD_RECOVERY"}`, auth, http.StatusBadRequest},
		{"sign-in without user", `{"event":"SIGNED_IN","session":{}}`, auth, http.StatusBadRequest},
		{"sign-out", `{"event":"SIGNED_OUT"}`, auth, http.StatusAccepted},
		{"sign-in", signIn, auth, http.StatusAccepted},
	}
	shell := &fakeShell{}
	h := NewRouter(shell, Options{WebhookSecret: secret})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serve(h, http.MethodPost, "/auth/events", tt.body, tt.hdr); w.Code != tt.want {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
	if len(shell.published) != 2 || shell.published[1].Session.UserID != uid {
		t.Fatalf("published = %+v", shell.published)
	}
}

func TestSessionEvents_PublishFailure(t *testing.T) {
	shell := &fakeShell{publisher: errors.New("feed closed")}
	h := NewRouter(shell, Options{WebhookSecret: secret})
	w := serve(h, http.MethodPost, "/auth/events", `{"event":"SIGNED_OUT"}`,
		map[string]string{"Authorization": "Bearer " + secret})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
}

func TestLogoutRedirects(t *testing.T) {
	shell := &fakeShell{snap: session.Snapshot{Session: &session.Session{AccessToken: "user-token", UserID: uuid.New()}}}
	h := NewRouter(shell, Options{EntryPoint: "/signin", WebhookSecret: secret})

	for _, tok := range []string{secret, "user-token"} {
		w := serve(h, http.MethodPost, "/logout", "", map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/signin" {
			t.Fatalf("response = %d %q", w.Code, w.Header().Get("Location"))
		}
	}
	if shell.signedOut != 2 {
		t.Fatalf("SignOut calls = %d, want 2", shell.signedOut)
	}
}

func TestLogoutRequiresAuth(t *testing.T) {
	shell := &fakeShell{snap: session.Snapshot{Session: &session.Session{AccessToken: "user-token", UserID: uuid.New()}}}
	h := NewRouter(shell, Options{WebhookSecret: secret})

	tests := []struct {
		name string
		hdr  map[string]string
	}{
		{"no header", nil},
		{"wrong token", map[string]string{"Authorization": "Bearer nope"}},
		{"not bearer", map[string]string{"Authorization": "user-token"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serve(h, http.MethodPost, "/logout", "", tt.hdr); w.Code != http.StatusUnauthorized {
				t.Fatalf("code = %d, want 401", w.Code)
			}
		})
	}
	if shell.signedOut != 0 {
		t.Fatalf("SignOut called %d times without auth", shell.signedOut)
	}

	signedOut := &fakeShell{}
	if w := serve(NewRouter(signedOut, Options{}), http.MethodPost, "/logout", "",
		map[string]string{"Authorization": "Bearer "}); w.Code != http.StatusUnauthorized {
		t.Fatalf("empty token with no session = %d, want 401", w.Code)
	}
}

func TestNotificationsDrain(t *testing.T) {
	shell := &fakeShell{notices: []notify.Notification{{Level: notify.LevelError, Title: "Network unavailable"}}}
	h := NewRouter(shell, Options{})

	var first []notify.Notification
	w := serve(h, http.MethodGet, "/api/notifications", "", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil || len(first) != 1 || first[0].Title != "Network unavailable" {
		t.Fatalf("first drain = %s (%v)", w.Body, err)
	}
	w = serve(h, http.MethodGet, "/api/notifications", "", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("second drain = %s", w.Body)
	}
}

func TestForceHTTPSOption(t *testing.T) {
	h := NewRouter(&fakeShell{}, Options{ForceHTTPS: true})
	if w := serve(h, http.MethodGet, "http://shop.example.com/healthz", "", nil); w.Code != http.StatusPermanentRedirect {
		t.Fatalf("code = %d, want 308", w.Code)
	}
	if w := serve(h, http.MethodGet, "http://localhost/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("loopback code = %d, want 200", w.Code)
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewRouter(&fakeShell{}, Options{Log: zap.New(core)})
	serve(h, http.MethodGet, "http://Shop.Example.com/healthz", "", map[string]string{"X-Forwarded-For": "203.0.113.9"})

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("access log lines = %d, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["status"] != int64(200) || ctx["host"] != "shop.example.com" || ctx["path"] != "/healthz" {
		t.Fatalf("fields = %v", ctx)
	}
}
