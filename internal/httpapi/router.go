// internal/httpapi/router.go
//
// HTTP surface of the shell.
//
// Context
// -------
// One chi router exposes readiness, per-host content, the session view,
// the inbound session-event webhook, sign-out, queued notifications, and
// Prometheus metrics.  Every handler talks to a single Shell value; the
// router holds no state of its own.
//
// Routes
// ------
//
//	GET  /healthz                        liveness, always 200
//	GET  /readyz                         503 until the gate opens
//	GET  /api/content/{page}/{section}   tenant from the Host header
//	GET  /api/session                    flags only, never the token
//	GET  /api/notifications              drains the notification queue
//	POST /auth/events                    bearer-authenticated event push
//	POST /logout                         bearer secret or session token, 303
//	GET  /metrics                        Prometheus exposition
//
// Notes
// -----
//   - Middleware order: request id, recoverer, request info, access log,
//     HTTPS redirect, security headers.
//   - Oxford commas, two spaces after periods.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/content"
	"github.com/yanizio/adept-shell/internal/middleware"
	"github.com/yanizio/adept-shell/internal/notify"
	"github.com/yanizio/adept-shell/internal/readiness"
	"github.com/yanizio/adept-shell/internal/requestinfo"
	"github.com/yanizio/adept-shell/internal/session"
	"github.com/yanizio/adept-shell/internal/tenant"
)

// Shell is what the handlers need.  *app.Service satisfies it.
type Shell interface {
	State() readiness.State
	Content(ctx context.Context, host, page, section string) (tenant.ID, []json.RawMessage, error)
	Session() session.Snapshot
	SessionState() session.State
	SignOut(ctx context.Context) error
	PublishSession(ctx context.Context, ev session.Event) error
	Notifications() []notify.Notification
}

// Options configures the router.
type Options struct {
	EntryPoint    string   // sign-out redirect target
	WebhookSecret string   // bearer token for /auth/events and /logout
	ForceHTTPS    bool     // 308 plain-HTTP requests to HTTPS
	Loopback      []string // hosts exempt from the HTTPS redirect
	Geo           requestinfo.Geo
	Log           *zap.Logger
}

// maxEventBody bounds an inbound session event.
const maxEventBody = 64 << 10

type api struct {
	shell Shell
	opts  Options
	log   *zap.Logger
}

// NewRouter builds the handler tree.
func NewRouter(shell Shell, o Options) http.Handler {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.EntryPoint == "" {
		o.EntryPoint = "/login"
	}
	a := &api{shell: shell, opts: o, log: o.Log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestinfo.NewEnricher(o.Geo, o.Log).Handler)
	r.Use(accessLog(o.Log))
	if o.ForceHTTPS {
		r.Use(middleware.ForceHTTPS(o.Loopback))
	}
	r.Use(middleware.Security)

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/content/{page}/{section}", a.handleContent)
		r.Get("/session", a.handleSession)
		r.Get("/notifications", a.handleNotifications)
	})

	r.Post("/auth/events", a.handleSessionEvent)
	r.Post("/logout", a.handleLogout)
	return r
}

/*──────────────────────────── Handlers ─────────────────────────────────────*/

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := a.shell.State()
	code := http.StatusOK
	if !st.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		readiness.State
		Session string `json:"session"`
	}{st, a.shell.SessionState().String()})
}

type contentResponse struct {
	Page    string            `json:"page"`
	Section string            `json:"section"`
	Tenant  tenant.ID         `json:"tenant"`
	Items   []json.RawMessage `json:"items"`
}

func (a *api) handleContent(w http.ResponseWriter, r *http.Request) {
	page, section := chi.URLParam(r, "page"), chi.URLParam(r, "section")
	if !content.ValidKey(page) || !content.ValidKey(section) {
		writeError(w, http.StatusNotFound, "unknown page or section")
		return
	}

	id, items, err := a.shell.Content(r.Context(), r.Host, page, section)
	if errors.Is(err, content.ErrNotReady) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	if err != nil {
		a.log.Error("content resolve failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "content unavailable")
		return
	}

	writeJSON(w, http.StatusOK, contentResponse{
		Page:    page,
		Section: section,
		Tenant:  id,
		Items:   items,
	})
}

type sessionResponse struct {
	SignedIn      bool   `json:"signed_in"`
	UserID        string `json:"user_id,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Role          string `json:"role,omitempty"`
	IsSuperAdmin  bool   `json:"is_super_admin"`
	IsTenantAdmin bool   `json:"is_tenant_admin"`
	State         string `json:"state"`
}

func (a *api) handleSession(w http.ResponseWriter, _ *http.Request) {
	snap := a.shell.Session()
	out := sessionResponse{
		SignedIn:      snap.Session.HasUser(),
		IsSuperAdmin:  snap.IsSuperAdmin,
		IsTenantAdmin: snap.IsTenantAdmin,
		State:         a.shell.SessionState().String(),
	}
	if out.SignedIn {
		out.UserID = snap.Session.UserID.String()
	}
	if snap.Profile != nil {
		out.DisplayName = snap.Profile.DisplayName
		out.Role = string(snap.Profile.Role)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, a.shell.Notifications())
}

func (a *api) handleSessionEvent(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var ev session.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}
	if !ev.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event")
		return
	}
	if ev.Kind != session.EventSignedOut && !ev.Session.HasUser() {
		writeError(w, http.StatusBadRequest, "session with user required")
		return
	}

	if err := a.shell.PublishSession(r.Context(), ev); err != nil {
		a.log.Error("session event rejected", zap.String("event", string(ev.Kind)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "event not accepted")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) && !a.holdsSession(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	// The redirect happens whether or not artifact cleanup succeeded.
	if err := a.shell.SignOut(r.Context()); err != nil {
		a.log.Warn("sign-out cleanup failed", zap.Error(err))
	}
	http.Redirect(w, r, a.opts.EntryPoint, http.StatusSeeOther)
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

// authorized reports whether r carries the webhook secret.
func (a *api) authorized(r *http.Request) bool {
	return bearerMatches(r, a.opts.WebhookSecret)
}

// holdsSession reports whether r carries the current session's access
// token, so the signed-in user can end their own session.
func (a *api) holdsSession(r *http.Request) bool {
	s := a.shell.Session().Session
	if s == nil {
		return false
	}
	return bearerMatches(r, s.AccessToken)
}

func bearerMatches(r *http.Request, want string) bool {
	if want == "" {
		return false
	}
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
