// internal/backend/store.go
//
// Remote backend surface over MySQL.
//
// Context
// -------
// The shell treats its backend as an opaque service with four read
// operations.  Store implements them with sqlx against the control-plane
// schema:
//
//	tenant        (id, hostname, suspended_at, deleted_at)
//	profile       (id, role, display_name)
//	tenant_admin  (tenant_id, user_id)
//	content_item  (id, page, section, tenant_id, position, content)
//
// Every driver error leaves this file tagged with an rpc.Kind so the retry
// wrapper can classify it without reading message text.
//
// Notes
// -----
//   - ResolveTenantByHostname returns tenant 0, not an error, for unknown
//     hosts.  FetchProfile reports a missing row as rpc.KindNoRows.
//   - Oxford commas, two spaces after periods.
package backend

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/adept-shell/internal/content"
	"github.com/yanizio/adept-shell/internal/session"
	"github.com/yanizio/adept-shell/internal/tenant"
)

// Compile-time assertions: *Store satisfies every consumer interface.
var (
	_ tenant.Lookup   = (*Store)(nil)
	_ session.Backend = (*Store)(nil)
	_ content.Querier = (*Store)(nil)
)

// Store is safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

// New wraps an open pool.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// ActiveTenants returns the number of tenants that are neither suspended
// nor deleted.  Used as a boot-time sanity check.
func (s *Store) ActiveTenants(ctx context.Context) (int, error) {
	const q = `
        SELECT COUNT(*)
        FROM   tenant
        WHERE  suspended_at IS NULL
          AND  deleted_at   IS NULL`
	var n int
	if err := s.db.GetContext(ctx, &n, q); err != nil {
		return 0, tag(err)
	}
	return n, nil
}

// ResolveTenantByHostname maps hostname to a tenant id.
func (s *Store) ResolveTenantByHostname(ctx context.Context, hostname string) (tenant.ID, error) {
	const q = `
        SELECT id
        FROM   tenant
        WHERE  hostname = ?
          AND  suspended_at IS NULL
          AND  deleted_at   IS NULL
        LIMIT  1`
	var id uint64
	err := s.db.GetContext(ctx, &id, q, hostname)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Default, nil
	}
	if err != nil {
		return tenant.Default, tag(err)
	}
	return tenant.ID(id), nil
}

// FetchProfile loads one profile row.
func (s *Store) FetchProfile(ctx context.Context, userID uuid.UUID) (*session.Profile, error) {
	const q = `
        SELECT id, role, display_name
        FROM   profile
        WHERE  id = ?
        LIMIT  1`
	var p session.Profile
	if err := s.db.GetContext(ctx, &p, q, userID.String()); err != nil {
		return nil, tag(err)
	}
	return &p, nil
}

// IsAnyTenantAdmin reports whether userID administers at least one tenant.
func (s *Store) IsAnyTenantAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM tenant_admin WHERE user_id = ?)`
	var ok bool
	if err := s.db.GetContext(ctx, &ok, q, userID.String()); err != nil {
		return false, tag(err)
	}
	return ok, nil
}

// QueryContentItems returns every row for (page, section) across tenants.
// Ordering is left to the content resolver.
func (s *Store) QueryContentItems(ctx context.Context, page, section string) ([]content.Item, error) {
	const q = `
        SELECT id, page, section, tenant_id, position, content
        FROM   content_item
        WHERE  page = ?
          AND  section = ?`

	// Small slice cap avoids reallocations for typical sections.
	rows := make([]struct {
		ID       uint64 `db:"id"`
		Page     string `db:"page"`
		Section  string `db:"section"`
		TenantID uint64 `db:"tenant_id"`
		Position int    `db:"position"`
		Content  []byte `db:"content"`
	}, 0, 8)

	if err := s.db.SelectContext(ctx, &rows, q, page, section); err != nil {
		return nil, tag(err)
	}

	out := make([]content.Item, len(rows))
	for i, r := range rows {
		out[i] = content.Item{
			ID:       r.ID,
			Page:     r.Page,
			Section:  r.Section,
			TenantID: tenant.ID(r.TenantID),
			Position: r.Position,
			Content:  r.Content,
		}
	}
	return out, nil
}
