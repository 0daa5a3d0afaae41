// cmd/web/main.go
//
// Adept shell – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Load env vars (jail-wide file → .env fallback).
//
//  2. Load config (YAML + ADEPT_ env), resolving vault: references lazily.
//
//  3. Start daily rotating logger (tees to console when running in a TTY).
//
//  4. Open the control-plane DB, splice in the password, and log the
//     active-tenant count as an early sanity check.
//
//  5. Build the retrying RPC client, the notification queue, the tenant
//     resolver and cache, the session feed and bootstrapper, the readiness
//     gate, and the content resolver, then fold them into app.Service.
//
//  6. Serve the chi router; Service.Run and the HTTP server share one
//     errgroup and stop together on SIGINT or SIGTERM.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/adept-shell/internal/app"
	"github.com/yanizio/adept-shell/internal/backend"
	"github.com/yanizio/adept-shell/internal/config"
	"github.com/yanizio/adept-shell/internal/content"
	"github.com/yanizio/adept-shell/internal/database"
	"github.com/yanizio/adept-shell/internal/httpapi"
	"github.com/yanizio/adept-shell/internal/logger"
	"github.com/yanizio/adept-shell/internal/notify"
	"github.com/yanizio/adept-shell/internal/readiness"
	"github.com/yanizio/adept-shell/internal/requestinfo"
	"github.com/yanizio/adept-shell/internal/rpc"
	"github.com/yanizio/adept-shell/internal/server"
	"github.com/yanizio/adept-shell/internal/session"
	"github.com/yanizio/adept-shell/internal/tenant"
	"github.com/yanizio/adept-shell/internal/vault"
)

const serverEnvPath = "/usr/local/etc/adept-shell/global.env"

// loadEnv prefers the jail-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	loadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		zap.L().Error("shell exited", zap.Error(err))
		_ = zap.L().Sync()
		log.Fatalf("adept-shell: %v", err)
	}
	_ = zap.L().Sync()
}

func run(ctx context.Context) error {
	// Bootstrap console logger so config errors surface before the file
	// logger exists.
	console, _ := zap.NewDevelopment()
	undo := zap.ReplaceGlobals(console)

	//
	// ── 1.  Config ──────────────────────────────────────────────────────
	//
	cfg, err := config.Load(ctx, vault.NewLazy(ctx, console))
	if err != nil {
		return err
	}

	//
	// ── 2.  Logger ──────────────────────────────────────────────────────
	//
	undo()
	logOut, err := logger.New(logger.Options{Root: cfg.Paths.Root, Tee: runningInTTY(), Level: cfg.Log.Level})
	if err != nil {
		return err
	}

	//
	// ── 3.  Control-plane DB ────────────────────────────────────────────
	//
	dsn, err := database.WithPassword(cfg.Database.DSN, cfg.Database.Password)
	if err != nil {
		return err
	}
	dbOpts := database.DefaultOptions()
	dbOpts.MaxOpen, dbOpts.MaxIdle, dbOpts.Log = cfg.Database.MaxOpen, cfg.Database.MaxIdle, logOut
	db, err := database.OpenWithOptions(ctx, dsn, dbOpts)
	if err != nil {
		return err
	}
	defer db.Close()

	store := backend.New(db)
	switch n, err := store.ActiveTenants(ctx); {
	case backend.IsUnknownTable(err):
		logOut.Warn("tenant table missing, every host will resolve to the main site")
	case err != nil:
		logOut.Warn("active tenant count failed", zap.Error(err))
	default:
		logOut.Info("control-plane DB online", zap.Int("active_tenants", n))
	}

	//
	// ── 4.  Core components ─────────────────────────────────────────────
	//
	notices := notify.NewQueue(notify.DefaultCapacity, logOut.Named("notify"))
	client := rpc.New(notices,
		rpc.WithLogger(logOut.Named("rpc")),
		rpc.WithPolicy(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay),
	)
	gate := readiness.NewGate()

	allow := tenant.AllowList{
		Loopback:      cfg.Site.Loopback,
		MainDomain:    cfg.Site.MainDomain,
		PreviewSuffix: cfg.Site.PreviewSuffix,
	}
	tenants := tenant.NewCache(
		tenant.NewResolver(allow, client, store, logOut.Named("tenant")),
		cfg.Tenant.IdleTTL, cfg.Tenant.MaxEntries,
	)

	artifacts := session.NewFileStore(cfg.Auth.ArtifactPath)
	feed := session.NewFeed(artifacts, session.DefaultFeedBuffer)
	defer feed.Close()
	bootstrapper := session.New(session.Deps{
		RPC:     client,
		Backend: store,
		Source:  feed,
		Store:   artifacts,
		Gate:    gate,
		Log:     logOut.Named("session"),
	})

	var copts []content.Option
	if cfg.Content.CacheSize > 0 {
		copts = append(copts, content.WithMemo(cfg.Content.CacheSize, cfg.Content.CacheTTL))
	}
	copts = append(copts, content.WithLogger(logOut.Named("content")))
	resolver := content.NewResolver(client, store, gate, copts...)

	svc := app.New(app.Deps{
		PrimaryHost: cfg.Site.Hostname,
		Tenants:     tenants,
		Session:     bootstrapper,
		Events:      feed,
		Gate:        gate,
		Content:     resolver,
		Notices:     notices,
		Log:         logOut.Named("app"),
	})

	//
	// ── 5.  HTTP ────────────────────────────────────────────────────────
	//
	geo, err := requestinfo.OpenGeo(cfg.Geo.DBPath)
	if err != nil {
		logOut.Warn("geo lookup disabled", zap.Error(err))
	}
	opts := httpapi.Options{
		EntryPoint:    cfg.Auth.EntryPoint,
		WebhookSecret: cfg.Auth.WebhookSecret,
		ForceHTTPS:    cfg.HTTP.ForceHTTPS,
		Loopback:      cfg.Site.Loopback,
		Log:           logOut.Named("http"),
	}
	if geo != nil {
		defer geo.Close()
		opts.Geo = geo
	}
	srv := server.New(cfg.HTTP.ListenAddr, httpapi.NewRouter(svc, opts))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, srv, logOut) })
	return g.Wait()
}
