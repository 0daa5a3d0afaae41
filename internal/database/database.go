// Package database centralises sqlx connection helpers.  The driver is
// go-sql-driver/mysql, which also works with MariaDB and TiDB.
//
// Public entry points:
//
//	WithPassword(dsn, pw)        – splice a secret into a DSN template.
//	Open(ctx, dsn)               – conservative pool sizes.
//	OpenWithOptions(ctx, dsn, o) – fine-grained control.
//
// Both helpers Ping the database before returning, retrying a few times
// because the shell often starts alongside its database container.
// Callers should Close() the returned *sqlx.DB when no longer needed.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Options tunes the pool and the boot-time ping.
type Options struct {
	MaxOpen      int
	MaxIdle      int
	MaxLifetime  time.Duration
	PingAttempts int
	PingDelay    time.Duration
	Log          *zap.Logger
}

// DefaultOptions: 15 max open, 5 idle, 30-minute lifetime, 5 pings 2s apart.
func DefaultOptions() Options {
	return Options{
		MaxOpen:      15,
		MaxIdle:      5,
		MaxLifetime:  30 * time.Minute,
		PingAttempts: 5,
		PingDelay:    2 * time.Second,
	}
}

// WithPassword returns dsn with its password replaced by pw.  An empty pw
// leaves the DSN unchanged.  parseTime is forced on because the schema
// carries TIMESTAMP columns.
func WithPassword(dsn, pw string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	if pw != "" {
		cfg.Passwd = pw
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Open returns a *sqlx.DB with DefaultOptions.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, dsn, DefaultOptions())
}

// OpenWithOptions opens a pool and pings it until it answers or the
// attempts run out.
func OpenWithOptions(ctx context.Context, dsn string, o Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	if o.MaxOpen > 0 {
		db.SetMaxOpenConns(o.MaxOpen)
	}
	if o.MaxIdle > 0 {
		db.SetMaxIdleConns(o.MaxIdle)
	}
	if o.MaxLifetime > 0 {
		db.SetConnMaxLifetime(o.MaxLifetime)
	}

	if err := ping(ctx, db, o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sqlx.DB, o Options) error {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	attempts := max(o.PingAttempts, 1)

	var err error
	for i := 1; i <= attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn("database ping failed, retrying",
			zap.Int("attempt", i), zap.Duration("delay", o.PingDelay), zap.Error(err))

		t := time.NewTimer(o.PingDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("database unreachable after %d attempts: %w", attempts, err)
}
