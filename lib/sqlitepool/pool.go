// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// defaultPoolSize is one writer and one reader for the review screen.
const defaultPoolSize = 2

// ErrSchemaTooNew is returned by Open when the database was migrated by
// a newer client than this one.
var ErrSchemaTooNew = errors.New("sqlitepool: database schema is newer than this client")

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to 2 when zero or negative.
	PoolSize int

	// Migrations are SQL scripts applied in order on Open. The count
	// already applied is kept in PRAGMA user_version, so entries may
	// only ever be appended.
	Migrations []string

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Pool is a fixed-size pool of prepared SQLite connections. Safe for
// concurrent use; the connections it lends are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool and brings the schema up to date.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: applyPragmas,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}
	pool := &Pool{inner: inner, logger: logger, path: cfg.Path}

	if len(cfg.Migrations) > 0 {
		err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
			return migrate(conn, cfg.Migrations, logger)
		})
		if err != nil {
			inner.Close()
			return nil, fmt.Errorf("sqlitepool: migrating %s: %w", cfg.Path, err)
		}
	}

	logger.Debug("sqlite pool opened", "path", cfg.Path, "pool_size", size)
	return pool, nil
}

// With lends a connection to fn for its duration.
func (p *Pool) With(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitepool: take: %w", err)
	}
	defer p.inner.Put(conn)
	return fn(conn)
}

// Tx is With inside an IMMEDIATE transaction, committed when fn
// returns nil and rolled back otherwise.
func (p *Pool) Tx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return p.With(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("sqlitepool: begin: %w", err)
		}
		defer end(&err)
		return fn(conn)
	})
}

// Close waits for lent connections to come back and closes them.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	return nil
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

func applyPragmas(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}

// SchemaVersion reports how many migrations conn's database has applied.
func SchemaVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	return version, err
}

func migrate(conn *sqlite.Conn, migrations []string, logger *slog.Logger) (err error) {
	defer sqlitex.Save(conn)(&err)

	current, err := SchemaVersion(conn)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("%w: version %d, client knows %d", ErrSchemaTooNew, current, len(migrations))
	}
	for i := current; i < len(migrations); i++ {
		if err := sqlitex.ExecuteScript(conn, migrations[i], nil); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		logger.Info("database migrated", "version", i+1)
	}
	return sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", len(migrations)), nil)
}
