// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/skirmish/lib/sqlitepool"
)

var scoreMigrations = []string{
	`CREATE TABLE scores (session_id INTEGER PRIMARY KEY, points INTEGER NOT NULL)`,
	`ALTER TABLE scores ADD COLUMN faction TEXT`,
}

func TestWALMode(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "wal.db"), nil)

	var mode string
	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				mode = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestMigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.db")

	first, err := sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: scoreMigrations[:1]})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	insertScore(t, first, 1, 40)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening with one more migration must apply only the new one;
	// rerunning the CREATE TABLE would fail.
	second := openPool(t, path, scoreMigrations)
	err = second.With(context.Background(), func(conn *sqlite.Conn) error {
		version, err := sqlitepool.SchemaVersion(conn)
		if err != nil {
			return err
		}
		if version != 2 {
			t.Errorf("SchemaVersion = %d, want 2", version)
		}
		return sqlitex.Execute(conn, "UPDATE scores SET faction = 'ARM' WHERE session_id = 1", nil)
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if got := countScores(t, second); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
}

func TestNewerSchemaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newer.db")
	current, err := sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: scoreMigrations})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	current.Close()

	_, err = sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: scoreMigrations[:1]})
	if !errors.Is(err, sqlitepool.ErrSchemaTooNew) {
		t.Fatalf("Open err = %v, want ErrSchemaTooNew", err)
	}
}

func TestTxRollsBackOnError(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "tx.db"), scoreMigrations)
	failure := errors.New("abandon")

	err := pool.Tx(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO scores (session_id, points) VALUES (7, 10)", nil); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Tx err = %v, want %v", err, failure)
	}
	if got := countScores(t, pool); got != 0 {
		t.Errorf("rows after rollback = %d, want 0", got)
	}

	if err := pool.Tx(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO scores (session_id, points) VALUES (7, 10)", nil)
	}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if got := countScores(t, pool); got != 1 {
		t.Errorf("rows after commit = %d, want 1", got)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestWithHonoursCancelledContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	err = pool.With(context.Background(), func(*sqlite.Conn) error {
		cancel()
		// The only connection is lent out, so this waits on ctx.
		return pool.With(ctx, func(*sqlite.Conn) error {
			t.Error("second With ran with no free connection")
			return nil
		})
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func openPool(t *testing.T, path string, migrations []string) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: migrations})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func insertScore(t *testing.T, pool *sqlitepool.Pool, sessionID, points int) {
	t.Helper()
	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO scores (session_id, points) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{sessionID, points}})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func countScores(t *testing.T, pool *sqlitepool.Pool) int {
	t.Helper()
	var count int
	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM scores", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}
