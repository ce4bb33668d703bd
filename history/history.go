// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history keeps the sessions the player finished in a SQLite
// database, newest first, for the after-game review.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/skirmish/lib/sqlitepool"
	"github.com/bureau-foundation/skirmish/session"
)

// Retention is how many finished sessions the database keeps.
const Retention = 500

// ErrNotFound is returned by Lookup for an unknown session.
var ErrNotFound = errors.New("session not in history")

// migrations may only be appended to.
var migrations = []string{`
	CREATE TABLE played (
		session_id   INTEGER PRIMARY KEY,
		title        TEXT NOT NULL,
		host         TEXT NOT NULL,
		map_name     TEXT NOT NULL,
		featured_mod TEXT NOT NULL,
		kind         TEXT NOT NULL,
		rating_type  TEXT NOT NULL,
		num_players  INTEGER NOT NULL,
		teams        TEXT,
		started_at   INTEGER,
		ended_at     INTEGER NOT NULL
	);
	CREATE INDEX idx_played_ended ON played(ended_at);
`}

// Entry is one finished session.
type Entry struct {
	SessionID   int
	Title       string
	Host        string
	MapName     string
	FeaturedMod string
	Kind        session.Kind
	RatingType  string
	NumPlayers  int
	Teams       map[string][]string

	// StartedAt is zero when the server never reported a start time.
	StartedAt time.Time
	EndedAt   time.Time
}

// Store implements the orchestrator's History interface.
type Store struct {
	pool      *sqlitepool.Pool
	retention int
	logger    *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       path,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{pool: pool, retention: Retention, logger: logger.With("component", "history")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Record stores played as finished at endedAt and drops the oldest
// entries beyond [Retention]. Recording a session again replaces the
// earlier entry.
func (s *Store) Record(ctx context.Context, played session.Session, endedAt time.Time) error {
	var teams any
	if len(played.Teams) > 0 {
		data, err := json.Marshal(played.Teams)
		if err != nil {
			return fmt.Errorf("history: marshal teams: %w", err)
		}
		teams = string(data)
	}
	var startedAt any
	if !played.StartTime.IsZero() {
		startedAt = played.StartTime.UnixNano()
	}

	var pruned int
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT OR REPLACE INTO played
			(session_id, title, host, map_name, featured_mod, kind,
			 rating_type, num_players, teams, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				played.ID,
				played.Title,
				played.Host,
				played.MapName,
				played.FeaturedMod,
				played.Kind.String(),
				played.RatingType,
				played.NumPlayers,
				teams,
				startedAt,
				endedAt.UnixNano(),
			},
		})
		if err != nil {
			return err
		}
		err = sqlitex.Execute(conn, `DELETE FROM played WHERE session_id NOT IN
			(SELECT session_id FROM played ORDER BY ended_at DESC, session_id DESC LIMIT ?)`,
			&sqlitex.ExecOptions{Args: []any{s.retention}})
		pruned = conn.Changes()
		return err
	})
	if err != nil {
		return fmt.Errorf("history: recording session %d: %w", played.ID, err)
	}
	s.logger.Debug("session recorded", "session_id", played.ID, "pruned", pruned)
	return nil
}

const selectColumns = `SELECT session_id, title, host, map_name, featured_mod,
	kind, rating_type, num_players, teams, started_at, ended_at FROM played`

// Recent returns up to limit entries, most recently ended first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+` ORDER BY ended_at DESC, session_id DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entry, err := scanEntry(stmt)
					if err != nil {
						return err
					}
					entries = append(entries, entry)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("history: listing: %w", err)
	}
	return entries, nil
}

// Lookup returns the entry of sessionID.
func (s *Store) Lookup(ctx context.Context, sessionID int) (Entry, error) {
	var (
		entry Entry
		found bool
	)
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+` WHERE session_id = ?`, &sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				entry, err = scanEntry(stmt)
				found = err == nil
				return err
			},
		})
	})
	if err != nil {
		return Entry{}, fmt.Errorf("history: looking up %d: %w", sessionID, err)
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %d", ErrNotFound, sessionID)
	}
	return entry, nil
}

func scanEntry(stmt *sqlite.Stmt) (Entry, error) {
	entry := Entry{
		SessionID:   int(stmt.ColumnInt64(0)),
		Title:       stmt.ColumnText(1),
		Host:        stmt.ColumnText(2),
		MapName:     stmt.ColumnText(3),
		FeaturedMod: stmt.ColumnText(4),
		RatingType:  stmt.ColumnText(6),
		NumPlayers:  int(stmt.ColumnInt64(7)),
		EndedAt:     time.Unix(0, stmt.ColumnInt64(10)).UTC(),
	}
	if err := entry.Kind.UnmarshalText([]byte(stmt.ColumnText(5))); err != nil {
		return Entry{}, err
	}
	if teams := stmt.ColumnText(8); teams != "" {
		if err := json.Unmarshal([]byte(teams), &entry.Teams); err != nil {
			return Entry{}, fmt.Errorf("decoding teams: %w", err)
		}
	}
	if stmt.ColumnType(9) != sqlite.TypeNull {
		entry.StartedAt = time.Unix(0, stmt.ColumnInt64(9)).UTC()
	}
	return entry, nil
}
