// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/skirmish/session"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func played(id int, host string) session.Session {
	return session.Session{
		ID:          id,
		Host:        host,
		Title:       "Game " + host,
		MapName:     "setons",
		FeaturedMod: "faf",
		Kind:        session.KindCustom,
		RatingType:  "global",
		NumPlayers:  2,
		Teams:       map[string][]string{"1": {host}, "2": {"bob"}},
		StartTime:   epoch,
	}
}

func TestRecordAndLookup(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, played(10, "alice"), epoch.Add(30*time.Minute)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entry, err := store.Lookup(ctx, 10)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.Host != "alice" || entry.Title != "Game alice" || entry.MapName != "setons" {
		t.Errorf("Lookup = %+v", entry)
	}
	if !entry.StartedAt.Equal(epoch) {
		t.Errorf("StartedAt = %v, want %v", entry.StartedAt, epoch)
	}
	if !entry.EndedAt.Equal(epoch.Add(30 * time.Minute)) {
		t.Errorf("EndedAt = %v, want %v", entry.EndedAt, epoch.Add(30*time.Minute))
	}
	if !slices.Equal(entry.Teams["2"], []string{"bob"}) {
		t.Errorf("Teams = %v", entry.Teams)
	}
}

func TestLookupUnknown(t *testing.T) {
	store := openStore(t)
	if _, err := store.Lookup(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup error = %v, want ErrNotFound", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i, id := range []int{1, 2, 3} {
		if err := store.Record(ctx, played(id, "alice"), epoch.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Record(%d): %v", id, err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var ids []int
	for _, entry := range entries {
		ids = append(ids, entry.SessionID)
	}
	if !slices.Equal(ids, []int{3, 2}) {
		t.Errorf("Recent ids = %v, want [3 2]", ids)
	}
}

func TestRecordReplaces(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := played(5, "alice")
	if err := store.Record(ctx, first, epoch); err != nil {
		t.Fatalf("Record: %v", err)
	}
	second := first
	second.Kind = session.KindMatchmaker
	second.StartTime = time.Time{}
	second.Teams = nil
	if err := store.Record(ctx, second, epoch.Add(time.Hour)); err != nil {
		t.Fatalf("Record again: %v", err)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recent returned %d entries, want 1", len(entries))
	}
	if entries[0].Kind != session.KindMatchmaker {
		t.Errorf("Kind = %v, want matchmaker", entries[0].Kind)
	}
	if !entries[0].StartedAt.IsZero() {
		t.Errorf("StartedAt = %v, want zero", entries[0].StartedAt)
	}
	if entries[0].Teams != nil {
		t.Errorf("Teams = %v, want nil", entries[0].Teams)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(context.Background(), played(8, "carol"), epoch); err != nil {
		t.Fatalf("Record: %v", err)
	}
	store.Close()

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Lookup(context.Background(), 8); err != nil {
		t.Errorf("Lookup after reopen: %v", err)
	}
}

func TestRecordPrunesBeyondRetention(t *testing.T) {
	store := openStore(t)
	store.retention = 2
	ctx := context.Background()

	for id := 1; id <= 4; id++ {
		if err := store.Record(ctx, played(id, "alice"), epoch.Add(time.Duration(id)*time.Minute)); err != nil {
			t.Fatalf("Record %d: %v", id, err)
		}
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var ids []int
	for _, entry := range entries {
		ids = append(ids, entry.SessionID)
	}
	if !slices.Equal(ids, []int{4, 3}) {
		t.Errorf("kept ids = %v, want [4 3]", ids)
	}
	if _, err := store.Lookup(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(1) err = %v, want ErrNotFound", err)
	}
}
