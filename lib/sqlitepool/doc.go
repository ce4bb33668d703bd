// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool skirmish uses
// for local structured storage.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection
// runs in WAL mode with synchronous=NORMAL and a five second busy
// timeout. Schemas are described as an append-only list of migration
// scripts; [Open] applies the ones the file has not seen, tracked in
// PRAGMA user_version.
//
// Callers borrow a connection through [Pool.With], or [Pool.Tx] when
// several statements must land together. A connection is never shared
// between goroutines.
package sqlitepool
