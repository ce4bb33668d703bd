// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay receives the replay stream a running game writes and
// forwards it to the replay server.
//
// The game is pointed at a loopback port returned by [Server.Start].
// The first connection on that port is the game's stream. Each byte is
// sent upstream after a "P/<session>/" header line and is also written
// to a local compressed copy in the replay directory, so a session
// stays watchable when the upstream connection drops. Losing the
// upstream never interrupts the game: the relay falls back to the
// local copy alone.
//
// The local copy is zstd-compressed by default; lz4 trades ratio for
// speed, and "none" stores the raw stream. Every finished stream is
// described by a [Recording] carrying a BLAKE3 digest of the raw
// bytes.
package relay
