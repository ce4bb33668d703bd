// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the registry of game sessions the lobby server
// has announced.
//
// The [Registry] is the single source of truth for which sessions
// exist. It is fed only by server snapshots ([Registry.Upsert],
// [Registry.Remove], [Registry.Clear]). Readers get value copies, so a
// [Session] held by a caller never changes underneath it. Every
// mutation emits an [Event] to subscribers synchronously, after the
// registry lock is released, on the goroutine that performed it.
// Subscribers must not block.
//
// Teams and sim-mod maps are replaced wholesale on each update: the
// record always reflects exactly the last snapshot delivered for its
// identifier. The only field not supplied by the server is the
// password the local player used to join, which the registry stores
// under the same lock.
//
// Status transition rules (what happens when a session ends, or is
// left while staging) belong to the orchestrator, not to this package.
package session
