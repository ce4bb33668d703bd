// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives the lifecycle of the local player's game
// session: which session is current, launching host, join, matchmaker
// and replay games, supervising the processes, and the reactive
// behaviors (auto-join, auto-rehost, auto-launch, window focus) that
// fire off server and process events.
//
// # Coordination loop
//
// All orchestrator state is owned by one goroutine, [Orchestrator.Run].
// Inbound server events, user entry points, and worker completions
// are closures queued with post and executed in order on that
// goroutine, which never performs I/O. Blocking work (asset sync,
// server negotiation, process spawn, waiting for exit) runs on worker
// goroutines that hop back onto the loop with post or onLoop.
//
// The session registry has its own lock so the presentation layer can
// read snapshots at any time. The running-session marker and the
// public flags (current session, current status, matchmaker queue)
// are mirrored under a mutex for the same reason.
//
// # Launch pipeline
//
// Every flow is an ordered list of named stages run by one generic
// runner. The runner records the furthest [phase] reached, and a
// single unwind routine rolls back according to it. Failures are
// classified with the sentinel errors [ErrPrecondition],
// [ErrDependency], [ErrNegotiation], [ErrLaunch] and [ErrInternal],
// and each produces at most one notification.
package orchestrator
