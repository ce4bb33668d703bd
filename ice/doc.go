// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ice runs the NAT-traversal helper that sits between the game
// and its peers.
//
// The game speaks GPGNet to a loopback port; the helper forwards that
// traffic over ICE connections negotiated with the configured STUN and
// TURN servers. [Adapter.Start] picks free loopback ports for the
// GPGNet and control (RPC) sockets, writes the server list where the
// helper can read it, launches the helper, and returns once its
// control port accepts connections.
//
// The server list is checked with pion before anything is launched, so
// a malformed URL or a TURN entry without credentials fails the launch
// instead of surfacing later as unexplained connectivity loss.
package ice
