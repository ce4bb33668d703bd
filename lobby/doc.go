// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lobby is the client side of the lobby server connection.
//
// [Client.Run] holds a websocket to the server, reconnecting at a
// bounded rate, and feeds what the server says to a [Handler]: session
// snapshots, the local player, logins and disconnects, and players
// going offline. Client also implements the orchestrator's Server
// interface (host, join and matchmaking requests and the notifications
// a running game owes the server) and its PlayerDirectory (ratings).
//
// Messages are JSON objects with a "command" field. Host, join and
// matchmaking requests are answered by a game_launch message; the
// client tracks one outstanding request at a time and fails it on an
// error notice, a server-side search stop, or a disconnect.
//
// The local player's session is derived from the session snapshots:
// the player is in the newest session that lists them in a team and
// has not ended.
package lobby
