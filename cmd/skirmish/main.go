// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command skirmish connects to the lobby server and runs games: it
// hosts, joins, queues for matchmaking, and plays replays, supervising
// the game and its helper processes until they exit.
package main

import (
	"os"

	"github.com/bureau-foundation/skirmish/lib/process"
)

func main() {
	if err := root().execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
