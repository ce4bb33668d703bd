// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch starts the game, the replay viewer and the launch
// helper as supervised child processes.
//
// Every child runs in its own process group so termination reaches
// anything it spawns. Its output goes to a per-session log file in the
// log directory (game_<id>.log, launcher_<id>.log, replay_<id>.log),
// which the log packager collects after the game ends. The running
// game's stdin is its console: [Launcher.SendConsole] writes one
// command per line.
package launch
