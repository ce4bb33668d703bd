// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"strings"

	"github.com/bureau-foundation/skirmish/session"
)

// watchGame owns a spawned game or replay process until it exits.
// Loop only; the wait happens on a worker goroutine, which packages the
// logs and reports a crash before handing cleanup back to the loop.
func (o *Orchestrator) watchGame(process Process, sessionID int, kind flowKind, dismiss chan struct{}) {
	logger := o.logger.With("session_id", sessionID, "pid", process.PID(), "flow", kind)
	go func() {
		code, err := process.Wait()
		if err != nil {
			logger.Warn("game exit status unknown", "error", err)
		} else {
			logger.Info("game process exited", "exit_code", code)
		}

		if o.opts.Logs != nil {
			if submitErr := o.opts.Logs.Submit(context.WithoutCancel(o.ctx), sessionID); submitErr != nil {
				logger.Warn("submitting game logs failed", "error", submitErr)
			}
		}

		if err != nil || code != 0 {
			o.notify(Notification{
				Severity: SeverityError,
				Key:      "game.crash",
				Args:     []any{process.Name(), code},
				Err:      err,
			})
		}

		if kind != flowReplay {
			o.opts.Relay.Stop()
			o.opts.ICE.Stop()
		}
		if o.opts.RunState != nil {
			if clearErr := o.opts.RunState.Clear(); clearErr != nil {
				logger.Warn("clearing run state failed", "error", clearErr)
			}
		}

		o.post(func() {
			if dismiss != nil {
				close(dismiss)
			}
			if o.process == process {
				o.clearRunning()
			}
			if kind != flowReplay {
				o.background("notifying game ended", o.opts.Server.NotifyGameEnded)
			}
			o.runChecks()
		})
	}()
}

// watchHelper reports a crashed launch helper.
func (o *Orchestrator) watchHelper(process Process) {
	go func() {
		code, err := process.Wait()
		if err == nil && code == 0 {
			o.logger.Debug("launch helper exited", "pid", process.PID())
			return
		}
		o.logger.Warn("launch helper crashed", "pid", process.PID(), "exit_code", code, "error", err)
		o.notify(Notification{
			Severity: SeverityError,
			Key:      "process.crash",
			Args:     []any{process.Name(), code},
			Err:      err,
		})
	}()
}

// clearRunning forgets the running process. Loop only.
func (o *Orchestrator) clearRunning() {
	o.logger.Info("running session cleared", "session_id", o.runningID)
	o.process = nil
	o.runningID = 0
	o.runningKind = ""
	o.spawnStatus = session.StatusUnknown
	o.launchConfirmed = false
	if o.currentStatus == session.StatusSpawning {
		o.currentStatus = session.StatusUnknown
		if current, ok := o.registry.Get(o.currentID); ok {
			o.currentStatus = current.Status
		}
		o.emitCurrent()
	}
	o.publish()
}

// KillGame asks a running game to quit.
func (o *Orchestrator) KillGame() {
	o.post(o.killGame)
}

// killGame sends the game's quit command, terminating the process if
// the console is unreachable. Loop only.
func (o *Orchestrator) killGame() {
	if !o.gameRunning() {
		return
	}
	process := o.process
	launcher := o.opts.Launcher
	o.logger.Info("stopping game", "pid", process.PID(), "session_id", o.runningID)
	go func() {
		if err := launcher.SendConsole("/quit"); err != nil {
			o.logger.Warn("quit command failed, terminating game", "error", err)
			if terminateErr := process.Terminate(); terminateErr != nil {
				o.logger.Warn("terminating game failed", "error", terminateErr)
			}
		}
	}()
}

// StartBattleRoom tells the running game to leave staging.
func (o *Orchestrator) StartBattleRoom() {
	o.post(o.startBattleRoom)
}

func (o *Orchestrator) startBattleRoom() {
	if !o.gameRunning() {
		return
	}
	o.background("sending launch command", func() error {
		return o.opts.Launcher.SendConsole("/launch")
	})
}

// SetMapForStagingGame changes the map of the current staging session
// in the running game.
func (o *Orchestrator) SetMapForStagingGame(mapName string) {
	o.post(func() { o.setMapForStaging(mapName) })
}

func (o *Orchestrator) setMapForStaging(mapName string) {
	if !o.gameRunning() || o.currentStatus != session.StatusStaging {
		o.logger.Debug("map change ignored, no staging game", "map", mapName)
		return
	}
	current, ok := o.registry.Get(o.currentID)
	if !ok {
		return
	}
	assets := o.opts.Assets
	launcher := o.opts.Launcher
	go func() {
		details, err := assets.MapDetails(current.FeaturedMod, mapName)
		if err == nil {
			err = launcher.SendConsole("/map " + strings.Join(details, "\x1f"))
		}
		if err != nil {
			o.logger.Warn("changing staging map failed", "map", mapName, "error", err)
			o.notify(Notification{
				Severity: SeverityError,
				Key:      "maptool.error",
				Args:     []any{mapName},
				Err:      err,
			})
		}
	}()
}
