// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"regexp"

	"github.com/bureau-foundation/skirmish/session"
)

// applySnapshot folds one server snapshot into the registry and runs
// the transitions it implies. Loop only.
func (o *Orchestrator) applySnapshot(snapshot session.Snapshot) {
	change := o.registry.Upsert(snapshot)
	current := change.Session
	wasCurrent := o.currentID == current.ID

	if current.ID == o.runningID && o.runningOwnGame() && !o.launchConfirmed && o.confirmsLaunch(current.Status) {
		o.logger.Debug("server confirmed launch", "session_id", current.ID, "status", current.Status)
		o.launchConfirmed = true
	}

	if o.watched[current.ID] && (change.Created || change.Previous != current.Status) {
		o.statusChanged(current, change.Previous, current.Status)
	}

	if change.Previous.IsOpen() && current.Status.IsInProgress() {
		o.maybeFocusWindow(current)
	}

	if current.Status == session.StatusEnded {
		playing := o.player != nil && o.player.SessionID == current.ID && change.Previous.IsInProgress()
		killed := o.endSession(current.ID)
		if wasCurrent {
			o.clearCurrent(playing || killed)
		}
		return
	}

	if o.player == nil {
		return
	}

	playerInSession := current.ID == o.player.SessionID
	if playerInSession && current.Status.IsOpen() {
		o.setCurrent(current.ID)
	} else if wasCurrent && !playerInSession {
		o.clearCurrent(o.playerStatus() == PlayerPlaying)
	}

	if wasCurrent && o.currentID == current.ID && !change.Created && change.PreviousNumPlayers != current.NumPlayers {
		o.checkAutoLaunch()
	}

	if o.behavior().AutoJoin &&
		current.Status == session.StatusBattleroom &&
		current.Kind != session.KindMatchmaker &&
		current.Host != o.player.Name &&
		playerInSession {
		o.requestAutoJoin(current)
	}
}

// confirmsLaunch reports whether a status for the running session
// proves the server saw the game start.
func (o *Orchestrator) confirmsLaunch(status session.Status) bool {
	return status != o.spawnStatus && status != session.StatusEnded && status != session.StatusUnknown
}

// endSession removes a session the server reported ended and reports
// whether that killed the local game.
func (o *Orchestrator) endSession(id int) bool {
	if _, removed := o.registry.Remove(id); !removed {
		return false
	}
	delete(o.watched, id)

	if id == o.runningID && o.runningOwnGame() && !o.launchConfirmed {
		o.cancelledRemotely(id)
		return true
	}
	return false
}

// cancelledRemotely handles a session that ended after our process
// was spawned but before the server ever reported it running.
func (o *Orchestrator) cancelledRemotely(id int) {
	o.logger.Warn("game cancelled while launching", "session_id", id)
	o.killGame()
	o.notify(Notification{
		Severity: SeverityInfo,
		Key:      "game.start.cancelledRemotely",
	})
}

// updatePlayer records a new local-player report and recomputes the
// current session.
func (o *Orchestrator) updatePlayer(player LocalPlayer) {
	o.player = &player

	if o.currentID != 0 && player.SessionID != o.currentID {
		o.clearCurrent(o.playerStatus() == PlayerPlaying)
	}
	if o.currentID == 0 && player.SessionID != 0 {
		if candidate, ok := o.registry.Get(player.SessionID); ok && candidate.Status.IsOpen() {
			o.setCurrent(candidate.ID)
		}
	}
}

// playerStatus derives the local player's status from the session the
// server lists them in.
func (o *Orchestrator) playerStatus() PlayerStatus {
	if o.player == nil || o.player.SessionID == 0 {
		return PlayerIdle
	}
	occupied, ok := o.registry.Get(o.player.SessionID)
	if !ok {
		return PlayerIdle
	}
	switch {
	case occupied.Status.IsOpen() && occupied.Host == o.player.Name:
		return PlayerHosting
	case occupied.Status.IsOpen():
		return PlayerJoining
	case occupied.Status.IsInProgress():
		return PlayerPlaying
	}
	return PlayerIdle
}

// clearCurrent drops the current session. Clearing it while the player
// is not playing kills the local game: the host left before the game
// was launched.
func (o *Orchestrator) clearCurrent(playing bool) {
	if o.currentID == 0 {
		return
	}
	o.logger.Info("current session cleared", "session_id", o.currentID)
	o.currentID = 0
	o.currentStatus = session.StatusUnknown
	o.publish()
	o.emitCurrent()
	if o.player != nil && !playing {
		o.killGame()
	}
}

// setCurrent makes id, an open session in the registry, current.
func (o *Orchestrator) setCurrent(id int) {
	if id == o.currentID {
		return
	}
	o.currentID = id

	current, _ := o.registry.Get(id)
	o.logger.Info("current session changed", "session_id", id, "status", current.Status)
	o.publish()
	o.emitCurrent()

	if current.Kind != session.KindMatchmaker {
		o.joinGameChannel(current)
	}

	o.watched[id] = true
	o.statusChanged(current, current.Status, current.Status)
	o.checkAutoLaunch()
}

func (o *Orchestrator) setCurrentStatus(status session.Status) {
	if o.currentStatus == status {
		return
	}
	o.currentStatus = status
	o.publish()
	o.emitCurrent()
}

// statusChanged runs the side effects of a watched session moving from
// previous to next.
func (o *Orchestrator) statusChanged(watched session.Session, previous, next session.Status) {
	if next == session.StatusEnded {
		delete(o.watched, watched.ID)
	}

	stillInSession := o.player != nil && o.currentID != 0 && o.player.SessionID == o.currentID
	if previous.IsOpen() && next.IsInProgress() && !stillInSession {
		o.leftWhileStaging(watched.ID)
		return
	}

	if previous.IsInProgress() && next == session.StatusEnded {
		o.recentlyPlayedEnded(watched)
	}

	if watched.ID == o.currentID {
		o.setCurrentStatus(next)
	}

	if next == session.StatusBattleroom && watched.ID == o.currentID {
		o.checkAutoLaunch()
	}

	if o.behavior().AutoRehost &&
		next == session.StatusBattleroom &&
		watched.Kind != session.KindMatchmaker &&
		o.player != nil && o.player.Name == watched.Host {
		o.requestRehost(watched)
	}
}

// leftWhileStaging stops watching a session the player left before it
// launched. No notification.
func (o *Orchestrator) leftWhileStaging(id int) {
	o.logger.Debug("session launched after the player left it", "session_id", id)
	delete(o.watched, id)
}

func (o *Orchestrator) recentlyPlayedEnded(played session.Session) {
	endedAt := o.clock.Now()
	if o.opts.History != nil {
		o.background("recording played session", func() error {
			return o.opts.History.Record(context.Background(), played, endedAt)
		})
	}

	behavior := o.behavior()
	if !behavior.AfterGameReview || !behavior.TransientNotifications {
		return
	}
	var actions []Action
	if o.opts.OnReview != nil {
		id := played.ID
		review := o.opts.OnReview
		actions = append(actions, Action{Label: "game.rate", Run: func() { review(id) }})
	}
	o.notify(Notification{
		Severity: SeverityInfo,
		Key:      "game.ended",
		Args:     []any{played.Title},
		Actions:  actions,
	})
}

func (o *Orchestrator) maybeFocusWindow(launched session.Session) {
	if o.opts.Platform == nil || o.player == nil || !launched.HasPlayer(o.player.Name) {
		return
	}
	platform := o.opts.Platform
	go func() {
		if !platform.IsWindowFocused() {
			platform.FocusWindow()
		}
	}()
}

var gameChannelPattern = regexp.MustCompile(`^#.*\[.+\]$`)

// joinGameChannel moves the player's chat presence into the current
// session's in-game channel.
func (o *Orchestrator) joinGameChannel(current session.Session) {
	if o.opts.Chat == nil || o.player == nil {
		return
	}
	chat := o.opts.Chat
	user := o.player.Name
	channel := InGameChannel(current.Host, current.Title)
	go func() {
		present := false
		for _, joined := range chat.UserChannels(user) {
			if !gameChannelPattern.MatchString(joined) {
				continue
			}
			if joined == channel {
				present = true
				continue
			}
			chat.LeaveChannel(joined)
		}
		if !present {
			chat.JoinChannel(channel)
		}
	}()
}
