// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"maps"
	"slices"

	"github.com/bureau-foundation/skirmish/session"
)

const (
	checkRehostKey   = "rehost"
	checkAutoJoinKey = "autojoin"
)

// runChecks re-evaluates every deferred reactor. A check that returns
// true is done and dropped. Loop only.
func (o *Orchestrator) runChecks() {
	for _, key := range slices.Sorted(maps.Keys(o.checks)) {
		check, ok := o.checks[key]
		if !ok {
			continue
		}
		if check() {
			delete(o.checks, key)
		}
	}
}

// deferCheck registers check under key and evaluates it once.
func (o *Orchestrator) deferCheck(key string, check func() bool) {
	if check() {
		delete(o.checks, key)
		return
	}
	o.checks[key] = check
}

// RequestRehost asks to host a copy of prototype once the player is
// idle and no game is running.
func (o *Orchestrator) RequestRehost(prototype session.Session) {
	o.post(func() { o.requestRehost(prototype) })
}

func (o *Orchestrator) requestRehost(prototype session.Session) {
	clone := prototype.Clone()
	o.setRehost(&clone)
	o.deferCheck(checkRehostKey, o.checkRehost)
}

func (o *Orchestrator) setRehost(prototype *session.Session) {
	if prototype == nil && o.rehost != nil {
		o.logger.Debug("rehost request cleared", "session_id", o.rehost.ID)
	}
	o.rehost = prototype
}

func (o *Orchestrator) checkRehost() bool {
	if o.rehost == nil {
		return true
	}
	if o.gameRunning() || o.launching || o.playerStatus() != PlayerIdle {
		o.logger.Debug("rehost deferred", "player_status", o.playerStatus(), "game_running", o.gameRunning())
		return false
	}

	prototype := *o.rehost
	o.setRehost(nil)
	o.logger.Info("rehosting session", "session_id", prototype.ID, "title", prototype.Title)
	o.watchReactor("rehost", o.HostGame(HostRequest{
		Title:         prototype.Title,
		Password:      prototype.Password,
		FeaturedMod:   prototype.FeaturedMod,
		MapName:       prototype.MapName,
		SimMods:       simModNames(prototype),
		Visibility:    session.VisibilityPublic,
		MinRating:     prototype.MinRating,
		MaxRating:     prototype.MaxRating,
		EnforceRating: prototype.EnforceRating,
	}))
	return true
}

// RequestAutoJoin asks to join the next open session hosted by
// prototype's host. A nil prototype cancels the request.
func (o *Orchestrator) RequestAutoJoin(prototype *session.Session) {
	o.post(func() {
		if prototype == nil {
			o.setAutoJoin(nil)
			return
		}
		o.requestAutoJoin(*prototype)
	})
}

func (o *Orchestrator) requestAutoJoin(prototype session.Session) {
	if o.autoJoin != nil && o.autoJoin.ID == prototype.ID {
		return
	}
	clone := prototype.Clone()
	o.setAutoJoin(&clone)
	o.logger.Info("auto-join requested", "host", prototype.Host)
	o.deferCheck(checkAutoJoinKey, o.checkAutoJoin)
}

func (o *Orchestrator) setAutoJoin(prototype *session.Session) {
	if prototype == nil {
		if o.autoJoin != nil {
			o.logger.Info("auto-join request cleared", "host", o.autoJoin.Host)
		}
		delete(o.checks, checkAutoJoinKey)
	}
	o.autoJoin = prototype
	o.publish()
}

// AutoJoinRequest returns the pending auto-join prototype. It is safe
// to call from subscription callbacks.
func (o *Orchestrator) AutoJoinRequest() (session.Session, bool) {
	o.mu.Lock()
	pending := o.public.autoJoin
	o.mu.Unlock()
	if pending == nil {
		return session.Session{}, false
	}
	return pending.Clone(), true
}

func (o *Orchestrator) checkAutoJoin() bool {
	if o.autoJoin == nil {
		return true
	}
	target, found := o.findAutoJoinable(*o.autoJoin)
	if !found || o.gameRunning() || o.launching || o.playerStatus() != PlayerIdle {
		return false
	}

	password := o.autoJoin.Password
	o.setAutoJoin(nil)
	o.logger.Info("auto-joining session", "session_id", target.ID, "host", target.Host)
	o.watchReactor("auto-join", o.JoinGame(JoinRequest{Session: target, Password: password}))
	return true
}

// findAutoJoinable returns a different open custom session by the
// prototype's host with map information present.
func (o *Orchestrator) findAutoJoinable(prototype session.Session) (session.Session, bool) {
	return o.registry.Find(func(candidate session.Session) bool {
		return candidate.Kind != session.KindMatchmaker &&
			candidate.ID != prototype.ID &&
			candidate.Host != "" &&
			candidate.MapArchive != "" &&
			candidate.MapChecksum != "" &&
			candidate.Host == prototype.Host &&
			(candidate.Status == session.StatusStaging || candidate.Status == session.StatusBattleroom)
	})
}

// checkAutoLaunch sends the launch command when the player joined a
// session that is ready to start.
func (o *Orchestrator) checkAutoLaunch() {
	if o.currentID == 0 || !o.behavior().AutoLaunchOnJoin {
		return
	}
	current, ok := o.registry.Get(o.currentID)
	if !ok || current.Status != session.StatusBattleroom || o.playerStatus() != PlayerJoining {
		return
	}
	o.logger.Info("auto-launching joined session", "session_id", current.ID)
	o.startBattleRoom()
}

// watchReactor logs the outcome of a flow a reactor started.
func (o *Orchestrator) watchReactor(reactor string, future *Future) {
	go func() {
		<-future.Done()
		if err := future.Err(); err != nil {
			o.logger.Warn(reactor+" launch failed", "error", err)
		}
	}()
}
