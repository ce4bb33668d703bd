// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"slices"
	"testing"

	"github.com/bureau-foundation/skirmish/lib/testutil"
	"github.com/bureau-foundation/skirmish/session"
)

func TestRehostDeferredUntilIdle(t *testing.T) {
	h := newHarness(t)
	h.setBehavior(Behavior{AutoRehost: true})
	h.player("me", 10)
	h.snapshot(snapshot(10, "me", session.StatusStaging, "me"))
	h.snapshot(snapshot(10, "me", session.StatusBattleroom, "me"))

	if n := h.server.hostCount(); n != 0 {
		t.Fatalf("host requests while hosting = %d, want 0", n)
	}
	h.inspect(func() {
		if h.orch.rehost == nil || h.orch.rehost.ID != 10 {
			t.Errorf("rehost request = %v, want session 10", h.orch.rehost)
		}
	})

	h.player("me", 0)
	h.eventually(func() bool { return h.server.hostCount() == 1 }, "rehost")

	h.snapshot(snapshot(11, "someone", session.StatusStaging, "someone"))
	h.player("me", 0)
	h.sync()
	if n := h.server.hostCount(); n != 1 {
		t.Errorf("host requests = %d, want exactly 1", n)
	}
	h.server.mu.Lock()
	request := h.server.hostRequests[0]
	h.server.mu.Unlock()
	if request.Title != "Game me" || request.MapName != "setons" || request.FeaturedMod != "faf" {
		t.Errorf("rehost request = %+v", request)
	}
}

func TestRehostNotRequestedForMatchmakerSession(t *testing.T) {
	h := newHarness(t)
	h.setBehavior(Behavior{AutoRehost: true})
	h.player("me", 10)
	matched := snapshot(10, "me", session.StatusStaging, "me")
	matched.Kind = session.KindMatchmaker
	h.snapshot(matched)
	matched.Status = session.StatusBattleroom
	h.snapshot(matched)

	h.inspect(func() {
		if h.orch.rehost != nil {
			t.Error("rehost requested for a matchmaker session")
		}
	})
}

func TestAutoJoinFollowsHost(t *testing.T) {
	h := newHarness(t)
	h.setBehavior(Behavior{AutoJoin: true})
	h.player("me", 20)
	h.snapshot(snapshot(20, "bob", session.StatusBattleroom, "bob", "me"))

	pending, ok := h.orch.AutoJoinRequest()
	if !ok || pending.Host != "bob" {
		t.Fatalf("AutoJoinRequest = %v, %v, want bob's session", pending.ID, ok)
	}

	h.player("me", 0)
	h.sync()
	if joins := h.server.joinedIDs(); len(joins) != 0 {
		t.Fatalf("joined %v before bob hosted again", joins)
	}

	h.snapshot(snapshot(21, "bob", session.StatusStaging, "bob"))
	h.eventually(func() bool { return slices.Equal(h.server.joinedIDs(), []int{21}) }, "auto-join of session 21")
	if _, ok := h.orch.AutoJoinRequest(); ok {
		t.Error("auto-join request survived firing")
	}
}

func TestAutoJoinRequestReadableFromLoop(t *testing.T) {
	h := newHarness(t)
	h.setBehavior(Behavior{AutoJoin: true})
	h.player("me", 20)
	h.snapshot(snapshot(20, "bob", session.StatusBattleroom, "bob", "me"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := h.orch.onLoop(func() error {
			pending, ok := h.orch.AutoJoinRequest()
			if !ok || pending.Host != "bob" {
				t.Errorf("AutoJoinRequest on the loop = %v, %v, want bob's session", pending.ID, ok)
			}
			return nil
		})
		if err != nil {
			t.Errorf("onLoop: %v", err)
		}
	}()
	testutil.RequireClosed(t, done, waitTimeout, "AutoJoinRequest blocked the loop")
}

func TestAutoJoinCancelledWhenHostGoesOffline(t *testing.T) {
	h := newHarness(t)
	h.setBehavior(Behavior{AutoJoin: true})
	h.player("me", 20)
	h.snapshot(snapshot(20, "bob", session.StatusBattleroom, "bob", "me"))
	h.player("me", 0)

	h.orch.HandleUserOffline("bob")
	h.snapshot(snapshot(21, "bob", session.StatusStaging, "bob"))

	if _, ok := h.orch.AutoJoinRequest(); ok {
		t.Error("auto-join request survived the host going offline")
	}
	h.inspect(func() {
		if _, ok := h.orch.checks[checkAutoJoinKey]; ok {
			t.Error("auto-join check still registered")
		}
	})
	if joins := h.server.joinedIDs(); len(joins) != 0 {
		t.Errorf("joined %v after cancellation", joins)
	}
}

func TestAutoJoinSkipsSessionsWithoutMap(t *testing.T) {
	h := newHarness(t)
	h.setBehavior(Behavior{AutoJoin: true})
	h.player("me", 20)
	h.snapshot(snapshot(20, "bob", session.StatusBattleroom, "bob", "me"))
	h.player("me", 0)

	bare := snapshot(21, "bob", session.StatusStaging, "bob")
	bare.MapFilePath = ""
	h.snapshot(bare)

	if _, ok := h.orch.AutoJoinRequest(); !ok {
		t.Error("auto-join fired for a session without map information")
	}
}

func TestAutoLaunchWhenJoinedSessionReady(t *testing.T) {
	h := newHarness(t)
	h.setBehavior(Behavior{AutoLaunchOnJoin: true})
	h.snapshot(snapshot(30, "bob", session.StatusStaging, "bob"))
	h.player("me", 0)
	listed, _ := h.orch.Session(30)
	if err := h.await(h.orch.JoinGame(JoinRequest{Session: listed})); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}

	h.player("me", 30)
	h.snapshot(snapshot(30, "bob", session.StatusStaging, "bob", "me"))
	if slices.Contains(h.launcher.consoleCommands(), "/launch") {
		t.Fatal("launched while staging")
	}

	h.snapshot(snapshot(30, "bob", session.StatusBattleroom, "bob", "me"))
	h.eventually(func() bool { return slices.Contains(h.launcher.consoleCommands(), "/launch") }, "launch command")
}

func TestSetMapForStagingGame(t *testing.T) {
	h := newHarness(t)
	h.player("me", 0)
	h.hostRunning()
	h.assets.mu.Lock()
	h.assets.details = []string{"setons", "abc123", "8"}
	h.assets.mu.Unlock()

	h.player("me", 1234)
	h.snapshot(snapshot(1234, "me", session.StatusStaging, "me"))
	h.orch.SetMapForStagingGame("setons")

	want := "/map setons\x1fabc123\x1f8"
	h.eventually(func() bool { return slices.Contains(h.launcher.consoleCommands(), want) }, "map command")
}

func TestKillGameSendsQuit(t *testing.T) {
	h := newHarness(t)
	h.player("me", 0)
	h.hostRunning()

	h.orch.KillGame()

	h.eventually(func() bool { return h.orch.RunningSessionID() == 0 }, "game stopped")
	if got := h.launcher.consoleCommands(); !slices.Equal(got, []string{"/quit"}) {
		t.Errorf("console commands = %q, want [/quit]", got)
	}
}
