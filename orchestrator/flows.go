// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/skirmish/lib/runstate"
	"github.com/bureau-foundation/skirmish/session"
)

// HostRequest describes a new custom session.
type HostRequest struct {
	Title         string
	Password      string
	FeaturedMod   string
	MapName       string
	SimMods       []string
	Visibility    session.Visibility
	MinRating     *int
	MaxRating     *int
	EnforceRating bool
}

// JoinRequest joins an existing session.
type JoinRequest struct {
	Session  session.Session
	Password string
}

// MatchmakeRequest starts a matchmaker search.
type MatchmakeRequest struct {
	FeaturedMod string
}

// ReplayRequest plays back a recorded or live session. Source is a
// local file path or a replay server URL.
type ReplayRequest struct {
	Source      string
	SessionID   int
	FeaturedMod string
	Map         *MapDescriptor
}

const (
	keyGameRunning    = "game.gameRunning"
	keyAlreadyInQueue = "teammatchmaking.notification.customAlreadyInQueue.message"
)

func (o *Orchestrator) newAttempt(kind flowKind, featuredMod string, failureKeys map[error]string) *attempt {
	return &attempt{
		kind:        kind,
		ctx:         o.ctx,
		future:      newFuture(),
		featuredMod: featuredMod,
		failureKeys: failureKeys,
	}
}

func (o *Orchestrator) launch(a *attempt, stages []stage) *Future {
	o.logger.Info("launch requested", "flow", a.kind, "featured_mod", a.featuredMod)
	go o.runFlow(a, stages)
	return a.future
}

// HostGame hosts a new custom session and launches the game.
func (o *Orchestrator) HostGame(request HostRequest) *Future {
	a := o.newAttempt(flowHost, request.FeaturedMod, map[error]string{
		ErrNegotiation: "games.couldNotHost",
	})
	return o.launch(a, []stage{
		o.guardStage(guardKeys{running: keyGameRunning, queued: keyAlreadyInQueue}),
		o.executableStage(),
		{name: "dependencies", reaches: phaseSynced, run: func(a *attempt) error {
			if err := o.resolveFeaturedMod(a); err != nil {
				return err
			}
			a.chatURL = o.chatURL(a.player, InGameChannel(a.player.Name, request.Title))
			a.autoLaunch = o.behavior().AutoLaunchOnHost
			return nil
		}},
		{name: "negotiate", reaches: phaseNegotiated, run: func(a *attempt) error {
			descriptor, err := o.opts.Server.RequestHost(a.ctx, request)
			if err != nil {
				return classify(ErrNegotiation, "requesting host", err)
			}
			a.descriptor = descriptor
			return nil
		}},
		o.launchStage(),
		o.bookkeepingStage(),
	})
}

// JoinGame joins an open session and launches the game.
func (o *Orchestrator) JoinGame(request JoinRequest) *Future {
	target := request.Session
	a := o.newAttempt(flowJoin, target.FeaturedMod, map[error]string{
		ErrNegotiation: "games.couldNotJoin",
		ErrDependency:  "games.couldNotJoin",
	})
	return o.launch(a, []stage{
		o.guardStage(guardKeys{running: keyGameRunning, queued: keyAlreadyInQueue}),
		o.executableStage(),
		{name: "dependencies", reaches: phaseSynced, run: func(a *attempt) error {
			if err := o.resolveFeaturedMod(a); err != nil {
				return err
			}
			descriptor := MapDescriptor{Name: target.MapName, Checksum: target.MapChecksum, Archive: target.MapArchive}
			if err := o.opts.Assets.EnsureMap(a.ctx, target.FeaturedMod, descriptor); err != nil {
				return classify(ErrDependency, "installing map "+target.MapName, err)
			}
			a.chatURL = o.chatURL(a.player, InGameChannel(target.Host, target.Title))
			return nil
		}},
		{name: "negotiate", reaches: phaseNegotiated, run: func(a *attempt) error {
			o.logger.Info("joining session", "session_id", target.ID, "title", target.Title)
			descriptor, err := o.opts.Server.RequestJoin(a.ctx, target.ID, request.Password)
			if err != nil {
				return classify(ErrNegotiation, "requesting join", err)
			}
			a.descriptor = descriptor
			return o.onLoop(func() error {
				// Kept for a later rehost.
				o.registry.SetPassword(target.ID, request.Password)
				joined, ok := o.registry.Get(target.ID)
				a.autoLaunch = o.behavior().AutoLaunchOnJoin && ok && joined.Status == session.StatusBattleroom
				return nil
			})
		}},
		o.launchStage(),
		o.bookkeepingStage(),
	})
}

// StartMatchmaking queues for a matchmade session and launches the
// game once matched. The future settles when the game is launched or
// the search ends.
func (o *Orchestrator) StartMatchmaking(request MatchmakeRequest) *Future {
	a := o.newAttempt(flowMatchmake, request.FeaturedMod, map[error]string{
		ErrNegotiation: "teammatchmaking.couldNotStart",
	})
	var searchCtx context.Context
	return o.launch(a, []stage{
		o.guardStage(guardKeys{running: keyGameRunning, queued: keyAlreadyInQueue, queue: true}),
		o.executableStage(),
		{name: "enqueue", reaches: phaseResolved, run: func(a *attempt) error {
			return o.onLoop(func() error {
				if !o.inQueue {
					return fmt.Errorf("%w: matchmaking stopped before the search started", errAbandoned)
				}
				var cancel context.CancelFunc
				searchCtx, cancel = context.WithCancel(a.ctx)
				o.cancelQueue = cancel
				o.logger.Info("matchmaking search started", "featured_mod", a.featuredMod)
				return nil
			})
		}},
		{name: "dependencies", reaches: phaseSynced, run: func(a *attempt) error {
			return o.resolveFeaturedMod(a)
		}},
		{name: "negotiate", reaches: phaseNegotiated, run: func(a *attempt) error {
			descriptor, err := o.opts.Server.StartMatchmaking(searchCtx, request.FeaturedMod)
			if err != nil {
				if searchCtx.Err() != nil {
					err = fmt.Errorf("%w: %w", err, context.Canceled)
				}
				return classify(ErrNegotiation, "matchmaking search", err)
			}
			a.descriptor = descriptor
			if err := o.onLoop(func() error {
				a.queued = false
				o.inQueue = false
				if o.cancelQueue != nil {
					o.cancelQueue()
					o.cancelQueue = nil
				}
				o.publish()
				return nil
			}); err != nil {
				return err
			}

			if err := o.opts.Assets.EnsureMap(a.ctx, descriptor.FeaturedMod, descriptor.Map); err != nil {
				return classify(ErrDependency, "installing matched map "+descriptor.Map.Name, err)
			}
			a.descriptor.Args = append(slices.Clone(descriptor.Args),
				fmt.Sprintf("/team %d", descriptor.Team),
				fmt.Sprintf("/players %d", descriptor.ExpectedPlayers),
				fmt.Sprintf("/startspot %d", descriptor.MapPosition),
			)
			if a.player.Alias != "" {
				a.player.Name = a.player.Alias
			}
			a.autoLaunch = true
			return nil
		}},
		o.launchStage(),
		o.bookkeepingStage(),
	})
}

// StopMatchmaking ends a running search. Idempotent.
func (o *Orchestrator) StopMatchmaking() {
	o.post(o.stopMatchmaking)
}

func (o *Orchestrator) stopMatchmaking() {
	if !o.inQueue {
		o.logger.Debug("matchmaker search already stopped")
		return
	}
	o.inQueue = false
	o.publish()
	if o.cancelQueue == nil {
		// The attempt has not reached the server yet and abandons
		// itself at its enqueue stage.
		o.logger.Info("matchmaking stopped before the search started")
		return
	}
	o.cancelQueue()
	o.cancelQueue = nil
	o.background("stopping matchmaker search", o.opts.Server.StopMatchmaking)
	o.logger.Info("matchmaker search stopped")
}

// RunReplay plays a replay.
func (o *Orchestrator) RunReplay(request ReplayRequest) *Future {
	failure := "replayCouldNotBeStarted"
	a := o.newAttempt(flowReplay, request.FeaturedMod, map[error]string{
		ErrDependency:  failure,
		ErrNegotiation: failure,
		ErrLaunch:      failure,
		ErrInternal:    failure,
	})
	return o.launch(a, []stage{
		{name: "validate", run: func(*attempt) error {
			if request.SessionID <= 0 {
				return fmt.Errorf("%w: replay of %s has no session id", ErrInternal, request.Source)
			}
			return nil
		}},
		o.guardStage(guardKeys{running: "replay.gameRunning", queued: "replay.inQueue", party: "replay.inParty", keepAutoJoin: true}),
		o.executableStage(),
		{name: "dependencies", reaches: phaseSynced, run: func(a *attempt) error {
			if err := o.resolveFeaturedMod(a); err != nil {
				return err
			}
			if request.Map == nil {
				return nil
			}
			if err := o.opts.Assets.EnsureMap(a.ctx, request.FeaturedMod, *request.Map); err != nil {
				o.logger.Warn("replay map unavailable", "map", request.Map.Name, "error", err)
				if !o.confirmWithoutMap(a.ctx) {
					return fmt.Errorf("%w: replay map %s missing", errAbandoned, request.Map.Name)
				}
			}
			return nil
		}},
		{name: "launch", reaches: phaseSpawned, run: func(a *attempt) error {
			helper, err := o.opts.Launcher.StartHelper(a.ctx, a.featuredMod, request.SessionID)
			if err != nil {
				return classify(ErrLaunch, "starting launch helper", err)
			}
			o.watchHelper(helper)

			process, err := o.opts.Launcher.StartReplay(a.ctx, ReplayLaunch{
				FeaturedMod: a.featuredMod,
				Source:      request.Source,
				SessionID:   request.SessionID,
				PlayerName:  a.player.Name,
			})
			if err != nil {
				return classify(ErrLaunch, "starting replay", err)
			}
			a.process = process
			a.descriptor.SessionID = request.SessionID
			return nil
		}},
		o.bookkeepingStage(func(dismiss chan struct{}) {
			process := a.process
			o.notify(Notification{
				Severity: SeverityInfo,
				Key:      "replay.running",
				Args:     []any{request.SessionID, request.Source},
				Actions: []Action{{Label: "replay.running.terminate", Run: func() {
					if err := process.Terminate(); err != nil {
						o.logger.Warn("terminating replay failed", "error", err)
					}
				}}},
				Dismiss: dismiss,
			})
		}),
	})
}

type guardKeys struct {
	running      string
	queued       string
	party        string
	keepAutoJoin bool
	// queue claims the matchmaker queue along with the launch slot, so
	// a stop issued before the search starts is not lost.
	queue bool
}

// guardStage rejects the attempt if a game is running or a search is
// queued, and otherwise claims the launch slot.
func (o *Orchestrator) guardStage(keys guardKeys) stage {
	return stage{name: "guard", reaches: phaseGuarded, run: func(a *attempt) error {
		return o.onLoop(func() error {
			if o.gameRunning() || o.runningID != 0 {
				o.logger.Info("game is running, ignoring launch request", "flow", a.kind)
				o.notify(Notification{Severity: SeverityWarn, Key: keys.running})
				return fmt.Errorf("%w: game already running", ErrPrecondition)
			}
			if a.queued && !o.inQueue {
				return fmt.Errorf("%w: matchmaking stopped before the search started", errAbandoned)
			}
			if o.inQueue && !a.queued {
				o.notify(Notification{Severity: SeverityWarn, Key: keys.queued})
				return fmt.Errorf("%w: matchmaker search in progress", ErrPrecondition)
			}
			if keys.party != "" && o.InOthersParty() {
				o.notify(Notification{Severity: SeverityWarn, Key: keys.party})
				return fmt.Errorf("%w: in another player's party", ErrPrecondition)
			}
			if o.launching {
				return fmt.Errorf("%w: another launch is in progress", ErrPrecondition)
			}
			if o.player == nil {
				return fmt.Errorf("%w: local player not known yet", ErrInternal)
			}
			a.player = *o.player
			o.launching = true
			if keys.queue && !a.queued {
				o.inQueue = true
				a.queued = true
				o.publish()
				o.logger.Info("matchmaking requested", "featured_mod", a.featuredMod)
			}
			if !keys.keepAutoJoin {
				o.setAutoJoin(nil)
			}
			return nil
		})
	}}
}

// executableStage asks for the game executable when the featured mod
// has none, then restarts the flow.
func (o *Orchestrator) executableStage() stage {
	return stage{name: "executable", reaches: phaseResolved, run: func(a *attempt) error {
		if o.opts.Assets.ExecutableValid(a.featuredMod) {
			return nil
		}
		if o.opts.Chooser == nil {
			return fmt.Errorf("%w: no executable for %s", errAbandoned, a.featuredMod)
		}
		path, ok := o.opts.Chooser.ChooseExecutable(a.ctx, a.featuredMod)
		if !ok {
			return fmt.Errorf("%w: no executable chosen for %s", errAbandoned, a.featuredMod)
		}
		o.logger.Info("game executable chosen", "featured_mod", a.featuredMod, "path", path)
		return errRestart
	}}
}

func (o *Orchestrator) resolveFeaturedMod(a *attempt) error {
	if _, err := o.opts.Assets.FeaturedMod(a.ctx, a.featuredMod); err != nil {
		return classify(ErrDependency, "resolving featured mod "+a.featuredMod, err)
	}
	return nil
}

// launchStage starts the relay and ICE helper concurrently, then the
// launch helper and the game.
func (o *Orchestrator) launchStage() stage {
	return stage{name: "launch", reaches: phaseSpawned, run: func(a *attempt) error {
		sessionID := a.descriptor.SessionID
		a.phase = phaseLaunching

		group, groupCtx := errgroup.WithContext(a.ctx)
		group.Go(func() error {
			port, err := o.opts.Relay.Start(groupCtx, sessionID)
			if err != nil {
				return fmt.Errorf("starting replay relay: %w", err)
			}
			a.relayPort = port
			return nil
		})
		group.Go(func() error {
			port, err := o.opts.ICE.Start(groupCtx, a.player.ID, a.player.Name)
			if err != nil {
				return fmt.Errorf("starting ICE adapter: %w", err)
			}
			a.gpgnetPort = port
			return nil
		})
		if err := group.Wait(); err != nil {
			return classify(ErrLaunch, "preparing connectivity", err)
		}

		featuredMod := a.descriptor.FeaturedMod
		if featuredMod == "" {
			featuredMod = a.featuredMod
		}

		helper, err := o.opts.Launcher.StartHelper(a.ctx, featuredMod, sessionID)
		if err != nil {
			return classify(ErrLaunch, "starting launch helper", err)
		}
		o.watchHelper(helper)

		process, err := o.opts.Launcher.StartGame(a.ctx, GameLaunch{
			FeaturedMod: featuredMod,
			SessionID:   sessionID,
			Args:        normalizeArgs(a.descriptor.Args),
			GPGNetPort:  a.gpgnetPort,
			PlayerID:    a.player.ID,
			PlayerName:  a.player.Name,
			ReplayURL:   fmt.Sprintf("127.0.0.1:%d/%d", a.relayPort, sessionID),
			ChatURL:     a.chatURL,
			AutoLaunch:  a.autoLaunch,
		})
		if err != nil {
			return classify(ErrLaunch, "starting game", err)
		}
		a.process = process
		return nil
	}}
}

// bookkeepingStage records the running marker and hands the process
// to a termination watcher. announce, when given, runs on the loop with
// the dismiss channel the watcher closes on exit.
func (o *Orchestrator) bookkeepingStage(announce ...func(dismiss chan struct{})) stage {
	return stage{name: "bookkeeping", reaches: phaseRecorded, run: func(a *attempt) error {
		sessionID := a.descriptor.SessionID
		if o.opts.RunState != nil {
			state := runstate.State{
				SessionID:   sessionID,
				PID:         a.process.PID(),
				FeaturedMod: a.featuredMod,
				StartedAt:   o.clock.Now(),
			}
			if err := o.opts.RunState.Save(state); err != nil {
				o.logger.Warn("saving run state failed", "error", err)
			}
		}

		return o.onLoop(func() error {
			o.process = a.process
			o.runningID = sessionID
			o.runningKind = a.kind
			o.launching = false
			o.launchConfirmed = false
			o.spawnStatus = session.StatusUnknown
			if listed, ok := o.registry.Get(sessionID); ok {
				o.spawnStatus = listed.Status
			}
			o.setRehost(nil)
			if a.kind != flowReplay {
				o.currentStatus = session.StatusSpawning
				o.emitCurrent()
			}
			o.publish()
			a.phase = phaseRecorded

			var dismiss chan struct{}
			if len(announce) > 0 {
				dismiss = make(chan struct{})
				for _, fn := range announce {
					fn(dismiss)
				}
			}
			o.logger.Info("game process started",
				"flow", a.kind,
				"session_id", sessionID,
				"pid", a.process.PID(),
			)
			o.watchGame(a.process, sessionID, a.kind, dismiss)
			return nil
		})
	}}
}

// confirmWithoutMap asks whether to play a replay whose map could not
// be installed. Blocks until answered; declining the prompt or
// cancelling ctx means abort.
func (o *Orchestrator) confirmWithoutMap(ctx context.Context) bool {
	decision := make(chan bool, 1)
	answer := func(proceed bool) func() {
		return func() {
			select {
			case decision <- proceed:
			default:
			}
		}
	}
	o.notify(Notification{
		Severity: SeverityWarn,
		Key:      "replay.mapDownloadFailed",
		Actions: []Action{
			{Label: "replay.ignoreMapNotFound", Run: answer(true)},
			{Label: "replay.abortAfterMapNotFound", Run: answer(false)},
		},
		Declined: answer(false),
	})
	select {
	case proceed := <-decision:
		return proceed
	case <-ctx.Done():
		return false
	}
}

// simModNames lists a prototype's sim mods for a rehost request.
func simModNames(prototype session.Session) []string {
	return slices.Sorted(maps.Values(prototype.SimMods))
}
