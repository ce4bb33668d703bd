// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/skirmish/lib/clock"
	"github.com/bureau-foundation/skirmish/session"
)

// ErrStopped is returned by operations that need the coordination
// loop after Run has returned.
var ErrStopped = errors.New("orchestrator stopped")

// Options configures an Orchestrator. Server, Assets, Launcher, Relay,
// ICE, Preferences and Notifier are required.
type Options struct {
	Server      Server
	Assets      Assets
	Launcher    Launcher
	Relay       Relay
	ICE         ICE
	Preferences Preferences
	Notifier    Notifier

	Chooser  ExecutableChooser
	Platform Platform
	Chat     Chat
	Logs     LogSubmitter
	RunState RunState
	History  History
	Players  PlayerDirectory

	// IRCAddress is host:port of the chat server the game connects
	// to. Empty disables the in-game chat URL.
	IRCAddress string

	// OnReview is invoked by the review action of the game-ended
	// notification.
	OnReview func(sessionID int)

	Clock  clock.Clock
	Logger *slog.Logger
}

// CurrentChange describes a change of the current session or its
// status. SessionID is 0 when there is no current session.
type CurrentChange struct {
	SessionID int
	Status    session.Status
}

// Orchestrator coordinates the local player's game session. Construct
// with [New] and start with [Orchestrator.Run].
type Orchestrator struct {
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
	registry *session.Registry

	// ctx parents every launch attempt and ends at shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
	runOnce sync.Once

	// Loop-owned state.
	player          *LocalPlayer
	currentID       int
	currentStatus   session.Status
	watched         map[int]bool
	process         Process
	runningID       int
	runningKind     flowKind
	// spawnStatus is the running session's registry status when the
	// process was spawned.
	spawnStatus     session.Status
	launchConfirmed bool
	launching       bool
	inQueue         bool
	cancelQueue     context.CancelFunc
	rehost          *session.Session
	autoJoin        *session.Session
	checks          map[string]func() bool

	// Mirrors of loop state for other goroutines.
	mu            sync.Mutex
	public        publicState
	inOthersParty bool

	subscriptionMu sync.Mutex
	currentSubs    map[int]func(CurrentChange)
	nextSubID      int
}

type publicState struct {
	currentID     int
	currentStatus session.Status
	inQueue       bool
	runningID     int
	process       Process
	autoJoin      *session.Session
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Server == nil:
		return nil, fmt.Errorf("orchestrator: Server is required")
	case opts.Assets == nil:
		return nil, fmt.Errorf("orchestrator: Assets is required")
	case opts.Launcher == nil:
		return nil, fmt.Errorf("orchestrator: Launcher is required")
	case opts.Relay == nil:
		return nil, fmt.Errorf("orchestrator: Relay is required")
	case opts.ICE == nil:
		return nil, fmt.Errorf("orchestrator: ICE is required")
	case opts.Preferences == nil:
		return nil, fmt.Errorf("orchestrator: Preferences is required")
	case opts.Notifier == nil:
		return nil, fmt.Errorf("orchestrator: Notifier is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var rating session.RatingFunc
	if opts.Players != nil {
		rating = opts.Players.Rating
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		ctx:         ctx,
		cancel:      cancel,
		opts:        opts,
		clock:       clk,
		logger:      logger,
		registry:    session.NewRegistry(rating),
		wake:        make(chan struct{}, 1),
		stopped:     make(chan struct{}),
		watched:     make(map[int]bool),
		checks:      make(map[string]func() bool),
		currentSubs: make(map[int]func(CurrentChange)),
	}, nil
}

// Run executes queued work until ctx is cancelled. It must be called
// exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.runOnce.Do(func() { close(o.stopped) })

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-o.wake:
			for _, fn := range o.drain() {
				fn()
			}
		}
	}
}

func (o *Orchestrator) drain() []func() {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	queued := o.queue
	o.queue = nil
	return queued
}

// post queues fn for the coordination loop. Never blocks.
func (o *Orchestrator) post(fn func()) {
	o.queueMu.Lock()
	o.queue = append(o.queue, fn)
	o.queueMu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// onLoop runs fn on the coordination loop and waits for its result.
// Worker goroutines only.
func (o *Orchestrator) onLoop(fn func() error) error {
	result := make(chan error, 1)
	o.post(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-o.stopped:
		return ErrStopped
	}
}

// background runs fn on a worker goroutine and logs its failure.
func (o *Orchestrator) background(operation string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			o.logger.Warn(operation+" failed", "error", err)
		}
	}()
}

func (o *Orchestrator) shutdown() {
	o.cancel()
	o.cancelQueue = nil
}

func (o *Orchestrator) notify(notification Notification) {
	o.opts.Notifier.Notify(notification)
}

func (o *Orchestrator) behavior() Behavior {
	return o.opts.Preferences.Behavior()
}

// publish copies loop state into the mutex-guarded mirror.
func (o *Orchestrator) publish() {
	o.mu.Lock()
	o.public = publicState{
		currentID:     o.currentID,
		currentStatus: o.currentStatus,
		inQueue:       o.inQueue,
		runningID:     o.runningID,
		process:       o.process,
		autoJoin:      o.autoJoin,
	}
	o.mu.Unlock()
}

// Registry returns the session registry. Callers may read and
// subscribe; only the orchestrator writes.
func (o *Orchestrator) Registry() *session.Registry { return o.registry }

// Sessions returns every known session ordered by identifier.
func (o *Orchestrator) Sessions() []session.Session { return o.registry.List() }

// Session returns one session.
func (o *Orchestrator) Session(id int) (session.Session, bool) { return o.registry.Get(id) }

// CurrentSession returns the session the local player occupies.
func (o *Orchestrator) CurrentSession() (session.Session, bool) {
	o.mu.Lock()
	id := o.public.currentID
	o.mu.Unlock()
	if id == 0 {
		return session.Session{}, false
	}
	return o.registry.Get(id)
}

// CurrentStatus returns the local view of the current session's status.
func (o *Orchestrator) CurrentStatus() session.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.public.currentStatus
}

// InMatchmakerQueue reports whether a matchmaking search is running.
func (o *Orchestrator) InMatchmakerQueue() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.public.inQueue
}

// InOthersParty reports whether the player is in someone else's party.
func (o *Orchestrator) InOthersParty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inOthersParty
}

// SetInOthersParty is called by the party service.
func (o *Orchestrator) SetInOthersParty(inParty bool) {
	o.mu.Lock()
	o.inOthersParty = inParty
	o.mu.Unlock()
}

// RunningSessionID returns the session whose game process is alive,
// or 0.
func (o *Orchestrator) RunningSessionID() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.public.runningID
}

// IsGameRunning reports whether a local game process is alive.
func (o *Orchestrator) IsGameRunning() bool {
	o.mu.Lock()
	process := o.public.process
	o.mu.Unlock()
	return alive(process)
}

func alive(process Process) bool {
	if process == nil {
		return false
	}
	select {
	case <-process.Done():
		return false
	default:
		return true
	}
}

// gameRunning is the loop's view of IsGameRunning.
func (o *Orchestrator) gameRunning() bool {
	return alive(o.process)
}

// runningOwnGame reports whether the running process is the player's
// own game rather than a replay of some session. Loop only.
func (o *Orchestrator) runningOwnGame() bool {
	return o.runningID != 0 && o.runningKind != flowReplay
}

// SubscribeCurrent registers fn for changes of the current session or
// its status. fn runs on the coordination loop and must not block.
func (o *Orchestrator) SubscribeCurrent(fn func(CurrentChange)) (unsubscribe func()) {
	o.subscriptionMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.currentSubs[id] = fn
	o.subscriptionMu.Unlock()
	return func() {
		o.subscriptionMu.Lock()
		delete(o.currentSubs, id)
		o.subscriptionMu.Unlock()
	}
}

func (o *Orchestrator) emitCurrent() {
	change := CurrentChange{SessionID: o.currentID, Status: o.currentStatus}
	o.subscriptionMu.Lock()
	subscribers := make([]func(CurrentChange), 0, len(o.currentSubs))
	for _, fn := range o.currentSubs {
		subscribers = append(subscribers, fn)
	}
	o.subscriptionMu.Unlock()
	for _, fn := range subscribers {
		fn(change)
	}
}

// HandleSnapshots applies server session snapshots in delivery order.
func (o *Orchestrator) HandleSnapshots(snapshots ...session.Snapshot) {
	o.post(func() {
		for _, snapshot := range snapshots {
			o.applySnapshot(snapshot)
		}
		o.runChecks()
	})
}

// HandleLocalPlayer records the server's view of the local player.
func (o *Orchestrator) HandleLocalPlayer(player LocalPlayer) {
	o.post(func() {
		o.updatePlayer(player)
		o.runChecks()
	})
}

// HandleLoggedIn restores a running game's session after a reconnect.
func (o *Orchestrator) HandleLoggedIn() {
	o.post(func() {
		if !o.gameRunning() || !o.runningOwnGame() {
			return
		}
		id := o.runningID
		o.logger.Info("restoring game session", "session_id", id)
		o.background("restore session", func() error {
			return o.opts.Server.RestoreSession(id)
		})
	})
}

// HandleDisconnected forgets every session. The server resends them
// after reconnecting.
func (o *Orchestrator) HandleDisconnected() {
	o.post(func() {
		o.registry.Clear()
		if o.currentID != 0 {
			o.currentID = 0
			o.currentStatus = session.StatusUnknown
			o.publish()
			o.emitCurrent()
		}
		clear(o.watched)
	})
}

// HandleUserOffline cancels an auto-join request waiting on name.
func (o *Orchestrator) HandleUserOffline(name string) {
	o.post(func() {
		if o.autoJoin != nil && o.autoJoin.Host == name {
			o.logger.Info("cancelling auto-join, host went offline", "host", name)
			o.setAutoJoin(nil)
		}
	})
}
