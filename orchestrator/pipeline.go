// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Failure classes. Every error a flow settles with wraps exactly one.
var (
	// ErrPrecondition: a game is running or a search is queued.
	ErrPrecondition = errors.New("launch precondition not met")
	// ErrDependency: the featured mod or map could not be prepared.
	ErrDependency = errors.New("game dependency unavailable")
	// ErrNegotiation: the server rejected or cancelled the request.
	ErrNegotiation = errors.New("server negotiation failed")
	// ErrLaunch: a local process could not be started.
	ErrLaunch = errors.New("game launch failed")
	// ErrInternal: the orchestrator is missing state it needs.
	ErrInternal = errors.New("internal orchestrator error")
)

// errAbandoned ends a flow silently: the player declined to pick an
// executable or chose to abort.
var errAbandoned = errors.New("launch abandoned")

// errRestart re-runs a flow from its first stage after the player
// picked an executable.
var errRestart = errors.New("launch restarted")

// Future is the eventual result of a launch flow.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the flow settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the settled error. Only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the flow settles or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// phase records how far an attempt progressed. Rollback is keyed by it.
type phase int

const (
	phaseNone phase = iota
	// phaseGuarded: preconditions passed and the attempt holds the
	// launch slot.
	phaseGuarded
	// phaseResolved: the executable is known.
	phaseResolved
	// phaseSynced: featured mod and map are in place.
	phaseSynced
	// phaseNegotiated: the server issued a launch descriptor.
	phaseNegotiated
	// phaseLaunching: relay and ICE helper may be running.
	phaseLaunching
	// phaseSpawned: the game process exists.
	phaseSpawned
	// phaseRecorded: the running marker is set and a watcher owns the
	// process.
	phaseRecorded
)

var phaseNames = [...]string{
	phaseNone:       "none",
	phaseGuarded:    "guarded",
	phaseResolved:   "resolved",
	phaseSynced:     "synced",
	phaseNegotiated: "negotiated",
	phaseLaunching:  "launching",
	phaseSpawned:    "spawned",
	phaseRecorded:   "recorded",
}

func (p phase) String() string { return phaseNames[p] }

// flowKind names a launch flow.
type flowKind string

const (
	flowHost      flowKind = "host"
	flowJoin      flowKind = "join"
	flowMatchmake flowKind = "matchmake"
	flowReplay    flowKind = "replay"
)

// stage is one step of a flow. reaches is the phase recorded when run
// succeeds.
type stage struct {
	name    string
	reaches phase
	run     func(*attempt) error
}

// attempt is the state of one flow run. Stages run sequentially, so
// fields need no lock; loop-side stages see worker writes through the
// onLoop handoff.
type attempt struct {
	kind   flowKind
	ctx    context.Context
	future *Future
	phase  phase

	featuredMod string
	player      LocalPlayer
	chatURL     string
	autoLaunch  bool

	// queued is set once a matchmaking search holds the queue flag.
	queued bool

	descriptor LaunchDescriptor
	relayPort  int
	gpgnetPort int
	process    Process

	// failureKeys maps a failure class to the notification key for
	// this flow. A missing class falls back to defaultFailureKeys.
	failureKeys map[error]string
}

var defaultFailureKeys = map[error]string{
	ErrDependency:  "game.dependencyFailed",
	ErrNegotiation: "games.couldNotStart",
	ErrLaunch:      "game.start.couldNotStart",
	ErrInternal:    "game.internalError",
}

func (a *attempt) failureKey(class error) string {
	if key, ok := a.failureKeys[class]; ok {
		return key
	}
	return defaultFailureKeys[class]
}

// classify wraps err in class unless it already carries a class or a
// control sentinel.
func classify(class error, operation string, err error) error {
	for _, known := range []error{ErrPrecondition, ErrDependency, ErrNegotiation, ErrLaunch, ErrInternal, errAbandoned, errRestart} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", class, operation, err)
}

// runFlow executes stages on the calling worker goroutine until one
// fails or all succeed, then settles the attempt's future.
func (o *Orchestrator) runFlow(a *attempt, stages []stage) {
	for {
		err := o.runStages(a, stages)
		if errors.Is(err, errRestart) {
			o.logger.Info("restarting launch with new executable", "flow", a.kind)
			if a.phase >= phaseGuarded {
				if loopErr := o.onLoop(func() error { o.launching = false; return nil }); loopErr != nil {
					o.unwind(a, loopErr)
					return
				}
			}
			a.phase = phaseNone
			continue
		}
		if err != nil {
			o.unwind(a, err)
			return
		}
		a.future.settle(nil)
		return
	}
}

func (o *Orchestrator) runStages(a *attempt, stages []stage) error {
	for _, current := range stages {
		if err := current.run(a); err != nil {
			o.logger.Debug("launch stage failed",
				"flow", a.kind,
				"stage", current.name,
				"phase", a.phase,
				"error", err,
			)
			return err
		}
		if current.reaches > a.phase {
			a.phase = current.reaches
		}
	}
	return nil
}

// unwind rolls back a failed attempt according to the phase it
// reached, emits at most one notification, and settles the future.
func (o *Orchestrator) unwind(a *attempt, err error) {
	logger := o.logger.With("flow", a.kind, "phase", a.phase)

	if a.phase >= phaseLaunching {
		o.opts.Relay.Stop()
		o.opts.ICE.Stop()
	}
	if a.process != nil && a.phase < phaseRecorded && alive(a.process) {
		if terminateErr := a.process.Terminate(); terminateErr != nil {
			logger.Warn("terminating game process failed", "error", terminateErr)
		}
	}
	if a.phase >= phaseNegotiated && a.kind != flowReplay {
		o.background("notifying game ended", o.opts.Server.NotifyGameEnded)
	}

	cancelled := errors.Is(err, context.Canceled)
	released := o.onLoop(func() error {
		if a.phase >= phaseGuarded {
			o.launching = false
		}
		if a.queued && o.inQueue {
			o.inQueue = false
			if o.cancelQueue != nil {
				o.cancelQueue()
				o.cancelQueue = nil
			}
			o.publish()
		}
		if a.phase >= phaseRecorded && o.process == a.process {
			o.clearRunning()
		}
		return nil
	})
	if released != nil {
		logger.Debug("coordination loop gone during unwind", "error", released)
	}

	switch {
	case errors.Is(err, ErrPrecondition), errors.Is(err, errAbandoned):
		logger.Info("launch not started", "reason", err)
		a.future.settle(nil)
		return
	case errors.Is(err, ErrStopped):
		logger.Info("launch interrupted by shutdown")
		a.future.settle(err)
		return
	case cancelled:
		logger.Info("launch cancelled", "error", err)
	case errors.Is(err, ErrNegotiation):
		logger.Warn("server negotiation failed", "error", err)
	case errors.Is(err, ErrInternal):
		logger.Error("launch failed", "error", err)
	default:
		logger.Warn("launch failed", "error", err)
	}

	if !cancelled {
		class := failureClass(err)
		o.notify(Notification{
			Severity: SeverityError,
			Key:      a.failureKey(class),
			Err:      err,
		})
	}
	a.future.settle(err)
}

func failureClass(err error) error {
	for _, class := range []error{ErrDependency, ErrNegotiation, ErrLaunch, ErrInternal} {
		if errors.Is(err, class) {
			return class
		}
	}
	return ErrInternal
}

// normalizeArgs splits every server-supplied token on spaces. The
// server sends "/ratingcolor d8d8d8d8" as one token where the game
// expects two.
func normalizeArgs(args []string) []string {
	normalized := make([]string, 0, len(args))
	for _, combined := range args {
		normalized = append(normalized, strings.Split(combined, " ")...)
	}
	return normalized
}
