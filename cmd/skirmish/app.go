// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/skirmish/assets"
	"github.com/bureau-foundation/skirmish/history"
	"github.com/bureau-foundation/skirmish/ice"
	"github.com/bureau-foundation/skirmish/launch"
	"github.com/bureau-foundation/skirmish/lib/clock"
	"github.com/bureau-foundation/skirmish/lib/config"
	"github.com/bureau-foundation/skirmish/lib/runstate"
	"github.com/bureau-foundation/skirmish/lobby"
	"github.com/bureau-foundation/skirmish/logpack"
	"github.com/bureau-foundation/skirmish/orchestrator"
	"github.com/bureau-foundation/skirmish/prefs"
	"github.com/bureau-foundation/skirmish/relay"
	"github.com/bureau-foundation/skirmish/session"
)

const (
	loginTimeout = 30 * time.Second
	exitPoll     = 500 * time.Millisecond
)

// globalFlags are shared by every command that connects.
type globalFlags struct {
	configPath string
	login      string
	token      string
	verbose    bool
}

func (g *globalFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "path to skirmish.yaml (default: $SKIRMISH_CONFIG)")
	flagSet.StringVar(&g.login, "login", os.Getenv("SKIRMISH_LOGIN"), "player login")
	flagSet.StringVar(&g.token, "token", os.Getenv("SKIRMISH_TOKEN"), "lobby access token")
	flagSet.BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")
}

func (g *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else if os.Getenv("SKIRMISH_CONFIG") != "" {
		cfg, err = config.Load()
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is a connected client.
type app struct {
	config       *config.Config
	logger       *slog.Logger
	console      *console
	orchestrator *orchestrator.Orchestrator
	lobby        *lobby.Client
	history      *history.Store
	runState     *runstate.File
	loggedIn     chan struct{}

	closers []func()
}

// newApp builds every component from the configuration.
func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := flags.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	a := &app{config: cfg, loggedIn: make(chan struct{})}
	if err := a.build(ctx, flags); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, flags *globalFlags) error {
	cfg := a.config
	clientLog, err := os.OpenFile(filepath.Join(cfg.Paths.Logs, "client.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening client log: %w", err)
	}
	a.closers = append(a.closers, func() { clientLog.Close() })
	a.logger = newLogger(clientLog, flags.verbose)
	a.console = newConsole(ctx)

	a.runState = runstate.New(cfg.Paths.State)
	if orphan, ok, err := a.runState.Orphan(); err != nil {
		a.logger.Warn("checking for an orphaned game failed", "error", err)
	} else if ok {
		a.logger.Warn("a game from a previous run is still running",
			"session_id", orphan.SessionID, "pid", orphan.PID, "started_at", orphan.StartedAt)
	}

	preferences, err := prefs.Load(cfg.Paths.Preferences)
	if err != nil {
		return err
	}

	a.history, err = history.Open(cfg.Paths.History, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { a.history.Close() })

	reconnect, _ := cfg.ReconnectInterval()
	a.lobby, err = lobby.New(lobby.Config{
		URL:               cfg.Server.URL,
		Login:             flags.login,
		Token:             flags.token,
		ReconnectInterval: reconnect,
		ReconnectBurst:    cfg.Server.ReconnectBurst,
		Logger:            a.logger,
	})
	if err != nil {
		return err
	}

	assetStore, err := assets.New(assets.Config{
		Executables: preferences,
		MapsDir:     cfg.Paths.Maps,
		APIURL:      cfg.Server.APIURL,
		MapsURL:     cfg.Server.MapsURL,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	launcher, err := launch.New(launch.Config{
		HelperBinary:   cfg.Game.LauncherBinary,
		Executables:    preferences,
		ReplayArgument: cfg.Game.ReplayArgument,
		LogDir:         cfg.Paths.Logs,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	compression, err := relay.ParseCompression(cfg.Relay.Compression)
	if err != nil {
		return err
	}
	replayRelay, err := relay.New(relay.Config{
		Upstream:    cfg.Relay.Upstream,
		Dir:         cfg.Paths.Replays,
		Compression: compression,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	startupTimeout, _ := cfg.ICEStartupTimeout()
	adapter, err := ice.New(ice.Config{
		Binary:         cfg.ICE.Binary,
		Servers:        iceServers(cfg.ICE.Servers),
		StateDir:       cfg.Paths.State,
		LogDir:         cfg.Paths.Logs,
		StartupTimeout: startupTimeout,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	packer, err := logpack.New(logpack.Config{
		LogDir:    cfg.Paths.Logs,
		UploadURL: cfg.Logs.UploadURL,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	var ircAddress string
	if cfg.IRC.Host != "" {
		ircAddress = fmt.Sprintf("%s:%d", cfg.IRC.Host, cfg.IRC.Port)
	}

	a.orchestrator, err = orchestrator.New(orchestrator.Options{
		Server:      a.lobby,
		Assets:      assetStore,
		Launcher:    launcher,
		Relay:       replayRelay,
		ICE:         adapter,
		Preferences: preferences,
		Notifier:    a.console,
		Chooser: &prefs.Chooser{
			Store:  preferences,
			Prompt: a.console.promptExecutable,
			Logger: a.logger,
		},
		Logs:       packer,
		RunState:   a.runState,
		History:    a.history,
		Players:    a.lobby,
		IRCAddress: ircAddress,
		OnReview:   a.review,
		Clock:      clock.Real(),
		Logger:     a.logger,
	})
	return err
}

func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	converted := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		entry := webrtc.ICEServer{URLs: server.URLs, Username: server.Username}
		if server.Credential != "" {
			entry.Credential = server.Credential
		}
		converted = append(converted, entry)
	}
	return converted
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// review prints a finished session from the history.
func (a *app) review(sessionID int) {
	entry, err := a.history.Lookup(context.Background(), sessionID)
	if err != nil {
		a.logger.Warn("review unavailable", "session_id", sessionID, "error", err)
		return
	}
	fmt.Fprintf(a.console.out, "Session %d: %q on %s (%s), %d players, ended %s\n",
		entry.SessionID, entry.Title, entry.MapName, entry.FeaturedMod,
		entry.NumPlayers, entry.EndedAt.Local().Format(time.DateTime))
}

// loginHandler forwards lobby events and signals the first login.
type loginHandler struct {
	*orchestrator.Orchestrator
	loggedIn chan struct{}
	signaled bool
}

func (h *loginHandler) HandleLoggedIn() {
	h.Orchestrator.HandleLoggedIn()
	if !h.signaled {
		h.signaled = true
		close(h.loggedIn)
	}
}

// run starts the orchestrator and the lobby connection, waits for the
// login, then runs action. It returns when action does or ctx ends.
func (a *app) run(ctx context.Context, action func(ctx context.Context) error) error {
	defer a.close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orchestratorDone := make(chan error, 1)
	go func() { orchestratorDone <- a.orchestrator.Run(ctx) }()
	handler := &loginHandler{Orchestrator: a.orchestrator, loggedIn: a.loggedIn}
	go func() {
		if err := a.lobby.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("lobby connection stopped", "error", err)
		}
	}()

	select {
	case <-a.loggedIn:
	case <-time.After(loginTimeout):
		return fmt.Errorf("not logged in to %s after %s", a.config.Server.URL, loginTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	err := action(ctx)
	cancel()
	<-orchestratorDone
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// awaitGameExit blocks until no game is running.
func (a *app) awaitGameExit(ctx context.Context) error {
	ticker := time.NewTicker(exitPoll)
	defer ticker.Stop()
	for a.orchestrator.IsGameRunning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// launchAndWait settles future and then waits for the game to exit.
func (a *app) launchAndWait(ctx context.Context, future *orchestrator.Future) error {
	if err := future.Wait(ctx); err != nil {
		return err
	}
	return a.awaitGameExit(ctx)
}

// awaitSession blocks until the registry lists id.
func (a *app) awaitSession(ctx context.Context, id int) (session.Session, error) {
	if found, ok := a.orchestrator.Session(id); ok {
		return found, nil
	}
	arrived := make(chan session.Session, 1)
	unsubscribe := a.orchestrator.Registry().Subscribe(func(event session.Event) {
		if event.Session.ID == id && event.Kind != session.Removed {
			select {
			case arrived <- event.Session:
			default:
			}
		}
	})
	defer unsubscribe()
	if found, ok := a.orchestrator.Session(id); ok {
		return found, nil
	}
	select {
	case found := <-arrived:
		return found, nil
	case <-time.After(loginTimeout):
		return session.Session{}, fmt.Errorf("session %d not listed by the server", id)
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	}
}
