// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bureau-foundation/skirmish/orchestrator"
)

// ErrNoGame is returned by SendConsole when no game is running.
var ErrNoGame = errors.New("no game running")

// Executables resolves the game executable of a featured mod.
type Executables interface {
	Executable(featuredMod string) (string, bool)
}

// Config configures a Launcher.
type Config struct {
	// HelperBinary prepares the install for a featured mod before the
	// game starts.
	HelperBinary string

	Executables Executables

	// ReplayArgument is the game flag that opens a replay.
	ReplayArgument string

	// LogDir receives one log file per child.
	LogDir string

	Logger *slog.Logger
}

// Launcher starts game processes.
type Launcher struct {
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	game *Child
}

// New returns a Launcher.
func New(config Config) (*Launcher, error) {
	if config.Executables == nil {
		return nil, fmt.Errorf("launch: Executables is required")
	}
	if config.ReplayArgument == "" {
		config.ReplayArgument = "/replay"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Launcher{config: config, logger: logger}, nil
}

func (l *Launcher) logPath(prefix string, sessionID int) string {
	if l.config.LogDir == "" {
		return ""
	}
	return filepath.Join(l.config.LogDir, fmt.Sprintf("%s_%d.log", prefix, sessionID))
}

func (l *Launcher) executable(featuredMod string) (string, error) {
	path, ok := l.config.Executables.Executable(featuredMod)
	if !ok {
		return "", fmt.Errorf("no game executable configured for %s", featuredMod)
	}
	return path, nil
}

// StartHelper runs the launch helper for featuredMod.
func (l *Launcher) StartHelper(_ context.Context, featuredMod string, sessionID int) (orchestrator.Process, error) {
	if l.config.HelperBinary == "" {
		return nil, fmt.Errorf("no launch helper configured")
	}
	child, err := Start(Spec{
		Path:    l.config.HelperBinary,
		Args:    []string{"--mod", featuredMod, "--uid", strconv.Itoa(sessionID)},
		LogPath: l.logPath("launcher", sessionID),
	}, l.logger)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// GameArgs builds the game command line.
func GameArgs(launch orchestrator.GameLaunch) []string {
	args := []string{
		"/gpgnet", fmt.Sprintf("127.0.0.1:%d", launch.GPGNetPort),
		"/mod", launch.FeaturedMod,
		"/uid", strconv.Itoa(launch.SessionID),
		"/player", launch.PlayerName,
		"/playerid", strconv.Itoa(launch.PlayerID),
		"/savereplay", "gpgnet://" + launch.ReplayURL,
	}
	args = append(args, launch.Args...)
	if launch.ChatURL != "" {
		args = append(args, "/irc", launch.ChatURL)
	}
	if launch.AutoLaunch {
		args = append(args, "/autolaunch")
	}
	return args
}

// StartGame starts the game and keeps its console for SendConsole.
func (l *Launcher) StartGame(_ context.Context, launch orchestrator.GameLaunch) (orchestrator.Process, error) {
	path, err := l.executable(launch.FeaturedMod)
	if err != nil {
		return nil, err
	}
	child, err := Start(Spec{
		Path:    path,
		Args:    GameArgs(launch),
		Dir:     filepath.Dir(path),
		LogPath: l.logPath("game", launch.SessionID),
		Console: true,
	}, l.logger)
	if err != nil {
		return nil, err
	}
	l.setGame(child)
	return child, nil
}

// StartReplay opens a replay file or stream in the game.
func (l *Launcher) StartReplay(_ context.Context, launch orchestrator.ReplayLaunch) (orchestrator.Process, error) {
	path, err := l.executable(launch.FeaturedMod)
	if err != nil {
		return nil, err
	}
	args := []string{l.config.ReplayArgument, launch.Source, "/replayid", strconv.Itoa(launch.SessionID)}
	if launch.PlayerName != "" {
		args = append(args, "/player", launch.PlayerName)
	}
	child, err := Start(Spec{
		Path:    path,
		Args:    args,
		Dir:     filepath.Dir(path),
		LogPath: l.logPath("replay", launch.SessionID),
		Console: true,
	}, l.logger)
	if err != nil {
		return nil, err
	}
	l.setGame(child)
	return child, nil
}

func (l *Launcher) setGame(child *Child) {
	l.mu.Lock()
	l.game = child
	l.mu.Unlock()
}

// SendConsole writes a console command to the running game.
func (l *Launcher) SendConsole(command string) error {
	l.mu.Lock()
	game := l.game
	l.mu.Unlock()
	if game == nil {
		return ErrNoGame
	}
	select {
	case <-game.Done():
		return ErrNoGame
	default:
	}
	l.logger.Debug("sending console command", "command", command)
	return game.writeConsole(command)
}
