// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"github.com/bureau-foundation/skirmish/lib/runstate"
	"github.com/bureau-foundation/skirmish/session"
)

// LocalPlayer is the identity the server assigned to this client and
// the session it last reported the player in (0 for none).
type LocalPlayer struct {
	ID        int
	Name      string
	Alias     string
	SessionID int
}

// PlayerStatus is derived from the player's session and its status.
type PlayerStatus int

const (
	PlayerIdle PlayerStatus = iota
	PlayerHosting
	PlayerJoining
	PlayerPlaying
)

func (s PlayerStatus) String() string {
	switch s {
	case PlayerHosting:
		return "hosting"
	case PlayerJoining:
		return "joining"
	case PlayerPlaying:
		return "playing"
	}
	return "idle"
}

// LaunchDescriptor is the server's answer to a host, join or
// matchmaking request.
type LaunchDescriptor struct {
	SessionID   int
	FeaturedMod string
	Args        []string

	// Matchmaker launches only.
	Map             MapDescriptor
	Team            int
	ExpectedPlayers int
	MapPosition     int
}

// MapDescriptor names a map asset.
type MapDescriptor struct {
	Name     string
	Checksum string
	Archive  string
}

// FeaturedMod is a resolved game variant.
type FeaturedMod struct {
	TechnicalName string
	DisplayName   string
	Version       int
}

// Server is the lobby connection.
type Server interface {
	RequestHost(ctx context.Context, request HostRequest) (LaunchDescriptor, error)
	RequestJoin(ctx context.Context, sessionID int, password string) (LaunchDescriptor, error)

	// StartMatchmaking blocks until a match is found or ctx ends.
	StartMatchmaking(ctx context.Context, featuredMod string) (LaunchDescriptor, error)
	StopMatchmaking() error
	NotifyGameEnded() error
	RestoreSession(sessionID int) error
}

// Assets answers questions about installed game content.
type Assets interface {
	ExecutableValid(featuredMod string) bool
	FeaturedMod(ctx context.Context, technicalName string) (FeaturedMod, error)
	EnsureMap(ctx context.Context, featuredMod string, descriptor MapDescriptor) error

	// MapDetails returns the fields the game console expects for a
	// map change.
	MapDetails(featuredMod, mapName string) ([]string, error)
}

// Process is a running child process.
type Process interface {
	// Name is the command's file name, for messages.
	Name() string
	PID() int

	// Wait blocks until exit and returns the exit code. The error is
	// non-nil only when the exit status could not be determined.
	// Safe to call from several goroutines.
	Wait() (int, error)

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	Terminate() error
}

// GameLaunch is everything the launcher needs to start a game.
type GameLaunch struct {
	FeaturedMod string
	SessionID   int
	Args        []string
	GPGNetPort  int
	PlayerID    int
	PlayerName  string
	ReplayURL   string
	ChatURL     string
	AutoLaunch  bool
}

// ReplayLaunch is everything the launcher needs to start a replay.
type ReplayLaunch struct {
	FeaturedMod string
	Source      string
	SessionID   int
	PlayerName  string
}

// Launcher starts game processes and talks to the running game's
// console.
type Launcher interface {
	StartHelper(ctx context.Context, featuredMod string, sessionID int) (Process, error)
	StartGame(ctx context.Context, launch GameLaunch) (Process, error)
	StartReplay(ctx context.Context, launch ReplayLaunch) (Process, error)
	SendConsole(command string) error
}

// Relay carries the game's replay stream. Start returns the local port
// the game should write to.
type Relay interface {
	Start(ctx context.Context, sessionID int) (int, error)
	Stop()
}

// ICE runs the NAT-traversal helper. Start returns the GPGNet port the
// game should connect to.
type ICE interface {
	Start(ctx context.Context, playerID int, login string) (int, error)
	Stop()
}

// Behavior is the subset of player preferences the orchestrator reads.
type Behavior struct {
	AutoLaunchOnHost       bool
	AutoLaunchOnJoin       bool
	AutoJoin               bool
	AutoRehost             bool
	IRCIntegration         bool
	AfterGameReview        bool
	TransientNotifications bool
}

// Preferences exposes the player's behavior toggles.
type Preferences interface {
	Behavior() Behavior
}

// ExecutableChooser asks the player where the game executable for a
// featured mod lives. It blocks until answered and reports false when
// the player declines.
type ExecutableChooser interface {
	ChooseExecutable(ctx context.Context, featuredMod string) (string, bool)
}

// Severity of a notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	}
	return "info"
}

// Action is a button on a notification.
type Action struct {
	Label string
	Run   func()
}

// Notification is a user-visible message. Key is a message key the
// presentation layer localizes with Args.
type Notification struct {
	Severity Severity
	Key      string
	Args     []any
	Err      error
	Actions  []Action

	// Dismiss, when non-nil, is closed when the notification no
	// longer applies.
	Dismiss <-chan struct{}

	// Declined, when non-nil, is called if the player closes the
	// notification without choosing one of its actions.
	Declined func()
}

// Notifier shows notifications. Notify must not block and may be
// called from any goroutine.
type Notifier interface {
	Notify(Notification)
}

// Platform controls the game window.
type Platform interface {
	IsWindowFocused() bool
	FocusWindow()
}

// Chat is the in-game chat service.
type Chat interface {
	UserChannels(user string) []string
	JoinChannel(channel string)
	LeaveChannel(channel string)
}

// LogSubmitter packages and uploads the logs of a finished game.
type LogSubmitter interface {
	Submit(ctx context.Context, sessionID int) error
}

// RunState persists the running game across client restarts.
type RunState interface {
	Save(runstate.State) error
	Clear() error
}

// History records sessions the player finished.
type History interface {
	Record(ctx context.Context, played session.Session, endedAt time.Time) error
}

// PlayerDirectory looks up other players' ratings.
type PlayerDirectory interface {
	Rating(player, ratingType string) (int, bool)
}
