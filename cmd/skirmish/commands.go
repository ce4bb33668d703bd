// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/skirmish/lib/version"
	"github.com/bureau-foundation/skirmish/orchestrator"
	"github.com/bureau-foundation/skirmish/session"
)

func root() *command {
	return &command{
		name:    "skirmish",
		summary: "Lobby client and game session orchestrator",
		subcommands: []*command{
			watchCommand(),
			hostCommand(),
			joinCommand(),
			matchmakeCommand(),
			replayCommand(),
			versionCommand(),
		},
	}
}

// connected runs action on a logged-in app until it returns or the
// process is interrupted.
func connected(flags *globalFlags, action func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	return a.run(ctx, func(ctx context.Context) error { return action(ctx, a) })
}

func watchCommand() *command {
	var flags globalFlags
	return &command{
		name:    "watch",
		summary: "Stay connected and follow the current session",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flags.add(flagSet)
			return flagSet
		},
		run: func(args []string) error {
			return connected(&flags, func(ctx context.Context, a *app) error {
				unsubscribe := a.orchestrator.SubscribeCurrent(func(change orchestrator.CurrentChange) {
					if change.SessionID == 0 {
						fmt.Fprintln(a.console.out, "no current session")
						return
					}
					fmt.Fprintf(a.console.out, "current session %d: %s\n", change.SessionID, change.Status)
				})
				defer unsubscribe()
				<-ctx.Done()
				return ctx.Err()
			})
		},
	}
}

func hostCommand() *command {
	var (
		flags       globalFlags
		title       string
		password    string
		featuredMod string
		mapName     string
		friends     bool
		minRating   int
		maxRating   int
		enforce     bool
	)
	return &command{
		name:    "host",
		summary: "Host a session and run the game",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("host", pflag.ContinueOnError)
			flags.add(flagSet)
			flagSet.StringVar(&title, "title", "", "session title (required)")
			flagSet.StringVar(&password, "password", "", "session password")
			flagSet.StringVar(&featuredMod, "mod", "faf", "featured mod")
			flagSet.StringVar(&mapName, "map", "", "map name (required)")
			flagSet.BoolVar(&friends, "friends-only", false, "visible to friends only")
			flagSet.IntVar(&minRating, "min-rating", 0, "minimum rating (0 for none)")
			flagSet.IntVar(&maxRating, "max-rating", 0, "maximum rating (0 for none)")
			flagSet.BoolVar(&enforce, "enforce-rating", false, "reject players outside the rating range")
			return flagSet
		},
		run: func(args []string) error {
			if title == "" || mapName == "" {
				return fmt.Errorf("--title and --map are required")
			}
			request := orchestrator.HostRequest{
				Title:         title,
				Password:      password,
				FeaturedMod:   featuredMod,
				MapName:       mapName,
				Visibility:    session.VisibilityPublic,
				EnforceRating: enforce,
			}
			if friends {
				request.Visibility = session.VisibilityFriends
			}
			if minRating != 0 {
				request.MinRating = &minRating
			}
			if maxRating != 0 {
				request.MaxRating = &maxRating
			}
			return connected(&flags, func(ctx context.Context, a *app) error {
				return a.launchAndWait(ctx, a.orchestrator.HostGame(request))
			})
		},
	}
}

func joinCommand() *command {
	var (
		flags    globalFlags
		password string
	)
	return &command{
		name:    "join",
		summary: "Join a session and run the game",
		usage:   "skirmish join <session-id> [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("join", pflag.ContinueOnError)
			flags.add(flagSet)
			flagSet.StringVar(&password, "password", "", "session password")
			return flagSet
		},
		run: func(args []string) error {
			id, err := sessionArgument(args)
			if err != nil {
				return err
			}
			return connected(&flags, func(ctx context.Context, a *app) error {
				target, err := a.awaitSession(ctx, id)
				if err != nil {
					return err
				}
				return a.launchAndWait(ctx, a.orchestrator.JoinGame(orchestrator.JoinRequest{
					Session:  target,
					Password: password,
				}))
			})
		},
	}
}

func matchmakeCommand() *command {
	var (
		flags       globalFlags
		featuredMod string
	)
	return &command{
		name:    "matchmake",
		summary: "Queue for a matchmaker game and run it",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("matchmake", pflag.ContinueOnError)
			flags.add(flagSet)
			flagSet.StringVar(&featuredMod, "mod", "ladder1v1", "matchmaker queue")
			return flagSet
		},
		run: func(args []string) error {
			return connected(&flags, func(ctx context.Context, a *app) error {
				future := a.orchestrator.StartMatchmaking(orchestrator.MatchmakeRequest{FeaturedMod: featuredMod})
				err := a.launchAndWait(ctx, future)
				if ctx.Err() != nil {
					a.orchestrator.StopMatchmaking()
				}
				return err
			})
		},
	}
}

func replayCommand() *command {
	var (
		flags       globalFlags
		featuredMod string
		sessionID   int
		mapName     string
	)
	return &command{
		name:    "replay",
		summary: "Play a replay file or a live replay stream",
		usage:   "skirmish replay <file-or-url> [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			flags.add(flagSet)
			flagSet.StringVar(&featuredMod, "mod", "faf", "featured mod the replay was recorded with")
			flagSet.IntVar(&sessionID, "session", 0, "session the replay belongs to (required)")
			flagSet.StringVar(&mapName, "map", "", "map the replay needs")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one replay source, got %d", len(args))
			}
			if sessionID <= 0 {
				return fmt.Errorf("--session is required")
			}
			request := orchestrator.ReplayRequest{Source: args[0], SessionID: sessionID, FeaturedMod: featuredMod}
			if mapName != "" {
				request.Map = &orchestrator.MapDescriptor{Name: mapName}
			}
			return connected(&flags, func(ctx context.Context, a *app) error {
				return a.launchAndWait(ctx, a.orchestrator.RunReplay(request))
			})
		},
	}
}

func versionCommand() *command {
	return &command{
		name:    "version",
		summary: "Print version information",
		run: func(args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}

func sessionArgument(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one session id, got %d arguments", len(args))
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", args[0])
	}
	return id, nil
}
