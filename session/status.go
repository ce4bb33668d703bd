// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// Status is the lifecycle stage of a session.
type Status int

const (
	StatusUnknown Status = iota
	// StatusStaging: the host is configuring the lobby.
	StatusStaging
	// StatusBattleroom: players are in the pre-game lobby.
	StatusBattleroom
	// StatusSpawning: the game has been launched but is not yet
	// confirmed running.
	StatusSpawning
	// StatusLive: the match is being played.
	StatusLive
	// StatusEnded: the match is over. Sessions in this state are
	// removed from the registry.
	StatusEnded
)

var statusNames = [...]string{
	StatusUnknown:    "unknown",
	StatusStaging:    "staging",
	StatusBattleroom: "battleroom",
	StatusSpawning:   "spawning",
	StatusLive:       "live",
	StatusEnded:      "ended",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// IsOpen reports whether players can still join.
func (s Status) IsOpen() bool {
	return s == StatusStaging || s == StatusBattleroom
}

// IsInProgress reports whether the game has been launched.
func (s Status) IsInProgress() bool {
	return s == StatusSpawning || s == StatusLive
}

// ParseStatus maps a wire name to a Status. Unrecognized names map to
// StatusUnknown.
func ParseStatus(name string) Status {
	for status, statusName := range statusNames {
		if statusName == name {
			return Status(status)
		}
	}
	return StatusUnknown
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	*s = ParseStatus(string(text))
	return nil
}

// Kind distinguishes lobby-hosted sessions from matchmaker sessions.
type Kind int

const (
	KindCustom Kind = iota
	KindMatchmaker
)

func (k Kind) String() string {
	if k == KindMatchmaker {
		return "matchmaker"
	}
	return "custom"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "matchmaker":
		*k = KindMatchmaker
	case "custom", "":
		*k = KindCustom
	default:
		return fmt.Errorf("unknown session kind %q", text)
	}
	return nil
}

// Visibility controls who may see a hosted session.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityFriends Visibility = "friends"
)
