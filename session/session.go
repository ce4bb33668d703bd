// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"html"
	"maps"
	"slices"
	"strings"
	"time"
)

// Session is one game instance as known to the server. Values
// returned by the registry are copies; mutating one has no effect on
// the registry.
type Session struct {
	ID          int
	Host        string
	Title       string
	MapName     string
	MapArchive  string
	MapChecksum string
	FeaturedMod string
	NumPlayers  int
	MaxPlayers  int
	Status      Status
	Kind        Kind
	RatingType  string

	// Teams maps team identifier to ordered player names.
	Teams map[string][]string

	// SimMods maps mod identifier to display name.
	SimMods map[string]string

	PasswordProtected bool
	MinRating         *int
	MaxRating         *int
	EnforceRating     bool
	StartTime         time.Time

	// AverageRating is the mean leaderboard rating of the listed
	// players, 0 when none are known.
	AverageRating float64

	// Password is set locally when the player joins with one. The
	// server never sends it.
	Password string
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	clone := s
	if s.Teams != nil {
		clone.Teams = make(map[string][]string, len(s.Teams))
		for team, players := range s.Teams {
			clone.Teams[team] = slices.Clone(players)
		}
	}
	clone.SimMods = maps.Clone(s.SimMods)
	clone.MinRating = cloneInt(s.MinRating)
	clone.MaxRating = cloneInt(s.MaxRating)
	return clone
}

// HasPlayer reports whether name is listed on any team.
func (s Session) HasPlayer(name string) bool {
	for _, players := range s.Teams {
		if slices.Contains(players, name) {
			return true
		}
	}
	return false
}

// Players returns every listed player, ordered by team identifier.
func (s Session) Players() []string {
	teams := slices.Sorted(maps.Keys(s.Teams))
	var players []string
	for _, team := range teams {
		players = append(players, s.Teams[team]...)
	}
	return players
}

// Snapshot is the server's description of a session. Snapshots are
// applied whole: every field overwrites the stored value.
type Snapshot struct {
	ID                int                 `json:"uid"`
	Host              string              `json:"host"`
	Title             string              `json:"title"`
	MapName           string              `json:"mapname"`
	MapFilePath       string              `json:"map_file_path"`
	FeaturedMod       string              `json:"featured_mod"`
	NumPlayers        int                 `json:"num_players"`
	MaxPlayers        int                 `json:"max_players"`
	Status            Status              `json:"state"`
	Kind              Kind                `json:"game_type"`
	RatingType        string              `json:"rating_type"`
	Teams             map[string][]string `json:"teams"`
	SimMods           map[string]string   `json:"sim_mods"`
	PasswordProtected bool                `json:"password_protected"`
	RatingMin         *int                `json:"rating_min"`
	RatingMax         *int                `json:"rating_max"`
	EnforceRating     bool                `json:"enforce_rating_range"`

	// LaunchedAt is seconds since the Unix epoch.
	LaunchedAt *float64 `json:"launched_at"`
}

// apply overwrites every server-owned field of s from snapshot.
func (s *Session) apply(snapshot Snapshot) {
	s.ID = snapshot.ID
	s.Host = snapshot.Host
	s.Title = html.UnescapeString(snapshot.Title)
	s.MapName = snapshot.MapName
	s.FeaturedMod = snapshot.FeaturedMod
	s.NumPlayers = snapshot.NumPlayers
	s.MaxPlayers = snapshot.MaxPlayers
	if snapshot.LaunchedAt != nil {
		s.StartTime = time.Unix(int64(*snapshot.LaunchedAt), 0).UTC()
	}
	s.Status = snapshot.Status
	s.PasswordProtected = snapshot.PasswordProtected
	s.Kind = snapshot.Kind
	s.RatingType = snapshot.RatingType

	if archive, _, checksum, ok := ParseMapPath(snapshot.MapFilePath); ok {
		s.MapArchive = archive
		s.MapChecksum = checksum
	}

	s.SimMods = maps.Clone(snapshot.SimMods)
	if s.SimMods == nil {
		s.SimMods = map[string]string{}
	}
	s.Teams = make(map[string][]string, len(snapshot.Teams))
	for team, players := range snapshot.Teams {
		s.Teams[team] = slices.Clone(players)
	}

	s.MinRating = cloneInt(snapshot.RatingMin)
	s.MaxRating = cloneInt(snapshot.RatingMax)
	s.EnforceRating = snapshot.EnforceRating
}

// ParseMapPath splits a server map path of the form
// archive/name/checksum. Paths with fewer segments report false.
func ParseMapPath(path string) (archive, name, checksum string, ok bool) {
	segments := strings.Split(path, "/")
	if len(segments) < 3 {
		return "", "", "", false
	}
	return segments[0], segments[1], segments[2], true
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
