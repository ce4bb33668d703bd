// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"encoding/json"
	"math"

	"github.com/bureau-foundation/skirmish/session"
)

// Server-to-client commands.
const (
	commandWelcome     = "welcome"
	commandGameInfo    = "game_info"
	commandPlayerInfo  = "player_info"
	commandUserOffline = "user_offline"
	commandGameLaunch  = "game_launch"
	commandSearchInfo  = "search_info"
	commandNotice      = "notice"
)

// Client-to-server commands.
const (
	commandHello       = "hello"
	commandGameHost    = "game_host"
	commandGameJoin    = "game_join"
	commandMatchmaking = "game_matchmaking"
	commandRestore     = "restore_game_session"
	commandGameState   = "game_state"
)

// envelope reads the command of any message.
type envelope struct {
	Command string `json:"command"`
}

type helloMessage struct {
	Command   string `json:"command"`
	Login     string `json:"login"`
	UserAgent string `json:"user_agent"`
}

type welcomeMessage struct {
	Me struct {
		ID    int    `json:"id"`
		Login string `json:"login"`
		Alias string `json:"alias"`
	} `json:"me"`
}

// gameInfoMessage carries either one snapshot inline or a batch in
// Games.
type gameInfoMessage struct {
	session.Snapshot
	Games []session.Snapshot `json:"games"`
}

func (m gameInfoMessage) snapshots() []session.Snapshot {
	if len(m.Games) > 0 {
		return m.Games
	}
	if m.ID == 0 {
		return nil
	}
	return []session.Snapshot{m.Snapshot}
}

type playerInfoMessage struct {
	Players []playerInfo `json:"players"`
}

type playerInfo struct {
	ID    int    `json:"id"`
	Login string `json:"login"`

	// Ratings maps a rating type to [mean, deviation].
	Ratings map[string]struct {
		Rating [2]float64 `json:"rating"`
	} `json:"ratings"`
}

// displayedRating is the conservative rating estimate shown to
// players: mean minus three deviations, rounded to the nearest 100
// below.
func displayedRating(mean, deviation float64) int {
	return int(math.Floor((mean-3*deviation)/100) * 100)
}

type userOfflineMessage struct {
	Login string `json:"login"`
}

type gameLaunchMessage struct {
	UID             int      `json:"uid"`
	Mod             string   `json:"mod"`
	Args            []string `json:"args"`
	MapName         string   `json:"mapname"`
	MapFilePath     string   `json:"map_file_path"`
	Team            int      `json:"team"`
	ExpectedPlayers int      `json:"expected_players"`
	MapPosition     int      `json:"map_position"`
}

type searchInfoMessage struct {
	State string `json:"state"`
}

type noticeMessage struct {
	Style string `json:"style"`
	Text  string `json:"text"`
}

type gameHostMessage struct {
	Command            string             `json:"command"`
	Title              string             `json:"title"`
	Password           string             `json:"password,omitempty"`
	Mod                string             `json:"mod"`
	MapName            string             `json:"mapname"`
	SimMods            []string           `json:"sim_mods,omitempty"`
	Visibility         session.Visibility `json:"visibility"`
	RatingMin          *int               `json:"rating_min,omitempty"`
	RatingMax          *int               `json:"rating_max,omitempty"`
	EnforceRatingRange bool               `json:"enforce_rating_range"`
}

type gameJoinMessage struct {
	Command  string `json:"command"`
	UID      int    `json:"uid"`
	Password string `json:"password,omitempty"`
}

type matchmakingMessage struct {
	Command string `json:"command"`
	State   string `json:"state"`
	Mod     string `json:"mod,omitempty"`
}

type restoreMessage struct {
	Command string `json:"command"`
	GameID  int    `json:"game_id"`
}

type gameStateMessage struct {
	Command string `json:"command"`
	State   string `json:"state"`
}

func decode[T any](data []byte) (T, error) {
	var message T
	err := json.Unmarshal(data, &message)
	return message, err
}
