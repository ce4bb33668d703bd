// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxChannelLength = 32

// InGameChannel returns the chat channel players of a custom session
// share: "#" + title in capitalized words without delimiters + "[host]",
// truncated to 32 characters by shortening the title. A host too long
// to leave room for a title yields "#[host]".
func InGameChannel(host, title string) string {
	hostPart := "[" + host + "]"
	channel := "#" + compactTitle(title) + hostPart
	if utf8.RuneCountInString(channel) <= maxChannelLength {
		return channel
	}
	hostLength := utf8.RuneCountInString(hostPart)
	if hostLength >= maxChannelLength {
		return "#" + hostPart
	}
	prefix := []rune(channel)[:maxChannelLength-hostLength]
	return string(prefix) + hostPart
}

// compactTitle lowercases title, capitalizes the first letter after
// every space, comma or colon, and drops those delimiters.
func compactTitle(title string) string {
	var builder strings.Builder
	upper := true
	for _, r := range title {
		if r == ' ' || r == ',' || r == ':' {
			upper = true
			continue
		}
		if upper {
			builder.WriteRune(unicode.ToTitle(r))
			upper = false
		} else {
			builder.WriteRune(unicode.ToLower(r))
		}
	}
	return builder.String()
}

// InGameUserName is the chat nick the game uses for playerName.
func InGameUserName(playerName string) string {
	return strings.ReplaceAll(playerName, " ", "") + "[ingame]"
}

// chatURL is the in-game chat address handed to the game, or empty
// when chat integration is off.
func (o *Orchestrator) chatURL(player LocalPlayer, channel string) string {
	if !o.behavior().IRCIntegration || o.opts.IRCAddress == "" {
		return ""
	}
	return InGameUserName(player.Name) + "@" + o.opts.IRCAddress + "/" + channel
}
