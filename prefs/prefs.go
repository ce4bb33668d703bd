// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package prefs reads and writes the player's preferences file.
//
// The file is JSON with comments and trailing commas allowed. Fields
// missing from the file keep their defaults, so an empty or absent
// file is valid. The orchestrator only reads behavior toggles; the
// store itself persists executable paths the player chooses.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/skirmish/orchestrator"
)

// Preferences is the content of the preferences file.
type Preferences struct {
	// Executables maps a featured mod's technical name to the game
	// executable that runs it.
	Executables map[string]string `json:"executables,omitempty"`

	Behavior BehaviorPreferences `json:"behavior"`
}

// BehaviorPreferences are the player's toggles.
type BehaviorPreferences struct {
	AutoLaunchOnHost       bool `json:"auto_launch_on_host"`
	AutoLaunchOnJoin       bool `json:"auto_launch_on_join"`
	AutoJoin               bool `json:"auto_join"`
	AutoRehost             bool `json:"auto_rehost"`
	IRCIntegration         bool `json:"irc_integration"`
	AfterGameReview        bool `json:"after_game_review"`
	TransientNotifications bool `json:"transient_notifications"`
}

// Default returns the preferences of a fresh install.
func Default() Preferences {
	return Preferences{
		Behavior: BehaviorPreferences{
			AutoLaunchOnHost:       true,
			AutoLaunchOnJoin:       true,
			IRCIntegration:         true,
			AfterGameReview:        true,
			TransientNotifications: true,
		},
	}
}

// Parse decodes a preferences document over the defaults.
func Parse(data []byte) (Preferences, error) {
	prefs := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), &prefs); err != nil {
		return Preferences{}, fmt.Errorf("parsing preferences: %w", err)
	}
	return prefs, nil
}

const fileHeader = "// skirmish preferences. Comments are allowed but are not preserved\n// when the client saves a chosen executable.\n"

// Store is a preferences file loaded in memory. It implements the
// orchestrator's Preferences interface and the executable lookup of
// the launcher. Safe for concurrent use.
type Store struct {
	path string

	mu    sync.RWMutex
	prefs Preferences
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Store, error) {
	store := &Store{path: path, prefs: Default()}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	prefs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	store.prefs = prefs
	return store, nil
}

// Snapshot returns a copy of the current preferences.
func (s *Store) Snapshot() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.prefs
	snapshot.Executables = make(map[string]string, len(s.prefs.Executables))
	for mod, path := range s.prefs.Executables {
		snapshot.Executables[mod] = path
	}
	return snapshot
}

// Behavior returns the toggles the orchestrator reads.
func (s *Store) Behavior() orchestrator.Behavior {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.prefs.Behavior
	return orchestrator.Behavior{
		AutoLaunchOnHost:       b.AutoLaunchOnHost,
		AutoLaunchOnJoin:       b.AutoLaunchOnJoin,
		AutoJoin:               b.AutoJoin,
		AutoRehost:             b.AutoRehost,
		IRCIntegration:         b.IRCIntegration,
		AfterGameReview:        b.AfterGameReview,
		TransientNotifications: b.TransientNotifications,
	}
}

// Executable returns the configured executable of featuredMod.
func (s *Store) Executable(featuredMod string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.prefs.Executables[featuredMod]
	return path, ok && path != ""
}

// SetExecutable records path as the executable of featuredMod and
// saves the file. path must be an executable regular file.
func (s *Store) SetExecutable(featuredMod, path string) error {
	if err := CheckExecutable(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs.Executables == nil {
		s.prefs.Executables = make(map[string]string)
	}
	previous, had := s.prefs.Executables[featuredMod]
	s.prefs.Executables[featuredMod] = path
	if err := s.saveLocked(); err != nil {
		if had {
			s.prefs.Executables[featuredMod] = previous
		} else {
			delete(s.prefs.Executables, featuredMod)
		}
		return err
	}
	return nil
}

// CheckExecutable reports why path cannot run as a game, or nil.
func CheckExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("game executable: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("game executable %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("game executable %s is not executable", path)
	}
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating preferences directory: %w", err)
	}
	temporary := s.path + ".tmp"
	content := append([]byte(fileHeader), data...)
	content = append(content, '\n')
	if err := os.WriteFile(temporary, content, 0o644); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	if err := os.Rename(temporary, s.path); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("replacing preferences: %w", err)
	}
	return nil
}

// Prompt asks the player for the executable of a featured mod. It
// reports false when the player declines.
type Prompt func(ctx context.Context, featuredMod string) (string, bool)

// Chooser implements the orchestrator's ExecutableChooser: it asks
// through Prompt until the player gives a usable path or declines,
// and saves the answer.
type Chooser struct {
	Store  *Store
	Prompt Prompt
	Logger *slog.Logger
}

// ChooseExecutable blocks until the player answers.
func (c *Chooser) ChooseExecutable(ctx context.Context, featuredMod string) (string, bool) {
	for {
		path, ok := c.Prompt(ctx, featuredMod)
		if !ok || ctx.Err() != nil {
			return "", false
		}
		err := c.Store.SetExecutable(featuredMod, path)
		if err == nil {
			return path, true
		}
		if c.Logger != nil {
			c.Logger.Warn("rejected game executable", "featured_mod", featuredMod, "path", path, "error", err)
		}
	}
}
