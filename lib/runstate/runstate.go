// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runstate records which game session has a live local process.
//
// The orchestrator writes the file when it spawns a game and clears it
// when the termination watcher reports exit. A client that starts and
// finds the file still present either crashed while a game was running
// or was killed; [File.Orphan] tells the two cases apart by probing
// the recorded PID.
//
// The file is CBOR (see lib/codec) and is written atomically: write to
// a temporary file, fsync, rename. Readers never see a partial state.
package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/skirmish/lib/codec"
)

// State describes the running game.
type State struct {
	SessionID   int       `cbor:"session_id"`
	PID         int       `cbor:"pid"`
	FeaturedMod string    `cbor:"featured_mod"`
	StartedAt   time.Time `cbor:"started_at"`
}

// File is a run-state file at a fixed path. The zero value is not
// usable; construct with [New].
type File struct {
	path string
}

// New returns a File stored at stateDirectory/running.cbor.
func New(stateDirectory string) *File {
	return &File{path: filepath.Join(stateDirectory, "running.cbor")}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Save atomically replaces the file with state. The parent directory
// must already exist.
func (f *File) Save(state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling run state: %w", err)
	}

	temporaryPath := f.path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary run-state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary run-state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary run-state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary run-state file: %w", err)
	}

	if err := os.Rename(temporaryPath, f.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming run-state file into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(f.path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Load reads the file. When it does not exist the error wraps
// os.ErrNotExist.
func (f *File) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing run-state file %s: %w", f.path, err)
	}
	return state, nil
}

// Clear removes the file. Idempotent.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing run-state file: %w", err)
	}
	return nil
}

// Orphan reports a game left running by a previous client instance.
// It returns the recorded state and true when the file exists and its
// PID still names a live process. A file whose process is gone is
// stale and gets removed.
func (f *File) Orphan() (State, bool, error) {
	state, err := f.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}

	if state.PID > 0 && processAlive(state.PID) {
		return state, true, nil
	}
	if err := f.Clear(); err != nil {
		return State{}, false, err
	}
	return State{}, false, nil
}

// processAlive probes pid with signal 0. EPERM means the process
// exists but belongs to someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
