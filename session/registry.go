// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"maps"
	"slices"
	"sync"
)

// EventKind classifies a registry mutation.
type EventKind int

const (
	Added EventKind = iota
	Updated
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event describes one mutation. Session is the state after the
// mutation (for Removed, the last state before removal).
type Event struct {
	Kind    EventKind
	Session Session
}

// Change is the result of [Registry.Upsert].
type Change struct {
	Session Session

	// Created is true when the identifier was not known before.
	Created bool

	// Previous is the status before this snapshot was applied.
	// StatusUnknown when Created.
	Previous Status

	// PreviousNumPlayers is the player count before this snapshot.
	PreviousNumPlayers int
}

// RatingFunc returns a player's leaderboard rating for a rating type,
// and false when the player is unknown.
type RatingFunc func(player, ratingType string) (int, bool)

// Registry maps session identifiers to sessions. Safe for concurrent
// use.
type Registry struct {
	mu        sync.Mutex
	sessions  map[int]*Session
	passwords map[int]string
	rating    RatingFunc

	subscriberMu sync.Mutex
	subscribers  map[int]func(Event)
	nextID       int
}

// NewRegistry returns an empty registry. rating may be nil, in which
// case every session's AverageRating is 0.
func NewRegistry(rating RatingFunc) *Registry {
	return &Registry{
		sessions:    make(map[int]*Session),
		passwords:   make(map[int]string),
		rating:      rating,
		subscribers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn to receive every subsequent event. fn runs on
// the mutating goroutine and must not block or mutate the registry.
// The returned function removes the subscription and is idempotent.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subscriberMu.Lock()
	id := r.nextID
	r.nextID++
	r.subscribers[id] = fn
	r.subscriberMu.Unlock()

	return func() {
		r.subscriberMu.Lock()
		delete(r.subscribers, id)
		r.subscriberMu.Unlock()
	}
}

func (r *Registry) emit(events ...Event) {
	r.subscriberMu.Lock()
	ids := slices.Sorted(maps.Keys(r.subscribers))
	subscribers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subscribers = append(subscribers, r.subscribers[id])
	}
	r.subscriberMu.Unlock()

	for _, event := range events {
		for _, fn := range subscribers {
			fn(event)
		}
	}
}

// Upsert creates or overwrites the session named by snapshot.ID.
func (r *Registry) Upsert(snapshot Snapshot) Change {
	average := r.averageRating(snapshot)

	r.mu.Lock()
	stored, exists := r.sessions[snapshot.ID]
	change := Change{Created: !exists}
	if exists {
		change.Previous = stored.Status
		change.PreviousNumPlayers = stored.NumPlayers
	} else {
		stored = &Session{}
		r.sessions[snapshot.ID] = stored
	}
	stored.apply(snapshot)
	stored.AverageRating = average
	change.Session = r.readLocked(stored)
	r.mu.Unlock()

	kind := Updated
	if change.Created {
		kind = Added
	}
	r.emit(Event{Kind: kind, Session: change.Session})
	return change
}

// Remove deletes a session, returning its last state.
func (r *Registry) Remove(id int) (Session, bool) {
	r.mu.Lock()
	stored, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		return Session{}, false
	}
	removed := r.readLocked(stored)
	delete(r.sessions, id)
	delete(r.passwords, id)
	r.mu.Unlock()

	r.emit(Event{Kind: Removed, Session: removed})
	return removed, true
}

// Clear removes every session. Used when the server connection drops.
func (r *Registry) Clear() {
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(r.sessions))
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, Event{Kind: Removed, Session: r.readLocked(r.sessions[id])})
	}
	clear(r.sessions)
	clear(r.passwords)
	r.mu.Unlock()

	r.emit(events...)
}

// Get returns a copy of a session.
func (r *Registry) Get(id int) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, exists := r.sessions[id]
	if !exists {
		return Session{}, false
	}
	return r.readLocked(stored), true
}

// List returns copies of every session ordered by identifier.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := slices.Sorted(maps.Keys(r.sessions))
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, r.readLocked(r.sessions[id]))
	}
	return sessions
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Find returns the lowest-numbered session matching match.
func (r *Registry) Find(match func(Session) bool) (Session, bool) {
	for _, candidate := range r.List() {
		if match(candidate) {
			return candidate, true
		}
	}
	return Session{}, false
}

// SetPassword records the password the local player used for a
// session. It reports false when the session is unknown.
func (r *Registry) SetPassword(id int, password string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; !exists {
		return false
	}
	r.passwords[id] = password
	return true
}

// readLocked copies stored with the local password applied. Caller
// holds r.mu.
func (r *Registry) readLocked(stored *Session) Session {
	copied := stored.Clone()
	copied.Password = r.passwords[stored.ID]
	return copied
}

func (r *Registry) averageRating(snapshot Snapshot) float64 {
	if r.rating == nil {
		return 0
	}
	var sum, count int
	for _, players := range snapshot.Teams {
		for _, player := range players {
			if rating, known := r.rating(player, snapshot.RatingType); known {
				sum += rating
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}
