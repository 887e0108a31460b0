// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package presence is the in-memory table of currently connected chat
// users: one session per live connection, plus process-wide connection
// counters. The registry is the single source of truth for "who is
// online and where"; it is constructed once at the composition root and
// injected into the hub, never accessed through package globals.
package presence

import (
	"sync"
	"time"

	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/metrics"
)

// RoomEvent tags an UpdateRoom call as a join or a leave.
type RoomEvent int

const (
	// RoomJoin sets the session's current room.
	RoomJoin RoomEvent = iota + 1
	// RoomLeave clears the session's current room.
	RoomLeave
)

// UserSession describes one live connection. Sessions are owned by the
// Registry; callers receive copies and reference sessions only by
// connection ID.
type UserSession struct {
	// ConnectionID is the opaque handle assigned at connect time.
	ConnectionID string
	// DisplayName is generated, unique among live sessions, immutable.
	DisplayName string
	// JoinedAt is when the connection was established.
	JoinedAt time.Time
	// CurrentRoom is empty when the user is not in a room.
	CurrentRoom string
}

// Registry tracks connected users and aggregate connection statistics.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*UserSession
	names    map[string]struct{}
	total    uint64
	namer    *NameGenerator
}

// NewRegistry returns an empty registry using the given name generator.
func NewRegistry(namer *NameGenerator) *Registry {
	return &Registry{
		sessions: make(map[string]*UserSession),
		names:    make(map[string]struct{}),
		namer:    namer,
	}
}

// Register creates a session for connID with a freshly generated unique
// display name, and bumps both the live gauge and the lifetime counter.
// Registering an already-known connection ID is a programming error on
// the transport side; the existing session is returned unchanged.
func (r *Registry) Register(connID string) UserSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[connID]; ok {
		logging.Warn().Str("connection_id", connID).Msg("duplicate register ignored")
		return *existing
	}

	name := r.namer.Generate(func(candidate string) bool {
		_, used := r.names[candidate]
		return used
	})

	session := &UserSession{
		ConnectionID: connID,
		DisplayName:  name,
		JoinedAt:     time.Now().UTC(),
	}
	r.sessions[connID] = session
	r.names[name] = struct{}{}
	r.total++

	metrics.ConnectionsCurrent.Inc()
	metrics.ConnectionsTotal.Inc()

	return *session
}

// Remove deletes the session for connID. Removing an unknown connection
// logs a warning and no-ops, so double-disconnect events are harmless.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[connID]
	if !ok {
		logging.Warn().Str("connection_id", connID).Msg("remove for unknown connection")
		return
	}

	delete(r.sessions, connID)
	delete(r.names, session.DisplayName)
	metrics.ConnectionsCurrent.Dec()
}

// Profile returns a copy of the session for connID, if registered.
func (r *Registry) Profile(connID string) (UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[connID]
	if !ok {
		return UserSession{}, false
	}
	return *session, true
}

// UpdateRoom sets or clears the session's current room. Unknown
// connections and invalid event tags are logged and ignored.
func (r *Registry) UpdateRoom(connID, roomName string, event RoomEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[connID]
	if !ok {
		logging.Warn().
			Str("connection_id", connID).
			Str("room", roomName).
			Msg("room update for unknown connection")
		return
	}

	switch event {
	case RoomJoin:
		session.CurrentRoom = roomName
	case RoomLeave:
		session.CurrentRoom = ""
	default:
		logging.Warn().
			Str("connection_id", connID).
			Int("event", int(event)).
			Msg("invalid room event tag")
	}
}

// ActiveUsersPerRoom returns the member count per room, derived by a
// full session scan. O(n) in connection count, which is fine at chat
// scale.
func (r *Registry) ActiveUsersPerRoom() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, session := range r.sessions {
		if session.CurrentRoom != "" {
			counts[session.CurrentRoom]++
		}
	}
	return counts
}

// CurrentConnections returns the live connection count.
func (r *Registry) CurrentConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// TotalConnectionsEver returns the monotonic lifetime connection count.
func (r *Registry) TotalConnectionsEver() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
