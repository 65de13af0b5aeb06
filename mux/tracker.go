// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"sync"

	"github.com/bureau-foundation/socialmux/social"
)

// Tracker holds the most recent profile of each user and state of each
// client. Every update replaces the previous value wholesale. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	clients map[string]social.ClientState
	users   map[string]social.UserProfile
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		clients: make(map[string]social.ClientState),
		users:   make(map[string]social.UserProfile),
	}
}

// OnUserProfile records profile, keyed by user ID.
func (t *Tracker) OnUserProfile(profile social.UserProfile) {
	t.mu.Lock()
	t.users[profile.UserID] = profile
	t.mu.Unlock()
}

// OnClientState records state, keyed by client ID.
func (t *Tracker) OnClientState(state social.ClientState) {
	t.mu.Lock()
	t.clients[state.ClientID] = state
	t.mu.Unlock()
}

// Client returns the last-known state of clientID.
func (t *Tracker) Client(clientID string) (social.ClientState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.clients[clientID]
	return state, ok
}

// User returns the last-known profile of userID.
func (t *Tracker) User(userID string) (social.UserProfile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	profile, ok := t.users[userID]
	return profile, ok
}
