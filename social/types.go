// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package social

import (
	"context"
	"time"
)

// Status is a client's presence as reported by the provider.
type Status string

const (
	// StatusOnline means the client is connected and runs an
	// application that speaks the socialmux transport.
	StatusOnline Status = "ONLINE"

	// StatusOffline means the client is not connected.
	StatusOffline Status = "OFFLINE"

	// StatusOnlineWithOtherApp means the client is connected through an
	// application that only understands plain social messages.
	StatusOnlineWithOtherApp Status = "ONLINE_WITH_OTHER_APP"
)

// UserProfile describes one user on the social network. Each update
// replaces any previous profile for the same UserID.
type UserProfile struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name,omitempty"`
	URL         string    `json:"url,omitempty"`
	ImageData   string    `json:"image_data,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// ClientState describes one connected instance of a user. Each update
// replaces any previous state for the same ClientID.
type ClientState struct {
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
}

// Message is an inbound social message. From is the sender's client
// state as the provider saw it when the message arrived.
type Message struct {
	From ClientState `json:"from"`
	Text string      `json:"message"`
}

// LoginRequest carries the options for Provider.Login.
type LoginRequest struct {
	// Agent names the application logging in (e.g., "socialmux").
	Agent string

	// Version is the application version string.
	Version string

	// Interactive allows the provider to prompt the user.
	Interactive bool

	// RememberLogin asks the provider to cache credentials so a later
	// Login can reuse them. ClearCachedCredentials discards the cache.
	RememberLogin bool
}

// Provider is a social network connection. Handler registration methods
// may be called any number of times; every registered handler receives
// every event, in registration order. Events from one provider are
// delivered in arrival order on a single goroutine.
type Provider interface {
	// OnUserProfile registers a handler for user profile updates.
	OnUserProfile(handler func(UserProfile))

	// OnClientState registers a handler for client state updates.
	OnClientState(handler func(ClientState))

	// OnMessage registers a handler for inbound messages.
	OnMessage(handler func(Message))

	// Login connects to the network and returns the local client state.
	Login(ctx context.Context, request LoginRequest) (ClientState, error)

	// ClearCachedCredentials discards credentials saved by a previous
	// Login with RememberLogin set.
	ClearCachedCredentials(ctx context.Context) error

	// GetClients returns the last-known state of every client, keyed
	// by client ID.
	GetClients(ctx context.Context) (map[string]ClientState, error)

	// GetUsers returns the last-known profile of every user, keyed by
	// user ID.
	GetUsers(ctx context.Context) (map[string]UserProfile, error)

	// SendMessage delivers text to a single client.
	SendMessage(ctx context.Context, clientID, text string) error

	// Logout disconnects from the network.
	Logout(ctx context.Context) error

	// ErrorMessage returns the human-readable description of code.
	ErrorMessage(code ErrorCode) string
}
