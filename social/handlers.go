// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package social

import "sync"

// Handlers implements the handler-registration half of Provider.
// Provider implementations embed it and call the Emit methods from
// their event loop. The zero value is ready to use.
type Handlers struct {
	mu          sync.Mutex
	userProfile []func(UserProfile)
	clientState []func(ClientState)
	message     []func(Message)
}

// OnUserProfile registers handler for user profile updates.
func (h *Handlers) OnUserProfile(handler func(UserProfile)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userProfile = append(h.userProfile, handler)
}

// OnClientState registers handler for client state updates.
func (h *Handlers) OnClientState(handler func(ClientState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clientState = append(h.clientState, handler)
}

// OnMessage registers handler for inbound messages.
func (h *Handlers) OnMessage(handler func(Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.message = append(h.message, handler)
}

// EmitUserProfile calls every user profile handler in registration
// order. Handlers run without the lock held so they may register more
// handlers.
func (h *Handlers) EmitUserProfile(profile UserProfile) {
	h.mu.Lock()
	handlers := h.userProfile
	h.mu.Unlock()
	for _, handler := range handlers {
		handler(profile)
	}
}

// EmitClientState calls every client state handler in registration order.
func (h *Handlers) EmitClientState(state ClientState) {
	h.mu.Lock()
	handlers := h.clientState
	h.mu.Unlock()
	for _, handler := range handlers {
		handler(state)
	}
}

// EmitMessage calls every message handler in registration order.
func (h *Handlers) EmitMessage(message Message) {
	h.mu.Lock()
	handlers := h.message
	h.mu.Unlock()
	for _, handler := range handlers {
		handler(message)
	}
}
