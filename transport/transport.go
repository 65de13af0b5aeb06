// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Transport is a data session with a single peer.
//
// Implementations deliver OnData and OnClose callbacks from their own
// goroutines. OnClose handlers run at most once. After Close (or after
// the session fails), Send returns an error wrapping net.ErrClosed.
type Transport interface {
	// OnData registers a handler for payloads received from the peer.
	OnData(handler func(tag string, data []byte))

	// OnClose registers a handler called once when the session ends,
	// whether closed locally, by the peer, or by a network failure.
	OnClose(handler func())

	// Setup binds the transport to the peer and to the signaling
	// channel named by channelIdentifier. Must be called exactly once,
	// before any signaling traffic reaches the channel.
	Setup(ctx context.Context, peerID, channelIdentifier string) error

	// Send delivers a tagged payload to the peer, establishing the
	// session first if needed. Blocks until the payload is written or
	// ctx ends. Send may be called before Setup; it waits for Setup.
	Send(ctx context.Context, tag string, data []byte) error

	// Close ends the session. Idempotent.
	Close() error
}

// Factory creates a new, un-setup Transport.
type Factory func() (Transport, error)
