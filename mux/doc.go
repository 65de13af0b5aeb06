// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mux multiplexes per-peer transport sessions over a single
// social messaging channel.
//
// A [Mux] sits between an application and two collaborators: a
// [social.Provider] (presence, profiles, and store-and-forward text
// messages) and a [transport.Factory] (point-to-point data sessions that
// need a signaling handshake before they carry data). For each remote
// client the Mux decides how to reach it:
//
//   - a client on another app gets plain text through the social
//     provider;
//   - a socialmux client gets a transport session, created on first use
//     and negotiated over a private signaling sub-channel whose messages
//     ride inside ordinary social messages.
//
// Sessions are created lazily, by an outbound send or by the first
// signal from a previously unseen peer, and torn down when their
// transport closes. Signals that arrive before a session's transport
// has finished Setup are buffered and replayed in arrival order.
//
// The pieces are exported so they can be tested and composed on their
// own: [Tracker] holds last-known client and user state, [Registry]
// owns sessions, [Router] carries signals between sessions and the
// social provider, and [Dispatcher] fans inbound data out to listeners.
package mux
