// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the point-to-point data sessions that
// socialmux establishes between peers.
//
// [Transport] is the contract socialmux consumes: one instance per peer,
// configured by Setup with the peer's client ID and the identifier of a
// signaling channel (see package channel), then used to Send tagged
// binary payloads and to observe inbound data (OnData) and closure
// (OnClose). A [Factory] produces fresh instances.
//
// The production implementation, [WebRTCProvider], produces transports
// backed by pion/webrtc data channels with ICE/TURN for NAT traversal.
// Signaling is vanilla ICE: all candidates are gathered before the SDP
// is emitted, so establishment needs exactly one offer and one answer on
// the signaling channel. The first Send creates the offer; a transport
// that receives an offer answers it. When both peers offer at once, each
// offer carries a random tiebreaker and the larger one stays the offerer
// while the other side drops its own attempt and answers.
//
// Each session uses one ordered, reliable data channel. [DataChannelConn]
// turns the detached, message-oriented channel into a byte stream, and
// payloads travel over it as CBOR frames (tag, data). Payloads above a
// configurable size are zstd-compressed inside their frame.
//
// [ICEConfig] holds STUN/TURN server configuration; [ICEConfigFromServers]
// converts the configuration file's entries into pion ICE servers.
package transport
