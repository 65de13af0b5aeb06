// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package social defines the contract between socialmux and a social
// network provider: the presence, profile, and store-and-forward
// messaging service that every peer shares.
//
// A [Provider] reports three independent event streams (user profiles,
// client states, inbound messages) and exposes login, logout, roster
// queries, and a text-only SendMessage addressed by client identifier.
// A client identifier names one connected instance of a user; a user may
// have several clients at once.
//
// The status vocabulary ([Status]) and error vocabulary ([ErrorCode])
// belong to the provider. Errors surface as [*Error] carrying the code
// and the provider's human-readable message for it.
//
// Implementations live in subpackages: social/matrix talks to a Matrix
// homeserver, and social/memory connects providers in-process for tests
// and local loops.
package social
