// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix implements social.Provider on a Matrix homeserver.
//
// Every socialmux client joins one shared room. A client is identified
// by "<user ID>/<device ID>" and announces itself with an
// m.socialmux.client state event whose state key is that client ID and
// whose content carries its status. Signaling text between socialmux
// clients travels as m.socialmux.message timeline events addressed to a
// target client ID.
//
// Room members that are not running socialmux appear through Matrix
// presence: an online (or idle) member becomes a client whose ID is the
// bare user ID with status ONLINE_WITH_OTHER_APP. Text sent to such a
// client is an m.room.message that mentions the user, and m.room.message
// events mentioning the local user arrive as social messages.
//
// Login uses the password flow. With LoginRequest.RememberLogin set, the
// access token is cached in a CBOR file and reused on the next Login;
// ClearCachedCredentials deletes the file. After login the provider runs
// a /sync long-poll loop until Logout, emitting profile, client state,
// and message events on that loop's goroutine.
//
// [Client] is the underlying Client-Server API client. Errors from the
// homeserver are *[MatrixError]; use [IsMatrixError] to test codes.
package matrix
