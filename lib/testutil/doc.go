// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for socialmux packages.
//
// [RequireReceive], [RequireClosed], and [RequireNoReceive] wrap the
// select-with-timeout pattern used when a test waits on an event that
// arrives from another goroutine (a provider event loop, a signaling
// pump, a WebRTC callback). Tests never sleep to wait for an event;
// they block on a channel with a bounded timeout instead.
//
// All helpers call t.Fatalf on failure rather than returning errors.
//
// This package has no socialmux-internal dependencies.
package testutil
