// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network I/O helpers shared by the Matrix
// client and the data channel transport.
//
// ReadResponse bounds homeserver response reads so a misbehaving server
// cannot exhaust memory. IsExpectedCloseError separates normal stream
// teardown from failures worth logging.
package netutil

import "io"

// MaxResponseSize bounds a homeserver JSON response body. /sync responses
// for a busy room are the largest legitimate responses and stay far below
// this.
const MaxResponseSize int64 = 32 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes. Use
// instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
