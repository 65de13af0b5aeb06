// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload converts application payloads between their text and
// binary representations.
//
// Text travels over the social channel; binary travels over transport
// sessions. The binary form is fixed-width: every UTF-16 code unit of
// the text occupies one 2-byte little-endian cell. Converting valid UTF-8
// text to binary and back is lossless:
//
//	data, err := payload.ToBinary("hello")   // 10 bytes
//	text, err := payload.ToText(data)        // "hello"
//
// Binary to text is not: a cell holding an unpaired surrogate decodes
// to U+FFFD.
//
// Both functions accept either a string or a []byte and return the input
// unchanged when it is already in the requested representation. Any
// other input type fails with [ErrMalformedPayload].
package payload
