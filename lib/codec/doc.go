// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides socialmux's standard CBOR configuration.
//
// socialmux uses two serialization formats with a clear boundary:
//
//   - JSON for anything that travels over the social network: Matrix
//     client-server API bodies and the signaling messages carried inside
//     social messages, which must survive as text.
//   - CBOR for binary paths: the tagged frames exchanged over a transport
//     session's data channel, and the on-disk credential cache.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical value always produces identical bytes.
//
// For buffer-oriented use (files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented use (data channels):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types serialized only as CBOR use `cbor` struct tags. Types that are
// also JSON use `json` tags alone; fxamacker/cbor reads them as a
// fallback. Never put both tags on one field.
package codec
