// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel provides the in-process message channels that carry
// transport signaling between socialmux and a transport instance.
//
// [Runtime.CreateChannel] allocates a channel and returns its
// [Channel.Identifier] together with one [Endpoint]. The identifier is
// handed to another component (a transport), which calls
// [Runtime.Bind] to obtain the opposite endpoint. Text emitted on one
// endpoint is delivered to the handlers of the other, in emission
// order, on the receiving endpoint's own goroutine. Messages that
// arrive before the receiver registers a handler are held and
// delivered, still in order, once the first handler is registered.
//
// Closing either endpoint closes both and releases the identifier.
package channel
