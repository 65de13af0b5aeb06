// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Socialmux is a console daemon that joins a Matrix room as one client
// and exchanges messages with the room's other clients through a
// [mux.Mux].
//
// Peers running socialmux get a WebRTC session, negotiated over the
// room, the first time either side sends. Peers on a plain Matrix client
// receive messages as room text instead.
//
// Configuration comes from the YAML file named by --config or
// SOCIALMUX_CONFIG. The Matrix password is read from SOCIALMUX_PASSWORD
// or prompted for on the terminal. Once logged in, the daemon reads
// commands from stdin ("help" lists them) and prints inbound messages
// until it receives "quit", end of input, SIGINT, or SIGTERM.
package main
