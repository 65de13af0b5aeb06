// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"
)

const (
	signalOffer  = "offer"
	signalAnswer = "answer"
)

// signal is a message on the signaling channel. Signals travel inside
// social-channel text, so they are JSON.
type signal struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`

	// Tiebreaker is set on offers. When both peers offer at once, the
	// offer with the larger tiebreaker wins.
	Tiebreaker uint64 `json:"tiebreaker,omitempty"`
}

func encodeSignal(s signal) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding %s signal: %w", s.Type, err)
	}
	return string(data), nil
}

func decodeSignal(text string) (signal, error) {
	var s signal
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return signal{}, fmt.Errorf("decoding signal: %w", err)
	}
	switch s.Type {
	case signalOffer, signalAnswer:
	default:
		return signal{}, fmt.Errorf("unknown signal type %q", s.Type)
	}
	if s.SDP == "" {
		return signal{}, fmt.Errorf("%s signal has no SDP", s.Type)
	}
	return s, nil
}

// winsGlare reports whether a local offer with tiebreaker local should
// stand against a remote offer. Equal tiebreakers fall back to comparing
// the SDP text so that exactly one side wins.
func winsGlare(local uint64, localSDP string, remote signal) bool {
	if local != remote.Tiebreaker {
		return local > remote.Tiebreaker
	}
	return localSDP > remote.SDP
}
