// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/socialmux/social"
)

func TestDispatcher_OrderAndIsolation(t *testing.T) {
	tracker := NewTracker()
	bob := social.ClientState{ClientID: "bob-phone", UserID: "bob", Status: social.StatusOnline}
	tracker.OnClientState(bob)
	metrics := NewMetrics(prometheus.NewRegistry())
	dispatcher := NewDispatcher(tracker, metrics, discardLogger())

	var calls []string
	dispatcher.Add(func(message Message) { calls = append(calls, "first "+string(message.Data)) })
	dispatcher.Add(func(Message) { panic("listener bug") })
	dispatcher.Add(func(message Message) {
		calls = append(calls, "third "+string(message.Data))
		if message.From != bob || message.Tag != "chat" {
			t.Errorf("message = %+v", message)
		}
	})

	dispatcher.Dispatch("bob-phone", "chat", []byte("one"))
	dispatcher.Dispatch("bob-phone", "chat", []byte("two"))

	want := []string{"first one", "third one", "first two", "third two"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for index := range want {
		if calls[index] != want[index] {
			t.Errorf("call %d = %q, want %q", index, calls[index], want[index])
		}
	}
	if got := promtestutil.ToFloat64(metrics.listenerPanics); got != 2 {
		t.Errorf("listener panics recorded = %v, want 2", got)
	}
	if got := promtestutil.ToFloat64(metrics.messagesReceived); got != 2 {
		t.Errorf("messages received recorded = %v, want 2", got)
	}
}

func TestDispatcher_UnknownSender(t *testing.T) {
	dispatcher := NewDispatcher(NewTracker(), nil, discardLogger())
	var got Message
	dispatcher.Add(func(message Message) { got = message })

	dispatcher.Dispatch("stranger", "data", []byte{1})
	if got.From.ClientID != "stranger" || got.From.Status != "" {
		t.Errorf("From = %+v, want only the client ID", got.From)
	}
}
