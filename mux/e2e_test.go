// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/socialmux/channel"
	"github.com/bureau-foundation/socialmux/lib/payload"
	"github.com/bureau-foundation/socialmux/lib/testutil"
	"github.com/bureau-foundation/socialmux/social"
	"github.com/bureau-foundation/socialmux/social/memory"
	"github.com/bureau-foundation/socialmux/transport"
)

const connectTimeout = 30 * time.Second

type peer struct {
	provider *memory.Provider
	mux      *Mux
	messages chan Message
	states   chan social.ClientState
}

// newPeer wires a Mux to an in-memory social network and real WebRTC
// transports, the way the daemon wires it to Matrix.
func newPeer(t *testing.T, network *memory.Network, clientID string, status social.Status) *peer {
	t.Helper()
	logger := discardLogger().With("client", clientID)
	provider := network.NewProvider(clientID, social.UserProfile{UserID: "user-" + clientID}, status)
	runtime := channel.NewRuntime(logger)
	webrtc := transport.NewWebRTCProvider(transport.WebRTCConfig{
		Channels:          runtime,
		CompressThreshold: 1024,
		Logger:            logger,
	})

	m, err := New(Config{
		Social:     provider,
		Transports: webrtc.NewTransport,
		Channels:   runtime,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := &peer{
		provider: provider,
		mux:      m,
		messages: make(chan Message, 16),
		states:   make(chan social.ClientState, 16),
	}
	m.OnMessage(func(message Message) { p.messages <- message })
	m.OnClientState(func(state social.ClientState) { p.states <- state })
	t.Cleanup(func() {
		m.Close()
		provider.Logout(context.Background())
	})
	return p
}

func (p *peer) login(t *testing.T) {
	t.Helper()
	if _, err := p.mux.Login(context.Background(), social.LoginRequest{Agent: "socialmux"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

// awaitClient waits until p has seen clientID with status.
func (p *peer) awaitClient(t *testing.T, clientID string, status social.Status) {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case state := <-p.states:
			if state.ClientID == clientID && state.Status == status {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to be %s", clientID, status)
		}
	}
}

func TestEndToEnd_TransportSession(t *testing.T) {
	network := memory.NewNetwork()
	alice := newPeer(t, network, "alice-laptop", social.StatusOnline)
	bob := newPeer(t, network, "bob-desktop", social.StatusOnline)
	alice.login(t)
	bob.login(t)
	alice.awaitClient(t, "bob-desktop", social.StatusOnline)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := alice.mux.SendMessage(ctx, "bob-desktop", "", "hello bob"); err != nil {
		t.Fatalf("alice SendMessage: %v", err)
	}
	message := testutil.RequireReceive(t, bob.messages, connectTimeout, "bob receives")
	want, _ := payload.ToBinary("hello bob")
	if message.Tag != DefaultTag || !bytes.Equal(message.Data, want) {
		t.Errorf("bob received %q %x", message.Tag, message.Data)
	}
	if message.From.ClientID != "alice-laptop" || message.From.Status != social.StatusOnline {
		t.Errorf("bob received from %+v", message.From)
	}
	text, err := payload.ToText(message.Data)
	if err != nil || text != "hello bob" {
		t.Errorf("decoded %q, %v", text, err)
	}

	// Bob's session was signaled into existence; replying reuses it.
	if bob.mux.Sessions() != 1 {
		t.Errorf("bob has %d sessions, want 1", bob.mux.Sessions())
	}
	large := bytes.Repeat([]byte{0x42, 0x00}, 64<<10)
	if err := bob.mux.SendMessage(ctx, "alice-laptop", "bulk", large); err != nil {
		t.Fatalf("bob SendMessage: %v", err)
	}
	reply := testutil.RequireReceive(t, alice.messages, connectTimeout, "alice receives")
	if reply.Tag != "bulk" || !bytes.Equal(reply.Data, large) {
		t.Errorf("alice received %q with %d bytes", reply.Tag, len(reply.Data))
	}
	if alice.mux.Sessions() != 1 || bob.mux.Sessions() != 1 {
		t.Errorf("sessions = %d/%d, want 1/1", alice.mux.Sessions(), bob.mux.Sessions())
	}
}

func TestEndToEnd_OtherAppFallback(t *testing.T) {
	network := memory.NewNetwork()
	alice := newPeer(t, network, "alice-laptop", social.StatusOnline)
	// Carol runs a plain social client with no multiplexer.
	carol := network.NewProvider("carol-phone", social.UserProfile{UserID: "carol"}, social.StatusOnlineWithOtherApp)
	received := make(chan social.Message, 1)
	carol.OnMessage(func(message social.Message) { received <- message })

	alice.login(t)
	if _, err := carol.Login(context.Background(), social.LoginRequest{}); err != nil {
		t.Fatalf("carol Login: %v", err)
	}
	t.Cleanup(func() { carol.Logout(context.Background()) })
	alice.awaitClient(t, "carol-phone", social.StatusOnlineWithOtherApp)

	if err := alice.mux.SendMessage(context.Background(), "carol-phone", "", "plain text"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	message := testutil.RequireReceive(t, received, eventTimeout, "carol receives")
	if message.Text != "plain text" || message.From.ClientID != "alice-laptop" {
		t.Errorf("carol received %+v", message)
	}
	if alice.mux.Sessions() != 0 {
		t.Errorf("alice opened %d sessions for an other-app client", alice.mux.Sessions())
	}
}
