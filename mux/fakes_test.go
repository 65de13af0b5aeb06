// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"errors"
	"sync"

	"github.com/bureau-foundation/socialmux/channel"
	"github.com/bureau-foundation/socialmux/social"
	"github.com/bureau-foundation/socialmux/transport"
)

// sentText is one social.Provider.SendMessage call.
type sentText struct {
	clientID string
	text     string
}

// fakeSocial is a social.Provider driven directly by tests through the
// embedded Emit methods.
type fakeSocial struct {
	social.Handlers

	sent    chan sentText
	sendErr error

	mu      sync.Mutex
	calls   []string
	clients map[string]social.ClientState
}

var _ social.Provider = (*fakeSocial)(nil)

func newFakeSocial() *fakeSocial {
	return &fakeSocial{
		sent:    make(chan sentText, 64),
		clients: make(map[string]social.ClientState),
	}
}

func (f *fakeSocial) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSocial) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSocial) Login(_ context.Context, request social.LoginRequest) (social.ClientState, error) {
	f.record("login " + request.Agent)
	return social.ClientState{ClientID: "self", UserID: "me", Status: social.StatusOnline}, nil
}

func (f *fakeSocial) Logout(_ context.Context) error {
	f.record("logout")
	return nil
}

func (f *fakeSocial) ClearCachedCredentials(_ context.Context) error {
	f.record("clear")
	return nil
}

func (f *fakeSocial) GetClients(_ context.Context) (map[string]social.ClientState, error) {
	f.record("clients")
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]social.ClientState, len(f.clients))
	for id, state := range f.clients {
		result[id] = state
	}
	return result, nil
}

func (f *fakeSocial) GetUsers(_ context.Context) (map[string]social.UserProfile, error) {
	f.record("users")
	return map[string]social.UserProfile{"me": {UserID: "me"}}, nil
}

func (f *fakeSocial) SendMessage(_ context.Context, clientID, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent <- sentText{clientID: clientID, text: text}
	return nil
}

func (f *fakeSocial) ErrorMessage(code social.ErrorCode) string {
	return "fake: " + string(code)
}

// announce emits a client state, as a provider does on presence changes.
func (f *fakeSocial) announce(clientID string, status social.Status) social.ClientState {
	state := social.ClientState{ClientID: clientID, UserID: "user-" + clientID, Status: status}
	f.mu.Lock()
	f.clients[clientID] = state
	f.mu.Unlock()
	f.EmitClientState(state)
	return state
}

// sentFrame is one Transport.Send call.
type sentFrame struct {
	tag  string
	data []byte
}

// observedSignal is one inbound signal seen by a fakeTransport, with
// whether Setup had returned when it arrived.
type observedSignal struct {
	text       string
	afterSetup bool
}

// fakeTransport binds its signaling channel in Setup and records
// everything it is asked to do.
type fakeTransport struct {
	binder *channel.Runtime

	// setupGate, when non-nil, holds Setup after binding until closed.
	setupGate chan struct{}
	setupErr  error
	gateErr   error
	sendErr   error

	signals chan observedSignal
	sent    chan sentFrame

	mu            sync.Mutex
	peerID        string
	endpoint      *channel.Endpoint
	setupDone     bool
	gateWaiting   bool
	dataHandlers  []func(string, []byte)
	closeHandlers []func()
	closed        bool
}

var _ transport.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) OnData(handler func(string, []byte)) {
	f.mu.Lock()
	f.dataHandlers = append(f.dataHandlers, handler)
	f.mu.Unlock()
}

func (f *fakeTransport) OnClose(handler func()) {
	f.mu.Lock()
	f.closeHandlers = append(f.closeHandlers, handler)
	f.mu.Unlock()
}

func (f *fakeTransport) Setup(_ context.Context, peerID, channelIdentifier string) error {
	if f.setupErr != nil {
		return f.setupErr
	}
	endpoint, err := f.binder.Bind(channelIdentifier)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.peerID = peerID
	f.endpoint = endpoint
	f.mu.Unlock()

	endpoint.OnMessage(func(text string) {
		f.mu.Lock()
		afterSetup := f.setupDone
		f.mu.Unlock()
		f.signals <- observedSignal{text: text, afterSetup: afterSetup}
	})

	if f.setupGate != nil {
		f.mu.Lock()
		f.gateWaiting = true
		f.mu.Unlock()
		<-f.setupGate
		if f.gateErr != nil {
			return f.gateErr
		}
	}
	f.mu.Lock()
	f.setupDone = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(_ context.Context, tag string, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent <- sentFrame{tag: tag, data: data}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	handlers := f.closeHandlers
	f.mu.Unlock()
	for _, handler := range handlers {
		handler()
	}
	return nil
}

// waitingAtGate reports whether Setup has bound its channel and is
// blocked on setupGate.
func (f *fakeTransport) waitingAtGate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gateWaiting
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// deliver simulates a frame arriving from the peer.
func (f *fakeTransport) deliver(tag string, data []byte) {
	f.mu.Lock()
	handlers := f.dataHandlers
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(tag, data)
	}
}

// emitSignal simulates the transport producing a signal for its peer.
func (f *fakeTransport) emitSignal(text string) error {
	f.mu.Lock()
	endpoint := f.endpoint
	f.mu.Unlock()
	if endpoint == nil {
		return errors.New("fake transport: not set up")
	}
	return endpoint.Emit(text)
}

// fakeFactory creates fakeTransports and remembers each one.
type fakeFactory struct {
	binder *channel.Runtime

	// configure, when set, adjusts each transport before it is returned.
	configure func(*fakeTransport)
	err       error

	// block, when non-nil, holds New until closed. entered receives
	// once per call that reaches the block.
	block   chan struct{}
	entered chan struct{}

	created chan *fakeTransport

	mu    sync.Mutex
	count int
}

func newFakeFactory(binder *channel.Runtime) *fakeFactory {
	return &fakeFactory{
		binder:  binder,
		created: make(chan *fakeTransport, 64),
		entered: make(chan struct{}, 64),
	}
}

func (f *fakeFactory) New() (transport.Transport, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	created := &fakeTransport{
		binder:  f.binder,
		signals: make(chan observedSignal, 64),
		sent:    make(chan sentFrame, 64),
	}
	if f.configure != nil {
		f.configure(created)
	}
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	f.created <- created
	return created, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// gatedCreator holds every CreateChannel call until release is closed.
type gatedCreator struct {
	runtime *channel.Runtime
	release chan struct{}
}

func (g *gatedCreator) CreateChannel(ctx context.Context) (channel.Channel, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return channel.Channel{}, ctx.Err()
	}
	return g.runtime.CreateChannel(ctx)
}

// failingCreator fails CreateChannel until fail is cleared.
type failingCreator struct {
	runtime *channel.Runtime

	mu   sync.Mutex
	fail bool
}

func (f *failingCreator) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *failingCreator) CreateChannel(ctx context.Context) (channel.Channel, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return channel.Channel{}, errors.New("channel runtime unavailable")
	}
	return f.runtime.CreateChannel(ctx)
}
