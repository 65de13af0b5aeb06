// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-process social network. Providers
// attached to the same Network see each other's presence and exchange
// messages without any server. Tests use it to drive socialmux end to
// end; it also backs single-process loops where every peer lives in one
// binary.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/socialmux/lib/eventqueue"
	"github.com/bureau-foundation/socialmux/social"
)

// Compile-time interface check.
var _ social.Provider = (*Provider)(nil)

// Network connects Providers. The zero value is not usable; call
// NewNetwork.
type Network struct {
	mu        sync.Mutex
	providers map[string]*Provider // key: client ID
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{providers: make(map[string]*Provider)}
}

// NewProvider attaches a client to the network. status is what other
// clients see while this one is logged in: StatusOnline for a client
// that speaks the socialmux transport, StatusOnlineWithOtherApp for a
// plain social client. The profile is announced on Login.
func (n *Network) NewProvider(clientID string, profile social.UserProfile, status social.Status) *Provider {
	provider := &Provider{
		network:  n,
		clientID: clientID,
		profile:  profile,
		status:   status,
		clients:  make(map[string]social.ClientState),
		users:    make(map[string]social.UserProfile),
	}

	n.mu.Lock()
	n.providers[clientID] = provider
	n.mu.Unlock()
	return provider
}

// online returns every logged-in provider except exclude.
func (n *Network) online(exclude *Provider) []*Provider {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []*Provider
	for _, provider := range n.providers {
		if provider != exclude && provider.isOnline() {
			result = append(result, provider)
		}
	}
	return result
}

func (n *Network) lookup(clientID string) (*Provider, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	provider, ok := n.providers[clientID]
	return provider, ok
}

// Provider is one client on a Network.
type Provider struct {
	social.Handlers

	network  *Network
	clientID string
	profile  social.UserProfile
	status   social.Status

	mu      sync.Mutex
	events  *eventqueue.Queue // nil while logged out
	clients map[string]social.ClientState
	users   map[string]social.UserProfile
}

// ClientID returns the identifier other providers use to address this one.
func (p *Provider) ClientID() string {
	return p.clientID
}

func (p *Provider) isOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events != nil
}

func (p *Provider) state(status social.Status) social.ClientState {
	return social.ClientState{
		ClientID:    p.clientID,
		UserID:      p.profile.UserID,
		Status:      status,
		LastUpdated: time.Now().UTC(),
	}
}

// Login marks the client online, announces it to every other online
// client, and replays their state to this one.
func (p *Provider) Login(_ context.Context, _ social.LoginRequest) (social.ClientState, error) {
	p.mu.Lock()
	if p.events != nil {
		p.mu.Unlock()
		return social.ClientState{}, social.NewError(p, social.ErrCodeLoginAlreadyOnline)
	}
	p.events = eventqueue.New()
	p.mu.Unlock()

	self := p.state(p.status)
	profile := p.profile
	profile.LastUpdated = self.LastUpdated

	p.deliverProfile(profile)
	p.deliverState(self)

	for _, other := range p.network.online(p) {
		other.deliverProfile(profile)
		other.deliverState(self)

		otherProfile := other.profile
		otherProfile.LastUpdated = self.LastUpdated
		p.deliverProfile(otherProfile)
		p.deliverState(other.state(other.status))
	}
	return self, nil
}

// Logout announces the client as offline and stops its event delivery.
func (p *Provider) Logout(_ context.Context) error {
	p.mu.Lock()
	events := p.events
	p.events = nil
	p.mu.Unlock()
	if events == nil {
		return social.NewError(p, social.ErrCodeOffline)
	}
	events.Close()

	offline := p.state(social.StatusOffline)
	for _, other := range p.network.online(p) {
		other.deliverState(offline)
	}
	return nil
}

// ClearCachedCredentials is a no-op: the memory network has no
// credentials.
func (p *Provider) ClearCachedCredentials(_ context.Context) error {
	return nil
}

// GetClients returns the client states this provider has observed.
func (p *Provider) GetClients(_ context.Context) (map[string]social.ClientState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make(map[string]social.ClientState, len(p.clients))
	for id, state := range p.clients {
		result[id] = state
	}
	return result, nil
}

// GetUsers returns the user profiles this provider has observed.
func (p *Provider) GetUsers(_ context.Context) (map[string]social.UserProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make(map[string]social.UserProfile, len(p.users))
	for id, profile := range p.users {
		result[id] = profile
	}
	return result, nil
}

// SendMessage queues text for delivery to the target client.
func (p *Provider) SendMessage(_ context.Context, clientID, text string) error {
	if !p.isOnline() {
		return social.NewError(p, social.ErrCodeOffline)
	}
	target, ok := p.network.lookup(clientID)
	if !ok {
		return social.NewError(p, social.ErrCodeSendInvalidDestination)
	}
	if !target.isOnline() {
		return social.NewError(p, social.ErrCodeOffline)
	}
	message := social.Message{From: p.state(p.status), Text: text}
	if !target.post(func() { target.EmitMessage(message) }) {
		return fmt.Errorf("memory: client %s went offline during delivery: %w",
			clientID, social.NewError(p, social.ErrCodeOffline))
	}
	return nil
}

// ErrorMessage returns the standard description of code.
func (p *Provider) ErrorMessage(code social.ErrorCode) string {
	return social.DefaultErrorMessage(code)
}

func (p *Provider) deliverState(state social.ClientState) {
	p.post(func() {
		p.mu.Lock()
		p.clients[state.ClientID] = state
		p.mu.Unlock()
		p.EmitClientState(state)
	})
}

func (p *Provider) deliverProfile(profile social.UserProfile) {
	p.post(func() {
		p.mu.Lock()
		p.users[profile.UserID] = profile
		p.mu.Unlock()
		p.EmitUserProfile(profile)
	})
}

func (p *Provider) post(callback func()) bool {
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events == nil {
		return false
	}
	return events.Post(callback)
}
