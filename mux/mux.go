// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/socialmux/channel"
	"github.com/bureau-foundation/socialmux/lib/payload"
	"github.com/bureau-foundation/socialmux/social"
	"github.com/bureau-foundation/socialmux/transport"
)

// DefaultTag is the transport tag used when SendMessage is given none.
const DefaultTag = "data"

// Config configures a Mux.
type Config struct {
	Social     social.Provider
	Transports transport.Factory
	Channels   channel.Creator

	// Metrics is optional.
	Metrics *Metrics
	Logger  *slog.Logger
}

// Mux is the application-facing multiplexer. Safe for concurrent use.
type Mux struct {
	social     social.Provider
	tracker    *Tracker
	registry   *Registry
	router     *Router
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a Mux and subscribes it to the social provider's events.
// Subscribe before Login so the initial client states are seen.
func New(config Config) (*Mux, error) {
	if config.Social == nil {
		return nil, errors.New("mux: social provider is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mux{
		social:  config.Social,
		tracker: NewTracker(),
		metrics: config.Metrics,
		logger:  logger,
	}
	m.dispatcher = NewDispatcher(m.tracker, config.Metrics, logger)

	registry, err := NewRegistry(RegistryConfig{
		Transports: config.Transports,
		Channels:   config.Channels,
		OnData:     m.dispatcher.Dispatch,
		OnChannel: func(clientID string, endpoint *channel.Endpoint) {
			m.router.WireOutbound(clientID, endpoint)
		},
		Metrics: config.Metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	m.registry = registry
	m.router, err = NewRouter(RouterConfig{
		Social:     config.Social,
		Tracker:    m.tracker,
		Registry:   registry,
		Dispatcher: m.dispatcher,
		Metrics:    config.Metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	config.Social.OnUserProfile(m.tracker.OnUserProfile)
	config.Social.OnClientState(m.tracker.OnClientState)
	config.Social.OnMessage(m.router.HandleMessage)
	return m, nil
}

// OnMessage registers a listener for inbound application messages.
func (m *Mux) OnMessage(listener func(Message)) {
	m.dispatcher.Add(listener)
}

// OnUserProfile registers handler with the social provider.
func (m *Mux) OnUserProfile(handler func(social.UserProfile)) {
	m.social.OnUserProfile(handler)
}

// OnClientState registers handler with the social provider.
func (m *Mux) OnClientState(handler func(social.ClientState)) {
	m.social.OnClientState(handler)
}

// Login logs in to the social provider.
func (m *Mux) Login(ctx context.Context, request social.LoginRequest) (social.ClientState, error) {
	return m.social.Login(ctx, request)
}

// ClearCachedCredentials discards the social provider's saved login.
func (m *Mux) ClearCachedCredentials(ctx context.Context) error {
	return m.social.ClearCachedCredentials(ctx)
}

// GetClients returns the social provider's view of every client.
func (m *Mux) GetClients(ctx context.Context) (map[string]social.ClientState, error) {
	return m.social.GetClients(ctx)
}

// GetUsers returns the social provider's view of every user.
func (m *Mux) GetUsers(ctx context.Context) (map[string]social.UserProfile, error) {
	return m.social.GetUsers(ctx)
}

// Logout logs out of the social provider. Sessions stay open until
// their transports close.
func (m *Mux) Logout(ctx context.Context) error {
	return m.social.Logout(ctx)
}

// Close tears down every session.
func (m *Mux) Close() error {
	m.registry.Close()
	return nil
}

// Sessions returns the number of live sessions.
func (m *Mux) Sessions() int {
	return m.registry.Len()
}

// SendMessage sends value (a string or a []byte) to client to.
//
// A client on another app receives value as social text. Any other
// online client receives it over its transport session, created on
// first use, as a binary frame tagged with tag (DefaultTag when empty).
// Unknown clients fail with SEND_INVALIDDESTINATION, offline ones with
// OFFLINE, and values of any other type with MALFORMEDPARAMETERS, all
// as *social.Error. Errors from the social provider and the transport
// are returned as they are.
func (m *Mux) SendMessage(ctx context.Context, to, tag string, value any) error {
	state, ok := m.tracker.Client(to)
	if !ok {
		return social.NewError(m.social, social.ErrCodeSendInvalidDestination)
	}

	switch state.Status {
	case social.StatusOffline:
		return social.NewError(m.social, social.ErrCodeOffline)

	case social.StatusOnlineWithOtherApp:
		text, err := payload.ToText(value)
		if err != nil {
			return m.malformed(err)
		}
		if err := m.social.SendMessage(ctx, to, text); err != nil {
			return err
		}
		m.metrics.sent(routeSocial)
		return nil
	}

	session, err := m.registry.GetOrCreate(to)
	if err != nil {
		return err
	}
	data, err := payload.ToBinary(value)
	if err != nil {
		return m.malformed(err)
	}
	if tag == "" {
		tag = DefaultTag
	}
	if err := session.Send(ctx, tag, data); err != nil {
		return err
	}
	m.metrics.sent(routeTransport)
	return nil
}

func (m *Mux) malformed(err error) error {
	return fmt.Errorf("%w: %w", social.NewError(m.social, social.ErrCodeMalformedParameters), err)
}
