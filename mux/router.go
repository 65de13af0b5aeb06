// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/socialmux/channel"
	"github.com/bureau-foundation/socialmux/lib/payload"
	"github.com/bureau-foundation/socialmux/social"
)

// signalSendTimeout bounds one outbound signal through the social
// provider.
const signalSendTimeout = 30 * time.Second

// TextTag is the tag on messages that arrive as plain social text from
// clients on another app.
const TextTag = "text"

// Router carries signaling traffic between sessions and the social
// provider.
type Router struct {
	social     social.Provider
	tracker    *Tracker
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Social     social.Provider
	Tracker    *Tracker
	Registry   *Registry
	Dispatcher *Dispatcher
	Metrics    *Metrics
	Logger     *slog.Logger
}

// NewRouter creates a router. Every collaborator except Metrics and
// Logger is required. It does not subscribe to the social provider; the
// caller registers HandleMessage.
func NewRouter(config RouterConfig) (*Router, error) {
	switch {
	case config.Social == nil:
		return nil, errors.New("mux: router requires a social provider")
	case config.Tracker == nil:
		return nil, errors.New("mux: router requires a tracker")
	case config.Registry == nil:
		return nil, errors.New("mux: router requires a session registry")
	case config.Dispatcher == nil:
		return nil, errors.New("mux: router requires a dispatcher")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		social:     config.Social,
		tracker:    config.Tracker,
		registry:   config.Registry,
		dispatcher: config.Dispatcher,
		metrics:    config.Metrics,
		logger:     logger,
	}, nil
}

// WireOutbound forwards every message the transport emits on endpoint
// to clientID through the social provider. Messages are sent one at a
// time in emission order; failures are logged and not retried.
func (r *Router) WireOutbound(clientID string, endpoint *channel.Endpoint) {
	endpoint.OnMessage(func(text string) {
		ctx, cancel := context.WithTimeout(context.Background(), signalSendTimeout)
		defer cancel()
		r.metrics.signal(directionOutbound)
		if err := r.social.SendMessage(ctx, clientID, text); err != nil {
			r.logger.Warn("sending signal failed", "client_id", clientID, "error", err)
		}
	})
}

// HandleMessage routes one inbound social message. The sender's state
// is refreshed first. Text from a client on another app goes straight
// to listeners; anything else is signaling for the sender's session,
// which is created if it does not exist yet.
func (r *Router) HandleMessage(message social.Message) {
	from := message.From
	r.tracker.OnClientState(from)

	if from.Status == social.StatusOnlineWithOtherApp {
		data, err := payload.ToBinary(message.Text)
		if err != nil {
			r.logger.Warn("dropping undecodable text message", "client_id", from.ClientID, "error", err)
			return
		}
		r.dispatcher.Dispatch(from.ClientID, TextTag, data)
		return
	}

	session, err := r.registry.GetOrCreate(from.ClientID)
	if err != nil {
		r.logger.Error("creating session for inbound signal failed", "client_id", from.ClientID, "error", err)
		return
	}
	r.metrics.signal(directionInbound)
	session.Signal(message.Text)
}
