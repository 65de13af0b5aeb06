// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/socialmux/channel"
	"github.com/bureau-foundation/socialmux/transport"
)

// ErrRegistryClosed is returned by GetOrCreate after Close.
var ErrRegistryClosed = errors.New("mux: session registry closed")

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Transports creates one transport per session.
	Transports transport.Factory

	// Channels creates each session's signaling sub-channel.
	Channels channel.Creator

	// OnData receives every frame a session's transport delivers.
	OnData func(clientID, tag string, data []byte)

	// OnChannel is called with each session's sub-channel endpoint once
	// it exists, before the transport is set up. The callee wires the
	// endpoint's outbound messages to the social provider.
	OnChannel func(clientID string, endpoint *channel.Endpoint)

	Metrics *Metrics
	Logger  *slog.Logger
}

// Registry owns the session for each client: at most one per client
// ID, created on demand and removed when its transport closes. Safe for
// concurrent use.
type Registry struct {
	transports transport.Factory
	channels   channel.Creator
	onData     func(clientID, tag string, data []byte)
	onChannel  func(clientID string, endpoint *channel.Endpoint)
	metrics    *Metrics
	logger     *slog.Logger

	// ctx bounds channel creation and transport setup; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	creating map[string]*pendingSession
	closed   bool
}

// pendingSession is a GetOrCreate in progress. Concurrent callers for
// the same client wait on done instead of calling the factory again.
type pendingSession struct {
	done    chan struct{}
	session *Session
	err     error
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Transports == nil {
		return nil, errors.New("mux: registry requires a transport factory")
	}
	if config.Channels == nil {
		return nil, errors.New("mux: registry requires a channel creator")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onData := config.OnData
	if onData == nil {
		onData = func(string, string, []byte) {}
	}
	onChannel := config.OnChannel
	if onChannel == nil {
		onChannel = func(string, *channel.Endpoint) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		transports: config.Transports,
		channels:   config.Channels,
		onData:     onData,
		onChannel:  onChannel,
		metrics:    config.Metrics,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
		creating:   make(map[string]*pendingSession),
	}, nil
}

// Lookup returns the current session for clientID, if any.
func (r *Registry) Lookup(clientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[clientID]
	return session, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// GetOrCreate returns the session for clientID, creating it if there is
// none. The transport factory runs at most once per new session: callers
// racing on the same client wait for the first one's result. A new
// session is returned pending: its transport exists, but its sub-channel
// is still being created and set up in the background. Signals
// delivered to a pending session are held until setup completes.
func (r *Registry) GetOrCreate(clientID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if session, ok := r.sessions[clientID]; ok {
		r.mu.Unlock()
		return session, nil
	}
	if pending, ok := r.creating[clientID]; ok {
		r.mu.Unlock()
		<-pending.done
		return pending.session, pending.err
	}
	pending := &pendingSession{done: make(chan struct{})}
	r.creating[clientID] = pending
	r.mu.Unlock()

	session, err := r.create(clientID)

	r.mu.Lock()
	delete(r.creating, clientID)
	if err == nil && r.closed {
		err = ErrRegistryClosed
	}
	if err == nil {
		r.sessions[clientID] = session
	}
	r.mu.Unlock()

	if err != nil && session != nil {
		session.transport.Close()
		session = nil
	}
	pending.session, pending.err = session, err
	close(pending.done)
	if err != nil {
		return nil, err
	}

	r.metrics.sessionOpened()
	session.logger.Debug("session created")

	go r.establish(session)
	return session, nil
}

// create calls the transport factory and wires the new transport's
// events to the registry.
func (r *Registry) create(clientID string) (*Session, error) {
	created, err := r.transports()
	if err != nil {
		return nil, fmt.Errorf("mux: creating transport for %s: %w", clientID, err)
	}
	session := newSession(clientID, created, r.logger.With("client_id", clientID))
	created.OnData(func(tag string, data []byte) { r.onData(clientID, tag, data) })
	created.OnClose(func() { r.Remove(clientID, session) })
	return session, nil
}

// establish creates the session's sub-channel, hands it to the
// transport, and releases held signals.
func (r *Registry) establish(session *Session) {
	created, err := r.channels.CreateChannel(r.ctx)
	if err != nil {
		r.fail(session, "creating signaling channel failed", err)
		return
	}
	if !session.attach(created.Endpoint) {
		// Removed while the channel was being created.
		created.Endpoint.Close()
		return
	}

	r.onChannel(session.clientID, created.Endpoint)

	if err := session.transport.Setup(r.ctx, session.clientID, created.Identifier); err != nil {
		r.fail(session, "transport setup failed", err)
		return
	}
	session.markReady()
	session.logger.Debug("session ready", "channel", created.Identifier)
}

// fail handles an error while establishing session. A session removed
// in the meantime (its transport closed, or the registry shut down) has
// already been torn down, and the error is a consequence of that.
// Otherwise the session is discarded so the next send or signal starts
// over.
func (r *Registry) fail(session *Session, message string, err error) {
	if session.isClosed() {
		session.logger.Debug(message+" after the session was removed", "error", err)
		return
	}
	session.logger.Error(message, "error", err)
	r.discard(session)
}

// discard removes a session whose setup failed and closes its
// transport.
func (r *Registry) discard(session *Session) {
	r.metrics.setupFailed()
	r.Remove(session.clientID, session)
	session.transport.Close()
}

// Remove unregisters session if it is still the session for clientID,
// and closes its sub-channel. A stale or absent session is a no-op.
// Remove does not close the transport: it runs in response to the
// transport closing.
func (r *Registry) Remove(clientID string, session *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[clientID]; !ok || current != session {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, clientID)
	r.mu.Unlock()

	session.close()
	r.metrics.sessionClosed()
	session.logger.Debug("session removed")
}

// Close removes every session and closes its transport. GetOrCreate
// fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	r.cancel()
	for _, session := range sessions {
		r.Remove(session.clientID, session)
		if err := session.transport.Close(); err != nil {
			session.logger.Warn("closing transport failed", "error", err)
		}
	}
}

// Session pairs one client's transport with its signaling sub-channel.
type Session struct {
	clientID  string
	transport transport.Transport
	logger    *slog.Logger

	mu       sync.Mutex
	endpoint *channel.Endpoint // nil while the sub-channel is pending
	ready    bool
	closed   bool
	held     []string
}

func newSession(clientID string, t transport.Transport, logger *slog.Logger) *Session {
	return &Session{clientID: clientID, transport: t, logger: logger}
}

// ClientID returns the remote client this session reaches.
func (s *Session) ClientID() string {
	return s.clientID
}

// Transport returns the session's transport.
func (s *Session) Transport() transport.Transport {
	return s.transport
}

// Ready reports whether the transport has completed Setup.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Send submits a tagged frame to the session's transport.
func (s *Session) Send(ctx context.Context, tag string, data []byte) error {
	return s.transport.Send(ctx, tag, data)
}

// Signal delivers inbound signaling text to the transport. Until the
// transport has completed Setup the text is held, and held signals are
// delivered in arrival order once it has. Signals to a removed session
// are dropped.
func (s *Session) Signal(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("dropping signal for closed session")
		return
	}
	if !s.ready {
		s.held = append(s.held, text)
		s.mu.Unlock()
		return
	}
	endpoint := s.endpoint
	s.mu.Unlock()
	s.emit(endpoint, text)
}

func (s *Session) emit(endpoint *channel.Endpoint, text string) {
	if err := endpoint.Emit(text); err != nil {
		s.logger.Warn("delivering signal to transport failed", "error", err)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// attach records the sub-channel endpoint. Returns false if the
// session was removed in the meantime.
func (s *Session) attach(endpoint *channel.Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.endpoint = endpoint
	return true
}

// markReady delivers held signals, then lets later signals through
// directly. Signals that arrive while held ones are being delivered
// join the hold and go out in the next pass.
func (s *Session) markReady() {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		held := s.held
		s.held = nil
		if len(held) == 0 {
			s.ready = true
			s.mu.Unlock()
			return
		}
		endpoint := s.endpoint
		s.mu.Unlock()

		for _, text := range held {
			s.emit(endpoint, text)
		}
	}
}

// close drops held signals and closes the sub-channel. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.held = nil
	endpoint := s.endpoint
	s.mu.Unlock()

	if endpoint != nil {
		endpoint.Close()
	}
}
