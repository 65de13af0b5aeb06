// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/socialmux/lib/eventqueue"
)

var (
	// ErrUnknownChannel is returned by Bind for an identifier the
	// runtime did not create, or one whose channel is already closed.
	ErrUnknownChannel = errors.New("channel: unknown channel identifier")

	// ErrAlreadyBound is returned by Bind when the far endpoint of a
	// channel has already been claimed.
	ErrAlreadyBound = errors.New("channel: channel already bound")

	// ErrClosed is returned by Emit on a closed endpoint.
	ErrClosed = errors.New("channel: endpoint closed")
)

// Creator allocates signaling channels. *Runtime implements it; tests
// substitute implementations that delay or fail.
type Creator interface {
	CreateChannel(ctx context.Context) (Channel, error)
}

// Channel is a newly created channel: the identifier to pass to the
// component that will Bind the far end, and the near endpoint.
type Channel struct {
	Identifier string
	Endpoint   *Endpoint
}

// Compile-time interface check.
var _ Creator = (*Runtime)(nil)

// Runtime owns every live channel. Safe for concurrent use.
type Runtime struct {
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]*pair
}

type pair struct {
	near  *Endpoint
	far   *Endpoint
	bound bool
}

// NewRuntime creates an empty runtime. A nil logger uses slog.Default().
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		logger:   logger,
		channels: make(map[string]*pair),
	}
}

// CreateChannel allocates a channel with a fresh random identifier.
func (r *Runtime) CreateChannel(ctx context.Context) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return Channel{}, fmt.Errorf("channel: creating channel: %w", err)
	}

	identifier := uuid.NewString()
	near := newEndpoint(identifier)
	far := newEndpoint(identifier)
	near.peer, far.peer = far, near
	near.release = func() { r.release(identifier) }
	far.release = near.release

	r.mu.Lock()
	r.channels[identifier] = &pair{near: near, far: far}
	r.mu.Unlock()

	r.logger.Debug("signaling channel created", "channel", identifier)
	return Channel{Identifier: identifier, Endpoint: near}, nil
}

// Bind claims the far endpoint of the channel named by identifier. Each
// channel can be bound once.
func (r *Runtime) Bind(identifier string) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.channels[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, identifier)
	}
	if entry.bound {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyBound, identifier)
	}
	entry.bound = true
	return entry.far, nil
}

// Len returns the number of open channels.
func (r *Runtime) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *Runtime) release(identifier string) {
	r.mu.Lock()
	_, ok := r.channels[identifier]
	delete(r.channels, identifier)
	r.mu.Unlock()
	if ok {
		r.logger.Debug("signaling channel closed", "channel", identifier)
	}
}

// Endpoint is one end of a channel.
type Endpoint struct {
	identifier string
	peer       *Endpoint
	release    func()
	events     *eventqueue.Queue

	mu       sync.Mutex
	handlers []func(string)
	backlog  []string
	closed   bool
}

func newEndpoint(identifier string) *Endpoint {
	return &Endpoint{
		identifier: identifier,
		events:     eventqueue.New(),
	}
}

// Identifier returns the channel's identifier.
func (e *Endpoint) Identifier() string {
	return e.identifier
}

// OnMessage registers handler for messages emitted by the opposite
// endpoint. Registering the first handler flushes any held messages.
func (e *Endpoint) OnMessage(handler func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	if len(e.handlers) > 1 {
		return
	}
	for _, message := range e.backlog {
		e.postLocked(message)
	}
	e.backlog = nil
}

// Emit sends message to the opposite endpoint's handlers.
func (e *Endpoint) Emit(message string) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return e.peer.receive(message)
}

// Close closes both endpoints of the channel and releases its
// identifier. Idempotent.
func (e *Endpoint) Close() {
	e.shutdown()
	e.peer.shutdown()
	e.release()
}

// Done returns a channel that is closed once the endpoint is closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.events.Done()
}

func (e *Endpoint) receive(message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if len(e.handlers) == 0 {
		e.backlog = append(e.backlog, message)
		return nil
	}
	e.postLocked(message)
	return nil
}

// postLocked queues delivery of message to the current handlers. Must
// be called with e.mu held so that deliveries keep emission order.
func (e *Endpoint) postLocked(message string) {
	handlers := e.handlers
	e.events.Post(func() {
		for _, handler := range handlers {
			handler(message)
		}
	})
}

func (e *Endpoint) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.backlog = nil
	e.mu.Unlock()
	e.events.Close()
}
