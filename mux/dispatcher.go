// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/socialmux/social"
)

// Message is an inbound application message.
type Message struct {
	// From is the sender's last-known state when the message arrived.
	From social.ClientState
	Tag  string
	Data []byte
}

// Dispatcher delivers inbound messages to listeners in registration
// order. A listener that panics is logged and skipped; later listeners
// still run.
type Dispatcher struct {
	tracker *Tracker
	metrics *Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []func(Message)
}

// NewDispatcher creates a dispatcher that resolves senders in tracker.
func NewDispatcher(tracker *Tracker, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{tracker: tracker, metrics: metrics, logger: logger}
}

// Add registers listener. There is no removal.
func (d *Dispatcher) Add(listener func(Message)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, listener)
	d.mu.Unlock()
}

// Dispatch delivers data from clientID to every listener. A sender the
// tracker has never seen is reported with only its client ID.
func (d *Dispatcher) Dispatch(clientID, tag string, data []byte) {
	from, ok := d.tracker.Client(clientID)
	if !ok {
		from = social.ClientState{ClientID: clientID}
	}
	message := Message{From: from, Tag: tag, Data: data}

	d.mu.Lock()
	listeners := d.listeners
	d.mu.Unlock()

	d.metrics.received()
	for index, listener := range listeners {
		if err := d.deliver(listener, message); err != nil {
			d.metrics.listenerPanicked()
			d.logger.Error("message listener panicked",
				"listener", index,
				"client_id", clientID,
				"tag", tag,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) deliver(listener func(Message), message Message) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	listener(message)
	return nil
}
