// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message routes, used as the "route" label on sent-message counts.
const (
	routeTransport = "transport"
	routeSocial    = "social"
)

// Signal directions, used as the "direction" label on signal counts.
const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// Metrics holds the Prometheus collectors a Mux updates. All methods
// are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsCreated  prometheus.Counter
	setupFailures    prometheus.Counter
	signals          *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	messagesReceived prometheus.Counter
	listenerPanics   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "socialmux",
			Name:      "sessions_active",
			Help:      "Transport sessions currently registered.",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "socialmux",
			Name:      "sessions_created_total",
			Help:      "Transport sessions created.",
		}),
		setupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "socialmux",
			Name:      "session_setup_failures_total",
			Help:      "Sessions discarded because channel creation or transport setup failed.",
		}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socialmux",
			Name:      "signals_total",
			Help:      "Signaling messages carried over the social channel.",
		}, []string{"direction"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socialmux",
			Name:      "messages_sent_total",
			Help:      "Application messages sent, by route.",
		}, []string{"route"}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "socialmux",
			Name:      "messages_received_total",
			Help:      "Application messages delivered to listeners.",
		}),
		listenerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "socialmux",
			Name:      "listener_panics_total",
			Help:      "Listener invocations that panicked.",
		}),
	}
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) setupFailed() {
	if m == nil {
		return
	}
	m.setupFailures.Inc()
}

func (m *Metrics) signal(direction string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(direction).Inc()
}

func (m *Metrics) sent(route string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(route).Inc()
}

func (m *Metrics) received() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) listenerPanicked() {
	if m == nil {
		return
	}
	m.listenerPanics.Inc()
}
