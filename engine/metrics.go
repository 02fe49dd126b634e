// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the node-level counters exposed for scraping (spec §2
// ambient concerns: metrics via prometheus/client_golang). Each
// consensus/* package stays free of any metrics dependency of its own;
// Node is the single place that observes cross-layer hand-offs and
// counts them, the same boundary the teacher draws between its
// protocol packages and its top-level `api/metrics`.
type Metrics struct {
	MessagesDispatched *prometheus.CounterVec
	AuthFailures        prometheus.Counter
	DecodeFailures      *prometheus.CounterVec
	ACSSDeliveries      prometheus.Counter
	ACSRoundsDecided    prometheus.Counter
	TerminationsDropped prometheus.Counter
}

// NewMetrics registers a fresh Metrics set against reg. Passing a
// prometheus.NewRegistry() keeps tests hermetic; passing
// prometheus.DefaultRegisterer wires into the process-wide /metrics
// endpoint used by cmd/bftnode.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abft",
			Name:      "messages_dispatched_total",
			Help:      "Inbound envelopes routed to a consensus package, by wire tag.",
		}, []string{"tag"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abft",
			Name:      "auth_failures_total",
			Help:      "Envelopes dropped for failing MAC verification.",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abft",
			Name:      "decode_failures_total",
			Help:      "Envelopes dropped for failing to decode, by wire tag.",
		}, []string{"tag"}),
		ACSSDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abft",
			Name:      "acss_deliveries_total",
			Help:      "Local ACSS share deliveries observed by this node.",
		}),
		ACSRoundsDecided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abft",
			Name:      "acs_rounds_decided_total",
			Help:      "ACS rounds for which this node has reached an MVBA decision.",
		}),
		TerminationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abft",
			Name:      "terminations_dropped_total",
			Help:      "Cross-layer termination events dropped because the queue was full.",
		}),
	}
	reg.MustRegister(m.MessagesDispatched, m.AuthFailures, m.DecodeFailures,
		m.ACSSDeliveries, m.ACSRoundsDecided, m.TerminationsDropped)
	return m
}
