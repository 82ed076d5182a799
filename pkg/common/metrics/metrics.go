/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics defines the instrumentation emitted by the event hub.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// EventHubMetrics contains the metrics tracked by the event hub
type EventHubMetrics struct {
	BlocksReceived   metrics.Counter
	EventsDispatched metrics.Counter
	DispatchFailures metrics.Counter
	Teardowns        metrics.Counter
	StaleDropped     metrics.Counter
}

// NewPrometheus builds EventHubMetrics backed by Prometheus counters
// registered with the default registerer.
func NewPrometheus(channelID string) *EventHubMetrics {
	labels := []string{"channel"}
	with := []string{"channel", channelID}

	return &EventHubMetrics{
		BlocksReceived: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "blocks_received",
			Help:      "The number of blocks received from the delivery service.",
		}, labels).With(with...),
		EventsDispatched: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "events_dispatched",
			Help:      "The number of events delivered to listeners.",
		}, labels).With(with...),
		DispatchFailures: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "dispatch_failures",
			Help:      "The number of listener callbacks that failed.",
		}, labels).With(with...),
		Teardowns: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "teardowns",
			Help:      "The number of stream teardowns.",
		}, labels).With(with...),
		StaleDropped: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "stale_messages_dropped",
			Help:      "The number of messages dropped because they belonged to a superseded stream.",
		}, labels).With(with...),
	}
}

// Disabled returns EventHubMetrics that discard all observations.
func Disabled() *EventHubMetrics {
	return &EventHubMetrics{
		BlocksReceived:   discard.NewCounter(),
		EventsDispatched: discard.NewCounter(),
		DispatchFailures: discard.NewCounter(),
		Teardowns:        discard.NewCounter(),
		StaleDropped:     discard.NewCounter(),
	}
}
