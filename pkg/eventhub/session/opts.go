/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"github.com/securekey/fabric-eventhub/pkg/common/metrics"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
)

type params struct {
	bufferSize uint
	metrics    *metrics.EventHubMetrics
}

func defaultParams() *params {
	return &params{
		bufferSize: 100,
		metrics:    metrics.Disabled(),
	}
}

// WithBufferSize sets the size of the buffered channel between the transport
// receiver and the session's consumer
func WithBufferSize(value uint) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(bufferSizeSetter); ok {
			setter.SetBufferSize(value)
		}
	}
}

// WithMetrics sets the metrics recorder for the session
func WithMetrics(value *metrics.EventHubMetrics) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(metricsSetter); ok {
			setter.SetMetrics(value)
		}
	}
}

type bufferSizeSetter interface {
	SetBufferSize(value uint)
}

type metricsSetter interface {
	SetMetrics(value *metrics.EventHubMetrics)
}

func (p *params) SetBufferSize(value uint) {
	p.bufferSize = value
}

func (p *params) SetMetrics(value *metrics.EventHubMetrics) {
	p.metrics = value
}
