/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"github.com/securekey/fabric-eventhub/pkg/common/metrics"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
)

type params struct {
	metrics *metrics.EventHubMetrics
}

func defaultParams() *params {
	return &params{
		metrics: metrics.Disabled(),
	}
}

// WithMetrics sets the metrics recorder for the dispatcher
func WithMetrics(value *metrics.EventHubMetrics) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(metricsSetter); ok {
			setter.SetMetrics(value)
		}
	}
}

type metricsSetter interface {
	SetMetrics(value *metrics.EventHubMetrics)
}

func (p *params) SetMetrics(value *metrics.EventHubMetrics) {
	p.metrics = value
}
