/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package eventhub

import (
	"time"

	"github.com/securekey/fabric-eventhub/pkg/comm"
	"github.com/securekey/fabric-eventhub/pkg/common/config"
	"github.com/securekey/fabric-eventhub/pkg/common/metrics"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/connection"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/seek"
)

type params struct {
	connectionProvider    api.ConnectionProvider
	detail                seek.BlockDetail
	streamStartTimeout    time.Duration
	reconnectInitialDelay time.Duration
	bufferSize            uint
	metrics               *metrics.EventHubMetrics
	tlsCertHash           []byte
}

func defaultParams() *params {
	cfg := config.New()
	return paramsFromConfig(cfg)
}

func paramsFromConfig(cfg *config.Config) *params {
	p := &params{
		detail:                seek.Filtered,
		streamStartTimeout:    cfg.StreamStartTimeout(),
		reconnectInitialDelay: cfg.ReconnectInitialDelay(),
		bufferSize:            cfg.ConsumerBufferSize(),
		metrics:               metrics.Disabled(),
	}
	p.connectionProvider = func(ctx api.Context, channelID string, url string) (api.Connection, error) {
		return connection.Provider(p.detail, comm.OptsFromConfig(cfg)...)(ctx, channelID, url)
	}
	return p
}

// WithConfig derives the hub defaults (timeouts, buffer size, transport
// options) from the given configuration instead of the built-in defaults
func WithConfig(value *config.Config) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(configSetter); ok {
			setter.SetConfig(value)
		}
	}
}

// WithConnectionProvider sets the connection provider used by Connect.
// Mainly used to inject mock connections in tests.
func WithConnectionProvider(value api.ConnectionProvider) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(connectionProviderSetter); ok {
			setter.SetConnectionProvider(value)
		}
	}
}

// WithBlockDetail sets the block detail level delivered by the hub's
// streams. The default is filtered blocks.
func WithBlockDetail(value seek.BlockDetail) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(detailSetter); ok {
			setter.SetDetail(value)
		}
	}
}

// WithStreamStartTimeout sets the maximum time to wait for the first message
// after a stream has been started
func WithStreamStartTimeout(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(streamStartTimeoutSetter); ok {
			setter.SetStreamStartTimeout(value)
		}
	}
}

// WithReconnectInitialDelay sets the delay before a forced reconnect is
// attempted
func WithReconnectInitialDelay(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(reconnectInitialDelaySetter); ok {
			setter.SetReconnectInitialDelay(value)
		}
	}
}

// WithBufferSize sets the size of the stream event buffer
func WithBufferSize(value uint) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(bufferSizeSetter); ok {
			setter.SetBufferSize(value)
		}
	}
}

// WithMetrics sets the metrics recorder for the hub
func WithMetrics(value *metrics.EventHubMetrics) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(metricsSetter); ok {
			setter.SetMetrics(value)
		}
	}
}

// WithTLSCertHash sets the hash of the client TLS certificate, included in
// seek request headers when mutual TLS is in use
func WithTLSCertHash(value []byte) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(tlsCertHashSetter); ok {
			setter.SetTLSCertHash(value)
		}
	}
}

func (p *params) SetConfig(value *config.Config) {
	*p = *paramsFromConfig(value)
}

func (p *params) SetConnectionProvider(value api.ConnectionProvider) {
	p.connectionProvider = value
}

func (p *params) SetDetail(value seek.BlockDetail) {
	p.detail = value
}

func (p *params) SetStreamStartTimeout(value time.Duration) {
	p.streamStartTimeout = value
}

func (p *params) SetReconnectInitialDelay(value time.Duration) {
	p.reconnectInitialDelay = value
}

func (p *params) SetBufferSize(value uint) {
	p.bufferSize = value
}

func (p *params) SetMetrics(value *metrics.EventHubMetrics) {
	p.metrics = value
}

func (p *params) SetTLSCertHash(value []byte) {
	p.tlsCertHash = value
}

type configSetter interface {
	SetConfig(value *config.Config)
}

type connectionProviderSetter interface {
	SetConnectionProvider(value api.ConnectionProvider)
}

type detailSetter interface {
	SetDetail(value seek.BlockDetail)
}

type streamStartTimeoutSetter interface {
	SetStreamStartTimeout(value time.Duration)
}

type reconnectInitialDelaySetter interface {
	SetReconnectInitialDelay(value time.Duration)
}

type bufferSizeSetter interface {
	SetBufferSize(value uint)
}

type metricsSetter interface {
	SetMetrics(value *metrics.EventHubMetrics)
}

type tlsCertHashSetter interface {
	SetTLSCertHash(value []byte)
}
