/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/x509"
	"time"

	"google.golang.org/grpc/keepalive"

	"github.com/securekey/fabric-eventhub/pkg/common/config"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
)

type params struct {
	hostOverride    string
	certificate     *x509.Certificate
	keepAliveParams keepalive.ClientParameters
	failFast        bool
	insecure        bool
	connectTimeout  time.Duration
	parentContext   context.Context
}

func defaultParams() *params {
	return &params{
		failFast:       true,
		connectTimeout: 10 * time.Second,
	}
}

// WithHostOverride sets the host name that will be used to resolve the TLS certificate
func WithHostOverride(value string) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(hostOverrideSetter); ok {
			setter.SetHostOverride(value)
		}
	}
}

// WithCertificate sets the X509 certificate used to verify the server's TLS certificate
func WithCertificate(value *x509.Certificate) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(certificateSetter); ok {
			setter.SetCertificate(value)
		}
	}
}

// WithKeepAliveParams sets the GRPC keep-alive parameters
func WithKeepAliveParams(value keepalive.ClientParameters) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(keepAliveParamsSetter); ok {
			setter.SetKeepAliveParams(value)
		}
	}
}

// WithFailFast sets the GRPC fail-fast parameter
func WithFailFast(value bool) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(failFastSetter); ok {
			setter.SetFailFast(value)
		}
	}
}

// WithConnectTimeout sets the GRPC connection timeout
func WithConnectTimeout(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(connectTimeoutSetter); ok {
			setter.SetConnectTimeout(value)
		}
	}
}

// WithParentContext sets the parent context for the dial
func WithParentContext(value context.Context) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(parentContextSetter); ok {
			setter.SetParentContext(value)
		}
	}
}

// WithInsecure permits a connection without TLS when the connection URL does
// not specify the grpcs scheme
func WithInsecure() options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(insecureSetter); ok {
			setter.SetInsecure(true)
		}
	}
}

// OptsFromConfig returns the connection options derived from the given
// configuration
func OptsFromConfig(cfg *config.Config) []options.Opt {
	opts := []options.Opt{
		WithFailFast(cfg.FailFast()),
		WithConnectTimeout(cfg.ConnectTimeout()),
		WithKeepAliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepAliveTime(),
			Timeout: cfg.KeepAliveTimeout(),
		}),
	}
	if cfg.AllowInsecure() {
		opts = append(opts, WithInsecure())
	}
	return opts
}

func (p *params) SetHostOverride(value string) {
	logger.Debugf("HostOverride: %s", value)
	p.hostOverride = value
}

func (p *params) SetCertificate(value *x509.Certificate) {
	if value != nil {
		logger.Debugf("setting certificate [subject: %s, serial: %s]", value.Subject, value.SerialNumber)
	} else {
		logger.Debug("setting nil certificate")
	}
	p.certificate = value
}

func (p *params) SetKeepAliveParams(value keepalive.ClientParameters) {
	logger.Debugf("KeepAliveParams: %#v", value)
	p.keepAliveParams = value
}

func (p *params) SetFailFast(value bool) {
	logger.Debugf("FailFast: %t", value)
	p.failFast = value
}

func (p *params) SetConnectTimeout(value time.Duration) {
	logger.Debugf("ConnectTimeout: %s", value)
	p.connectTimeout = value
}

func (p *params) SetInsecure(value bool) {
	logger.Debugf("Insecure: %t", value)
	p.insecure = value
}

func (p *params) SetParentContext(value context.Context) {
	logger.Debug("setting parent context")
	p.parentContext = value
}

type hostOverrideSetter interface {
	SetHostOverride(value string)
}

type certificateSetter interface {
	SetCertificate(value *x509.Certificate)
}

type keepAliveParamsSetter interface {
	SetKeepAliveParams(value keepalive.ClientParameters)
}

type failFastSetter interface {
	SetFailFast(value bool)
}

type insecureSetter interface {
	SetInsecure(value bool)
}

type connectTimeoutSetter interface {
	SetConnectTimeout(value time.Duration)
}

type parentContextSetter interface {
	SetParentContext(value context.Context)
}
