/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package comm manages the GRPC connections used to reach the delivery
// service.
package comm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"

	"github.com/securekey/fabric-eventhub/pkg/common/logging"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
)

var logger = logging.NewLogger("eventhub/comm")

const (
	grpcScheme  = "grpc://"
	grpcsScheme = "grpcs://"
)

// GRPCConnection manages one GRPC client connection
type GRPCConnection struct {
	url  string
	conn *grpc.ClientConn
	done int32
}

// NewConnection dials the given URL and returns the connection. URLs with a
// grpcs:// scheme are dialed with TLS; grpc:// URLs are dialed insecurely
// when the insecure option allows it.
func NewConnection(url string, opts ...options.Opt) (*GRPCConnection, error) {
	if url == "" {
		return nil, errors.New("server URL not specified")
	}

	params := defaultParams()
	options.Apply(params, opts)

	dialOpts, err := newDialOpts(url, params)
	if err != nil {
		return nil, err
	}

	grpcctx := params.parentContext
	if grpcctx == nil {
		grpcctx = context.Background()
	}
	grpcctx, cancel := context.WithTimeout(grpcctx, params.connectTimeout)
	defer cancel()

	grpcconn, err := grpc.DialContext(grpcctx, toAddress(url), dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", url)
	}

	return &GRPCConnection{
		url:  url,
		conn: grpcconn,
	}, nil
}

// URL returns the target URL of the connection
func (c *GRPCConnection) URL() string {
	return c.url
}

// ClientConn returns the underlying GRPC client connection
func (c *GRPCConnection) ClientConn() *grpc.ClientConn {
	return c.conn
}

// Close closes the connection
func (c *GRPCConnection) Close() {
	if !c.setClosed() {
		logger.Debugf("already closed")
		return
	}

	logger.Debugf("closing connection to %s...", c.url)
	if err := c.conn.Close(); err != nil {
		logger.Warnf("error closing GRPC connection: %s", err)
	}
}

// Closed returns true if the connection has been closed
func (c *GRPCConnection) Closed() bool {
	return atomic.LoadInt32(&c.done) == 1
}

// Ready returns true if the transport is ready for use
func (c *GRPCConnection) Ready() bool {
	if c.Closed() {
		return false
	}
	return c.conn.GetState() == connectivity.Ready
}

// Paused returns true if the transport is connected but idle
func (c *GRPCConnection) Paused() bool {
	if c.Closed() {
		return false
	}
	return c.conn.GetState() == connectivity.Idle
}

// Resume transitions an idle transport back to connecting
func (c *GRPCConnection) Resume() error {
	if c.Closed() {
		return errors.New("connection is closed")
	}
	c.conn.Connect()
	return nil
}

func (c *GRPCConnection) setClosed() bool {
	return atomic.CompareAndSwapInt32(&c.done, 0, 1)
}

func newDialOpts(url string, params *params) ([]grpc.DialOption, error) {
	var dialOpts []grpc.DialOption

	if params.keepAliveParams.Time > 0 || params.keepAliveParams.Timeout > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(params.keepAliveParams))
	}

	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.WaitForReady(!params.failFast)))
	dialOpts = append(dialOpts, grpc.WithBlock())

	if isTLSEnabled(url) {
		tlsConfig, err := newTLSConfig(params)
		if err != nil {
			return nil, err
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		logger.Debugf("creating a secure connection to [%s] with host override [%s]", url, params.hostOverride)
	} else {
		if !params.insecure {
			return nil, errors.Errorf("insecure connection to %s is not allowed", url)
		}
		logger.Debugf("creating an insecure connection to [%s]", url)
		dialOpts = append(dialOpts, grpc.WithInsecure())
	}

	return dialOpts, nil
}

func newTLSConfig(params *params) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		ServerName: params.hostOverride,
	}
	if params.certificate != nil {
		pool := x509.NewCertPool()
		pool.AddCert(params.certificate)
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

func isTLSEnabled(url string) bool {
	return strings.HasPrefix(url, grpcsScheme)
}

func toAddress(url string) string {
	if strings.HasPrefix(url, grpcsScheme) {
		return url[len(grpcsScheme):]
	}
	if strings.HasPrefix(url, grpcScheme) {
		return url[len(grpcScheme):]
	}
	return url
}
