/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/securekey/fabric-eventhub/pkg/common/options"
)

// StreamProvider creates a GRPC stream over an established connection
type StreamProvider func(conn *grpc.ClientConn) (grpc.ClientStream, func(), error)

// StreamConnection manages the GRPC connection and client stream
type StreamConnection struct {
	*GRPCConnection
	stream grpc.ClientStream
	cancel func()
	lock   sync.Mutex
}

// NewStreamConnection creates a new connection with stream
func NewStreamConnection(streamProvider StreamProvider, url string, opts ...options.Opt) (*StreamConnection, error) {
	conn, err := NewConnection(url, opts...)
	if err != nil {
		return nil, err
	}

	stream, cancel, err := streamProvider(conn.conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "could not create stream to %s", url)
	}

	if stream == nil {
		conn.Close()
		return nil, errors.New("unexpected nil stream received from provider")
	}

	return &StreamConnection{
		GRPCConnection: conn,
		stream:         stream,
		cancel:         cancel,
	}, nil
}

// Close closes the stream and the underlying connection
func (c *StreamConnection) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.Closed() {
		return
	}

	logger.Debug("closing stream....")

	c.cancel()

	if err := c.stream.CloseSend(); err != nil {
		logger.Warnf("error closing GRPC stream: %s", err)
	}

	c.GRPCConnection.Close()
}

// Stream returns the GRPC stream
func (c *StreamConnection) Stream() grpc.ClientStream {
	return c.stream
}
