/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection implements the delivery-service connection over GRPC.
package connection

import (
	"context"
	"io"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/securekey/fabric-eventhub/pkg/comm"
	"github.com/securekey/fabric-eventhub/pkg/common/logging"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/seek"
)

var logger = logging.NewLogger("eventhub/connection")

type deliverStream interface {
	grpc.ClientStream
	Send(*cb.Envelope) error
	Recv() (*pb.DeliverResponse, error)
}

// StreamProvider creates a deliver stream
type StreamProvider func(pb.DeliverClient) (stream deliverStream, cancel func(), err error)

var (
	// Deliver creates a stream of full blocks
	Deliver = func(client pb.DeliverClient) (deliverStream, func(), error) {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := client.Deliver(ctx)
		return stream, cancel, err
	}

	// DeliverFiltered creates a stream of filtered blocks
	DeliverFiltered = func(client pb.DeliverClient) (deliverStream, func(), error) {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := client.DeliverFiltered(ctx)
		return stream, cancel, err
	}

	// DeliverWithPrivateData creates a stream of full blocks along with the
	// private data collections visible to this identity
	DeliverWithPrivateData = func(client pb.DeliverClient) (deliverStream, func(), error) {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := client.DeliverWithPrivateData(ctx)
		return stream, cancel, err
	}
)

// ProviderForDetail returns the stream provider matching the given block
// detail level
func ProviderForDetail(detail seek.BlockDetail) StreamProvider {
	switch detail {
	case seek.Full:
		return Deliver
	case seek.FullWithPrivateData:
		return DeliverWithPrivateData
	default:
		return DeliverFiltered
	}
}

// DeliverConnection manages the connection to the deliver server
type DeliverConnection struct {
	*comm.StreamConnection
	channelID string
	url       string
}

// New returns a new deliver server connection
func New(channelID string, streamProvider StreamProvider, url string, opts ...options.Opt) (*DeliverConnection, error) {
	logger.Debugf("connecting to %s...", url)
	connect, err := comm.NewStreamConnection(
		func(grpcconn *grpc.ClientConn) (grpc.ClientStream, func(), error) {
			return streamProvider(pb.NewDeliverClient(grpcconn))
		},
		url, opts...,
	)
	if err != nil {
		return nil, err
	}

	return &DeliverConnection{
		StreamConnection: connect,
		channelID:        channelID,
		url:              url,
	}, nil
}

// Provider returns an api.ConnectionProvider that opens deliver connections
// with the given block detail level and connection options
func Provider(detail seek.BlockDetail, opts ...options.Opt) api.ConnectionProvider {
	return func(_ api.Context, channelID string, url string) (api.Connection, error) {
		return New(channelID, ProviderForDetail(detail), url, opts...)
	}
}

// ChannelID returns the ID of the channel
func (c *DeliverConnection) ChannelID() string {
	return c.channelID
}

func (c *DeliverConnection) deliverStream() deliverStream {
	if c.Stream() == nil {
		return nil
	}
	stream, ok := c.Stream().(deliverStream)
	if !ok {
		panic(errors.Errorf("invalid DeliverStream type %T", c.Stream()))
	}
	return stream
}

// Send sends a signed seek envelope to the deliver server
func (c *DeliverConnection) Send(env *cb.Envelope) error {
	if c.Closed() {
		return errors.New("connection is closed")
	}

	logger.Debugf("sending seek envelope to %s", c.url)
	return c.deliverStream().Send(env)
}

// Receive receives responses from the deliver server and forwards them to
// the given channel. The channel is closed when the stream terminates.
func (c *DeliverConnection) Receive(eventch chan<- interface{}) {
	defer close(eventch)

	for {
		stream := c.deliverStream()
		if stream == nil {
			logger.Warn("the stream has closed, terminating loop")
			break
		}

		in, err := stream.Recv()

		if c.Closed() {
			logger.Debugf("the connection has closed with error [%s], terminating loop", err)
			break
		}

		if err == io.EOF {
			// the stream was terminated at the client side, no event needed
			logger.Debug("received EOF from stream")
			break
		}

		if err != nil {
			logger.Warnf("received error from stream: [%s], sending disconnected event", err)
			eventch <- api.NewDisconnectedEvent(err)
			break
		}

		eventch <- api.NewMessageEvent(in, c.url)
	}
	logger.Debug("exiting stream listener")
}
