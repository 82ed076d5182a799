/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package api defines the contracts between the event hub and its
// collaborators: the identity/signing context, the delivery-service
// connection, and the events delivered to listener callbacks.
package api

import (
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// Context provides the identity and signing operations required to produce
// a valid seek request envelope. The hub only calls these functions and
// never implements them.
type Context interface {
	// Serialize returns the creator identity bytes
	Serialize() ([]byte, error)

	// Sign signs the given message and returns the signature
	Sign(msg []byte) ([]byte, error)

	// CreateTransactionID returns a new transaction ID along with the nonce
	// that was used to compute it
	CreateTransactionID() (string, []byte, error)
}

// Connection defines the functions for a delivery-service connection.
// Receive pushes *MessageEvent and *DisconnectedEvent values to the
// given channel.
type Connection interface {
	// Send sends the signed seek envelope to the delivery service
	Send(env *cb.Envelope) error

	// Receive sends events to the given channel and closes the channel
	// when the connection is closed or the stream terminates
	Receive(eventch chan<- interface{})

	// Close closes the connection
	Close()

	// Closed returns true if the connection is closed
	Closed() bool

	// Ready returns true if the underlying transport is ready for use
	Ready() bool

	// Paused returns true if the underlying transport is connected but
	// not actively reading
	Paused() bool

	// Resume resumes a paused transport
	Resume() error
}

// ConnectionProvider creates a Connection to the given URL
type ConnectionProvider func(context Context, channelID string, url string) (Connection, error)

// MessageEvent contains a delivery-service response along with its source
type MessageEvent struct {
	SourceURL string
	Response  *pb.DeliverResponse
}

// NewMessageEvent returns a new MessageEvent
func NewMessageEvent(response *pb.DeliverResponse, sourceURL string) *MessageEvent {
	return &MessageEvent{
		SourceURL: sourceURL,
		Response:  response,
	}
}

// DisconnectedEvent indicates that the connection to the delivery service
// was terminated from the transport side
type DisconnectedEvent struct {
	Err error
}

// NewDisconnectedEvent returns a new DisconnectedEvent
func NewDisconnectedEvent(err error) *DisconnectedEvent {
	return &DisconnectedEvent{Err: err}
}
