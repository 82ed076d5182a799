/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"sync"
	"sync/atomic"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
)

// MockConnection is a mock delivery-service connection that allows tests to
// script send results and inject events into the receive stream
type MockConnection struct {
	rcvch     chan interface{}
	rcvDone   int32
	closed    int32
	sourceURL string

	mutex     sync.Mutex
	sendErr   error
	ready     bool
	paused    bool
	resumeErr error

	// SentEnvelopes records the envelopes passed to Send
	SentEnvelopes []*cb.Envelope
}

// ConnOpt is a mock connection option
type ConnOpt func(c *MockConnection)

// WithSourceURL sets the event source URL reported on produced events
func WithSourceURL(sourceURL string) ConnOpt {
	return func(c *MockConnection) {
		c.sourceURL = sourceURL
	}
}

// WithSendError causes Send to fail with the given error
func WithSendError(err error) ConnOpt {
	return func(c *MockConnection) {
		c.sendErr = err
	}
}

// NewMockConnection returns a new MockConnection
func NewMockConnection(opts ...ConnOpt) *MockConnection {
	c := &MockConnection{
		rcvch:     make(chan interface{}),
		sourceURL: "grpc://localhost:9051",
		ready:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SourceURL returns the event source URL
func (c *MockConnection) SourceURL() string {
	return c.sourceURL
}

// Send records the envelope and returns the scripted result
func (c *MockConnection) Send(env *cb.Envelope) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	c.SentEnvelopes = append(c.SentEnvelopes, env)
	return nil
}

// Receive forwards produced events to the given channel until the
// connection is closed
func (c *MockConnection) Receive(eventch chan<- interface{}) {
	defer close(eventch)
	for event := range c.rcvch {
		eventch <- event
	}
}

// Close closes the connection
func (c *MockConnection) Close() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	c.closeRcv()
}

// CompleteStream ends the receive stream without closing the connection,
// simulating a clean server-side stream end
func (c *MockConnection) CompleteStream() {
	c.closeRcv()
}

func (c *MockConnection) closeRcv() {
	if atomic.CompareAndSwapInt32(&c.rcvDone, 0, 1) {
		close(c.rcvch)
	}
}

// Closed returns true if the connection is closed
func (c *MockConnection) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Ready returns the scripted readiness
func (c *MockConnection) Ready() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ready && !c.Closed()
}

// Paused returns the scripted paused state
func (c *MockConnection) Paused() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.paused
}

// Resume clears the paused state, returning the scripted error if any
func (c *MockConnection) Resume() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.resumeErr != nil {
		return c.resumeErr
	}
	c.paused = false
	return nil
}

// SetReady scripts the value returned by Ready
func (c *MockConnection) SetReady(ready bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.ready = ready
}

// SetPaused scripts the value returned by Paused
func (c *MockConnection) SetPaused(paused bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.paused = paused
}

// SetResumeError scripts the error returned by Resume
func (c *MockConnection) SetResumeError(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.resumeErr = err
}

// ProduceEvent sends the given event to the receive stream
func (c *MockConnection) ProduceEvent(event interface{}) {
	if atomic.LoadInt32(&c.rcvDone) == 1 {
		return
	}
	c.rcvch <- event
}

// ProduceResponse sends the given deliver response to the receive stream
func (c *MockConnection) ProduceResponse(response *pb.DeliverResponse) {
	c.ProduceEvent(api.NewMessageEvent(response, c.sourceURL))
}

// ProduceDisconnect sends a disconnected event to the receive stream
func (c *MockConnection) ProduceDisconnect(err error) {
	c.ProduceEvent(api.NewDisconnectedEvent(err))
}

// Provider returns a connection provider that always returns this connection
func (c *MockConnection) Provider() api.ConnectionProvider {
	return func(api.Context, string, string) (api.Connection, error) {
		return c, nil
	}
}

// ProviderFactory creates mock connection providers and retains the most
// recently provided connection
type ProviderFactory struct {
	mutex      sync.RWMutex
	connection *MockConnection
}

// NewProviderFactory returns a new ProviderFactory
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{}
}

// Connection returns the most recently provided connection
func (f *ProviderFactory) Connection() *MockConnection {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.connection
}

// Provider returns a connection provider that creates a fresh mock
// connection on every call
func (f *ProviderFactory) Provider(opts ...ConnOpt) api.ConnectionProvider {
	return func(api.Context, string, string) (api.Connection, error) {
		f.mutex.Lock()
		defer f.mutex.Unlock()
		f.connection = NewMockConnection(opts...)
		return f.connection, nil
	}
}
