/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package eventhub provides a channel event hub: a client for the
// delivery service of a single channel that fans delivered blocks out to
// registered block, transaction and chaincode listeners, with support for
// bounded replay windows and stream recovery.
package eventhub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/securekey/fabric-eventhub/pkg/common/logging"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/classifier"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/dispatcher"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/registry"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/seek"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/session"
)

var logger = logging.NewLogger("eventhub")

// ErrDisconnected is the reason delivered to listeners when the hub is
// explicitly disconnected or closed.
var ErrDisconnected = errors.New("event hub disconnected")

// ErrStreaming indicates that an operation was invoked while a stream is
// active. Disconnect first.
var ErrStreaming = errors.New("event hub is streaming")

// ErrNotConnected indicates that an operation requires a connection.
var ErrNotConnected = errors.New("event hub is not connected")

// State is the hub lifecycle state
type State int32

const (
	// Disconnected indicates that no transport handle exists
	Disconnected State = iota
	// Connecting indicates that a transport handle is being established
	Connecting
	// Connected indicates that a transport handle exists but no stream is
	// active
	Connected
	// Streaming indicates that a delivery stream is active
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Streaming:
		return "Streaming"
	default:
		return "Unknown"
	}
}

// Hub is the channel event hub. A hub serves a single channel and drives at
// most one delivery stream at a time.
type Hub struct {
	state int32

	params
	context   api.Context
	channelID string

	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	session    *session.Session

	mutex   sync.Mutex
	url     string
	conn    api.Connection
	request *seek.Request
	window  *seek.ResolvedWindow
}

// New returns a new event hub for the given channel
func New(context api.Context, channelID string, opts ...options.Opt) *Hub {
	params := defaultParams()
	options.Apply(params, opts)

	reg := registry.New()
	disp := dispatcher.New(reg, dispatcher.WithMetrics(params.metrics))

	h := &Hub{
		params:     *params,
		context:    context,
		channelID:  channelID,
		registry:   reg,
		dispatcher: disp,
	}

	h.session = session.New(
		&hubSink{hub: h},
		session.WithBufferSize(params.bufferSize),
		session.WithMetrics(params.metrics),
	)
	h.session.SetRestartHandler(h.restartStream)
	disp.SetDisconnectHandler(h.session.Teardown)

	return h
}

// ChannelID returns the ID of the channel served by this hub
func (h *Hub) ChannelID() string {
	return h.channelID
}

// State returns the current lifecycle state
func (h *Hub) State() State {
	return State(atomic.LoadInt32(&h.state))
}

// Connect establishes (or replaces) the transport handle to the given URL.
// It does not by itself start receiving blocks; call BuildRequest,
// SignRequest and Listen to open a stream.
func (h *Hub) Connect(url string) error {
	state := h.State()
	if state == Streaming {
		return errors.WithMessagef(ErrStreaming, "disconnect before connecting")
	}
	if !atomic.CompareAndSwapInt32(&h.state, int32(state), int32(Connecting)) {
		return errors.Errorf("connect attempted during a concurrent state change from [%s]", state)
	}

	// replace any existing transport handle
	h.closeConn()

	conn, err := h.connectionProvider(h.context, h.channelID, url)
	if err != nil {
		atomic.StoreInt32(&h.state, int32(Disconnected))
		return errors.WithMessagef(err, "error connecting to %s", url)
	}

	h.mutex.Lock()
	h.url = url
	h.conn = conn
	h.mutex.Unlock()

	atomic.StoreInt32(&h.state, int32(Connected))
	logger.Debugf("connected to %s", url)
	return nil
}

// BuildRequest resolves the given replay window against the hub's last
// observed block and produces the unsigned seek request. The block detail
// level of the window is forced to the hub's configured detail so that the
// request always matches the transport stream type.
func (h *Hub) BuildRequest(window seek.Window) (*seek.Request, error) {
	window.Detail = h.detail

	lastSeen, haveLastSeen := h.dispatcher.LastBlockNum()
	resolved, err := seek.Resolve(window, lastSeen, haveLastSeen)
	if err != nil {
		return nil, err
	}

	request, err := seek.NewRequest(h.context, h.channelID, resolved, h.tlsCertHash)
	if err != nil {
		return nil, err
	}

	h.mutex.Lock()
	h.request = request
	h.window = resolved
	h.mutex.Unlock()

	return request, nil
}

// SignRequest signs the most recently built seek request
func (h *Hub) SignRequest() error {
	h.mutex.Lock()
	request := h.request
	h.mutex.Unlock()

	if request == nil {
		return errors.New("no request has been built")
	}
	return request.Sign(h.context)
}

// Listen sends the signed seek request and starts receiving blocks. It is
// forbidden while a stream is already active: Disconnect first. If no
// message arrives within the stream-start timeout the session is torn down
// as a connection failure.
func (h *Hub) Listen() error {
	state := h.State()
	if state == Streaming {
		return errors.WithMessage(ErrStreaming, "disconnect before listening again")
	}
	if state != Connected {
		return errors.WithMessagef(ErrNotConnected, "state [%s]", state)
	}

	h.mutex.Lock()
	conn := h.conn
	request := h.request
	window := h.window
	h.mutex.Unlock()

	if conn == nil {
		return errors.WithMessage(ErrNotConnected, "no transport handle")
	}
	if request == nil {
		return errors.New("no request has been built")
	}

	envelope, err := request.Envelope()
	if err != nil {
		return err
	}

	if err := h.session.Start(conn, envelope, window, h.streamStartTimeout); err != nil {
		// the session tears the connection down on a failed start
		h.mutex.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mutex.Unlock()
		atomic.StoreInt32(&h.state, int32(Disconnected))
		return err
	}

	// the session owns the connection for the life of the stream
	h.mutex.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mutex.Unlock()

	atomic.StoreInt32(&h.state, int32(Streaming))
	logger.Debugf("listening for blocks on channel [%s]", h.channelID)
	return nil
}

// Disconnect terminates the current stream, if any, and releases the
// transport handle. It is safe to call from any state. Every registered
// listener is notified exactly once with a shutdown error before being
// removed.
func (h *Hub) Disconnect() {
	h.session.Teardown(ErrDisconnected)
	h.closeConn()

	// teardown only notifies listeners that were registered while a stream
	// was active; a disconnect before any stream started must notify too
	h.dispatcher.CloseAll(ErrDisconnected)

	atomic.StoreInt32(&h.state, int32(Disconnected))
}

// Close is an alias for Disconnect
func (h *Hub) Close() {
	h.Disconnect()
}

// CheckConnection reports whether the stream appears healthy. With
// forceReconnect, a paused stream is resumed and a broken or absent stream
// is replaced by a fresh one using the last signed request.
func (h *Hub) CheckConnection(forceReconnect bool) error {
	return h.session.CheckHealth(forceReconnect)
}

// RegisterBlockEvent registers a block listener
func (h *Hub) RegisterBlockEvent(callback api.BlockCallback, opts ...registry.Opt) (registry.ID, error) {
	return h.registry.RegisterBlock(callback, opts...)
}

// RegisterTxEvent registers a listener for the given transaction ID, or for
// all transactions if txID is registry.AllTransactions
func (h *Hub) RegisterTxEvent(txID string, callback api.TxStatusCallback, opts ...registry.Opt) (registry.ID, error) {
	return h.registry.RegisterTx(txID, callback, opts...)
}

// RegisterChaincodeEvent registers a listener for chaincode events matching
// the given event-name pattern
func (h *Hub) RegisterChaincodeEvent(ccID, eventFilter string, callback api.CCCallback, opts ...registry.Opt) (registry.ID, error) {
	return h.registry.RegisterChaincode(ccID, eventFilter, callback, opts...)
}

// Unregister removes the given registration. Removing an unknown id is a
// no-op.
func (h *Hub) Unregister(id registry.ID) {
	h.registry.Unregister(id)
}

// UnregisterStrict removes the given registration, failing with
// registry.ErrNotFound if it does not exist
func (h *Hub) UnregisterStrict(id registry.ID) error {
	return h.registry.UnregisterStrict(id)
}

// LastBlockReceived returns the number of the last block observed by this
// hub. The second return value is false if no block has been observed yet.
func (h *Hub) LastBlockReceived() (uint64, bool) {
	return h.dispatcher.LastBlockNum()
}

// restartStream opens a fresh connection and replays the last signed
// request. Used by the forced-reconnect path of CheckConnection.
func (h *Hub) restartStream() error {
	h.mutex.Lock()
	url := h.url
	request := h.request
	window := h.window
	h.mutex.Unlock()

	if url == "" {
		return errors.WithMessage(ErrNotConnected, "no URL to reconnect to")
	}
	if request == nil || len(request.Signature) == 0 {
		return errors.New("no signed request to replay")
	}

	if h.reconnectInitialDelay > 0 {
		time.Sleep(h.reconnectInitialDelay)
	}

	conn, err := h.connectionProvider(h.context, h.channelID, url)
	if err != nil {
		atomic.StoreInt32(&h.state, int32(Disconnected))
		return errors.WithMessagef(err, "error reconnecting to %s", url)
	}

	envelope, err := request.Envelope()
	if err != nil {
		conn.Close()
		return err
	}

	if err := h.session.Start(conn, envelope, window, h.streamStartTimeout); err != nil {
		conn.Close()
		atomic.StoreInt32(&h.state, int32(Disconnected))
		return err
	}

	atomic.StoreInt32(&h.state, int32(Streaming))
	logger.Debugf("stream restarted on channel [%s]", h.channelID)
	return nil
}

func (h *Hub) closeConn() {
	h.mutex.Lock()
	conn := h.conn
	h.conn = nil
	h.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// hubSink routes session output to the dispatcher and keeps the hub state
// in step with the session lifecycle
type hubSink struct {
	hub *Hub
}

func (s *hubSink) Dispatch(delivered classifier.Delivered, sourceURL string) {
	s.hub.dispatcher.Dispatch(delivered, sourceURL)
}

func (s *hubSink) CloseAll(err error) {
	atomic.StoreInt32(&s.hub.state, int32(Disconnected))
	s.hub.dispatcher.CloseAll(err)
}
