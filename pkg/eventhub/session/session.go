/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package session owns the lifecycle of one delivery stream: timeout-guarded
// startup, message classification and routing, staleness detection for
// superseded streams, and idempotent teardown.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"

	"github.com/securekey/fabric-eventhub/pkg/common/logging"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/classifier"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/seek"
)

var logger = logging.NewLogger("eventhub/session")

// ErrAlreadyStarting indicates that Start was invoked while a stream is
// already starting or active on this session.
var ErrAlreadyStarting = errors.New("a stream is already starting or active")

// ErrStartTimeout indicates that no message arrived from the delivery
// service before the startup timeout expired.
var ErrStartTimeout = errors.New("timed out waiting for the first deliver message")

// ErrStreamCompleted is the benign teardown reason used when the stream
// reaches the end of its requested block range.
var ErrStreamCompleted = errors.New("end of the requested block range reached")

// ErrNotActive indicates that a health check was requested while no stream
// is active.
var ErrNotActive = errors.New("no stream is active")

// State is the session lifecycle state
type State int32

const (
	// Idle indicates that no stream is open
	Idle State = iota
	// Starting indicates that the seek envelope was sent and the session is
	// waiting for the first message
	Starting
	// Active indicates that at least one message was received
	Active
	// Terminating indicates that a teardown is in progress
	Terminating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Active:
		return "Active"
	case Terminating:
		return "Terminating"
	default:
		return "Unknown"
	}
}

// EventSink receives the classified blocks and the closure notification for
// a stream
type EventSink interface {
	Dispatch(delivered classifier.Delivered, sourceURL string)
	CloseAll(err error)
}

// Session drives one delivery stream at a time. The streamID and state
// members MUST be first to ensure they stay 64-bit aligned on 32-bit
// machines.
type Session struct {
	streamID uint64 // Must be first, do not move
	state    int32

	params
	sink EventSink

	mutex        sync.Mutex
	conn         api.Connection
	window       *seek.ResolvedWindow
	timer        *time.Timer
	endBlockSeen bool
	restart      func() error
}

// New returns an idle Session that delivers classified blocks to the given
// sink
func New(sink EventSink, opts ...options.Opt) *Session {
	params := defaultParams()
	options.Apply(params, opts)

	return &Session{
		params: *params,
		sink:   sink,
	}
}

// SetRestartHandler sets the function used by CheckHealth to open a fresh
// stream when a forced reconnect finds the current one broken or absent
func (s *Session) SetRestartHandler(handler func() error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.restart = handler
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Start sends the signed seek envelope over the given connection and begins
// consuming the stream. It fails with ErrAlreadyStarting if a stream is
// already starting or active. If no message arrives within the given timeout
// the session is torn down as if the transport had failed.
func (s *Session) Start(conn api.Connection, envelope *cb.Envelope, window *seek.ResolvedWindow, timeout time.Duration) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(Idle), int32(Starting)) {
		return errors.WithMessagef(ErrAlreadyStarting, "state [%s]", s.State())
	}

	// a new generation invalidates any in-flight messages from a
	// predecessor stream
	streamID := atomic.AddUint64(&s.streamID, 1)

	s.mutex.Lock()
	s.conn = conn
	s.window = window
	s.endBlockSeen = false
	s.mutex.Unlock()

	eventch := make(chan interface{}, s.bufferSize)
	go conn.Receive(eventch)

	if err := conn.Send(envelope); err != nil {
		s.teardown(errors.WithMessage(err, "error sending seek envelope"))
		return errors.WithMessage(err, "error sending seek envelope")
	}

	s.armTimer(streamID, timeout)

	go s.consume(streamID, eventch)

	return nil
}

// Teardown terminates the current stream with the given reason. It is
// idempotent: a re-entrant call while a teardown is already in progress is a
// no-op.
func (s *Session) Teardown(reason error) {
	s.teardown(reason)
}

// CheckHealth reports whether the stream appears healthy. With
// forceReconnect, a merely paused stream is resumed and a broken or absent
// stream is replaced via the restart handler; a failure on that path tears
// the session down.
func (s *Session) CheckHealth(forceReconnect bool) error {
	s.mutex.Lock()
	conn := s.conn
	restart := s.restart
	s.mutex.Unlock()

	if s.State() != Active || conn == nil || conn.Closed() {
		if !forceReconnect {
			return errors.WithMessagef(ErrNotActive, "state [%s]", s.State())
		}
		return s.forceRestart(restart)
	}

	if conn.Paused() {
		if !forceReconnect {
			return errors.New("stream is paused")
		}
		if err := conn.Resume(); err != nil {
			err = errors.WithMessage(err, "error resuming paused stream")
			s.teardown(err)
			return err
		}
		return nil
	}

	if !conn.Ready() {
		if !forceReconnect {
			return errors.New("transport is not ready")
		}
		return s.forceRestart(restart)
	}

	return nil
}

func (s *Session) forceRestart(restart func() error) error {
	if restart == nil {
		return errors.New("no restart handler is set")
	}

	logger.Debugf("forced reconnect: replacing the current stream")
	s.teardown(errors.New("stream replaced by forced reconnect"))

	if err := restart(); err != nil {
		err = errors.WithMessage(err, "error restarting stream")
		s.teardown(err)
		return err
	}
	return nil
}

// consume reads transport events for one stream generation. Messages whose
// generation no longer matches the session's current one belong to a
// cancelled predecessor and are silently dropped.
func (s *Session) consume(streamID uint64, eventch <-chan interface{}) {
	for event := range eventch {
		if atomic.LoadUint64(&s.streamID) != streamID {
			s.metrics.StaleDropped.Add(1)
			logger.Debugf("dropping message from superseded stream %d", streamID)
			continue
		}

		// first byte received means the stream started
		s.stopTimer()
		atomic.CompareAndSwapInt32(&s.state, int32(Starting), int32(Active))

		switch e := event.(type) {
		case *api.MessageEvent:
			s.handleMessage(e)
		case *api.DisconnectedEvent:
			s.handleDisconnected(e)
		default:
			logger.Warnf("unsupported event type %T", event)
		}
	}

	// the transport closed the event channel without a status message or a
	// disconnect event. If this generation is still current then the server
	// ended the stream and the session must not linger.
	if atomic.LoadUint64(&s.streamID) == streamID {
		s.teardown(errors.New("deliver stream ended"))
	}
}

func (s *Session) handleMessage(event *api.MessageEvent) {
	delivered, err := classifier.Classify(event.Response)
	if err != nil {
		s.teardown(err)
		return
	}

	if status, ok := delivered.(*classifier.Status); ok {
		s.handleStatus(status.Status)
		return
	}

	s.sink.Dispatch(delivered, event.SourceURL)

	num, ok := blockNumber(delivered)
	if !ok {
		return
	}

	s.mutex.Lock()
	window := s.window
	endReached := window != nil && window.EndSet && num >= window.EndBlock
	if endReached {
		s.endBlockSeen = true
	}
	s.mutex.Unlock()

	if endReached {
		logger.Debugf("end block %d reached at block %d", window.EndBlock, num)
		s.teardown(ErrStreamCompleted)
	}
}

func (s *Session) handleStatus(status cb.Status) {
	if status != cb.Status_SUCCESS {
		s.teardown(errors.Errorf("deliver stream terminated with status [%s]", status))
		return
	}

	s.mutex.Lock()
	endBlockSeen := s.endBlockSeen
	endIsNewest := s.window != nil && s.window.EndIsNewest
	s.mutex.Unlock()

	if endBlockSeen {
		// informational; the range already completed
		logger.Debugf("received success status after end block was seen")
		return
	}
	if endIsNewest {
		logger.Debugf("received success status for a window ending at the newest block")
	}
	s.teardown(ErrStreamCompleted)
}

func (s *Session) handleDisconnected(event *api.DisconnectedEvent) {
	err := event.Err
	if err == nil {
		err = errors.New("stream ended unexpectedly")
	}
	s.teardown(errors.WithMessage(err, "transport disconnected"))
}

// teardown is the single exit path for a stream. Exactly one caller wins
// the transition to Terminating; the rest are no-ops.
func (s *Session) teardown(reason error) {
	for {
		state := atomic.LoadInt32(&s.state)
		if state == int32(Terminating) || state == int32(Idle) {
			return
		}
		if atomic.CompareAndSwapInt32(&s.state, state, int32(Terminating)) {
			break
		}
	}

	logger.Debugf("tearing down stream: %s", reason)

	s.stopTimer()

	// invalidate in-flight messages from the stream being torn down
	atomic.AddUint64(&s.streamID, 1)

	s.mutex.Lock()
	conn := s.conn
	s.conn = nil
	s.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}

	s.metrics.Teardowns.Add(1)
	atomic.StoreInt32(&s.state, int32(Idle))

	s.sink.CloseAll(reason)
}

func (s *Session) armTimer(streamID uint64, timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.timer = time.AfterFunc(timeout, func() {
		// losing the race against the first message must be a no-op
		if atomic.LoadUint64(&s.streamID) != streamID {
			return
		}
		if State(atomic.LoadInt32(&s.state)) != Starting {
			return
		}
		logger.Warnf("no deliver message received within %s", timeout)
		s.teardown(errors.WithMessagef(ErrStartTimeout, "timeout %s", timeout))
	})
}

func (s *Session) stopTimer() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func blockNumber(delivered classifier.Delivered) (uint64, bool) {
	switch block := delivered.(type) {
	case *classifier.FullBlock:
		return block.Number, true
	case *classifier.FilteredBlock:
		return block.Number, true
	default:
		return 0, false
	}
}
