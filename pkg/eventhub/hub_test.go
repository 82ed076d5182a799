/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package eventhub

import (
	"testing"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/mocks"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/registry"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/seek"
)

const (
	channelID = "testchannel"
	peerURL   = "grpc://localhost:9051"
)

var testTimeout = 5 * time.Second

func newStreamingHub(t *testing.T, factory *mocks.ProviderFactory, window seek.Window) *Hub {
	h := New(mocks.NewMockContext(), channelID,
		WithConnectionProvider(factory.Provider()),
		WithBlockDetail(seek.Full),
	)

	require.NoError(t, h.Connect(peerURL))
	assert.Equal(t, Connected, h.State())

	_, err := h.BuildRequest(window)
	require.NoError(t, err)
	require.NoError(t, h.SignRequest())
	require.NoError(t, h.Listen())
	assert.Equal(t, Streaming, h.State())

	return h
}

func expectBlock(t *testing.T, eventch chan *api.BlockEvent) *api.BlockEvent {
	select {
	case event := <-eventch:
		return event
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for block event")
		return nil
	}
}

// Scenario: a block listener receives each delivered full block exactly once
func TestBlockEvents(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})
	defer h.Close()

	eventch := make(chan *api.BlockEvent, 10)
	_, err := h.RegisterBlockEvent(func(event *api.BlockEvent, err error) {
		if err == nil {
			eventch <- event
		}
	})
	require.NoError(t, err)

	producer := mocks.NewBlockProducer()
	block := producer.NewBlock(channelID)
	block.Header.Number = 42
	factory.Connection().ProduceResponse(mocks.NewBlockResponse(block))

	event := expectBlock(t, eventch)
	assert.Equal(t, uint64(42), event.BlockNumber)
	require.NotNil(t, event.Block)
	assert.Equal(t, peerURL, event.SourceURL)

	num, ok := h.LastBlockReceived()
	require.True(t, ok)
	assert.Equal(t, uint64(42), num)
}

// Scenario: a specific-id transaction listener fires once and is removed
func TestTxStatusEvents(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})
	defer h.Close()

	eventch := make(chan *api.TxStatusEvent, 10)
	_, err := h.RegisterTxEvent("tx-77", func(event *api.TxStatusEvent, err error) {
		if err == nil {
			eventch <- event
		}
	})
	require.NoError(t, err)

	producer := mocks.NewBlockProducer()
	block := producer.NewBlock(channelID,
		mocks.NewTransaction("tx-77", pb.TxValidationCode_VALID, cb.HeaderType_ENDORSER_TRANSACTION),
	)
	block.Header.Number = 10
	factory.Connection().ProduceResponse(mocks.NewBlockResponse(block))

	select {
	case event := <-eventch:
		assert.Equal(t, "tx-77", event.TxID)
		assert.Equal(t, pb.TxValidationCode_VALID, event.TxValidationCode)
		assert.Equal(t, uint64(10), event.BlockNumber)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for tx status event")
	}

	// the specific-id listener is one-shot by default
	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, testTimeout, 10*time.Millisecond)
}

// Scenario: an all-transactions listener fires per transaction and survives
func TestAllTxListener(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})
	defer h.Close()

	eventch := make(chan *api.TxStatusEvent, 10)
	_, err := h.RegisterTxEvent(registry.AllTransactions, func(event *api.TxStatusEvent, err error) {
		if err == nil {
			eventch <- event
		}
	})
	require.NoError(t, err)

	producer := mocks.NewBlockProducer()
	conn := factory.Connection()
	for i := 1; i <= 3; i++ {
		conn.ProduceResponse(mocks.NewBlockResponse(producer.NewBlock(channelID,
			mocks.NewTransaction("txid", pb.TxValidationCode_VALID, cb.HeaderType_ENDORSER_TRANSACTION),
		)))
	}

	for i := 1; i <= 3; i++ {
		select {
		case <-eventch:
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for tx status event %d", i)
		}
	}

	assert.Equal(t, 1, h.registry.Len())
}

func TestChaincodeEvents(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})
	defer h.Close()

	eventch := make(chan *api.CCEvent, 10)
	_, err := h.RegisterChaincodeEvent("cc1", "event.*", func(events []*api.CCEvent, err error) {
		if err != nil {
			return
		}
		for _, event := range events {
			eventch <- event
		}
	})
	require.NoError(t, err)

	producer := mocks.NewBlockProducer()
	factory.Connection().ProduceResponse(mocks.NewBlockResponse(producer.NewBlock(channelID,
		mocks.NewTransactionWithCCEvent("txid1", pb.TxValidationCode_VALID, "cc1", "event1", []byte("payload1")),
	)))

	select {
	case event := <-eventch:
		assert.Equal(t, "cc1", event.ChaincodeID)
		assert.Equal(t, "event1", event.EventName)
		assert.Equal(t, []byte("payload1"), event.Payload)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for chaincode event")
	}
}

// Scenario: disconnect notifies every listener exactly once and the hub is
// reusable afterwards
func TestDisconnectNotifiesListeners(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})

	blockErrs := make(chan error, 10)
	_, err := h.RegisterBlockEvent(func(event *api.BlockEvent, err error) {
		if err != nil {
			blockErrs <- err
		}
	})
	require.NoError(t, err)

	ccErrs := make(chan error, 10)
	_, err = h.RegisterChaincodeEvent("cc1", "event.*", func(events []*api.CCEvent, err error) {
		if err != nil {
			ccErrs <- err
		}
	})
	require.NoError(t, err)

	h.Disconnect()
	assert.Equal(t, Disconnected, h.State())

	for _, errch := range []chan error{blockErrs, ccErrs} {
		select {
		case err := <-errch:
			assert.Equal(t, ErrDisconnected, errors.Cause(err))
		case <-time.After(testTimeout):
			t.Fatal("timed out waiting for shutdown error")
		}
	}

	assert.Zero(t, h.registry.Len())

	// registration after disconnect succeeds
	_, err = h.RegisterBlockEvent(func(event *api.BlockEvent, err error) {})
	require.NoError(t, err)
}

func TestListenWhileStreaming(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})
	defer h.Close()

	err := h.Listen()
	require.Error(t, err)
	assert.Equal(t, ErrStreaming, errors.Cause(err))
}

func TestListenRequiresConnectAndRequest(t *testing.T) {
	h := New(mocks.NewMockContext(), channelID,
		WithConnectionProvider(mocks.NewProviderFactory().Provider()),
	)

	err := h.Listen()
	require.Error(t, err)
	assert.Equal(t, ErrNotConnected, errors.Cause(err))

	require.NoError(t, h.Connect(peerURL))
	err = h.Listen()
	require.Error(t, err)

	_, err = h.BuildRequest(seek.Window{})
	require.NoError(t, err)

	// the request must be signed before listening
	err = h.Listen()
	require.Error(t, err)
	assert.Equal(t, seek.ErrNotSigned, errors.Cause(err))

	require.NoError(t, h.SignRequest())
	require.NoError(t, h.Listen())
	h.Close()
}

func TestBuildRequestInvalidRange(t *testing.T) {
	h := New(mocks.NewMockContext(), channelID,
		WithConnectionProvider(mocks.NewProviderFactory().Provider()),
	)

	_, err := h.BuildRequest(seek.Window{Start: seek.FromBlock(10), End: seek.FromBlock(5)})
	require.Error(t, err)
	assert.Equal(t, seek.ErrInvalidRange, errors.Cause(err))
}

// Scenario: a replay-bounded listener drives a bounded stream and receives
// a terminal end-of-range notification when the window completes
func TestBoundedReplay(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{Start: seek.FromBlock(0), End: seek.FromBlock(1)})

	eventch := make(chan *api.BlockEvent, 10)
	_, err := h.RegisterBlockEvent(func(event *api.BlockEvent, err error) {
		if err == nil {
			eventch <- event
		}
	}, registry.WithEndBlock(1))
	require.NoError(t, err)

	producer := mocks.NewBlockProducer()
	conn := factory.Connection()
	conn.ProduceResponse(mocks.NewBlockResponse(producer.NewBlock(channelID)))
	conn.ProduceResponse(mocks.NewBlockResponse(producer.NewBlock(channelID)))

	event := expectBlock(t, eventch)
	assert.False(t, event.EndOfRange)

	event = expectBlock(t, eventch)
	assert.True(t, event.EndOfRange)
	assert.Equal(t, uint64(1), event.BlockNumber)

	// reaching the end block tears the stream down; the bounded listener
	// was already removed after its terminal notification
	require.Eventually(t, func() bool { return h.State() == Disconnected }, testTimeout, 10*time.Millisecond)
	assert.Zero(t, h.registry.Len())
}

func TestReconnectWithLastSeen(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})

	eventch := make(chan *api.BlockEvent, 10)
	_, err := h.RegisterBlockEvent(func(event *api.BlockEvent, err error) {
		if err == nil {
			eventch <- event
		}
	})
	require.NoError(t, err)

	producer := mocks.NewBlockProducer()
	block := producer.NewBlock(channelID)
	block.Header.Number = 7
	factory.Connection().ProduceResponse(mocks.NewBlockResponse(block))
	expectBlock(t, eventch)

	h.Disconnect()

	// a fresh session resuming from the last seen block
	require.NoError(t, h.Connect(peerURL))
	request, err := h.BuildRequest(seek.Window{Start: seek.LastSeen()})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), request.Window.Info.Start.GetSpecified().Number)

	require.NoError(t, h.SignRequest())
	require.NoError(t, h.Listen())
	assert.Equal(t, Streaming, h.State())
	h.Close()
}

func TestLastSeenWithoutHistory(t *testing.T) {
	h := New(mocks.NewMockContext(), channelID,
		WithConnectionProvider(mocks.NewProviderFactory().Provider()),
	)

	_, err := h.BuildRequest(seek.Window{Start: seek.LastSeen()})
	require.Error(t, err)
	assert.Equal(t, seek.ErrNoLastSeen, errors.Cause(err))
}

func TestCheckConnection(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})
	defer h.Close()

	eventch := make(chan *api.BlockEvent, 10)
	_, err := h.RegisterBlockEvent(func(event *api.BlockEvent, err error) {
		if err == nil {
			eventch <- event
		}
	})
	require.NoError(t, err)

	producer := mocks.NewBlockProducer()
	factory.Connection().ProduceResponse(mocks.NewBlockResponse(producer.NewBlock(channelID)))
	expectBlock(t, eventch)

	require.NoError(t, h.CheckConnection(false))

	factory.Connection().SetPaused(true)
	require.Error(t, h.CheckConnection(false))
	require.NoError(t, h.CheckConnection(true))
	assert.False(t, factory.Connection().Paused())
}

func TestConnectWhileStreaming(t *testing.T) {
	factory := mocks.NewProviderFactory()
	h := newStreamingHub(t, factory, seek.Window{})
	defer h.Close()

	err := h.Connect(peerURL)
	require.Error(t, err)
	assert.Equal(t, ErrStreaming, errors.Cause(err))
}
