/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// BlockEvent is delivered to block listeners. Exactly one of Block and
// FilteredBlock is set, depending on the block-detail level of the stream.
type BlockEvent struct {
	// BlockNumber is the number of the delivered block
	BlockNumber uint64

	// Block is set when the stream delivers full blocks
	Block *cb.Block

	// FilteredBlock is set when the stream delivers filtered blocks
	FilteredBlock *pb.FilteredBlock

	// SourceURL is the URL of the peer that produced the event
	SourceURL string

	// EndOfRange is true for the terminal notification of a listener whose
	// end-block bound equals BlockNumber
	EndOfRange bool
}

// TxStatusEvent is delivered to transaction listeners
type TxStatusEvent struct {
	// TxID is the transaction ID
	TxID string

	// TxValidationCode is the validation outcome of the transaction
	TxValidationCode pb.TxValidationCode

	// BlockNumber is the number of the block containing the transaction
	BlockNumber uint64

	// SourceURL is the URL of the peer that produced the event
	SourceURL string

	// EndOfRange is true for the terminal notification of a listener whose
	// end-block bound equals BlockNumber
	EndOfRange bool
}

// CCEvent is delivered to chaincode listeners. Payload is nil for events
// originating from a filtered stream.
type CCEvent struct {
	// ChaincodeID is the ID of the chaincode that set the event
	ChaincodeID string

	// EventName is the name of the chaincode event
	EventName string

	// TxID is the ID of the transaction in which the event was set
	TxID string

	// Payload is the event payload. Nil for filtered streams.
	Payload []byte

	// BlockNumber is the number of the block containing the transaction
	BlockNumber uint64

	// SourceURL is the URL of the peer that produced the event
	SourceURL string

	// EndOfRange is true for the terminal notification of a listener whose
	// end-block bound equals BlockNumber
	EndOfRange bool
}

// BlockCallback is invoked once per delivered block. On stream failure the
// callback is invoked a final time with a nil event and a non-nil error.
type BlockCallback func(event *BlockEvent, err error)

// TxStatusCallback is invoked when a matching transaction is seen in a
// delivered block. On stream failure the callback is invoked a final time
// with a nil event and a non-nil error.
type TxStatusCallback func(event *TxStatusEvent, err error)

// CCCallback is invoked with the chaincode events matched in a delivered
// block: one call per event in per-event mode (single-element slice), or a
// single call with all matched events in batch mode. On stream failure the
// callback is invoked a final time with a nil slice and a non-nil error.
type CCCallback func(events []*CCEvent, err error)
