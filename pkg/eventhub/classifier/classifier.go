/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package classifier turns raw delivery-service responses into a closed set
// of variants so that downstream code can match exhaustively on the variant
// instead of re-inspecting protobuf fields.
package classifier

import (
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/securekey/fabric-eventhub/pkg/common/logging"
)

var logger = logging.NewLogger("eventhub/classifier")

// ErrUnknownMessageType indicates that a delivered message carried a type
// tag outside of {block, filtered block, status}. The session treats this
// as fatal.
var ErrUnknownMessageType = errors.New("unknown deliver message type")

// TxInfo is the uniform per-transaction view extracted from either a full
// or a filtered block
type TxInfo struct {
	TxID             string
	TxValidationCode pb.TxValidationCode
	CCEvents         []*pb.ChaincodeEvent
}

// Delivered is a classified delivery-service message. The concrete type is
// one of *FullBlock, *FilteredBlock or *Status.
type Delivered interface {
	delivered()
}

// FullBlock is a delivered block with full transaction content
type FullBlock struct {
	Number       uint64
	Block        *cb.Block
	Transactions []TxInfo
}

func (*FullBlock) delivered() {}

// FilteredBlock is a delivered block reduced to transaction ids, validation
// codes and chaincode-event stubs. Chaincode events never carry a payload.
type FilteredBlock struct {
	Number       uint64
	Block        *pb.FilteredBlock
	Transactions []TxInfo
}

func (*FilteredBlock) delivered() {}

// Status is a delivery-service status message
type Status struct {
	Status cb.Status
}

func (*Status) delivered() {}

// Classify determines whether the given response is a full block, a filtered
// block or a status message. It is a pure function: it never mutates hub
// state. Responses with an unrecognized type tag fail with
// ErrUnknownMessageType.
func Classify(response *pb.DeliverResponse) (Delivered, error) {
	if response == nil {
		return nil, errors.WithMessage(ErrUnknownMessageType, "nil deliver response")
	}

	switch t := response.Type.(type) {
	case *pb.DeliverResponse_Block:
		return classifyBlock(t.Block)
	case *pb.DeliverResponse_BlockAndPrivateData:
		return classifyBlock(t.BlockAndPrivateData.Block)
	case *pb.DeliverResponse_FilteredBlock:
		return classifyFilteredBlock(t.FilteredBlock), nil
	case *pb.DeliverResponse_Status:
		return &Status{Status: t.Status}, nil
	default:
		return nil, errors.WithMessagef(ErrUnknownMessageType, "unexpected response type %T", response.Type)
	}
}

func classifyBlock(block *cb.Block) (*FullBlock, error) {
	if block == nil || block.Header == nil {
		return nil, errors.WithMessage(ErrUnknownMessageType, "block has no header")
	}

	return &FullBlock{
		Number:       block.Header.Number,
		Block:        block,
		Transactions: extractTransactions(block),
	}, nil
}

func classifyFilteredBlock(fblock *pb.FilteredBlock) *FilteredBlock {
	var transactions []TxInfo
	for _, tx := range fblock.FilteredTransactions {
		transactions = append(transactions, TxInfo{
			TxID:             tx.Txid,
			TxValidationCode: tx.TxValidationCode,
			CCEvents:         filteredCCEvents(tx),
		})
	}

	return &FilteredBlock{
		Number:       fblock.Number,
		Block:        fblock,
		Transactions: transactions,
	}
}

// filteredCCEvents returns payload-free copies of the chaincode events in a
// filtered transaction. The contract with listeners is that filtered data
// never carries a payload, even if the wire message included an empty one.
func filteredCCEvents(tx *pb.FilteredTransaction) []*pb.ChaincodeEvent {
	actions := tx.GetTransactionActions()
	if actions == nil {
		return nil
	}

	var events []*pb.ChaincodeEvent
	for _, action := range actions.ChaincodeActions {
		event := action.ChaincodeEvent
		if event == nil {
			continue
		}
		events = append(events, &pb.ChaincodeEvent{
			ChaincodeId: event.ChaincodeId,
			TxId:        event.TxId,
			EventName:   event.EventName,
		})
	}
	return events
}

func extractTransactions(block *cb.Block) []TxInfo {
	txFilter := transactionFilter(block)

	var transactions []TxInfo
	for i, data := range block.Data.Data {
		txInfo, err := extractTransaction(data, txFilter.flag(i))
		if err != nil {
			logger.Warnf("error extracting transaction from block %d: %s", block.Header.Number, err)
			continue
		}
		transactions = append(transactions, txInfo)
	}
	return transactions
}

func transactionFilter(block *cb.Block) txValidationFlags {
	if block.Metadata == nil || len(block.Metadata.Metadata) <= int(cb.BlockMetadataIndex_TRANSACTIONS_FILTER) {
		return nil
	}
	return txValidationFlags(block.Metadata.Metadata[cb.BlockMetadataIndex_TRANSACTIONS_FILTER])
}

// txValidationFlags is the per-transaction validation-code array carried in
// the block metadata
type txValidationFlags []byte

func (f txValidationFlags) flag(i int) pb.TxValidationCode {
	if i >= len(f) {
		return pb.TxValidationCode_NOT_VALIDATED
	}
	return pb.TxValidationCode(f[i])
}

func extractTransaction(data []byte, code pb.TxValidationCode) (TxInfo, error) {
	env := &cb.Envelope{}
	if err := proto.Unmarshal(data, env); err != nil {
		return TxInfo{}, errors.Wrap(err, "error extracting envelope from block")
	}

	payload := &cb.Payload{}
	if err := proto.Unmarshal(env.Payload, payload); err != nil {
		return TxInfo{}, errors.Wrap(err, "error extracting payload from envelope")
	}
	if payload.Header == nil {
		return TxInfo{}, errors.New("payload has no header")
	}

	chdr := &cb.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, chdr); err != nil {
		return TxInfo{}, errors.Wrap(err, "error extracting channel header from payload")
	}

	txInfo := TxInfo{
		TxID:             chdr.TxId,
		TxValidationCode: code,
	}

	if cb.HeaderType(chdr.Type) == cb.HeaderType_ENDORSER_TRANSACTION {
		events, err := extractCCEvents(payload.Data)
		if err != nil {
			return TxInfo{}, err
		}
		txInfo.CCEvents = events
	}

	return txInfo, nil
}

func extractCCEvents(data []byte) ([]*pb.ChaincodeEvent, error) {
	tx := &pb.Transaction{}
	if err := proto.Unmarshal(data, tx); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling transaction payload")
	}

	var events []*pb.ChaincodeEvent
	for _, action := range tx.Actions {
		ccActionPayload := &pb.ChaincodeActionPayload{}
		if err := proto.Unmarshal(action.Payload, ccActionPayload); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling chaincode action payload")
		}
		if ccActionPayload.Action == nil {
			continue
		}

		respPayload := &pb.ProposalResponsePayload{}
		if err := proto.Unmarshal(ccActionPayload.Action.ProposalResponsePayload, respPayload); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling proposal response payload")
		}

		ccAction := &pb.ChaincodeAction{}
		if err := proto.Unmarshal(respPayload.Extension, ccAction); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling chaincode action")
		}
		if len(ccAction.Events) == 0 {
			continue
		}

		event := &pb.ChaincodeEvent{}
		if err := proto.Unmarshal(ccAction.Events, event); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling chaincode event")
		}
		if event.EventName != "" {
			events = append(events, event)
		}
	}
	return events, nil
}
