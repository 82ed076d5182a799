/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"sync/atomic"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// BlockProducer produces mock blocks with sequential block numbers
type BlockProducer struct {
	blockNum uint64
}

// NewBlockProducer returns a new block producer
func NewBlockProducer() *BlockProducer {
	return &BlockProducer{}
}

// NewBlock returns a new block with the next sequential block number
func (p *BlockProducer) NewBlock(channelID string, transactions ...*TxInfo) *cb.Block {
	block := NewBlock(channelID, transactions...)
	block.Header.Number = p.nextBlockNum()
	return block
}

// NewFilteredBlock returns a new filtered block with the next sequential
// block number
func (p *BlockProducer) NewFilteredBlock(channelID string, filteredTx ...*pb.FilteredTransaction) *pb.FilteredBlock {
	block := NewFilteredBlock(channelID, filteredTx...)
	block.Number = p.nextBlockNum()
	return block
}

func (p *BlockProducer) nextBlockNum() uint64 {
	num := atomic.LoadUint64(&p.blockNum)
	atomic.AddUint64(&p.blockNum, 1)
	return num
}

// NewBlockResponse wraps the given block in a deliver response
func NewBlockResponse(block *cb.Block) *pb.DeliverResponse {
	return &pb.DeliverResponse{
		Type: &pb.DeliverResponse_Block{Block: block},
	}
}

// NewFilteredBlockResponse wraps the given filtered block in a deliver
// response
func NewFilteredBlockResponse(block *pb.FilteredBlock) *pb.DeliverResponse {
	return &pb.DeliverResponse{
		Type: &pb.DeliverResponse_FilteredBlock{FilteredBlock: block},
	}
}

// NewStatusResponse returns a deliver response with the given status
func NewStatusResponse(status cb.Status) *pb.DeliverResponse {
	return &pb.DeliverResponse{
		Type: &pb.DeliverResponse_Status{Status: status},
	}
}
