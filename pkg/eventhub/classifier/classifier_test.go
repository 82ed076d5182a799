/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package classifier

import (
	"testing"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securekey/fabric-eventhub/pkg/eventhub/mocks"
)

const (
	channelID = "testchannel"
	ccID      = "testcc"
)

func TestClassifyFullBlock(t *testing.T) {
	producer := mocks.NewBlockProducer()
	block := producer.NewBlock(channelID,
		mocks.NewTransactionWithCCEvent("txid1", pb.TxValidationCode_VALID, ccID, "event1", []byte("payload1")),
		mocks.NewTransaction("txid2", pb.TxValidationCode_MVCC_READ_CONFLICT, cb.HeaderType_ENDORSER_TRANSACTION),
	)

	delivered, err := Classify(mocks.NewBlockResponse(block))
	require.NoError(t, err)

	fullBlock, ok := delivered.(*FullBlock)
	require.True(t, ok, "expecting a full block but got %T", delivered)

	assert.Equal(t, block.Header.Number, fullBlock.Number)
	assert.Equal(t, block, fullBlock.Block)

	require.Len(t, fullBlock.Transactions, 2)

	tx1 := fullBlock.Transactions[0]
	assert.Equal(t, "txid1", tx1.TxID)
	assert.Equal(t, pb.TxValidationCode_VALID, tx1.TxValidationCode)
	require.Len(t, tx1.CCEvents, 1)
	assert.Equal(t, "event1", tx1.CCEvents[0].EventName)
	assert.Equal(t, []byte("payload1"), tx1.CCEvents[0].Payload)

	tx2 := fullBlock.Transactions[1]
	assert.Equal(t, "txid2", tx2.TxID)
	assert.Equal(t, pb.TxValidationCode_MVCC_READ_CONFLICT, tx2.TxValidationCode)
	assert.Empty(t, tx2.CCEvents)
}

func TestClassifyBlockWithPrivateData(t *testing.T) {
	producer := mocks.NewBlockProducer()
	block := producer.NewBlock(channelID,
		mocks.NewTransaction("txid1", pb.TxValidationCode_VALID, cb.HeaderType_ENDORSER_TRANSACTION),
	)

	response := &pb.DeliverResponse{
		Type: &pb.DeliverResponse_BlockAndPrivateData{
			BlockAndPrivateData: &pb.BlockAndPrivateData{Block: block},
		},
	}

	delivered, err := Classify(response)
	require.NoError(t, err)

	fullBlock, ok := delivered.(*FullBlock)
	require.True(t, ok, "expecting a full block but got %T", delivered)
	assert.Equal(t, block.Header.Number, fullBlock.Number)
}

func TestClassifyFilteredBlock(t *testing.T) {
	producer := mocks.NewBlockProducer()
	fblock := producer.NewFilteredBlock(channelID,
		mocks.NewFilteredTxWithCCEvent("txid1", ccID, "event1"),
		mocks.NewFilteredTx("txid2", pb.TxValidationCode_ENDORSEMENT_POLICY_FAILURE),
	)

	delivered, err := Classify(mocks.NewFilteredBlockResponse(fblock))
	require.NoError(t, err)

	filteredBlock, ok := delivered.(*FilteredBlock)
	require.True(t, ok, "expecting a filtered block but got %T", delivered)

	assert.Equal(t, fblock.Number, filteredBlock.Number)
	require.Len(t, filteredBlock.Transactions, 2)

	tx1 := filteredBlock.Transactions[0]
	assert.Equal(t, "txid1", tx1.TxID)
	require.Len(t, tx1.CCEvents, 1)
	assert.Equal(t, "event1", tx1.CCEvents[0].EventName)

	tx2 := filteredBlock.Transactions[1]
	assert.Equal(t, pb.TxValidationCode_ENDORSEMENT_POLICY_FAILURE, tx2.TxValidationCode)
	assert.Empty(t, tx2.CCEvents)
}

func TestClassifyFilteredBlockStripsPayload(t *testing.T) {
	ftx := mocks.NewFilteredTxWithCCEvent("txid1", ccID, "event1")
	ftx.GetTransactionActions().ChaincodeActions[0].ChaincodeEvent.Payload = []byte("should not survive")

	producer := mocks.NewBlockProducer()
	fblock := producer.NewFilteredBlock(channelID, ftx)

	delivered, err := Classify(mocks.NewFilteredBlockResponse(fblock))
	require.NoError(t, err)

	filteredBlock := delivered.(*FilteredBlock)
	require.Len(t, filteredBlock.Transactions, 1)
	require.Len(t, filteredBlock.Transactions[0].CCEvents, 1)
	assert.Nil(t, filteredBlock.Transactions[0].CCEvents[0].Payload)
}

func TestClassifyStatus(t *testing.T) {
	delivered, err := Classify(mocks.NewStatusResponse(cb.Status_SUCCESS))
	require.NoError(t, err)

	status, ok := delivered.(*Status)
	require.True(t, ok, "expecting a status but got %T", delivered)
	assert.Equal(t, cb.Status_SUCCESS, status.Status)
}

func TestClassifyUnknownType(t *testing.T) {
	_, err := Classify(nil)
	require.Error(t, err)
	assert.Equal(t, ErrUnknownMessageType, errors.Cause(err))

	_, err = Classify(&pb.DeliverResponse{})
	require.Error(t, err)
	assert.Equal(t, ErrUnknownMessageType, errors.Cause(err))
}

func TestClassifySkipsBadTransaction(t *testing.T) {
	producer := mocks.NewBlockProducer()
	block := producer.NewBlock(channelID,
		mocks.NewTransaction("txid1", pb.TxValidationCode_VALID, cb.HeaderType_ENDORSER_TRANSACTION),
	)
	block.Data.Data = append(block.Data.Data, []byte("not an envelope"))

	delivered, err := Classify(mocks.NewBlockResponse(block))
	require.NoError(t, err)

	fullBlock := delivered.(*FullBlock)
	require.Len(t, fullBlock.Transactions, 1)
	assert.Equal(t, "txid1", fullBlock.Transactions[0].TxID)
}

func TestCodeNames(t *testing.T) {
	assert.Equal(t, "VALID", CodeName(pb.TxValidationCode_VALID))

	code, ok := CodeFromName("MVCC_READ_CONFLICT")
	require.True(t, ok)
	assert.Equal(t, pb.TxValidationCode_MVCC_READ_CONFLICT, code)

	_, ok = CodeFromName("NO_SUCH_CODE")
	assert.False(t, ok)
}
