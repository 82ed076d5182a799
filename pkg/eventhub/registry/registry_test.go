/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package registry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
)

func noopBlockCallback(*api.BlockEvent, error) {}
func noopTxCallback(*api.TxStatusEvent, error) {}
func noopCCCallback([]*api.CCEvent, error)     {}

func TestRegisterBlock(t *testing.T) {
	reg := New()

	id, err := reg.RegisterBlock(noopBlockCallback)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.True(t, reg.HasBlockListeners())
	assert.Equal(t, 1, reg.Len())

	_, err = reg.RegisterBlock(nil)
	require.Error(t, err)
}

func TestRegisterTxDuplicate(t *testing.T) {
	reg := New()

	_, err := reg.RegisterTx("txid1", noopTxCallback)
	require.NoError(t, err)

	_, err = reg.RegisterTx("txid1", noopTxCallback)
	require.Error(t, err)
	assert.Equal(t, ErrDuplicateRegistration, errors.Cause(err))

	// multiple all-transaction listeners are permitted
	_, err = reg.RegisterTx(AllTransactions, noopTxCallback)
	require.NoError(t, err)
	_, err = reg.RegisterTx(AllTransactions, noopTxCallback)
	require.NoError(t, err)
}

func TestSpecificTxListenerIsOneShot(t *testing.T) {
	reg := New()

	_, err := reg.RegisterTx("txid1", noopTxCallback)
	require.NoError(t, err)
	_, tx, _ := reg.Snapshot()
	require.Len(t, tx, 1)
	assert.True(t, tx[0].UnregisterOnMatch)

	reg2 := New()
	_, err = reg2.RegisterTx("txid1", noopTxCallback, WithUnregister(false))
	require.NoError(t, err)
	_, tx, _ = reg2.Snapshot()
	require.Len(t, tx, 1)
	assert.False(t, tx[0].UnregisterOnMatch)
}

func TestRegisterChaincode(t *testing.T) {
	reg := New()

	id, err := reg.RegisterChaincode("cc1", "event.*", noopCCCallback)
	require.NoError(t, err)
	require.NotZero(t, id)

	_, _, cc := reg.Snapshot()
	require.Len(t, cc, 1)
	assert.True(t, cc[0].EventRegExp.MatchString("event1"))
	assert.False(t, cc[0].EventRegExp.MatchString("other"))

	_, err = reg.RegisterChaincode("cc1", "(bad", noopCCCallback)
	require.Error(t, err)
}

func TestUnregister(t *testing.T) {
	reg := New()

	id, err := reg.RegisterBlock(noopBlockCallback)
	require.NoError(t, err)

	// lenient variant never fails
	reg.Unregister(id)
	reg.Unregister(id)
	assert.False(t, reg.HasBlockListeners())

	err = reg.UnregisterStrict(id)
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}

func TestUnregisterRecomputesFlags(t *testing.T) {
	reg := New()

	id1, err := reg.RegisterTx("txid1", noopTxCallback)
	require.NoError(t, err)
	id2, err := reg.RegisterTx("txid2", noopTxCallback)
	require.NoError(t, err)

	reg.Unregister(id1)
	assert.True(t, reg.HasTxListeners())

	reg.Unregister(id2)
	assert.False(t, reg.HasTxListeners())

	// the id is free for re-registration once removed
	_, err = reg.RegisterTx("txid1", noopTxCallback)
	require.NoError(t, err)
}

func TestSnapshotOrder(t *testing.T) {
	reg := New()

	id1, err := reg.RegisterBlock(noopBlockCallback)
	require.NoError(t, err)
	id2, err := reg.RegisterBlock(noopBlockCallback)
	require.NoError(t, err)
	id3, err := reg.RegisterBlock(noopBlockCallback)
	require.NoError(t, err)

	block, _, _ := reg.Snapshot()
	require.Len(t, block, 3)
	assert.Equal(t, []ID{id1, id2, id3}, []ID{block[0].ID, block[1].ID, block[2].ID})
}

func TestRangeBoundRegistration(t *testing.T) {
	reg := New()

	_, err := reg.RegisterBlock(noopBlockCallback, WithStartBlock(5), WithEndBlock(10))
	require.NoError(t, err)

	// only one registration may drive the replay window
	_, err = reg.RegisterBlock(noopBlockCallback, WithEndBlock(20))
	require.Error(t, err)
	assert.Equal(t, ErrRangeRegistrationExists, errors.Cause(err))

	// non-range-bound registrations remain permitted
	_, err = reg.RegisterBlock(noopBlockCallback)
	require.NoError(t, err)
}

func TestInvalidListenerRange(t *testing.T) {
	reg := New()

	_, err := reg.RegisterBlock(noopBlockCallback, WithStartBlock(10), WithEndBlock(5))
	require.Error(t, err)
	assert.Equal(t, ErrInvalidListenerRange, errors.Cause(err))
}

func TestRangeBoundDefaults(t *testing.T) {
	reg := New()

	_, err := reg.RegisterBlock(noopBlockCallback, WithEndBlock(10))
	require.NoError(t, err)
	block, _, _ := reg.Snapshot()
	require.Len(t, block, 1)
	assert.True(t, block[0].UnregisterOnEnd)

	reg2 := New()
	_, err = reg2.RegisterBlock(noopBlockCallback, WithEndBlock(10), WithUnregister(false))
	require.NoError(t, err)
	block, _, _ = reg2.Snapshot()
	require.Len(t, block, 1)
	assert.False(t, block[0].UnregisterOnEnd)
}

func TestRegistrationInRange(t *testing.T) {
	reg := Registration{StartBlock: 5, EndBlock: 10, HasStart: true, HasEnd: true}

	assert.False(t, reg.InRange(4))
	assert.True(t, reg.InRange(5))
	assert.True(t, reg.InRange(10))
	assert.False(t, reg.InRange(11))
	assert.True(t, reg.EndsAt(10))
	assert.False(t, reg.EndsAt(9))
	assert.True(t, reg.RangeBound())

	unbounded := Registration{}
	assert.True(t, unbounded.InRange(0))
	assert.True(t, unbounded.InRange(100))
	assert.False(t, unbounded.EndsAt(100))
	assert.False(t, unbounded.RangeBound())
}

func TestClear(t *testing.T) {
	reg := New()

	id1, err := reg.RegisterBlock(noopBlockCallback)
	require.NoError(t, err)
	id2, err := reg.RegisterTx("txid1", noopTxCallback)
	require.NoError(t, err)
	id3, err := reg.RegisterChaincode("cc1", "event.*", noopCCCallback)
	require.NoError(t, err)

	all := reg.Clear()
	require.Len(t, all, 3)
	assert.Equal(t, []ID{id1, id2, id3}, []ID{all[0].ID, all[1].ID, all[2].ID})

	assert.Zero(t, reg.Len())
	assert.False(t, reg.HasBlockListeners())
	assert.False(t, reg.HasTxListeners())
	assert.False(t, reg.HasCCListeners())

	// idempotent
	assert.Empty(t, reg.Clear())
}

func TestTxListeners(t *testing.T) {
	reg := New()

	_, err := reg.RegisterTx("txid1", noopTxCallback)
	require.NoError(t, err)
	_, err = reg.RegisterTx(AllTransactions, noopTxCallback)
	require.NoError(t, err)

	specific, all := reg.TxListeners("txid1")
	require.NotNil(t, specific)
	assert.Equal(t, "txid1", specific.TxID)
	require.Len(t, all, 1)

	specific, all = reg.TxListeners("unknown")
	assert.Nil(t, specific)
	require.Len(t, all, 1)
}
