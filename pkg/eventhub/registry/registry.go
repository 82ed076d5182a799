/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package registry holds the active listener registrations for an event hub.
// Ids are assigned monotonically and never reused for the life of the
// registry; dispatch order follows registration order within each kind.
package registry

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"github.com/securekey/fabric-eventhub/pkg/common/logging"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
)

var logger = logging.NewLogger("eventhub/registry")

// ErrDuplicateRegistration indicates that a transaction listener is already
// registered for the given transaction ID.
var ErrDuplicateRegistration = errors.New("a registration already exists for the given transaction ID")

// ErrNotFound indicates that no registration exists for the given id.
var ErrNotFound = errors.New("registration not found")

// ErrRangeRegistrationExists indicates that a range-bound registration
// already exists. Exactly one registration may drive the session's replay
// window; additional non-range-bound registrations remain permitted.
var ErrRangeRegistrationExists = errors.New("a range-bound registration already exists")

// ErrInvalidListenerRange indicates that a listener was registered with a
// start block greater than its end block.
var ErrInvalidListenerRange = errors.New("listener start block is greater than end block")

// AllTransactions is the match key that matches every transaction
const AllTransactions = "all"

// ID identifies a registration within a registry
type ID uint64

// Kind is the kind of listener registration
type Kind int

const (
	// KindBlock receives every delivered block
	KindBlock Kind = iota
	// KindTx receives transaction status events
	KindTx
	// KindChaincode receives chaincode events
	KindChaincode
)

// Registration is one listener binding
type Registration struct {
	ID   ID
	Kind Kind

	// match keys
	TxID        string
	ChaincodeID string
	EventFilter string
	EventRegExp *regexp.Regexp

	// per-listener filtering bounds, distinct from the stream-level
	// replay range
	StartBlock uint64
	EndBlock   uint64
	HasStart   bool
	HasEnd     bool

	// UnregisterOnMatch removes the registration after the first match
	UnregisterOnMatch bool
	// UnregisterOnEnd removes the registration after its end-of-range
	// notification
	UnregisterOnEnd bool
	// DisconnectOnEnd tears the stream down when the registration's
	// end block is reached
	DisconnectOnEnd bool
	// Batch delivers all chaincode events matched in a block in a single
	// callback invocation instead of one invocation per event
	Batch bool

	BlockCallback api.BlockCallback
	TxCallback    api.TxStatusCallback
	CCCallback    api.CCCallback

	// unregisterExplicit records that the caller set the unregister
	// behavior, suppressing the kind-specific defaults
	unregisterExplicit bool
}

// InRange returns true if the given block number falls within the
// registration's filtering bounds
func (r *Registration) InRange(blockNum uint64) bool {
	if r.HasStart && blockNum < r.StartBlock {
		return false
	}
	if r.HasEnd && blockNum > r.EndBlock {
		return false
	}
	return true
}

// EndsAt returns true if the registration's end bound equals the given
// block number
func (r *Registration) EndsAt(blockNum uint64) bool {
	return r.HasEnd && r.EndBlock == blockNum
}

// RangeBound returns true if the registration carries replay bounds
func (r *Registration) RangeBound() bool {
	return r.HasStart || r.HasEnd
}

// Registry is the arena of active registrations. All access is guarded by a
// single mutex so that registration and unregistration are safe to call from
// within a listener callback: mutations take effect on the next dispatched
// block, never retroactively for the block currently mid-dispatch.
type Registry struct {
	mutex     sync.RWMutex
	lastID    ID
	blockRegs []*Registration
	txRegs    []*Registration
	ccRegs    []*Registration
	txByID    map[string]*Registration

	// "any listener of this kind" flags, recomputed on every unregister.
	// These let the dispatcher skip block scanning when no listener of a
	// kind is present; they are conservative and never false-negative.
	hasBlock bool
	hasTx    bool
	hasCC    bool

	rangeBound int
}

// New returns an empty Registry
func New() *Registry {
	return &Registry{
		txByID: make(map[string]*Registration),
	}
}

// RegisterBlock adds a block listener and returns its id
func (r *Registry) RegisterBlock(callback api.BlockCallback, opts ...Opt) (ID, error) {
	if callback == nil {
		return 0, errors.New("callback is required")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	reg := r.newRegistration(KindBlock, opts)
	reg.BlockCallback = callback

	if err := r.checkRange(reg); err != nil {
		return 0, err
	}

	r.blockRegs = append(r.blockRegs, reg)
	r.hasBlock = true
	return reg.ID, nil
}

// RegisterTx adds a transaction listener for the given transaction ID, or
// for all transactions if txID is AllTransactions. A second registration for
// a specific transaction ID that is already registered fails with
// ErrDuplicateRegistration; multiple AllTransactions registrations are
// permitted alongside specific-id registrations.
func (r *Registry) RegisterTx(txID string, callback api.TxStatusCallback, opts ...Opt) (ID, error) {
	if txID == "" {
		return 0, errors.New("transaction ID is required")
	}
	if callback == nil {
		return 0, errors.New("callback is required")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if txID != AllTransactions {
		if _, exists := r.txByID[txID]; exists {
			return 0, errors.WithMessagef(ErrDuplicateRegistration, "transaction ID [%s]", txID)
		}
	}

	reg := r.newRegistration(KindTx, opts)
	reg.TxID = txID
	reg.TxCallback = callback

	// specific-id transaction listeners are one-shot unless overridden
	if txID != AllTransactions && !reg.unregisterExplicit {
		reg.UnregisterOnMatch = true
	}

	if err := r.checkRange(reg); err != nil {
		return 0, err
	}

	r.txRegs = append(r.txRegs, reg)
	if txID != AllTransactions {
		r.txByID[txID] = reg
	}
	r.hasTx = true
	return reg.ID, nil
}

// RegisterChaincode adds a chaincode-event listener for the given chaincode
// ID and event-name pattern
func (r *Registry) RegisterChaincode(ccID, eventFilter string, callback api.CCCallback, opts ...Opt) (ID, error) {
	if ccID == "" {
		return 0, errors.New("chaincode ID is required")
	}
	if eventFilter == "" {
		return 0, errors.New("event filter is required")
	}
	if callback == nil {
		return 0, errors.New("callback is required")
	}

	regExp, err := regexp.Compile(eventFilter)
	if err != nil {
		return 0, errors.Wrapf(err, "error compiling regular expression for event filter [%s]", eventFilter)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	reg := r.newRegistration(KindChaincode, opts)
	reg.ChaincodeID = ccID
	reg.EventFilter = eventFilter
	reg.EventRegExp = regExp
	reg.CCCallback = callback

	if err := r.checkRange(reg); err != nil {
		return 0, err
	}

	r.ccRegs = append(r.ccRegs, reg)
	r.hasCC = true
	return reg.ID, nil
}

// Unregister removes the registration with the given id. Removing an
// unknown id is a no-op.
func (r *Registry) Unregister(id ID) {
	if err := r.UnregisterStrict(id); err != nil {
		logger.Debugf("unregister of id %d was a no-op: %s", id, err)
	}
}

// UnregisterStrict removes the registration with the given id, failing with
// ErrNotFound if it does not exist.
func (r *Registry) UnregisterStrict(id ID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reg := r.removeByID(id)
	if reg == nil {
		return errors.WithMessagef(ErrNotFound, "id %d", id)
	}
	return nil
}

// Remove removes the given registration. Used by the dispatcher for
// auto-unregistration.
func (r *Registry) Remove(reg *Registration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.removeByID(reg.ID)
}

// HasBlockListeners returns true if at least one block listener may be
// registered
func (r *Registry) HasBlockListeners() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.hasBlock
}

// HasTxListeners returns true if at least one transaction listener may be
// registered
func (r *Registry) HasTxListeners() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.hasTx
}

// HasCCListeners returns true if at least one chaincode listener may be
// registered
func (r *Registry) HasCCListeners() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.hasCC
}

// Snapshot returns copies of the registration lists in registration order.
// The dispatcher walks the snapshot so that mutations from within listener
// callbacks take effect on the next block.
func (r *Registry) Snapshot() (block, tx, cc []*Registration) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	block = append(block, r.blockRegs...)
	tx = append(tx, r.txRegs...)
	cc = append(cc, r.ccRegs...)
	return block, tx, cc
}

// TxListeners returns the specific-id listener for the given transaction ID
// (nil if none) followed by the AllTransactions listeners in registration
// order.
func (r *Registry) TxListeners(txID string) (specific *Registration, all []*Registration) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	specific = r.txByID[txID]
	for _, reg := range r.txRegs {
		if reg.TxID == AllTransactions {
			all = append(all, reg)
		}
	}
	return specific, all
}

// Clear removes all registrations and returns them in registration order
// across kinds (block, then transaction, then chaincode).
func (r *Registry) Clear() []*Registration {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var all []*Registration
	all = append(all, r.blockRegs...)
	all = append(all, r.txRegs...)
	all = append(all, r.ccRegs...)

	r.blockRegs = nil
	r.txRegs = nil
	r.ccRegs = nil
	r.txByID = make(map[string]*Registration)
	r.rangeBound = 0
	r.recomputeFlags()

	return all
}

// Len returns the total number of active registrations
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.blockRegs) + len(r.txRegs) + len(r.ccRegs)
}

func (r *Registry) newRegistration(kind Kind, opts []Opt) *Registration {
	r.lastID++
	reg := &Registration{
		ID:   r.lastID,
		Kind: kind,
	}
	applyOpts(reg, opts)

	// replay-bounded listeners always receive a terminal notification and
	// are removed afterwards unless explicitly configured otherwise
	if reg.HasEnd && !reg.unregisterExplicit {
		reg.UnregisterOnEnd = true
	}
	return reg
}

func (r *Registry) checkRange(reg *Registration) error {
	if !reg.RangeBound() {
		return nil
	}
	if reg.HasStart && reg.HasEnd && reg.StartBlock > reg.EndBlock {
		return errors.WithMessagef(ErrInvalidListenerRange, "start %d, end %d", reg.StartBlock, reg.EndBlock)
	}
	if r.rangeBound > 0 {
		return ErrRangeRegistrationExists
	}
	r.rangeBound++
	return nil
}

func (r *Registry) removeByID(id ID) *Registration {
	if reg := removeFrom(&r.blockRegs, id); reg != nil {
		r.afterRemove(reg)
		return reg
	}
	if reg := removeFrom(&r.txRegs, id); reg != nil {
		if reg.TxID != AllTransactions {
			delete(r.txByID, reg.TxID)
		}
		r.afterRemove(reg)
		return reg
	}
	if reg := removeFrom(&r.ccRegs, id); reg != nil {
		r.afterRemove(reg)
		return reg
	}
	return nil
}

func (r *Registry) afterRemove(reg *Registration) {
	if reg.RangeBound() && r.rangeBound > 0 {
		r.rangeBound--
	}
	r.recomputeFlags()
}

func (r *Registry) recomputeFlags() {
	r.hasBlock = len(r.blockRegs) > 0
	r.hasTx = len(r.txRegs) > 0
	r.hasCC = len(r.ccRegs) > 0
}

func removeFrom(regs *[]*Registration, id ID) *Registration {
	for i, reg := range *regs {
		if reg.ID == id {
			*regs = append((*regs)[:i], (*regs)[i+1:]...)
			return reg
		}
	}
	return nil
}
