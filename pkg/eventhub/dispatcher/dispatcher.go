/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispatcher walks classified blocks and invokes matching listeners.
// For a single delivered block the processing order is: block listeners in
// registration order, then transaction listeners per transaction in block
// order (specific-id match before "all" match), then chaincode listeners
// with matches collected across the whole block and delivered once per
// listener. Listener failures are isolated: a callback that panics is logged
// and never aborts dispatch to the remaining listeners.
package dispatcher

import (
	"math"
	"sync/atomic"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/securekey/fabric-eventhub/pkg/common/logging"
	"github.com/securekey/fabric-eventhub/pkg/common/options"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/classifier"
	"github.com/securekey/fabric-eventhub/pkg/eventhub/registry"
)

var logger = logging.NewLogger("eventhub/dispatcher")

// ErrRangeComplete is the teardown reason used when a listener configured
// with disconnect-on-end reaches its end block.
var ErrRangeComplete = errors.New("listener replay range complete")

// Dispatcher fans classified blocks out to the registered listeners.
// The lastBlockNum member MUST be first to ensure it stays 64-bit aligned
// on 32-bit machines.
type Dispatcher struct {
	lastBlockNum uint64 // Must be first, do not move
	params
	registry     *registry.Registry
	onDisconnect func(reason error)
}

// New returns a Dispatcher over the given registry
func New(reg *registry.Registry, opts ...options.Opt) *Dispatcher {
	params := defaultParams()
	options.Apply(params, opts)

	return &Dispatcher{
		params:       *params,
		registry:     reg,
		lastBlockNum: math.MaxUint64,
	}
}

// SetDisconnectHandler sets the function invoked when a dispatched block
// triggers an auto-disconnect. Must be called before the first dispatch.
func (d *Dispatcher) SetDisconnectHandler(handler func(reason error)) {
	d.onDisconnect = handler
}

// LastBlockNum returns the block number of the last block for which an
// event was received. The second return value is false if no block has been
// received yet.
func (d *Dispatcher) LastBlockNum() (uint64, bool) {
	num := atomic.LoadUint64(&d.lastBlockNum)
	return num, num != math.MaxUint64
}

// Dispatch delivers a classified block to all matching listeners. Status
// messages are handled by the session and are a no-op here.
func (d *Dispatcher) Dispatch(delivered classifier.Delivered, sourceURL string) {
	switch block := delivered.(type) {
	case *classifier.FullBlock:
		d.dispatchBlock(block.Number, blockContent{full: block.Block}, block.Transactions, sourceURL)
	case *classifier.FilteredBlock:
		d.dispatchBlock(block.Number, blockContent{filtered: block.Block}, block.Transactions, sourceURL)
	case *classifier.Status:
		logger.Debugf("ignoring status message [%s] in dispatch", block.Status)
	}
}

// CloseAll delivers the given error to every still-registered listener's
// callback and clears the registry. Safe to invoke repeatedly during
// overlapping teardown attempts; listeners registered at the moment of the
// first invocation are notified exactly once.
func (d *Dispatcher) CloseAll(err error) {
	regs := d.registry.Clear()
	if len(regs) == 0 {
		return
	}

	logger.Debugf("notifying %d listener(s) of closure: %s", len(regs), err)

	for _, reg := range regs {
		switch reg.Kind {
		case registry.KindBlock:
			d.invokeBlock(reg, nil, err)
		case registry.KindTx:
			d.invokeTx(reg, nil, err)
		case registry.KindChaincode:
			d.invokeCC(reg, nil, err)
		}
	}
}

type dispatchPass struct {
	num         uint64
	sourceURL   string
	remove      []*registry.Registration
	disconnect  bool
	endNotified map[*registry.Registration]bool
}

// blockContent carries the detail-level specific block representation; at
// most one member is set
type blockContent struct {
	full     *cb.Block
	filtered *pb.FilteredBlock
}

func (d *Dispatcher) dispatchBlock(num uint64, content blockContent, transactions []classifier.TxInfo, sourceURL string) {
	if err := d.updateLastBlockNum(num); err != nil {
		logger.Error(err.Error())
		return
	}

	d.metrics.BlocksReceived.Add(1)

	blockRegs, txRegs, ccRegs := d.registry.Snapshot()
	if len(blockRegs) == 0 && len(txRegs) == 0 && len(ccRegs) == 0 {
		return
	}

	pass := &dispatchPass{
		num:         num,
		sourceURL:   sourceURL,
		endNotified: make(map[*registry.Registration]bool),
	}

	d.dispatchToBlockListeners(pass, blockRegs, content)
	d.dispatchToTxListeners(pass, txRegs, transactions)
	d.dispatchToCCListeners(pass, ccRegs, transactions)

	for _, reg := range pass.remove {
		d.registry.Remove(reg)
	}

	if pass.disconnect && d.onDisconnect != nil {
		d.onDisconnect(ErrRangeComplete)
	}
}

func (d *Dispatcher) dispatchToBlockListeners(pass *dispatchPass, regs []*registry.Registration, content blockContent) {
	for _, reg := range regs {
		if !reg.InRange(pass.num) {
			continue
		}

		event := &api.BlockEvent{
			BlockNumber:   pass.num,
			Block:         content.full,
			FilteredBlock: content.filtered,
			SourceURL:     pass.sourceURL,
			EndOfRange:    reg.EndsAt(pass.num),
		}

		d.invokeBlock(reg, event, nil)
		pass.endNotified[reg] = event.EndOfRange
		d.afterMatch(pass, reg, true)
	}
	d.finishEndOfRange(pass, regs, registry.KindBlock)
}

func (d *Dispatcher) dispatchToTxListeners(pass *dispatchPass, regs []*registry.Registration, transactions []classifier.TxInfo) {
	if len(regs) == 0 {
		return
	}

	matched := make(map[*registry.Registration]bool)

	for _, tx := range transactions {
		if tx.TxID == "" {
			continue
		}

		// specific-id listeners match before "all" listeners
		for _, reg := range regs {
			if reg.TxID != tx.TxID || !reg.InRange(pass.num) {
				continue
			}
			d.notifyTx(pass, reg, tx)
			matched[reg] = true
		}
		for _, reg := range regs {
			if reg.TxID != registry.AllTransactions || !reg.InRange(pass.num) {
				continue
			}
			d.notifyTx(pass, reg, tx)
			matched[reg] = true
		}
	}

	for _, reg := range regs {
		d.afterMatch(pass, reg, matched[reg])
	}
	d.finishEndOfRange(pass, regs, registry.KindTx)
}

func (d *Dispatcher) notifyTx(pass *dispatchPass, reg *registry.Registration, tx classifier.TxInfo) {
	event := &api.TxStatusEvent{
		TxID:             tx.TxID,
		TxValidationCode: tx.TxValidationCode,
		BlockNumber:      pass.num,
		SourceURL:        pass.sourceURL,
		EndOfRange:       reg.EndsAt(pass.num),
	}
	d.invokeTx(reg, event, nil)
	if event.EndOfRange {
		pass.endNotified[reg] = true
	}
}

func (d *Dispatcher) dispatchToCCListeners(pass *dispatchPass, regs []*registry.Registration, transactions []classifier.TxInfo) {
	if len(regs) == 0 {
		return
	}

	// collect all matching (listener, event) pairs across the whole block
	// first, grouped by listener, preserving block order
	matches := make(map[*registry.Registration][]*api.CCEvent)

	for _, tx := range transactions {
		// only committed transactions produce chaincode events
		if tx.TxValidationCode != pb.TxValidationCode_VALID {
			continue
		}
		for _, ccEvent := range tx.CCEvents {
			for _, reg := range regs {
				if !reg.InRange(pass.num) {
					continue
				}
				if reg.ChaincodeID != ccEvent.ChaincodeId || !reg.EventRegExp.MatchString(ccEvent.EventName) {
					continue
				}
				matches[reg] = append(matches[reg], &api.CCEvent{
					ChaincodeID: ccEvent.ChaincodeId,
					EventName:   ccEvent.EventName,
					TxID:        tx.TxID,
					Payload:     ccEvent.Payload,
					BlockNumber: pass.num,
					SourceURL:   pass.sourceURL,
					EndOfRange:  reg.EndsAt(pass.num),
				})
			}
		}
	}

	for _, reg := range regs {
		events := matches[reg]
		if len(events) > 0 {
			if reg.Batch {
				d.invokeCC(reg, events, nil)
			} else {
				for _, event := range events {
					d.invokeCC(reg, []*api.CCEvent{event}, nil)
				}
			}
			if reg.EndsAt(pass.num) {
				pass.endNotified[reg] = true
			}
		}
		d.afterMatch(pass, reg, len(events) > 0)
	}
	d.finishEndOfRange(pass, regs, registry.KindChaincode)
}

// afterMatch applies the auto-unregister and auto-disconnect rules for a
// listener once its notifications for the current block have been delivered
func (d *Dispatcher) afterMatch(pass *dispatchPass, reg *registry.Registration, matched bool) {
	remove := matched && reg.UnregisterOnMatch
	if reg.EndsAt(pass.num) {
		remove = remove || reg.UnregisterOnEnd
		if reg.DisconnectOnEnd {
			pass.disconnect = true
		}
	}
	if remove {
		pass.remove = append(pass.remove, reg)
	}
}

// finishEndOfRange sends the terminal end-of-range notification to listeners
// whose end bound equals the current block but that did not otherwise match.
// Replay-bounded listeners always receive a terminal signal rather than
// silently going quiet.
func (d *Dispatcher) finishEndOfRange(pass *dispatchPass, regs []*registry.Registration, kind registry.Kind) {
	for _, reg := range regs {
		if !reg.EndsAt(pass.num) || pass.endNotified[reg] {
			continue
		}
		pass.endNotified[reg] = true

		switch kind {
		case registry.KindBlock:
			d.invokeBlock(reg, &api.BlockEvent{BlockNumber: pass.num, SourceURL: pass.sourceURL, EndOfRange: true}, nil)
		case registry.KindTx:
			d.invokeTx(reg, &api.TxStatusEvent{TxID: reg.TxID, BlockNumber: pass.num, SourceURL: pass.sourceURL, EndOfRange: true}, nil)
		case registry.KindChaincode:
			d.invokeCC(reg, []*api.CCEvent{{BlockNumber: pass.num, SourceURL: pass.sourceURL, EndOfRange: true}}, nil)
		}
	}
}

func (d *Dispatcher) invokeBlock(reg *registry.Registration, event *api.BlockEvent, err error) {
	defer d.recoverInvoke(reg)
	reg.BlockCallback(event, err)
	d.metrics.EventsDispatched.Add(1)
}

func (d *Dispatcher) invokeTx(reg *registry.Registration, event *api.TxStatusEvent, err error) {
	defer d.recoverInvoke(reg)
	reg.TxCallback(event, err)
	d.metrics.EventsDispatched.Add(1)
}

func (d *Dispatcher) invokeCC(reg *registry.Registration, events []*api.CCEvent, err error) {
	defer d.recoverInvoke(reg)
	reg.CCCallback(events, err)
	d.metrics.EventsDispatched.Add(1)
}

func (d *Dispatcher) recoverInvoke(reg *registry.Registration) {
	if p := recover(); p != nil {
		d.metrics.DispatchFailures.Add(1)
		logger.Errorf("listener callback for registration %d panicked: %s", reg.ID, p)
	}
}

// updateLastBlockNum updates the value of lastBlockNum. The delivery
// service shouldn't be sending blocks out of order; an error is returned if
// that is detected.
func (d *Dispatcher) updateLastBlockNum(blockNum uint64) error {
	lastBlockNum := atomic.LoadUint64(&d.lastBlockNum)
	if lastBlockNum == math.MaxUint64 || blockNum > lastBlockNum {
		atomic.StoreUint64(&d.lastBlockNum, blockNum)
		logger.Debugf("updated last block received to %d", blockNum)
		return nil
	}
	return errors.Errorf("expecting a block number greater than %d but received block number %d", lastBlockNum, blockNum)
}
