/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package seek builds the request that opens a delivery stream: it resolves
// the symbolic bounds of a replay window into concrete seek positions,
// validates the range, and produces the payload that must be signed before
// it becomes a valid envelope.
package seek

import (
	"math"

	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/pkg/errors"
)

// ErrInvalidRange indicates that a replay window was configured with a
// start block greater than its end block.
var ErrInvalidRange = errors.New("replay range start block is greater than end block")

// ErrNoLastSeen indicates that a window requested the last-seen block as its
// start position before any block was observed.
var ErrNoLastSeen = errors.New("last-seen position requested but no block has been received")

type positionType int

const (
	typeUnset positionType = iota
	typeOldest
	typeNewest
	typeLastSeen
	typeSpecified
)

// Position is a symbolic or concrete block position within a replay window
type Position struct {
	ptype  positionType
	number uint64
}

// Oldest is the position of the first block on the ledger
func Oldest() Position {
	return Position{ptype: typeOldest}
}

// Newest is the position of the most recent block on the ledger
func Newest() Position {
	return Position{ptype: typeNewest}
}

// LastSeen resolves to the last block number observed by the hub
func LastSeen() Position {
	return Position{ptype: typeLastSeen}
}

// FromBlock is the position of the block with the given number
func FromBlock(number uint64) Position {
	return Position{ptype: typeSpecified, number: number}
}

// BlockDetail is the level of block detail requested from the delivery
// service
type BlockDetail int

const (
	// Filtered requests blocks reduced to transaction ids, validation codes
	// and chaincode-event stubs without payload
	Filtered BlockDetail = iota
	// Full requests complete blocks
	Full
	// FullWithPrivateData requests complete blocks along with the private
	// data collections visible to this identity
	FullWithPrivateData
)

// Window describes the block range and detail level a stream will request.
// A zero-value End leaves the window unbounded.
type Window struct {
	Start  Position
	End    Position
	Detail BlockDetail
}

// ResolvedWindow is a Window whose symbolic positions have been resolved
// against the hub's last observed block. It carries the wire-level SeekInfo
// plus the end-of-range bookkeeping needed to detect stream completion.
type ResolvedWindow struct {
	Info        *ab.SeekInfo
	Detail      BlockDetail
	EndBlock    uint64
	EndSet      bool
	EndIsNewest bool
}

var (
	oldestPos = &ab.SeekPosition{Type: &ab.SeekPosition_Oldest{Oldest: &ab.SeekOldest{}}}
	newestPos = &ab.SeekPosition{Type: &ab.SeekPosition_Newest{Newest: &ab.SeekNewest{}}}
	maxPos    = &ab.SeekPosition{Type: &ab.SeekPosition_Specified{Specified: &ab.SeekSpecified{Number: math.MaxUint64}}}
)

// Resolve validates the window and resolves its symbolic positions.
// lastSeen is the hub's last observed block number; haveLastSeen is false if
// no block has been observed yet.
//
// The seek behavior encodes the missing-block policy: an unbounded window or
// a window ending at the newest sentinel asks the server to block until new
// blocks exist, while an explicit numeric end asks the server to fail
// immediately for blocks that do not exist.
func Resolve(w Window, lastSeen uint64, haveLastSeen bool) (*ResolvedWindow, error) {
	start, startNum, startConcrete, err := resolvePosition(w.Start, lastSeen, haveLastSeen)
	if err != nil {
		return nil, errors.WithMessage(err, "error resolving start position")
	}
	if start == nil {
		// an unset start means the most recent block
		start = newestPos
		startConcrete = false
	}

	resolved := &ResolvedWindow{Detail: w.Detail}

	switch w.End.ptype {
	case typeUnset:
		resolved.Info = newSeekInfo(start, maxPos, ab.SeekInfo_BLOCK_UNTIL_READY)
	case typeNewest:
		resolved.EndIsNewest = true
		resolved.Info = newSeekInfo(start, newestPos, ab.SeekInfo_BLOCK_UNTIL_READY)
	default:
		end, endNum, endConcrete, err := resolvePosition(w.End, lastSeen, haveLastSeen)
		if err != nil {
			return nil, errors.WithMessage(err, "error resolving end position")
		}
		if startConcrete && endConcrete && startNum > endNum {
			return nil, errors.WithMessagef(ErrInvalidRange, "start %d, end %d", startNum, endNum)
		}
		if endConcrete {
			resolved.EndBlock = endNum
			resolved.EndSet = true
		}
		resolved.Info = newSeekInfo(start, end, ab.SeekInfo_FAIL_IF_NOT_READY)
	}

	return resolved, nil
}

func resolvePosition(p Position, lastSeen uint64, haveLastSeen bool) (pos *ab.SeekPosition, number uint64, concrete bool, err error) {
	switch p.ptype {
	case typeUnset:
		return nil, 0, false, nil
	case typeOldest:
		return oldestPos, 0, true, nil
	case typeNewest:
		return newestPos, 0, false, nil
	case typeLastSeen:
		if !haveLastSeen {
			return nil, 0, false, ErrNoLastSeen
		}
		return specifiedPos(lastSeen), lastSeen, true, nil
	default:
		return specifiedPos(p.number), p.number, true, nil
	}
}

func specifiedPos(number uint64) *ab.SeekPosition {
	return &ab.SeekPosition{
		Type: &ab.SeekPosition_Specified{
			Specified: &ab.SeekSpecified{
				Number: number,
			},
		},
	}
}

func newSeekInfo(start, stop *ab.SeekPosition, behavior ab.SeekInfo_SeekBehavior) *ab.SeekInfo {
	return &ab.SeekInfo{
		Start:    start,
		Stop:     stop,
		Behavior: behavior,
	}
}
