/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package registry

// Opt is a per-registration option
type Opt func(reg *Registration)

// WithStartBlock sets the first block number for which the listener is
// notified
func WithStartBlock(blockNum uint64) Opt {
	return func(reg *Registration) {
		reg.StartBlock = blockNum
		reg.HasStart = true
	}
}

// WithEndBlock sets the last block number for which the listener is
// notified. The listener receives a terminal end-of-range notification when
// a block with this number is dispatched.
func WithEndBlock(blockNum uint64) Opt {
	return func(reg *Registration) {
		reg.EndBlock = blockNum
		reg.HasEnd = true
	}
}

// WithUnregister overrides the kind-specific auto-unregister default: it
// controls both removal after a match and removal after the end-of-range
// notification.
func WithUnregister(value bool) Opt {
	return func(reg *Registration) {
		reg.UnregisterOnMatch = value
		reg.UnregisterOnEnd = value
		reg.unregisterExplicit = true
	}
}

// WithDisconnect tears the stream down when the listener's end block is
// reached
func WithDisconnect(value bool) Opt {
	return func(reg *Registration) {
		reg.DisconnectOnEnd = value
	}
}

// WithBatch delivers all chaincode events matched in a block in a single
// callback invocation. Only meaningful for chaincode registrations.
func WithBatch() Opt {
	return func(reg *Registration) {
		reg.Batch = true
	}
}

func applyOpts(reg *Registration, opts []Opt) {
	for _, opt := range opts {
		opt(reg)
	}
}
