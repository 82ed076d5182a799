/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package options implements the functional-options pattern shared by every
// configurable component in this module. A component declares an unexported
// params struct with setter methods, and each option probes the params for
// the matching setter interface. A caller may therefore pass any mix of
// options to any component; the ones a component has no setter for are
// ignored.
package options

// Params is a marker for a component's parameter holder
type Params interface{}

// Opt applies a value to any Params holder that accepts it
type Opt func(opts Params)

// Apply applies the given options in order
func Apply(params Params, opts []Opt) {
	for _, opt := range opts {
		opt(params)
	}
}
