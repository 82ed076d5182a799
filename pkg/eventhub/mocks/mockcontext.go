/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mocks provides mock implementations of the event hub's
// collaborators for unit testing.
package mocks

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// MockContext is a mock identity/signing context
type MockContext struct {
	Creator      []byte
	SerializeErr error
	SignErr      error
	TxIDErr      error
	txCounter    uint64
}

// NewMockContext returns a new MockContext with a default creator identity
func NewMockContext() *MockContext {
	return &MockContext{
		Creator: []byte("creator"),
	}
}

// Serialize returns the creator identity bytes
func (c *MockContext) Serialize() ([]byte, error) {
	if c.SerializeErr != nil {
		return nil, c.SerializeErr
	}
	return c.Creator, nil
}

// Sign returns a mock signature over the given message
func (c *MockContext) Sign(msg []byte) ([]byte, error) {
	if c.SignErr != nil {
		return nil, c.SignErr
	}
	if len(msg) == 0 {
		return nil, errors.New("nothing to sign")
	}
	return append([]byte("signature:"), msg[:8]...), nil
}

// CreateTransactionID returns a sequential mock transaction ID and nonce
func (c *MockContext) CreateTransactionID() (string, []byte, error) {
	if c.TxIDErr != nil {
		return "", nil, c.TxIDErr
	}
	n := atomic.AddUint64(&c.txCounter, 1)
	return fmt.Sprintf("txid_%d", n), []byte(fmt.Sprintf("nonce_%d", n)), nil
}
