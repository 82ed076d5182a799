/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package classifier

import (
	"strconv"

	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// CodeName returns the display string for a transaction validation code.
// The mapping is the statically generated enum table; unknown codes are
// rendered numerically.
func CodeName(code pb.TxValidationCode) string {
	if name, ok := pb.TxValidationCode_name[int32(code)]; ok {
		return name
	}
	return strconv.Itoa(int(code))
}

// CodeFromName returns the transaction validation code for a display string
func CodeFromName(name string) (pb.TxValidationCode, bool) {
	code, ok := pb.TxValidationCode_value[name]
	return pb.TxValidationCode(code), ok
}
