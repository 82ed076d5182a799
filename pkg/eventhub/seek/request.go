/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package seek

import (
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"

	"github.com/securekey/fabric-eventhub/pkg/eventhub/api"
)

// ErrNotSigned indicates that an envelope was requested from a request whose
// payload has not been signed.
var ErrNotSigned = errors.New("seek request has not been signed")

// Request is a seek request. NewRequest produces the unsigned payload;
// Sign must be invoked before the request yields a valid envelope.
type Request struct {
	TxID      string
	Payload   []byte
	Signature []byte
	Window    *ResolvedWindow
}

// NewRequest builds the unsigned seek payload for the given resolved window.
// tlsCertHash may be nil when mutual TLS is not in use.
func NewRequest(context api.Context, channelID string, window *ResolvedWindow, tlsCertHash []byte) (*Request, error) {
	if channelID == "" {
		return nil, errors.New("channel ID is required")
	}
	if window == nil {
		return nil, errors.New("window is required")
	}

	data, err := proto.Marshal(window.Info)
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling seek info")
	}

	txID, nonce, err := context.CreateTransactionID()
	if err != nil {
		return nil, errors.WithMessage(err, "error creating transaction ID")
	}

	creator, err := context.Serialize()
	if err != nil {
		return nil, errors.WithMessage(err, "error serializing creator identity")
	}

	channelHeader, err := proto.Marshal(&cb.ChannelHeader{
		Type:        int32(cb.HeaderType_DELIVER_SEEK_INFO),
		ChannelId:   channelID,
		TxId:        txID,
		Timestamp:   ptypes.TimestampNow(),
		TlsCertHash: tlsCertHash,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling channel header")
	}

	signatureHeader, err := proto.Marshal(&cb.SignatureHeader{
		Creator: creator,
		Nonce:   nonce,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling signature header")
	}

	payload, err := proto.Marshal(&cb.Payload{
		Header: &cb.Header{
			ChannelHeader:   channelHeader,
			SignatureHeader: signatureHeader,
		},
		Data: data,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling payload")
	}

	return &Request{
		TxID:    txID,
		Payload: payload,
		Window:  window,
	}, nil
}

// Sign signs the request payload using the given context
func (r *Request) Sign(context api.Context) error {
	signature, err := context.Sign(r.Payload)
	if err != nil {
		return errors.WithMessage(err, "error signing seek payload")
	}
	r.Signature = signature
	return nil
}

// Envelope returns the signed envelope for the request
func (r *Request) Envelope() (*cb.Envelope, error) {
	if len(r.Signature) == 0 {
		return nil, ErrNotSigned
	}
	return &cb.Envelope{
		Payload:   r.Payload,
		Signature: r.Signature,
	}, nil
}
