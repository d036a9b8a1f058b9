// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package signature

import (
	"bytes"
	"context"
	"math/big"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/hashing"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
)

const (
	FlatLength     = 65
	personalPrefix = "\x19Ethereum Signed Message:\n32"
)

// Signature is the expanded form used in wallet and operator seals.
type Signature struct {
	R ethtypes.HexBytes0xPrefix `json:"r"`
	S ethtypes.HexBytes0xPrefix `json:"s"`
	V uint8                     `json:"v"`
}

// SignatureError is a malformed signature or one that cannot be recovered.
type SignatureError struct {
	err error
}

func (e *SignatureError) Error() string {
	return e.err.Error()
}

func (e *SignatureError) Unwrap() error {
	return e.err
}

func signatureError(ctx context.Context, key i18n.ErrorMessageKey, inserts ...interface{}) error {
	return &SignatureError{err: i18n.NewError(ctx, key, inserts...)}
}

// Expand splits a 65 byte r|s|v signature. A recovery id of 0 or 1 is
// normalized to 27 or 28.
func Expand(ctx context.Context, flat []byte) (*Signature, error) {
	if len(flat) != FlatLength {
		return nil, signatureError(ctx, msgs.MsgSignatureInvalidLength, len(flat))
	}
	v := flat[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return nil, signatureError(ctx, msgs.MsgSignatureInvalidV, flat[64])
	}
	return &Signature{
		R: append(ethtypes.HexBytes0xPrefix{}, flat[0:32]...),
		S: append(ethtypes.HexBytes0xPrefix{}, flat[32:64]...),
		V: v,
	}, nil
}

// Flatten is the inverse of Expand.
func (s *Signature) Flatten() []byte {
	flat := make([]byte, FlatLength)
	copy(flat[32-len(s.R):32], s.R)
	copy(flat[64-len(s.S):64], s.S)
	flat[64] = s.V
	return flat
}

func (s *Signature) String() string {
	return ethtypes.HexBytes0xPrefix(s.Flatten()).String()
}

func (s *Signature) Equals(s2 *Signature) bool {
	if s == nil || s2 == nil {
		return s == s2
	}
	return bytes.Equal(s.Flatten(), s2.Flatten())
}

// PrefixedHash applies the "Ethereum Signed Message" transform to a 32 byte hash.
func PrefixedHash(messageHash []byte) []byte {
	return hashing.Keccak256([]byte(personalPrefix), messageHash)
}

// SignHash signs the prefixed form of a 32 byte message hash.
func SignHash(ctx context.Context, kp *secp256k1.KeyPair, messageHash []byte) (*Signature, error) {
	if len(messageHash) != 32 {
		return nil, signatureError(ctx, msgs.MsgSignatureInvalidHash, len(messageHash))
	}
	sig, err := kp.SignDirect(PrefixedHash(messageHash))
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgWalletSignFailed, kp.Address)
	}
	return Expand(ctx, sig.CompactRSV())
}

// RecoverAddress recovers the signer of a 32 byte message hash, applying the
// same prefix transform as SignHash.
func RecoverAddress(ctx context.Context, messageHash []byte, sig *Signature) (*ethtypes.Address0xHex, error) {
	if sig == nil {
		return nil, signatureError(ctx, msgs.MsgSignatureMissing)
	}
	if len(messageHash) != 32 {
		return nil, signatureError(ctx, msgs.MsgSignatureInvalidHash, len(messageHash))
	}
	if len(sig.R) > 32 || len(sig.S) > 32 {
		return nil, signatureError(ctx, msgs.MsgSignatureInvalidLength, len(sig.R)+len(sig.S)+1)
	}
	if sig.V != 27 && sig.V != 28 && sig.V != 0 && sig.V != 1 {
		return nil, signatureError(ctx, msgs.MsgSignatureInvalidV, sig.V)
	}
	v := int64(sig.V)
	if v < 27 {
		v += 27
	}
	sigData := &secp256k1.SignatureData{
		V: big.NewInt(v),
		R: new(big.Int).SetBytes(sig.R),
		S: new(big.Int).SetBytes(sig.S),
	}
	addr, err := sigData.RecoverDirect(PrefixedHash(messageHash), 0)
	if err != nil {
		return nil, &SignatureError{err: i18n.WrapError(ctx, err, msgs.MsgSignatureRecoverFailed)}
	}
	return addr, nil
}

// IsSignedBy never fails; a malformed or mismatched signature is false.
func IsSignedBy(ctx context.Context, messageHash []byte, sig *Signature, address ethtypes.Address0xHex) bool {
	addr, err := RecoverAddress(ctx, messageHash, sig)
	if err != nil {
		log.L(ctx).Debugf("Signature recovery failed: %s", err)
		return false
	}
	return *addr == address
}
